// Package asset describes the remote media assets that can be downloaded: where their bytes live, and how they are
// encoded.
package asset

import (
	"errors"
	"fmt"
	"strings"

	"github.com/alanbriolat/track-archiver/util"
)

// Manifest MIME types, which discriminate how a Descriptor's URLs should be interpreted.
const (
	ManifestTidalBTS = "application/vnd.tidal.bts"
	ManifestDASH     = "application/dash+xml"
	// ManifestRaw is used for plain URLs that point directly at an audio file.
	ManifestRaw = "raw"
)

// Codec identifiers, as they appear in manifests.
const (
	CodecFLAC = "flac"
	CodecALAC = "alac"
	CodecMP3  = "mp3"
)

var (
	ErrNoURLs            = errors.New("asset has no URLs")
	ErrUnknownManifest   = errors.New("unknown manifest type")
	ErrEncryptedManifest = errors.New("encrypted manifests are not supported")
	ErrMalformedPlayback = errors.New("malformed playback info")
)

// Descriptor identifies a remote media asset. It is treated as immutable once constructed.
type Descriptor struct {
	ID               string
	ManifestMimeType string
	Codec            string
	MimeType         string
	// URLs are fetched in order and concatenated to produce the asset's byte stream.
	URLs []string
}

func (d Descriptor) String() string {
	return fmt.Sprintf("Descriptor{ID:%q, Manifest:%q, Codec:%q, URLs:%d}", d.ID, d.ManifestMimeType, d.Codec, len(d.URLs))
}

// Validate checks the fields needed to actually fetch the asset.
func (d Descriptor) Validate() error {
	if len(d.URLs) == 0 {
		return ErrNoURLs
	}
	switch d.ManifestMimeType {
	case ManifestTidalBTS, ManifestDASH, ManifestRaw:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownManifest, d.ManifestMimeType)
	}
}

// Ext returns the file extension (without a dot) that the downloaded bytes should be saved with.
func (d Descriptor) Ext() string {
	codec := strings.ToLower(d.Codec)
	switch {
	case codec == CodecFLAC && d.ManifestMimeType != ManifestDASH:
		return "flac"
	case codec == CodecMP3:
		return "mp3"
	case codec == CodecFLAC, codec == CodecALAC, strings.HasPrefix(codec, "mp4a"), codec == "aac":
		return "m4a"
	}
	switch strings.ToLower(strings.SplitN(d.MimeType, ";", 2)[0]) {
	case "audio/flac", "audio/x-flac":
		return "flac"
	case "audio/mpeg":
		return "mp3"
	case "audio/mp4", "audio/m4a":
		return "m4a"
	}
	for _, u := range d.URLs {
		if name, err := util.FilenameFromURLString(u); err == nil {
			if ext := util.Extension(name); ext != "" {
				return ext
			}
		}
	}
	return "bin"
}

// DefaultFileName is the file name used when the caller does not supply one.
func (d Descriptor) DefaultFileName() string {
	id := d.ID
	if id == "" {
		id = "track"
	}
	return util.SanitizeFilename(id) + "." + d.Ext()
}

// TagSpec is the metadata to embed into a downloaded asset. A nil *TagSpec means the bytes are written unmodified.
type TagSpec struct {
	Tags     map[string]string
	CoverURL string
}
