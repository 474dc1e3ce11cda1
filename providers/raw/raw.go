// Package raw matches plain http(s) URLs to audio files.
package raw

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/alanbriolat/track-archiver"
	"github.com/alanbriolat/track-archiver/asset"
	"github.com/alanbriolat/track-archiver/generic"
	"github.com/alanbriolat/track-archiver/util"
)

type Config struct {
	Protocols  generic.Set[string]
	Extensions generic.Set[string]
}

func NewConfig() Config {
	return Config{
		Protocols: generic.NewSet(
			"http",
			"https",
		),
		Extensions: generic.NewSet(
			"flac",
			"m4a",
			"mp3",
		),
	}
}

func (c *Config) Match(s string) (track_archiver.Source, error) {
	// Expect string to be a URL
	parsedURL, err := url.Parse(s)
	if err != nil {
		return nil, err
	}
	// Check that scheme/protocol is valid
	if !c.Protocols.Contains(parsedURL.Scheme) {
		return nil, fmt.Errorf("unknown URL scheme %v", parsedURL.Scheme)
	}
	// Attempt to extract filename and extension
	filename, err := util.FilenameFromURL(parsedURL)
	if err != nil {
		return nil, err
	}
	extension := util.Extension(filename)
	if extension == "" {
		return nil, fmt.Errorf("no file extension found")
	}
	if !c.Extensions.Contains(extension) {
		return nil, fmt.Errorf("unknown file extension %v, expected one of %v", extension, generic.SortedStrings(c.Extensions))
	}
	res := source{
		url:       s,
		filename:  filename,
		extension: extension,
	}
	return &res, nil
}

func (c Config) Provider() track_archiver.Provider {
	return track_archiver.Provider{
		Name:  "raw",
		Match: c.Match,
	}
}

type source struct {
	url       string
	filename  string
	extension string
}

func (s *source) String() string {
	return s.url
}

func (s *source) Resolve(ctx context.Context) (asset.Descriptor, error) {
	desc := asset.Descriptor{
		ID:               strings.TrimSuffix(s.filename, path.Ext(s.filename)),
		ManifestMimeType: asset.ManifestRaw,
		URLs:             []string{s.url},
	}
	switch s.extension {
	case "flac":
		desc.Codec = asset.CodecFLAC
		desc.MimeType = "audio/flac"
	case "mp3":
		desc.Codec = asset.CodecMP3
		desc.MimeType = "audio/mpeg"
	case "m4a":
		desc.MimeType = "audio/mp4"
	}
	return desc, nil
}

func init() {
	track_archiver.DefaultProviderRegistry.MustAdd(
		NewConfig().Provider().WithPriority(track_archiver.PriorityLowest),
	)
}
