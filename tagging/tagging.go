// Package tagging embeds metadata (tags and cover art) into audio streams as they are downloaded.
package tagging

import (
	"context"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/alanbriolat/track-archiver/asset"
	"github.com/alanbriolat/track-archiver/generic"
)

// Format is the tagging scheme that applies to an asset's byte stream.
type Format int

const (
	// FormatNone means the stream is not in a format we know how to tag, so it is passed through untouched.
	FormatNone Format = iota
	FormatFLAC
)

func (f Format) String() string {
	switch f {
	case FormatFLAC:
		return "FLAC"
	default:
		return "none"
	}
}

// FormatOf decides how an asset's bytes can be tagged. Only streams that are native FLAC files qualify; FLAC inside
// DASH is fragmented MP4 and falls through to FormatNone.
func FormatOf(desc asset.Descriptor) Format {
	if !strings.EqualFold(desc.Codec, asset.CodecFLAC) {
		return FormatNone
	}
	switch desc.ManifestMimeType {
	case asset.ManifestTidalBTS, asset.ManifestRaw:
		return FormatFLAC
	default:
		return FormatNone
	}
}

// CoverFetcher retrieves cover art image bytes.
type CoverFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// TagEmbedError is returned (from Read) when the stream could not be rewritten to include tags, usually because it
// was not actually in the expected format.
type TagEmbedError struct {
	Format Format
	Err    error
}

func (e *TagEmbedError) Error() string {
	return fmt.Sprintf("embedding %v tags: %v", e.Format, e.Err)
}

func (e *TagEmbedError) Unwrap() error {
	return e.Err
}

// Injector wraps download streams so that tags are added in-flight.
type Injector struct {
	fetcher CoverFetcher
	vendor  string
	log     *zap.SugaredLogger
}

// NewInjector creates an Injector that uses fetcher for cover art. fetcher may be nil, in which case cover URLs are
// ignored.
func NewInjector(fetcher CoverFetcher) *Injector {
	return &Injector{
		fetcher: fetcher,
		vendor:  DefaultVendor,
		log:     zap.S().Named("tagging"),
	}
}

// Cover fetches and prepares the cover art for an asset. A missing or broken cover never stops a download, so any
// failure here is logged and results in nil.
func (i *Injector) Cover(ctx context.Context, desc asset.Descriptor, spec *asset.TagSpec) *Cover {
	if spec == nil || spec.CoverURL == "" || i.fetcher == nil {
		return nil
	}
	format := FormatOf(desc)
	if format == FormatNone {
		return nil
	}
	result := generic.NewResult(i.fetchCover(ctx, format, spec.CoverURL))
	if result.IsErr() {
		_, err := result.Parts()
		i.log.Warnw("ignoring cover art", "asset", desc.ID, "url", spec.CoverURL, "error", err)
		return nil
	}
	return result.Unwrap()
}

func (i *Injector) fetchCover(ctx context.Context, format Format, url string) (*Cover, error) {
	data, err := i.fetcher.Fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	return newCover(format, data)
}

// Wrap returns a reader producing stream's bytes with tags embedded. With a nil spec the stream is returned as-is,
// and so is any stream whose format cannot be tagged.
func (i *Injector) Wrap(desc asset.Descriptor, stream io.Reader, spec *asset.TagSpec, cover *Cover) io.Reader {
	if spec == nil {
		return stream
	}
	switch FormatOf(desc) {
	case FormatFLAC:
		return newFLACTagger(stream, i.vendor, spec.Tags, cover)
	default:
		i.log.Debugw("not tagging unsupported format", "asset", desc.ID, "manifest", desc.ManifestMimeType, "codec", desc.Codec)
		return stream
	}
}
