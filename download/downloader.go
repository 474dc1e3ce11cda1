// Package download streams assets to disk, making sure that only one download is ever writing to a given file.
package download

import (
	"context"
	"errors"
	"io"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/alanbriolat/track-archiver/asset"
	"github.com/alanbriolat/track-archiver/tagging"
)

var ErrInvalidConfig = errors.New("invalid downloader config")

// StreamSource opens the byte stream for an asset. onProgress should be called with cumulative progress as the
// returned stream is read.
type StreamSource interface {
	Open(ctx context.Context, desc asset.Descriptor, onProgress func(Progress)) (io.ReadCloser, error)
}

// Tagger embeds metadata into a stream. Cover must not fail; a cover that can't be fetched is simply nil.
type Tagger interface {
	Cover(ctx context.Context, desc asset.Descriptor, spec *asset.TagSpec) *tagging.Cover
	Wrap(desc asset.Descriptor, stream io.Reader, spec *asset.TagSpec, cover *tagging.Cover) io.Reader
}

// Record describes a completed download.
type Record struct {
	ID               DownloadID
	Key              string
	Path             string
	AssetID          string
	ManifestMimeType string
	Codec            string
	Bytes            int64
	Tagged           bool
	StartedAt        time.Time
	CompletedAt      time.Time
}

// History keeps a record of completed downloads.
type History interface {
	RecordDownload(Record) error
}

type nilHistory struct{}

func (nilHistory) RecordDownload(Record) error {
	return nil
}

// NilHistory discards all records.
var NilHistory History = nilHistory{}

// FileNamer chooses a file name for an asset when the PathSpec doesn't specify one. tagSpec may be nil.
type FileNamer func(desc asset.Descriptor, tagSpec *asset.TagSpec) (string, error)

func defaultFileNamer(desc asset.Descriptor, _ *asset.TagSpec) (string, error) {
	return desc.DefaultFileName(), nil
}

type Config struct {
	Source   StreamSource
	Tagger   Tagger
	Registry *Registry
	History  History
	FileName FileNamer
}

// DefaultConfig returns a Config with everything except Source filled in.
func DefaultConfig() Config {
	return Config{
		Tagger:   tagging.NewInjector(nil),
		Registry: NewRegistry(DefaultProgressInterval),
		History:  NilHistory,
		FileName: defaultFileNamer,
	}
}

// Downloader orchestrates downloads: reserving the destination, streaming through the tagger to disk, and recording
// the result.
type Downloader struct {
	source   StreamSource
	tagger   Tagger
	registry *Registry
	history  History
	fileName FileNamer
	log      *zap.SugaredLogger
}

func New(config Config) (*Downloader, error) {
	if config.Source == nil || config.Tagger == nil || config.Registry == nil {
		return nil, ErrInvalidConfig
	}
	if config.History == nil {
		config.History = NilHistory
	}
	if config.FileName == nil {
		config.FileName = defaultFileNamer
	}
	return &Downloader{
		source:   config.Source,
		tagger:   config.Tagger,
		registry: config.Registry,
		history:  config.History,
		fileName: config.FileName,
		log:      zap.S().Named("downloader"),
	}, nil
}

func (d *Downloader) Registry() *Registry {
	return d.registry
}

// Key returns the destination key that Start would use.
func (d *Downloader) Key(desc asset.Descriptor, pathSpec PathSpec, tagSpec *asset.TagSpec) (string, error) {
	pathSpec, err := d.fillFileName(desc, pathSpec, tagSpec)
	if err != nil {
		return "", err
	}
	return pathSpec.Key()
}

func (d *Downloader) fillFileName(desc asset.Descriptor, pathSpec PathSpec, tagSpec *asset.TagSpec) (PathSpec, error) {
	if pathSpec.FileName != "" {
		return pathSpec, nil
	}
	name, err := d.fileName(desc, tagSpec)
	if err != nil {
		return pathSpec, err
	}
	pathSpec.FileName = name
	return pathSpec, nil
}

// Start downloads desc to the file described by pathSpec, blocking until it is written, skipped or failed. If the
// file already exists nothing is fetched and nil is returned. If another download to the same file is in flight,
// a *DuplicateDownloadError is returned without touching anything. With a nil tagSpec the bytes are written exactly
// as received.
func (d *Downloader) Start(ctx context.Context, desc asset.Descriptor, pathSpec PathSpec, tagSpec *asset.TagSpec) (err error) {
	pathSpec, err = d.fillFileName(desc, pathSpec, tagSpec)
	if err != nil {
		return err
	}
	key, err := pathSpec.Key()
	if err != nil {
		return err
	}
	log := d.log.With("key", key, "asset", desc.ID)

	entry, err := d.registry.Begin(key, key)
	if err != nil {
		log.Debugw("refusing duplicate download", "error", err)
		return err
	}
	defer func() {
		d.registry.End(key, err)
	}()

	path, err := pathSpec.Resolve()
	if err != nil {
		return err
	}
	if err = EnsureFolder(pathSpec.Folder()); err != nil {
		return err
	}
	if exists, err := AlreadyDownloaded(path); err != nil {
		return err
	} else if exists {
		log.Infow("already downloaded, skipping", "path", path)
		return nil
	}

	var stream io.ReadCloser
	var cover *tagging.Cover
	// Not errgroup.WithContext: its context is cancelled when Wait returns, and the stream outlives that. Only the
	// cover fetch is cut short if the stream can't be opened.
	coverCtx, cancelCover := context.WithCancel(ctx)
	defer cancelCover()
	var g errgroup.Group
	g.Go(func() error {
		var err error
		stream, err = d.source.Open(ctx, desc, func(p Progress) {
			d.registry.Update(key, p)
		})
		if err != nil {
			cancelCover()
		}
		return err
	})
	g.Go(func() error {
		cover = d.tagger.Cover(coverCtx, desc, tagSpec)
		return nil
	})
	if err = g.Wait(); err != nil {
		log.Warnw("failed to open stream", "error", err)
		return err
	}
	defer stream.Close()

	log.Infow("downloading", "path", path, "tagged", tagSpec != nil, "cover", cover != nil)
	written, err := writeFile(path, d.tagger.Wrap(desc, stream, tagSpec, cover))
	if err != nil {
		log.Warnw("download failed", "error", err)
		return err
	}
	log.Infow("download complete", "path", path, "bytes", written)

	record := Record{
		ID:               entry.ID,
		Key:              key,
		Path:             path,
		AssetID:          desc.ID,
		ManifestMimeType: desc.ManifestMimeType,
		Codec:            desc.Codec,
		Bytes:            written,
		Tagged:           tagSpec != nil && tagging.FormatOf(desc) != tagging.FormatNone,
		StartedAt:        entry.StartedAt,
		CompletedAt:      time.Now(),
	}
	if historyErr := d.history.RecordDownload(record); historyErr != nil {
		log.Warnw("failed to record download history", "error", historyErr)
	}
	return nil
}

// Progress returns the latest progress of the in-flight download to key, or false if there isn't one.
func (d *Downloader) Progress(key string) (Progress, bool) {
	return d.registry.Lookup(key)
}
