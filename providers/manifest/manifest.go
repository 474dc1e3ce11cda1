// Package manifest matches paths to saved playback info documents.
package manifest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/alanbriolat/track-archiver"
	"github.com/alanbriolat/track-archiver/asset"
)

func Match(s string) (track_archiver.Source, error) {
	if !strings.EqualFold(filepath.Ext(s), ".json") {
		return nil, fmt.Errorf("not a .json file")
	}
	if info, err := os.Stat(s); err != nil {
		return nil, err
	} else if info.IsDir() {
		return nil, fmt.Errorf("%v is a directory", s)
	}
	return &source{path: s}, nil
}

type source struct {
	path string
}

func (s *source) String() string {
	return s.path
}

func (s *source) Resolve(ctx context.Context) (asset.Descriptor, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return asset.Descriptor{}, err
	}
	defer f.Close()
	return asset.ParsePlaybackInfo(f)
}

func init() {
	track_archiver.DefaultProviderRegistry.MustAdd(track_archiver.Provider{
		Name:  "manifest",
		Match: Match,
	})
}
