// Package source fetches asset bytes and cover art over HTTP.
package source

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/alanbriolat/track-archiver/asset"
	"github.com/alanbriolat/track-archiver/download"
)

// HTTPSource streams an asset by fetching each of its URLs in turn and concatenating the bodies.
type HTTPSource struct {
	client *http.Client
	log    *zap.SugaredLogger
}

// NewHTTPSource creates an HTTPSource using client, or http.DefaultClient if client is nil.
func NewHTTPSource(client *http.Client) *HTTPSource {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPSource{
		client: client,
		log:    zap.S().Named("source"),
	}
}

// Open starts fetching desc. The first segment is requested before returning, so that an unreachable asset fails
// here rather than on the first Read. onProgress is called from Read, with cumulative progress.
func (s *HTTPSource) Open(ctx context.Context, desc asset.Descriptor, onProgress func(download.Progress)) (io.ReadCloser, error) {
	if err := desc.Validate(); err != nil {
		return nil, err
	}
	if onProgress == nil {
		onProgress = func(download.Progress) {}
	}
	stream := &segmentStream{
		ctx:        ctx,
		client:     s.client,
		urls:       desc.URLs,
		onProgress: onProgress,
		log:        s.log.With("asset", desc.ID),
	}
	if err := stream.openNext(); err != nil {
		return nil, err
	}
	return stream, nil
}

type segmentStream struct {
	ctx        context.Context
	client     *http.Client
	urls       []string
	next       int
	body       io.ReadCloser
	progress   download.Progress
	onProgress func(download.Progress)
	log        *zap.SugaredLogger
}

func (s *segmentStream) currentURL() string {
	return s.urls[s.next-1]
}

func (s *segmentStream) openNext() error {
	url := s.urls[s.next]
	s.next++
	req, err := http.NewRequestWithContext(s.ctx, http.MethodGet, url, nil)
	if err != nil {
		return &download.NetworkError{URL: url, Err: err}
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return &download.NetworkError{URL: url, Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return &download.NetworkError{URL: url, Err: fmt.Errorf("%w: %s", download.ErrBadStatus, resp.Status)}
	}
	s.log.Debugw("opened segment", "url", url, "segment", s.next, "segments", len(s.urls), "content_length", resp.ContentLength)
	s.body = resp.Body
	if resp.ContentLength > 0 {
		s.progress.Expected += resp.ContentLength
		s.onProgress(s.progress)
	}
	return nil
}

func (s *segmentStream) Read(p []byte) (int, error) {
	for {
		if err := s.ctx.Err(); err != nil {
			return 0, &download.NetworkError{URL: s.currentURL(), Err: err}
		}
		if s.body == nil {
			if s.next >= len(s.urls) {
				return 0, io.EOF
			}
			if err := s.openNext(); err != nil {
				return 0, err
			}
		}
		n, err := s.body.Read(p)
		if n > 0 {
			s.progress.Downloaded += int64(n)
			s.onProgress(s.progress)
		}
		if err == io.EOF {
			_ = s.body.Close()
			s.body = nil
			if n > 0 {
				return n, nil
			}
			continue
		} else if err != nil {
			return n, &download.NetworkError{URL: s.currentURL(), Err: err}
		}
		return n, nil
	}
}

func (s *segmentStream) Close() error {
	if s.body == nil {
		return nil
	}
	err := s.body.Close()
	s.body = nil
	return err
}
