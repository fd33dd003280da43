// Package frames captures still images per lane from cameras or fixture
// directories.
package frames

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/banshee-data/signal.report/internal/httputil"
	"github.com/banshee-data/signal.report/internal/lane"
	"github.com/banshee-data/signal.report/internal/timeutil"
)

// ErrNoFrame means the source had nothing for the lane this cycle.
var ErrNoFrame = errors.New("frames: no frame available")

// MaxFrameBytes caps a single snapshot.
const MaxFrameBytes = 8 << 20

// Frame is one encoded image.
type Frame struct {
	Lane        lane.Lane
	Data        []byte
	ContentType string
	CapturedAt  time.Time
}

// Source yields the latest frame for a lane. An error means skip this
// cycle; it is never fatal.
type Source interface {
	Capture(ctx context.Context, l lane.Lane) (Frame, error)
}

// HTTPSource fetches JPEG snapshots from per-lane camera URLs.
type HTTPSource struct {
	client httputil.HTTPClient
	urls   map[lane.Lane]string
	clock  timeutil.Clock
}

// NewHTTPSource returns a source for the given camera URLs.
func NewHTTPSource(client httputil.HTTPClient, urls map[lane.Lane]string, clock timeutil.Clock) *HTTPSource {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	return &HTTPSource{client: client, urls: urls, clock: clock}
}

func (s *HTTPSource) Capture(ctx context.Context, l lane.Lane) (Frame, error) {
	url, ok := s.urls[l]
	if !ok {
		return Frame{}, fmt.Errorf("lane %s: %w", l, ErrNoFrame)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Frame{}, err
	}
	req.Header.Set("Accept", "image/jpeg, image/*")

	resp, err := s.client.Do(req)
	if err != nil {
		return Frame{}, fmt.Errorf("fetch %s snapshot: %w", l, err)
	}
	if err := httputil.CheckStatus(resp); err != nil {
		return Frame{}, fmt.Errorf("fetch %s snapshot: %w", l, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxFrameBytes+1))
	if err != nil {
		return Frame{}, fmt.Errorf("read %s snapshot: %w", l, err)
	}
	if len(data) == 0 {
		return Frame{}, fmt.Errorf("lane %s: empty snapshot: %w", l, ErrNoFrame)
	}
	if len(data) > MaxFrameBytes {
		return Frame{}, fmt.Errorf("lane %s: snapshot exceeds %d bytes", l, MaxFrameBytes)
	}
	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		ct = http.DetectContentType(data)
	}
	return Frame{Lane: l, Data: data, ContentType: ct, CapturedAt: s.clock.Now()}, nil
}
