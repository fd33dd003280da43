package worker

import (
	"context"
	"time"

	"github.com/banshee-data/signal.report/internal/frames"
	"github.com/banshee-data/signal.report/internal/monitoring"
	"github.com/banshee-data/signal.report/internal/timeutil"
)

var captureLogf = monitoring.Component("capture")

// CaptureLoop grabs one frame per lane every interval and drops it into
// that lane's worker mailbox, replacing any frame not yet taken.
type CaptureLoop struct {
	source   frames.Source
	workers  []*LaneWorker
	clock    timeutil.Clock
	interval time.Duration
}

// NewCaptureLoop returns a loop feeding workers from source.
func NewCaptureLoop(source frames.Source, workers []*LaneWorker, clock timeutil.Clock, interval time.Duration) *CaptureLoop {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	if interval <= 0 {
		interval = time.Second
	}
	return &CaptureLoop{source: source, workers: workers, clock: clock, interval: interval}
}

// Run captures immediately, then on every tick, until ctx is cancelled.
func (c *CaptureLoop) Run(ctx context.Context) error {
	ticker := c.clock.NewTicker(c.interval)
	defer ticker.Stop()

	c.CaptureOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			c.CaptureOnce(ctx)
		}
	}
}

// CaptureOnce runs one pass over every lane. A failing lane is skipped.
func (c *CaptureLoop) CaptureOnce(ctx context.Context) {
	for _, w := range c.workers {
		if ctx.Err() != nil {
			return
		}
		f, err := c.source.Capture(ctx, w.Lane())
		if err != nil {
			if ctx.Err() == nil {
				captureLogf("%s: %v", w.Lane(), err)
			}
			continue
		}
		w.Frames().Put(f)
	}
}
