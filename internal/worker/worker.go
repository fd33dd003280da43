// Package worker runs one classification pipeline per lane: take the
// freshest frame, classify it, smooth the result and publish it for the
// decision loop.
package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/banshee-data/signal.report/internal/frames"
	"github.com/banshee-data/signal.report/internal/lane"
	"github.com/banshee-data/signal.report/internal/mailbox"
	"github.com/banshee-data/signal.report/internal/monitoring"
	"github.com/banshee-data/signal.report/internal/perception"
)

// Classifier turns a frame into a raw observation. An error means the
// frame produces no update.
type Classifier interface {
	Classify(ctx context.Context, l lane.Lane, f frames.Frame) (lane.RawClassification, error)
}

// ClassifierFunc adapts a function to Classifier.
type ClassifierFunc func(ctx context.Context, l lane.Lane, f frames.Frame) (lane.RawClassification, error)

func (fn ClassifierFunc) Classify(ctx context.Context, l lane.Lane, f frames.Frame) (lane.RawClassification, error) {
	return fn(ctx, l, f)
}

// Config bounds a worker's waits.
type Config struct {
	// FrameWait is how long one iteration waits for a frame before
	// checking for cancellation again.
	FrameWait time.Duration
	// ClassifyTimeout bounds a single classifier call.
	ClassifyTimeout time.Duration
	Smoother        perception.SmootherConfig
}

// DefaultConfig waits 1s for frames and 30s for the classifier.
func DefaultConfig() Config {
	return Config{
		FrameWait:       time.Second,
		ClassifyTimeout: 30 * time.Second,
		Smoother:        perception.DefaultSmootherConfig(),
	}
}

// Metrics are a worker's counters.
type Metrics struct {
	Lane               lane.Lane `json:"lane"`
	FramesProcessed    uint64    `json:"frames_processed"`
	FramesSuperseded   uint64    `json:"frames_superseded"`
	ResultsSuperseded  uint64    `json:"results_superseded"`
	ClassifierFailures uint64    `json:"classifier_failures"`
	Resets             uint64    `json:"resets"`
	LastResultAt       time.Time `json:"last_result_at,omitempty"`
	LastError          string    `json:"last_error,omitempty"`
}

// LaneWorker owns one lane's smoother and both of its mailboxes.
type LaneWorker struct {
	lane       lane.Lane
	cfg        Config
	classifier Classifier
	smoother   *perception.Smoother
	frames     *mailbox.Mailbox[frames.Frame]
	results    *mailbox.Mailbox[lane.Result]
	logf       func(string, ...interface{})

	resetRequested atomic.Bool
	processed      atomic.Uint64
	failures       atomic.Uint64
	resets         atomic.Uint64

	mu         sync.Mutex
	lastResult time.Time
	lastErr    string
}

// New returns a worker for l. Zero fields in cfg take DefaultConfig values.
func New(l lane.Lane, classifier Classifier, cfg Config) *LaneWorker {
	def := DefaultConfig()
	if cfg.FrameWait <= 0 {
		cfg.FrameWait = def.FrameWait
	}
	if cfg.ClassifyTimeout <= 0 {
		cfg.ClassifyTimeout = def.ClassifyTimeout
	}
	return &LaneWorker{
		lane:       l,
		cfg:        cfg,
		classifier: classifier,
		smoother:   perception.NewSmoother(l, cfg.Smoother),
		frames:     mailbox.New[frames.Frame](),
		results:    mailbox.New[lane.Result](),
		logf:       monitoring.Component("worker " + string(l)),
	}
}

// Lane returns the lane this worker serves.
func (w *LaneWorker) Lane() lane.Lane { return w.lane }

// Frames is the inbound mailbox the capture loop fills.
func (w *LaneWorker) Frames() *mailbox.Mailbox[frames.Frame] { return w.frames }

// Results is the outbound mailbox the decision loop drains.
func (w *LaneWorker) Results() *mailbox.Mailbox[lane.Result] { return w.results }

// RequestReset asks the worker to clear its smoothing history before the
// next frame. Used after a camera reconnect.
func (w *LaneWorker) RequestReset() {
	w.resetRequested.Store(true)
}

// Metrics returns a snapshot of the counters.
func (w *LaneWorker) Metrics() Metrics {
	w.mu.Lock()
	last, lastErr := w.lastResult, w.lastErr
	w.mu.Unlock()
	return Metrics{
		Lane:               w.lane,
		FramesProcessed:    w.processed.Load(),
		FramesSuperseded:   w.frames.Superseded(),
		ResultsSuperseded:  w.results.Superseded(),
		ClassifierFailures: w.failures.Load(),
		Resets:             w.resets.Load(),
		LastResultAt:       last,
		LastError:          lastErr,
	}
}

// Run processes frames until ctx is cancelled. It only returns ctx's error.
func (w *LaneWorker) Run(ctx context.Context) error {
	w.logf("started")
	defer w.logf("stopped")
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		w.step(ctx)
	}
}

// step is one iteration: wait up to FrameWait for a frame, classify,
// smooth, publish.
func (w *LaneWorker) step(ctx context.Context) {
	if w.resetRequested.CompareAndSwap(true, false) {
		w.smoother.Reset()
		w.resets.Add(1)
		w.logf("smoothing history cleared")
	}

	waitCtx, cancel := context.WithTimeout(ctx, w.cfg.FrameWait)
	f, err := w.frames.Receive(waitCtx)
	cancel()
	if err != nil {
		return
	}

	classifyCtx, cancel := context.WithTimeout(ctx, w.cfg.ClassifyTimeout)
	raw, err := w.classifier.Classify(classifyCtx, w.lane, f)
	cancel()
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		w.failures.Add(1)
		w.setLastError(err)
		if errors.Is(err, perception.ErrEmptyDescription) {
			w.logf("classifier returned no description")
		} else {
			w.logf("classification failed: %v", err)
		}
		return
	}
	if raw.ObservedAt.IsZero() {
		raw.ObservedAt = f.CapturedAt
	}

	res := w.smoother.Update(raw)
	w.results.Put(res)
	w.processed.Add(1)

	w.mu.Lock()
	w.lastResult = res.ObservedAt
	w.lastErr = ""
	w.mu.Unlock()
}

func (w *LaneWorker) setLastError(err error) {
	w.mu.Lock()
	w.lastErr = err.Error()
	w.mu.Unlock()
}
