package alert

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/banshee-data/signal.report/internal/monitoring"
)

var logf = monitoring.Component("alert")

// Sink delivers an event somewhere. Sinks decide for themselves which
// kinds they care about.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, e Event) error

func (f SinkFunc) Send(ctx context.Context, e Event) error { return f(ctx, e) }

const (
	DefaultQueueSize    = 64
	DefaultDrainTimeout = 5 * time.Second
)

// Dispatcher queues events and delivers them to every sink from a single
// goroutine. Notify never blocks: a full queue drops the event.
type Dispatcher struct {
	queue        chan Event
	sinks        []Sink
	drainTimeout time.Duration

	sent    atomic.Uint64
	dropped atomic.Uint64
	failed  atomic.Uint64
}

// NewDispatcher returns a dispatcher with room for queueSize pending
// events (DefaultQueueSize when <= 0).
func NewDispatcher(queueSize int, sinks ...Sink) *Dispatcher {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Dispatcher{
		queue:        make(chan Event, queueSize),
		sinks:        sinks,
		drainTimeout: DefaultDrainTimeout,
	}
}

// Notify enqueues e and reports whether it was accepted.
func (d *Dispatcher) Notify(e Event) bool {
	select {
	case d.queue <- e:
		return true
	default:
		d.dropped.Add(1)
		logf("queue full, dropping %s alert for %s", e.Kind, e.Lane)
		return false
	}
}

// Run delivers events until ctx is done, then gives whatever is still
// queued up to the drain timeout to go out.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case e := <-d.queue:
			d.deliver(ctx, e)
		case <-ctx.Done():
			d.drain()
			return ctx.Err()
		}
	}
}

func (d *Dispatcher) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), d.drainTimeout)
	defer cancel()
	for {
		select {
		case e := <-d.queue:
			d.deliver(ctx, e)
		default:
			return
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, e Event) {
	for _, s := range d.sinks {
		if err := s.Send(ctx, e); err != nil {
			d.failed.Add(1)
			logf("%T failed for %s alert %s: %v", s, e.Kind, e.ID, err)
		}
	}
	d.sent.Add(1)
}

// Stats counts delivered, dropped and failed sends.
type Stats struct {
	Delivered uint64 `json:"delivered"`
	Dropped   uint64 `json:"dropped"`
	Failures  uint64 `json:"failures"`
	Queued    int    `json:"queued"`
}

// Stats returns the dispatcher counters.
func (d *Dispatcher) Stats() Stats {
	return Stats{
		Delivered: d.sent.Load(),
		Dropped:   d.dropped.Load(),
		Failures:  d.failed.Load(),
		Queued:    len(d.queue),
	}
}
