// Package mailbox provides a single-slot, latest-value-wins buffer.
//
// A Mailbox decouples a producer from a consumer without queueing: a Put
// replaces whatever has not been taken yet, so a fast producer never causes
// buffering and a slow consumer always sees the freshest value.
package mailbox

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrEmpty is returned by Receive when ctx ends before a value arrives.
var ErrEmpty = errors.New("mailbox: no value")

// Mailbox holds at most one value. It is safe for one producer and one
// consumer to use concurrently.
type Mailbox[T any] struct {
	putMu      sync.Mutex
	slot       chan T
	superseded atomic.Uint64
}

// New returns an empty Mailbox.
func New[T any]() *Mailbox[T] {
	return &Mailbox[T]{slot: make(chan T, 1)}
}

// Put stores v, discarding any unread value. It never blocks. The return
// value reports whether an unread value was overwritten.
func (m *Mailbox[T]) Put(v T) bool {
	m.putMu.Lock()
	defer m.putMu.Unlock()

	dropped := false
	select {
	case <-m.slot:
		dropped = true
		m.superseded.Add(1)
	default:
	}
	// The slot is empty and only Put fills it, under putMu.
	m.slot <- v
	return dropped
}

// Take returns the stored value and clears the slot. ok is false when the
// mailbox is empty.
func (m *Mailbox[T]) Take() (v T, ok bool) {
	select {
	case v = <-m.slot:
		return v, true
	default:
		return v, false
	}
}

// Receive waits for a value until ctx is done. Bound the wait with
// context.WithTimeout.
func (m *Mailbox[T]) Receive(ctx context.Context) (T, error) {
	select {
	case v := <-m.slot:
		return v, nil
	case <-ctx.Done():
		var zero T
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, ErrEmpty
		}
		return zero, ctx.Err()
	}
}

// Superseded returns how many values were overwritten before being read.
func (m *Mailbox[T]) Superseded() uint64 {
	return m.superseded.Load()
}
