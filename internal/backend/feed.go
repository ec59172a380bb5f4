package backend

import (
	"sync"

	"github.com/MrSnakeDoc/marks/internal/domain"
)

// DefaultFeedBuffer is the event buffer of a subscription.
const DefaultFeedBuffer = 16

// Feed is a Subscription building block shared by the backends.
//
// Publish never blocks: when the buffer is full the event is dropped. Every
// event triggers a full refresh on the consumer side, so one queued event is
// enough to converge.
type Feed struct {
	mu      sync.Mutex
	events  chan domain.ChangeEvent
	closed  bool
	err     error
	closeFn func() error
}

// NewFeed returns an open feed. closeFn releases the underlying listener
// and runs exactly once.
func NewFeed(buffer int, closeFn func() error) *Feed {
	if buffer <= 0 {
		buffer = DefaultFeedBuffer
	}
	return &Feed{
		events:  make(chan domain.ChangeEvent, buffer),
		closeFn: closeFn,
	}
}

// Publish queues ev. It reports false when the feed is closed or full.
func (f *Feed) Publish(ev domain.ChangeEvent) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return false
	}
	select {
	case f.events <- ev:
		return true
	default:
		return false
	}
}

func (f *Feed) Events() <-chan domain.ChangeEvent { return f.events }

func (f *Feed) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

// Close ends the feed cleanly.
func (f *Feed) Close() error { return f.end(nil) }

// Fail ends the feed and records why.
func (f *Feed) Fail(err error) { _ = f.end(err) }

func (f *Feed) end(err error) error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true
	f.err = err
	close(f.events)
	fn := f.closeFn
	f.mu.Unlock()

	if fn != nil {
		return fn()
	}
	return nil
}
