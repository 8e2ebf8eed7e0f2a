package actor

import (
	"context"
	"fmt"
	"sync"
)

// mailbox is an unbounded FIFO. Several workers may pop from one mailbox.
type mailbox[M any] struct {
	mu     sync.Mutex
	items  []M
	closed bool
	// signal has capacity 1; a waiter that takes it re-signals when items remain.
	signal chan struct{}
}

func newMailbox[M any]() *mailbox[M] {
	return &mailbox[M]{signal: make(chan struct{}, 1)}
}

func (b *mailbox[M]) push(m M) bool {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return false
	}
	b.items = append(b.items, m)
	b.mu.Unlock()
	b.notify()
	return true
}

func (b *mailbox[M]) notify() {
	select {
	case b.signal <- struct{}{}:
	default:
	}
}

// close stops further pushes. Queued items are still returned by pop.
func (b *mailbox[M]) close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.notify()
}

// pop blocks until an item is available. It returns false once the mailbox
// is closed and drained, or as soon as ctx is cancelled even if items remain.
func (b *mailbox[M]) pop(ctx context.Context) (M, bool) {
	for {
		if ctx.Err() != nil {
			var zero M
			return zero, false
		}
		b.mu.Lock()
		if len(b.items) > 0 {
			m := b.items[0]
			var zero M
			b.items[0] = zero
			b.items = b.items[1:]
			more := len(b.items) > 0 || b.closed
			b.mu.Unlock()
			if more {
				b.notify()
			}
			return m, true
		}
		if b.closed {
			b.mu.Unlock()
			b.notify()
			var zero M
			return zero, false
		}
		b.mu.Unlock()

		select {
		case <-ctx.Done():
			var zero M
			return zero, false
		case <-b.signal:
		}
	}
}

func (b *mailbox[M]) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}

func sprint(v any) string {
	if err, ok := v.(error); ok {
		return err.Error()
	}
	return fmt.Sprint(v)
}
