package capture

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// frameRef names a published buffer and the instant its capture started.
type frameRef struct {
	index int
	seq   uint64
	at    time.Time
}

// handoff is a single-slot mailbox between the worker and the consumer.
// Once closed it stays closed and every take reports the same error.
type handoff struct {
	pending chan frameRef
	done    chan struct{}
	once    sync.Once
	err     error
}

func newHandoff() *handoff {
	return &handoff{pending: make(chan frameRef, 1), done: make(chan struct{})}
}

// publish blocks while a frame is pending. It returns false once closed.
func (h *handoff) publish(ref frameRef) bool {
	select {
	case <-h.done:
		return false
	default:
	}
	select {
	case h.pending <- ref:
		return true
	case <-h.done:
		return false
	}
}

// take blocks until a frame is pending, the slot closes, or ctx ends.
func (h *handoff) take(ctx context.Context) (frameRef, error) {
	select {
	case <-h.done:
		return frameRef{}, h.err
	default:
	}
	select {
	case ref := <-h.pending:
		return ref, nil
	case <-h.done:
		return frameRef{}, h.err
	case <-ctx.Done():
		return frameRef{}, ctx.Err()
	}
}

func (h *handoff) tryTake() (frameRef, error) {
	select {
	case <-h.done:
		return frameRef{}, h.err
	default:
	}
	select {
	case ref := <-h.pending:
		return ref, nil
	default:
		return frameRef{}, ErrNoFrame
	}
}

// close marks the slot terminated. The first call decides the error every
// later take returns; cause may be nil for an orderly stop.
func (h *handoff) close(cause error) {
	h.once.Do(func() {
		if cause == nil {
			h.err = ErrSlotClosed
		} else {
			h.err = fmt.Errorf("%w: %w", ErrSlotClosed, cause)
		}
		close(h.done)
	})
}

// drain removes a frame left pending after close.
func (h *handoff) drain() (frameRef, bool) {
	select {
	case ref := <-h.pending:
		return ref, true
	default:
		return frameRef{}, false
	}
}
