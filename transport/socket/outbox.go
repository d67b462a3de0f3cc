package socket

import (
	"context"
	"sync"
)

// outbox is the ordered queue of frames awaiting the connection's writer.
// Send fails once the connection is closing.
type outbox struct {
	frames chan Frame
	ctx    context.Context

	mu     sync.RWMutex
	closed bool
}

func newOutbox(ctx context.Context, size int) *outbox {
	return &outbox{
		frames: make(chan Frame, size),
		ctx:    ctx,
	}
}

func (o *outbox) Send(ctx context.Context, f Frame) error {
	o.mu.RLock()
	defer o.mu.RUnlock()

	if o.closed {
		return ErrConnectionClosed
	}
	if o.ctx.Err() != nil {
		return ErrConnectionClosed
	}

	select {
	case o.frames <- f:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-o.ctx.Done():
		return ErrConnectionClosed
	}
}

// Close must be called after the outbox context is done so blocked
// senders release the lock.
func (o *outbox) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.closed {
		o.closed = true
		close(o.frames)
	}
}
