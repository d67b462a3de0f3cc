package session

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Gate serializes work per session token. Holders of different tokens never
// block each other; waiters for the same token are admitted one at a time.
// Idle tokens hold no resources.
type Gate struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	sem  *semaphore.Weighted
	refs int
}

// NewGate creates an empty Gate.
func NewGate() *Gate {
	return &Gate{slots: make(map[string]*slot)}
}

// Acquire blocks until the caller holds token or ctx is done. The returned
// release function must be called exactly once.
func (g *Gate) Acquire(ctx context.Context, token string) (release func(), err error) {
	g.mu.Lock()
	sl, ok := g.slots[token]
	if !ok {
		sl = &slot{sem: semaphore.NewWeighted(1)}
		g.slots[token] = sl
	}
	sl.refs++
	g.mu.Unlock()

	if err := sl.sem.Acquire(ctx, 1); err != nil {
		g.unref(token, sl)
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			sl.sem.Release(1)
			g.unref(token, sl)
		})
	}, nil
}

func (g *Gate) unref(token string, sl *slot) {
	g.mu.Lock()
	defer g.mu.Unlock()
	sl.refs--
	if sl.refs == 0 {
		delete(g.slots, token)
	}
}

// Len returns the number of tokens currently held or awaited.
func (g *Gate) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.slots)
}
