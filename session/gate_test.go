package session_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tailored-agentic-units/statesync/session"
)

func TestGate_SerializesSameToken(t *testing.T) {
	gate := session.NewGate()
	var active, maxActive atomic.Int32
	var wg sync.WaitGroup

	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := gate.Acquire(context.Background(), "token")
			if err != nil {
				t.Errorf("Acquire() error = %v", err)
				return
			}
			defer release()

			n := active.Add(1)
			for {
				m := maxActive.Load()
				if n <= m || maxActive.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			active.Add(-1)
		}()
	}
	wg.Wait()

	if maxActive.Load() != 1 {
		t.Errorf("max concurrent holders = %d, want 1", maxActive.Load())
	}
	if gate.Len() != 0 {
		t.Errorf("Len() = %d, want 0 after all releases", gate.Len())
	}
}

func TestGate_DistinctTokensDoNotBlock(t *testing.T) {
	gate := session.NewGate()

	releaseA, err := gate.Acquire(context.Background(), "a")
	if err != nil {
		t.Fatalf("Acquire(a) error = %v", err)
	}
	defer releaseA()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	releaseB, err := gate.Acquire(ctx, "b")
	if err != nil {
		t.Fatalf("Acquire(b) blocked by a: %v", err)
	}
	releaseB()
}

func TestGate_ContextCancel(t *testing.T) {
	gate := session.NewGate()

	release, err := gate.Acquire(context.Background(), "token")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := gate.Acquire(ctx, "token"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Acquire() error = %v, want %v", err, context.DeadlineExceeded)
	}

	release()
	release()

	if gate.Len() != 0 {
		t.Errorf("Len() = %d, want 0", gate.Len())
	}
}
