package session

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/tailored-agentic-units/statesync/observability"
	"github.com/tailored-agentic-units/statesync/state"
)

// TTLManager keeps sessions in process memory and evicts those idle for
// longer than the configured TTL, or the least recently used ones once the
// capacity is reached.
//
// Eviction only drops the cache entry. An event chain still holding the
// evicted instance keeps mutating it, and its SetState registers it again.
type TTLManager struct {
	class  *state.Class
	cache  *ttlcache.Cache[string, *state.State]
	events observability.Scope
}

// NewTTLManager creates a TTLManager and starts its expiration loop. A zero
// capacity means unbounded. Call Close to stop the loop.
func NewTTLManager(class *state.Class, ttl time.Duration, capacity uint64, opts ...Option) *TTLManager {
	o := applyOptions(opts)

	cacheOpts := []ttlcache.Option[string, *state.State]{
		ttlcache.WithTTL[string, *state.State](ttl),
	}
	if capacity > 0 {
		cacheOpts = append(cacheOpts, ttlcache.WithCapacity[string, *state.State](capacity))
	}

	m := &TTLManager{
		class:  class,
		cache:  ttlcache.New[string, *state.State](cacheOpts...),
		events: observability.NewScope(o.observer, "session.ttl"),
	}

	m.cache.OnEviction(func(ctx context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[string, *state.State]) {
		m.events.Emit(ctx, EventEvicted, observability.LevelVerbose, map[string]any{
			"token":  item.Key(),
			"reason": evictionReason(reason),
		})
	})

	go m.cache.Start()
	return m
}

func evictionReason(reason ttlcache.EvictionReason) string {
	switch reason {
	case ttlcache.EvictionReasonExpired:
		return "expired"
	case ttlcache.EvictionReasonCapacityReached:
		return "capacity"
	case ttlcache.EvictionReasonDeleted:
		return "deleted"
	default:
		return "unknown"
	}
}

func (m *TTLManager) GetState(ctx context.Context, token string) (*state.State, error) {
	if item := m.cache.Get(token); item != nil {
		s := item.Value()
		if !s.Detached() {
			return s, nil
		}
		revived, err := m.revive(token, s)
		if err != nil {
			return nil, err
		}
		m.cache.Set(token, revived, ttlcache.DefaultTTL)
		return revived, nil
	}

	item, found := m.cache.GetOrSet(token, m.class.New())
	if !found {
		m.events.Emit(ctx, EventCreated, observability.LevelVerbose, map[string]any{"token": token})
	}
	return item.Value(), nil
}

// SetState stores s under token. A detached instance is never cached; its
// values and pending changes are copied into a fresh instance instead.
func (m *TTLManager) SetState(_ context.Context, token string, s *state.State) error {
	if s.Detached() {
		revived, err := m.revive(token, s)
		if err != nil {
			return err
		}
		s = revived
	}
	if item := m.cache.Get(token); item != nil && item.Value() != s {
		item.Value().Detach()
	}
	m.cache.Set(token, s, ttlcache.DefaultTTL)
	return nil
}

func (m *TTLManager) revive(token string, s *state.State) (*state.State, error) {
	revived, err := m.class.Restore(s.Snapshot())
	if err != nil {
		return nil, fmt.Errorf("restore session %s: %w", token, err)
	}
	return revived, nil
}

func (m *TTLManager) DeleteState(ctx context.Context, token string) error {
	if item := m.cache.Get(token); item != nil {
		item.Value().Detach()
	}
	m.cache.Delete(token)
	m.events.Emit(ctx, EventDeleted, observability.LevelVerbose, map[string]any{"token": token})
	return nil
}

func (m *TTLManager) Tokens(context.Context) ([]string, error) {
	tokens := m.cache.Keys()
	slices.Sort(tokens)
	return tokens, nil
}

// Len returns the number of live sessions.
func (m *TTLManager) Len() int {
	return m.cache.Len()
}

// Close stops the expiration loop.
func (m *TTLManager) Close() error {
	m.cache.Stop()
	return nil
}
