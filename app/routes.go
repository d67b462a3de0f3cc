package app

import (
	"maps"
	"slices"
	"sync"

	"github.com/tailored-agentic-units/statesync/core/protocol"
)

// Routes maps page routes to the handlers run when the page is first
// hydrated. It implements middleware.LoadEventSource.
type Routes struct {
	mu   sync.RWMutex
	load map[string][]string
}

// NewRoutes creates an empty route table.
func NewRoutes() *Routes {
	return &Routes{load: make(map[string][]string)}
}

// Add appends load handlers, given as full handler paths, to a route.
func (r *Routes) Add(route string, handlers ...string) *Routes {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := protocol.FormatRoute(route)
	r.load[key] = append(r.load[key], handlers...)
	return r
}

// LoadEvents returns the load handlers of a route, in registration order.
func (r *Routes) LoadEvents(route string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.load[protocol.FormatRoute(route)])
}

// Routes returns the registered routes, sorted.
func (r *Routes) Routes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.load))
}
