// Package state implements the server-held state tree: immutable classes
// declaring fields, computed fields and handlers; per-session instances
// that track which fields changed; mutation-tracking containers; and delta
// computation against the last emitted snapshot.
//
// A State tree is not safe for concurrent use, except for Detach and
// Detached. Callers serialize access per session token (see session.Gate).
package state

import (
	"context"
	"fmt"
	"maps"
	"reflect"
	"slices"
	"strings"
	"sync/atomic"

	"github.com/mohae/deepcopy"

	"github.com/tailored-agentic-units/statesync/core/protocol"
)

// State is an instance of a Class within a session tree.
type State struct {
	class    *Class
	parent   *State
	children map[string]*State

	values map[string]any
	cache  map[string]any

	dirty          map[string]struct{}
	dirtySubstates map[string]struct{}
	detached       atomic.Bool
}

// Class returns the class this instance was created from.
func (s *State) Class() *Class { return s.class }

// Name returns the local name of the instance.
func (s *State) Name() string { return s.class.name }

// Path returns the dot-qualified path of the instance.
func (s *State) Path() string { return s.class.path }

// Parent returns the parent instance, or nil for the root.
func (s *State) Parent() *State { return s.parent }

// Root returns the root of the tree.
func (s *State) Root() *State {
	root := s
	for root.parent != nil {
		root = root.parent
	}
	return root
}

// Child returns the child instance with the given local name, or nil.
func (s *State) Child(name string) *State {
	return s.children[name]
}

// Substate resolves a dot-qualified path relative to the root. A leading
// root name is optional: "state.sub" and "sub" address the same instance.
func (s *State) Substate(path string) (*State, error) {
	target := s.Root()
	if path == "" {
		return target, nil
	}
	segments := strings.Split(path, ".")
	if segments[0] == target.class.name {
		segments = segments[1:]
	}
	for _, segment := range segments {
		child, ok := target.children[segment]
		if !ok {
			return nil, &RoutingError{Name: path}
		}
		target = child
	}
	return target, nil
}

// Get returns the current value of a field or computed field. It returns
// nil for unknown names and failing computed fields. Mutating a container
// returned by Get bypasses change tracking; use List or Map instead.
func (s *State) Get(name string) any {
	v, _ := s.Value(name)
	return v
}

// Value returns the current value of a field or computed field.
func (s *State) Value(name string) (any, error) {
	if v, ok := s.values[name]; ok {
		return v, nil
	}
	if _, ok := s.class.computed[name]; ok {
		return s.computedValue(name)
	}
	return nil, fmt.Errorf("%s.%s: %w", s.class.path, name, ErrUnknownField)
}

// Int returns an int field value, or 0.
func (s *State) Int(name string) int {
	v, _ := s.Get(name).(int)
	return v
}

// Float returns a float64 field value, or 0.
func (s *State) Float(name string) float64 {
	v, _ := s.Get(name).(float64)
	return v
}

// String returns a string field value, or "".
func (s *State) String(name string) string {
	v, _ := s.Get(name).(string)
	return v
}

// Bool returns a bool field value, or false.
func (s *State) Bool(name string) bool {
	v, _ := s.Get(name).(bool)
	return v
}

func (s *State) computedValue(name string) (any, error) {
	if v, ok := s.cache[name]; ok {
		return v, nil
	}
	v, err := s.class.computed[name].eval(s)
	if err != nil {
		return nil, &ComputeError{Path: s.class.path, Field: name, Err: err}
	}
	s.cache[name] = v
	return v, nil
}

// Set replaces the value of a field, coercing it to the declared kind.
// Replacement supersedes any tracked mutation of the previous value.
func (s *State) Set(name string, value any) error {
	if s.detached.Load() {
		return &OwnerDetachedError{Path: s.class.path, Field: name}
	}
	f, ok := s.class.fields[name]
	if !ok {
		if _, computed := s.class.computed[name]; computed {
			return fmt.Errorf("%s.%s: %w", s.class.path, name, ErrComputedAssign)
		}
		return fmt.Errorf("%s.%s: %w", s.class.path, name, ErrUnknownField)
	}
	coerced, err := Coerce(f.kind, deepcopy.Copy(value))
	if err != nil {
		return fmt.Errorf("%s.%s: %w", s.class.path, name, err)
	}
	s.values[name] = coerced
	s.markDirty(name)
	return nil
}

// MarkDirty flags a field as changed without assigning it.
func (s *State) MarkDirty(name string) error {
	if s.detached.Load() {
		return &OwnerDetachedError{Path: s.class.path, Field: name}
	}
	if _, ok := s.class.fields[name]; !ok {
		return fmt.Errorf("%s.%s: %w", s.class.path, name, ErrUnknownField)
	}
	s.markDirty(name)
	return nil
}

// markDirty flags name and its dependent computed fields, then records the
// instance in the dirty-substate set of every ancestor.
func (s *State) markDirty(name string) {
	s.dirty[name] = struct{}{}
	for _, dep := range s.class.dependents[name] {
		delete(s.cache, dep)
		s.dirty[dep] = struct{}{}
	}
	for child, parent := s, s.parent; parent != nil; child, parent = parent, parent.parent {
		parent.dirtySubstates[child.class.name] = struct{}{}
	}
}

// DirtyFields returns the names currently flagged as changed, sorted.
func (s *State) DirtyFields() []string {
	names := slices.Collect(maps.Keys(s.dirty))
	slices.Sort(names)
	return names
}

// IsDirty reports whether the instance or any descendant has changes.
func (s *State) IsDirty() bool {
	return len(s.dirty) > 0 || len(s.dirtySubstates) > 0
}

// RouterData returns the request metadata of the latest event.
func (s *State) RouterData() map[string]any {
	data, _ := s.values[RouterDataField].(map[string]any)
	return data
}

// SetRouterData assigns request metadata to every instance of the tree
// rooted at s. Assigning a value equal to the current one is a no-op so
// dependent computed fields stay clean. It reports whether anything changed.
func (s *State) SetRouterData(data map[string]any) bool {
	if data == nil {
		data = map[string]any{}
	}
	changed := false
	if !reflect.DeepEqual(s.values[RouterDataField], data) {
		s.values[RouterDataField] = deepcopy.Copy(data)
		s.markDirty(RouterDataField)
		changed = true
	}
	for _, name := range s.class.childOrder {
		if s.children[name].SetRouterData(data) {
			changed = true
		}
	}
	return changed
}

// Delta returns the changed fields of the instance and its dirty
// descendants, keyed by path, and clears all change flags. Backend fields
// are omitted and instances without visible changes are absent.
func (s *State) Delta() (protocol.Delta, error) {
	delta := protocol.Delta{}
	if err := s.collectDelta(delta); err != nil {
		return nil, err
	}
	s.Clean()
	return delta, nil
}

func (s *State) collectDelta(delta protocol.Delta) error {
	fields := map[string]any{}
	for name := range s.dirty {
		if s.class.IsBackend(name) {
			continue
		}
		value, err := s.Value(name)
		if err != nil {
			return err
		}
		fields[name] = deepcopy.Copy(value)
	}
	if len(fields) > 0 {
		delta[s.class.path] = fields
	}
	for name := range s.dirtySubstates {
		if err := s.children[name].collectDelta(delta); err != nil {
			return err
		}
	}
	return nil
}

// Dict returns every visible field and computed field of the instance and
// all its descendants, keyed by path.
func (s *State) Dict() (protocol.Delta, error) {
	out := protocol.Delta{}
	if err := s.collectDict(out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *State) collectDict(out protocol.Delta) error {
	fields := map[string]any{}
	for _, name := range s.class.fieldOrder {
		if s.class.fields[name].backend {
			continue
		}
		fields[name] = deepcopy.Copy(s.values[name])
	}
	for _, name := range s.class.computedOrder {
		value, err := s.computedValue(name)
		if err != nil {
			return err
		}
		fields[name] = deepcopy.Copy(value)
	}
	out[s.class.path] = fields
	for _, name := range s.class.childOrder {
		if err := s.children[name].collectDict(out); err != nil {
			return err
		}
	}
	return nil
}

// Clean clears the change flags of the instance and all its descendants.
func (s *State) Clean() {
	clear(s.dirty)
	clear(s.dirtySubstates)
	for _, child := range s.children {
		child.Clean()
	}
}

// Detach marks the instance and its descendants as no longer owned by a
// session. Later mutations fail with OwnerDetachedError.
func (s *State) Detach() {
	s.detached.Store(true)
	for _, child := range s.children {
		child.Detach()
	}
}

// Detached reports whether the instance has been detached.
func (s *State) Detached() bool { return s.detached.Load() }

// ResolveHandler walks a dot-qualified handler path from the root and
// returns the owning instance and handler. A leading root name is optional.
func (s *State) ResolveHandler(name string) (*State, *Handler, error) {
	path, local := protocol.SplitHandlerPath(name)
	target, err := s.Substate(strings.Join(path, "."))
	if err != nil {
		return nil, nil, &RoutingError{Name: name}
	}
	h, ok := target.class.handlers[local]
	if !ok {
		return nil, nil, &RoutingError{Name: name}
	}
	return target, h, nil
}

// Handle dispatches ev to its handler and returns the follow-up events the
// handler requested. Follow-ups carry the token and router metadata of ev.
func (s *State) Handle(ctx context.Context, ev protocol.Event) ([]protocol.Event, error) {
	target, h, err := s.ResolveHandler(ev.Name)
	if err != nil {
		return nil, err
	}
	args, err := h.bind(ev.Payload)
	if err != nil {
		return nil, err
	}
	calls, err := h.fn(ctx, target, args)
	if err != nil {
		return nil, err
	}

	events := make([]protocol.Event, 0, len(calls))
	for _, call := range calls {
		name := call.Name
		if !strings.Contains(name, ".") {
			name = target.class.path + "." + name
		}
		events = append(events, protocol.NewEvent(ev.Token, name, maps.Clone(call.Payload)).WithRouterData(ev.RouterData))
	}
	return events, nil
}
