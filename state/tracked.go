package state

import (
	"fmt"
	"maps"
	"reflect"
	"slices"

	"github.com/mohae/deepcopy"
)

// TrackedList is a mutation-tracking view over a list stored in a field of
// a state instance, possibly nested inside other containers. Every mutating
// operation marks the top-level field dirty on the owning instance.
// Reading never marks dirty.
type TrackedList struct {
	owner *State
	field string
	get   func() ([]any, error)
	put   func([]any) error
}

// TrackedMap is the mapping counterpart of TrackedList.
type TrackedMap struct {
	owner *State
	field string
	get   func() (map[string]any, error)
}

// List returns a tracked view of a list field.
func (s *State) List(name string) *TrackedList {
	return &TrackedList{
		owner: s,
		field: name,
		get: func() ([]any, error) {
			value, err := s.fieldValue(name)
			if err != nil {
				return nil, err
			}
			if value == nil {
				return []any{}, nil
			}
			items, ok := value.([]any)
			if !ok {
				return nil, fmt.Errorf("%s.%s: %w", s.class.path, name, &TypeError{Want: KindList, Got: value})
			}
			return items, nil
		},
		put: func(items []any) error {
			s.values[name] = items
			return nil
		},
	}
}

// Map returns a tracked view of a map field.
func (s *State) Map(name string) *TrackedMap {
	return &TrackedMap{
		owner: s,
		field: name,
		get: func() (map[string]any, error) {
			value, err := s.fieldValue(name)
			if err != nil {
				return nil, err
			}
			if value == nil {
				m := map[string]any{}
				s.values[name] = m
				return m, nil
			}
			m, ok := value.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%s.%s: %w", s.class.path, name, &TypeError{Want: KindMap, Got: value})
			}
			return m, nil
		},
	}
}

func (s *State) fieldValue(name string) (any, error) {
	if _, ok := s.class.fields[name]; !ok {
		if _, computed := s.class.computed[name]; computed {
			return nil, fmt.Errorf("%s.%s: %w", s.class.path, name, ErrComputedAssign)
		}
		return nil, fmt.Errorf("%s.%s: %w", s.class.path, name, ErrUnknownField)
	}
	return s.values[name], nil
}

func (l *TrackedList) mutate(fn func(items []any) ([]any, error)) error {
	if l.owner.detached.Load() {
		return &OwnerDetachedError{Path: l.owner.class.path, Field: l.field}
	}
	items, err := l.get()
	if err != nil {
		return err
	}
	updated, err := fn(items)
	if err != nil {
		return err
	}
	if err := l.put(updated); err != nil {
		return err
	}
	l.owner.markDirty(l.field)
	return nil
}

// Len returns the number of elements, or 0 when the list cannot be read.
func (l *TrackedList) Len() int {
	items, err := l.get()
	if err != nil {
		return 0
	}
	return len(items)
}

// At returns the element at index i.
func (l *TrackedList) At(i int) (any, error) {
	items, err := l.get()
	if err != nil {
		return nil, err
	}
	if i < 0 || i >= len(items) {
		return nil, fmt.Errorf("%w: %d", ErrIndexOutOfRange, i)
	}
	return items[i], nil
}

// Values returns a deep copy of the elements.
func (l *TrackedList) Values() []any {
	items, err := l.get()
	if err != nil {
		return nil
	}
	return deepcopy.Copy(items).([]any)
}

// Append adds values to the end of the list.
func (l *TrackedList) Append(values ...any) error {
	return l.mutate(func(items []any) ([]any, error) {
		for _, v := range values {
			items = append(items, normalize(deepcopy.Copy(v)))
		}
		return items, nil
	})
}

// Extend adds every element of values to the end of the list.
func (l *TrackedList) Extend(values []any) error {
	return l.Append(values...)
}

// Insert places v before index i. An index equal to Len appends.
func (l *TrackedList) Insert(i int, v any) error {
	return l.mutate(func(items []any) ([]any, error) {
		if i < 0 || i > len(items) {
			return nil, fmt.Errorf("%w: %d", ErrIndexOutOfRange, i)
		}
		return slices.Insert(items, i, normalize(deepcopy.Copy(v))), nil
	})
}

// Set replaces the element at index i.
func (l *TrackedList) Set(i int, v any) error {
	return l.mutate(func(items []any) ([]any, error) {
		if i < 0 || i >= len(items) {
			return nil, fmt.Errorf("%w: %d", ErrIndexOutOfRange, i)
		}
		items[i] = normalize(deepcopy.Copy(v))
		return items, nil
	})
}

// Delete removes the element at index i.
func (l *TrackedList) Delete(i int) error {
	return l.mutate(func(items []any) ([]any, error) {
		if i < 0 || i >= len(items) {
			return nil, fmt.Errorf("%w: %d", ErrIndexOutOfRange, i)
		}
		return slices.Delete(items, i, i+1), nil
	})
}

// Remove deletes the first element equal to v.
func (l *TrackedList) Remove(v any) error {
	target := normalize(deepcopy.Copy(v))
	return l.mutate(func(items []any) ([]any, error) {
		idx := slices.IndexFunc(items, func(item any) bool {
			return reflect.DeepEqual(item, target)
		})
		if idx < 0 {
			return nil, fmt.Errorf("%w: %v", ErrValueNotFound, v)
		}
		return slices.Delete(items, idx, idx+1), nil
	})
}

// Pop removes and returns the last element.
func (l *TrackedList) Pop() (any, error) {
	return l.PopAt(l.Len() - 1)
}

// PopAt removes and returns the element at index i.
func (l *TrackedList) PopAt(i int) (any, error) {
	var popped any
	err := l.mutate(func(items []any) ([]any, error) {
		if i < 0 || i >= len(items) {
			return nil, fmt.Errorf("%w: %d", ErrIndexOutOfRange, i)
		}
		popped = items[i]
		return slices.Delete(items, i, i+1), nil
	})
	return popped, err
}

// Clear removes every element.
func (l *TrackedList) Clear() error {
	return l.mutate(func(items []any) ([]any, error) {
		return items[:0], nil
	})
}

// Reverse reverses the elements in place.
func (l *TrackedList) Reverse() error {
	return l.mutate(func(items []any) ([]any, error) {
		slices.Reverse(items)
		return items, nil
	})
}

// List returns a tracked view of the list stored at index i.
func (l *TrackedList) List(i int) *TrackedList {
	return &TrackedList{
		owner: l.owner,
		field: l.field,
		get: func() ([]any, error) {
			value, err := l.At(i)
			if err != nil {
				return nil, err
			}
			items, ok := value.([]any)
			if !ok {
				return nil, &TypeError{Want: KindList, Got: value}
			}
			return items, nil
		},
		put: func(items []any) error {
			parent, err := l.get()
			if err != nil {
				return err
			}
			parent[i] = items
			return nil
		},
	}
}

// Map returns a tracked view of the map stored at index i.
func (l *TrackedList) Map(i int) *TrackedMap {
	return &TrackedMap{
		owner: l.owner,
		field: l.field,
		get: func() (map[string]any, error) {
			value, err := l.At(i)
			if err != nil {
				return nil, err
			}
			m, ok := value.(map[string]any)
			if !ok {
				return nil, &TypeError{Want: KindMap, Got: value}
			}
			return m, nil
		},
	}
}

func (m *TrackedMap) mutate(fn func(entries map[string]any) error) error {
	if m.owner.detached.Load() {
		return &OwnerDetachedError{Path: m.owner.class.path, Field: m.field}
	}
	entries, err := m.get()
	if err != nil {
		return err
	}
	if err := fn(entries); err != nil {
		return err
	}
	m.owner.markDirty(m.field)
	return nil
}

// Len returns the number of entries, or 0 when the map cannot be read.
func (m *TrackedMap) Len() int {
	entries, err := m.get()
	if err != nil {
		return 0
	}
	return len(entries)
}

// Get returns the value stored under key.
func (m *TrackedMap) Get(key string) (any, bool) {
	entries, err := m.get()
	if err != nil {
		return nil, false
	}
	v, ok := entries[key]
	return v, ok
}

// Keys returns the keys, sorted.
func (m *TrackedMap) Keys() []string {
	entries, err := m.get()
	if err != nil {
		return nil
	}
	keys := slices.Collect(maps.Keys(entries))
	slices.Sort(keys)
	return keys
}

// Values returns a deep copy of the entries.
func (m *TrackedMap) Values() map[string]any {
	entries, err := m.get()
	if err != nil {
		return nil
	}
	return deepcopy.Copy(entries).(map[string]any)
}

// Set stores v under key.
func (m *TrackedMap) Set(key string, v any) error {
	return m.mutate(func(entries map[string]any) error {
		entries[key] = normalize(deepcopy.Copy(v))
		return nil
	})
}

// Update stores every entry of values.
func (m *TrackedMap) Update(values map[string]any) error {
	return m.mutate(func(entries map[string]any) error {
		for k, v := range values {
			entries[k] = normalize(deepcopy.Copy(v))
		}
		return nil
	})
}

// SetDefault stores v under key when the key is absent and returns the
// value now stored. The field is only marked dirty when v was stored.
func (m *TrackedMap) SetDefault(key string, v any) (any, error) {
	if existing, ok := m.Get(key); ok {
		return existing, nil
	}
	if err := m.Set(key, v); err != nil {
		return nil, err
	}
	stored, _ := m.Get(key)
	return stored, nil
}

// Delete removes key.
func (m *TrackedMap) Delete(key string) error {
	return m.mutate(func(entries map[string]any) error {
		if _, ok := entries[key]; !ok {
			return fmt.Errorf("%w: %s", ErrKeyNotFound, key)
		}
		delete(entries, key)
		return nil
	})
}

// Pop removes key and returns its value.
func (m *TrackedMap) Pop(key string) (any, error) {
	var popped any
	err := m.mutate(func(entries map[string]any) error {
		v, ok := entries[key]
		if !ok {
			return fmt.Errorf("%w: %s", ErrKeyNotFound, key)
		}
		popped = v
		delete(entries, key)
		return nil
	})
	return popped, err
}

// Clear removes every entry.
func (m *TrackedMap) Clear() error {
	return m.mutate(func(entries map[string]any) error {
		clear(entries)
		return nil
	})
}

// List returns a tracked view of the list stored under key.
func (m *TrackedMap) List(key string) *TrackedList {
	return &TrackedList{
		owner: m.owner,
		field: m.field,
		get: func() ([]any, error) {
			entries, err := m.get()
			if err != nil {
				return nil, err
			}
			value, ok := entries[key]
			if !ok {
				return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, key)
			}
			items, ok := value.([]any)
			if !ok {
				return nil, &TypeError{Want: KindList, Got: value}
			}
			return items, nil
		},
		put: func(items []any) error {
			entries, err := m.get()
			if err != nil {
				return err
			}
			entries[key] = items
			return nil
		},
	}
}

// Map returns a tracked view of the map stored under key.
func (m *TrackedMap) Map(key string) *TrackedMap {
	return &TrackedMap{
		owner: m.owner,
		field: m.field,
		get: func() (map[string]any, error) {
			entries, err := m.get()
			if err != nil {
				return nil, err
			}
			value, ok := entries[key]
			if !ok {
				return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, key)
			}
			nested, ok := value.(map[string]any)
			if !ok {
				return nil, &TypeError{Want: KindMap, Got: value}
			}
			return nested, nil
		},
	}
}
