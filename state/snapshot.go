package state

import (
	"errors"
	"fmt"

	"github.com/mohae/deepcopy"
)

// Snapshot is the persisted form of a state tree: the plain and backend
// field values of each instance and the names of its fields changed since
// the last delta. Computed values are not persisted.
type Snapshot struct {
	Values   map[string]any      `json:"values"`
	Dirty    []string            `json:"dirty,omitempty"`
	Children map[string]Snapshot `json:"children,omitempty"`
}

// Snapshot captures the field values and pending changes of the instance
// and its descendants.
func (s *State) Snapshot() Snapshot {
	snap := Snapshot{
		Values: make(map[string]any, len(s.values)),
		Dirty:  s.DirtyFields(),
	}
	for name, f := range s.class.fields {
		if f.kind == KindFiles {
			continue
		}
		snap.Values[name] = deepcopy.Copy(s.values[name])
	}
	if len(s.children) > 0 {
		snap.Children = make(map[string]Snapshot, len(s.children))
		for name, child := range s.children {
			snap.Children[name] = child.Snapshot()
		}
	}
	return snap
}

// Restore creates a root instance from a snapshot. Values are coerced to
// their declared kinds; fields absent from the snapshot keep their
// defaults and unknown names are ignored. Pending changes are flagged
// again so the next delta still carries them.
func (c *Class) Restore(snap Snapshot) (*State, error) {
	s := c.New()
	if err := s.restore(snap); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *State) restore(snap Snapshot) error {
	var errs []error
	for name, value := range snap.Values {
		f, ok := s.class.fields[name]
		if !ok || f.kind == KindFiles {
			continue
		}
		coerced, err := Coerce(f.kind, value)
		if err != nil {
			errs = append(errs, fmt.Errorf("restore %s.%s: %w", s.class.path, name, err))
			continue
		}
		s.values[name] = coerced
	}
	for _, name := range snap.Dirty {
		_, field := s.class.fields[name]
		_, computed := s.class.computed[name]
		if field || computed {
			s.markDirty(name)
		}
	}
	for name, childSnap := range snap.Children {
		child, ok := s.children[name]
		if !ok {
			continue
		}
		if err := child.restore(childSnap); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
