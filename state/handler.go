package state

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/tailored-agentic-units/statesync/core/protocol"
)

// HandlerFunc handles an event on the state instance it is registered on.
// It may mutate s and return follow-up calls that are dispatched, in order,
// immediately after it.
type HandlerFunc func(ctx context.Context, s *State, args Args) ([]Call, error)

// Param declares a payload argument of a handler.
type Param struct {
	Name string
	Kind Kind
}

// Handler is a registered event handler and its declared parameters.
type Handler struct {
	name   string
	fn     HandlerFunc
	params []Param
}

// Name returns the local handler name.
func (h *Handler) Name() string { return h.name }

// Params returns the declared parameters.
func (h *Handler) Params() []Param { return slices.Clone(h.params) }

// ParamOfKind returns the first declared parameter of kind k.
func (h *Handler) ParamOfKind(k Kind) (Param, bool) {
	for _, p := range h.params {
		if p.Kind == k {
			return p, true
		}
	}
	return Param{}, false
}

// bind coerces the payload values of declared parameters. Undeclared
// payload keys are passed through unchanged.
func (h *Handler) bind(payload map[string]any) (Args, error) {
	args := Args(maps.Clone(payload))
	if args == nil {
		args = Args{}
	}
	for _, p := range h.params {
		value, ok := args[p.Name]
		if !ok {
			return nil, fmt.Errorf("handler %s: %w: %s", h.name, ErrMissingArgument, p.Name)
		}
		coerced, err := Coerce(p.Kind, value)
		if err != nil {
			return nil, fmt.Errorf("handler %s: argument %s: %w", h.name, p.Name, err)
		}
		args[p.Name] = coerced
	}
	return args, nil
}

func newSetter(f *fieldDef) *Handler {
	field := f.name
	return &Handler{
		name:   SetterPrefix + field,
		params: []Param{{Name: "value", Kind: f.kind}},
		fn: func(_ context.Context, s *State, args Args) ([]Call, error) {
			return nil, s.Set(field, args["value"])
		},
	}
}

// Call is a follow-up event requested by a handler. A Name without a dot
// refers to a handler on the same state instance; a dotted Name is a full
// handler path.
type Call struct {
	Name    string
	Payload map[string]any
}

// Args holds the bound payload of a handler invocation.
type Args map[string]any

// Int returns an int argument, or 0 when absent or of another kind.
func (a Args) Int(name string) int {
	v, _ := a[name].(int)
	return v
}

// Float returns a float64 argument, accepting ints.
func (a Args) Float(name string) float64 {
	switch v := a[name].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}

// String returns a string argument.
func (a Args) String(name string) string {
	v, _ := a[name].(string)
	return v
}

// Bool returns a bool argument.
func (a Args) Bool(name string) bool {
	v, _ := a[name].(bool)
	return v
}

// List returns a list argument.
func (a Args) List(name string) []any {
	v, _ := a[name].([]any)
	return v
}

// Map returns a map argument.
func (a Args) Map(name string) map[string]any {
	v, _ := a[name].(map[string]any)
	return v
}

// Files returns an uploaded files argument.
func (a Args) Files(name string) []protocol.UploadFile {
	v, _ := a[name].([]protocol.UploadFile)
	return v
}
