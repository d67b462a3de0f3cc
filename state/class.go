package state

import (
	"fmt"
	"slices"
	"strings"

	"github.com/mohae/deepcopy"
)

// Built-in field names.
const (
	// RouterDataField holds the request metadata of the latest event. It is a
	// backend field present on every state class.
	RouterDataField = "router_data"

	// HydratedField reports whether the client has finished its initial
	// load. It is declared on root classes only.
	HydratedField = "is_hydrated"
)

// SetterPrefix prefixes the generated setter handler of every plain field.
const SetterPrefix = "set_"

type fieldDef struct {
	name    string
	kind    Kind
	def     any
	backend bool
}

type computedDef struct {
	name string
	deps []string
	eval func(s *State) (any, error)
}

// Class is the immutable definition of a state instance: its fields,
// computed fields, handlers, child classes and dependency graph. Classes
// are created with a Builder and shared by every session.
type Class struct {
	name   string
	path   string
	parent *Class

	fields     map[string]*fieldDef
	fieldOrder []string

	computed      map[string]*computedDef
	computedOrder []string

	handlers map[string]*Handler

	children     map[string]*Class
	childOrder   []string
	dependents   map[string][]string
	computedDeps map[string][]string

	pending map[string]bool
}

// Name returns the local name of the class.
func (c *Class) Name() string { return c.name }

// Path returns the dot-qualified path of instances of this class.
func (c *Class) Path() string { return c.path }

// Parent returns the parent class, or nil for a root class.
func (c *Class) Parent() *Class { return c.parent }

// Fields returns the plain and backend field names in declaration order.
func (c *Class) Fields() []string { return slices.Clone(c.fieldOrder) }

// ComputedFields returns the computed field names in declaration order.
func (c *Class) ComputedFields() []string { return slices.Clone(c.computedOrder) }

// IsBackend reports whether name is a backend field.
func (c *Class) IsBackend(name string) bool {
	f, ok := c.fields[name]
	return ok && f.backend
}

// FieldKind returns the declared kind of a plain or backend field.
func (c *Class) FieldKind(name string) (Kind, bool) {
	f, ok := c.fields[name]
	if !ok {
		return KindAny, false
	}
	return f.kind, true
}

// Handler returns the handler registered under a local name.
func (c *Class) Handler(name string) (*Handler, bool) {
	h, ok := c.handlers[name]
	return h, ok
}

// Handlers returns the local handler names, sorted.
func (c *Class) Handlers() []string {
	names := make([]string, 0, len(c.handlers))
	for name := range c.handlers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Child returns the child class registered under a local name.
func (c *Class) Child(name string) (*Class, bool) {
	child, ok := c.children[name]
	return child, ok
}

// Children returns the child classes in declaration order.
func (c *Class) Children() []*Class {
	out := make([]*Class, 0, len(c.childOrder))
	for _, name := range c.childOrder {
		out = append(out, c.children[name])
	}
	return out
}

// Dependents returns the computed fields that must be recomputed when name
// changes, transitively closed and sorted.
func (c *Class) Dependents(name string) []string {
	return slices.Clone(c.dependents[name])
}

// New creates a root instance with every field at its declared default.
func (c *Class) New() *State {
	return c.instantiate(nil)
}

func (c *Class) instantiate(parent *State) *State {
	s := &State{
		class:          c,
		parent:         parent,
		values:         make(map[string]any, len(c.fields)),
		cache:          map[string]any{},
		dirty:          map[string]struct{}{},
		dirtySubstates: map[string]struct{}{},
		children:       make(map[string]*State, len(c.children)),
	}
	for name, f := range c.fields {
		s.values[name] = deepcopy.Copy(f.def)
	}
	for _, name := range c.childOrder {
		s.children[name] = c.children[name].instantiate(s)
	}
	return s
}

// Builder declares a state class. Errors are collected and reported by
// Build, so declarations can be chained.
//
// Example:
//
//	sub := state.NewBuilder("sub").Field("items", []any{})
//	class, err := state.NewBuilder("state").
//		Field("count", 0).
//		Computed("double", "count * 2").
//		Handler("increment", increment).
//		Child(sub).
//		Build()
type Builder struct {
	name     string
	fields   []*fieldDef
	computed []*computedDecl
	handlers []*Handler
	children []*Builder
	routes   []string
	errs     []error
}

type computedDecl struct {
	name       string
	expression string
	deps       []string
	fn         func(s *State) (any, error)
}

// NewBuilder starts the declaration of a class with the given local name.
func NewBuilder(name string) *Builder {
	return &Builder{name: name}
}

// Field declares a plain field. Its kind is inferred from the default and
// a "set_<name>" handler is generated for it.
func (b *Builder) Field(name string, def any) *Builder {
	return b.addField(name, def, false)
}

// Backend declares a field that is stored and persisted but never sent to
// the client.
func (b *Builder) Backend(name string, def any) *Builder {
	return b.addField(name, def, true)
}

func (b *Builder) addField(name string, def any, backend bool) *Builder {
	kind := KindOf(def)
	value, err := Coerce(kind, deepcopy.Copy(def))
	if err != nil {
		b.errs = append(b.errs, fmt.Errorf("field %s: %w", name, err))
		return b
	}
	b.fields = append(b.fields, &fieldDef{name: name, kind: kind, def: value, backend: backend})
	return b
}

// Computed declares a computed field defined by an expression over the
// other fields of the class. Dependencies are inferred from the
// identifiers the expression references.
func (b *Builder) Computed(name, expression string) *Builder {
	b.computed = append(b.computed, &computedDecl{name: name, expression: expression})
	return b
}

// ComputedFunc declares a computed field evaluated by fn. deps lists every
// field or computed field fn reads.
func (b *Builder) ComputedFunc(name string, deps []string, fn func(s *State) (any, error)) *Builder {
	b.computed = append(b.computed, &computedDecl{name: name, deps: slices.Clone(deps), fn: fn})
	return b
}

// Handler registers an event handler under a local name. params declares
// the payload arguments the handler expects.
func (b *Builder) Handler(name string, fn HandlerFunc, params ...Param) *Builder {
	b.handlers = append(b.handlers, &Handler{name: name, fn: fn, params: slices.Clone(params)})
	return b
}

// Child nests the class declared by child under this class.
func (b *Builder) Child(child *Builder) *Builder {
	b.children = append(b.children, child)
	return b
}

// Route declares a computed field for every dynamic argument of route.
func (b *Builder) Route(route string) *Builder {
	b.routes = append(b.routes, route)
	return b
}

// Build validates the declarations and returns the root class of the tree.
func (b *Builder) Build() (*Class, error) {
	return b.build(nil)
}

func (b *Builder) build(parent *Class) (*Class, error) {
	if err := validName(b.name); err != nil {
		return nil, err
	}
	if len(b.errs) > 0 {
		return nil, fmt.Errorf("class %s: %w", b.name, b.errs[0])
	}

	c := &Class{
		name:     b.name,
		path:     b.name,
		parent:   parent,
		fields:   map[string]*fieldDef{},
		computed: map[string]*computedDef{},
		handlers: map[string]*Handler{},
		children: map[string]*Class{},
	}
	if parent != nil {
		c.path = parent.path + "." + b.name
	}

	seen := map[string]string{}
	claim := func(name, what string) error {
		if err := validName(name); err != nil {
			return fmt.Errorf("class %s: %s: %w", c.path, what, err)
		}
		if prev, ok := seen[name]; ok {
			return fmt.Errorf("class %s: %s %q conflicts with %s: %w", c.path, what, name, prev, ErrDuplicateName)
		}
		seen[name] = what
		return nil
	}

	fields := []*fieldDef{{name: RouterDataField, kind: KindMap, def: map[string]any{}, backend: true}}
	if parent == nil {
		fields = append(fields, &fieldDef{name: HydratedField, kind: KindBool, def: false})
	}
	fields = append(fields, b.fields...)
	for _, f := range fields {
		if err := claim(f.name, "field"); err != nil {
			return nil, err
		}
		c.fields[f.name] = f
		c.fieldOrder = append(c.fieldOrder, f.name)
	}

	decls := slices.Clone(b.computed)
	for _, route := range b.routes {
		decls = append(decls, routeDecls(route)...)
	}
	c.pending = make(map[string]bool, len(decls))
	for _, decl := range decls {
		if err := claim(decl.name, "computed field"); err != nil {
			return nil, err
		}
		c.pending[decl.name] = true
	}
	for _, decl := range decls {
		def, err := c.compile(decl)
		if err != nil {
			return nil, fmt.Errorf("class %s: computed field %s: %w", c.path, decl.name, err)
		}
		c.computed[def.name] = def
		c.computedOrder = append(c.computedOrder, def.name)
	}

	for _, h := range b.handlers {
		if err := claim(h.name, "handler"); err != nil {
			return nil, err
		}
		c.handlers[h.name] = h
	}
	for _, name := range c.fieldOrder {
		f := c.fields[name]
		setter := SetterPrefix + name
		if f.backend {
			continue
		}
		if _, ok := c.handlers[setter]; ok {
			continue
		}
		if _, ok := seen[setter]; ok {
			continue
		}
		c.handlers[setter] = newSetter(f)
	}

	for _, child := range b.children {
		if err := claim(child.name, "child"); err != nil {
			return nil, err
		}
		built, err := child.build(c)
		if err != nil {
			return nil, err
		}
		c.children[built.name] = built
		c.childOrder = append(c.childOrder, built.name)
	}

	if err := c.buildGraph(); err != nil {
		return nil, err
	}
	return c, nil
}

func validName(name string) error {
	if name == "" || strings.ContainsAny(name, ". :") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}
