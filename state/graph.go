package state

import (
	"fmt"
	"slices"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/parser"

	"github.com/tailored-agentic-units/statesync/core/protocol"
)

// identifierCollector gathers the identifiers an expression references.
type identifierCollector struct {
	names map[string]struct{}
}

func (v *identifierCollector) Visit(node *ast.Node) {
	if ident, ok := (*node).(*ast.IdentifierNode); ok {
		v.names[ident.Value] = struct{}{}
	}
}

// compile turns a computed declaration into an evaluable definition, inferring the
// dependencies of expression-based fields from the parsed syntax tree.
func (c *Class) compile(decl *computedDecl) (*computedDef, error) {
	if decl.fn != nil {
		for _, dep := range decl.deps {
			if !c.knows(dep) {
				return nil, fmt.Errorf("dependency %s: %w", dep, ErrUnknownField)
			}
		}
		return &computedDef{name: decl.name, deps: decl.deps, eval: decl.fn}, nil
	}

	tree, err := parser.Parse(decl.expression)
	if err != nil {
		return nil, fmt.Errorf("parse %q: %w", decl.expression, err)
	}
	collector := &identifierCollector{names: map[string]struct{}{}}
	ast.Walk(&tree.Node, collector)

	var deps []string
	for name := range collector.names {
		if c.knows(name) {
			deps = append(deps, name)
		}
	}
	slices.Sort(deps)

	program, err := expr.Compile(decl.expression, expr.AllowUndefinedVariables())
	if err != nil {
		return nil, fmt.Errorf("compile %q: %w", decl.expression, err)
	}

	eval := func(s *State) (any, error) {
		env := make(map[string]any, len(s.values)+len(deps))
		for name, value := range s.values {
			env[name] = value
		}
		for _, dep := range deps {
			if _, ok := s.class.computed[dep]; !ok {
				continue
			}
			value, err := s.computedValue(dep)
			if err != nil {
				return nil, err
			}
			env[dep] = value
		}
		return expr.Run(program, env)
	}
	return &computedDef{name: decl.name, deps: deps, eval: eval}, nil
}

// knows reports whether name is a field or a computed field declared so far
// or about to be declared. Computed names are claimed before compilation so
// expressions may reference computed fields declared after them.
func (c *Class) knows(name string) bool {
	if _, ok := c.fields[name]; ok {
		return true
	}
	if _, ok := c.computed[name]; ok {
		return true
	}
	return c.pending != nil && c.pending[name]
}

// buildGraph derives the reverse dependency map and rejects cycles.
func (c *Class) buildGraph() error {
	c.pending = nil
	c.computedDeps = make(map[string][]string, len(c.computed))
	direct := map[string][]string{}
	for _, name := range c.computedOrder {
		def := c.computed[name]
		c.computedDeps[name] = def.deps
		for _, dep := range def.deps {
			direct[dep] = append(direct[dep], name)
		}
	}

	if cycle := c.findCycle(); cycle != nil {
		return &DependencyCycleError{Class: c.path, Cycle: cycle}
	}

	c.dependents = map[string][]string{}
	for dep := range direct {
		seen := map[string]struct{}{}
		queue := slices.Clone(direct[dep])
		for len(queue) > 0 {
			next := queue[0]
			queue = queue[1:]
			if _, ok := seen[next]; ok {
				continue
			}
			seen[next] = struct{}{}
			queue = append(queue, direct[next]...)
		}
		closed := make([]string, 0, len(seen))
		for name := range seen {
			closed = append(closed, name)
		}
		slices.Sort(closed)
		c.dependents[dep] = closed
	}
	return nil
}

// findCycle returns the first cycle among computed-to-computed
// dependencies, or nil.
func (c *Class) findCycle() []string {
	const (
		unvisited = iota
		visiting
		done
	)
	marks := map[string]int{}
	var stack []string

	var visit func(name string) []string
	visit = func(name string) []string {
		switch marks[name] {
		case visiting:
			start := slices.Index(stack, name)
			return append(slices.Clone(stack[start:]), name)
		case done:
			return nil
		}
		marks[name] = visiting
		stack = append(stack, name)
		for _, dep := range c.computedDeps[name] {
			if _, ok := c.computed[dep]; !ok {
				continue
			}
			if cycle := visit(dep); cycle != nil {
				return cycle
			}
		}
		stack = stack[:len(stack)-1]
		marks[name] = done
		return nil
	}

	for _, name := range c.computedOrder {
		if cycle := visit(name); cycle != nil {
			return cycle
		}
	}
	return nil
}

// routeDecls declares one computed field per dynamic route argument, each
// reading the matching query parameter from the router metadata.
func routeDecls(route string) []*computedDecl {
	var decls []*computedDecl
	for _, arg := range protocol.RouteArgs(route) {
		decls = append(decls, &computedDecl{
			name: arg.Name,
			deps: []string{RouterDataField},
			fn:   routeArgValue(arg),
		})
	}
	return decls
}

func routeArgValue(arg protocol.RouteArg) func(s *State) (any, error) {
	return func(s *State) (any, error) {
		routerData, _ := s.values[RouterDataField].(map[string]any)
		value, ok := protocol.FormatQueryParams(routerData)[arg.Name]

		if arg.Kind == protocol.ArgSingle {
			if !ok || value == nil {
				return "", nil
			}
			return value, nil
		}

		switch v := value.(type) {
		case []any:
			return v, nil
		case nil:
			return []any{}, nil
		default:
			return normalizeList(v), nil
		}
	}
}

func normalizeList(v any) []any {
	if list, ok := normalize(v).([]any); ok {
		return list
	}
	return []any{v}
}
