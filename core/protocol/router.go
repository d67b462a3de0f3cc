package protocol

import (
	"regexp"
	"strings"
)

// Router metadata keys carried in Event.RouterData.
const (
	RoutePathname = "pathname"
	RouteQuery    = "query"
	RouteToken    = "token"
	RouteSID      = "sid"
	RouteHeaders  = "headers"
	RouteIP       = "ip"
	RouteAsPath   = "asPath"
)

// IndexRoute is the route name used for the application root.
const IndexRoute = "index"

// FormatQueryParams extracts the query parameters from router metadata,
// replacing "-" with "_" in every key.
func FormatQueryParams(routerData map[string]any) map[string]any {
	params := map[string]any{}
	query, ok := routerData[RouteQuery].(map[string]any)
	if !ok {
		return params
	}
	for k, v := range query {
		params[strings.ReplaceAll(k, "-", "_")] = v
	}
	return params
}

// FormatRoute normalizes a route path for load-event lookup: surrounding
// slashes are stripped and the empty route becomes IndexRoute.
func FormatRoute(route string) string {
	route = strings.Trim(route, "/")
	if route == "" {
		return IndexRoute
	}
	return route
}

// ArgKind describes how a dynamic route segment captures its value.
type ArgKind int

const (
	// ArgSingle captures one segment: "[id]".
	ArgSingle ArgKind = iota
	// ArgCatchAll captures one or more segments: "[...slug]".
	ArgCatchAll
	// ArgOptionalCatchAll captures zero or more segments: "[[...slug]]".
	ArgOptionalCatchAll
)

var (
	optionalCatchAllPattern = regexp.MustCompile(`^\[\[\.\.\.([A-Za-z_][A-Za-z0-9_]*)\]\]$`)
	catchAllPattern         = regexp.MustCompile(`^\[\.\.\.([A-Za-z_][A-Za-z0-9_]*)\]$`)
	singlePattern           = regexp.MustCompile(`^\[([A-Za-z_][A-Za-z0-9_]*)\]$`)
)

// RouteArg is a dynamic segment of a route.
type RouteArg struct {
	Name string
	Kind ArgKind
}

// RouteArgs returns the dynamic arguments declared in a route, in segment
// order. Static segments are ignored.
//
//	RouteArgs("/post/[id]/[...rest]") // [{id ArgSingle} {rest ArgCatchAll}]
func RouteArgs(route string) []RouteArg {
	var args []RouteArg
	for _, segment := range strings.Split(route, "/") {
		if m := optionalCatchAllPattern.FindStringSubmatch(segment); m != nil {
			args = append(args, RouteArg{Name: m[1], Kind: ArgOptionalCatchAll})
			continue
		}
		if m := catchAllPattern.FindStringSubmatch(segment); m != nil {
			args = append(args, RouteArg{Name: m[1], Kind: ArgCatchAll})
			continue
		}
		if m := singlePattern.FindStringSubmatch(segment); m != nil {
			args = append(args, RouteArg{Name: m[1], Kind: ArgSingle})
		}
	}
	return args
}
