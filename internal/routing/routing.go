// Package routing maps request paths to view handlers.
//
// Routes are matched in registration order, first match wins. Patterns
// are literal paths with optional placeholder segments: "/user/<id>/"
// captures the second segment under "id". Richer matching is out of
// scope for the core.
package routing

import (
	"fmt"
	"strings"
	"sync"

	"github.com/fscherf/lona/internal/views"
)

// MatchInfo holds captured path parameters, keyed by placeholder name.
type MatchInfo map[string]string

// Route is one ordered entry in the routing table. Immutable after
// registration. Handler references a registry name resolved at startup;
// Resolved carries the handler once the registry lookup happened.
type Route struct {
	Pattern         string
	Handler         string
	Resolved        views.Handler
	Name            string
	Interactive     bool
	HTTPPassThrough bool
	MultiUser       bool
	FrontendView    string

	segments []segment
}

type segment struct {
	literal string
	param   string
}

// NewRoute builds an interactive route. Flags are adjusted with the
// With* helpers to keep call sites readable.
func NewRoute(pattern, handler string) *Route {
	return &Route{
		Pattern:     pattern,
		Handler:     handler,
		Interactive: true,
	}
}

// WithName sets the reverse-index name.
func (r *Route) WithName(name string) *Route {
	r.Name = name
	return r
}

// WithHandler attaches an already resolved handler.
func (r *Route) WithHandler(h views.Handler) *Route {
	r.Resolved = h
	return r
}

// NonInteractive marks the route as served over plain HTTP only.
func (r *Route) NonInteractive() *Route {
	r.Interactive = false
	return r
}

// PassThrough marks the route as handled outside the view runtime.
func (r *Route) PassThrough() *Route {
	r.HTTPPassThrough = true
	return r
}

// Shared marks the route as a multi-user view, started at boot and
// shared by every user.
func (r *Route) Shared() *Route {
	r.MultiUser = true
	return r
}

// WithFrontendView overrides the frontend shell handler for this route.
func (r *Route) WithFrontendView(handler string) *Route {
	r.FrontendView = handler
	return r
}

func (r *Route) compile() error {
	if r.Pattern == "" || r.Pattern[0] != '/' {
		return fmt.Errorf("route pattern %q must start with '/'", r.Pattern)
	}

	parts := strings.Split(r.Pattern, "/")
	r.segments = make([]segment, 0, len(parts))

	for _, part := range parts {
		if strings.HasPrefix(part, "<") && strings.HasSuffix(part, ">") {
			name := part[1 : len(part)-1]
			if name == "" {
				return fmt.Errorf("route pattern %q has an unnamed placeholder", r.Pattern)
			}
			r.segments = append(r.segments, segment{param: name})
			continue
		}
		if strings.ContainsAny(part, "<>") {
			return fmt.Errorf("route pattern %q mixes literals and placeholders in one segment", r.Pattern)
		}
		r.segments = append(r.segments, segment{literal: part})
	}

	return nil
}

// match reports whether path satisfies the pattern, capturing
// placeholder segments.
func (r *Route) match(path string) (MatchInfo, bool) {
	parts := strings.Split(path, "/")
	if len(parts) != len(r.segments) {
		return nil, false
	}

	var info MatchInfo
	for i, seg := range r.segments {
		if seg.param != "" {
			if parts[i] == "" {
				return nil, false
			}
			if info == nil {
				info = make(MatchInfo, 2)
			}
			info[seg.param] = parts[i]
			continue
		}
		if parts[i] != seg.literal {
			return nil, false
		}
	}

	if info == nil {
		info = MatchInfo{}
	}
	return info, true
}

// Router is an ordered route list plus a reverse index from name to
// route. Read-only after startup; registration is not expected to race
// with resolution, but the lock keeps introspection safe.
type Router struct {
	routes []*Route
	byName map[string]*Route
	mutex  sync.RWMutex
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{
		byName: make(map[string]*Route),
	}
}

// Add validates, compiles and appends a route. Ties in matching are
// broken by registration order.
func (router *Router) Add(route *Route) error {
	if err := route.compile(); err != nil {
		return err
	}

	router.mutex.Lock()
	defer router.mutex.Unlock()

	if route.Name != "" {
		if _, exists := router.byName[route.Name]; exists {
			return fmt.Errorf("duplicate route name %q", route.Name)
		}
		router.byName[route.Name] = route
	}

	router.routes = append(router.routes, route)
	return nil
}

// AddAll registers routes in order, stopping at the first failure.
func (router *Router) AddAll(routes []*Route) error {
	for _, route := range routes {
		if err := router.Add(route); err != nil {
			return err
		}
	}
	return nil
}

// Resolve scans routes in registration order and returns the first
// match with its captured parameters.
func (router *Router) Resolve(path string) (bool, *Route, MatchInfo) {
	router.mutex.RLock()
	defer router.mutex.RUnlock()

	for _, route := range router.routes {
		if info, ok := route.match(path); ok {
			return true, route, info
		}
	}
	return false, nil, nil
}

// RouteByName returns the route registered under name.
func (router *Router) RouteByName(name string) (*Route, bool) {
	router.mutex.RLock()
	defer router.mutex.RUnlock()

	route, ok := router.byName[name]
	return route, ok
}

// Routes returns a snapshot of the routing table in registration order.
func (router *Router) Routes() []*Route {
	router.mutex.RLock()
	defer router.mutex.RUnlock()

	result := make([]*Route, len(router.routes))
	copy(result, router.routes)
	return result
}
