package models

import (
	"fmt"
	"strings"
)

// Route is the logical backend selector chosen by the caller
type Route string

const (
	RouteFast Route = "fast"
	RouteSlow Route = "slow"
	RouteAuto Route = "auto" // resolved into a plan, never attempted itself
)

// Concrete reports whether the route names a real backend
func (r Route) Concrete() bool {
	return r == RouteFast || r == RouteSlow
}

// Other returns the alternate concrete backend
func (r Route) Other() Route {
	if r == RouteFast {
		return RouteSlow
	}
	return RouteFast
}

// RouteTable maps routes to the wire keys and models the server exposes.
// The wire keys are what appear in /ai-service/{route} paths.
type RouteTable struct {
	Default Route
	Fast    ModelInfo
	Slow    ModelInfo
}

// NewRouteTable builds a table from a /config/models payload
func NewRouteTable(cfg ModelsConfig) RouteTable {
	return RouteTable{
		Default: RouteAuto,
		Fast:    cfg.Fast,
		Slow:    cfg.Slow,
	}
}

// Info returns the model metadata for a concrete route
func (t RouteTable) Info(r Route) ModelInfo {
	if r == RouteSlow {
		return t.Slow
	}
	return t.Fast
}

// WireKey returns the path segment used for the route
func (t RouteTable) WireKey(r Route) string {
	switch r {
	case RouteFast:
		return t.Fast.Route
	case RouteSlow:
		return t.Slow.Route
	default:
		return string(RouteAuto)
	}
}

// Parse resolves a wire key or route name, case-insensitively
func (t RouteTable) Parse(key string) (Route, error) {
	k := strings.ToLower(strings.TrimSpace(key))
	switch {
	case k == "" || k == string(RouteAuto):
		return RouteAuto, nil
	case k == strings.ToLower(t.Fast.Route) || k == string(RouteFast):
		return RouteFast, nil
	case k == strings.ToLower(t.Slow.Route) || k == string(RouteSlow):
		return RouteSlow, nil
	}
	return "", fmt.Errorf("unknown route %q", key)
}

// Keys lists the accepted wire keys
func (t RouteTable) Keys() []string {
	return []string{t.Fast.Route, t.Slow.Route, string(RouteAuto)}
}

// Config renders the table as the /config/models payload
func (t RouteTable) Config() ModelsConfig {
	return ModelsConfig{
		DefaultRoute: string(t.Default),
		Fast:         t.Fast,
		Slow:         t.Slow,
	}
}
