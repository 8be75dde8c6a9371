package orchestrator

import (
	"fmt"
	"math/rand"
	"time"

	"github.com/AliZeynalov/LangDock-LLM-relay/internal/chat"
	"github.com/AliZeynalov/LangDock-LLM-relay/internal/config"
	"github.com/AliZeynalov/LangDock-LLM-relay/internal/models"
)

// RandSource picks the primary backend of an automatic plan
type RandSource interface {
	IntN(n int) int
}

type globalRand struct{}

func (globalRand) IntN(n int) int { return rand.Intn(n) }

// Planner turns a selected route into an ordered attempt plan
type Planner struct {
	Rand RandSource
}

// Plan returns [route] for an explicit route, or both concrete routes in a
// random order for auto. The plan never holds the same route twice.
func (p Planner) Plan(route models.Route) ([]models.Route, error) {
	switch {
	case route.Concrete():
		return []models.Route{route}, nil
	case route == models.RouteAuto:
		r := p.Rand
		if r == nil {
			r = globalRand{}
		}
		primary := models.RouteFast
		if r.IntN(2) == 1 {
			primary = models.RouteSlow
		}
		return []models.Route{primary, primary.Other()}, nil
	default:
		return nil, fmt.Errorf("plan: unknown route %q", route)
	}
}

// attemptTimeout returns the effective timeout of route in s, never below
// the minimum
func attemptTimeout(s chat.State, route models.Route) time.Duration {
	return config.ClampTimeout(s.TimeoutFor(route))
}
