package gateway

import (
	"strings"
	"unicode/utf8"

	"github.com/AliZeynalov/LangDock-LLM-relay/internal/models"
)

// PromptLengthThreshold is the prompt length above which auto picks the slow backend
const PromptLengthThreshold = 220

// SelectModel resolves a route to a model name. Explicit routes map
// directly; auto uses the prompt length.
func SelectModel(route models.Route, prompt string, routes models.RouteTable) string {
	switch route {
	case models.RouteFast:
		return routes.Fast.Name
	case models.RouteSlow:
		return routes.Slow.Name
	}
	if utf8.RuneCountInString(prompt) > PromptLengthThreshold {
		return routes.Slow.Name
	}
	return routes.Fast.Name
}

func normalizeKey(key string) string {
	k := strings.ToLower(strings.TrimSpace(key))
	if k == "" {
		return string(models.RouteAuto)
	}
	return k
}
