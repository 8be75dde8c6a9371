package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/AliZeynalov/LangDock-LLM-relay/internal/chat"
	"github.com/AliZeynalov/LangDock-LLM-relay/internal/config"
	"github.com/AliZeynalov/LangDock-LLM-relay/internal/models"
)

var (
	headerStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("12"))
	userStyle      = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	assistantStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("13"))
	metaStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	errorStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	toastStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Italic(true)
)

// attemptLabel renders one attempt record as a short status chip. A running
// attempt shows its live age at now.
func attemptLabel(a models.AttemptRecord, spin string, now time.Time) string {
	elapsed := a.Elapsed
	var status string
	switch a.Status {
	case models.AttemptRunning:
		status = spin + " running"
		elapsed = models.ElapsedSeconds(now.Sub(a.Start))
	case models.AttemptSuccess:
		status = "✓"
	case models.AttemptTimedOut:
		status = "⏱ timed out"
	case models.AttemptCancelled:
		status = "■ cancelled"
	case models.AttemptFailed:
		status = "✗ failed"
	default:
		status = "?"
	}
	out := fmt.Sprintf("%s %s %ds", a.Model, status, elapsed)
	if a.FirstByteElapsed != nil {
		out += fmt.Sprintf(" (first byte %ds)", *a.FirstByteElapsed)
	}
	return out
}

// attemptLine joins every attempt of a message in plan order
func attemptLine(m models.Message, spin string, now time.Time) string {
	if len(m.Attempts) == 0 {
		return ""
	}
	parts := make([]string, len(m.Attempts))
	for i, a := range m.Attempts {
		parts[i] = attemptLabel(a, spin, now)
	}
	return strings.Join(parts, " → ")
}

func renderMessage(m models.Message, routes models.RouteTable, spin string, now time.Time, width int) string {
	body := lipgloss.NewStyle().Width(max(width, 20))
	if m.Role == models.RoleUser {
		return userStyle.Render("You") + "\n" + body.Render(m.Text)
	}

	title := "Assistant"
	if m.Model != "" {
		title = m.Model
		if label := routeLabel(m.Route, routes); label != "" {
			title += " · " + label
		}
	}

	var b strings.Builder
	b.WriteString(assistantStyle.Render(title))
	if line := attemptLine(m, spin, now); line != "" {
		b.WriteString("\n" + metaStyle.Render(line))
	}
	text := m.Text
	if text == "" && m.Streaming {
		text = spin
	}
	if text != "" {
		b.WriteString("\n" + body.Render(text))
	}
	if !m.Streaming && m.LatencyMS > 0 {
		b.WriteString("\n" + metaStyle.Render(fmt.Sprintf("%d ms", m.LatencyMS)))
	}
	return b.String()
}

func renderTranscript(msgs []models.Message, routes models.RouteTable, spin string, now time.Time, width int) string {
	blocks := make([]string, 0, len(msgs))
	for _, m := range msgs {
		blocks = append(blocks, renderMessage(m, routes, spin, now, width))
	}
	return strings.Join(blocks, "\n\n")
}

func routeLabel(r models.Route, routes models.RouteTable) string {
	switch r {
	case models.RouteFast:
		return routes.Fast.Label
	case models.RouteSlow:
		return routes.Slow.Label
	case models.RouteAuto:
		return "Auto"
	}
	return ""
}

// nextRoute cycles auto → fast → slow → auto
func nextRoute(r models.Route) models.Route {
	switch r {
	case models.RouteAuto:
		return models.RouteFast
	case models.RouteFast:
		return models.RouteSlow
	default:
		return models.RouteAuto
	}
}

func formatTimeouts(s chat.State) string {
	return fmt.Sprintf("timeouts: fast %s · slow %s", config.ClampTimeout(s.TimeoutFast), config.ClampTimeout(s.TimeoutSlow))
}
