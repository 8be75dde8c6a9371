package tui

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/AliZeynalov/LangDock-LLM-relay/internal/chat"
	"github.com/AliZeynalov/LangDock-LLM-relay/internal/config"
	"github.com/AliZeynalov/LangDock-LLM-relay/internal/models"
)

const timeoutUsage = "usage: /timeout fast|slow <duration>"

var errNotCommand = errors.New("not a command")

// timeoutCommand is a parsed "/timeout <route> <duration>" input line
type timeoutCommand struct {
	route   models.Route
	timeout time.Duration
}

// apply stores the new timeout, leaving the other route untouched
func (c timeoutCommand) apply(s chat.State) chat.State {
	if c.route == models.RouteSlow {
		return chat.SetTimeouts(s, 0, c.timeout)
	}
	return chat.SetTimeouts(s, c.timeout, 0)
}

// parseTimeoutCommand parses input typed into the prompt box. Inputs that do
// not start with /timeout return errNotCommand.
func parseTimeoutCommand(input string) (timeoutCommand, error) {
	fields := strings.Fields(input)
	if len(fields) == 0 || fields[0] != "/timeout" {
		return timeoutCommand{}, errNotCommand
	}
	if len(fields) != 3 {
		return timeoutCommand{}, errors.New(timeoutUsage)
	}

	route := models.Route(strings.ToLower(fields[1]))
	if !route.Concrete() {
		return timeoutCommand{}, fmt.Errorf("unknown route %q, %s", fields[1], timeoutUsage)
	}

	d, err := parseTimeout(fields[2])
	if err != nil {
		return timeoutCommand{}, err
	}
	if d < config.MinAttemptTimeout {
		return timeoutCommand{}, fmt.Errorf("timeout must be at least %s", config.MinAttemptTimeout)
	}
	return timeoutCommand{route: route, timeout: d}, nil
}

// parseTimeout accepts a Go duration or a bare number of seconds
func parseTimeout(s string) (time.Duration, error) {
	if secs, err := strconv.Atoi(s); err == nil {
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid timeout %q, %s", s, timeoutUsage)
	}
	return d, nil
}
