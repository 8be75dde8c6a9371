// Package orchestrator runs one chat turn as an ordered series of backend
// attempts with per-attempt timeouts, failover and user cancellation, and
// records every attempt in the chat state.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/AliZeynalov/LangDock-LLM-relay/internal/chat"
	"github.com/AliZeynalov/LangDock-LLM-relay/internal/models"
	"github.com/AliZeynalov/LangDock-LLM-relay/internal/sanitize"
)

// ErrEmptyPrompt is returned by Submit for a blank prompt
var ErrEmptyPrompt = errors.New("prompt is empty")

// State is the lifecycle state of a turn
type State int

const (
	StateIdle State = iota
	StatePlanning
	StateAttempting
	StateSucceeded
	StateExhausted
	StateUserCancelled
)

func (s State) String() string {
	switch s {
	case StatePlanning:
		return "planning"
	case StateAttempting:
		return "attempting"
	case StateSucceeded:
		return "succeeded"
	case StateExhausted:
		return "exhausted"
	case StateUserCancelled:
		return "user_cancelled"
	default:
		return "idle"
	}
}

// TurnContext is the bookkeeping of one user turn. It is created when the
// turn is submitted and released when the turn settles.
type TurnContext struct {
	ID        string
	Selected  models.Route
	Prompt    string
	Plan      []models.Route
	MessageID string

	state       State
	index       int
	anyTimedOut bool
	lastErr     error

	userCancelled atomic.Bool
	mu            sync.Mutex
	cancel        context.CancelCauseFunc
	done          chan struct{}
}

func newTurn(route models.Route, prompt string) *TurnContext {
	return &TurnContext{
		ID:       "turn_" + uuid.NewString()[:8],
		Selected: route,
		Prompt:   prompt,
		done:     make(chan struct{}),
	}
}

// Stop cancels the in-flight attempt, if any, and prevents further ones
func (t *TurnContext) Stop() {
	t.userCancelled.Store(true)
	t.mu.Lock()
	cancel := t.cancel
	t.mu.Unlock()
	if cancel != nil {
		cancel(ErrUserStopped)
	}
}

// Done is closed once the turn has settled
func (t *TurnContext) Done() <-chan struct{} {
	return t.done
}

// arm publishes the cancel func of the attempt about to start. A stop that
// raced ahead of it is applied immediately.
func (t *TurnContext) arm(cancel context.CancelCauseFunc) {
	t.mu.Lock()
	t.cancel = cancel
	t.mu.Unlock()
	if t.userCancelled.Load() {
		cancel(ErrUserStopped)
	}
}

func (t *TurnContext) disarm() {
	t.mu.Lock()
	t.cancel = nil
	t.mu.Unlock()
}

// Outcome describes how a turn settled
type Outcome struct {
	TurnID    string
	MessageID string
	State     State
	Plan      []models.Route
	Model     string
}

// Options configures an Orchestrator
type Options struct {
	Routes   models.RouteTable
	Rand     RandSource
	Clock    Clock
	Observer Observer
	Logger   *log.Entry
}

// Orchestrator runs turns against a Transport and records them in a Store.
// At most one turn is active; submitting a new one stops the previous.
type Orchestrator struct {
	transport Transport
	store     *chat.Store
	routes    models.RouteTable
	planner   Planner
	clock     Clock
	observer  Observer
	logger    *log.Entry

	mu     sync.Mutex
	active *TurnContext
}

// New creates an orchestrator
func New(transport Transport, store *chat.Store, opts Options) *Orchestrator {
	if opts.Clock == nil {
		opts.Clock = realClock{}
	}
	if opts.Logger == nil {
		opts.Logger = log.NewEntry(log.StandardLogger())
	}
	return &Orchestrator{
		transport: transport,
		store:     store,
		routes:    opts.Routes,
		planner:   Planner{Rand: opts.Rand},
		clock:     opts.Clock,
		observer:  opts.Observer,
		logger:    opts.Logger,
	}
}

// Routes returns the route table the orchestrator was built with
func (o *Orchestrator) Routes() models.RouteTable {
	return o.routes
}

// Submit runs a turn for prompt on route and blocks until it settles. A
// turn that ends by user stop returns a nil error; one that runs out of
// plan entries returns a *PlanExhaustedError.
func (o *Orchestrator) Submit(ctx context.Context, route models.Route, prompt string) (Outcome, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return Outcome{}, ErrEmptyPrompt
	}

	turn := newTurn(route, prompt)
	if err := o.acquire(ctx, turn); err != nil {
		return Outcome{}, err
	}
	defer o.release(turn)

	return o.run(ctx, turn)
}

// Stop cancels the active turn, if any
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	turn := o.active
	o.mu.Unlock()
	if turn != nil {
		turn.Stop()
	}
}

// Clear stops the active turn, waits for it to settle and empties the log
func (o *Orchestrator) Clear(ctx context.Context) error {
	if err := o.waitIdle(ctx); err != nil {
		return err
	}
	o.store.Apply(chat.ClearAll)
	return nil
}

// acquire installs turn as the active turn, stopping and waiting out any
// previous one first.
func (o *Orchestrator) acquire(ctx context.Context, turn *TurnContext) error {
	for {
		o.mu.Lock()
		prev := o.active
		if prev == nil {
			o.active = turn
			o.mu.Unlock()
			return nil
		}
		o.mu.Unlock()

		prev.Stop()
		select {
		case <-prev.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (o *Orchestrator) waitIdle(ctx context.Context) error {
	for {
		o.mu.Lock()
		prev := o.active
		o.mu.Unlock()
		if prev == nil {
			return nil
		}
		prev.Stop()
		select {
		case <-prev.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (o *Orchestrator) release(turn *TurnContext) {
	o.mu.Lock()
	if o.active == turn {
		o.active = nil
	}
	o.mu.Unlock()
	close(turn.done)
}

func (o *Orchestrator) run(ctx context.Context, turn *TurnContext) (Outcome, error) {
	logger := o.logger.WithField("turn_id", turn.ID)

	turn.state = StatePlanning
	if err := o.plan(turn); err != nil {
		turn.state = StateIdle
		return Outcome{TurnID: turn.ID}, err
	}
	logger.WithFields(log.Fields{
		"event": "turn_planned",
		"route": turn.Selected,
		"plan":  turn.Plan,
	}).Debug("Turn planned")

	turn.state = StateAttempting
	for turn.state == StateAttempting {
		turn.state = o.attempt(ctx, turn, logger)
	}

	out := Outcome{
		TurnID:    turn.ID,
		MessageID: turn.MessageID,
		State:     turn.state,
		Plan:      turn.Plan,
	}
	if m, _, ok := o.store.Snapshot().Find(turn.MessageID); ok {
		out.Model = m.Model
	}

	var err error
	if turn.state == StateExhausted {
		exhausted := &PlanExhaustedError{TimedOut: turn.anyTimedOut, Attempts: len(turn.Plan), Last: turn.lastErr}
		o.store.Apply(func(s chat.State) chat.State {
			s = chat.UpdateMessage(s, turn.MessageID, func(m models.Message) models.Message {
				m.Streaming = false
				return m
			})
			return chat.SetSendError(s, exhausted.UserMessage())
		})
		o.emit(Event{Kind: EventTurnExhausted, TurnID: turn.ID, MessageID: turn.MessageID, Text: exhausted.UserMessage()})
		err = exhausted
	}
	o.store.Apply(func(s chat.State) chat.State { return chat.SetSending(s, false) })

	logger.WithFields(log.Fields{
		"event": "turn_settled",
		"state": turn.state.String(),
	}).Info("Turn settled")
	return out, err
}

// plan builds the attempt plan and creates the turn's messages
func (o *Orchestrator) plan(turn *TurnContext) error {
	plan, err := o.planner.Plan(turn.Selected)
	if err != nil {
		return err
	}
	turn.Plan = plan

	first := o.routes.Info(plan[0]).Name
	o.store.Apply(func(s chat.State) chat.State {
		s = chat.SetSendError(s, "")
		s = chat.SetSending(s, true)
		s, turn.MessageID = chat.AppendUserAndPlaceholder(s, turn.Prompt, plan[0], first)
		return s
	})
	return nil
}

// attemptRun is the per-attempt scratch state
type attemptRun struct {
	index     int
	route     models.Route
	model     string
	start     time.Time
	firstByte *int
}

// attempt runs plan entry turn.index to completion and returns the next state
func (o *Orchestrator) attempt(ctx context.Context, turn *TurnContext, logger *log.Entry) State {
	a := &attemptRun{
		index: turn.index,
		route: turn.Plan[turn.index],
		model: o.routes.Info(turn.Plan[turn.index]).Name,
		start: o.clock.Now(),
	}
	timeout := attemptTimeout(o.store.Snapshot(), a.route)

	o.store.Apply(func(s chat.State) chat.State {
		s = chat.UpdateAttempt(s, turn.MessageID, a.index, func(models.AttemptRecord) models.AttemptRecord {
			return models.NewRunningAttempt(a.route, a.model, a.start)
		})
		return chat.UpdateMessage(s, turn.MessageID, func(m models.Message) models.Message {
			m.Route = a.route
			m.Model = a.model
			m.Streaming = true
			return m
		})
	})

	attemptCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	timer := o.clock.AfterFunc(timeout, func() { cancel(ErrAttemptTimeout) })
	defer timer.Stop()
	turn.arm(cancel)
	defer turn.disarm()

	logger = logger.WithFields(log.Fields{"attempt": a.index, "route": a.route, "model": a.model})
	logger.WithFields(log.Fields{
		"event":   "attempt_started",
		"timeout": timeout.String(),
	}).Info("Attempt started")
	o.emit(Event{Kind: EventAttemptStarted, TurnID: turn.ID, MessageID: turn.MessageID, Attempt: a.index, Route: a.route, Model: a.model})

	stream, err := o.transport.OpenStream(WithTurnID(attemptCtx, turn.ID), a.route, turn.Prompt)
	if err != nil {
		if attemptCtx.Err() != nil {
			return o.onClosed(attemptCtx, turn, a, logger)
		}
		return o.onFailure(turn, a, err, logger)
	}
	defer stream.Close()

	for {
		fragment, err := stream.Recv()
		if attemptCtx.Err() != nil {
			return o.onClosed(attemptCtx, turn, a, logger)
		}
		if fragment != "" {
			o.deliver(turn, a, fragment)
		}
		if errors.Is(err, io.EOF) {
			return o.onSuccess(turn, a, stream.Model(), logger)
		}
		if err != nil {
			return o.onFailure(turn, a, err, logger)
		}
	}
}

// deliver appends a fragment and records time-to-first-byte
func (o *Orchestrator) deliver(turn *TurnContext, a *attemptRun, fragment string) {
	first := a.firstByte == nil && strings.TrimSpace(fragment) != ""
	if first {
		ttfb := models.ElapsedSeconds(o.clock.Now().Sub(a.start))
		a.firstByte = &ttfb
		o.emit(Event{Kind: EventFirstByte, TurnID: turn.ID, MessageID: turn.MessageID, Attempt: a.index, Route: a.route, Model: a.model})
	}
	o.store.Apply(func(s chat.State) chat.State {
		if first {
			s = chat.UpdateAttempt(s, turn.MessageID, a.index, func(rec models.AttemptRecord) models.AttemptRecord {
				rec.FirstByteElapsed = a.firstByte
				rec.Elapsed = *a.firstByte
				return rec
			})
		}
		return chat.AppendChunk(s, chat.ByID(turn.MessageID), fragment)
	})
}

// onClosed settles an attempt whose context was cancelled, by cause
func (o *Orchestrator) onClosed(ctx context.Context, turn *TurnContext, a *attemptRun, logger *log.Entry) State {
	if errors.Is(context.Cause(ctx), ErrAttemptTimeout) {
		return o.onTimeout(turn, a, logger)
	}
	return o.onUserStop(turn, a, logger)
}

func (o *Orchestrator) onSuccess(turn *TurnContext, a *attemptRun, reported string, logger *log.Entry) State {
	latency := o.clock.Now().Sub(a.start)
	model := reported
	if model == "" {
		model = a.model
	}
	elapsed := models.ElapsedSeconds(latency)
	if a.firstByte != nil {
		elapsed = *a.firstByte
	}

	o.store.Apply(func(s chat.State) chat.State {
		s = chat.UpdateAttempt(s, turn.MessageID, a.index, o.finalize(a, models.AttemptSuccess, elapsed, ""))
		return chat.UpdateMessage(s, turn.MessageID, func(m models.Message) models.Message {
			m.Text = CleanReply(m.Text, model)
			m.HTML = sanitize.Simple(m.Text)
			m.Route = a.route
			m.Model = model
			m.LatencyMS = latency.Milliseconds()
			m.Streaming = false
			return m
		})
	})

	logger.WithFields(log.Fields{
		"event":      "attempt_succeeded",
		"latency_ms": latency.Milliseconds(),
	}).Info("Attempt succeeded")
	o.emit(Event{Kind: EventTurnSucceeded, TurnID: turn.ID, MessageID: turn.MessageID, Attempt: a.index, Route: a.route, Model: model})
	return StateSucceeded
}

func (o *Orchestrator) onTimeout(turn *TurnContext, a *attemptRun, logger *log.Entry) State {
	turn.anyTimedOut = true
	elapsed := models.ElapsedSeconds(o.clock.Now().Sub(a.start))
	auto := turn.Selected == models.RouteAuto

	marker := fmt.Sprintf("\n[%s timed out — request cancelled]", a.model)
	toast := fmt.Sprintf("%s timed out — request cancelled", a.model)
	if auto {
		marker = fmt.Sprintf("\n[%s timed out — switching to alternate model]", a.model)
		toast = fmt.Sprintf("%s timed out — trying fallback model", a.model)
	}

	next := -1
	if auto && a.index+1 < len(turn.Plan) {
		next = a.index + 1
	}

	o.store.Apply(func(s chat.State) chat.State {
		s = chat.UpdateAttempt(s, turn.MessageID, a.index, o.finalize(a, models.AttemptTimedOut, elapsed, ""))
		s = chat.UpdateMessage(s, turn.MessageID, func(m models.Message) models.Message {
			m.Text += marker
			m.TimedOut = true
			m.Streaming = false
			return m
		})
		if next < 0 {
			return s
		}
		// pre-seed the fallback attempt
		route := turn.Plan[next]
		model := o.routes.Info(route).Name
		start := o.clock.Now()
		s = chat.UpdateAttempt(s, turn.MessageID, next, func(models.AttemptRecord) models.AttemptRecord {
			return models.NewRunningAttempt(route, model, start)
		})
		return chat.UpdateMessage(s, turn.MessageID, func(m models.Message) models.Message {
			m.Model = model
			m.Streaming = true
			return m
		})
	})

	logger.WithFields(log.Fields{
		"event":   "attempt_timed_out",
		"elapsed": elapsed,
	}).Warn("Attempt timed out")
	o.emit(Event{Kind: EventAttemptTimedOut, TurnID: turn.ID, MessageID: turn.MessageID, Attempt: a.index, Route: a.route, Model: a.model, Text: toast})

	if next < 0 {
		return StateExhausted
	}
	turn.index = next
	return StateAttempting
}

func (o *Orchestrator) onUserStop(turn *TurnContext, a *attemptRun, logger *log.Entry) State {
	elapsed := models.ElapsedSeconds(o.clock.Now().Sub(a.start))

	o.store.Apply(func(s chat.State) chat.State {
		s = chat.UpdateAttempt(s, turn.MessageID, a.index, o.finalize(a, models.AttemptCancelled, elapsed, ""))
		s = chat.UpdateMessage(s, turn.MessageID, func(m models.Message) models.Message {
			m.Text += "\n[stopped by user]"
			m.Cancelled = true
			m.TimedOut = false
			m.Streaming = false
			return m
		})
		return chat.SetSendError(s, "")
	})

	logger.WithField("event", "attempt_cancelled").Info("Attempt stopped by user")
	o.emit(Event{Kind: EventAttemptCancelled, TurnID: turn.ID, MessageID: turn.MessageID, Attempt: a.index, Route: a.route, Model: a.model})
	return StateUserCancelled
}

func (o *Orchestrator) onFailure(turn *TurnContext, a *attemptRun, err error, logger *log.Entry) State {
	turn.lastErr = err
	elapsed := models.ElapsedSeconds(o.clock.Now().Sub(a.start))
	hasNext := a.index+1 < len(turn.Plan)

	o.store.Apply(func(s chat.State) chat.State {
		s = chat.UpdateAttempt(s, turn.MessageID, a.index, o.finalize(a, models.AttemptFailed, elapsed, err.Error()))
		return chat.AddMessage(s, models.Message{
			Role: models.RoleAssistant,
			Text: "Error: " + err.Error(),
		})
	})

	toast := fmt.Sprintf("%s failed", a.model)
	if hasNext {
		toast += " — trying fallback model"
	}
	logger.WithFields(log.Fields{
		"event": "attempt_failed",
		"error": err.Error(),
	}).Warn("Attempt failed")
	o.emit(Event{Kind: EventAttemptFailed, TurnID: turn.ID, MessageID: turn.MessageID, Attempt: a.index, Route: a.route, Model: a.model, Text: toast})

	if !hasNext {
		return StateExhausted
	}
	turn.index++
	return StateAttempting
}

// finalize moves the attempt's record to a terminal status
func (o *Orchestrator) finalize(a *attemptRun, status models.AttemptStatus, elapsed int, errText string) chat.AttemptMutation {
	return func(rec models.AttemptRecord) models.AttemptRecord {
		if rec.Status == "" {
			rec = models.NewRunningAttempt(a.route, a.model, a.start)
		}
		if a.firstByte != nil {
			rec.FirstByteElapsed = a.firstByte
		}
		rec = rec.Finalize(status, elapsed)
		if errText != "" {
			rec.Error = errText
		}
		return rec
	}
}

func (o *Orchestrator) emit(e Event) {
	if o.observer != nil {
		o.observer(e)
	}
}

// trailingDots matches a final line made only of dots, left behind by a
// typing animation.
var trailingDots = regexp.MustCompile(`(?:^|\n)[ \t]*\.+\s*$`)

// CleanReply strips streaming artifacts from a finished reply: a model name
// echoed at the very end and a trailing line of dots.
func CleanReply(text, model string) string {
	if model != "" {
		re := regexp.MustCompile(`(?:\s|\.|,)*` + regexp.QuoteMeta(model) + `$`)
		text = strings.TrimSpace(re.ReplaceAllString(text, ""))
	}
	return trailingDots.ReplaceAllString(text, "")
}
