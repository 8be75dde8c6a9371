package orchestrator

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AliZeynalov/LangDock-LLM-relay/internal/chat"
	"github.com/AliZeynalov/LangDock-LLM-relay/internal/models"
)

var testRoutes = models.RouteTable{
	Default: models.RouteAuto,
	Fast:    models.ModelInfo{Route: "a", Name: "gemma3:1b", Label: "Fast model"},
	Slow:    models.ModelInfo{Route: "b", Name: "llama3.2:3b", Label: "Slow model"},
}

type fixedRand int

func (r fixedRand) IntN(int) int { return int(r) }

// fakeClock advances by tick on every Now call; timers fire only on demand
type fakeClock struct {
	mu    sync.Mutex
	now   time.Time
	tick  time.Duration
	armed chan *fakeTimer
}

func newFakeClock(tick time.Duration) *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0), tick: tick, armed: make(chan *fakeTimer, 8)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(c.tick)
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	t := &fakeTimer{d: d, f: f}
	c.armed <- t
	return t
}

type fakeTimer struct {
	d       time.Duration
	f       func()
	stopped atomic.Bool
}

func (t *fakeTimer) Stop() bool { return !t.stopped.Swap(true) }

func (t *fakeTimer) Fire() {
	if !t.stopped.Load() {
		t.f()
	}
}

// script describes how one OpenStream call behaves
type script struct {
	openErr   error
	fragments []string
	err       error // returned after the fragments; nil means io.EOF
	hang      bool  // block after the fragments until cancelled
	late      string
	model     string
}

type fakeTransport struct {
	mu      sync.Mutex
	scripts []script
	opened  []models.Route
	turnIDs []string
	openCh  chan models.Route
}

func newFakeTransport(scripts ...script) *fakeTransport {
	return &fakeTransport{scripts: scripts, openCh: make(chan models.Route, 8)}
}

func (f *fakeTransport) OpenStream(ctx context.Context, route models.Route, _ string) (Stream, error) {
	f.mu.Lock()
	if len(f.scripts) == 0 {
		f.mu.Unlock()
		return nil, errors.New("no script")
	}
	s := f.scripts[0]
	f.scripts = f.scripts[1:]
	f.opened = append(f.opened, route)
	f.turnIDs = append(f.turnIDs, TurnIDFrom(ctx))
	f.mu.Unlock()
	f.openCh <- route

	if s.openErr != nil {
		return nil, s.openErr
	}
	return &fakeStream{ctx: ctx, s: s}, nil
}

func (f *fakeTransport) Opened() []models.Route {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Route(nil), f.opened...)
}

type fakeStream struct {
	ctx context.Context
	s   script
}

func (st *fakeStream) Recv() (string, error) {
	if len(st.s.fragments) > 0 {
		f := st.s.fragments[0]
		st.s.fragments = st.s.fragments[1:]
		return f, nil
	}
	if st.s.hang {
		<-st.ctx.Done()
		if st.s.late != "" {
			late := st.s.late
			st.s.late = ""
			return late, nil
		}
		return "", context.Cause(st.ctx)
	}
	if st.s.err != nil {
		return "", st.s.err
	}
	return "", io.EOF
}

func (st *fakeStream) Model() string { return st.s.model }

func (st *fakeStream) Close() error { return nil }

type harness struct {
	orch   *Orchestrator
	store  *chat.Store
	clock  *fakeClock
	tr     *fakeTransport
	events chan Event
}

func newHarness(t *testing.T, tick time.Duration, primary int, scripts ...script) *harness {
	t.Helper()
	logger := log.New()
	logger.SetOutput(io.Discard)

	h := &harness{
		store:  chat.NewStore(chat.NewState(30*time.Second, 60*time.Second)),
		clock:  newFakeClock(tick),
		tr:     newFakeTransport(scripts...),
		events: make(chan Event, 64),
	}
	h.orch = New(h.tr, h.store, Options{
		Routes:   testRoutes,
		Rand:     fixedRand(primary),
		Clock:    h.clock,
		Observer: func(e Event) { h.events <- e },
		Logger:   log.NewEntry(logger),
	})
	return h
}

type submitResult struct {
	out Outcome
	err error
}

func (h *harness) submitAsync(route models.Route, prompt string) <-chan submitResult {
	ch := make(chan submitResult, 1)
	go func() {
		out, err := h.orch.Submit(context.Background(), route, prompt)
		ch <- submitResult{out, err}
	}()
	return ch
}

func (h *harness) message(t *testing.T, id string) models.Message {
	t.Helper()
	m, _, ok := h.store.Snapshot().Find(id)
	require.True(t, ok)
	return m
}

func waitResult(t *testing.T, ch <-chan submitResult) submitResult {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("turn did not settle")
		return submitResult{}
	}
}

func (h *harness) toasts() []string {
	var out []string
	for {
		select {
		case e := <-h.events:
			if e.Text != "" {
				out = append(out, e.Text)
			}
		default:
			return out
		}
	}
}

func TestPlanner(t *testing.T) {
	plan, err := Planner{Rand: fixedRand(0)}.Plan(models.RouteAuto)
	require.NoError(t, err)
	assert.Equal(t, []models.Route{models.RouteFast, models.RouteSlow}, plan)

	plan, err = Planner{Rand: fixedRand(1)}.Plan(models.RouteAuto)
	require.NoError(t, err)
	assert.Equal(t, []models.Route{models.RouteSlow, models.RouteFast}, plan)

	plan, err = Planner{}.Plan(models.RouteSlow)
	require.NoError(t, err)
	assert.Equal(t, []models.Route{models.RouteSlow}, plan)

	_, err = Planner{}.Plan("x")
	assert.Error(t, err)
}

func TestAttemptTimeoutEnforcesMinimum(t *testing.T) {
	s := chat.State{TimeoutFast: 0, TimeoutSlow: -5 * time.Second}
	assert.Equal(t, time.Second, attemptTimeout(s, models.RouteFast))
	assert.Equal(t, time.Second, attemptTimeout(s, models.RouteSlow))

	s = chat.NewState(30*time.Second, 45*time.Second)
	assert.Equal(t, 30*time.Second, attemptTimeout(s, models.RouteFast))
	assert.Equal(t, 45*time.Second, attemptTimeout(s, models.RouteSlow))
}

func TestSingleRouteSuccess(t *testing.T) {
	h := newHarness(t, 1500*time.Millisecond, 0, script{fragments: []string{"", "Hello **there**", "\ngemma3:1b"}})

	res := waitResult(t, h.submitAsync(models.RouteFast, "  hi  "))
	require.NoError(t, res.err)
	assert.Equal(t, StateSucceeded, res.out.State)
	assert.Equal(t, []models.Route{models.RouteFast}, h.tr.Opened())
	h.tr.mu.Lock()
	assert.Equal(t, []string{res.out.TurnID}, h.tr.turnIDs)
	h.tr.mu.Unlock()

	m := h.message(t, res.out.MessageID)
	require.Len(t, m.Attempts, 1)
	a := m.Attempts[0]
	assert.Equal(t, models.AttemptSuccess, a.Status)
	assert.Equal(t, "gemma3:1b", a.Model)
	require.NotNil(t, a.FirstByteElapsed)
	assert.Equal(t, 1, *a.FirstByteElapsed)
	assert.Equal(t, 1, a.Elapsed)

	assert.Equal(t, "Hello **there**", m.Text)
	assert.Contains(t, m.HTML, "<b>there</b>")
	assert.False(t, m.Streaming)
	assert.Equal(t, int64(3000), m.LatencyMS)

	s := h.store.Snapshot()
	assert.False(t, s.Sending)
	assert.Empty(t, s.SendError)
	assert.Equal(t, "hi", s.Messages[0].Text)
}

func TestReportedModelNameWins(t *testing.T) {
	h := newHarness(t, 0, 0, script{fragments: []string{"ok"}, model: "llama3.2:3b-q4"})

	res := waitResult(t, h.submitAsync(models.RouteSlow, "hi"))
	require.NoError(t, res.err)
	assert.Equal(t, "llama3.2:3b-q4", res.out.Model)
}

func TestAutoTimeoutFailsOver(t *testing.T) {
	h := newHarness(t, 0, 0,
		script{fragments: []string{"slow start"}, hang: true},
		script{fragments: []string{"fallback answer"}},
	)
	done := h.submitAsync(models.RouteAuto, "hi")

	timer := <-h.clock.armed
	assert.Equal(t, 30*time.Second, timer.d)
	require.Eventually(t, func() bool {
		m := h.store.Snapshot().Messages
		return len(m) == 2 && m[1].Text == "slow start"
	}, 2*time.Second, 5*time.Millisecond)

	h.clock.Advance(30 * time.Second)
	timer.Fire()

	second := <-h.clock.armed
	assert.Equal(t, 60*time.Second, second.d)

	res := waitResult(t, done)
	require.NoError(t, res.err)
	assert.Equal(t, StateSucceeded, res.out.State)
	assert.Equal(t, []models.Route{models.RouteFast, models.RouteSlow}, h.tr.Opened())

	m := h.message(t, res.out.MessageID)
	require.Len(t, m.Attempts, 2)
	assert.Equal(t, models.AttemptTimedOut, m.Attempts[0].Status)
	assert.Equal(t, 30, m.Attempts[0].Elapsed)
	assert.Equal(t, "gemma3:1b", m.Attempts[0].Model)
	assert.Equal(t, models.AttemptSuccess, m.Attempts[1].Status)
	assert.Equal(t, "llama3.2:3b", m.Attempts[1].Model)
	assert.Zero(t, m.RunningAttempts())

	assert.Equal(t, "slow start\n[gemma3:1b timed out — switching to alternate model]fallback answer", m.Text)
	assert.True(t, m.TimedOut)
	assert.Equal(t, "llama3.2:3b", m.Model)
	assert.Contains(t, h.toasts(), "gemma3:1b timed out — trying fallback model")
}

func TestAutoAllTimedOut(t *testing.T) {
	h := newHarness(t, 0, 1, script{hang: true}, script{hang: true})
	done := h.submitAsync(models.RouteAuto, "hi")

	(<-h.clock.armed).Fire()
	(<-h.clock.armed).Fire()

	res := waitResult(t, done)
	var exhausted *PlanExhaustedError
	require.ErrorAs(t, res.err, &exhausted)
	assert.True(t, errors.Is(res.err, ErrAllTimedOut))
	assert.Equal(t, StateExhausted, res.out.State)

	m := h.message(t, res.out.MessageID)
	require.Len(t, m.Attempts, 2)
	assert.Equal(t, models.RouteSlow, m.Attempts[0].Route)
	assert.Equal(t, models.AttemptTimedOut, m.Attempts[0].Status)
	assert.Equal(t, models.AttemptTimedOut, m.Attempts[1].Status)
	assert.False(t, m.Streaming)

	s := h.store.Snapshot()
	assert.Equal(t, AllTimedOutMessage, s.SendError)
	assert.False(t, s.Sending)
}

func TestExplicitRouteTimeoutDoesNotFailOver(t *testing.T) {
	h := newHarness(t, 0, 0, script{hang: true})
	h.store.Apply(func(s chat.State) chat.State { return chat.SetTimeouts(s, 0, 200*time.Millisecond) })
	done := h.submitAsync(models.RouteSlow, "hi")

	timer := <-h.clock.armed
	assert.Equal(t, time.Second, timer.d, "timeout below the minimum is clamped")
	timer.Fire()

	res := waitResult(t, done)
	assert.True(t, errors.Is(res.err, ErrAllTimedOut))
	assert.Equal(t, []models.Route{models.RouteSlow}, h.tr.Opened())

	m := h.message(t, res.out.MessageID)
	require.Len(t, m.Attempts, 1)
	assert.Equal(t, models.AttemptTimedOut, m.Attempts[0].Status)
	assert.True(t, strings.HasSuffix(m.Text, "\n[llama3.2:3b timed out — request cancelled]"))
	assert.Contains(t, h.toasts(), "llama3.2:3b timed out — request cancelled")
}

func TestUserStopDiscardsLateFragments(t *testing.T) {
	h := newHarness(t, 0, 0, script{fragments: []string{"partial"}, hang: true, late: "LATE"})
	done := h.submitAsync(models.RouteAuto, "hi")

	<-h.clock.armed
	require.Eventually(t, func() bool {
		m := h.store.Snapshot().Messages
		return len(m) == 2 && m[1].Text == "partial"
	}, 2*time.Second, 5*time.Millisecond)

	h.orch.Stop()

	res := waitResult(t, done)
	require.NoError(t, res.err)
	assert.Equal(t, StateUserCancelled, res.out.State)
	assert.Equal(t, []models.Route{models.RouteFast}, h.tr.Opened(), "no fallback after a stop")

	m := h.message(t, res.out.MessageID)
	require.Len(t, m.Attempts, 1)
	assert.Equal(t, models.AttemptCancelled, m.Attempts[0].Status)
	assert.Equal(t, "partial\n[stopped by user]", m.Text)
	assert.NotContains(t, m.Text, "LATE")
	assert.True(t, m.Cancelled)
	assert.Empty(t, h.store.Snapshot().SendError)
}

func TestTransportFailureAdvances(t *testing.T) {
	h := newHarness(t, 0, 0,
		script{openErr: errors.New("request failed (503): backend unreachable")},
		script{fragments: []string{"from slow"}},
	)

	res := waitResult(t, h.submitAsync(models.RouteAuto, "hi"))
	require.NoError(t, res.err)
	assert.Equal(t, []models.Route{models.RouteFast, models.RouteSlow}, h.tr.Opened())

	m := h.message(t, res.out.MessageID)
	require.Len(t, m.Attempts, 2)
	assert.Equal(t, models.AttemptFailed, m.Attempts[0].Status)
	assert.Contains(t, m.Attempts[0].Error, "503")
	assert.Equal(t, models.AttemptSuccess, m.Attempts[1].Status)
	assert.Equal(t, "from slow", m.Text)

	msgs := h.store.Snapshot().Messages
	require.Len(t, msgs, 3)
	assert.Equal(t, "Error: request failed (503): backend unreachable", msgs[2].Text)
	assert.Contains(t, h.toasts(), "gemma3:1b failed — trying fallback model")
}

func TestNoBackendResponded(t *testing.T) {
	h := newHarness(t, 0, 0,
		script{openErr: errors.New("connection refused")},
		script{fragments: []string{"half"}, err: io.ErrUnexpectedEOF},
	)

	res := waitResult(t, h.submitAsync(models.RouteAuto, "hi"))
	require.Error(t, res.err)
	assert.True(t, errors.Is(res.err, ErrNoBackendResponded))
	assert.False(t, errors.Is(res.err, ErrAllTimedOut))

	m := h.message(t, res.out.MessageID)
	require.Len(t, m.Attempts, 2)
	assert.Equal(t, models.AttemptFailed, m.Attempts[1].Status)
	assert.Equal(t, NoBackendRespondedMessage, h.store.Snapshot().SendError)
}

func TestNewTurnStopsPrevious(t *testing.T) {
	h := newHarness(t, 0, 0,
		script{hang: true},
		script{fragments: []string{"second"}},
	)
	first := h.submitAsync(models.RouteFast, "one")
	<-h.clock.armed
	<-h.tr.openCh

	second := h.submitAsync(models.RouteFast, "two")

	r1 := waitResult(t, first)
	require.NoError(t, r1.err)
	assert.Equal(t, StateUserCancelled, r1.out.State)

	r2 := waitResult(t, second)
	require.NoError(t, r2.err)
	assert.Equal(t, StateSucceeded, r2.out.State)
	assert.Equal(t, "second", h.message(t, r2.out.MessageID).Text)
	assert.Len(t, h.store.Snapshot().Messages, 4)
}

func TestClearKeepsTimeouts(t *testing.T) {
	h := newHarness(t, 0, 0, script{fragments: []string{"x"}})
	waitResult(t, h.submitAsync(models.RouteFast, "hi"))

	require.NoError(t, h.orch.Clear(context.Background()))
	s := h.store.Snapshot()
	assert.Empty(t, s.Messages)
	assert.Equal(t, 30*time.Second, s.TimeoutFast)
}

func TestEmptyPromptIsRejected(t *testing.T) {
	h := newHarness(t, 0, 0)
	_, err := h.orch.Submit(context.Background(), models.RouteAuto, "   ")
	assert.ErrorIs(t, err, ErrEmptyPrompt)
	assert.Empty(t, h.store.Snapshot().Messages)
}

func TestCleanReply(t *testing.T) {
	tests := []struct {
		name, text, model, want string
	}{
		{"echoed model", "Hi there.\ngemma3:1b", "gemma3:1b", "Hi there"},
		{"model mid text kept", "gemma3:1b is small", "gemma3:1b", "gemma3:1b is small"},
		{"dot line", "Answer.\n...", "", "Answer."},
		{"sentence period kept", "Sentence.", "m", "Sentence."},
		{"no model", "plain", "", "plain"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CleanReply(tt.text, tt.model))
		})
	}
}
