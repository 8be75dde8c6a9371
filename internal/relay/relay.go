// Package relay forwards an upstream generation stream to a downstream caller.
package relay

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/sourcegraph/conc"
	log "github.com/sirupsen/logrus"

	"github.com/AliZeynalov/LangDock-LLM-relay/internal/chunk"
	"github.com/AliZeynalov/LangDock-LLM-relay/internal/sanitize"
)

const readBufferSize = 32 * 1024

// ErrorMarker prefixes the inline diagnostic written on upstream failure
const ErrorMarker = "[stream error]"

// Outcome says which event ended a relay
type Outcome int

const (
	Completed Outcome = iota
	UpstreamFailed
	DownstreamClosed
)

func (o Outcome) String() string {
	switch o {
	case Completed:
		return "completed"
	case UpstreamFailed:
		return "upstream_failed"
	case DownstreamClosed:
		return "downstream_closed"
	}
	return "unknown"
}

// Sink is the downstream side of a relay
type Sink interface {
	Write(p []byte) (int, error)
	Flush()
	// CloseNotify fires when the caller goes away
	CloseNotify() <-chan struct{}
	Close() error
}

// Result summarizes one relay run
type Result struct {
	Outcome   Outcome
	Fragments int
	Bytes     int
	Err       error
}

// Relay pumps interpreted text from upstream channels into sinks.
// A Relay is stateless between runs and safe for concurrent use.
type Relay struct {
	interp *chunk.Interpreter
	logger *log.Entry
}

// New creates a relay using interp to extract text
func New(interp *chunk.Interpreter, logger *log.Entry) *Relay {
	if interp == nil {
		interp = chunk.NewInterpreter()
	}
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	return &Relay{interp: interp, logger: logger}
}

// Run relays upstream into sink until upstream ends or fails, or the sink
// disconnects. cancel aborts the upstream request and is called at most
// once, only on disconnect. The sink is closed exactly once.
func (r *Relay) Run(upstream io.ReadCloser, cancel context.CancelFunc, sink Sink) Result {
	s := &session{
		relay:    r,
		upstream: upstream,
		cancel:   cancel,
		sink:     sink,
	}
	defer upstream.Close()

	stop := make(chan struct{})
	var wg conc.WaitGroup
	wg.Go(func() {
		select {
		case <-sink.CloseNotify():
			s.disconnect()
		case <-stop:
		}
	})

	res := s.pump()
	close(stop)
	wg.Wait()

	if s.disconnected.Load() {
		res.Outcome = DownstreamClosed
		res.Err = nil
	}
	res.Fragments = s.fragments
	res.Bytes = s.bytes
	return res
}

// session is the per-run state shared by the pump and the disconnect watcher
type session struct {
	relay    *Relay
	upstream io.ReadCloser
	cancel   context.CancelFunc
	sink     Sink

	mu           sync.Mutex
	closed       bool
	disconnected atomic.Bool
	cancelOnce   sync.Once

	// pump goroutine only
	fragments int
	bytes     int
}

func (s *session) pump() Result {
	buf := make([]byte, readBufferSize)
	for {
		n, err := s.upstream.Read(buf)
		if n > 0 {
			if !s.forward(string(buf[:n])) {
				return Result{Outcome: DownstreamClosed}
			}
		}
		if err == nil {
			continue
		}
		if errors.Is(err, io.EOF) {
			s.finish("\n")
			return Result{Outcome: Completed}
		}
		if s.isClosed() {
			return Result{Outcome: DownstreamClosed}
		}
		s.relay.logger.WithFields(log.Fields{
			"error": err.Error(),
			"event": "upstream_error",
		}).Warn("Upstream stream failed")
		s.finish("\n" + ErrorMarker + " " + sanitize.EscapeHTML(err.Error()) + "\n")
		return Result{Outcome: UpstreamFailed, Err: err}
	}
}

// forward splits one upstream chunk into lines and writes each fragment.
// It returns false once the sink is closed.
func (s *session) forward(data string) bool {
	for _, line := range strings.Split(data, "\n") {
		text, ok := s.relay.interp.Interpret(line)
		if !ok {
			continue
		}
		if !s.write(text) {
			return false
		}
		s.fragments++
		s.bytes += len(text)
	}
	return !s.isClosed()
}

func (s *session) write(text string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	if _, err := s.sink.Write([]byte(text)); err != nil {
		s.closeLocked()
		return false
	}
	s.sink.Flush()
	return true
}

// finish writes a trailer and closes the sink, unless it is already closed
func (s *session) finish(trailer string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if _, err := s.sink.Write([]byte(trailer)); err == nil {
		s.sink.Flush()
	}
	s.closeLocked()
}

func (s *session) disconnect() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.disconnected.Store(true)
	s.closeLocked()
	s.mu.Unlock()

	s.cancelOnce.Do(func() {
		s.relay.logger.WithField("event", "downstream_closed").Info("Client disconnected, cancelling upstream")
		if s.cancel != nil {
			s.cancel()
		}
		_ = s.upstream.Close()
	})
}

func (s *session) closeLocked() {
	if s.closed {
		return
	}
	s.closed = true
	_ = s.sink.Close()
}

func (s *session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
