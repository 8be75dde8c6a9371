package relay

import (
	"errors"
	"net/http"
	"sync"
)

// ErrSinkClosed is returned by writes after Close
var ErrSinkClosed = errors.New("sink closed")

// HTTPSink adapts an http.ResponseWriter and its request to a Sink.
// Closing it only stops further writes; the response itself ends when the
// handler returns.
type HTTPSink struct {
	w    http.ResponseWriter
	done <-chan struct{}

	mu     sync.Mutex
	closed bool
}

// NewHTTPSink creates a sink that reports a disconnect when r's context ends
func NewHTTPSink(w http.ResponseWriter, r *http.Request) *HTTPSink {
	return &HTTPSink{w: w, done: r.Context().Done()}
}

func (s *HTTPSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrSinkClosed
	}
	return s.w.Write(p)
}

func (s *HTTPSink) Flush() {
	if f, ok := s.w.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *HTTPSink) CloseNotify() <-chan struct{} {
	return s.done
}

func (s *HTTPSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Closed reports whether Close has been called
func (s *HTTPSink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
