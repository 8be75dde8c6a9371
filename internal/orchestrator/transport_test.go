package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AliZeynalov/LangDock-LLM-relay/internal/models"
)

func TestHTTPTransportStreams(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/ai-service/b/stream", r.URL.Path)
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "hello", body["prompt"])
		assert.Equal(t, "turn_ab12cd34", r.Header.Get(RequestIDHeader))

		w.Header().Set(ModelHeader, "llama3.2:3b")
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		flusher := w.(http.Flusher)
		_, _ = w.Write([]byte("caf\xc3"))
		flusher.Flush()
		_, _ = w.Write([]byte("\xa9 ok\n"))
	}))
	defer srv.Close()

	tr := NewHTTPTransport(srv.URL+"/", testRoutes, nil)
	stream, err := tr.OpenStream(WithTurnID(context.Background(), "turn_ab12cd34"), models.RouteSlow, "hello")
	require.NoError(t, err)
	defer stream.Close()

	assert.Equal(t, "llama3.2:3b", stream.Model())

	var got strings.Builder
	for {
		frag, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		assert.True(t, utf8.ValidString(frag), "fragment %q splits a rune", frag)
		got.WriteString(frag)
	}
	assert.Equal(t, "café ok\n", got.String())
}

func TestHTTPTransportStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = io.WriteString(w, `{"error":"backend unreachable","code":"BACKEND_UNAVAILABLE"}`)
	}))
	defer srv.Close()

	_, err := NewHTTPTransport(srv.URL, testRoutes, nil).OpenStream(context.Background(), models.RouteFast, "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "request failed (503)")
	assert.Contains(t, err.Error(), "BACKEND_UNAVAILABLE")
}

func TestHTTPTransportCancel(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "first")
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancelCause(context.Background())
	stream, err := NewHTTPTransport(srv.URL, testRoutes, nil).OpenStream(ctx, models.RouteFast, "x")
	require.NoError(t, err)
	defer stream.Close()

	frag, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, "first", frag)

	cancel(ErrUserStopped)
	_, err = stream.Recv()
	assert.Error(t, err)
	assert.False(t, errors.Is(err, io.EOF))
}

func TestFetchModelsConfig(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/config/models", r.URL.Path)
		_ = json.NewEncoder(w).Encode(testRoutes.Config())
	}))
	defer srv.Close()

	routes, err := FetchModelsConfig(context.Background(), srv.URL, nil)
	require.NoError(t, err)
	assert.Equal(t, testRoutes, routes)
	assert.Equal(t, "a", routes.WireKey(models.RouteFast))
}

func TestCompletePrefix(t *testing.T) {
	assert.Equal(t, 3, completePrefix([]byte("abc")))
	assert.Equal(t, 3, completePrefix([]byte("caf\xc3")))
	assert.Equal(t, 5, completePrefix([]byte("caf\xc3\xa9")))
	assert.Equal(t, 0, completePrefix([]byte("\xe2\x82")))
}
