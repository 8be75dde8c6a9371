package gateway

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func middlewareRouter(status int) *gin.Engine {
	r := gin.New()
	r.Use(RequestIDMiddleware(), LoggingMiddleware())
	r.POST("/ai-service/:route", func(c *gin.Context) {
		c.Header(ModelHeader, "llama3.2:3b")
		c.String(status, "ok")
	})
	return r
}

func TestRequestIDMiddleware(t *testing.T) {
	r := middlewareRouter(http.StatusOK)

	tests := []struct {
		name     string
		incoming string
		keep     bool
	}{
		{"generated", "", false},
		{"caller id kept", "turn_ab12cd34", true},
		{"unsafe id replaced", "bad id\nwith newline", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/ai-service/b", nil)
			if tt.incoming != "" {
				req.Header.Set(RequestIDHeader, tt.incoming)
			}
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)

			got := rec.Header().Get(RequestIDHeader)
			if tt.keep {
				assert.Equal(t, tt.incoming, got)
				return
			}
			assert.Regexp(t, `^req_[0-9a-f-]{8}$`, got)
		})
	}
}

func TestLoggingMiddlewareFields(t *testing.T) {
	hook := test.NewGlobal()
	defer hook.Reset()

	rec := httptest.NewRecorder()
	middlewareRouter(http.StatusBadGateway).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/ai-service/b", nil))

	var completed *log.Entry
	for _, e := range hook.AllEntries() {
		if e.Data["event"] == "completed" {
			completed = e
		}
	}
	require.NotNil(t, completed)
	assert.Equal(t, log.WarnLevel, completed.Level)
	assert.Equal(t, "b", completed.Data["route"])
	assert.Equal(t, "llama3.2:3b", completed.Data["model"])
	assert.Equal(t, http.StatusBadGateway, completed.Data["status"])
	assert.Equal(t, rec.Header().Get(RequestIDHeader), completed.Data["request_id"])
}
