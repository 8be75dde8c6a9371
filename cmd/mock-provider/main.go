package main

import (
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	json "github.com/goccy/go-json"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/AliZeynalov/LangDock-LLM-relay/internal/models"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		port int
		b    behavior
	)
	cmd := &cobra.Command{
		Use:   "mock-provider",
		Short: "Ollama-compatible mock backend with delay and failure knobs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			log.SetFormatter(&log.TextFormatter{
				FullTimestamp: true,
			})
			log.Infof("Mock provider starting on :%d", port)
			return newRouter(b).Run(fmt.Sprintf(":%d", port))
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 11434, "listen port")
	cmd.Flags().DurationVar(&b.Delay, "delay", 0, "delay before the first byte")
	cmd.Flags().DurationVar(&b.TokenDelay, "token-delay", 100*time.Millisecond, "delay between streamed tokens")
	cmd.Flags().StringVar(&b.Fail, "fail", "", "fail every request: a status code or \"timeout\"")
	cmd.Flags().IntVar(&b.FailChunk, "fail-chunk", -1, "cut the stream with malformed JSON at this chunk")
	cmd.Flags().StringToStringVar(&b.ModelDelay, "model-delay", nil, "per-model first-byte delay, e.g. gemma3:1b=45s")
	return cmd
}

// behavior holds the process-wide knobs. Query parameters of the same
// name override them per request.
type behavior struct {
	Delay      time.Duration
	TokenDelay time.Duration
	Fail       string
	FailChunk  int
	ModelDelay map[string]string
}

func newRouter(b behavior) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.POST("/api/generate", func(c *gin.Context) { handleGenerate(c, b) })
	r.GET("/api/tags", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"models": []gin.H{
			{"name": "gemma3:1b", "model": "gemma3:1b"},
			{"name": "llama3.2:3b", "model": "llama3.2:3b"},
		}})
	})
	return r
}

// forRequest applies per-request query overrides
func (b behavior) forRequest(c *gin.Context, model string) behavior {
	if v := c.Query("delay"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			b.Delay = time.Duration(ms) * time.Millisecond
		}
	}
	if v := c.Query("fail"); v != "" {
		b.Fail = v
	}
	if v := c.Query("fail_chunk"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			b.FailChunk = n
		}
	}
	if v, ok := b.ModelDelay[model]; ok {
		if d, err := time.ParseDuration(v); err == nil {
			b.Delay = d
		}
	}
	return b
}

func handleGenerate(c *gin.Context, base behavior) {
	var req models.UpstreamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	b := base.forRequest(c, req.Model)

	log.WithFields(log.Fields{
		"model":      req.Model,
		"stream":     req.Stream,
		"delay":      b.Delay.String(),
		"fail":       b.Fail,
		"fail_chunk": b.FailChunk,
	}).Info("Received request")

	if b.Delay > 0 {
		select {
		case <-time.After(b.Delay):
		case <-c.Request.Context().Done():
			log.WithField("model", req.Model).Info("Client went away during delay")
			return
		}
	}

	if b.Fail != "" {
		handleFailure(c, b.Fail)
		return
	}

	if req.Stream {
		handleStreaming(c, req.Model, b)
	} else {
		handleNormalResponse(c, req.Model)
	}
}

func handleFailure(c *gin.Context, failType string) {
	log.Warnf("Simulating failure: %s", failType)

	switch failType {
	case "timeout":
		log.Info("Simulating timeout (holding the request)")
		select {
		case <-time.After(10 * time.Minute):
		case <-c.Request.Context().Done():
		}
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "timeout"})
	default:
		code, err := strconv.Atoi(failType)
		if err != nil || code < 400 || code > 599 {
			code = http.StatusInternalServerError
		}
		c.JSON(code, gin.H{"error": fmt.Sprintf("simulated error %d", code)})
	}
}

var reply = []string{"Hello", "!", " I'm", " a", " mock", " model", ".", " How", " can", " I", " help?"}

func handleNormalResponse(c *gin.Context, model string) {
	c.JSON(http.StatusOK, models.UpstreamResponse{
		Model:    model,
		Response: strings.Join(reply, ""),
		Done:     true,
	})
}

// handleStreaming writes newline-delimited JSON objects the way Ollama does
func handleStreaming(c *gin.Context, model string, b behavior) {
	c.Header("Content-Type", "application/x-ndjson")
	c.Status(http.StatusOK)

	for i, tok := range reply {
		chunkNum := i + 1
		if b.FailChunk > 0 && chunkNum == b.FailChunk {
			log.Warnf("Simulating failure at chunk %d", chunkNum)
			fmt.Fprintf(c.Writer, "{\"model\":%q,\"response\":", model)
			c.Writer.Flush()
			abortConnection(c)
			return
		}

		writeLine(c, models.UpstreamResponse{Model: model, Response: tok})

		select {
		case <-time.After(b.TokenDelay):
		case <-c.Request.Context().Done():
			log.WithField("chunk", chunkNum).Info("Client went away mid-stream")
			return
		}
	}

	writeLine(c, models.UpstreamResponse{Model: model, Done: true})
	log.Info("Streaming complete")
}

func writeLine(c *gin.Context, v models.UpstreamResponse) {
	line, err := json.Marshal(v)
	if err != nil {
		log.WithError(err).Error("Failed to encode chunk")
		return
	}
	_, _ = c.Writer.Write(append(line, '\n'))
	c.Writer.Flush()
}

// abortConnection drops the TCP connection so the client sees a truncated body
func abortConnection(c *gin.Context) {
	conn, _, err := c.Writer.Hijack()
	if err != nil {
		log.WithError(err).Warn("Cannot hijack connection")
		return
	}
	_ = conn.Close()
}
