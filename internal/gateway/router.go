package gateway

import "github.com/gin-gonic/gin"

// NewRouter wires the gateway endpoints onto a gin engine
func NewRouter(h *Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(LoggingMiddleware())
	r.Use(BodyLimitMiddleware(MaxBodyBytes))

	r.GET("/healthz", h.Health)
	r.GET("/config/models", h.Models)
	r.POST("/ai-service/:route", h.Generate)
	r.POST("/ai-service/:route/stream", h.StreamGenerate)

	r.NoRoute(h.NotFound)
	return r
}
