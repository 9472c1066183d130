package api

import (
	"log/slog"

	"github.com/gin-gonic/gin"

	"rgbdapi/config"
	"rgbdapi/metrics"
	"rgbdapi/task"
)

func SetupRouter(tm *task.Manager, cfg *config.Config, mt *metrics.Metrics, logger *slog.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), RequestID(), RequestLogger(logger))
	h := NewHandler(tm, cfg, logger)

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok", "processing": tm.Active()})
	})
	r.GET("/metrics", gin.WrapH(mt.Handler()))

	v1 := r.Group("/api/v1")
	v1.Use(AuthMiddleware(cfg))
	{
		v1.GET("/models", h.handleListModels)
		v1.POST("/upload", h.handleUpload)

		// Synchronous: the response carries the finished result.
		v1.POST("/process", h.handleProcess)

		v1.GET("/progress", h.handleGetProgress)
		v1.GET("/progress/ws", h.handleProgressStream)
		v1.GET("/jobs", h.handleListJobs)

		v1.GET("/files/:filename", h.handleGetFile)
	}
	return r
}
