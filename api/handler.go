package api

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"rgbdapi/config"
	"rgbdapi/depth"
	"rgbdapi/task"
)

var allowedExtensions = map[string]bool{
	".mp4": true, ".mov": true, ".avi": true, ".mkv": true, ".webm": true, ".m4v": true,
}

type Handler struct {
	taskManager *task.Manager
	cfg         *config.Config
	logger      *slog.Logger
	upgrader    websocket.Upgrader
}

func NewHandler(tm *task.Manager, cfg *config.Config, logger *slog.Logger) *Handler {
	return &Handler{
		taskManager: tm,
		cfg:         cfg,
		logger:      logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
}

// ProcessRequest is accepted as JSON, form fields or query parameters.
type ProcessRequest struct {
	Filename  string `json:"filename" form:"filename" binding:"required"`
	Encoder   string `json:"encoder" form:"encoder"`
	InputSize int    `json:"input_size" form:"input_size"`
	MaxRes    int    `json:"max_res" form:"max_res"`
	MaxLen    int    `json:"max_len" form:"max_len"`
	TargetFPS int    `json:"target_fps" form:"target_fps"`
	FP32      bool   `json:"fp32" form:"fp32"`
}

func (h *Handler) defaultRequest() ProcessRequest {
	req := ProcessRequest{
		Encoder:   h.cfg.DefaultEncoder,
		InputSize: h.cfg.InputSize,
		MaxRes:    h.cfg.MaxRes,
		MaxLen:    task.NoLimit,
		TargetFPS: task.NoLimit,
	}
	if req.Encoder == "" {
		req.Encoder = string(task.EncoderLarge)
	}
	if req.InputSize <= 0 {
		req.InputSize = task.DefaultInputSize
	}
	if req.MaxRes <= 0 {
		req.MaxRes = task.DefaultMaxRes
	}
	return req
}

// handleListModels lists the depth model variants.
func (h *Handler) handleListModels(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"models": depth.Variants()})
}

// handleUpload stores a video under the upload directory, replacing any
// previous upload with the same name.
func (h *Handler) handleUpload(c *gin.Context) {
	tooLarge := gin.H{"error": fmt.Sprintf("File exceeds the %s limit", humanize.Bytes(uint64(h.cfg.MaxInputSize)))}
	if h.cfg.MaxInputSize > 0 {
		if c.Request.ContentLength > h.cfg.MaxInputSize {
			c.JSON(http.StatusRequestEntityTooLarge, tooLarge)
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.cfg.MaxInputSize)
	}
	fh, err := c.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			c.JSON(http.StatusRequestEntityTooLarge, tooLarge)
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "No file provided"})
		return
	}

	filename := filepath.Base(fh.Filename)
	if filename == "" || filename == "." || filename == string(filepath.Separator) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No filename provided"})
		return
	}
	ext := strings.ToLower(filepath.Ext(filename))
	if !allowedExtensions[ext] {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Unsupported video format: %s", ext)})
		return
	}

	if err := os.MkdirAll(h.cfg.UploadDir, 0o755); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to prepare upload directory", "details": err.Error()})
		return
	}
	dst := filepath.Join(h.cfg.UploadDir, filename)
	if err := c.SaveUploadedFile(fh, dst); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save upload", "details": err.Error()})
		return
	}

	h.logger.Info("upload saved", "filename", filename, "size", humanize.Bytes(uint64(fh.Size)))
	c.JSON(http.StatusOK, gin.H{
		"filename": filename,
		"path":     dst,
		"size":     fh.Size,
		"size_mb":  math.Round(float64(fh.Size)/(1<<20)*100) / 100,
	})
}

// handleProcess runs a conversion and waits for it to finish.
func (h *Handler) handleProcess(c *gin.Context) {
	req := h.defaultRequest()
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if h.taskManager.Active() {
		c.JSON(http.StatusConflict, gin.H{"error": task.ErrJobActive.Error()})
		return
	}

	filename := filepath.Base(req.Filename)
	inputPath := filepath.Join(h.cfg.UploadDir, filename)
	if filename != req.Filename {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("File not found: %s", req.Filename)})
		return
	}
	if _, err := os.Stat(inputPath); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": fmt.Sprintf("File not found: %s", req.Filename)})
		return
	}

	encoder, err := task.ParseEncoder(req.Encoder)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Invalid encoder: %s", req.Encoder)})
		return
	}

	d := task.NewDescriptor(inputPath, h.cfg.OutputDir)
	d.Encoder = encoder
	d.InputSize = req.InputSize
	d.MaxRes = req.MaxRes
	d.MaxLen = req.MaxLen
	d.TargetFPS = req.TargetFPS
	d.FP32 = req.FP32

	job, err := h.taskManager.Run(c.Request.Context(), d)
	switch {
	case errors.Is(err, task.ErrJobActive):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	case errors.Is(err, task.ErrInsufficientResources):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	case err != nil:
		h.logger.Warn("process request ended early", "filename", filename, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if !job.Result.Success {
		msg := job.Result.Error
		if msg == "" {
			msg = "Processing failed"
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": msg, "job_id": job.ID})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"job_id": job.ID,
		"result": job.Result,
		"downloads": gin.H{
			"src":   h.buildDownloadURL(c, job.Result.SrcPath),
			"depth": h.buildDownloadURL(c, job.Result.DepthPath),
			"rgbd":  h.buildDownloadURL(c, job.Result.RGBDPath),
		},
	})
}

// buildDownloadURL constructs the full URL for an artifact.
func (h *Handler) buildDownloadURL(c *gin.Context, path string) string {
	baseURL := h.cfg.BaseURL
	if baseURL == "" {
		scheme := "http"
		if c.Request.TLS != nil {
			scheme = "https"
		}
		baseURL = fmt.Sprintf("%s://%s", scheme, c.Request.Host)
	}
	baseURL = strings.TrimSuffix(baseURL, "/")
	return fmt.Sprintf("%s/api/v1/files/%s", baseURL, filepath.Base(path))
}

// handleGetProgress returns the current progress snapshot.
func (h *Handler) handleGetProgress(c *gin.Context) {
	c.JSON(http.StatusOK, h.taskManager.Progress())
}

// handleListJobs returns recent finished jobs.
func (h *Handler) handleListJobs(c *gin.Context) {
	records, err := h.taskManager.History(c.Request.Context(), 50)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read job history", "details": err.Error()})
		return
	}
	if records == nil {
		c.JSON(http.StatusOK, gin.H{"jobs": []any{}})
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": records})
}

// handleGetFile serves a finished artifact.
func (h *Handler) handleGetFile(c *gin.Context) {
	filename := c.Param("filename")
	filePath, err := h.taskManager.GetFilePath(filename)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.FileAttachment(filePath, filename)
}
