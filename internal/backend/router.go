package backend

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// DefaultAddr is where the interface layer expects the backend.
const DefaultAddr = "127.0.0.1:5000"

// Router serves the backend endpoints:
//
//	GET  /health
//	GET  /models
//	POST /models/:name
//	POST /consultation            {message}
//	POST /analyze-symptoms        {symptoms}
//	POST /medication-interaction  {medications}
type Router struct {
	a   *Assistant
	log *slog.Logger
	now func() time.Time
}

func NewRouter(a *Assistant, log *slog.Logger) *Router {
	if log == nil {
		log = slog.Default()
	}
	return &Router{a: a, log: log, now: time.Now}
}

func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery(), r.accessLog())
	g.GET("/health", r.handleHealth)
	g.GET("/models", r.handleModels)
	g.POST("/models/:name", r.handleSelectModel)
	g.POST("/consultation", r.handleConsultation)
	g.POST("/analyze-symptoms", r.handleSymptoms)
	g.POST("/medication-interaction", r.handleInteraction)
	return g
}

type errorResp struct {
	Error string `json:"error"`
}

type healthResp struct {
	Status          string  `json:"status"`
	OllamaAvailable bool    `json:"ollama_available"`
	Timestamp       float64 `json:"timestamp"`
}

type consultationReq struct {
	Message string `json:"message"`
}

type symptomsReq struct {
	Symptoms []string `json:"symptoms"`
}

type medicationsReq struct {
	Medications []string `json:"medications"`
}

type answerResp struct {
	Response    string   `json:"response"`
	Model       string   `json:"model,omitempty"`
	Symptoms    []string `json:"symptoms,omitempty"`
	Medications []string `json:"medications,omitempty"`
	Timestamp   float64  `json:"timestamp"`
}

func (r *Router) stamp() float64 {
	return float64(r.now().UnixNano()) / 1e9
}

func (r *Router) handleHealth(c *gin.Context) {
	ok := r.a.Available(c.Request.Context())
	status := "healthy"
	if !ok {
		status = "degraded"
	}
	c.JSON(http.StatusOK, healthResp{Status: status, OllamaAvailable: ok, Timestamp: r.stamp()})
}

func (r *Router) handleModels(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"models":        r.a.Models(c.Request.Context()),
		"current_model": r.a.Model(),
	})
}

func (r *Router) handleSelectModel(c *gin.Context) {
	name := c.Param("name")
	if err := r.a.SelectModel(c.Request.Context(), name); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Model not available"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "model": name})
}

func (r *Router) handleConsultation(c *gin.Context) {
	var req consultationReq
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Message) == "" {
		c.JSON(http.StatusBadRequest, errorResp{Error: "Message is required"})
		return
	}
	ctx := c.Request.Context()
	if !r.a.Available(ctx) {
		c.JSON(http.StatusServiceUnavailable, errorResp{Error: "Medical AI service is not available. Please ensure Ollama is running."})
		return
	}
	c.JSON(http.StatusOK, answerResp{Response: r.a.Respond(ctx, req.Message), Model: r.a.Model(), Timestamp: r.stamp()})
}

func (r *Router) handleSymptoms(c *gin.Context) {
	var req symptomsReq
	if err := c.ShouldBindJSON(&req); err != nil || len(req.Symptoms) == 0 {
		c.JSON(http.StatusBadRequest, errorResp{Error: "Symptoms list is required"})
		return
	}
	resp := r.a.Respond(c.Request.Context(), SymptomPrompt(req.Symptoms))
	c.JSON(http.StatusOK, answerResp{Response: resp, Symptoms: req.Symptoms, Timestamp: r.stamp()})
}

func (r *Router) handleInteraction(c *gin.Context) {
	var req medicationsReq
	if err := c.ShouldBindJSON(&req); err != nil || len(req.Medications) < 2 {
		c.JSON(http.StatusBadRequest, errorResp{Error: "At least two medications are required"})
		return
	}
	resp := r.a.Respond(c.Request.Context(), InteractionPrompt(req.Medications))
	c.JSON(http.StatusOK, answerResp{Response: resp, Medications: req.Medications, Timestamp: r.stamp()})
}

func (r *Router) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		r.log.Debug("request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"latency", time.Since(start))
	}
}

// Serve runs the backend on addr until ctx is done.
func Serve(ctx context.Context, addr string, r *Router) error {
	if addr == "" {
		addr = DefaultAddr
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	r.log.Info("backend listening", "addr", ln.Addr().String())
	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
