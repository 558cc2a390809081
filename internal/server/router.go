// Package server is the loopback bridge through which the interface layer
// reads readiness and drives the chat session.
package server

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/offdoc/internal/app"
	"github.com/loykin/offdoc/internal/chat"
	"github.com/loykin/offdoc/internal/medication"
	"github.com/loykin/offdoc/internal/metrics"
)

// Router exposes the application under basePath:
//
//	GET    {basePath}/ollama-status
//	GET    {basePath}/system-info
//	GET    {basePath}/status
//	POST   {basePath}/status/refresh
//	GET    {basePath}/notices
//	POST   {basePath}/backend/restart
//	POST   {basePath}/chat                 body: {message}
//	POST   {basePath}/chat/reset
//	GET    {basePath}/chat/transcript
//	POST   {basePath}/symptoms             body: {symptoms}
//	GET    {basePath}/history
//	DELETE {basePath}/history
//	GET    {basePath}/medications
//	POST   {basePath}/medications          body: {name}
//	DELETE {basePath}/medications/:index
//	POST   {basePath}/medications/interactions
//	GET    {basePath}/settings
//	PUT    {basePath}/settings             body: {saveHistory, anonymizeData}
//
// /metrics is served at the root when metrics are enabled.
type Router struct {
	app      *app.App
	basePath string
}

func NewRouter(a *app.App, basePath string) *Router {
	return &Router{app: a, basePath: sanitizeBase(basePath)}
}

func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	if r.app.Config().Metrics.Enabled {
		g.GET("/metrics", gin.WrapH(metrics.Handler()))
	}
	group := g.Group(r.basePath)
	group.GET("/ollama-status", r.handleOllamaStatus)
	group.GET("/system-info", r.handleSystemInfo)
	group.GET("/status", r.handleStatus)
	group.POST("/status/refresh", r.handleRefresh)
	group.GET("/notices", r.handleNotices)
	group.POST("/backend/restart", r.handleRestart)
	group.POST("/chat", r.handleChat)
	group.POST("/chat/reset", r.handleChatReset)
	group.GET("/chat/transcript", r.handleTranscript)
	group.POST("/symptoms", r.handleSymptoms)
	group.GET("/history", r.handleHistory)
	group.DELETE("/history", r.handleClearHistory)
	group.GET("/medications", r.handleMedications)
	group.POST("/medications", r.handleAddMedication)
	group.DELETE("/medications/:index", r.handleRemoveMedication)
	group.POST("/medications/interactions", r.handleInteractions)
	group.GET("/settings", r.handleSettings)
	group.PUT("/settings", r.handlePutSettings)
	return g
}

// NewServer listens on addr and serves the router in the background.
// Binding errors are returned synchronously.
func NewServer(addr, basePath string, a *app.App) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	server := &http.Server{
		Addr:              ln.Addr().String(),
		Handler:           NewRouter(a, basePath).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// chat requests wait on the model
		WriteTimeout: 2 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}
	go func() { _ = server.Serve(ln) }()
	return server, nil
}

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

func (r *Router) handleOllamaStatus(c *gin.Context) {
	writeJSON(c, http.StatusOK, gin.H{"available": r.app.RuntimeAvailable(c.Request.Context())})
}

func (r *Router) handleSystemInfo(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.app.SystemInfo(c.Request.Context()))
}

func (r *Router) handleStatus(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.app.Status())
}

func (r *Router) handleRefresh(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.app.Refresh(c.Request.Context()))
}

func (r *Router) handleNotices(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.app.Notices())
}

func (r *Router) handleRestart(c *gin.Context) {
	if err := r.app.RestartBackend(c.Request.Context()); err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, r.app.Status())
}

func (r *Router) handleChat(c *gin.Context) {
	var req struct {
		Message string `json:"message"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	reply, err := r.app.Chat().Send(c.Request.Context(), req.Message)
	if errors.Is(err, chat.ErrEmptyMessage) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, reply)
}

func (r *Router) handleChatReset(c *gin.Context) {
	r.app.Chat().Reset()
	writeJSON(c, http.StatusOK, gin.H{"ok": true, "session": r.app.Chat().SessionID()})
}

func (r *Router) handleTranscript(c *gin.Context) {
	writeJSON(c, http.StatusOK, gin.H{"session": r.app.Chat().SessionID(), "entries": r.app.Chat().Transcript()})
}

func (r *Router) handleSymptoms(c *gin.Context) {
	var req struct {
		Symptoms []string `json:"symptoms"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	reply, err := r.app.Chat().AnalyzeSymptoms(c.Request.Context(), req.Symptoms)
	if errors.Is(err, chat.ErrNoSymptoms) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, reply)
}

func (r *Router) handleHistory(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.app.History().List())
}

func (r *Router) handleClearHistory(c *gin.Context) {
	if err := r.app.History().Clear(c.Request.Context()); err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleMedications(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.app.Medications().Items())
}

func (r *Router) handleAddMedication(c *gin.Context) {
	var req struct {
		Name string `json:"name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	rec, err := r.app.Medications().Add(c.Request.Context(), req.Name)
	switch {
	case errors.Is(err, medication.ErrEmptyName):
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
	case err != nil:
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
	default:
		writeJSON(c, http.StatusOK, rec)
	}
}

func (r *Router) handleRemoveMedication(c *gin.Context) {
	idx, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "index must be an integer"})
		return
	}
	rec, err := r.app.Medications().Remove(c.Request.Context(), idx)
	switch {
	case errors.Is(err, medication.ErrIndexOutOfRange):
		writeJSON(c, http.StatusNotFound, errorResp{Error: err.Error()})
	case err != nil:
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
	default:
		writeJSON(c, http.StatusOK, rec)
	}
}

func (r *Router) handleInteractions(c *gin.Context) {
	resp, err := r.app.CheckInteractions(c.Request.Context())
	switch {
	case errors.Is(err, app.ErrTooFewMedications):
		writeJSON(c, http.StatusBadRequest, errorResp{Error: err.Error()})
	case err != nil:
		writeJSON(c, http.StatusBadGateway, errorResp{Error: err.Error()})
	default:
		writeJSON(c, http.StatusOK, gin.H{"response": resp})
	}
}

func (r *Router) handleSettings(c *gin.Context) {
	v, err := r.app.Settings().Get(c.Request.Context())
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, v)
}

func (r *Router) handlePutSettings(c *gin.Context) {
	ctx := c.Request.Context()
	cur, err := r.app.Settings().Get(ctx)
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	// absent fields keep their current value
	var req struct {
		SaveHistory   *bool `json:"saveHistory"`
		AnonymizeData *bool `json:"anonymizeData"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	next := cur
	if req.SaveHistory != nil {
		next.SaveHistory = *req.SaveHistory
	}
	if req.AnonymizeData != nil {
		next.AnonymizeData = *req.AnonymizeData
	}
	if err := r.app.Settings().Put(ctx, next); err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, next)
}

// Shutdown stops srv within the given timeout.
func Shutdown(srv *http.Server, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return srv.Shutdown(ctx)
}
