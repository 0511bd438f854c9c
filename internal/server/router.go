package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/omnix-ai/omnixd/internal/config"
	"github.com/omnix-ai/omnixd/internal/metrics"
	"github.com/omnix-ai/omnixd/internal/supervisor"
	itls "github.com/omnix-ai/omnixd/internal/tls"
)

// Router provides embeddable HTTP handlers for operating the stack.
// Endpoints:
//
//	GET  {basePath}/healthz           daemon phase
//	GET  {basePath}/status            query: name=... (one) or none (all, declared order)
//	GET  {basePath}/report            last startup report
//	GET  {basePath}/events            websocket stream of lifecycle events
//	POST {basePath}/services/start    query: name=...
//	POST {basePath}/services/stop     query: name=...
//	POST {basePath}/services/restart  query: name=...
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	sup         *supervisor.Supervisor
	basePath    string
	withMetrics bool
}

// NewRouter constructs a Router with a configurable basePath.
// Example basePath: "/omnixd" results in /omnixd/status, /omnixd/services/start.
func NewRouter(sup *supervisor.Supervisor, basePath string) *Router {
	return &Router{sup: sup, basePath: sanitizeBase(basePath)}
}

// WithMetrics additionally mounts the Prometheus handler at {basePath}/metrics.
func (r *Router) WithMetrics() *Router {
	r.withMetrics = true
	return r
}

// Handler returns an http.Handler powered by gin that can be mounted in any
// server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/healthz", r.handleHealthz)
	group.GET("/status", r.handleStatus)
	group.GET("/report", r.handleReport)
	group.GET("/events", r.handleEvents)
	group.POST("/services/start", r.handleStart)
	group.POST("/services/stop", r.handleStop)
	group.POST("/services/restart", r.handleRestart)
	if r.withMetrics {
		group.GET("/metrics", gin.WrapH(metrics.Handler()))
	}
	return g
}

// NewServer starts the control-plane HTTP server described by the [server]
// section. TLS is set up when configured; the server runs in its own
// goroutine and the caller owns Shutdown/Close.
func NewServer(scfg config.ServerConfig, sup *supervisor.Supervisor, withMetrics bool) (*http.Server, error) {
	r := NewRouter(sup, scfg.BasePath)
	if withMetrics {
		r.WithMetrics()
	}
	tlsConf, err := itls.SetupTLS(scfg)
	if err != nil {
		return nil, err
	}
	server := &http.Server{
		Addr:              scfg.Listen,
		Handler:           r.Handler(),
		TLSConfig:         tlsConf,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	if tlsConf != nil {
		go func() { _ = server.ListenAndServeTLS("", "") }()
	} else {
		go func() { _ = server.ListenAndServe() }()
	}
	return server, nil
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

type phaseResp struct {
	Phase supervisor.Phase `json:"phase"`
}

func (r *Router) handleHealthz(c *gin.Context) {
	writeJSON(c, http.StatusOK, phaseResp{Phase: r.sup.Phase()})
}

func (r *Router) handleStatus(c *gin.Context) {
	name := c.Query("name")
	if name == "" {
		writeJSON(c, http.StatusOK, r.sup.StatusAll())
		return
	}
	if !isSafeName(name) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid name: allowed [A-Za-z0-9._-]"})
		return
	}
	st, err := r.sup.Status(name)
	if err != nil {
		writeJSON(c, errCode(err), errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, st)
}

func (r *Router) handleReport(c *gin.Context) {
	rep := r.sup.LastReport()
	if rep == nil {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "no startup attempted yet"})
		return
	}
	writeJSON(c, http.StatusOK, rep)
}

func (r *Router) handleStart(c *gin.Context) {
	name, ok := r.serviceName(c)
	if !ok {
		return
	}
	res, err := r.sup.StartService(c.Request.Context(), name)
	if err != nil {
		writeJSON(c, errCode(err), errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, res)
}

func (r *Router) handleStop(c *gin.Context) {
	name, ok := r.serviceName(c)
	if !ok {
		return
	}
	if err := r.sup.StopService(c.Request.Context(), name); err != nil {
		writeJSON(c, errCode(err), errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleRestart(c *gin.Context) {
	name, ok := r.serviceName(c)
	if !ok {
		return
	}
	res, err := r.sup.Restart(c.Request.Context(), name)
	if err != nil {
		writeJSON(c, errCode(err), errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, res)
}

// serviceName extracts and validates the name query param, writing the error
// response itself when it is missing or unsafe.
func (r *Router) serviceName(c *gin.Context) (string, bool) {
	name := c.Query("name")
	if name == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "name query param required"})
		return "", false
	}
	if !isSafeName(name) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid name: allowed [A-Za-z0-9._-]"})
		return "", false
	}
	return name, true
}

func errCode(err error) int {
	if errors.Is(err, supervisor.ErrUnknownService) {
		return http.StatusNotFound
	}
	return http.StatusBadRequest
}
