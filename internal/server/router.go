package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Jeremy-Gitau/launch-pad/internal/logmux"
	"github.com/Jeremy-Gitau/launch-pad/internal/metrics"
	"github.com/Jeremy-Gitau/launch-pad/internal/store"
	"github.com/Jeremy-Gitau/launch-pad/internal/supervisor"
)

// Router provides the embeddable HTTP control surface.
// Endpoints:
//
//	GET  /status                     all service statuses
//	POST /start?service=ID           cascading start
//	POST /stop?service=ID            stop one service, no cascade
//	POST /start-all                  start everything in dependency order
//	POST /stop-all                   stop everything in reverse order
//	POST /preset?name=NAME           converge onto a named preset
//	GET  /logs?service=ID&n=100      tail of one service
//	GET  /logs/merged?n=100          merged, timestamp-ordered tail
//	GET  /logs/search?q=TERM         search retained lines
//	GET  /history?service=ID&limit=  persisted transitions, newest first
//	GET  /metrics                    Prometheus exposition (when enabled)
type Router struct {
	orch    *supervisor.Orchestrator
	presets map[string][]string
	hist    store.Store // nil when persistence is disabled
	metrics bool
}

func NewRouter(orch *supervisor.Orchestrator, presets map[string][]string, hist store.Store, withMetrics bool) *Router {
	return &Router{orch: orch, presets: presets, hist: hist, metrics: withMetrics}
}

// Handler returns an http.Handler that can be mounted in any server.
func (r *Router) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	g := gin.New()
	g.Use(gin.Recovery())
	g.GET("/status", r.handleStatus)
	g.POST("/start", r.handleStart)
	g.POST("/stop", r.handleStop)
	g.POST("/start-all", r.handleStartAll)
	g.POST("/stop-all", r.handleStopAll)
	g.POST("/preset", r.handlePreset)
	g.GET("/logs", r.handleLogs)
	g.GET("/logs/merged", r.handleLogsMerged)
	g.GET("/logs/search", r.handleLogsSearch)
	g.GET("/history", r.handleHistory)
	if r.metrics {
		g.GET("/metrics", gin.WrapH(metrics.Handler()))
	}
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
func NewServer(addr string, r *Router) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

func (r *Router) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, r.orch.Snapshot())
}

func (r *Router) requiredService(c *gin.Context) (string, bool) {
	id := c.Query("service")
	if id == "" {
		c.JSON(http.StatusBadRequest, errorResp{Error: "service query parameter required"})
		return "", false
	}
	if _, err := r.orch.Registry().Describe(id); err != nil {
		c.JSON(http.StatusNotFound, errorResp{Error: err.Error()})
		return "", false
	}
	return id, true
}

func (r *Router) handleStart(c *gin.Context) {
	id, ok := r.requiredService(c)
	if !ok {
		return
	}
	if err := r.orch.StartService(c.Request.Context(), id); err != nil {
		var dte *supervisor.DependencyTimeoutError
		if errors.As(err, &dte) {
			c.JSON(http.StatusConflict, errorResp{Error: err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, okResp{OK: true})
}

func (r *Router) handleStop(c *gin.Context) {
	id, ok := r.requiredService(c)
	if !ok {
		return
	}
	if err := r.orch.StopService(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, okResp{OK: true})
}

func (r *Router) handleStartAll(c *gin.Context) {
	if err := r.orch.StartAll(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, okResp{OK: true})
}

func (r *Router) handleStopAll(c *gin.Context) {
	if err := r.orch.StopAll(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, okResp{OK: true})
}

func (r *Router) handlePreset(c *gin.Context) {
	name := c.Query("name")
	if name == "" {
		c.JSON(http.StatusBadRequest, errorResp{Error: "name query parameter required"})
		return
	}
	ids, ok := r.presets[name]
	if !ok {
		c.JSON(http.StatusNotFound, errorResp{Error: "unknown preset: " + name})
		return
	}
	if err := r.orch.ApplyPreset(c.Request.Context(), ids); err != nil {
		c.JSON(http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, okResp{OK: true})
}

func intQuery(c *gin.Context, key string, def int) int {
	if s := c.Query(key); s != "" {
		if v, err := strconv.Atoi(s); err == nil {
			return v
		}
	}
	return def
}

type logRecordResp struct {
	Service  string    `json:"service"`
	At       time.Time `json:"at"`
	Severity string    `json:"severity"`
	Line     string    `json:"line"`
}

func toLogResp(recs []logmux.Record) []logRecordResp {
	out := make([]logRecordResp, 0, len(recs))
	for _, rec := range recs {
		out = append(out, logRecordResp{
			Service:  rec.Service,
			At:       rec.At,
			Severity: rec.Severity.String(),
			Line:     rec.Line,
		})
	}
	return out
}

func (r *Router) handleLogs(c *gin.Context) {
	id, ok := r.requiredService(c)
	if !ok {
		return
	}
	n := intQuery(c, "n", 100)
	c.JSON(http.StatusOK, toLogResp(r.orch.Logs().Tail(id, n)))
}

func (r *Router) handleLogsMerged(c *gin.Context) {
	n := intQuery(c, "n", 100)
	c.JSON(http.StatusOK, toLogResp(r.orch.Logs().Merged(n)))
}

func (r *Router) handleLogsSearch(c *gin.Context) {
	q := c.Query("q")
	if q == "" {
		c.JSON(http.StatusBadRequest, errorResp{Error: "q query parameter required"})
		return
	}
	c.JSON(http.StatusOK, toLogResp(r.orch.Logs().Search(q)))
}

func (r *Router) handleHistory(c *gin.Context) {
	if r.hist == nil {
		c.JSON(http.StatusNotFound, errorResp{Error: "history persistence is disabled"})
		return
	}
	recs, err := r.hist.History(c.Request.Context(), c.Query("service"), intQuery(c, "limit", 100))
	if err != nil {
		c.JSON(http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, recs)
}
