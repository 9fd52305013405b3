// Package server exposes the admission engine over HTTP: a decision endpoint
// for gateway callers, a JWT-guarded operator API, and Prometheus metrics.
package server

import (
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/yaml.v3"

	"github.com/tripwise/gatekeeper/internal/admission"
	"github.com/tripwise/gatekeeper/internal/audit"
	"github.com/tripwise/gatekeeper/internal/config"
	"github.com/tripwise/gatekeeper/internal/ratelimit"
)

// maxConfigBody bounds operator config uploads.
const maxConfigBody = 1 << 20

// Server wires the engine and its operator surface into a gin router.
type Server struct {
	engine   *admission.Engine
	recorder *audit.Recorder
	jwtCfg   config.JWTConfig
	gatherer prometheus.Gatherer
}

// New builds a Server. recorder and gatherer may be nil; the matching
// routes degrade gracefully.
func New(engine *admission.Engine, recorder *audit.Recorder, jwtCfg config.JWTConfig, gatherer prometheus.Gatherer) *Server {
	return &Server{
		engine:   engine,
		recorder: recorder,
		jwtCfg:   jwtCfg,
		gatherer: gatherer,
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", s.Healthz)
	r.POST("/v1/decide", s.Decide)

	if s.gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	authed := r.Group("/v1")
	authed.Use(operatorAuthMiddleware(s.jwtCfg))
	authed.GET("/configs", s.ListConfigs)
	authed.PUT("/configs/:key", s.PutConfig)
	authed.DELETE("/configs/:key", s.DeleteConfig)
	authed.DELETE("/state", s.ResetState)
	authed.GET("/metrics", s.MetricsSnapshot)
	authed.POST("/metrics/reset", s.ResetMetrics)

	return r
}

// Healthz reports liveness.
func (s *Server) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Decide evaluates one admission request and returns the full decision.
// The endpoint is advisory: enforcement stays with the caller, so every
// well-formed request gets 200 regardless of verdict.
func (s *Server) Decide(c *gin.Context) {
	var req admission.Request
	if errBind := c.ShouldBindJSON(&req); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if strings.TrimSpace(req.Identifier) == "" && strings.TrimSpace(req.Context.IP) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "identifier or context.ip is required"})
		return
	}

	decision := s.engine.Decide(req)
	if decision.RetryAfterMs > 0 {
		c.Header("Retry-After", retryAfterSeconds(decision.RetryAfterMs))
	}
	c.JSON(http.StatusOK, decision)
}

// ListConfigs returns the keys and generation of the current config snapshot.
func (s *Server) ListConfigs(c *gin.Context) {
	snap := s.engine.Registry().Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"generation": snap.Generation,
		"keys":       snap.Keys(),
	})
}

// PutConfig installs a config under the given key. The body uses the same
// document format as rules file entries, so durations like "60s" work.
func (s *Server) PutConfig(c *gin.Context) {
	key := strings.TrimSpace(c.Param("key"))
	if key == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing config key"})
		return
	}

	body, errRead := io.ReadAll(io.LimitReader(c.Request.Body, maxConfigBody))
	if errRead != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}
	cfg := &ratelimit.Config{}
	if errParse := yaml.Unmarshal(body, cfg); errParse != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid config document"})
		return
	}

	if errLoad := s.engine.Registry().Load(key, cfg); errLoad != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": errLoad.Error()})
		return
	}
	s.recorder.RecordConfig(key, cfg)

	snap := s.engine.Registry().Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"key":        key,
		"config_id":  cfg.ID,
		"version":    cfg.Version,
		"generation": snap.Generation,
	})
}

// DeleteConfig removes the config stored under a key.
func (s *Server) DeleteConfig(c *gin.Context) {
	key := strings.TrimSpace(c.Param("key"))
	if key == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing config key"})
		return
	}
	if !s.engine.Registry().Remove(key) {
		c.JSON(http.StatusNotFound, gin.H{"error": "config not found"})
		return
	}
	snap := s.engine.Registry().Snapshot()
	c.JSON(http.StatusOK, gin.H{"key": key, "generation": snap.Generation})
}

// ResetState clears rate limit, quota and burst state for one identifier.
func (s *Server) ResetState(c *gin.Context) {
	identifier := strings.TrimSpace(c.Query("identifier"))
	if identifier == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "identifier is required"})
		return
	}
	scope := ratelimit.Scope(strings.TrimSpace(c.Query("scope")))
	removed := s.engine.ResetState(identifier, scope)
	c.JSON(http.StatusOK, gin.H{"identifier": identifier, "removed": removed})
}

// MetricsSnapshot returns verdict counters per scope since start or last
// reset.
func (s *Server) MetricsSnapshot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"scopes": s.engine.Metrics().SnapshotAll()})
}

// ResetMetrics zeroes the verdict counters.
func (s *Server) ResetMetrics(c *gin.Context) {
	s.engine.Metrics().Reset()
	c.JSON(http.StatusOK, gin.H{"status": "reset"})
}

// retryAfterSeconds renders a millisecond delay as whole seconds, rounded up
// so clients never retry early.
func retryAfterSeconds(ms int64) string {
	secs := (ms + 999) / 1000
	if secs < 1 {
		secs = 1
	}
	return strconv.FormatInt(secs, 10)
}
