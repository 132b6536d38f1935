package server

import (
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/tunnelctl/internal/process"
	"github.com/loykin/tunnelctl/internal/profile"
	"github.com/loykin/tunnelctl/internal/status"
)

// Controller is the supervisor surface exposed over HTTP.
type Controller interface {
	ListProfiles() []profile.Profile
	GetProfile(id string) (profile.Profile, bool)
	AddProfile(d profile.Draft) (profile.Profile, error)
	UpdateProfile(p profile.Profile) (bool, error)
	DeleteProfile(id string) (bool, error)
	ToggleProfile(id string) (bool, error)
	Connect(id string) (bool, error)
	Disconnect(id string) (bool, error)
	Status() status.Snapshot
	Subscribe() (<-chan status.Snapshot, func())
	ProcessStats(id string) (process.Stats, bool)
}

// Router provides embeddable HTTP handlers for managing tunnel profiles.
// Endpoints:
//
//	GET    {basePath}/profiles
//	POST   {basePath}/profiles                 body: Draft JSON
//	GET    {basePath}/profiles/:id
//	PUT    {basePath}/profiles/:id             body: Profile JSON (id from path)
//	DELETE {basePath}/profiles/:id
//	POST   {basePath}/profiles/:id/toggle
//	POST   {basePath}/profiles/:id/connect
//	POST   {basePath}/profiles/:id/disconnect
//	GET    {basePath}/profiles/:id/process     resource usage of the live process
//	GET    {basePath}/status
//	GET    {basePath}/status/stream            server-sent "status" events
//	GET    {basePath}/metrics                  only when a metrics handler is set
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	ctl      Controller
	basePath string
	metrics  http.Handler
	logger   *slog.Logger
}

// Option customizes a Router.
type Option func(*Router)

// WithMetrics mounts h at {basePath}/metrics.
func WithMetrics(h http.Handler) Option {
	return func(r *Router) { r.metrics = h }
}

// WithLogger logs each request at debug level.
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) { r.logger = l }
}

// NewRouter constructs a Router. Example basePath: "/api" results in /api/profiles, /api/status.
func NewRouter(ctl Controller, basePath string, opts ...Option) *Router {
	r := &Router{ctl: ctl, basePath: sanitizeBase(basePath)}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	if r.logger != nil {
		g.Use(requestLogger(r.logger))
	}
	group := g.Group(r.basePath)
	group.GET("/profiles", r.handleList)
	group.POST("/profiles", r.handleAdd)
	group.GET("/profiles/:id", r.withID(r.handleGet))
	group.PUT("/profiles/:id", r.withID(r.handleUpdate))
	group.DELETE("/profiles/:id", r.withID(r.handleDelete))
	group.POST("/profiles/:id/toggle", r.withID(r.handleToggle))
	group.POST("/profiles/:id/connect", r.withID(r.handleConnect))
	group.POST("/profiles/:id/disconnect", r.withID(r.handleDisconnect))
	group.GET("/profiles/:id/process", r.withID(r.handleProcess))
	group.GET("/status", r.handleStatus)
	group.GET("/status/stream", r.handleStream)
	if r.metrics != nil {
		group.GET("/metrics", gin.WrapH(r.metrics))
	}
	return g
}

// NewServer builds a standalone HTTP server on addr using this router. The caller
// runs ListenAndServe and Shutdown.
func NewServer(addr, basePath string, ctl Controller, opts ...Option) *http.Server {
	r := NewRouter(ctl, basePath, opts...)
	return &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

func requestLogger(l *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		l.Debug("http request", "method", c.Request.Method, "path", c.Request.URL.Path,
			"status", c.Writer.Status(), "elapsed", time.Since(start))
	}
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

const errUnknownProfile = "profile not found"

func (r *Router) withID(h func(c *gin.Context, id string)) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if !isSafeID(id) {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid profile id"})
			return
		}
		h(c, id)
	}
}

// respond maps a supervisor (bool, error) result to {ok}, 404 or 503.
func respond(c *gin.Context, ok bool, err error) {
	switch {
	case err != nil:
		writeJSON(c, http.StatusServiceUnavailable, errorResp{Error: err.Error()})
	case !ok:
		writeJSON(c, http.StatusNotFound, errorResp{Error: errUnknownProfile})
	default:
		writeJSON(c, http.StatusOK, okResp{OK: true})
	}
}

func (r *Router) handleList(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.ctl.ListProfiles())
}

func (r *Router) handleGet(c *gin.Context, id string) {
	p, ok := r.ctl.GetProfile(id)
	if !ok {
		writeJSON(c, http.StatusNotFound, errorResp{Error: errUnknownProfile})
		return
	}
	writeJSON(c, http.StatusOK, p)
}

func (r *Router) handleAdd(c *gin.Context) {
	var d profile.Draft
	if err := c.ShouldBindJSON(&d); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if d.KeepAliveInterval < 0 || d.MaxReconnectAttempts < 0 {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "keep_alive_interval and max_reconnect_attempts must not be negative"})
		return
	}
	p, err := r.ctl.AddProfile(d)
	if err != nil {
		writeJSON(c, http.StatusServiceUnavailable, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusCreated, p)
}

func (r *Router) handleUpdate(c *gin.Context, id string) {
	var p profile.Profile
	if err := c.ShouldBindJSON(&p); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if p.ID != "" && p.ID != id {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "profile id does not match path"})
		return
	}
	p.ID = id
	ok, err := r.ctl.UpdateProfile(p)
	respond(c, ok, err)
}

func (r *Router) handleDelete(c *gin.Context, id string) {
	ok, err := r.ctl.DeleteProfile(id)
	respond(c, ok, err)
}

func (r *Router) handleToggle(c *gin.Context, id string) {
	ok, err := r.ctl.ToggleProfile(id)
	respond(c, ok, err)
}

func (r *Router) handleConnect(c *gin.Context, id string) {
	if _, found := r.ctl.GetProfile(id); !found {
		writeJSON(c, http.StatusNotFound, errorResp{Error: errUnknownProfile})
		return
	}
	ok, err := r.ctl.Connect(id)
	if err != nil {
		writeJSON(c, http.StatusServiceUnavailable, errorResp{Error: err.Error()})
		return
	}
	if !ok {
		writeJSON(c, http.StatusConflict, errorResp{Error: "profile is already running, has no command, or failed to spawn"})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleDisconnect(c *gin.Context, id string) {
	ok, err := r.ctl.Disconnect(id)
	respond(c, ok, err)
}

func (r *Router) handleProcess(c *gin.Context, id string) {
	st, ok := r.ctl.ProcessStats(id)
	if !ok {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "no running process for profile"})
		return
	}
	writeJSON(c, http.StatusOK, st)
}

func (r *Router) handleStatus(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.ctl.Status())
}

// handleStream sends the current snapshot, then one event per published snapshot
// until the client goes away or the supervisor shuts down.
func (r *Router) handleStream(c *gin.Context) {
	ch, cancel := r.ctl.Subscribe()
	defer cancel()

	c.Header("Cache-Control", "no-cache")
	c.SSEvent("status", r.ctl.Status())
	c.Writer.Flush()
	c.Stream(func(io.Writer) bool {
		select {
		case snap, ok := <-ch:
			if !ok {
				return false
			}
			c.SSEvent("status", snap)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}
