package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"market-platform/src/command"
	"market-platform/src/helpers"
	"market-platform/src/interfaces"
	"market-platform/src/logger"
	"market-platform/src/models"
	"market-platform/src/provider"
	"market-platform/src/websocket"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const defaultPrefix = "/api/v1"

// Options wires an APIServer.
type Options struct {
	Runner   *command.Runner
	Feeds    *websocket.FeedManager
	Auth     interfaces.IAuthHook
	Gatherer prometheus.Gatherer
}

// -----------------------------------------------------------------------------
// APIServer
// -----------------------------------------------------------------------------

type APIServer struct {
	Config *models.MConfig
	Logger *logger.Logger

	engine    *gin.Engine
	http      *http.Server
	runner    *command.Runner
	feeds     *websocket.FeedManager
	auth      interfaces.IAuthHook
	gatherer  prometheus.Gatherer
	endpoints []*APIEndpoint
	prefix    string
	started   time.Time

	ctx    context.Context
	cancel context.CancelFunc
	hubMu  sync.Mutex
	hubs   map[string]*FeedHub
}

// -----------------------------------------------------------------------------
// Constructor
// -----------------------------------------------------------------------------

func NewAPIServer(cfg *models.MConfig, log *logger.Logger, opts Options) (*APIServer, error) {
	if opts.Runner == nil {
		return nil, errors.New("server: runner is required")
	}
	if strings.ToUpper(cfg.LogLevel) != "DEBUG" {
		gin.SetMode(gin.ReleaseMode)
	}
	if opts.Feeds == nil {
		opts.Feeds = websocket.DefaultManager()
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	if opts.Auth == nil && cfg.System.API.Auth.Enabled {
		return nil, errors.New("server: auth is enabled but no auth hook is installed")
	}

	prefix := "/" + strings.Trim(cfg.System.API.Prefix, "/")
	if prefix == "/" {
		prefix = defaultPrefix
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &APIServer{
		Config:   cfg,
		Logger:   log,
		engine:   gin.New(),
		runner:   opts.Runner,
		feeds:    opts.Feeds,
		auth:     opts.Auth,
		gatherer: opts.Gatherer,
		prefix:   prefix,
		started:  time.Now(),
		ctx:      ctx,
		cancel:   cancel,
		hubs:     make(map[string]*FeedHub),
	}
	s.engine.Use(gin.Recovery(), s.requestLogger())

	// Add CORS Middleware
	s.engine.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if strings.HasPrefix(origin, "http://127.0.0.1:") || strings.HasPrefix(origin, "http://localhost:") {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		}
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, X-API-Token, accept, origin, Cache-Control, X-Requested-With"+s.customHeaderList())
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	})

	s.endpoints = BuildAPIWrappers(WrapperOptions{
		Runner:        opts.Runner,
		AuthEnabled:   cfg.System.API.Auth.Enabled,
		Charting:      opts.Runner.Charting(),
		CustomHeaders: cfg.System.API.CustomHeaders,
	})
	if err := s.setupRoutes(); err != nil {
		cancel()
		return nil, err
	}
	return s, nil
}

func (s *APIServer) customHeaderList() string {
	if len(s.Config.System.API.CustomHeaders) == 0 {
		return ""
	}
	return ", " + strings.Join(s.Config.System.API.CustomHeaders, ", ")
}

// -----------------------------------------------------------------------------

func (s *APIServer) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.Logger.Debug("%s %s -> %d (%s)", c.Request.Method, c.Request.URL.Path, c.Writer.Status(), time.Since(start))
	}
}

// -----------------------------------------------------------------------------
// Route Setup
// -----------------------------------------------------------------------------

func (s *APIServer) setupRoutes() error {
	s.engine.GET("/api/health", s.getHealth)
	s.engine.GET("/api/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	s.engine.GET("/api/config", s.getConfig)

	api := s.engine.Group(s.prefix)
	api.GET("/signatures", s.getSignatures)

	for _, ep := range s.endpoints {
		for _, method := range ep.Methods {
			api.Handle(strings.ToUpper(method), ep.Path, s.handleCommand(ep))
		}
	}

	feeds := api.Group("/feeds", s.requireAuth())
	feeds.GET("", s.listFeeds)
	feeds.GET("/:name", s.getFeed)
	feeds.DELETE("/:name", s.stopFeed)
	feeds.POST("/:name/subscribe", s.changeFeed(true))
	feeds.POST("/:name/unsubscribe", s.changeFeed(false))
	feeds.GET("/:name/results", s.feedResults)
	feeds.GET("/:name/logs", s.feedLogs)

	s.engine.GET("/ws/feeds/:name", s.requireAuth(), s.handleTail)
	return nil
}

// -----------------------------------------------------------------------------
// Server Lifecycle
// -----------------------------------------------------------------------------

// Handler exposes the router, for tests and embedding.
func (s *APIServer) Handler() http.Handler { return s.engine }

// RegistryMap returns the map the endpoints were built from.
func (s *APIServer) RegistryMap() *provider.RegistryMap { return s.runner.Map() }

// Endpoints returns the mounted command endpoints.
func (s *APIServer) Endpoints() []*APIEndpoint { return s.endpoints }

func (s *APIServer) Start() error {
	addr := fmt.Sprintf("%s:%d", s.Config.Host, s.Config.Port)
	s.Logger.Info("Starting server on %s (%d commands under %s)", addr, len(s.endpoints), s.prefix)

	s.http = &http.Server{Addr: addr, Handler: s.engine, ReadHeaderTimeout: 10 * time.Second}
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// -----------------------------------------------------------------------------

func (s *APIServer) Stop(ctx context.Context) error {
	s.cancel()
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// -----------------------------------------------------------------------------
// Route Handlers
// -----------------------------------------------------------------------------

func (s *APIServer) handleCommand(ep *APIEndpoint) gin.HandlerFunc {
	return func(c *gin.Context) {
		kw, err := requestKwargs(c, ep.Signature)
		if err != nil {
			writeError(c, ep.Path, err)
			return
		}
		if _, ok := ep.Signature.Lookup(command.AuthSettingsKey); ok {
			settings, err := s.auth.UserSettings(c.Request.Context(), c.Request)
			if err != nil {
				writeError(c, ep.Path, err)
				return
			}
			kw[command.AuthSettingsKey] = settings
		}

		o, err := ep.Call(c.Request.Context(), kw)
		if err != nil {
			writeError(c, ep.Path, err)
			return
		}
		c.JSON(http.StatusOK, o)
	}
}

// -----------------------------------------------------------------------------

func (s *APIServer) requireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.Config.System.API.Auth.Enabled {
			c.Next()
			return
		}
		if _, err := s.auth.UserSettings(c.Request.Context(), c.Request); err != nil {
			writeError(c, c.FullPath(), err)
			return
		}
		c.Next()
	}
}

// -----------------------------------------------------------------------------

func (s *APIServer) getHealth(c *gin.Context) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	resources := helpers.ReadSystemResources()

	s.hubMu.Lock()
	tails := len(s.hubs)
	s.hubMu.Unlock()

	c.JSON(http.StatusOK, gin.H{
		"status":          "ok",
		"uptime_seconds":  int64(time.Since(s.started).Seconds()),
		"commands":        len(s.endpoints),
		"feeds":           len(s.feeds.List()),
		"tails":           tails,
		"goroutines":      runtime.NumGoroutine(),
		"heap_alloc_mb":   mem.HeapAlloc / (1024 * 1024),
		"system_total_mb": resources.TotalMemoryMB,
		"memory_limit_mb": resources.RecommendedLimitMB,
	})
}

// -----------------------------------------------------------------------------

type commandCoverage struct {
	Path      string   `json:"path"`
	Methods   []string `json:"methods"`
	Model     string   `json:"model,omitempty"`
	Providers []string `json:"providers,omitempty"`
}

func (s *APIServer) getConfig(c *gin.Context) {
	rm := s.runner.Map()
	commands := make([]commandCoverage, 0, len(s.endpoints))
	for _, ep := range s.endpoints {
		cc := commandCoverage{Path: ep.Path, Methods: ep.Methods, Model: ep.Command.Model()}
		if cc.Model != "" {
			cc.Providers = rm.ProvidersFor(cc.Model)
		}
		commands = append(commands, cc)
	}
	c.JSON(http.StatusOK, gin.H{
		"prefix":         s.prefix,
		"providers":      rm.AvailableProviders(),
		"credentials":    rm.Credentials(),
		"models":         rm.Models(),
		"commands":       commands,
		"custom_headers": s.Config.System.API.CustomHeaders,
		"auth":           s.Config.System.API.Auth.Enabled,
	})
}

// -----------------------------------------------------------------------------

func (s *APIServer) getSignatures(c *gin.Context) {
	out := make(map[string]Signature, len(s.endpoints))
	for _, ep := range s.endpoints {
		sig := ep.Signature
		visible := make([]Parameter, 0, len(sig.Params))
		for _, p := range sig.Params {
			if !p.Hidden {
				visible = append(visible, p)
			}
		}
		sig.Params = visible
		out[ep.Path] = sig
	}
	c.JSON(http.StatusOK, out)
}

// -----------------------------------------------------------------------------
// Feed Handlers
// -----------------------------------------------------------------------------

func (s *APIServer) feed(c *gin.Context) (*websocket.Client, bool) {
	name := c.Param("name")
	f, ok := s.feeds.Get(name)
	if !ok {
		c.AbortWithStatusJSON(http.StatusNotFound, errorBody{Kind: "NotFound", Detail: "unknown feed '" + name + "'"})
	}
	return f, ok
}

// -----------------------------------------------------------------------------

func (s *APIServer) listFeeds(c *gin.Context) {
	c.JSON(http.StatusOK, s.feeds.List())
}

func (s *APIServer) getFeed(c *gin.Context) {
	if f, ok := s.feed(c); ok {
		c.JSON(http.StatusOK, f.Status())
	}
}

func (s *APIServer) stopFeed(c *gin.Context) {
	if err := s.feeds.Stop(c.Request.Context(), c.Param("name")); err != nil {
		writeError(c, c.FullPath(), err)
		return
	}
	c.Status(http.StatusNoContent)
}

// -----------------------------------------------------------------------------

type symbolsBody struct {
	Symbols []string `json:"symbols"`
}

func (s *APIServer) changeFeed(subscribe bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		var body symbolsBody
		if c.Request.ContentLength != 0 {
			if err := c.ShouldBindJSON(&body); err != nil {
				writeError(c, c.FullPath(), helpers.NewValidationError("symbols", "invalid body: %v", err))
				return
			}
		}
		body.Symbols = append(body.Symbols, splitList(c.Query("symbols"))...)

		f, ok := s.feed(c)
		if !ok {
			return
		}
		var err error
		if subscribe {
			err = f.Subscribe(body.Symbols)
		} else {
			err = f.Unsubscribe(body.Symbols)
		}
		if err != nil {
			writeError(c, c.FullPath(), err)
			return
		}
		c.JSON(http.StatusOK, f.Status())
	}
}

// -----------------------------------------------------------------------------

func (s *APIServer) feedResults(c *gin.Context) {
	f, ok := s.feed(c)
	if !ok {
		return
	}
	filter := models.MRecordFilter{Symbol: c.Query("symbol")}
	var err error
	if v := c.Query("after_id"); v != "" {
		if filter.AfterID, err = strconv.ParseInt(v, 10, 64); err != nil {
			writeError(c, c.FullPath(), helpers.NewValidationError("after_id", "after_id must be an integer"))
			return
		}
	}
	if v := c.Query("limit"); v != "" {
		if filter.Limit, err = strconv.Atoi(v); err != nil || filter.Limit < 0 {
			writeError(c, c.FullPath(), helpers.NewValidationError("limit", "limit must be a positive integer"))
			return
		}
	}
	rows, err := f.Results(c.Request.Context(), filter)
	if err != nil {
		writeError(c, c.FullPath(), err)
		return
	}
	c.JSON(http.StatusOK, rows)
}

// -----------------------------------------------------------------------------

func (s *APIServer) feedLogs(c *gin.Context) {
	f, ok := s.feed(c)
	if !ok {
		return
	}
	n, _ := strconv.Atoi(c.DefaultQuery("n", "100"))
	logs := f.Logs(n)
	if level := c.Query("level"); level != "" {
		kept := logs[:0:0]
		for _, e := range logs {
			if strings.EqualFold(e.Level, level) {
				kept = append(kept, e)
			}
		}
		logs = kept
	}
	c.JSON(http.StatusOK, logs)
}

// -----------------------------------------------------------------------------

// Paths returns the mounted HTTP paths of the commands, sorted.
func (s *APIServer) Paths() []string {
	out := make([]string, 0, len(s.endpoints))
	for _, ep := range s.endpoints {
		out = append(out, s.prefix+ep.Path)
	}
	sort.Strings(out)
	return out
}
