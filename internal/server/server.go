// Package server provides the HTTP server for the Santa gateway.
// It handles routing and middleware, forwards unmatched API calls to the
// local backend and serves the tracker web UI.
package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/santa-tracker/santa-gateway/internal/api"
	"github.com/santa-tracker/santa-gateway/internal/backend"
	"github.com/santa-tracker/santa-gateway/internal/config"
	"github.com/santa-tracker/santa-gateway/internal/configstore"
	"github.com/santa-tracker/santa-gateway/internal/logger"
	"github.com/santa-tracker/santa-gateway/internal/metrics"
	"github.com/santa-tracker/santa-gateway/internal/monitor"
	"github.com/santa-tracker/santa-gateway/internal/personalization"
	"github.com/santa-tracker/santa-gateway/internal/proxy"
	"github.com/santa-tracker/santa-gateway/internal/registry"
	"github.com/santa-tracker/santa-gateway/internal/websocket"
)

// Deps are the components the server routes to. Family and Monitor may
// be nil.
type Deps struct {
	Settings *config.Config
	Store    *configstore.Store
	Proxy    *proxy.Proxy
	Registry *registry.Registry
	Hub      *websocket.Hub
	Family   *personalization.Supplier
	Monitor  *monitor.ResourceMonitor
	Tail     *logger.Tail
}

// Server represents the HTTP server
type Server struct {
	engine      *gin.Engine
	httpServer  *http.Server
	deps        Deps
	client      backend.Client
	limiter     *api.RateLimiter
	passthrough http.Handler
	static      http.Handler

	mu     sync.RWMutex
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer creates a new HTTP server
func NewServer(deps Deps) (*Server, error) {
	if deps.Settings == nil || deps.Store == nil || deps.Proxy == nil || deps.Registry == nil {
		return nil, fmt.Errorf("server requires settings, config store, proxy and registry")
	}
	if deps.Hub == nil {
		deps.Hub = websocket.NewHub()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		deps:    deps,
		client:  deps.Proxy.Client(),
		limiter: api.NewRateLimiter(deps.Settings.RateLimit, "/api/generate", "/api/chat/completions"),
		static:  http.FileServer(gin.Dir(deps.Settings.Server.WebRoot, false)),
		ctx:     ctx,
		cancel:  cancel,
	}

	if s.client.Capabilities().Passthrough {
		handler, err := newPassthrough(s.client.BaseURL(), time.Duration(deps.Settings.Backend.Timeouts.Passthrough)*time.Second)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("failed to set up passthrough: %w", err)
		}
		s.passthrough = handler
	}

	s.engine = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	return s, nil
}

// setupMiddleware configures server middleware
func (s *Server) setupMiddleware() {
	s.engine.Use(
		api.RequestID(),
		api.Recovery(),
		api.CORS(func() bool { return s.deps.Store.Snapshot().Server.CORSEnabled }),
		api.Logger(),
		s.limiter.Middleware(),
	)
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	s.engine.GET("/health", s.handleHealth)
	s.engine.GET("/metrics", gin.WrapH(metrics.Handler()))
	s.engine.GET("/.well-known/appspecific/com.chrome.devtools.json", s.handleDevtools)

	api := s.engine.Group("/api")
	{
		api.GET("/ws", s.handleWebSocket)
		api.GET("/logs", s.handleLogs)

		// Configuration document. Its load status lives outside /config so
		// every top-level section name stays addressable.
		api.GET("/config-status", s.handleConfigStatus)
		cfg := api.Group("/config")
		{
			cfg.GET("", s.handleGetConfig)
			cfg.POST("/save", s.handleSaveConfig)
			cfg.POST("/validate", s.handleValidateConfig)
			cfg.GET("/:section", s.handleGetSection)
			cfg.PUT("/:section", s.handleUpdateSection)
		}

		// Models
		models := api.Group("/models")
		{
			models.GET("", s.handleListModels)
			models.GET("/health", s.handleModelHealth)
			models.GET("/current", s.handleCurrentModel)
			models.POST("/switch", s.handleSwitchModel)
			models.POST("/pull", s.handlePullModel)
			models.GET("/pulls", s.handleListPulls)
			models.GET("/pulls/:id", s.handleGetPull)
			models.DELETE("/pulls/:id", s.handleCancelPull)
			models.DELETE("/:name", s.handleDeleteModel)
		}

		// Backend status
		api.GET("/backend/status", s.handleBackendStatus)
		api.GET("/ollama/status", s.handleOllamaStatus)
		api.GET("/groq/status", s.handleCloudStatus)

		// Generation
		api.POST("/generate", s.handleGenerate)
		api.GET("/generate/history", s.handleHistory)
		api.POST("/chat/completions", s.handleChatCompletions)

		// Personalization
		api.GET("/family", s.handleFamily)
		api.POST("/family/reload", s.handleFamilyReload)
	}

	// Web UI
	index := s.deps.Settings.Server.WebRoot + "/" + s.deps.Settings.Server.IndexFile
	s.engine.StaticFile("/", index)

	s.engine.NoRoute(s.handleNoRoute)
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.httpServer != nil {
		return fmt.Errorf("server already started")
	}

	s.deps.Hub.Start()
	if s.deps.Monitor != nil {
		s.deps.Monitor.Start()
	}

	settings := s.deps.Settings.Server
	addr := fmt.Sprintf("%s:%d", settings.Host, settings.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.engine,
		ReadTimeout:  time.Duration(settings.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(settings.WriteTimeout) * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		logger.Infof("HTTP server listening on %s", addr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("HTTP server error: %v", err)
		}
		logger.Info("HTTP server stopped")
	}()

	return nil
}

// Stop stops the HTTP server and the background components it started
func (s *Server) Stop() error {
	s.mu.Lock()
	if s.httpServer == nil {
		s.mu.Unlock()
		return fmt.Errorf("server not started")
	}
	s.mu.Unlock()

	logger.Info("Stopping HTTP server...")
	s.cancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s.mu.Lock()
	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Errorf("HTTP server shutdown failed: %v", err)
			s.httpServer.Close()
		}
		s.httpServer = nil
	}
	s.mu.Unlock()

	// running pulls end up Cancelled before the hub goes away
	s.deps.Proxy.Pulls().Stop()
	s.deps.Hub.Stop()
	if s.deps.Monitor != nil {
		s.deps.Monitor.Stop()
	}

	s.wg.Wait()
	logger.Info("HTTP server shut down")
	return nil
}

// Shutdown stops the server, giving up when ctx expires
func (s *Server) Shutdown(ctx context.Context) error {
	done := make(chan error, 1)
	go func() {
		done <- s.Stop()
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		logger.Warn("Graceful shutdown timed out, closing connections")
		s.mu.Lock()
		if s.httpServer != nil {
			s.httpServer.Close()
			s.httpServer = nil
		}
		s.mu.Unlock()
		return ctx.Err()
	}
}

// Engine returns the Gin engine (for testing)
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) handleWebSocket(c *gin.Context) {
	s.deps.Hub.HandleWebSocket(c)
}
