package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"muse/internal/dispatcher"
	"muse/internal/logging"
	"muse/internal/observability"
	"muse/internal/task"
)

// Config holds the HTTP server settings.
type Config struct {
	Listen         string
	AllowedOrigins []string
	Heartbeat      time.Duration
	Debug          bool
}

// Server exposes the orchestrator over HTTP: two SSE stream endpoints, a
// per-task stream, a websocket chat transport, and snapshot endpoints.
type Server struct {
	engine     *gin.Engine
	httpServer *http.Server
	dispatcher *dispatcher.Dispatcher
	registry   *task.Registry
	chatLoop   dispatcher.ChatRunner
	metrics    *observability.Metrics
	wsUpgrader websocket.Upgrader
	heartbeat  time.Duration
	startTime  time.Time
	logger     logging.Logger
}

// NewServer wires the routes and middleware.
func NewServer(
	cfg Config,
	disp *dispatcher.Dispatcher,
	registry *task.Registry,
	chatLoop dispatcher.ChatRunner,
	metrics *observability.Metrics,
	promRegistry *prometheus.Registry,
) *Server {
	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) == 1 && cfg.AllowedOrigins[0] == "*" {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	corsConfig.AllowWebSockets = true
	engine.Use(cors.New(corsConfig))

	heartbeat := cfg.Heartbeat
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}

	s := &Server{
		engine:     engine,
		dispatcher: disp,
		registry:   registry,
		chatLoop:   chatLoop,
		metrics:    metrics,
		heartbeat:  heartbeat,
		startTime:  time.Now(),
		logger:     logging.NewComponentLogger("HTTPServer"),
		wsUpgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
	s.httpServer = &http.Server{
		Addr:              cfg.Listen,
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.setupRoutes(promRegistry)
	return s
}

func (s *Server) setupRoutes(promRegistry *prometheus.Registry) {
	s.engine.GET("/healthz", s.handleHealth)
	if promRegistry != nil {
		s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{})))
	}

	api := s.engine.Group("/api")
	{
		api.POST("/chat", s.handleChat)
		api.GET("/chat/ws", s.handleChatWS)
		api.POST("/generate", s.handleGenerate)
		api.GET("/tasks", s.handleListTasks)
		api.GET("/tasks/stats", s.handleStats)
		api.GET("/tasks/:id", s.handleGetTask)
		api.GET("/tasks/:id/stream", s.handleTaskStream)
	}
}

// Handler exposes the router, primarily for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("HTTP server listening on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains connections and waits for background pollers.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	s.dispatcher.Wait()
	return err
}
