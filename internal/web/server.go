package web

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/vzahanych/digit-recognizer/internal/camera"
	"github.com/vzahanych/digit-recognizer/internal/config"
	"github.com/vzahanych/digit-recognizer/internal/geometry"
	"github.com/vzahanych/digit-recognizer/internal/logger"
	"github.com/vzahanych/digit-recognizer/internal/presenter"
	"github.com/vzahanych/digit-recognizer/internal/sampler"
	"github.com/vzahanych/digit-recognizer/internal/service"
)

// CameraController is the capture session as seen by the display layer
type CameraController interface {
	Info() camera.Info
	Devices(ctx context.Context) ([]camera.Device, error)
	StartCapture(ctx context.Context) error
	Switch(ctx context.Context) error
	Select(ctx context.Context, deviceID string) error
	StopCapture()
	Snapshot() (camera.Snapshot, error)
}

// LayoutController receives display geometry and exposes sampling counters
type LayoutController interface {
	Layout() *sampler.LayoutStore
	UpdateLayout(ctx context.Context, layout geometry.Layout) error
	Stats() sampler.Stats
}

// Server represents the web server service
type Server struct {
	*service.ServiceBase
	config     *config.WebConfig
	logger     *logger.Logger
	httpServer *http.Server
	router     *gin.Engine
	hub        *Hub
	session    CameraController // Optional capture session
	sampler    LayoutController // Optional sampler
	presenter  *presenter.Presenter
	version    string
	startTime  time.Time

	routesOnce sync.Once
	mu         sync.RWMutex
	addr       string
	cancel     context.CancelFunc
}

// NewServer creates a new web server service
func NewServer(cfg *config.WebConfig, log *logger.Logger) *Server {
	// Debug mode can be enabled via GIN_MODE environment variable
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(ginLogger(log))
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	return &Server{
		ServiceBase: service.NewServiceBase("web-server", log),
		config:      cfg,
		logger:      log,
		router:      router,
		hub:         NewHub(log),
		presenter:   presenter.New(),
		version:     "dev",
		startTime:   time.Now(),
	}
}

// SetVersion sets the application version
func (s *Server) SetVersion(version string) {
	s.version = version
}

// SetDependencies wires the capture session, sampler and result presenter
func (s *Server) SetDependencies(session CameraController, smp LayoutController, pres *presenter.Presenter) {
	s.session = session
	s.sampler = smp
	if pres != nil {
		s.presenter = pres
	}
}

// Hub returns the WebSocket hub
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler returns the HTTP handler with all routes registered
func (s *Server) Handler() http.Handler {
	s.setupRoutes()
	return s.router
}

// Start starts the web server
func (s *Server) Start(ctx context.Context) error {
	if !s.config.Enabled {
		s.LogInfo("Web server is disabled")
		return nil
	}

	s.setupRoutes()

	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	hubCtx, cancel := context.WithCancel(context.Background())

	// WriteTimeout stays disabled for the MJPEG and WebSocket endpoints
	s.mu.Lock()
	s.addr = ln.Addr().String()
	s.cancel = cancel
	s.httpServer = &http.Server{
		Handler:     s.router,
		ReadTimeout: 15 * time.Second,
	}
	srv := s.httpServer
	s.mu.Unlock()

	if bus := s.GetEventBus(); bus != nil {
		go s.hub.Run(hubCtx, bus)
	} else {
		s.LogWarn("No event bus, WebSocket clients will not receive updates")
	}

	go func() {
		s.LogInfo("Starting web server", "address", s.Addr())
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.LogError("Web server error", err, "address", addr)
		}
	}()

	s.GetStatus().SetStatus(service.StatusRunning)
	return nil
}

// Addr returns the address the server listens on
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.addr
}

// Stop stops the web server
func (s *Server) Stop(ctx context.Context) error {
	s.mu.RLock()
	srv, cancel := s.httpServer, s.cancel
	s.mu.RUnlock()

	if srv == nil {
		return nil
	}

	s.LogInfo("Stopping web server")
	cancel()
	s.hub.CloseAll()
	err := srv.Shutdown(ctx)
	s.GetStatus().SetStatus(service.StatusStopped)
	return err
}

// setupRoutes sets up all API routes
func (s *Server) setupRoutes() {
	s.routesOnce.Do(func() {
		api := s.router.Group("/api")
		{
			api.GET("/health", s.handleHealth)
			api.GET("/status", s.handleStatus)
			api.GET("/devices", s.handleListDevices)

			cam := api.Group("/camera")
			{
				cam.POST("/start", s.handleStartCamera)
				cam.POST("/switch", s.handleSwitchCamera)
				cam.POST("/select", s.handleSelectCamera)
				cam.POST("/stop", s.handleStopCamera)
				cam.GET("/frame", s.handleSingleFrame)
				cam.GET("/stream", s.handleMJPEGStream)
			}

			api.GET("/layout", s.handleGetLayout)
			api.PUT("/layout", s.handleUpdateLayout)

		}

		s.router.GET("/ws", s.handleWebSocket)

		s.router.NoRoute(func(c *gin.Context) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
		})
	})
}

// ginLogger creates a Gin middleware for logging
func ginLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		if raw != "" {
			path = path + "?" + raw
		}

		log.Debug("HTTP request",
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
			"client_ip", c.ClientIP(),
		)
	}
}

// corsMiddleware creates a CORS middleware for local network access
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
