package web

import (
	"context"
	_ "embed"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/camwatch/camwatch/internal/camera"
	"github.com/camwatch/camwatch/internal/config"
	"github.com/camwatch/camwatch/internal/health"
	"github.com/camwatch/camwatch/internal/logger"
	"github.com/camwatch/camwatch/internal/recording"
	"github.com/camwatch/camwatch/internal/service"
	"github.com/camwatch/camwatch/internal/state"
	"github.com/camwatch/camwatch/internal/web/streaming"
)

//go:embed static/dashboard.html
var dashboardHTML []byte

// PreviewBroker hands out shared MJPEG preview sources.
type PreviewBroker interface {
	Acquire(index int) (streaming.FrameSource, error)
	Release(index int)
}

// CameraScanner runs a subnet scan and returns the discovered cameras.
type CameraScanner interface {
	Scan() []camera.Camera
}

// Server is the HTTP control plane.
type Server struct {
	*service.ServiceBase
	cfg        config.ServerConfig
	previewCfg config.PreviewConfig
	logger     *logger.Logger
	httpServer *http.Server
	router     *gin.Engine
	routesOnce sync.Once
	errCh      chan error

	registry      *camera.Registry
	scanner       CameraScanner
	supervisor    *recording.Supervisor
	store         *config.Store
	previews      PreviewBroker
	health        *health.Manager
	catalog       *state.Catalog
	recordingsDir string
}

// NewServer creates the web server service.
func NewServer(cfg config.ServerConfig, previewCfg config.PreviewConfig, log *logger.Logger) *Server {
	// Debug mode can still be forced via the GIN_MODE environment
	// variable.
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(ginLogger(log))
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	return &Server{
		ServiceBase: service.NewServiceBase("web", log),
		cfg:         cfg,
		previewCfg:  previewCfg,
		logger:      log,
		router:      router,
		errCh:       make(chan error, 1),
	}
}

// SetCameraDependencies wires the registry and the discovery engine.
func (s *Server) SetCameraDependencies(registry *camera.Registry, scanner CameraScanner) {
	s.registry = registry
	s.scanner = scanner
}

// SetRecordingDependencies wires the recording supervisor and the
// directory the file-serving endpoints are rooted in.
func (s *Server) SetRecordingDependencies(supervisor *recording.Supervisor, recordingsDir string) {
	s.supervisor = supervisor
	s.recordingsDir = recordingsDir
}

// SetCredentialsStore wires the persisted camera credentials.
func (s *Server) SetCredentialsStore(store *config.Store) {
	s.store = store
}

// SetPreviewBroker wires the MJPEG preview broker.
func (s *Server) SetPreviewBroker(previews PreviewBroker) {
	s.previews = previews
}

// SetHealthManager wires the health report served under /api/health.
func (s *Server) SetHealthManager(mgr *health.Manager) {
	s.health = mgr
}

// SetCatalog wires the segment catalog served under /api/stats.
func (s *Server) SetCatalog(catalog *state.Catalog) {
	s.catalog = catalog
}

// Start brings the HTTP listener up. A bind failure within the startup
// window is returned directly; later listener errors arrive on Err.
func (s *Server) Start(ctx context.Context) error {
	s.routesOnce.Do(s.setupRoutes)

	// WriteTimeout and IdleTimeout stay disabled so MJPEG streams can
	// run for as long as the viewer keeps watching.
	s.httpServer = &http.Server{
		Addr:         s.cfg.ListenAddr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  0,
	}

	go func() {
		s.LogInfo("Starting web server", "address", s.cfg.ListenAddr)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.LogError("Web server error", err, "address", s.cfg.ListenAddr)
			s.errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-s.errCh:
		// Requeue so the failure also reaches the Err watcher; the
		// channel is buffered and was just drained.
		s.errCh <- err
		return err
	case <-time.After(100 * time.Millisecond):
		s.GetStatus().SetStatus(service.StatusRunning)
		s.LogInfo("Web server started", "address", s.cfg.ListenAddr)
		return nil
	}
}

// Stop shuts the listener down. Streaming connections that outlive the
// grace period are closed hard.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}

	s.GetStatus().SetStatus(service.StatusStopping)
	s.LogInfo("Stopping web server")

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.LogWarn("Graceful shutdown failed, forcing close", "error", err)
		err = s.httpServer.Close()
		s.GetStatus().SetStatus(service.StatusStopped)
		return err
	}

	s.GetStatus().SetStatus(service.StatusStopped)
	return nil
}

// Err reports a listener failure after startup. main treats it as
// fatal.
func (s *Server) Err() <-chan error {
	return s.errCh
}

// Router exposes the gin engine for tests.
func (s *Server) Router() *gin.Engine {
	s.routesOnce.Do(s.setupRoutes)
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.GET("/", s.handleDashboard)
	s.router.POST("/scan", s.handleScan)
	s.router.GET("/cameras", s.handleCameras)
	s.router.POST("/record/start/:index", s.handleRecordStart)
	s.router.POST("/record/stop/:index", s.handleRecordStop)
	s.router.GET("/record/status", s.handleRecordStatus)
	s.router.GET("/stream/:index", s.handleStream)

	api := s.router.Group("/api")
	{
		api.GET("/credentials", s.handleGetCredentials)
		api.POST("/credentials", s.handleSetCredentials)
		api.GET("/recordings", s.handleRecordings)
		api.GET("/recordings/play/*path", s.handlePlayRecording)
		api.GET("/recordings/download/*path", s.handleDownloadRecording)
		api.GET("/snapshot/:index", s.handleSnapshot)
		api.GET("/health", s.handleHealth)
		api.GET("/stats", s.handleStats)
	}

	s.router.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	})
}

// ginLogger creates a Gin middleware for logging
func ginLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		raw := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		if raw != "" {
			path = path + "?" + raw
		}

		log.Debug("HTTP request",
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"latency", latency,
			"client_ip", c.ClientIP(),
		)
	}
}

// corsMiddleware creates a CORS middleware for local network access
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
