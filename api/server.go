package api

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"frigate-commander/config"
	"frigate-commander/cron"
	"frigate-commander/database"
	"frigate-commander/frigate"
	"frigate-commander/jobs"
	"frigate-commander/metrics"
	"frigate-commander/service"

	"github.com/gin-gonic/gin"
)

// CameraSource lists the cameras configured on the NVR
type CameraSource func(ctx context.Context, baseURL string) ([]string, error)

type Server struct {
	cfg       *config.ConfigManager
	db        database.Database
	engine    *jobs.Engine
	settings  *config.SettingsService
	presets   *cron.PresetCron             // nil disables preset scheduling
	archive   *service.ArchiveWorker       // nil when R2 is disabled
	metrics   *metrics.Collector           // nil disables /metrics
	nvr       *frigate.ConnectivityChecker // nil omits NVR status from health
	auth      *Auth
	cameras   CameraSource
	startedAt time.Time
	http      *http.Server
}

func NewServer(cfg *config.ConfigManager, db database.Database, engine *jobs.Engine, settings *config.SettingsService,
	presets *cron.PresetCron, archive *service.ArchiveWorker) *Server {
	return &Server{
		cfg:       cfg,
		db:        db,
		engine:    engine,
		settings:  settings,
		presets:   presets,
		archive:   archive,
		auth:      NewAuth(cfg.GetConfig().APIToken),
		cameras:   frigateCameras,
		startedAt: time.Now(),
	}
}

// SetMetrics exposes per-phase job timings
func (s *Server) SetMetrics(collector *metrics.Collector) {
	s.metrics = collector
}

// SetConnectivity reports NVR reachability in the health check
func (s *Server) SetConnectivity(checker *frigate.ConnectivityChecker) {
	s.nvr = checker
}

func frigateCameras(ctx context.Context, baseURL string) ([]string, error) {
	return frigate.NewClient(baseURL).Cameras(ctx)
}

// Start serves the API until Shutdown is called
func (s *Server) Start() error {
	s.http = &http.Server{
		Addr:              ":" + s.cfg.GetConfig().ServerPort,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	log.Printf("[API] Starting API server on %s", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests. Open event streams end with their request context.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// Router builds the gin engine with every route registered
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	s.setupCORS(r)
	s.setupRoutes(r)
	return r
}

func (s *Server) setupCORS(r *gin.Engine) {
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})
}

func (s *Server) setupRoutes(r *gin.Engine) {
	r.GET("/api/health", s.getHealth)

	// The event stream also accepts a short-lived stream token in ?token=
	r.GET("/api/jobs/:id/events", s.auth.StreamMiddleware(), s.streamJobEvents)

	api := r.Group("/api", s.auth.Middleware())
	{
		api.POST("/jobs", s.createJob)
		api.GET("/jobs", s.listJobs)
		api.GET("/jobs/:id", s.getJob)
		api.DELETE("/jobs/:id", s.deleteJob)
		api.POST("/jobs/:id/cancel", s.cancelJob)
		api.POST("/jobs/:id/retry", s.retryJob)
		api.GET("/jobs/:id/logs", s.getJobLogs)
		api.GET("/jobs/:id/clone", s.cloneJob)
		api.POST("/jobs/:id/stream-token", s.createStreamToken)
		api.GET("/jobs/:id/metrics", s.getJobMetrics)

		api.GET("/presets", s.listPresets)
		api.POST("/presets", s.createPreset)
		api.PUT("/presets/:id", s.updatePreset)
		api.DELETE("/presets/:id", s.deletePreset)
		api.POST("/presets/:id/run", s.runPreset)

		api.GET("/config", s.getConfig)
		api.PUT("/config", s.updateConfig)
		api.GET("/cameras", s.listCameras)

		api.GET("/files", s.listFiles)
		api.GET("/files/:name", s.getFile)
		api.GET("/files/:name/info", s.getFileInfo)
		api.DELETE("/files/:name", s.deleteFile)
	}
}
