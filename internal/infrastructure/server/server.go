package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apihttp "github.com/GriffinCanCode/filer/internal/api/http"
	"github.com/GriffinCanCode/filer/internal/api/middleware"
	"github.com/GriffinCanCode/filer/internal/folder"
	"github.com/GriffinCanCode/filer/internal/fsys"
	"github.com/GriffinCanCode/filer/internal/infrastructure/config"
	"github.com/GriffinCanCode/filer/internal/infrastructure/logging"
	"github.com/GriffinCanCode/filer/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/filer/internal/job"
	"github.com/GriffinCanCode/filer/internal/rename"
	"github.com/GriffinCanCode/filer/internal/scheduler"
	"github.com/GriffinCanCode/filer/internal/trash"
	"github.com/GriffinCanCode/filer/internal/watcher"
	"github.com/GriffinCanCode/filer/internal/ws"
)

// shutdownTimeout bounds how long in-flight requests may delay shutdown
const shutdownTimeout = 10 * time.Second

// Server wires the job engine, folder models and daemon surface together
type Server struct {
	config    *config.Config
	logger    *logging.Logger
	metrics   *monitoring.Metrics
	fs        fsys.FS
	trash     *trash.Store
	engine    *job.Engine
	folders   *folder.Registry
	scheduler *scheduler.Scheduler
	planner   *rename.Planner
	router    *gin.Engine
}

// NewServer creates a server over the local filesystem
func NewServer(cfg *config.Config) (*Server, error) {
	logger, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
	})
	if err != nil {
		return nil, err
	}
	trashDir, err := cfg.TrashDir()
	if err != nil {
		return nil, err
	}
	return build(cfg, fsys.NewOS(), trashDir, logger)
}

// build assembles every component over f
func build(cfg *config.Config, f fsys.FS, trashDir string, logger *logging.Logger) (*Server, error) {
	logger.Info("Initializing filer daemon",
		zap.String("addr", cfg.Addr()),
		zap.Int("workers", cfg.Engine.Workers),
		zap.String("trash", trashDir),
	)

	metrics := monitoring.NewMetrics()

	store, err := trash.NewStore(f, trashDir, trash.Options{
		Logger:  logger.Component("trash"),
		Metrics: metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open trash: %w", err)
	}

	folders := folder.NewRegistry(f, folder.Options{
		Watch: watcher.Options{
			Debounce:     cfg.Folder.Debounce,
			PollInterval: cfg.Folder.PollInterval,
			ForcePoll:    cfg.Folder.ForcePoll,
		},
		DisableWatch: cfg.Folder.DisableWatch,
		DetectMime:   cfg.Folder.DetectMime,
		Logger:       logger.Component("folder"),
		Metrics:      metrics,
	})

	engine := job.NewEngine(f, job.Options{
		ChunkSize:        cfg.Engine.ChunkSize,
		ProgressInterval: cfg.Engine.ProgressInterval,
		VerifyChecksums:  cfg.Engine.VerifyChecksums,
		Preferences:      cfg.Preferences,
		Trash:            store,
		Logger:           logger.Component("job"),
		Metrics:          metrics,
	})

	sched := scheduler.New(engine, scheduler.Options{
		Workers:  cfg.Engine.Workers,
		Retain:   cfg.Engine.RetainJobs,
		Registry: folders,
		Logger:   logger.Component("scheduler"),
		Metrics:  metrics,
	})

	planner := rename.NewPlanner(f, folders, sched, logger.Component("rename"))

	s := &Server{
		config:    cfg,
		logger:    logger,
		metrics:   metrics,
		fs:        f,
		trash:     store,
		engine:    engine,
		folders:   folders,
		scheduler: sched,
		planner:   planner,
	}
	s.router = s.routes()

	logger.Info("Server initialized successfully")
	return s, nil
}

func (s *Server) routes() *gin.Engine {
	if !s.config.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(s.logger.Component("http")))
	router.Use(monitoring.Middleware(s.metrics))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))

	if s.config.RateLimit.Enabled {
		s.logger.Info("Rate limiting enabled",
			zap.Int("rps", s.config.RateLimit.RequestsPerSecond),
			zap.Int("burst", s.config.RateLimit.Burst),
		)
		router.Use(middleware.GlobalRateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: s.config.RateLimit.RequestsPerSecond,
			Burst:             s.config.RateLimit.Burst,
		}))
	}

	handlers := apihttp.NewHandlers(apihttp.Deps{
		Scheduler:   s.scheduler,
		Planner:     s.planner,
		Folders:     s.folders,
		Trash:       s.trash,
		Preferences: s.config.Preferences,
		Metrics:     s.metrics,
		Logger:      s.logger.Component("api"),
	})
	handlers.Register(router)

	ws.NewHandler(s.folders, s.scheduler, s.logger.Component("ws"), s.metrics).Register(router)

	router.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	return router
}

// Handler returns the HTTP handler serving every route
func (s *Server) Handler() http.Handler { return s.router }

// Scheduler returns the job scheduler
func (s *Server) Scheduler() *scheduler.Scheduler { return s.scheduler }

// Run serves HTTP until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.config.Addr(),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting HTTP server", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

// Close cancels unfinished jobs and tears down every folder model
func (s *Server) Close() error {
	s.logger.Info("Shutting down server...")

	s.scheduler.Close()
	s.logger.Info("Stopped job scheduler")

	s.folders.Close()
	s.logger.Info("Closed folder models")

	_ = s.logger.Sync()
	return nil
}
