package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/filer/internal/folder"
	"github.com/GriffinCanCode/filer/internal/infrastructure/config"
	"github.com/GriffinCanCode/filer/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/filer/internal/rename"
	"github.com/GriffinCanCode/filer/internal/scheduler"
	"github.com/GriffinCanCode/filer/internal/trash"
)

// Version is reported by the health endpoint
const Version = "0.3.0"

// Handlers serves the daemon's REST routes
type Handlers struct {
	scheduler   *scheduler.Scheduler
	planner     *rename.Planner
	folders     *folder.Registry
	trash       trash.Bin
	preferences config.Preferences
	metrics     *monitoring.Metrics
	logger      *zap.Logger
	started     time.Time
}

// Deps are the components the handlers call into
type Deps struct {
	Scheduler   *scheduler.Scheduler
	Planner     *rename.Planner
	Folders     *folder.Registry
	Trash       trash.Bin
	Preferences config.Preferences
	Metrics     *monitoring.Metrics
	Logger      *zap.Logger
}

// NewHandlers creates a new handler set
func NewHandlers(deps Deps) *Handlers {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{
		scheduler:   deps.Scheduler,
		planner:     deps.Planner,
		folders:     deps.Folders,
		trash:       deps.Trash,
		preferences: deps.Preferences,
		metrics:     deps.Metrics,
		logger:      logger,
		started:     time.Now(),
	}
}

// Register mounts every REST route on r
func (h *Handlers) Register(r gin.IRouter) {
	r.GET("/", h.Root)

	jobs := r.Group("/jobs")
	{
		jobs.GET("", h.ListJobs)
		jobs.POST("", h.SubmitJob)
		jobs.GET("/:id", h.GetJob)
		jobs.POST("/:id/cancel", h.CancelJob)
		jobs.POST("/:id/pause", h.PauseJob)
		jobs.POST("/:id/resume", h.ResumeJob)
		jobs.POST("/:id/conflicts/:cid", h.ResolveConflict)
	}

	r.GET("/folders", h.GetFolder)
	r.POST("/folders/create", h.CreateEntry)
	r.POST("/properties", h.Properties)

	r.POST("/rename/plan", h.PlanRename)
	r.POST("/rename/apply", h.ApplyRename)

	r.GET("/trash", h.ListTrash)
	r.POST("/trash/:id/purge", h.PurgeTrash)

	r.POST("/clipboard/paste", h.Paste)
	r.POST("/clipboard/format", h.FormatClipboard)

	r.GET("/preferences", h.GetPreferences)
}

// Root handles health check
func (h *Handlers) Root(c *gin.Context) {
	body := gin.H{
		"status":  "online",
		"service": "filer",
		"version": Version,
		"uptime":  time.Since(h.started).Round(time.Second).String(),
		"jobs":    len(h.scheduler.List()),
	}
	if h.folders != nil {
		body["folders"] = h.folders.Len()
	}
	if h.metrics != nil {
		body["stats"] = h.metrics.Snapshot()
	}
	c.JSON(http.StatusOK, body)
}

// GetPreferences returns the preferences jobs are consulting
func (h *Handlers) GetPreferences(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"preferences": h.preferences,
	})
}
