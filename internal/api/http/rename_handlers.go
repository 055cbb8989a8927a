package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/filer/internal/fserr"
	"github.com/GriffinCanCode/filer/internal/job"
	"github.com/GriffinCanCode/filer/internal/rename"
)

type planRequest struct {
	// Sources lists the entries to rename, in order
	Sources []string `json:"sources"`

	// Dir and Glob select the sources from a folder instead, in listing
	// order
	Dir  string `json:"dir"`
	Glob string `json:"glob"`

	rename.Options
}

type applyRequest struct {
	Pairs                  []job.RenamePair `json:"pairs" binding:"required"`
	MaxConsecutiveFailures int              `json:"max_consecutive_failures"`
}

// PlanRename builds and validates a bulk rename plan without touching the
// filesystem. An invalid plan answers 422 with every offender.
func (h *Handlers) PlanRename(c *gin.Context) {
	var req planRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	sources := req.Sources
	if req.Glob != "" {
		selected, err := h.selectSources(c.Request.Context(), req.Dir, req.Glob)
		if err != nil {
			respondError(c, err)
			return
		}
		sources = append(sources, selected...)
	}
	if len(sources) == 0 {
		badRequest(c, errors.New("no sources selected"))
		return
	}

	plan, err := h.planner.BuildPlan(c.Request.Context(), sources, req.Options)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"plan":    plan,
	})
}

// selectSources subscribes to dir just long enough to match glob against
// its live listing
func (h *Handlers) selectSources(ctx context.Context, dir, glob string) ([]string, error) {
	if dir == "" {
		return nil, fserr.New(fserr.InvalidInput, "plan", "", errors.New("glob needs a dir"))
	}
	handle, err := h.folders.Subscribe(dir)
	if err != nil {
		return nil, fserr.New(fserr.InvalidInput, "plan", dir, err)
	}
	defer handle.Close()

	model := handle.Model()
	if err := model.WaitLoaded(ctx); err != nil {
		return nil, fserr.Wrap("plan", dir, err)
	}
	if err := model.Err(); err != nil {
		return nil, fserr.Wrap("plan", dir, err)
	}
	entries, err := model.Select(glob)
	if err != nil {
		return nil, fserr.New(fserr.InvalidInput, "plan", glob, err)
	}

	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Path)
	}
	return out, nil
}

// ApplyRename queues a bulk rename for a plan returned by PlanRename
func (h *Handlers) ApplyRename(c *gin.Context) {
	var req applyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	handle, err := h.planner.Apply(rename.Plan{Pairs: req.Pairs}, rename.ApplyOptions{
		MaxConsecutiveFailures: req.MaxConsecutiveFailures,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"success": true,
		"job":     handle.Snapshot(),
	})
}
