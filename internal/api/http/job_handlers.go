package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/filer/internal/job"
	"github.com/GriffinCanCode/filer/internal/rename"
	"github.com/GriffinCanCode/filer/internal/shared/id"
)

// ListJobs lists every job the scheduler still remembers
func (h *Handlers) ListJobs(c *gin.Context) {
	jobs := h.scheduler.List()
	if state := c.Query("state"); state != "" {
		filtered := jobs[:0]
		for _, s := range jobs {
			if string(s.State) == state {
				filtered = append(filtered, s)
			}
		}
		jobs = filtered
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"jobs":    jobs,
	})
}

// SubmitJob validates and queues a job request
func (h *Handlers) SubmitJob(c *gin.Context) {
	var req job.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	handle, err := h.scheduler.Enqueue(req)
	if err != nil {
		respondError(c, err)
		return
	}

	h.logger.Info("Job submitted",
		zap.String("job", string(handle.ID())),
		zap.String("kind", string(handle.Kind())),
		zap.Int("sources", len(req.Sources)))

	c.JSON(http.StatusAccepted, gin.H{
		"success": true,
		"job":     handle.Snapshot(),
	})
}

// GetJob returns one job, with its result once finished
func (h *Handlers) GetJob(c *gin.Context) {
	handle, err := h.scheduler.Get(id.JobID(c.Param("id")))
	if err != nil {
		respondError(c, err)
		return
	}

	body := gin.H{
		"success": true,
		"job":     handle.Snapshot(),
	}
	if result, ok := handle.Result(); ok {
		body["result"] = result
		if handle.Kind() == job.KindBulkRename {
			body["outcome"] = rename.OutcomeOf(result)
		}
	}
	c.JSON(http.StatusOK, body)
}

// CancelJob cancels a queued or running job
func (h *Handlers) CancelJob(c *gin.Context) {
	h.control(c, h.scheduler.Cancel)
}

// PauseJob suspends a running job at its next boundary
func (h *Handlers) PauseJob(c *gin.Context) {
	h.control(c, h.scheduler.Pause)
}

// ResumeJob continues a paused job
func (h *Handlers) ResumeJob(c *gin.Context) {
	h.control(c, h.scheduler.Resume)
}

func (h *Handlers) control(c *gin.Context, fn func(id.JobID) error) {
	jid := id.JobID(c.Param("id"))
	if err := fn(jid); err != nil {
		respondError(c, err)
		return
	}
	handle, err := h.scheduler.Get(jid)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"job":     handle.Snapshot(),
	})
}

// ResolveConflict answers the conflict a job is suspended on
func (h *Handlers) ResolveConflict(c *gin.Context) {
	var decision job.Decision
	if err := c.ShouldBindJSON(&decision); err != nil {
		badRequest(c, err)
		return
	}
	if err := decision.Validate(); err != nil {
		badRequest(c, err)
		return
	}

	jid := id.JobID(c.Param("id"))
	cid := id.ConflictID(c.Param("cid"))
	if err := h.scheduler.Resolve(jid, cid, decision); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"job_id":      jid,
		"conflict_id": cid,
		"action":      decision.Action,
	})
}
