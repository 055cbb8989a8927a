package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/filer/internal/clipboard"
	"github.com/GriffinCanCode/filer/internal/fserr"
	"github.com/GriffinCanCode/filer/internal/job"
	"github.com/GriffinCanCode/filer/internal/shared/id"
	"github.com/GriffinCanCode/filer/internal/shared/types"
)

var errUnknownKind = errors.New(`kind must be "file" or "directory"`)

// GetFolder returns one listing of a folder, optionally narrowed by a glob.
// Clients wanting live updates use the folder stream instead.
func (h *Handlers) GetFolder(c *gin.Context) {
	dir := c.Query("path")
	if dir == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"code":    fserr.InvalidInput,
			"error":   "path is required",
		})
		return
	}

	handle, err := h.folders.Subscribe(dir)
	if err != nil {
		respondError(c, fserr.New(fserr.InvalidInput, "list", dir, err))
		return
	}
	defer handle.Close()

	model := handle.Model()
	if err := model.WaitLoaded(c.Request.Context()); err != nil {
		respondError(c, err)
		return
	}
	if err := model.Err(); err != nil {
		respondError(c, err)
		return
	}

	var entries []types.Entry
	if glob := c.Query("glob"); glob != "" {
		entries, err = model.Select(glob)
		if err != nil {
			respondError(c, fserr.New(fserr.InvalidInput, "list", glob, err))
			return
		}
	} else {
		entries = model.Entries()
	}

	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"path":     model.Path(),
		"revision": model.Revision(),
		"entries":  entries,
	})
}

type createRequest struct {
	Dir  string `json:"dir" binding:"required"`
	Name string `json:"name" binding:"required"`
	// Kind is "file" or "directory"
	Kind string `json:"kind"`
}

// CreateEntry makes a new empty file or folder. A taken name gets a
// numbered variant, which the response reports.
func (h *Handlers) CreateEntry(c *gin.Context) {
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	var isDir bool
	switch req.Kind {
	case "", "file":
	case "directory":
		isDir = true
	default:
		respondError(c, fserr.New(fserr.InvalidInput, "create", req.Kind, errUnknownKind))
		return
	}

	entry, err := h.scheduler.Create(c.Request.Context(), req.Dir, req.Name, isDir)
	if err != nil {
		respondError(c, err)
		return
	}
	h.logger.Info("Entry created", zap.String("path", entry.Path))
	c.JSON(http.StatusCreated, gin.H{
		"success": true,
		"entry":   entry,
	})
}

type propertiesRequest struct {
	Paths []string `json:"paths" binding:"required,min=1"`
}

// Properties totals the files, folders and bytes under the given paths
func (h *Handlers) Properties(c *gin.Context) {
	var req propertiesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	count, err := h.scheduler.Engine().DeepCount(c.Request.Context(), req.Paths)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"count":   count,
	})
}

// ListTrash lists the trashed entries along with the space they take
func (h *Handlers) ListTrash(c *gin.Context) {
	ctx := c.Request.Context()
	records, err := h.trash.List(ctx)
	if err != nil {
		respondError(c, err)
		return
	}
	files, bytes, err := h.trash.Usage(ctx)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"records": records,
		"usage": gin.H{
			"files": files,
			"bytes": bytes,
		},
	})
}

// PurgeTrash deletes one trashed entry for good
func (h *Handlers) PurgeTrash(c *gin.Context) {
	tid := id.TrashID(c.Param("id"))
	if err := h.trash.Purge(c.Request.Context(), tid); err != nil {
		respondError(c, err)
		return
	}
	h.logger.Info("Trash entry purged", zap.String("trash_id", string(tid)))
	c.JSON(http.StatusOK, gin.H{
		"success":  true,
		"trash_id": tid,
	})
}

type pasteRequest struct {
	// Data is the clipboard content keyed by mime type
	Data        map[string]string `json:"data" binding:"required"`
	Destination string            `json:"destination" binding:"required"`
	Policy      job.Policy        `json:"policy"`
}

// Paste queues the copy or move a clipboard payload asks for
func (h *Handlers) Paste(c *gin.Context) {
	var req pasteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	data := make(map[string][]byte, len(req.Data))
	for mime, content := range req.Data {
		data[mime] = []byte(content)
	}
	payload, err := clipboard.Parse(data)
	if err != nil {
		respondError(c, err)
		return
	}

	jr := payload.Request(req.Destination)
	jr.Policy = req.Policy
	handle, err := h.scheduler.Enqueue(jr)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"success": true,
		"op":      payload.Op,
		"job":     handle.Snapshot(),
	})
}

// FormatClipboard renders a payload in every clipboard format so the view
// layer can place it on the system clipboard
func (h *Handlers) FormatClipboard(c *gin.Context) {
	var payload clipboard.Payload
	if err := c.ShouldBindJSON(&payload); err != nil {
		badRequest(c, err)
		return
	}
	if len(payload.Paths) == 0 {
		respondError(c, fserr.New(fserr.InvalidInput, "copy", "", clipboard.ErrNoFiles))
		return
	}

	formatted := clipboard.Format(payload)
	out := make(map[string]string, len(formatted))
	for mime, content := range formatted {
		out[mime] = string(content)
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    out,
	})
}
