package ws

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/filer/internal/folder"
	"github.com/GriffinCanCode/filer/internal/fserr"
	"github.com/GriffinCanCode/filer/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/filer/internal/job"
	"github.com/GriffinCanCode/filer/internal/scheduler"
	"github.com/GriffinCanCode/filer/internal/shared/id"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true // CORS policy is enforced by the HTTP middleware
	},
}

// Handler streams folder events and job progress over WebSocket
type Handler struct {
	folders   *folder.Registry
	scheduler *scheduler.Scheduler
	logger    *zap.Logger
	metrics   *monitoring.Metrics
}

// NewHandler creates a new WebSocket handler
func NewHandler(folders *folder.Registry, s *scheduler.Scheduler, logger *zap.Logger, metrics *monitoring.Metrics) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		folders:   folders,
		scheduler: s,
		logger:    logger,
		metrics:   metrics,
	}
}

// Register mounts the stream routes on r
func (h *Handler) Register(r gin.IRouter) {
	r.GET("/ws/folders", h.FolderStream)
	r.GET("/ws/jobs/:id", h.JobStream)
}

// conn serializes writes; gorilla allows one concurrent writer
type conn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *conn) send(data any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(data)
}

func (c *conn) sendError(err error) error {
	return c.send(gin.H{
		"type":      "error",
		"code":      fserr.Classify(err),
		"message":   err.Error(),
		"timestamp": time.Now().Unix(),
	})
}

func (c *conn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// open upgrades the request and starts the read loop. The returned context
// ends when the client goes away or the request is cancelled.
func (h *Handler) open(c *gin.Context, onMessage func(*conn, Message)) (*conn, context.Context, func(), error) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return nil, nil, nil, err
	}
	h.metrics.IncWSConnections()

	cn := &conn{ws: ws}
	ctx, cancel := context.WithCancel(c.Request.Context())

	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	go func() {
		defer cancel()
		for {
			var msg Message
			if err := ws.ReadJSON(&msg); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					h.logger.Debug("WebSocket read error", zap.Error(err))
				}
				return
			}
			if msg.Type == "ping" {
				_ = cn.send(gin.H{"type": "pong"})
				continue
			}
			onMessage(cn, msg)
		}
	}()

	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := cn.ping(); err != nil {
					cancel()
					return
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	closeFn := func() {
		cancel()
		cn.mu.Lock()
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		cn.mu.Unlock()
		_ = ws.Close()
		h.metrics.DecWSConnections()
	}
	return cn, ctx, closeFn, nil
}

// FolderStream sends a folder's snapshot followed by every change to it.
// Clients may send {"type":"refresh"} to force a relisting.
func (h *Handler) FolderStream(c *gin.Context) {
	dir := c.Query("path")
	if dir == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "path is required"})
		return
	}
	sub, err := h.folders.Subscribe(dir)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	defer sub.Close()
	model := sub.Model()

	refreshCtx, stopRefresh := context.WithCancel(c.Request.Context())
	defer stopRefresh()

	cn, ctx, closeFn, err := h.open(c, func(cn *conn, msg Message) {
		switch msg.Type {
		case "refresh":
			go func() {
				if err := model.Refresh(refreshCtx); err != nil && refreshCtx.Err() == nil {
					_ = cn.sendError(err)
				}
			}()
		default:
			_ = cn.sendError(fserr.New(fserr.InvalidInput, "stream", "", errUnknownMessage(msg.Type)))
		}
	})
	if err != nil {
		return
	}
	defer closeFn()

	entries, rev := sub.Initial()
	if err := cn.send(FolderSnapshot{Type: "snapshot", Path: model.Path(), Revision: rev, Entries: entries}); err != nil {
		return
	}
	h.logger.Debug("Folder stream opened", zap.String("dir", model.Path()), zap.String("subscription", sub.ID()))

	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			out := FolderEvent{Type: "event", Event: ev}
			if ev.Err != nil {
				out.Error = ev.Err.Error()
				out.Code = fserr.Classify(ev.Err)
			}
			if err := cn.send(out); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// JobStream sends a job's snapshot, then its progress and conflicts, and
// finally its result. Clients answer conflicts and control the job over
// the same socket.
func (h *Handler) JobStream(c *gin.Context) {
	jid := id.JobID(c.Param("id"))
	handle, err := h.scheduler.Get(jid)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": err.Error()})
		return
	}

	cn, ctx, closeFn, err := h.open(c, func(cn *conn, msg Message) {
		if err := h.control(jid, msg); err != nil {
			_ = cn.sendError(err)
		}
	})
	if err != nil {
		return
	}
	defer closeFn()

	if err := cn.send(JobMessage{Type: "snapshot", Job: ptr(handle.Snapshot())}); err != nil {
		return
	}

	var lastConflict id.ConflictID
	sendConflict := func(cf *job.Conflict) error {
		if cf == nil || cf.ID == lastConflict {
			return nil
		}
		lastConflict = cf.ID
		return cn.send(JobMessage{Type: "conflict", Conflict: cf})
	}
	if err := sendConflict(handle.PendingConflict()); err != nil {
		return
	}

	progress := handle.Progress()
	conflicts := handle.Conflicts()
	for progress != nil || conflicts != nil {
		select {
		case p, ok := <-progress:
			if !ok {
				progress = nil
				continue
			}
			if err := cn.send(JobMessage{Type: "progress", Progress: &p}); err != nil {
				return
			}
		case cf, ok := <-conflicts:
			if !ok {
				conflicts = nil
				continue
			}
			if err := sendConflict(cf); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}

	if result, ok := handle.Result(); ok {
		_ = cn.send(JobMessage{Type: "result", Result: &result})
	}
}

// control applies a client command to job jid
func (h *Handler) control(jid id.JobID, msg Message) error {
	switch msg.Type {
	case "resolve":
		if msg.Decision == nil {
			return fserr.New(fserr.InvalidInput, "resolve", "", errMissingDecision)
		}
		return h.scheduler.Resolve(jid, msg.ConflictID, *msg.Decision)
	case "cancel":
		return h.scheduler.Cancel(jid)
	case "pause":
		return h.scheduler.Pause(jid)
	case "resume":
		return h.scheduler.Resume(jid)
	}
	return fserr.New(fserr.InvalidInput, "stream", "", errUnknownMessage(msg.Type))
}

func ptr[T any](v T) *T { return &v }
