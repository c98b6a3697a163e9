package api

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"firesync/internal/query"
)

const defaultHeartbeat = 15 * time.Second

// StreamHandler serves live note streams as server-sent events. Each stream
// lives as long as the HTTP request.
type StreamHandler struct {
	logger    *zap.Logger
	heartbeat time.Duration
}

// NewStreamHandler creates a new StreamHandler.
func NewStreamHandler(logger *zap.Logger) *StreamHandler {
	return &StreamHandler{logger: logger, heartbeat: defaultHeartbeat}
}

// StreamUpdates handles GET /streams/notes. It emits "update" events with the
// changed note and "delete" events with the removed ID.
func (h *StreamHandler) StreamUpdates(c *gin.Context) {
	q, err := query.Parse(c.Request.URL.RawQuery)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid query", Details: err.Error()})
		return
	}
	dual := userNotes(c).StreamUpdates(c.Request.Context(), q)
	defer dual.Close()
	if err := dual.Err(); err != nil {
		mapStoreError(c, h.logger, err)
		return
	}

	updates, deletions := dual.Updates().C(), dual.Deletions().C()
	h.serve(c, func() (string, any, bool) {
		for updates != nil || deletions != nil {
			select {
			case n, ok := <-updates:
				if !ok {
					updates = nil
					continue
				}
				return "update", n, true
			case id, ok := <-deletions:
				if !ok {
					deletions = nil
					continue
				}
				return "delete", DeletionEvent{ID: id}, true
			}
		}
		return "", nil, false
	})
	h.finish(c, dual.Err())
}

// StreamSnapshots handles GET /streams/snapshots. Every "snapshot" event
// carries the complete result set.
func (h *StreamHandler) StreamSnapshots(c *gin.Context) {
	q, err := query.Parse(c.Request.URL.RawQuery)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid query", Details: err.Error()})
		return
	}
	stream := userNotes(c).StreamAll(c.Request.Context(), q)
	defer stream.Close()
	if err := stream.Err(); err != nil {
		mapStoreError(c, h.logger, err)
		return
	}

	h.serve(c, func() (string, any, bool) {
		notes, ok := <-stream.C()
		if !ok {
			return "", nil, false
		}
		return "snapshot", NoteListResponse{Notes: notes, Count: len(notes)}, true
	})
	h.finish(c, stream.Err())
}

// StreamNote handles GET /streams/notes/:noteId. It emits "note" events while
// the note exists and "absent" events while it does not.
func (h *StreamHandler) StreamNote(c *gin.Context) {
	noteID := c.Param("noteId")
	stream := userNotes(c).StreamSingle(c.Request.Context(), noteID)
	defer stream.Close()
	if err := stream.Err(); err != nil {
		mapStoreError(c, h.logger, err)
		return
	}

	h.serve(c, func() (string, any, bool) {
		n, ok := <-stream.C()
		switch {
		case !ok:
			return "", nil, false
		case n == nil:
			return "absent", DeletionEvent{ID: noteID}, true
		default:
			return "note", n, true
		}
	})
	h.finish(c, stream.Err())
}

// serve writes events from next until it reports false or the client goes
// away. next runs on its own goroutine so heartbeats keep flowing.
func (h *StreamHandler) serve(c *gin.Context, next func() (string, any, bool)) {
	type event struct {
		name string
		data any
	}
	events := make(chan event)
	go func() {
		defer close(events)
		for {
			name, data, ok := next()
			if !ok {
				return
			}
			select {
			case events <- event{name, data}:
			case <-c.Request.Context().Done():
				return
			}
		}
	}()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case ev, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent(ev.name, ev.data)
			return true
		case <-ticker.C:
			c.SSEvent("ping", time.Now().Unix())
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

func (h *StreamHandler) finish(c *gin.Context, err error) {
	if err == nil {
		return
	}
	h.logger.Warn("Stream ended with error", zap.Error(err))
	c.SSEvent("error", ErrorResponse{Error: "Stream failed", Details: err.Error()})
	c.Writer.Flush()
}
