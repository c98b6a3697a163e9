package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"firesync/internal/core"
	"firesync/internal/middleware"
	"firesync/internal/models"
	"firesync/internal/query"
)

// NoteHandler handles the notes endpoints. Every request works on the
// collection adapter of the calling user, see BindNotes.
type NoteHandler struct {
	logger *zap.Logger
	now    func() time.Time
}

// NewNoteHandler creates a new NoteHandler.
func NewNoteHandler(logger *zap.Logger) *NoteHandler {
	return &NoteHandler{logger: logger, now: time.Now}
}

// notesKey holds the caller's *core.Collection[models.Note] in the gin context.
const notesKey = "notes"

// BindNotes acquires the notes adapter of the calling user for the duration
// of the request and releases it afterwards.
func BindNotes(notes *core.Registry[models.Note]) gin.HandlerFunc {
	return func(c *gin.Context) {
		coll, release := notes.Acquire(c.GetString(middleware.UserIDKey))
		defer release()
		c.Set(notesKey, coll)
		c.Next()
	}
}

func userNotes(c *gin.Context) *core.Collection[models.Note] {
	return c.MustGet(notesKey).(*core.Collection[models.Note])
}

// UserNotesPath places each user's notes under users/{uid}/{collection}.
// Requests without a user ID have no path.
func UserNotesPath(collection string) func(uid string) (string, bool) {
	return func(uid string) (string, bool) {
		if uid == "" {
			return "", false
		}
		return "users/" + uid + "/" + collection, true
	}
}

// mapStoreError maps adapter errors to HTTP status codes and ErrorResponse.
func mapStoreError(c *gin.Context, logger *zap.Logger, err error) {
	var statusCode int
	var errResponse ErrorResponse

	switch {
	case errors.Is(err, core.ErrPathUnavailable):
		statusCode = http.StatusUnauthorized
		errResponse = ErrorResponse{Error: "No user identity for this request"}
	case errors.Is(err, core.ErrNotFound):
		statusCode = http.StatusNotFound
		errResponse = ErrorResponse{Error: "Note not found"}
	case errors.Is(err, core.ErrInvalidID):
		statusCode = http.StatusBadRequest
		errResponse = ErrorResponse{Error: "Invalid note ID", Details: err.Error()}
	case errors.Is(err, core.ErrSerialization):
		statusCode = http.StatusUnprocessableEntity
		errResponse = ErrorResponse{Error: "Note could not be encoded", Details: err.Error()}
	case errors.Is(err, core.ErrBackend):
		logger.Error("Backend failure", zap.Error(err))
		statusCode = http.StatusBadGateway
		errResponse = ErrorResponse{Error: "The document store rejected the request"}
	default:
		logger.Error("Internal Server Error", zap.Error(err))
		statusCode = http.StatusInternalServerError
		errResponse = ErrorResponse{Error: "An unexpected internal server error occurred."}
	}
	c.JSON(statusCode, errResponse)
}

// ListNotes handles GET /notes. Query parameters are translated into a
// query, see query.Parse.
func (h *NoteHandler) ListNotes(c *gin.Context) {
	q, err := query.Parse(c.Request.URL.RawQuery)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid query", Details: err.Error()})
		return
	}
	notes, err := userNotes(c).GetAll(c.Request.Context(), q)
	if err != nil {
		mapStoreError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, NoteListResponse{Notes: notes, Count: len(notes)})
}

// GetNote handles GET /notes/:noteId
func (h *NoteHandler) GetNote(c *gin.Context) {
	note, err := userNotes(c).Get(c.Request.Context(), c.Param("noteId"))
	if err != nil {
		mapStoreError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, note)
}

// CreateNote handles POST /notes
func (h *NoteHandler) CreateNote(c *gin.Context) {
	var req models.CreateNoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request payload", Details: err.Error()})
		return
	}

	now := h.now().UTC()
	note := noteFromRequest(uuid.NewString(), req)
	note.CreatedAt = now
	note.UpdatedAt = now
	if err := userNotes(c).Save(c.Request.Context(), note); err != nil {
		mapStoreError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusCreated, note)
}

// PutNote handles PUT /notes/:noteId. The note is merged into any stored
// document with the same ID.
func (h *NoteHandler) PutNote(c *gin.Context) {
	var req models.CreateNoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request payload", Details: err.Error()})
		return
	}

	ctx := c.Request.Context()
	coll := userNotes(c)
	note := noteFromRequest(c.Param("noteId"), req)
	note.UpdatedAt = h.now().UTC()

	status := http.StatusOK
	existing, err := coll.Get(ctx, note.ID)
	switch {
	case errors.Is(err, core.ErrNotFound):
		note.CreatedAt = note.UpdatedAt
		status = http.StatusCreated
	case err != nil:
		mapStoreError(c, h.logger, err)
		return
	default:
		note.CreatedAt = existing.CreatedAt
	}

	if err := coll.Save(ctx, note); err != nil {
		mapStoreError(c, h.logger, err)
		return
	}
	c.JSON(status, note)
}

// PatchNote handles PATCH /notes/:noteId
func (h *NoteHandler) PatchNote(c *gin.Context) {
	var req models.UpdateNoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "Invalid request payload", Details: err.Error()})
		return
	}
	fields := req.Fields()
	if len(fields) == 0 {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "No fields to update"})
		return
	}
	fields["updatedAt"] = h.now().UTC()

	ctx := c.Request.Context()
	coll := userNotes(c)
	noteID := c.Param("noteId")
	if err := coll.Update(ctx, noteID, fields); err != nil {
		mapStoreError(c, h.logger, err)
		return
	}
	note, err := coll.Get(ctx, noteID)
	if err != nil {
		mapStoreError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusOK, note)
}

// DeleteNote handles DELETE /notes/:noteId. Deleting a missing note succeeds.
func (h *NoteHandler) DeleteNote(c *gin.Context) {
	if err := userNotes(c).Delete(c.Request.Context(), c.Param("noteId")); err != nil {
		mapStoreError(c, h.logger, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func noteFromRequest(id string, req models.CreateNoteRequest) models.Note {
	return models.Note{
		ID:       id,
		Title:    req.Title,
		Body:     req.Body,
		Tags:     req.Tags,
		Pinned:   req.Pinned,
		Priority: req.Priority,
	}
}
