package api

import "firesync/internal/models"

// ErrorResponse is a generic structure for returning errors via API.
type ErrorResponse struct {
	Error   string `json:"error"`             // A high-level error message or code
	Details string `json:"details,omitempty"` // More specific details about the error, if available
}

// NoteListResponse is returned by GET /notes.
type NoteListResponse struct {
	Notes []models.Note `json:"notes"`
	Count int           `json:"count"`
}

// DeletionEvent is the payload of a "delete" stream event.
type DeletionEvent struct {
	ID string `json:"id"`
}
