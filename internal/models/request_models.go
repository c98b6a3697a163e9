package models

// CreateNoteRequest represents the request body for creating or replacing a note.
type CreateNoteRequest struct {
	Title    string   `json:"title" binding:"required"`
	Body     string   `json:"body,omitempty"`
	Tags     []string `json:"tags,omitempty"`
	Pinned   bool     `json:"pinned,omitempty"`
	Priority int      `json:"priority,omitempty"`
}

// UpdateNoteRequest represents a partial update.
// Pointers are used to distinguish between empty values and fields not provided for update.
type UpdateNoteRequest struct {
	Title    *string   `json:"title,omitempty"`
	Body     *string   `json:"body,omitempty"`
	Tags     *[]string `json:"tags,omitempty"`
	Pinned   *bool     `json:"pinned,omitempty"`
	Priority *int      `json:"priority,omitempty"`
}

// Fields returns the stored field names and values present in the request.
func (r UpdateNoteRequest) Fields() map[string]any {
	fields := make(map[string]any)
	if r.Title != nil {
		fields["title"] = *r.Title
	}
	if r.Body != nil {
		fields["body"] = *r.Body
	}
	if r.Tags != nil {
		fields["tags"] = *r.Tags
	}
	if r.Pinned != nil {
		fields["pinned"] = *r.Pinned
	}
	if r.Priority != nil {
		fields["priority"] = *r.Priority
	}
	return fields
}
