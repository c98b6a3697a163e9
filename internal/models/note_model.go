package models

import "time"

// Note is a user's note, stored at users/{uid}/notes/{id}.
type Note struct {
	ID        string    `json:"id" firestore:"id"` // Document ID
	Title     string    `json:"title" firestore:"title"`
	Body      string    `json:"body" firestore:"body"`
	Tags      []string  `json:"tags,omitempty" firestore:"tags,omitempty"`
	Pinned    bool      `json:"pinned" firestore:"pinned"`
	Priority  int       `json:"priority" firestore:"priority"`
	CreatedAt time.Time `json:"createdAt" firestore:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt" firestore:"updatedAt"`
}

func (n Note) DocumentID() string {
	return n.ID
}
