package db

import (
	"context"
	"errors"

	"firesync/internal/query"
)

// ErrNotFound is returned when a requested document does not exist.
var ErrNotFound = errors.New("document not found")

// ErrInvalidPath is returned when a path does not name a collection.
var ErrInvalidPath = errors.New("invalid collection path")

// ErrLimitToLastUnordered is returned when a LimitToLast query has no order.
var ErrLimitToLastUnordered = errors.New("invalid query: limitToLast requires at least one orderBy")

// Record is one document in the backend's native shape.
type Record struct {
	ID   string
	Data map[string]any
}

// ChangeKind classifies a change reported by a listener.
type ChangeKind int

const (
	Added ChangeKind = iota
	Modified
	Removed
)

func (k ChangeKind) String() string {
	switch k {
	case Added:
		return "added"
	case Modified:
		return "modified"
	case Removed:
		return "removed"
	default:
		return "unknown"
	}
}

// Change is one document change inside a QuerySnapshot.
type Change struct {
	Kind   ChangeKind
	Record Record
}

// QuerySnapshot is one delivery from a query listener: the full current result
// set plus the changes since the previous delivery. The first delivery reports
// every matching document as Added.
type QuerySnapshot struct {
	Records []Record
	Changes []Change
}

// Backend is the document store the adapters talk to.
type Backend interface {
	// Collection returns a handle on the collection at path.
	Collection(path string) (CollectionRef, error)
}

// CollectionRef is a collection handle. As a Query it selects every document.
type CollectionRef interface {
	Query
	Doc(id string) DocumentRef
}

// DocumentRef addresses a single document.
type DocumentRef interface {
	ID() string
	// Get returns ErrNotFound when the document does not exist.
	Get(ctx context.Context) (Record, error)
	// Set writes data with merge semantics; fields absent from data are kept.
	Set(ctx context.Context, data map[string]any) error
	// Update patches the given field paths. It fails when the document does not exist.
	Update(ctx context.Context, fields map[string]any) error
	// Delete removes the document. Deleting a missing document is not an error.
	Delete(ctx context.Context) error
	Snapshots(ctx context.Context) DocumentSnapshotIterator
}

// Query is an immutable backend query. Every builder method returns a new Query,
// so a Query satisfies query.Target[Query].
type Query interface {
	Where(field string, op query.Operator, value any) Query
	OrderBy(field string, descending bool) Query
	Limit(n int) Query
	LimitToLast(n int) Query
	StartAt(values ...any) Query
	StartAfter(values ...any) Query
	EndAt(values ...any) Query
	EndBefore(values ...any) Query

	// Documents runs the query once.
	Documents(ctx context.Context) ([]Record, error)
	// Snapshots opens a listener on the query.
	Snapshots(ctx context.Context) QuerySnapshotIterator
}

// QuerySnapshotIterator delivers query snapshots. Next blocks until the next
// snapshot, and returns iterator.Done after Stop or an error once the listener
// fails or its context ends.
type QuerySnapshotIterator interface {
	Next() (*QuerySnapshot, error)
	Stop()
}

// DocumentSnapshotIterator delivers the state of one document. Next returns a
// nil record while the document does not exist.
type DocumentSnapshotIterator interface {
	Next() (*Record, error)
	Stop()
}
