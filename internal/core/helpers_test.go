package core

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"firesync/internal/db"
	"firesync/internal/location"
)

const notesPath = "users/u1/notes"

type note struct {
	ID    string   `firestore:"id"`
	Title string   `firestore:"title"`
	Score int      `firestore:"score"`
	Tags  []string `firestore:"tags,omitempty"`
}

func (n note) DocumentID() string { return n.ID }

func newTestCollection(t *testing.T, opts ...Option) (*Collection[note], *db.MemoryBackend) {
	t.Helper()
	backend := db.NewMemoryBackend()
	return NewCollection[note](backend, location.Static(notesPath), nil, opts...), backend
}

// seed writes raw records straight into the backend.
func seed(t *testing.T, backend *db.MemoryBackend, path string, docs map[string]map[string]any) {
	t.Helper()
	coll, err := backend.Collection(path)
	require.NoError(t, err)
	for id, data := range docs {
		require.NoError(t, coll.Doc(id).Set(context.Background(), data))
	}
}

func recv[V any](t *testing.T, ch <-chan V) V {
	t.Helper()
	select {
	case v, ok := <-ch:
		require.True(t, ok, "channel closed unexpectedly")
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for value")
	}
	var zero V
	return zero
}

func requireClosed[V any](t *testing.T, ch <-chan V) {
	t.Helper()
	select {
	case v, ok := <-ch:
		require.False(t, ok, "unexpected value %v", v)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for channel to close")
	}
}

func requireQuiet[V any](t *testing.T, ch <-chan V) {
	t.Helper()
	select {
	case v, ok := <-ch:
		if ok {
			t.Fatalf("unexpected value %v", v)
		}
	case <-time.After(50 * time.Millisecond):
	}
}

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for stream to stop")
	}
}
