package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firesync/internal/core"
	"firesync/internal/db"
	"firesync/internal/middleware"
	"firesync/internal/models"
)

type sseEvent struct {
	name string
	data string
}

// openStream starts an SSE request and returns a channel of parsed events.
func openStream(t *testing.T, ctx context.Context, url, uid string) <-chan sseEvent {
	t.Helper()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	require.NoError(t, err)
	req.Header.Set(middleware.DevUserHeader, uid)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/event-stream")

	events := make(chan sseEvent, 16)
	go func() {
		defer close(events)
		defer resp.Body.Close()
		scanner := bufio.NewScanner(resp.Body)
		var ev sseEvent
		for scanner.Scan() {
			line := scanner.Text()
			switch {
			case strings.HasPrefix(line, "event:"):
				ev.name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			case strings.HasPrefix(line, "data:"):
				ev.data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			case line == "" && ev.name != "":
				events <- ev
				ev = sseEvent{}
			}
		}
	}()
	return events
}

func nextEvent(t *testing.T, events <-chan sseEvent) sseEvent {
	t.Helper()
	for {
		select {
		case ev, ok := <-events:
			require.True(t, ok, "stream closed")
			if ev.name == "ping" {
				continue
			}
			return ev
		case <-time.After(3 * time.Second):
			t.Fatal("timed out waiting for event")
		}
	}
}

func TestStreamUpdates_SSE(t *testing.T) {
	router, backend := newTestRouter(t)
	server := httptest.NewServer(router)
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := openStream(t, ctx, server.URL+"/api/v1/streams/notes", "u1")
	require.Eventually(t, func() bool { return backend.ActiveListeners() == 1 }, 2*time.Second, 10*time.Millisecond)

	w := do(t, router, http.MethodPut, "/api/v1/notes/n1", "u1", models.CreateNoteRequest{Title: "live"})
	require.Equal(t, http.StatusCreated, w.Code)

	ev := nextEvent(t, events)
	assert.Equal(t, "update", ev.name)
	var note models.Note
	require.NoError(t, json.Unmarshal([]byte(ev.data), &note))
	assert.Equal(t, "n1", note.ID)
	assert.Equal(t, "live", note.Title)

	w = do(t, router, http.MethodDelete, "/api/v1/notes/n1", "u1", nil)
	require.Equal(t, http.StatusNoContent, w.Code)
	ev = nextEvent(t, events)
	assert.Equal(t, "delete", ev.name)
	assert.JSONEq(t, `{"id":"n1"}`, ev.data)

	cancel()
	require.Eventually(t, func() bool { return backend.ActiveListeners() == 0 }, 2*time.Second, 10*time.Millisecond,
		"disconnecting tears the listener down")
}

func TestStreamSnapshots_SSE(t *testing.T) {
	router, _ := newTestRouter(t)
	server := httptest.NewServer(router)
	defer server.Close()

	w := do(t, router, http.MethodPut, "/api/v1/notes/a", "u1", models.CreateNoteRequest{Title: "a"})
	require.Equal(t, http.StatusCreated, w.Code)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := openStream(t, ctx, server.URL+"/api/v1/streams/snapshots?orderBy=title", "u1")

	ev := nextEvent(t, events)
	assert.Equal(t, "snapshot", ev.name)
	var first NoteListResponse
	require.NoError(t, json.Unmarshal([]byte(ev.data), &first))
	assert.Equal(t, 1, first.Count)

	w = do(t, router, http.MethodPut, "/api/v1/notes/b", "u1", models.CreateNoteRequest{Title: "b"})
	require.Equal(t, http.StatusCreated, w.Code)

	// The PUT reads before it writes, so only the write produces a snapshot.
	ev = nextEvent(t, events)
	var second NoteListResponse
	require.NoError(t, json.Unmarshal([]byte(ev.data), &second))
	require.Equal(t, 2, second.Count)
	assert.Equal(t, "a", second.Notes[0].ID)
	assert.Equal(t, "b", second.Notes[1].ID)
}

func TestStreamNote_SSE(t *testing.T) {
	router, _ := newTestRouter(t)
	server := httptest.NewServer(router)
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := openStream(t, ctx, server.URL+"/api/v1/streams/notes/n1", "u1")

	ev := nextEvent(t, events)
	assert.Equal(t, "absent", ev.name)

	w := do(t, router, http.MethodPut, "/api/v1/notes/n1", "u1", models.CreateNoteRequest{Title: "here"})
	require.Equal(t, http.StatusCreated, w.Code)
	ev = nextEvent(t, events)
	assert.Equal(t, "note", ev.name)
	assert.Contains(t, ev.data, `"title":"here"`)
}

func TestStream_ReleasesAdapterOnDisconnect(t *testing.T) {
	backend := db.NewMemoryBackend()
	notes := core.NewRegistry[models.Note](backend, UserNotesPath("notes"), nil)
	server := httptest.NewServer(routerFor(notes))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	events := openStream(t, ctx, server.URL+"/api/v1/streams/notes/n1", "u1")
	assert.Equal(t, "absent", nextEvent(t, events).name)
	assert.Equal(t, 1, notes.Len())

	cancel()
	require.Eventually(t, func() bool { return notes.Len() == 0 && backend.ActiveListeners() == 0 },
		2*time.Second, 10*time.Millisecond)
}
