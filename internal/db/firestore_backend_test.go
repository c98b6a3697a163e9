package db

import (
	"context"
	"testing"

	"cloud.google.com/go/firestore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firesync/internal/query"
)

// newOfflineBackend builds a FirestoreBackend whose client never dials: the
// emulator address is unreachable and only query construction is exercised.
func newOfflineBackend(t *testing.T) (*FirestoreBackend, *firestore.Client) {
	t.Helper()
	t.Setenv("FIRESTORE_EMULATOR_HOST", "127.0.0.1:1")
	client, err := firestore.NewClient(context.Background(), "firesync-test")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return NewFirestoreBackend(client), client
}

func serialize(t *testing.T, q firestore.Query) []byte {
	t.Helper()
	b, err := q.Serialize()
	require.NoError(t, err)
	return b
}

func TestFirestoreQuery_ListenerFlipsLimitToLast(t *testing.T) {
	backend, client := newOfflineBackend(t)
	coll, err := backend.Collection("users/u1/notes")
	require.NoError(t, err)
	ref := client.Collection("users/u1/notes")

	tests := []struct {
		name  string
		build func(Query) Query
		want  firestore.Query
	}{
		{
			name:  "order and limit",
			build: func(q Query) Query { return q.OrderBy("score", false).LimitToLast(2) },
			want:  ref.OrderBy("score", firestore.Desc).Limit(2),
		},
		{
			name:  "descending order",
			build: func(q Query) Query { return q.OrderBy("score", true).LimitToLast(3) },
			want:  ref.OrderBy("score", firestore.Asc).Limit(3),
		},
		{
			name: "cursors swap ends",
			build: func(q Query) Query {
				return q.Where("pinned", query.Equal, true).OrderBy("score", false).StartAt(2).EndBefore(6).LimitToLast(3)
			},
			want: ref.Where("pinned", "==", true).OrderBy("score", firestore.Desc).StartAfter(6).EndAt(2).Limit(3),
		},
		{
			name: "after and at",
			build: func(q Query) Query {
				return q.OrderBy("score", false).StartAfter(2).EndAt(6).LimitToLast(1)
			},
			want: ref.OrderBy("score", firestore.Desc).StartAt(6).EndBefore(2).Limit(1),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fq, ok := tt.build(coll).(firestoreQuery)
			require.True(t, ok)
			assert.Equal(t, serialize(t, tt.want), serialize(t, fq.watch))
			assert.NotZero(t, fq.lastN)
		})
	}
}

func TestFirestoreQuery_LimitClearsLimitToLast(t *testing.T) {
	backend, _ := newOfflineBackend(t)
	coll, err := backend.Collection("notes")
	require.NoError(t, err)

	fq := coll.OrderBy("score", false).LimitToLast(2).Limit(5).(firestoreQuery)
	assert.Zero(t, fq.lastN)
}

func TestFirestoreQuery_UnorderedLimitToLastListener(t *testing.T) {
	backend, _ := newOfflineBackend(t)
	coll, err := backend.Collection("notes")
	require.NoError(t, err)

	it := coll.LimitToLast(2).Snapshots(context.Background())
	defer it.Stop()
	_, err = it.Next()
	assert.ErrorIs(t, err, ErrLimitToLastUnordered)
}

func TestMemoryQuery_UnorderedLimitToLast(t *testing.T) {
	coll, err := NewMemoryBackend().Collection("notes")
	require.NoError(t, err)

	_, err = coll.LimitToLast(2).Documents(context.Background())
	assert.ErrorIs(t, err, ErrLimitToLastUnordered)
}
