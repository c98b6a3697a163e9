package core

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firesync/internal/crypto"
)

type Audit struct {
	CreatedBy string    `firestore:"createdBy"`
	CreatedAt time.Time `firestore:"createdAt"`
}

type document struct {
	Audit
	ID      string            `firestore:"id"`
	Body    string            `firestore:"body"`
	Labels  map[string]string `firestore:"labels,omitempty"`
	Rating  uint8             `firestore:"rating"`
	Parent  *string           `firestore:"parent"`
	Skipped string            `firestore:"-"`
	hidden  string
}

func (d document) DocumentID() string { return d.ID }

func TestTaggedCodec_Encode(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	codec := NewTaggedCodec[document]("id")

	got, err := codec.Encode(document{
		Audit:   Audit{CreatedBy: "u1", CreatedAt: at},
		ID:      "d1",
		Body:    "text",
		Rating:  4,
		Skipped: "x",
		hidden:  "y",
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"createdBy": "u1",
		"createdAt": at,
		"body":      "text",
		"rating":    int64(4),
		"parent":    nil,
	}, got)
}

func TestTaggedCodec_Decode(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	codec := NewTaggedCodec[document]("id")

	got, err := codec.Decode("d1", map[string]any{
		"createdBy": "u1",
		"createdAt": at,
		"body":      "text",
		"labels":    map[string]any{"k": "v"},
		"rating":    int64(4),
		"parent":    "p",
		"unknown":   true,
	})
	require.NoError(t, err)
	assert.Equal(t, "d1", got.ID)
	assert.Equal(t, "u1", got.CreatedBy)
	assert.True(t, at.Equal(got.CreatedAt))
	assert.Equal(t, map[string]string{"k": "v"}, got.Labels)
	assert.Equal(t, uint8(4), got.Rating)
	require.NotNil(t, got.Parent)
	assert.Equal(t, "p", *got.Parent)
}

func TestTaggedCodec_DecodeTimeString(t *testing.T) {
	codec := NewTaggedCodec[document]("id")
	got, err := codec.Decode("d1", map[string]any{"createdAt": "2024-05-01T12:00:00Z"})
	require.NoError(t, err)
	assert.Equal(t, 2024, got.CreatedAt.Year())
}

func TestTaggedCodec_PointerEntity(t *testing.T) {
	codec := NewTaggedCodec[*note]("id")
	got, err := codec.Decode("p1", map[string]any{"title": "t"})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, &note{ID: "p1", Title: "t"}, got)
}

func TestTaggedCodec_Errors(t *testing.T) {
	codec := NewTaggedCodec[document]("id")

	_, err := codec.Decode("d1", map[string]any{"body": 12})
	assert.ErrorIs(t, err, ErrSerialization)

	type withFunc struct {
		ID string `firestore:"id"`
		Fn func() `firestore:"fn"`
	}
	_, err = NewTaggedCodec[withFunc]("id").Encode(withFunc{ID: "x", Fn: func() {}})
	assert.ErrorIs(t, err, ErrSerialization)

	_, err = NewTaggedCodec[int]("").Encode(3)
	assert.ErrorIs(t, err, ErrSerialization)
}

func TestNormalize(t *testing.T) {
	type inner struct {
		N int `firestore:"n"`
	}
	testCases := []struct {
		name string
		in   any
		want any
	}{
		{"nil", nil, nil},
		{"int", 3, int64(3)},
		{"float32", float32(1.5), 1.5},
		{"bytes", []byte("ab"), []byte("ab")},
		{"slice", []int{1, 2}, []any{int64(1), int64(2)}},
		{"array", [2]string{"a", "b"}, []any{"a", "b"}},
		{"map", map[string]int{"a": 1}, map[string]any{"a": int64(1)}},
		{"struct", inner{N: 2}, map[string]any{"n": int64(2)}},
		{"pointer", &inner{N: 1}, map[string]any{"n": int64(1)}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := normalize(tc.in)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	for _, bad := range []any{make(chan int), complex(1, 2), map[int]string{1: "a"}, uint64(1 << 63)} {
		_, err := normalize(bad)
		assert.ErrorIs(t, err, ErrSerialization, "%T", bad)
	}
}

func TestSealedCodec(t *testing.T) {
	key := bytes.Repeat([]byte{1}, 32)
	codec, err := NewSealedCodec[note](NewTaggedCodec[note]("id"), key, "title")
	require.NoError(t, err)

	data, err := codec.Encode(note{ID: "a", Title: "secret", Score: 2})
	require.NoError(t, err)
	assert.NotEqual(t, "secret", data["title"])
	assert.Equal(t, int64(2), data["score"])
	plain, err := crypto.Decrypt(data["title"].(string), key)
	require.NoError(t, err)
	assert.Equal(t, "secret", plain)

	got, err := codec.Decode("a", data)
	require.NoError(t, err)
	assert.Equal(t, note{ID: "a", Title: "secret", Score: 2}, got)

	patch, err := codec.EncodeFields(map[string]any{"title": "new", "score": int64(1)})
	require.NoError(t, err)
	assert.NotEqual(t, "new", patch["title"])
	assert.Equal(t, int64(1), patch["score"])

	_, err = codec.Decode("a", map[string]any{"title": "not sealed"})
	assert.ErrorIs(t, err, ErrSerialization)

	_, err = NewSealedCodec[note](NewTaggedCodec[note]("id"), []byte("short"), "title")
	assert.ErrorIs(t, err, crypto.ErrInvalidKey)
}

func TestSealedCodec_ThroughDocument(t *testing.T) {
	key := bytes.Repeat([]byte{2}, 32)
	codec, err := NewSealedCodec[note](NewTaggedCodec[note]("id"), key, "title")
	require.NoError(t, err)
	coll, backend := newTestCollection(t)
	sealed := NewDocument[note](backend, coll.location, codec)

	ctx := context.Background()
	require.NoError(t, sealed.Save(ctx, note{ID: "s", Title: "hidden"}))
	require.NoError(t, sealed.Update(ctx, "s", map[string]any{"title": "still hidden"}))

	raw, err := coll.Get(ctx, "s")
	require.NoError(t, err)
	assert.NotEqual(t, "still hidden", raw.Title, "stored value is ciphertext")

	got, err := sealed.Get(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, "still hidden", got.Title)
}
