package core

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"firesync/internal/db"
	"firesync/internal/location"
)

// Document reads, writes and watches single documents of the collection the
// location provider points at. Public operations on one instance run one at a
// time; separate instances are independent.
type Document[T Entity] struct {
	backend  db.Backend
	location location.Provider
	codec    Codec[T]
	logger   *zap.Logger
	group    string

	mu      sync.Mutex
	streams map[string]*subscription
}

// NewDocument returns a single-document adapter. A nil codec selects a
// TaggedCodec that keeps the document ID in the "id" field.
func NewDocument[T Entity](backend db.Backend, loc location.Provider, codec Codec[T], opts ...Option) *Document[T] {
	o := newOptions(opts)
	if codec == nil {
		codec = NewTaggedCodec[T]("id")
	}
	return &Document[T]{
		backend:  backend,
		location: loc,
		codec:    codec,
		logger:   o.logger,
		group:    o.group,
		streams:  make(map[string]*subscription),
	}
}

// Group returns the grouping key passed with WithGroup.
func (d *Document[T]) Group() string {
	return d.group
}

// ActiveStreams returns the number of listeners this adapter currently owns.
func (d *Document[T]) ActiveStreams() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.streams)
}

// collection resolves the location and opens the collection. Callers hold d.mu.
func (d *Document[T]) collection() (db.CollectionRef, string, error) {
	path, err := d.location.Resolve()
	if err != nil {
		return nil, "", err
	}
	coll, err := d.backend.Collection(path)
	if err != nil {
		return nil, path, backendError("open "+path, err)
	}
	return coll, path, nil
}

func (d *Document[T]) docRef(id string) (db.DocumentRef, string, error) {
	if err := validateID(id); err != nil {
		return nil, "", err
	}
	coll, path, err := d.collection()
	if err != nil {
		return nil, path, err
	}
	return coll.Doc(id), path, nil
}

// Get returns the document with the given ID.
func (d *Document[T]) Get(ctx context.Context, id string) (T, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	var zero T
	ref, path, err := d.docRef(id)
	if err != nil {
		return zero, err
	}
	rec, err := ref.Get(ctx)
	if err != nil {
		return zero, backendError(fmt.Sprintf("get %s/%s", path, id), err)
	}
	return d.codec.Decode(rec.ID, rec.Data)
}

// Save writes entity under its DocumentID with merge semantics: fields the
// entity does not encode keep their stored values.
func (d *Document[T]) Save(ctx context.Context, entity T) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	id := entity.DocumentID()
	ref, path, err := d.docRef(id)
	if err != nil {
		return err
	}
	data, err := d.codec.Encode(entity)
	if err != nil {
		return err
	}
	if err := ref.Set(ctx, data); err != nil {
		return backendError(fmt.Sprintf("save %s/%s", path, id), err)
	}
	return nil
}

// Update patches the given field paths of an existing document. Dotted paths
// address nested fields.
func (d *Document[T]) Update(ctx context.Context, id string, fields map[string]any) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	ref, path, err := d.docRef(id)
	if err != nil {
		return err
	}
	patch, err := encodeFields(d.codec, fields)
	if err != nil {
		return err
	}
	if len(patch) == 0 {
		return nil
	}
	if err := ref.Update(ctx, patch); err != nil {
		return backendError(fmt.Sprintf("update %s/%s", path, id), err)
	}
	return nil
}

// Delete removes the document. Deleting a missing document succeeds.
func (d *Document[T]) Delete(ctx context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	ref, path, err := d.docRef(id)
	if err != nil {
		return err
	}
	if err := ref.Delete(ctx); err != nil {
		return backendError(fmt.Sprintf("delete %s/%s", path, id), err)
	}
	return nil
}

// Stream watches one document. The first value is its current state; nil
// means the document does not exist. The stream runs until ctx is cancelled,
// Close is called or the listener fails.
func (d *Document[T]) Stream(ctx context.Context, id string) *Stream[*T] {
	d.mu.Lock()
	defer d.mu.Unlock()

	ref, path, err := d.docRef(id)
	if err != nil {
		return failedStream[*T](kindDocument, err)
	}

	sub := newSubscription(ctx, kindDocument, path+"/"+id, d.logger)
	box := newOutbox[*T]()
	it := ref.Snapshots(sub.ctx)
	sub.group.Go(func() error {
		defer box.finish()
		defer it.Stop()
		for {
			rec, err := it.Next()
			if err != nil {
				sub.end(err)
				return nil
			}
			if rec == nil {
				box.push(nil)
				continue
			}
			v, err := d.codec.Decode(rec.ID, rec.Data)
			if err != nil {
				sub.fail(err)
				return nil
			}
			box.push(&v)
		}
	})
	stream := newStream(sub, box)
	d.track(sub)
	return stream
}

// track registers sub and starts it. Callers hold d.mu.
func (d *Document[T]) track(sub *subscription) {
	d.streams[sub.id] = sub
	sub.start(func() {
		d.mu.Lock()
		delete(d.streams, sub.id)
		d.mu.Unlock()
	})
}
