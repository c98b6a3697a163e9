package core

import (
	"context"

	"go.uber.org/zap"

	"firesync/internal/db"
	"firesync/internal/location"
	"firesync/internal/query"
)

// Collection adds bulk reads and collection listeners to Document. Both share
// the same instance lock.
type Collection[T Entity] struct {
	*Document[T]
}

// NewCollection returns a collection adapter. See NewDocument for codec.
func NewCollection[T Entity](backend db.Backend, loc location.Provider, codec Codec[T], opts ...Option) *Collection[T] {
	return &Collection[T]{Document: NewDocument[T](backend, loc, codec, opts...)}
}

// build resolves the location and applies q to the collection. Callers hold c.mu.
func (c *Collection[T]) build(q *query.Query) (db.Query, string, error) {
	coll, path, err := c.collection()
	if err != nil {
		return nil, path, err
	}
	return query.Apply[db.Query](q, coll), path, nil
}

// GetAll returns every document matching q. A nil q selects the whole
// collection. Documents that fail to decode are skipped and logged.
func (c *Collection[T]) GetAll(ctx context.Context, q *query.Query) ([]T, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	bq, path, err := c.build(q)
	if err != nil {
		return nil, err
	}
	records, err := bq.Documents(ctx)
	if err != nil {
		return nil, backendError("query "+path, err)
	}
	return c.decodeAll(path, records), nil
}

// StreamSingle watches one document of the collection.
func (c *Collection[T]) StreamSingle(ctx context.Context, id string) *Stream[*T] {
	return c.Stream(ctx, id)
}

// StreamAll emits the full result set of q every time the backend reports a
// change to it. Each emission comes from a fresh read of the query.
func (c *Collection[T]) StreamAll(ctx context.Context, q *query.Query) *Stream[[]T] {
	c.mu.Lock()
	defer c.mu.Unlock()

	bq, path, err := c.build(q)
	if err != nil {
		return failedStream[[]T](kindSnapshot, err)
	}

	sub := newSubscription(ctx, kindSnapshot, path, c.logger)
	box := newOutbox[[]T]()
	it := bq.Snapshots(sub.ctx)
	sub.group.Go(func() error {
		defer box.finish()
		defer it.Stop()
		for {
			if _, err := it.Next(); err != nil {
				sub.end(err)
				return nil
			}
			records, err := bq.Documents(sub.ctx)
			if err != nil {
				if sub.ctx.Err() == nil {
					sub.fail(backendError("refetch "+path, err))
				}
				return nil
			}
			box.push(c.decodeAll(path, records))
		}
	})
	stream := newStream(sub, box)
	c.track(sub)
	return stream
}

// StreamUpdates opens one listener on q and splits its changes: added and
// modified documents go to Updates, removed document IDs go to Deletions.
// Each output keeps the backend's order.
func (c *Collection[T]) StreamUpdates(ctx context.Context, q *query.Query) *DualStream[T] {
	c.mu.Lock()
	defer c.mu.Unlock()

	bq, path, err := c.build(q)
	if err != nil {
		return failedDualStream[T](err)
	}

	sub := newSubscription(ctx, kindUpdates, path, c.logger)
	updates := newOutbox[T]()
	deletions := newOutbox[string]()
	it := bq.Snapshots(sub.ctx)
	sub.group.Go(func() error {
		defer deletions.finish()
		defer updates.finish()
		defer it.Stop()
		for {
			snap, err := it.Next()
			if err != nil {
				sub.end(err)
				return nil
			}
			for _, ch := range snap.Changes {
				if ch.Kind == db.Removed {
					deletions.push(ch.Record.ID)
					continue
				}
				v, err := c.codec.Decode(ch.Record.ID, ch.Record.Data)
				if err != nil {
					c.logger.Warn("Skipping undecodable document",
						zap.String("path", path), zap.String("id", ch.Record.ID), zap.Error(err))
					continue
				}
				updates.push(v)
			}
		}
	})
	dual := &DualStream[T]{
		updates:   newStream(sub, updates),
		deletions: newStream(sub, deletions),
		sub:       sub,
	}
	c.track(sub)
	return dual
}

func (c *Collection[T]) decodeAll(path string, records []db.Record) []T {
	out := make([]T, 0, len(records))
	for _, r := range records {
		v, err := c.codec.Decode(r.ID, r.Data)
		if err != nil {
			c.logger.Warn("Skipping undecodable document",
				zap.String("path", path), zap.String("id", r.ID), zap.Error(err))
			continue
		}
		out = append(out, v)
	}
	return out
}
