package db

import (
	"context"
	"fmt"
	"slices"
	"sort"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"firesync/internal/query"
)

// FirestoreBackend implements Backend on a Cloud Firestore client.
type FirestoreBackend struct {
	client *firestore.Client
}

// NewFirestoreBackend wraps an initialized Firestore client. The client stays
// owned by the caller.
func NewFirestoreBackend(client *firestore.Client) *FirestoreBackend {
	return &FirestoreBackend{client: client}
}

func (b *FirestoreBackend) Collection(path string) (CollectionRef, error) {
	ref := b.client.Collection(path)
	if ref == nil {
		// The SDK returns nil when path has an even number of segments.
		return nil, fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	return &firestoreCollection{
		firestoreQuery: newFirestoreQuery(ref.Query),
		ref:            ref,
	}, nil
}

type firestoreCollection struct {
	firestoreQuery
	ref *firestore.CollectionRef
}

func (c *firestoreCollection) Doc(id string) DocumentRef {
	return &firestoreDoc{ref: c.ref.Doc(id)}
}

// firestoreQuery carries two SDK queries. q is the query as built. watch
// mirrors it with every order and cursor flipped: listeners cannot serve
// LimitToLast, so Snapshots runs watch with a plain limit and flips the
// results back.
type firestoreQuery struct {
	q       firestore.Query
	watch   firestore.Query
	ordered bool
	lastN   int
}

func newFirestoreQuery(q firestore.Query) firestoreQuery {
	return firestoreQuery{q: q, watch: q}
}

func (fq firestoreQuery) Where(field string, op query.Operator, value any) Query {
	fq.q = fq.q.Where(field, string(op), value)
	fq.watch = fq.watch.Where(field, string(op), value)
	return fq
}

func (fq firestoreQuery) OrderBy(field string, descending bool) Query {
	dir, flipped := firestore.Asc, firestore.Desc
	if descending {
		dir, flipped = firestore.Desc, firestore.Asc
	}
	fq.q = fq.q.OrderBy(field, dir)
	fq.watch = fq.watch.OrderBy(field, flipped)
	fq.ordered = true
	return fq
}

func (fq firestoreQuery) Limit(n int) Query {
	fq.q = fq.q.Limit(n)
	fq.watch = fq.watch.Limit(n)
	fq.lastN = 0
	return fq
}

func (fq firestoreQuery) LimitToLast(n int) Query {
	fq.q = fq.q.LimitToLast(n)
	fq.watch = fq.watch.Limit(n)
	fq.lastN = n
	return fq
}

func (fq firestoreQuery) StartAt(values ...any) Query {
	fq.q = fq.q.StartAt(values...)
	fq.watch = fq.watch.EndAt(values...)
	return fq
}

func (fq firestoreQuery) StartAfter(values ...any) Query {
	fq.q = fq.q.StartAfter(values...)
	fq.watch = fq.watch.EndBefore(values...)
	return fq
}

func (fq firestoreQuery) EndAt(values ...any) Query {
	fq.q = fq.q.EndAt(values...)
	fq.watch = fq.watch.StartAt(values...)
	return fq
}

func (fq firestoreQuery) EndBefore(values ...any) Query {
	fq.q = fq.q.EndBefore(values...)
	fq.watch = fq.watch.StartAfter(values...)
	return fq
}

func (fq firestoreQuery) Documents(ctx context.Context) ([]Record, error) {
	snaps, err := fq.q.Documents(ctx).GetAll()
	if err != nil {
		return nil, classify(err)
	}
	return toRecords(snaps), nil
}

func (fq firestoreQuery) Snapshots(ctx context.Context) QuerySnapshotIterator {
	if fq.lastN == 0 {
		return &firestoreQueryIterator{it: fq.q.Snapshots(ctx)}
	}
	if !fq.ordered {
		return errIterator{err: ErrLimitToLastUnordered}
	}
	return &firestoreQueryIterator{it: fq.watch.Snapshots(ctx), reversed: true}
}

type firestoreQueryIterator struct {
	it       *firestore.QuerySnapshotIterator
	reversed bool
}

func (i *firestoreQueryIterator) Next() (*QuerySnapshot, error) {
	qs, err := i.it.Next()
	if err != nil {
		return nil, classify(err)
	}
	docs, err := qs.Documents.GetAll()
	if err != nil {
		return nil, classify(err)
	}
	out := &QuerySnapshot{
		Records: toRecords(docs),
		Changes: make([]Change, 0, len(qs.Changes)),
	}
	if i.reversed {
		slices.Reverse(out.Records)
	}
	for _, ch := range qs.Changes {
		out.Changes = append(out.Changes, Change{
			Kind:   changeKind(ch.Kind),
			Record: toRecord(ch.Doc),
		})
	}
	return out, nil
}

func (i *firestoreQueryIterator) Stop() {
	i.it.Stop()
}

// errIterator is a listener that failed before it started.
type errIterator struct {
	err error
}

func (i errIterator) Next() (*QuerySnapshot, error) { return nil, i.err }
func (i errIterator) Stop()                         {}

type firestoreDoc struct {
	ref *firestore.DocumentRef
}

func (d *firestoreDoc) ID() string {
	return d.ref.ID
}

func (d *firestoreDoc) Get(ctx context.Context) (Record, error) {
	snap, err := d.ref.Get(ctx)
	if err != nil {
		return Record{}, classify(err)
	}
	return toRecord(snap), nil
}

func (d *firestoreDoc) Set(ctx context.Context, data map[string]any) error {
	_, err := d.ref.Set(ctx, data, firestore.MergeAll)
	return classify(err)
}

func (d *firestoreDoc) Update(ctx context.Context, fields map[string]any) error {
	paths := make([]string, 0, len(fields))
	for p := range fields {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	updates := make([]firestore.Update, 0, len(paths))
	for _, p := range paths {
		updates = append(updates, firestore.Update{Path: p, Value: fields[p]})
	}
	_, err := d.ref.Update(ctx, updates)
	return classify(err)
}

func (d *firestoreDoc) Delete(ctx context.Context) error {
	_, err := d.ref.Delete(ctx)
	return classify(err)
}

func (d *firestoreDoc) Snapshots(ctx context.Context) DocumentSnapshotIterator {
	return &firestoreDocIterator{it: d.ref.Snapshots(ctx)}
}

type firestoreDocIterator struct {
	it *firestore.DocumentSnapshotIterator
}

func (i *firestoreDocIterator) Next() (*Record, error) {
	snap, err := i.it.Next()
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, nil
		}
		return nil, classify(err)
	}
	if snap == nil || !snap.Exists() {
		return nil, nil
	}
	rec := toRecord(snap)
	return &rec, nil
}

func (i *firestoreDocIterator) Stop() {
	i.it.Stop()
}

// classify maps SDK errors onto this package's sentinels.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if status.Code(err) == codes.NotFound {
		return fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return err
}

func changeKind(k firestore.DocumentChangeKind) ChangeKind {
	switch k {
	case firestore.DocumentRemoved:
		return Removed
	case firestore.DocumentModified:
		return Modified
	default:
		return Added
	}
}

func toRecord(snap *firestore.DocumentSnapshot) Record {
	return Record{ID: snap.Ref.ID, Data: snap.Data()}
}

func toRecords(snaps []*firestore.DocumentSnapshot) []Record {
	out := make([]Record, 0, len(snaps))
	for _, s := range snaps {
		out = append(out, toRecord(s))
	}
	return out
}
