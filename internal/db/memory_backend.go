package db

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"google.golang.org/api/iterator"

	"firesync/internal/query"
)

// MemoryBackend is an in-process Backend. It evaluates filters, orders, limits
// and cursors the way Firestore does for the supported value types and pushes
// change snapshots to open listeners. It backs the tests and BACKEND=memory.
type MemoryBackend struct {
	mu          sync.Mutex
	collections map[string]map[string]map[string]any
	listeners   map[int]*memListener
	nextID      int
	injected    error

	calls  atomic.Int64
	active atomic.Int64
}

// NewMemoryBackend returns an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		collections: make(map[string]map[string]map[string]any),
		listeners:   make(map[int]*memListener),
	}
}

// Calls returns the number of backend round-trips and listeners opened so far.
func (b *MemoryBackend) Calls() int64 {
	return b.calls.Load()
}

// ActiveListeners returns the number of listeners that have not been stopped.
func (b *MemoryBackend) ActiveListeners() int64 {
	return b.active.Load()
}

// InjectError makes the next one-shot call fail with err.
func (b *MemoryBackend) InjectError(err error) {
	b.mu.Lock()
	b.injected = err
	b.mu.Unlock()
}

// BreakListeners fails every open listener with err.
func (b *MemoryBackend) BreakListeners(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, l := range b.listeners {
		l.fail(err)
	}
}

func (b *MemoryBackend) Collection(path string) (CollectionRef, error) {
	path = strings.Trim(path, "/")
	if path == "" || len(strings.Split(path, "/"))%2 == 0 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	return &memCollection{memQuery: memQuery{b: b, path: path}}, nil
}

// begin counts a one-shot call and returns any injected error.
// Callers hold b.mu.
func (b *MemoryBackend) begin() error {
	b.calls.Add(1)
	err := b.injected
	b.injected = nil
	return err
}

// publish recomputes every listener on path. Callers hold b.mu.
func (b *MemoryBackend) publish(path string) {
	for _, l := range b.listeners {
		if l.path == path {
			l.refresh()
		}
	}
}

func (b *MemoryBackend) addListener(l *memListener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls.Add(1)
	b.active.Add(1)
	b.nextID++
	l.id = b.nextID
	b.listeners[l.id] = l
	l.refresh()
}

func (b *MemoryBackend) removeListener(l *memListener) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.listeners[l.id]; ok {
		delete(b.listeners, l.id)
		b.active.Add(-1)
	}
}

type memCollection struct {
	memQuery
}

func (c *memCollection) Doc(id string) DocumentRef {
	return &memDoc{b: c.b, path: c.path, id: id}
}

type memDoc struct {
	b    *MemoryBackend
	path string
	id   string
}

func (d *memDoc) ID() string {
	return d.id
}

func (d *memDoc) Get(ctx context.Context) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	d.b.mu.Lock()
	defer d.b.mu.Unlock()
	if err := d.b.begin(); err != nil {
		return Record{}, err
	}
	data, ok := d.b.collections[d.path][d.id]
	if !ok {
		return Record{}, fmt.Errorf("%w: %s/%s", ErrNotFound, d.path, d.id)
	}
	return Record{ID: d.id, Data: copyMap(data)}, nil
}

func (d *memDoc) Set(ctx context.Context, data map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.b.mu.Lock()
	defer d.b.mu.Unlock()
	if err := d.b.begin(); err != nil {
		return err
	}
	docs := d.b.collections[d.path]
	if docs == nil {
		docs = make(map[string]map[string]any)
		d.b.collections[d.path] = docs
	}
	current := docs[d.id]
	if current == nil {
		current = make(map[string]any)
	}
	docs[d.id] = mergeMaps(copyMap(current), copyMap(data))
	d.b.publish(d.path)
	return nil
}

func (d *memDoc) Update(ctx context.Context, fields map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.b.mu.Lock()
	defer d.b.mu.Unlock()
	if err := d.b.begin(); err != nil {
		return err
	}
	current, ok := d.b.collections[d.path][d.id]
	if !ok {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, d.path, d.id)
	}
	next := copyMap(current)
	for p, v := range fields {
		setPath(next, strings.Split(p, "."), copyValue(v))
	}
	d.b.collections[d.path][d.id] = next
	d.b.publish(d.path)
	return nil
}

func (d *memDoc) Delete(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d.b.mu.Lock()
	defer d.b.mu.Unlock()
	if err := d.b.begin(); err != nil {
		return err
	}
	if _, ok := d.b.collections[d.path][d.id]; !ok {
		return nil
	}
	delete(d.b.collections[d.path], d.id)
	d.b.publish(d.path)
	return nil
}

func (d *memDoc) Snapshots(ctx context.Context) DocumentSnapshotIterator {
	q := memQuery{b: d.b, path: d.path, docID: d.id}
	return &memDocIterator{l: newMemListener(ctx, q)}
}

type memDocIterator struct {
	l *memListener
}

func (i *memDocIterator) Next() (*Record, error) {
	qs, err := i.l.next()
	if err != nil {
		return nil, err
	}
	if len(qs.Records) == 0 {
		return nil, nil
	}
	rec := qs.Records[0]
	return &rec, nil
}

func (i *memDocIterator) Stop() {
	i.l.stop()
}

type cursor struct {
	values []any
	before bool // exclusive bound
}

// memQuery is immutable; builder methods copy it.
type memQuery struct {
	b           *MemoryBackend
	path        string
	docID       string
	filters     []query.Filter
	orders      []query.Order
	limit       int
	limitToLast bool
	start       *cursor
	end         *cursor
}

func (q memQuery) clone() memQuery {
	q.filters = append([]query.Filter(nil), q.filters...)
	q.orders = append([]query.Order(nil), q.orders...)
	return q
}

func (q memQuery) Where(field string, op query.Operator, value any) Query {
	n := q.clone()
	n.filters = append(n.filters, query.Filter{Field: field, Op: op, Value: value})
	return n
}

func (q memQuery) OrderBy(field string, descending bool) Query {
	n := q.clone()
	n.orders = append(n.orders, query.Order{Field: field, Descending: descending})
	return n
}

func (q memQuery) Limit(n int) Query {
	c := q.clone()
	c.limit, c.limitToLast = n, false
	return c
}

func (q memQuery) LimitToLast(n int) Query {
	c := q.clone()
	c.limit, c.limitToLast = n, true
	return c
}

func (q memQuery) StartAt(values ...any) Query {
	c := q.clone()
	c.start = &cursor{values: values}
	return c
}

func (q memQuery) StartAfter(values ...any) Query {
	c := q.clone()
	c.start = &cursor{values: values, before: true}
	return c
}

func (q memQuery) EndAt(values ...any) Query {
	c := q.clone()
	c.end = &cursor{values: values}
	return c
}

func (q memQuery) EndBefore(values ...any) Query {
	c := q.clone()
	c.end = &cursor{values: values, before: true}
	return c
}

func (q memQuery) Documents(ctx context.Context) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	q.b.mu.Lock()
	defer q.b.mu.Unlock()
	if err := q.b.begin(); err != nil {
		return nil, err
	}
	return q.run()
}

func (q memQuery) Snapshots(ctx context.Context) QuerySnapshotIterator {
	return newMemListener(ctx, q)
}

// validate rejects the combinations Firestore rejects at execution time.
func (q memQuery) validate() error {
	if q.limitToLast && len(q.orders) == 0 {
		return ErrLimitToLastUnordered
	}
	for _, c := range []*cursor{q.start, q.end} {
		if c != nil && len(c.values) > len(q.orders)+1 {
			return fmt.Errorf("invalid query: %d cursor values for %d orderBy clauses", len(c.values), len(q.orders))
		}
	}
	for _, f := range q.filters {
		if !f.Op.Valid() {
			return fmt.Errorf("invalid query: unsupported operator %q", f.Op)
		}
		switch f.Op {
		case query.In, query.NotIn, query.ArrayContainsAny:
			if _, ok := toList(f.Value); !ok {
				return fmt.Errorf("invalid query: %s on %q requires a list value", f.Op, f.Field)
			}
		}
	}
	return nil
}

// run evaluates the query. Callers hold q.b.mu.
func (q memQuery) run() ([]Record, error) {
	if err := q.validate(); err != nil {
		return nil, err
	}
	var out []Record
	for id, data := range q.b.collections[q.path] {
		if q.docID != "" && id != q.docID {
			continue
		}
		if !q.matches(data) {
			continue
		}
		out = append(out, Record{ID: id, Data: copyMap(data)})
	}

	sort.SliceStable(out, func(i, j int) bool {
		return q.compareRecords(out[i], out[j]) < 0
	})

	if q.start != nil {
		out = filterRecords(out, func(r Record) bool {
			c := q.compareCursor(r, q.start.values)
			return c > 0 || (c == 0 && !q.start.before)
		})
	}
	if q.end != nil {
		out = filterRecords(out, func(r Record) bool {
			c := q.compareCursor(r, q.end.values)
			return c < 0 || (c == 0 && !q.end.before)
		})
	}

	if q.limit > 0 && len(out) > q.limit {
		if q.limitToLast {
			out = out[len(out)-q.limit:]
		} else {
			out = out[:q.limit]
		}
	}
	return out, nil
}

func (q memQuery) matches(data map[string]any) bool {
	for _, f := range q.filters {
		v, ok := lookup(data, f.Field)
		if !ok {
			return false
		}
		if !matchFilter(v, f.Op, f.Value) {
			return false
		}
	}
	return true
}

// compareRecords orders by the query's orders and then by document ID.
func (q memQuery) compareRecords(a, b Record) int {
	for _, o := range q.orders {
		av, _ := lookup(a.Data, o.Field)
		bv, _ := lookup(b.Data, o.Field)
		c := compareValues(av, bv)
		if o.Descending {
			c = -c
		}
		if c != 0 {
			return c
		}
	}
	return strings.Compare(a.ID, b.ID)
}

// compareCursor compares r against cursor values aligned with the orders; a
// value past the last order compares against the document ID.
func (q memQuery) compareCursor(r Record, values []any) int {
	for i, cv := range values {
		if i >= len(q.orders) {
			id, _ := cv.(string)
			return strings.Compare(r.ID, id)
		}
		o := q.orders[i]
		v, _ := lookup(r.Data, o.Field)
		c := compareValues(v, cv)
		if o.Descending {
			c = -c
		}
		if c != 0 {
			return c
		}
	}
	return 0
}

func filterRecords(in []Record, keep func(Record) bool) []Record {
	out := in[:0]
	for _, r := range in {
		if keep(r) {
			out = append(out, r)
		}
	}
	return out
}

func matchFilter(v any, op query.Operator, want any) bool {
	switch op {
	case query.Equal:
		return sameRank(v, want) && compareValues(v, want) == 0
	case query.NotEqual:
		return !(sameRank(v, want) && compareValues(v, want) == 0)
	case query.LessThan:
		return sameRank(v, want) && compareValues(v, want) < 0
	case query.LessThanOrEqual:
		return sameRank(v, want) && compareValues(v, want) <= 0
	case query.GreaterThan:
		return sameRank(v, want) && compareValues(v, want) > 0
	case query.GreaterThanOrEqual:
		return sameRank(v, want) && compareValues(v, want) >= 0
	case query.ArrayContains:
		items, ok := toList(v)
		return ok && containsValue(items, want)
	case query.ArrayContainsAny:
		items, ok := toList(v)
		wants, _ := toList(want)
		if !ok {
			return false
		}
		for _, w := range wants {
			if containsValue(items, w) {
				return true
			}
		}
		return false
	case query.In:
		wants, _ := toList(want)
		return containsValue(wants, v)
	case query.NotIn:
		wants, _ := toList(want)
		return !containsValue(wants, v)
	}
	return false
}

func containsValue(items []any, v any) bool {
	for _, it := range items {
		if sameRank(it, v) && compareValues(it, v) == 0 {
			return true
		}
	}
	return false
}

// toList converts any slice or array to []any.
func toList(v any) ([]any, bool) {
	if v == nil {
		return nil, false
	}
	if l, ok := v.([]any); ok {
		return l, true
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return nil, false
	}
	if rv.Type().Elem().Kind() == reflect.Uint8 {
		// byte strings are scalar values
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

func lookup(data map[string]any, field string) (any, bool) {
	var cur any = data
	for _, part := range strings.Split(field, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func setPath(data map[string]any, parts []string, v any) {
	if len(parts) == 1 {
		data[parts[0]] = v
		return
	}
	child, ok := data[parts[0]].(map[string]any)
	if !ok {
		child = make(map[string]any)
		data[parts[0]] = child
	}
	setPath(child, parts[1:], v)
}

// mergeMaps merges src into dst the way a MergeAll set does: nested maps are
// merged, every other value replaces the existing one.
func mergeMaps(dst, src map[string]any) map[string]any {
	for k, v := range src {
		if sm, ok := v.(map[string]any); ok {
			if dm, ok := dst[k].(map[string]any); ok {
				dst[k] = mergeMaps(dm, sm)
				continue
			}
		}
		dst[k] = v
	}
	return dst
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return copyMap(t)
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = copyValue(t[i])
		}
		return out
	default:
		return v
	}
}

// memListener serves both query and document listeners. It keeps the last
// result set and queues the difference after every write to its path.
type memListener struct {
	id   int
	ctx  context.Context
	q    memQuery
	path string

	mu      sync.Mutex
	queue   []*QuerySnapshot
	last    map[string]Record
	failure error
	stopped bool
	notify  chan struct{}
	once    sync.Once
}

func newMemListener(ctx context.Context, q memQuery) *memListener {
	l := &memListener{
		ctx:    ctx,
		q:      q,
		path:   q.path,
		notify: make(chan struct{}, 1),
	}
	q.b.addListener(l)
	return l
}

// refresh computes the next snapshot. Called with the backend lock held.
func (l *memListener) refresh() {
	records, err := l.q.run()
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.stopped || l.failure != nil {
		return
	}
	if err != nil {
		l.failure = err
		l.signal()
		return
	}

	current := make(map[string]Record, len(records))
	for _, r := range records {
		current[r.ID] = r
	}
	first := l.last == nil
	var changes []Change
	for id, old := range l.last {
		if _, ok := current[id]; !ok {
			changes = append(changes, Change{Kind: Removed, Record: old})
		}
	}
	sort.Slice(changes, func(i, j int) bool { return changes[i].Record.ID < changes[j].Record.ID })
	for _, r := range records {
		old, ok := l.last[r.ID]
		switch {
		case !ok:
			changes = append(changes, Change{Kind: Added, Record: r})
		case !reflect.DeepEqual(old.Data, r.Data):
			changes = append(changes, Change{Kind: Modified, Record: r})
		}
	}
	l.last = current
	if !first && len(changes) == 0 {
		return
	}
	l.queue = append(l.queue, &QuerySnapshot{Records: records, Changes: changes})
	l.signal()
}

func (l *memListener) fail(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failure == nil && !l.stopped {
		l.failure = err
		l.signal()
	}
}

func (l *memListener) signal() {
	select {
	case l.notify <- struct{}{}:
	default:
	}
}

func (l *memListener) next() (*QuerySnapshot, error) {
	for {
		l.mu.Lock()
		switch {
		case l.stopped:
			l.mu.Unlock()
			return nil, iterator.Done
		case len(l.queue) > 0:
			qs := l.queue[0]
			l.queue = l.queue[1:]
			l.mu.Unlock()
			return qs, nil
		case l.failure != nil:
			err := l.failure
			l.mu.Unlock()
			return nil, err
		}
		l.mu.Unlock()

		select {
		case <-l.notify:
		case <-l.ctx.Done():
			return nil, l.ctx.Err()
		}
	}
}

func (l *memListener) Next() (*QuerySnapshot, error) {
	return l.next()
}

func (l *memListener) Stop() {
	l.stop()
}

func (l *memListener) stop() {
	l.once.Do(func() {
		l.mu.Lock()
		l.stopped = true
		l.queue = nil
		l.signal()
		l.mu.Unlock()
		l.q.b.removeListener(l)
	})
}
