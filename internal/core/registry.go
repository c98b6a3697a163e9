package core

import (
	"sync"

	"firesync/internal/db"
	"firesync/internal/location"
)

// Registry hands out one Collection per owner, so each owner's operations are
// serialized on their own adapter. pathFor runs on every call of the adapter;
// it reports false while no path exists for owner.
//
// Adapters are reference counted: Acquire returns a release func, and an owner's
// adapter is dropped once nothing holds it. Streams opened on a dropped adapter
// keep running until they are closed.
type Registry[T Entity] struct {
	backend db.Backend
	pathFor func(owner string) (string, bool)
	codec   Codec[T]
	opts    []Option

	mu    sync.Mutex
	colls map[string]*registryEntry[T]
}

type registryEntry[T Entity] struct {
	coll *Collection[T]
	refs int
}

func NewRegistry[T Entity](backend db.Backend, pathFor func(owner string) (string, bool), codec Codec[T], opts ...Option) *Registry[T] {
	return &Registry[T]{
		backend: backend,
		pathFor: pathFor,
		codec:   codec,
		opts:    opts,
		colls:   make(map[string]*registryEntry[T]),
	}
}

// Acquire returns the collection adapter of owner, creating it if no caller
// holds one. Callers must call release once they are done with it; extra
// calls are ignored.
func (r *Registry[T]) Acquire(owner string) (coll *Collection[T], release func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.colls[owner]
	if !ok {
		loc := location.Func(func() (string, bool) { return r.pathFor(owner) })
		opts := append([]Option{WithGroup(owner)}, r.opts...)
		e = &registryEntry[T]{coll: NewCollection[T](r.backend, loc, r.codec, opts...)}
		r.colls[owner] = e
	}
	e.refs++

	var once sync.Once
	return e.coll, func() {
		once.Do(func() { r.release(owner, e) })
	}
}

func (r *Registry[T]) release(owner string, e *registryEntry[T]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e.refs--
	if e.refs == 0 && r.colls[owner] == e {
		delete(r.colls, owner)
	}
}

// Len returns the number of adapters currently held.
func (r *Registry[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.colls)
}
