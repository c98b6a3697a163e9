package core

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/iterator"
)

// subscription owns one backend listener and the goroutines that deliver its
// output. It ends when its context is cancelled or the listener fails.
type subscription struct {
	id     string
	kind   string
	path   string
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger

	group errgroup.Group
	done  chan struct{}

	mu  sync.Mutex
	err error
}

func newSubscription(parent context.Context, kind, path string, logger *zap.Logger) *subscription {
	ctx, cancel := context.WithCancel(parent)
	id := uuid.NewString()
	return &subscription{
		id:     id,
		kind:   kind,
		path:   path,
		ctx:    ctx,
		cancel: cancel,
		logger: logger.With(zap.String("subscription", id), zap.String("path", path), zap.String("kind", kind)),
		done:   make(chan struct{}),
	}
}

// failedSubscription is already finished with err.
func failedSubscription(kind string, err error) *subscription {
	s := &subscription{kind: kind, done: make(chan struct{}), err: err}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.cancel()
	close(s.done)
	return s
}

// start waits for every goroutine in the group, then releases the context,
// calls onExit and closes done.
func (s *subscription) start(onExit func()) {
	s.logger.Debug("Listener started")
	go func() {
		_ = s.group.Wait()
		s.cancel()
		if err := s.Err(); err != nil {
			s.logger.Warn("Listener failed", zap.Error(err))
		} else {
			s.logger.Debug("Listener stopped")
		}
		if onExit != nil {
			onExit()
		}
		close(s.done)
	}()
}

// end records why the listener loop returned. Errors caused by cancellation
// are not failures.
func (s *subscription) end(err error) {
	if err == nil || errors.Is(err, iterator.Done) || s.ctx.Err() != nil {
		return
	}
	s.fail(fmt.Errorf("listen %s: %w: %w", s.path, ErrBackend, err))
}

func (s *subscription) fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func (s *subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Close cancels the listener and waits until it and its outputs have stopped.
func (s *subscription) Close() {
	s.cancel()
	<-s.done
}

// outbox is an unbounded FIFO in front of an output channel, so the listener
// never waits on a slow consumer and one output never holds back another.
type outbox[V any] struct {
	mu       sync.Mutex
	items    []V
	finished bool
	notify   chan struct{}
	out      chan V
}

func newOutbox[V any]() *outbox[V] {
	return &outbox[V]{
		notify: make(chan struct{}, 1),
		out:    make(chan V),
	}
}

func (o *outbox[V]) push(v V) {
	o.mu.Lock()
	o.items = append(o.items, v)
	o.mu.Unlock()
	o.wake()
}

// finish marks the end of input. The pump delivers what is queued and then
// closes the channel.
func (o *outbox[V]) finish() {
	o.mu.Lock()
	o.finished = true
	o.mu.Unlock()
	o.wake()
}

func (o *outbox[V]) wake() {
	select {
	case o.notify <- struct{}{}:
	default:
	}
}

// pump forwards queued values until finish has been called and the queue is
// empty, or until ctx is done. It always closes the output channel.
func (o *outbox[V]) pump(ctx context.Context) error {
	defer close(o.out)
	for {
		o.mu.Lock()
		if len(o.items) == 0 {
			finished := o.finished
			o.mu.Unlock()
			if finished {
				return nil
			}
			select {
			case <-o.notify:
				continue
			case <-ctx.Done():
				return nil
			}
		}
		v := o.items[0]
		var zero V
		o.items[0] = zero
		o.items = o.items[1:]
		o.mu.Unlock()

		select {
		case o.out <- v:
		case <-ctx.Done():
			return nil
		}
	}
}

// Stream is a live sequence of values. C is closed when the stream ends;
// after that Err reports the terminal failure, or nil if the stream was
// cancelled by its consumer.
type Stream[V any] struct {
	ch  <-chan V
	sub *subscription
}

func newStream[V any](sub *subscription, box *outbox[V]) *Stream[V] {
	sub.group.Go(func() error { return box.pump(sub.ctx) })
	return &Stream[V]{ch: box.out, sub: sub}
}

func failedStream[V any](kind string, err error) *Stream[V] {
	ch := make(chan V)
	close(ch)
	return &Stream[V]{ch: ch, sub: failedSubscription(kind, err)}
}

// C returns the channel carrying the stream's values.
func (s *Stream[V]) C() <-chan V {
	return s.ch
}

// Err returns the terminal failure once C is closed.
func (s *Stream[V]) Err() error {
	return s.sub.Err()
}

// Close stops the stream and its backend listener.
func (s *Stream[V]) Close() {
	s.sub.Close()
}

// Done is closed once the listener and every output have stopped.
func (s *Stream[V]) Done() <-chan struct{} {
	return s.sub.done
}

// ID identifies the underlying subscription in logs.
func (s *Stream[V]) ID() string {
	return s.sub.id
}

// DualStream splits one collection listener into updates (added or modified
// entities) and deletions (removed document IDs). Both outputs share the
// listener: closing either one, or cancelling the context, ends both.
type DualStream[T any] struct {
	updates   *Stream[T]
	deletions *Stream[string]
	sub       *subscription
}

func failedDualStream[T any](err error) *DualStream[T] {
	updates := failedStream[T](kindUpdates, err)
	return &DualStream[T]{
		updates:   updates,
		deletions: &Stream[string]{ch: closedChan[string](), sub: updates.sub},
		sub:       updates.sub,
	}
}

func closedChan[V any]() <-chan V {
	ch := make(chan V)
	close(ch)
	return ch
}

func (d *DualStream[T]) Updates() *Stream[T] {
	return d.updates
}

func (d *DualStream[T]) Deletions() *Stream[string] {
	return d.deletions
}

// Err returns the terminal failure shared by both outputs.
func (d *DualStream[T]) Err() error {
	return d.sub.Err()
}

// Close stops the shared listener and both outputs.
func (d *DualStream[T]) Close() {
	d.sub.Close()
}

func (d *DualStream[T]) Done() <-chan struct{} {
	return d.sub.done
}

const (
	kindDocument = "document"
	kindSnapshot = "snapshot"
	kindUpdates  = "updates"
)
