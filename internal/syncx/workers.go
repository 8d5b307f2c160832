package syncx

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned when work is submitted after Close, and for queued
// work discarded by Close or Remove.
var ErrClosed = errors.New("syncx: workers closed")

var (
	errFull    = errors.New("syncx: queue full")
	errRemoved = errors.New("syncx: worker removed")
)

type job struct {
	ctx  context.Context
	fn   func(context.Context) error
	drop func()
	err  error
	done chan struct{}
}

// discard completes j without running fn.
func (j *job) discard(err error) {
	j.err = err
	if j.drop != nil {
		j.drop()
	}
	close(j.done)
}

type keyWorker struct {
	ch     chan *job
	stop   chan struct{}
	exited chan struct{}

	// Senders hold mu for reading; the worker takes it for writing to drain.
	mu     sync.RWMutex
	closed bool
}

// send queues j. Without wait it fails with errFull when the queue is full.
func (w *keyWorker) send(j *job, wait bool) error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return errRemoved
	}
	if !wait {
		select {
		case w.ch <- j:
			return nil
		default:
			return errFull
		}
	}
	select {
	case w.ch <- j:
		return nil
	case <-j.ctx.Done():
		return j.ctx.Err()
	case <-w.stop:
		return errRemoved
	}
}

// drain marks w closed and discards everything still queued.
func (w *keyWorker) drain() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	for {
		select {
		case j := <-w.ch:
			j.discard(ErrClosed)
		default:
			return
		}
	}
}

// KeyedWorkers runs submitted work on one goroutine per key, so work for the
// same key never overlaps while different keys proceed in parallel.
type KeyedWorkers struct {
	mu      sync.Mutex
	queue   int
	workers map[string]*keyWorker
	closed  bool
	wg      sync.WaitGroup
}

// NewKeyedWorkers creates a worker set whose per-key queues hold queue jobs.
func NewKeyedWorkers(queue int) *KeyedWorkers {
	if queue <= 0 {
		queue = 1
	}
	return &KeyedWorkers{
		queue:   queue,
		workers: make(map[string]*keyWorker),
	}
}

// Do runs fn on key's worker and waits for it. If ctx ends first, ctx's error
// is returned and fn (if it still runs) sees a done ctx.
func (k *KeyedWorkers) Do(ctx context.Context, key string, fn func(context.Context) error) error {
	j := &job{ctx: ctx, fn: fn, done: make(chan struct{})}
	if err := k.submit(key, j, true); err != nil {
		return err
	}
	select {
	case <-j.done:
		return j.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TrySubmit queues fn without waiting. It reports false when key's queue is
// full or the set is closed. drop, if non-nil, is called in place of fn when
// an accepted job never runs.
func (k *KeyedWorkers) TrySubmit(ctx context.Context, key string, fn func(context.Context) error, drop func()) bool {
	return k.submit(key, &job{ctx: ctx, fn: fn, drop: drop, done: make(chan struct{})}, false) == nil
}

// submit retries on a fresh worker when key's worker was removed under it.
func (k *KeyedWorkers) submit(key string, j *job, wait bool) error {
	for {
		w, err := k.worker(key)
		if err != nil {
			return err
		}
		if err := w.send(j, wait); !errors.Is(err, errRemoved) {
			return err
		}
	}
}

// Len returns the number of live per-key workers.
func (k *KeyedWorkers) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.workers)
}

// Remove stops key's worker once its in-flight job returns and discards the
// jobs still queued. A later submission for key starts a fresh worker.
func (k *KeyedWorkers) Remove(key string) {
	k.mu.Lock()
	w, ok := k.workers[key]
	if ok {
		delete(k.workers, key)
		close(w.stop)
	}
	k.mu.Unlock()
	if ok {
		<-w.exited
	}
}

// Close stops all workers and waits for in-flight work. Queued work that has
// not started is discarded.
func (k *KeyedWorkers) Close() {
	k.mu.Lock()
	if !k.closed {
		k.closed = true
		for key, w := range k.workers {
			close(w.stop)
			delete(k.workers, key)
		}
	}
	k.mu.Unlock()
	k.wg.Wait()
}

func (k *KeyedWorkers) worker(key string) (*keyWorker, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.closed {
		return nil, ErrClosed
	}
	if w, ok := k.workers[key]; ok {
		return w, nil
	}
	w := &keyWorker{
		ch:     make(chan *job, k.queue),
		stop:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	k.workers[key] = w
	k.wg.Add(1)
	go k.run(w)
	return w, nil
}

func (k *KeyedWorkers) run(w *keyWorker) {
	defer k.wg.Done()
	defer close(w.exited)
	for {
		select {
		case <-w.stop:
			w.drain()
			return
		default:
		}
		select {
		case <-w.stop:
			w.drain()
			return
		case j := <-w.ch:
			if err := j.ctx.Err(); err != nil {
				j.discard(err)
				continue
			}
			j.err = j.fn(j.ctx)
			close(j.done)
		}
	}
}
