package diagnostics

import (
	"context"
	"sync"
	"time"

	"github.com/koizumiiiii/Baketa-sub009/internal/trace"
)

// Batcher accumulates records and writes them in batches, either when
// maxSize records are pending or flushDelay after the last Add.
type Batcher struct {
	writer     Writer
	maxSize    int
	flushDelay time.Duration
	mu         sync.Mutex
	items      []Record
	timer      *time.Timer
	stopped    bool
	wg         sync.WaitGroup
}

// NewBatcher creates a batcher writing to w.
func NewBatcher(w Writer, maxSize int, flushDelay time.Duration) *Batcher {
	if maxSize <= 0 {
		maxSize = DefaultBatcherMaxSize
	}
	if flushDelay <= 0 {
		flushDelay = DefaultBatcherFlushDelay
	}
	return &Batcher{
		writer:     w,
		maxSize:    maxSize,
		flushDelay: flushDelay,
		items:      make([]Record, 0, maxSize),
	}
}

// Add queues a record. Records added after Stop are dropped.
func (b *Batcher) Add(r Record) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return
	}

	b.items = append(b.items, r)

	if len(b.items) >= b.maxSize {
		b.flushLocked()
		return
	}

	if b.timer == nil {
		b.timer = time.AfterFunc(b.flushDelay, b.timerFlush)
	} else {
		b.timer.Reset(b.flushDelay)
	}
}

func (b *Batcher) timerFlush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.flushLocked()
}

func (b *Batcher) flushLocked() {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	if len(b.items) == 0 {
		return
	}
	items := b.items
	b.items = make([]Record, 0, b.maxSize)

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
		defer cancel()
		ctx, span := trace.StartSpan(ctx, "diagnostics_batch_flush")
		defer span.End()
		span.SetAttr("count", len(items))

		log := trace.Logger(ctx)
		if err := b.writer.Insert(ctx, items); err != nil {
			span.SetAttr("error", err.Error())
			log.Warn("diagnostics batch write failed", "error", err, "count", len(items))
			return
		}
		log.Debug("diagnostics batch written", "count", len(items))
	}()
}

// Flush forces an immediate write of pending records.
func (b *Batcher) Flush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.flushLocked()
}

// Stop flushes what is pending and waits for in-flight writes.
func (b *Batcher) Stop() {
	b.mu.Lock()
	b.stopped = true
	b.flushLocked()
	b.mu.Unlock()
	b.wg.Wait()
}
