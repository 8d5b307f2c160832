package frame

import (
	"image"
	"sync"
)

// Pool reuses *image.RGBA crop buffers keyed by their rectangle.
type Pool struct {
	mu    sync.RWMutex
	pools map[image.Rectangle]*sync.Pool
}

var defaultPool = NewPool()

// NewPool creates an empty buffer pool.
func NewPool() *Pool {
	return &Pool{pools: make(map[image.Rectangle]*sync.Pool)}
}

// Get returns a buffer with exactly rect bounds, allocating when none is free.
func (p *Pool) Get(rect image.Rectangle) *image.RGBA {
	p.mu.RLock()
	pool, ok := p.pools[rect]
	p.mu.RUnlock()

	if !ok {
		p.mu.Lock()
		if pool, ok = p.pools[rect]; !ok {
			pool = &sync.Pool{New: func() any { return image.NewRGBA(rect) }}
			p.pools[rect] = pool
		}
		p.mu.Unlock()
	}
	return pool.Get().(*image.RGBA)
}

// Put hands a buffer back for reuse. Buffers of unknown size are dropped.
func (p *Pool) Put(img *image.RGBA) {
	if img == nil {
		return
	}
	p.mu.RLock()
	pool, ok := p.pools[img.Rect]
	p.mu.RUnlock()
	if ok {
		pool.Put(img)
	}
}
