package internal

import "sync"

// BufferPool recycles the byte slices requests are encoded into. Buffers
// that grew beyond maxSize are dropped instead of being pooled.
type BufferPool struct {
	pool    sync.Pool
	maxSize int
}

func NewBufferPool(initialSize, maxSize int) *BufferPool {
	return &BufferPool{
		pool: sync.Pool{
			New: func() any {
				buf := make([]byte, 0, initialSize)
				return &buf
			},
		},
		maxSize: maxSize,
	}
}

// Get returns an empty buffer.
func (p *BufferPool) Get() *[]byte {
	return p.pool.Get().(*[]byte)
}

// Put returns buf to the pool. buf must not be used afterwards.
func (p *BufferPool) Put(buf *[]byte) {
	if cap(*buf) > p.maxSize {
		return
	}
	*buf = (*buf)[:0]
	p.pool.Put(buf)
}
