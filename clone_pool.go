package mcconn

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/puddle/v2"

	"github.com/pior/mcconn/internal/coarsetime"
)

// ClonePoolConfig configures a ClonePool.
type ClonePoolConfig struct {
	// MaxSize is the maximum number of clones.
	// Default: 4
	MaxSize int32

	// Setup runs on every new clone before it is handed out, typically
	// Hello, Authenticate and SelectBucket.
	Setup func(ctx context.Context, conn Connection) error
}

// PoolStats is a snapshot of ClonePool statistics.
type PoolStats struct {
	AcquireCount   uint64 // Total acquire attempts
	WaitCount      uint64 // Acquires that had to wait
	CreatedConns   uint64
	DestroyedConns uint64
	TotalConns     int32 // Clones in the pool (acquired + idle)
	IdleConns      int32
	ActiveConns    int32
}

// ClonePool hands out independent clones of one connection to concurrent
// callers. The origin connection itself is never handed out.
type ClonePool struct {
	origin         Connection
	setup          func(ctx context.Context, conn Connection) error
	pool           *puddle.Pool[Connection]
	createdConns   atomic.Int64
	destroyedConns atomic.Int64
	closeOnce      sync.Once
}

func NewClonePool(origin Connection, cfg ClonePoolConfig) (*ClonePool, error) {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 4
	}
	p := &ClonePool{origin: origin, setup: cfg.Setup}

	pool, err := puddle.NewPool(&puddle.Config[Connection]{
		Constructor: p.construct,
		Destructor: func(c Connection) {
			p.destroyedConns.Add(1)
			_ = c.Close()
		},
		MaxSize: cfg.MaxSize,
	})
	if err != nil {
		return nil, err
	}
	p.pool = pool
	return p, nil
}

func (p *ClonePool) construct(ctx context.Context) (Connection, error) {
	c, err := p.origin.Clone(ctx)
	if err != nil {
		return nil, err
	}
	if p.setup != nil {
		if err := p.setup(ctx, c); err != nil {
			_ = c.Close()
			return nil, err
		}
	}
	p.createdConns.Add(1)
	return c, nil
}

// With runs fn with an exclusive clone. The clone is destroyed when fn
// returns an error that leaves the connection unusable, and released
// otherwise.
func (p *ClonePool) With(ctx context.Context, fn func(conn Connection) error) error {
	res, err := p.pool.Acquire(ctx)
	if err != nil {
		return err
	}

	err = fn(res.Value())
	if ShouldCloseConnection(err) {
		res.Destroy()
	} else {
		res.Release()
	}
	return err
}

func (p *ClonePool) Stats() PoolStats {
	s := p.pool.Stat()
	return PoolStats{
		AcquireCount:   uint64(s.AcquireCount()),
		WaitCount:      uint64(s.EmptyAcquireCount()),
		CreatedConns:   uint64(p.createdConns.Load()),
		DestroyedConns: uint64(p.destroyedConns.Load()),
		TotalConns:     s.TotalResources(),
		IdleConns:      s.IdleResources(),
		ActiveConns:    s.AcquiredResources(),
	}
}

// CloseIdle destroys the idle clones unused for longer than maxIdle and
// returns how many were destroyed.
func (p *ClonePool) CloseIdle(maxIdle time.Duration) int {
	closed := 0
	for _, res := range p.pool.AcquireAllIdle() {
		if coarsetime.Since(res.Value().LastUsed()) > maxIdle {
			res.Destroy()
			closed++
		} else {
			res.ReleaseUnused()
		}
	}
	return closed
}

// Close closes every clone. The origin connection is left open. Calling
// Close more than once is a no-op.
func (p *ClonePool) Close() {
	p.closeOnce.Do(p.pool.Close)
}
