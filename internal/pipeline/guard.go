package pipeline

import (
	"context"
	"sync/atomic"
)

// Guard keeps at most one batch running. TryAcquire returning false means
// another batch holds it and the caller must not process.
type Guard interface {
	TryAcquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

// MemoryGuard is a process-local flag. Deployments with more than one
// instance use the SQLite lease instead.
type MemoryGuard struct {
	running atomic.Bool
}

func (g *MemoryGuard) TryAcquire(context.Context) (bool, error) {
	return g.running.CompareAndSwap(false, true), nil
}

func (g *MemoryGuard) Release(context.Context) error {
	g.running.Store(false)
	return nil
}
