package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"

	"github.com/rendis/diagrammer/pkg/schema"
)

// GateMetrics tracks admission gate operational metrics.
type GateMetrics struct {
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Panics    int64 `json:"panics"`
	Rejected  int64 `json:"rejected"`
}

// Gate caps how many generation runs execute at once. Callers run inline;
// the gate only admits them.
type Gate struct {
	sem     *semaphore.Weighted
	size    int64
	wg      sync.WaitGroup
	metrics GateMetrics
	mu      sync.Mutex
	closed  bool
}

// NewGate creates a gate admitting at most size concurrent runs.
func NewGate(size int) *Gate {
	if size <= 0 {
		size = 1
	}
	return &Gate{sem: semaphore.NewWeighted(int64(size)), size: int64(size)}
}

// Size returns the admission capacity.
func (g *Gate) Size() int { return int(g.size) }

// Do waits for a slot, honouring ctx, then runs fn. A panic in fn is
// recovered and returned as an error. After Shutdown every call is rejected
// with OVERLOADED.
func (g *Gate) Do(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if g.isClosed() {
		atomic.AddInt64(&g.metrics.Rejected, 1)
		return schema.NewError(schema.ErrCodeOverloaded, "admission gate is shut down")
	}

	if err := g.sem.Acquire(ctx, 1); err != nil {
		atomic.AddInt64(&g.metrics.Rejected, 1)
		return schema.NewErrorf(schema.ErrCodeOverloaded,
			"no generation slot available within the request deadline (%d in use)", atomic.LoadInt64(&g.metrics.Active)).
			WithCause(err)
	}

	// wg.Add(1) must happen under the lock to avoid racing Shutdown's wg.Wait().
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		g.sem.Release(1)
		atomic.AddInt64(&g.metrics.Rejected, 1)
		return schema.NewError(schema.ErrCodeOverloaded, "admission gate is shut down")
	}
	g.wg.Add(1)
	atomic.AddInt64(&g.metrics.Active, 1)
	g.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			atomic.AddInt64(&g.metrics.Panics, 1)
			err = fmt.Errorf("engine: run panicked: %v", r)
		}
		if err != nil {
			atomic.AddInt64(&g.metrics.Failed, 1)
		} else {
			atomic.AddInt64(&g.metrics.Completed, 1)
		}
		atomic.AddInt64(&g.metrics.Active, -1)
		g.sem.Release(1)
		g.wg.Done()
	}()

	return fn(ctx)
}

func (g *Gate) isClosed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.closed
}

// Shutdown stops admitting runs and waits for active ones to finish or ctx to end.
func (g *Gate) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Metrics returns a snapshot of the current gate metrics.
func (g *Gate) Metrics() GateMetrics {
	return GateMetrics{
		Active:    atomic.LoadInt64(&g.metrics.Active),
		Completed: atomic.LoadInt64(&g.metrics.Completed),
		Failed:    atomic.LoadInt64(&g.metrics.Failed),
		Panics:    atomic.LoadInt64(&g.metrics.Panics),
		Rejected:  atomic.LoadInt64(&g.metrics.Rejected),
	}
}
