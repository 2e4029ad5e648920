package raptor

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// RunParallel invokes worker(unit) once for every unit in [0, units),
// fanned out over at most threads goroutines. There is no defined ordering
// between units; the call returns after all workers have joined. The first
// worker error cancels the remaining work and is returned.
func RunParallel(ctx context.Context, units, threads int, worker func(unit int) error) error {
	return RunParallelWorkers(ctx, units, threads, func(int) func(unit int) error {
		return worker
	})
}

// RunParallelWorkers is RunParallel with per-worker state: newWorker is
// called once per goroutine (workerID in [0, threads)) so that workers can
// own scratch buffers, counting agents, or local timers that are merged
// after the join. Units are claimed from a shared atomic counter, giving
// dynamic load balancing for uneven per-unit cost.
func RunParallelWorkers(ctx context.Context, units, threads int, newWorker func(workerID int) func(unit int) error) error {
	if units == 0 {
		return nil
	}
	if threads < 1 {
		threads = 1
	}
	if threads > units {
		threads = units
	}

	var next atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	for workerID := range threads {
		worker := newWorker(workerID)
		g.Go(func() error {
			for {
				unit := int(next.Add(1)) - 1
				if unit >= units {
					return nil
				}
				select {
				case <-gctx.Done():
					return gctx.Err()
				default:
				}
				if err := worker(unit); err != nil {
					return err
				}
			}
		})
	}
	return g.Wait()
}
