package util

import (
	"context"
	"sync"
)

// Parallel runs fn over inputs with at most workerLimit goroutines. The first
// error cancels the context passed to the remaining calls and is returned.
func Parallel[T any](ctx context.Context, inputs []T, workerLimit int, fn func(context.Context, T) error) error {
	if len(inputs) == 0 {
		return nil
	}
	workerLimit = min(max(workerLimit, 1), len(inputs))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	tasks := make(chan T)
	var (
		once     sync.Once
		firstErr error
		wg       sync.WaitGroup
	)
	for range workerLimit {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for item := range tasks {
				if err := fn(ctx, item); err != nil {
					once.Do(func() {
						firstErr = err
						cancel()
					})
					return
				}
			}
		}()
	}

	go func() {
		defer close(tasks)
		for _, item := range inputs {
			select {
			case <-ctx.Done():
				return
			case tasks <- item:
			}
		}
	}()

	wg.Wait()
	if firstErr != nil {
		return firstErr
	}
	return ctx.Err()
}
