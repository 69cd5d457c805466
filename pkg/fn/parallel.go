package fn

import (
	"context"
	"sync"
)

// ParMapCtx runs f over items on at most workers goroutines and returns the
// results in input order. Once ctx is done no further item is started and
// every unstarted slot holds ctx.Err(). workers <= 0 means one per item.
func ParMapCtx[T, U any](ctx context.Context, items []T, workers int, f func(context.Context, T) Result[U]) []Result[U] {
	out := make([]Result[U], len(items))
	if len(items) == 0 {
		return out
	}
	if workers <= 0 || workers > len(items) {
		workers = len(items)
	}

	next := make(chan int)
	var wg sync.WaitGroup
	wg.Add(workers)
	for range workers {
		go func() {
			defer wg.Done()
			for i := range next {
				out[i] = f(ctx, items[i])
			}
		}()
	}

	started := 0
feed:
	for ; started < len(items); started++ {
		if ctx.Err() != nil {
			break
		}
		select {
		case <-ctx.Done():
			break feed
		case next <- started:
		}
	}
	close(next)
	wg.Wait()

	for i := started; i < len(items); i++ {
		out[i] = Err[U](ctx.Err())
	}
	return out
}
