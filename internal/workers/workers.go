// Package workers partitions index ranges across goroutines.
package workers

import (
	"runtime"
	"sync"
)

// Count normalizes a requested worker count: values below one select all
// available CPUs.
func Count(requested int) int {
	if requested < 1 {
		return runtime.NumCPU()
	}
	return requested
}

// Range splits [0, n) into contiguous chunks, one per worker, and calls fn
// for each chunk concurrently. It returns once every chunk is done. fn must
// only write to output locations owned by its chunk.
func Range(n, numWorkers int, fn func(worker, start, end int)) {
	if n <= 0 {
		return
	}
	numWorkers = Count(numWorkers)
	if numWorkers > n {
		numWorkers = n
	}

	// Divide the work among available cores
	perWorker := (n + numWorkers - 1) / numWorkers

	var wg sync.WaitGroup
	for w := 0; w < numWorkers; w++ {
		start := w * perWorker
		end := start + perWorker
		if end > n {
			end = n
		}
		if start >= end {
			continue
		}

		wg.Add(1)
		go func(worker, start, end int) {
			defer wg.Done()
			fn(worker, start, end)
		}(w, start, end)
	}
	wg.Wait()
}

// Each calls fn(i) for every i in [0, n) using at most numWorkers goroutines
// pulling items from a shared queue. It suits a few expensive items of
// uneven cost.
func Each(n, numWorkers int, fn func(i int)) {
	if n <= 0 {
		return
	}
	numWorkers = Count(numWorkers)
	if numWorkers > n {
		numWorkers = n
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				fn(i)
			}
		}()
	}
	for i := 0; i < n; i++ {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
}
