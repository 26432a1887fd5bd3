package render

import (
	"context"
	"math/rand"
	"runtime"
	"sync"

	"radiance/internal/geom"
)

// BatchOptions configure a chunked batch render.
type BatchOptions struct {
	// ChunkSize bounds how many rays a worker renders per task.
	ChunkSize int
	// Workers is the number of concurrent renderers; <= 0 uses NumCPU.
	Workers int
	// Seed makes the render deterministic: chunk i always draws from the
	// same stream regardless of worker scheduling, so a re-invocation over
	// the same rays reproduces the same image.
	Seed int64
	// Progress is the training fraction for histogram annealing.
	Progress float64
	// Train enables training-only behavior (bottleneck noise).
	Train bool
}

// RenderBatch renders all rays through the pipeline, in chunks, in
// parallel. Rays are independent; results are written to non-overlapping
// regions of the output slice. Cancellation abandons the batch wholesale.
func RenderBatch(ctx context.Context, p *Pipeline, rays []geom.Ray, opts BatchOptions) ([]RayOutputs, error) {
	if len(rays) == 0 {
		return nil, ctx.Err()
	}
	chunkSize := opts.ChunkSize
	if chunkSize <= 0 {
		chunkSize = len(rays)
	}
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	out := make([]RayOutputs, len(rays))
	numChunks := (len(rays) + chunkSize - 1) / chunkSize
	tasks := make(chan int, numChunks)
	for i := 0; i < numChunks; i++ {
		tasks <- i
	}
	close(tasks)

	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for chunk := range tasks {
				if ctx.Err() != nil {
					return
				}
				rng := rand.New(rand.NewSource(opts.Seed + int64(chunk)))
				start := chunk * chunkSize
				end := start + chunkSize
				if end > len(rays) {
					end = len(rays)
				}
				for i := start; i < end; i++ {
					result, err := p.RenderRay(rng, rays[i], opts.Progress, opts.Train)
					if err != nil {
						mu.Lock()
						if firstErr == nil {
							firstErr = err
						}
						mu.Unlock()
						return
					}
					out[i] = result
				}
			}
		}()
	}
	wg.Wait()

	if firstErr != nil {
		return nil, firstErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
