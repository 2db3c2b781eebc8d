package dataset

import (
	"context"
	"errors"
	"math/rand"

	"golang.org/x/sync/errgroup"
)

// SamplerOptions configures one epoch of sample streaming.
type SamplerOptions struct {
	Shards     []string
	Seed       int64
	NumWorkers int
}

// StartEpoch streams every shard exactly once, in a seeded shuffled order,
// across NumWorkers concurrent readers. The sample channel closes when the
// epoch is exhausted; the error channel delivers at most one error after
// that.
func StartEpoch(parent context.Context, opts SamplerOptions) (<-chan Sample, <-chan error, error) {
	if len(opts.Shards) == 0 {
		return nil, nil, errors.New("sampler: no shards provided")
	}
	if opts.NumWorkers <= 0 {
		opts.NumWorkers = 1
	}
	if opts.Seed == 0 {
		opts.Seed = 42
	}

	order := append([]string(nil), opts.Shards...)
	rng := rand.New(rand.NewSource(opts.Seed))
	rng.Shuffle(len(order), func(i, j int) {
		order[i], order[j] = order[j], order[i]
	})

	out := make(chan Sample, opts.NumWorkers*2)
	errCh := make(chan error, 1)

	g, ctx := errgroup.WithContext(parent)
	jobs := make(chan string)
	g.Go(func() error {
		defer close(jobs)
		for _, path := range order {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case jobs <- path:
			}
		}
		return nil
	})
	for i := 0; i < opts.NumWorkers; i++ {
		g.Go(func() error {
			for path := range jobs {
				if err := StreamShard(ctx, path, out); err != nil {
					return err
				}
			}
			return nil
		})
	}

	go func() {
		defer close(errCh)
		defer close(out)
		if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- err
		}
	}()

	return out, errCh, nil
}
