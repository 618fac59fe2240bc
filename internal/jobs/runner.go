// Package jobs runs the periodic housekeeping: image cache eviction, WAL
// checkpointing, and expired refresh-token cleanup.
package jobs

import (
	"context"
	"log"
	"sync"
	"time"

	"opsdec/internal/imagecache"
	"opsdec/internal/store"
)

const (
	DefaultSweepInterval      = time.Hour
	DefaultCheckpointInterval = time.Hour
)

type Runner struct {
	store              *store.Store
	cache              *imagecache.Cache
	sweepInterval      time.Duration
	checkpointInterval time.Duration

	startOnce sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

type Option func(*Runner)

func WithSweepInterval(d time.Duration) Option {
	return func(r *Runner) { r.sweepInterval = d }
}

func WithCheckpointInterval(d time.Duration) Option {
	return func(r *Runner) { r.checkpointInterval = d }
}

func New(st *store.Store, cache *imagecache.Cache, opts ...Option) *Runner {
	r := &Runner{
		store:              st,
		cache:              cache,
		sweepInterval:      DefaultSweepInterval,
		checkpointInterval: DefaultCheckpointInterval,
		done:               make(chan struct{}),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Runner) Start(ctx context.Context) {
	r.startOnce.Do(func() {
		ctx, r.cancel = context.WithCancel(ctx)
		go r.run(ctx)
	})
}

func (r *Runner) Stop() {
	if r.cancel != nil {
		r.cancel()
		<-r.done
	}
}

func (r *Runner) run(ctx context.Context) {
	defer close(r.done)

	sweep := time.NewTicker(r.sweepInterval)
	defer sweep.Stop()
	checkpoint := time.NewTicker(r.checkpointInterval)
	defer checkpoint.Stop()

	r.Sweep()
	for {
		select {
		case <-ctx.Done():
			return
		case <-sweep.C:
			r.Sweep()
		case <-checkpoint.C:
			if err := r.store.Checkpoint(); err != nil {
				log.Printf("jobs: wal checkpoint: %v", err)
			}
		}
	}
}

// Sweep runs one housekeeping pass: cache eviction per the configured
// limits, then expired refresh-token cleanup.
func (r *Runner) Sweep() {
	if r.cache != nil {
		maxAge, maxSize, err := r.store.GetImageCacheLimits()
		if err != nil {
			log.Printf("jobs: loading cache limits: %v", err)
		} else {
			res, err := r.cache.Evict(time.Duration(maxAge)*time.Second, maxSize)
			if err != nil {
				log.Printf("jobs: cache eviction: %v", err)
			} else if res.RemovedByAge+res.RemovedByLRU > 0 {
				log.Printf("jobs: evicted %d cached images by age, %d by size", res.RemovedByAge, res.RemovedByLRU)
			}
		}
	}

	n, err := r.store.DeleteExpiredRefreshTokens()
	if err != nil {
		log.Printf("jobs: refresh token cleanup: %v", err)
	} else if n > 0 {
		log.Printf("jobs: removed %d expired refresh tokens", n)
	}
}
