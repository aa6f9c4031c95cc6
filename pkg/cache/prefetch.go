package cache

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/jfelder/masterstream/internal/log"
	"github.com/jfelder/masterstream/pkg/processor"
	"github.com/jfelder/masterstream/pkg/track"
)

// Prefetcher warms the Predictive tier ahead of playback. Each session has
// at most one active plan; replanning (seek, preset change) cancels the
// previous plan's outstanding work.
type Prefetcher struct {
	cache     *TierCache
	workers   int
	lookahead int

	mu    sync.Mutex
	plans map[string]context.CancelFunc

	wg sync.WaitGroup
}

// NewPrefetcher creates a Prefetcher. workers caps concurrent background
// builds per plan and is kept below the processor's live capacity so
// prefetch never starves active sessions.
func NewPrefetcher(cache *TierCache, workers, lookahead int) *Prefetcher {
	if workers < 1 {
		workers = 1
	}
	if lookahead < 1 {
		lookahead = 3
	}
	return &Prefetcher{
		cache:     cache,
		workers:   workers,
		lookahead: lookahead,
		plans:     make(map[string]context.CancelFunc),
	}
}

// Plan schedules the lookahead window after fromIndex for a session's
// stream, replacing any prior plan. chunkCount bounds the window at the
// track end.
func (p *Prefetcher) Plan(session string, stream track.StreamKey, enhanced bool, fromIndex, chunkCount int) {
	p.mu.Lock()
	if cancel, ok := p.plans[session]; ok {
		cancel()
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.plans[session] = cancel
	p.mu.Unlock()

	keys := make([]track.ChunkKey, 0, p.lookahead)
	for i := fromIndex + 1; i <= fromIndex+p.lookahead && i < chunkCount; i++ {
		keys = append(keys, track.ChunkKey{
			TrackID:   stream.TrackID,
			Index:     i,
			Preset:    stream.Preset,
			Intensity: stream.Intensity,
			Enhanced:  enhanced,
		})
	}
	if len(keys) == 0 {
		cancel()
		return
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer cancel()
		p.run(ctx, keys)
	}()
}

// run builds the planned keys in index order with bounded concurrency.
// Overload and cancellation are expected outcomes, not failures: the live
// path rebuilds anything prefetch skipped.
func (p *Prefetcher) run(ctx context.Context, keys []track.ChunkKey) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for _, key := range keys {
		key := key
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			if err := p.cache.Prefetch(gctx, key); err != nil {
				if gctx.Err() == nil && processor.ErrorCode(err) != processor.CodeOverloaded {
					log.Debug("prefetch failed", "key", key.String(), "err", err)
				}
			}
			return nil
		})
	}
	g.Wait()
}

// Cancel drops the session's active plan, if any.
func (p *Prefetcher) Cancel(session string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if cancel, ok := p.plans[session]; ok {
		cancel()
		delete(p.plans, session)
	}
}

// Close cancels all plans and waits for outstanding workers.
func (p *Prefetcher) Close() {
	p.mu.Lock()
	for session, cancel := range p.plans {
		cancel()
		delete(p.plans, session)
	}
	p.mu.Unlock()
	p.wg.Wait()
}
