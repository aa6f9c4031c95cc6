package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jfelder/masterstream/pkg/processor"
	"github.com/jfelder/masterstream/pkg/track"
)

// countingBuilder stands in for the processor and counts real builds.
type countingBuilder struct {
	builds atomic.Int32
	delay  time.Duration
	err    error
}

func (b *countingBuilder) GetChunk(ctx context.Context, key track.ChunkKey) (*processor.Result, error) {
	b.builds.Add(1)
	if b.delay > 0 {
		select {
		case <-time.After(b.delay):
		case <-ctx.Done():
			return nil, processor.NewProcessingError(processor.CodeTimeout, "cancelled", true, ctx.Err())
		}
	}
	if b.err != nil {
		return nil, b.err
	}
	payload := []byte(key.String())
	return &processor.Result{
		Bytes:       payload,
		SampleCount: len(payload),
		Codec:       "pcm16",
	}, nil
}

func cacheStore() track.Store {
	s := track.NewToneStore()
	s.AddTone("song", 8000, 2, 16000)
	return s
}

func newTestCache(t *testing.T, builder Builder, cfg Config) *TierCache {
	t.Helper()
	c, err := New(builder, cacheStore(), cfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func cacheKey(index int, enhanced bool) track.ChunkKey {
	return track.ChunkKey{TrackID: "song", Index: index, Preset: "warm", Intensity: 1.0, Enhanced: enhanced}
}

func TestResolveBuildsThenHitsHot(t *testing.T) {
	builder := &countingBuilder{}
	c := newTestCache(t, builder, DefaultConfig())

	_, lookup, err := c.Resolve(context.Background(), cacheKey(0, true), "sess-1")
	if err != nil {
		t.Fatal(err)
	}
	if !lookup.Built {
		t.Error("first resolve must build")
	}

	entry, lookup, err := c.Resolve(context.Background(), cacheKey(0, true), "sess-1")
	if err != nil {
		t.Fatal(err)
	}
	if !lookup.Hit || lookup.Tier != TierHot {
		t.Errorf("second resolve: got tier %v hit=%v, want hot hit", lookup.Tier, lookup.Hit)
	}
	if entry == nil || len(entry.Bytes) == 0 {
		t.Fatal("hit returned empty entry")
	}
	if builder.builds.Load() != 1 {
		t.Errorf("got %d builds, want 1", builder.builds.Load())
	}
}

func TestConcurrentResolvesBuildOnce(t *testing.T) {
	builder := &countingBuilder{delay: 50 * time.Millisecond}
	c := newTestCache(t, builder, DefaultConfig())

	const callers = 16
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, errs[i] = c.Resolve(context.Background(), cacheKey(0, true), "sess-1")
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("caller %d: %v", i, err)
		}
	}
	if builder.builds.Load() != 1 {
		t.Errorf("got %d builds for one key, want 1", builder.builds.Load())
	}
}

func TestEnhancedAndBypassCacheSeparately(t *testing.T) {
	builder := &countingBuilder{}
	c := newTestCache(t, builder, DefaultConfig())

	if _, _, err := c.Resolve(context.Background(), cacheKey(0, true), "s"); err != nil {
		t.Fatal(err)
	}
	if _, _, err := c.Resolve(context.Background(), cacheKey(0, false), "s"); err != nil {
		t.Fatal(err)
	}
	if builder.builds.Load() != 2 {
		t.Errorf("got %d builds, want 2 (enhanced and bypass are distinct entries)", builder.builds.Load())
	}
}

func TestCloseIntensitiesCacheSeparately(t *testing.T) {
	builder := &countingBuilder{}
	c := newTestCache(t, builder, DefaultConfig())

	softer := cacheKey(0, true)
	softer.Intensity = 0.121
	louder := cacheKey(0, true)
	louder.Intensity = 0.124

	if _, _, err := c.Resolve(context.Background(), softer, "s"); err != nil {
		t.Fatal(err)
	}
	entry, lookup, err := c.Resolve(context.Background(), louder, "s")
	if err != nil {
		t.Fatal(err)
	}
	if lookup.Hit {
		t.Errorf("second resolve hit tier %v; intensities 0.121 and 0.124 must be distinct entries", lookup.Tier)
	}
	if entry.Key.Intensity != 0.124 {
		t.Errorf("got entry for intensity %v, want 0.124", entry.Key.Intensity)
	}
	if builder.builds.Load() != 2 {
		t.Errorf("got %d builds, want 2", builder.builds.Load())
	}
}

func TestPrefetchFillsPredictive(t *testing.T) {
	builder := &countingBuilder{}
	c := newTestCache(t, builder, DefaultConfig())

	if err := c.Prefetch(context.Background(), cacheKey(1, true)); err != nil {
		t.Fatal(err)
	}
	if builder.builds.Load() != 1 {
		t.Fatalf("prefetch did not build: %d builds", builder.builds.Load())
	}

	_, lookup, err := c.Resolve(context.Background(), cacheKey(1, true), "sess-1")
	if err != nil {
		t.Fatal(err)
	}
	if !lookup.Hit || lookup.Tier != TierPredictive {
		t.Errorf("got tier %v hit=%v, want predictive hit", lookup.Tier, lookup.Hit)
	}
	if builder.builds.Load() != 1 {
		t.Errorf("resolve after prefetch rebuilt: %d builds", builder.builds.Load())
	}

	// Prefetching something already cached is a no-op.
	if err := c.Prefetch(context.Background(), cacheKey(1, true)); err != nil {
		t.Fatal(err)
	}
	if builder.builds.Load() != 1 {
		t.Errorf("redundant prefetch rebuilt: %d builds", builder.builds.Load())
	}
}

func TestReleaseDemotesToPredictive(t *testing.T) {
	builder := &countingBuilder{}
	cfg := DefaultConfig()
	cfg.HotGrace = 50 * time.Millisecond
	c := newTestCache(t, builder, cfg)

	if _, _, err := c.Resolve(context.Background(), cacheKey(0, true), "sess-1"); err != nil {
		t.Fatal(err)
	}
	c.ReleaseSession("sess-1")

	// The janitor runs at second granularity; wait out one full sweep.
	deadline := time.Now().Add(3 * time.Second)
	for {
		c.mu.Lock()
		demoted := len(c.hot) == 0 && c.predictive.contains(cacheKey(0, true).String())
		c.mu.Unlock()
		if demoted {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("entry never demoted after release grace")
		}
		time.Sleep(20 * time.Millisecond)
	}

	// A later session gets it without a rebuild.
	_, lookup, err := c.Resolve(context.Background(), cacheKey(0, true), "sess-2")
	if err != nil {
		t.Fatal(err)
	}
	if !lookup.Hit {
		t.Error("demoted entry should still hit")
	}
	if builder.builds.Load() != 1 {
		t.Errorf("got %d builds, want 1", builder.builds.Load())
	}
}

func TestBuildErrorPropagates(t *testing.T) {
	wantErr := processor.NewProcessingError(processor.CodeSourceUnreadable, "gone", false, nil)
	builder := &countingBuilder{err: wantErr}
	c := newTestCache(t, builder, DefaultConfig())

	_, _, err := c.Resolve(context.Background(), cacheKey(0, true), "s")
	if err == nil {
		t.Fatal("expected build error")
	}
	var pe *processor.ProcessingError
	if !errors.As(err, &pe) || pe.Code != processor.CodeSourceUnreadable {
		t.Errorf("got %v, want source_unreadable", err)
	}
	// Failures are not cached.
	c.Resolve(context.Background(), cacheKey(0, true), "s")
	if builder.builds.Load() != 2 {
		t.Errorf("got %d builds, want 2 (errors must not be cached)", builder.builds.Load())
	}
}

func TestInvalidateDropsTrack(t *testing.T) {
	builder := &countingBuilder{}
	c := newTestCache(t, builder, DefaultConfig())

	if _, _, err := c.Resolve(context.Background(), cacheKey(0, true), "s"); err != nil {
		t.Fatal(err)
	}
	c.Invalidate("song")
	_, lookup, err := c.Resolve(context.Background(), cacheKey(0, true), "s")
	if err != nil {
		t.Fatal(err)
	}
	if lookup.Hit {
		t.Error("invalidated entry must rebuild")
	}
	if builder.builds.Load() != 2 {
		t.Errorf("got %d builds, want 2", builder.builds.Load())
	}
}

func TestStatsCounters(t *testing.T) {
	builder := &countingBuilder{}
	c := newTestCache(t, builder, DefaultConfig())

	c.Resolve(context.Background(), cacheKey(0, true), "s")
	c.Resolve(context.Background(), cacheKey(0, true), "s")

	stats := c.Stats()
	if stats.Builds != 1 {
		t.Errorf("builds: got %d, want 1", stats.Builds)
	}
	if stats.Misses != 1 {
		t.Errorf("misses: got %d, want 1", stats.Misses)
	}
	if stats.Hits != 1 || stats.HotHits != 1 {
		t.Errorf("hits: got %d (hot %d), want 1 hot hit", stats.Hits, stats.HotHits)
	}
}
