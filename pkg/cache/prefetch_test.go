package cache

import (
	"context"
	"testing"
	"time"

	"github.com/jfelder/masterstream/pkg/track"
)

func waitForBuilds(t *testing.T, b *countingBuilder, want int32) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for b.builds.Load() < want {
		if time.Now().After(deadline) {
			t.Fatalf("got %d builds, want %d", b.builds.Load(), want)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestPrefetcherWarmsLookahead(t *testing.T) {
	builder := &countingBuilder{}
	c := newTestCache(t, builder, DefaultConfig())
	pf := NewPrefetcher(c, 2, 3)
	defer pf.Close()

	stream := track.StreamKey{TrackID: "song", Preset: "warm", Intensity: 1.0}
	pf.Plan("sess-1", stream, true, 0, 10)

	// Chunks 1, 2 and 3 get built ahead.
	waitForBuilds(t, builder, 3)

	_, lookup, err := c.Resolve(context.Background(), cacheKey(1, true), "sess-1")
	if err != nil {
		t.Fatal(err)
	}
	if !lookup.Hit || lookup.Tier != TierPredictive {
		t.Errorf("got tier %v hit=%v, want predictive hit", lookup.Tier, lookup.Hit)
	}
}

func TestPrefetcherClampsAtTrackEnd(t *testing.T) {
	builder := &countingBuilder{}
	c := newTestCache(t, builder, DefaultConfig())
	pf := NewPrefetcher(c, 2, 3)
	defer pf.Close()

	stream := track.StreamKey{TrackID: "song", Preset: "warm", Intensity: 1.0}
	// From the penultimate chunk only one follower exists.
	pf.Plan("sess-1", stream, true, 8, 10)
	waitForBuilds(t, builder, 1)
	pf.Close()
	if builder.builds.Load() != 1 {
		t.Errorf("got %d builds, want 1", builder.builds.Load())
	}
}

func TestPrefetcherReplanCancelsOldPlan(t *testing.T) {
	builder := &countingBuilder{delay: 30 * time.Millisecond}
	c := newTestCache(t, builder, DefaultConfig())
	pf := NewPrefetcher(c, 1, 3)
	defer pf.Close()

	stream := track.StreamKey{TrackID: "song", Preset: "warm", Intensity: 1.0}
	pf.Plan("sess-1", stream, true, 0, 10)
	// Immediately replan (a seek): the old window should stop building.
	pf.Plan("sess-1", stream, true, 5, 10)
	pf.Close()

	// Everything built must belong to one of the two windows.
	if n := builder.builds.Load(); n > 6 {
		t.Errorf("got %d builds, want at most 6", n)
	}
}

func TestPrefetcherCancel(t *testing.T) {
	builder := &countingBuilder{delay: 50 * time.Millisecond}
	c := newTestCache(t, builder, DefaultConfig())
	pf := NewPrefetcher(c, 1, 3)
	defer pf.Close()

	stream := track.StreamKey{TrackID: "song", Preset: "warm", Intensity: 1.0}
	pf.Plan("sess-1", stream, true, 0, 10)
	pf.Cancel("sess-1")
	pf.Close()

	if n := builder.builds.Load(); n > 3 {
		t.Errorf("cancelled plan still built %d chunks", n)
	}
}
