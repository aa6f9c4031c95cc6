// Package cache provides the tiered chunk cache: Hot entries pinned for
// active sessions, Predictive entries produced by the prefetch scheduler,
// and a Full per-track tier optionally persisted to disk. Tiers differ in
// retention priority, not storage technology.
package cache

import (
	"time"

	"github.com/jfelder/masterstream/pkg/track"
)

// Tier is a cache retention class.
type Tier int

const (
	// TierHot holds the active session's current and next chunks.
	// Never evicted while its session is active.
	TierHot Tier = iota

	// TierPredictive holds prefetched chunks, evicted first under pressure.
	TierPredictive

	// TierFull holds complete per-track caches, bounded by a track-count LRU.
	TierFull

	// TierNone marks a fresh build that came from no tier.
	TierNone
)

// String returns the tier name for logs and response metadata.
func (t Tier) String() string {
	switch t {
	case TierHot:
		return "hot"
	case TierPredictive:
		return "predictive"
	case TierFull:
		return "full"
	default:
		return "none"
	}
}

// Entry is one immutable cached chunk. Re-processing the same key produces
// a new Entry; a live Entry is never mutated in place.
type Entry struct {
	Key             track.ChunkKey
	Bytes           []byte
	SampleCount     int
	CrossfadeFrames int64
	Codec           string
	ProducedAt      time.Time
	Tier            Tier
	Size            int64
}

// withTier returns a shallow copy placed in another tier, preserving the
// immutability of the original.
func (e *Entry) withTier(t Tier) *Entry {
	c := *e
	c.Tier = t
	return &c
}

// Lookup describes how a Resolve was served, for response metadata.
type Lookup struct {
	Tier    Tier
	Hit     bool
	Built   bool
	Elapsed time.Duration
}

// Stats holds cache counters.
type Stats struct {
	Hits           int64 `json:"hits"`
	Misses         int64 `json:"misses"`
	HotHits        int64 `json:"hot_hits"`
	PredictiveHits int64 `json:"predictive_hits"`
	FullHits       int64 `json:"full_hits"`
	DiskHits       int64 `json:"disk_hits"`
	Builds         int64 `json:"builds"`
	Coalesced      int64 `json:"coalesced"`
	Evictions      int64 `json:"evictions"`
	Corruptions    int64 `json:"corruptions"`
	Prefetches     int64 `json:"prefetches"`
}
