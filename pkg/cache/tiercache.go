package cache

import (
	"container/list"
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/jfelder/masterstream/internal/log"
	"github.com/jfelder/masterstream/pkg/processor"
	"github.com/jfelder/masterstream/pkg/track"
)

// Builder produces a chunk on a total cache miss. *processor.Processor
// satisfies this; tests substitute counting stubs.
type Builder interface {
	GetChunk(ctx context.Context, key track.ChunkKey) (*processor.Result, error)
}

// Config holds cache tuning.
type Config struct {
	// HotGrace is how long a released session's Hot entries stay pinned
	// before demotion to Predictive.
	HotGrace time.Duration

	// PredictiveBytes bounds the Predictive tier.
	PredictiveBytes int64

	// FullTracks bounds the Full tier to the N most recently used tracks.
	FullTracks int

	// Dir enables the disk-backed Full tier when non-empty.
	Dir string
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		HotGrace:        30 * time.Second,
		PredictiveBytes: 64 * 1024 * 1024,
		FullTracks:      4,
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.PredictiveBytes <= 0 {
		return fmt.Errorf("predictive_bytes must be positive, got %d", c.PredictiveBytes)
	}
	if c.FullTracks <= 0 {
		return fmt.Errorf("full_tracks must be positive, got %d", c.FullTracks)
	}
	if c.HotGrace < 0 {
		return fmt.Errorf("hot_grace must not be negative, got %v", c.HotGrace)
	}
	return nil
}

// TierCache is the process-wide chunk cache shared by all sessions.
// Resolve never returns without a hit, a freshly built entry, or an error;
// concurrent resolves for one key share a single in-flight build.
type TierCache struct {
	cfg     Config
	builder Builder
	store   track.Store
	disk    *DiskStore

	mu         sync.Mutex
	hot        map[string]*hotEntry
	predictive *lruTier
	full       *fullTier

	group singleflight.Group

	stats statCounters

	stop     chan struct{}
	stopOnce sync.Once
}

type hotEntry struct {
	entry    *Entry
	session  string
	released time.Time // zero while the session is active
}

type statCounters struct {
	hits, misses                       atomic.Int64
	hotHits, predictiveHits, fullHits  atomic.Int64
	diskHits, builds, coalesced        atomic.Int64
	evictions, corruptions, prefetches atomic.Int64
}

// New creates a TierCache. The store is consulted for source signatures
// when the disk tier is enabled. Close releases the demotion janitor.
func New(builder Builder, store track.Store, cfg Config) (*TierCache, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("cache: %w", err)
	}
	c := &TierCache{
		cfg:        cfg,
		builder:    builder,
		store:      store,
		hot:        make(map[string]*hotEntry),
		predictive: newLRUTier(cfg.PredictiveBytes),
		full:       newFullTier(cfg.FullTracks),
		stop:       make(chan struct{}),
	}
	if cfg.Dir != "" {
		disk, err := NewDiskStore(cfg.Dir)
		if err != nil {
			return nil, err
		}
		c.disk = disk
	}
	go c.demoteLoop()
	return c, nil
}

// Close stops the demotion janitor.
func (c *TierCache) Close() error {
	c.stopOnce.Do(func() { close(c.stop) })
	return nil
}

// Resolve returns the entry for a key, serving from Hot, then Predictive,
// then Full (memory, then disk), building on a total miss. session pins the
// result in the Hot tier until ReleaseSession.
func (c *TierCache) Resolve(ctx context.Context, key track.ChunkKey, session string) (*Entry, Lookup, error) {
	start := time.Now()
	id := key.String()

	c.mu.Lock()
	if he, ok := c.hot[id]; ok {
		// Re-pin for the current session.
		he.session = session
		he.released = time.Time{}
		entry := he.entry
		c.mu.Unlock()
		c.stats.hits.Add(1)
		c.stats.hotHits.Add(1)
		return entry, Lookup{Tier: TierHot, Hit: true, Elapsed: time.Since(start)}, nil
	}
	if entry, ok := c.predictive.take(id); ok {
		// Promote: the entry moves to Hot for the active session.
		c.insertHotLocked(id, entry.withTier(TierHot), session)
		c.mu.Unlock()
		c.stats.hits.Add(1)
		c.stats.predictiveHits.Add(1)
		return entry, Lookup{Tier: TierPredictive, Hit: true, Elapsed: time.Since(start)}, nil
	}
	if entry, ok := c.full.get(key); ok {
		c.insertHotLocked(id, entry.withTier(TierHot), session)
		c.mu.Unlock()
		c.stats.hits.Add(1)
		c.stats.fullHits.Add(1)
		return entry, Lookup{Tier: TierFull, Hit: true, Elapsed: time.Since(start)}, nil
	}
	c.mu.Unlock()

	if entry, ok := c.diskGet(key); ok {
		c.mu.Lock()
		c.insertHotLocked(id, entry.withTier(TierHot), session)
		c.full.put(entry.withTier(TierFull), &c.stats)
		c.mu.Unlock()
		c.stats.hits.Add(1)
		c.stats.diskHits.Add(1)
		return entry, Lookup{Tier: TierFull, Hit: true, Elapsed: time.Since(start)}, nil
	}

	c.stats.misses.Add(1)
	entry, err := c.build(ctx, key, func(e *Entry) {
		c.mu.Lock()
		c.insertHotLocked(id, e.withTier(TierHot), session)
		c.full.put(e.withTier(TierFull), &c.stats)
		c.mu.Unlock()
	})
	if err != nil {
		return nil, Lookup{Elapsed: time.Since(start)}, err
	}
	return entry, Lookup{Tier: TierNone, Built: true, Elapsed: time.Since(start)}, nil
}

// Prefetch builds a key into the Predictive tier if it is not cached
// anywhere. Prefetch shares in-flight builds with Resolve.
func (c *TierCache) Prefetch(ctx context.Context, key track.ChunkKey) error {
	id := key.String()
	c.mu.Lock()
	_, inHot := c.hot[id]
	inPredictive := c.predictive.contains(id)
	_, inFull := c.full.get(key)
	c.mu.Unlock()
	if inHot || inPredictive || inFull {
		return nil
	}
	if _, ok := c.diskGet(key); ok {
		return nil
	}

	c.stats.prefetches.Add(1)
	_, err := c.build(ctx, key, func(e *Entry) {
		c.mu.Lock()
		c.predictive.put(id, e.withTier(TierPredictive), &c.stats)
		c.full.put(e.withTier(TierFull), &c.stats)
		c.mu.Unlock()
	})
	return err
}

// build coalesces concurrent requests for one key into a single processor
// invocation; every caller receives the same entry.
func (c *TierCache) build(ctx context.Context, key track.ChunkKey, place func(*Entry)) (*Entry, error) {
	id := key.String()
	ch := c.group.DoChan(id, func() (interface{}, error) {
		c.stats.builds.Add(1)
		res, err := c.builder.GetChunk(ctx, key)
		if err != nil {
			return nil, err
		}
		entry := &Entry{
			Key:             key,
			Bytes:           res.Bytes,
			SampleCount:     res.SampleCount,
			CrossfadeFrames: res.CrossfadeFrames,
			Codec:           res.Codec,
			ProducedAt:      time.Now(),
			Size:            int64(len(res.Bytes)),
		}
		place(entry)
		c.diskPut(entry)
		return entry, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			c.stats.coalesced.Add(1)
		}
		return res.Val.(*Entry), nil
	case <-ctx.Done():
		// The build keeps running for other waiters; this caller times out.
		return nil, processor.NewProcessingError(processor.CodeTimeout, "chunk build timed out", true, ctx.Err())
	}
}

// insertHotLocked pins an entry for a session. c.mu must be held.
func (c *TierCache) insertHotLocked(id string, entry *Entry, session string) {
	c.hot[id] = &hotEntry{entry: entry, session: session}
}

// ReleaseSession starts the demotion grace period for a session's Hot
// entries. After the grace they move to Predictive.
func (c *TierCache) ReleaseSession(session string) {
	now := time.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, he := range c.hot {
		if he.session == session && he.released.IsZero() {
			he.released = now
		}
	}
}

// Invalidate removes every cached chunk of a track (source file changed).
func (c *TierCache) Invalidate(trackID string) {
	c.mu.Lock()
	for id, he := range c.hot {
		if he.entry.Key.TrackID == trackID {
			delete(c.hot, id)
		}
	}
	c.predictive.invalidateTrack(trackID)
	c.full.invalidate(trackID)
	c.mu.Unlock()
	if c.disk != nil {
		if err := c.disk.InvalidateTrack(trackID); err != nil {
			log.Warn("disk cache invalidation failed", "track", trackID, "err", err)
		}
	}
}

// demoteLoop moves Hot entries of inactive sessions to Predictive after the
// grace period. The entry data moves with the tier transition.
func (c *TierCache) demoteLoop() {
	interval := c.cfg.HotGrace / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-c.cfg.HotGrace)
			c.mu.Lock()
			for id, he := range c.hot {
				if !he.released.IsZero() && he.released.Before(cutoff) {
					delete(c.hot, id)
					c.predictive.put(id, he.entry.withTier(TierPredictive), &c.stats)
				}
			}
			c.mu.Unlock()
		}
	}
}

func (c *TierCache) diskGet(key track.ChunkKey) (*Entry, bool) {
	if c.disk == nil {
		return nil, false
	}
	sig, ok := c.sourceSig(key.TrackID)
	if !ok {
		return nil, false
	}
	entry, err := c.disk.Get(key, sig)
	if err != nil {
		if err == errSignatureMismatch || err == errCorruptFile {
			c.stats.corruptions.Add(1)
			log.Warn("disk cache entry invalid, rebuilt", "key", key.String(), "err", err)
		}
		return nil, false
	}
	return entry, entry != nil
}

func (c *TierCache) diskPut(entry *Entry) {
	if c.disk == nil {
		return
	}
	sig, ok := c.sourceSig(entry.Key.TrackID)
	if !ok {
		return
	}
	// Write-through is asynchronous, per the glow-tts disk tier: a slow disk
	// must not delay live chunk delivery.
	go func() {
		if err := c.disk.Put(entry, sig); err != nil {
			log.Warn("disk cache write failed", "key", entry.Key.String(), "err", err)
		}
	}()
}

func (c *TierCache) sourceSig(trackID string) (track.Signature, bool) {
	meta, err := c.store.Track(trackID)
	if err != nil {
		return track.Signature{}, false
	}
	return meta.Sig, true
}

// Stats returns a snapshot of the cache counters.
func (c *TierCache) Stats() Stats {
	return Stats{
		Hits:           c.stats.hits.Load(),
		Misses:         c.stats.misses.Load(),
		HotHits:        c.stats.hotHits.Load(),
		PredictiveHits: c.stats.predictiveHits.Load(),
		FullHits:       c.stats.fullHits.Load(),
		DiskHits:       c.stats.diskHits.Load(),
		Builds:         c.stats.builds.Load(),
		Coalesced:      c.stats.coalesced.Load(),
		Evictions:      c.stats.evictions.Load(),
		Corruptions:    c.stats.corruptions.Load(),
		Prefetches:     c.stats.prefetches.Load(),
	}
}

// lruTier is a byte-bounded LRU map used for the Predictive tier.
type lruTier struct {
	capacity int64
	size     int64
	items    map[string]*list.Element
	eviction *list.List
}

type lruItem struct {
	id    string
	entry *Entry
}

func newLRUTier(capacity int64) *lruTier {
	return &lruTier{
		capacity: capacity,
		items:    make(map[string]*list.Element),
		eviction: list.New(),
	}
}

func (t *lruTier) contains(id string) bool {
	_, ok := t.items[id]
	return ok
}

// take removes and returns an entry (promotion to Hot moves it out).
func (t *lruTier) take(id string) (*Entry, bool) {
	elem, ok := t.items[id]
	if !ok {
		return nil, false
	}
	item := elem.Value.(*lruItem)
	t.eviction.Remove(elem)
	delete(t.items, id)
	t.size -= item.entry.Size
	return item.entry, true
}

func (t *lruTier) put(id string, entry *Entry, stats *statCounters) {
	if elem, ok := t.items[id]; ok {
		old := elem.Value.(*lruItem)
		t.size += entry.Size - old.entry.Size
		old.entry = entry
		t.eviction.MoveToFront(elem)
		return
	}
	if entry.Size > t.capacity {
		return
	}
	for t.size+entry.Size > t.capacity && t.eviction.Len() > 0 {
		oldest := t.eviction.Back()
		item := oldest.Value.(*lruItem)
		t.eviction.Remove(oldest)
		delete(t.items, item.id)
		t.size -= item.entry.Size
		if stats != nil {
			stats.evictions.Add(1)
		}
	}
	t.items[id] = t.eviction.PushFront(&lruItem{id: id, entry: entry})
	t.size += entry.Size
}

func (t *lruTier) invalidateTrack(trackID string) {
	for id, elem := range t.items {
		item := elem.Value.(*lruItem)
		if item.entry.Key.TrackID == trackID {
			t.eviction.Remove(elem)
			delete(t.items, id)
			t.size -= item.entry.Size
		}
	}
}

// fullTier retains complete per-track caches for the N most recently used
// tracks.
type fullTier struct {
	maxTracks int
	tracks    map[string]*trackCache
	recency   *list.List // track IDs, most recent at front
}

type trackCache struct {
	entries map[string]*Entry
	elem    *list.Element
}

func newFullTier(maxTracks int) *fullTier {
	return &fullTier{
		maxTracks: maxTracks,
		tracks:    make(map[string]*trackCache),
		recency:   list.New(),
	}
}

func (t *fullTier) get(key track.ChunkKey) (*Entry, bool) {
	tc, ok := t.tracks[key.TrackID]
	if !ok {
		return nil, false
	}
	entry, ok := tc.entries[key.String()]
	if ok {
		t.recency.MoveToFront(tc.elem)
	}
	return entry, ok
}

func (t *fullTier) put(entry *Entry, stats *statCounters) {
	id := entry.Key.TrackID
	tc, ok := t.tracks[id]
	if !ok {
		for len(t.tracks) >= t.maxTracks && t.recency.Len() > 0 {
			oldest := t.recency.Back()
			victim := oldest.Value.(string)
			t.recency.Remove(oldest)
			delete(t.tracks, victim)
			if stats != nil {
				stats.evictions.Add(1)
			}
		}
		tc = &trackCache{entries: make(map[string]*Entry)}
		tc.elem = t.recency.PushFront(id)
		t.tracks[id] = tc
	} else {
		t.recency.MoveToFront(tc.elem)
	}
	tc.entries[entry.Key.String()] = entry
}

func (t *fullTier) invalidate(trackID string) {
	if tc, ok := t.tracks[trackID]; ok {
		t.recency.Remove(tc.elem)
		delete(t.tracks, trackID)
	}
}
