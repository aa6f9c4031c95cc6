// Package processor turns chunk keys into encoded audio. It owns the
// per-stream DSP contexts and the overlap crossfade that keeps adjacent
// chunks acoustically continuous.
package processor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jfelder/masterstream/internal/log"
	"github.com/jfelder/masterstream/pkg/dsp"
	"github.com/jfelder/masterstream/pkg/pcm"
	"github.com/jfelder/masterstream/pkg/track"
)

// Config holds processor tuning.
type Config struct {
	// ChunkSeconds is the core chunk duration.
	ChunkSeconds float64

	// OverlapMillis is the crossfade overlap between adjacent chunks.
	OverlapMillis int

	// ContextTTL is how long an idle stream keeps its DSP context.
	ContextTTL time.Duration

	// MaxConcurrent bounds simultaneous chunk builds across all streams.
	MaxConcurrent int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		ChunkSeconds:  5.0,
		OverlapMillis: 100,
		ContextTTL:    2 * time.Minute,
		MaxConcurrent: 8,
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.ChunkSeconds <= 0 {
		return fmt.Errorf("chunk_seconds must be positive, got %v", c.ChunkSeconds)
	}
	if c.OverlapMillis < 0 || float64(c.OverlapMillis)/1000 >= c.ChunkSeconds {
		return fmt.Errorf("overlap %dms must be shorter than chunk %vs", c.OverlapMillis, c.ChunkSeconds)
	}
	if c.MaxConcurrent <= 0 {
		return fmt.Errorf("max_concurrent must be positive, got %d", c.MaxConcurrent)
	}
	return nil
}

// ChunkFrames returns the core chunk length in frames at a sample rate.
func (c *Config) ChunkFrames(sampleRate int) int64 {
	return int64(c.ChunkSeconds * float64(sampleRate))
}

// OverlapFrames returns the overlap length in frames at a sample rate.
func (c *Config) OverlapFrames(sampleRate int) int64 {
	return int64(c.OverlapMillis) * int64(sampleRate) / 1000
}

// Result is one processed, encoded chunk.
type Result struct {
	Bytes           []byte
	SampleCount     int   // interleaved samples in the encoded payload
	CrossfadeFrames int64 // frames blended at the chunk head
	Codec           string
}

// EngineFactory builds a DSP engine for a preset/intensity at a stream shape.
// Production uses dsp.NewMasteringChain; tests substitute counting stubs.
type EngineFactory func(preset string, intensity float64, sampleRate, channels int) (dsp.Engine, error)

// Processor produces encoded chunks from raw track samples. Access to one
// stream's DSP context is serialized per (track, preset, intensity) key;
// streams for different keys proceed independently.
type Processor struct {
	store   track.Store
	codec   pcm.Codec
	cfg     Config
	engines EngineFactory

	mu      sync.Mutex
	streams map[track.StreamKey]*streamState

	// Build capacity; acquired for the duration of one GetChunk.
	slots chan struct{}

	stop     chan struct{}
	stopOnce sync.Once
}

// streamState is the single-owner state of one DSP stream. Its mutex keeps
// chunk requests for the same key from interleaving against the same context.
type streamState struct {
	mu sync.Mutex

	engine dsp.Engine
	ctx    *dsp.Context

	// carry holds the previous window's processed trailing overlap, the
	// blend material for the next chunk's head.
	carry []float64

	nextIndex int
	lastUsed  time.Time
}

// New creates a Processor. Close releases the idle-context janitor.
func New(store track.Store, codec pcm.Codec, cfg Config) (*Processor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("processor: %w", err)
	}
	p := &Processor{
		store:   store,
		codec:   codec,
		cfg:     cfg,
		engines: defaultEngineFactory,
		streams: make(map[track.StreamKey]*streamState),
		slots:   make(chan struct{}, cfg.MaxConcurrent),
		stop:    make(chan struct{}),
	}
	go p.reapLoop()
	return p, nil
}

// SetEngineFactory overrides engine construction (tests).
func (p *Processor) SetEngineFactory(f EngineFactory) {
	p.engines = f
}

func defaultEngineFactory(preset string, intensity float64, sampleRate, channels int) (dsp.Engine, error) {
	return dsp.NewMasteringChain(preset, intensity, sampleRate, channels)
}

// Close stops the context janitor.
func (p *Processor) Close() error {
	p.stopOnce.Do(func() { close(p.stop) })
	return nil
}

// GetChunk produces the encoded audio for a chunk key.
//
// Failure modes: unreadable source samples are fatal for the key and not
// retried here; a DSP failure is retried once against a fresh context before
// being declared fatal; exhausted build capacity returns an Overloaded error
// the caller should back off from.
func (p *Processor) GetChunk(ctx context.Context, key track.ChunkKey) (*Result, error) {
	select {
	case p.slots <- struct{}{}:
		defer func() { <-p.slots }()
	default:
		// All build slots busy; wait briefly before declaring overload.
		wait := time.NewTimer(200 * time.Millisecond)
		defer wait.Stop()
		select {
		case p.slots <- struct{}{}:
			defer func() { <-p.slots }()
		case <-wait.C:
			return nil, NewProcessingError(CodeOverloaded, "processing capacity exhausted", true, ErrOverloaded)
		case <-ctx.Done():
			return nil, NewProcessingError(CodeTimeout, "chunk request cancelled", true, ctx.Err())
		}
	}

	meta, err := p.store.Track(key.TrackID)
	if err != nil {
		return nil, NewProcessingError(CodeSourceUnreadable, "track unavailable", false, err)
	}

	win, err := track.WindowFor(key.Index, p.cfg.ChunkFrames(meta.SampleRate), p.cfg.OverlapFrames(meta.SampleRate), meta.TotalFrames)
	if err != nil {
		return nil, NewProcessingError(CodeProtocolViolation, "chunk index out of range", false, err)
	}

	raw, err := p.store.ReadFrames(ctx, key.TrackID, win.Start, win.Length)
	if err != nil {
		if ctx.Err() != nil {
			return nil, NewProcessingError(CodeTimeout, "chunk request cancelled", true, err)
		}
		return nil, NewProcessingError(CodeSourceUnreadable, "source samples unreadable", false, err)
	}

	if !key.Enhanced {
		// Original audio bypasses the DSP chain but still chunks and encodes.
		return p.encode(raw[:win.Core*int64(meta.Channels)], 0, meta)
	}

	st := p.stream(key.Stream())
	st.mu.Lock()
	defer st.mu.Unlock()
	st.lastUsed = time.Now()

	out, crossfade, err := p.processLocked(st, key, meta, win, raw)
	if err != nil {
		// A corrupted context poisons every later chunk of the stream, so
		// retry once from scratch before giving up on the key.
		log.Warn("dsp failed, retrying with fresh context",
			"track", key.TrackID, "chunk", key.Index, "preset", key.Preset, "err", err)
		st.reset()
		out, crossfade, err = p.processLocked(st, key, meta, win, raw)
		if err != nil {
			return nil, NewProcessingError(CodeDspFailure, "dsp processing failed", false, err)
		}
	}
	return p.encode(out, crossfade, meta)
}

// processLocked runs the DSP chain for one window. st.mu must be held.
func (p *Processor) processLocked(st *streamState, key track.ChunkKey, meta *track.Track, win track.Window, raw []float64) ([]float64, int64, error) {
	if st.engine == nil || st.ctx == nil || st.nextIndex != key.Index {
		// First chunk of the stream, or the request broke index continuity
		// (seek): start from a fresh context. The head of this chunk has no
		// blend material, which is fine since playback restarts there.
		if err := st.rebuild(p.engines, key, meta); err != nil {
			return nil, 0, err
		}
	}

	samples := make([]float64, len(raw))
	copy(samples, raw)
	if err := st.engine.Process(samples, st.ctx); err != nil {
		return nil, 0, err
	}

	coreSamples := win.Core * int64(meta.Channels)
	out := samples[:coreSamples]

	// Blend the previous window's trailing overlap into this chunk's head.
	var crossfade int64
	if st.carry != nil && int64(len(st.carry)) <= coreSamples {
		pcm.CrossfadeInto(st.carry, out[:len(st.carry)], meta.Channels)
		crossfade = int64(len(st.carry)) / int64(meta.Channels)
	}

	// Retain this window's trailing overlap for the next chunk.
	if win.Overlap > 0 {
		tail := samples[coreSamples : coreSamples+win.Overlap*int64(meta.Channels)]
		st.carry = append([]float64(nil), tail...)
	} else {
		st.carry = nil
	}
	st.nextIndex = key.Index + 1
	return out, crossfade, nil
}

// encode converts processed samples to the transport format.
func (p *Processor) encode(samples []float64, crossfade int64, meta *track.Track) (*Result, error) {
	ints := pcm.Float64ToInt16(samples)
	data, err := p.codec.Encode(ints, meta.SampleRate, meta.Channels)
	if err != nil {
		return nil, NewProcessingError(CodeInternal, "chunk encoding failed", false, err)
	}
	return &Result{
		Bytes:           data,
		SampleCount:     len(ints),
		CrossfadeFrames: crossfade,
		Codec:           p.codec.Name(),
	}, nil
}

// stream returns (creating if needed) the state for a stream key.
func (p *Processor) stream(key track.StreamKey) *streamState {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.streams[key]
	if !ok {
		st = &streamState{lastUsed: time.Now()}
		p.streams[key] = st
	}
	return st
}

// rebuild replaces the stream's engine and context. st.mu must be held.
func (st *streamState) rebuild(factory EngineFactory, key track.ChunkKey, meta *track.Track) error {
	engine, err := factory(key.Preset, key.Intensity, meta.SampleRate, meta.Channels)
	if err != nil {
		return err
	}
	ctx, err := dsp.NewContext(meta.SampleRate, meta.Channels)
	if err != nil {
		return err
	}
	st.engine = engine
	st.ctx = ctx
	st.carry = nil
	st.nextIndex = key.Index
	return nil
}

// reset drops the stream's context entirely. st.mu must be held.
func (st *streamState) reset() {
	st.engine = nil
	st.ctx = nil
	st.carry = nil
	st.nextIndex = -1
}

// reapLoop destroys contexts that have been idle past the TTL.
func (p *Processor) reapLoop() {
	interval := p.cfg.ContextTTL / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-p.cfg.ContextTTL)
			p.mu.Lock()
			for key, st := range p.streams {
				if st.mu.TryLock() {
					if st.lastUsed.Before(cutoff) {
						delete(p.streams, key)
					}
					st.mu.Unlock()
				}
			}
			p.mu.Unlock()
		}
	}
}

// StreamCount returns the number of live DSP contexts (observability).
func (p *Processor) StreamCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.streams)
}
