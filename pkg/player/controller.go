package player

import (
	"sync"

	"github.com/jfelder/masterstream/internal/log"
	"github.com/jfelder/masterstream/pkg/pcm"
	"github.com/jfelder/masterstream/pkg/protocol"
)

// PlayState is the playback phase.
type PlayState int32

const (
	PlayIdle PlayState = iota
	PlayFilling
	PlayPlaying
	PlayPaused
	PlayDone
)

func (s PlayState) String() string {
	switch s {
	case PlayIdle:
		return "idle"
	case PlayFilling:
		return "filling"
	case PlayPlaying:
		return "playing"
	case PlayPaused:
		return "paused"
	case PlayDone:
		return "done"
	default:
		return "unknown"
	}
}

// Config tunes client-side buffering.
type Config struct {
	// StartSeconds is how much audio must be buffered before playback
	// starts (and resumes after an underrun).
	StartSeconds float64

	// BufferSeconds is the ring window.
	BufferSeconds float64
}

// DefaultConfig returns the buffering defaults.
func DefaultConfig() Config {
	return Config{StartSeconds: 2.0, BufferSeconds: 30.0}
}

// Controller sits between the stream and the audio device. It fills the
// ring from incoming chunks, starts playback once enough audio is buffered,
// pauses on underrun and resumes when the buffer recovers, and rejects
// chunks from a superseded generation.
type Controller struct {
	cfg  Config
	sink Sink

	mu          sync.Mutex
	ring        *Ring
	sampleRate  int
	channels    int
	threshold   int // samples buffered before start/resume
	generation  uint64
	lastIndex   int
	state       PlayState
	discardNext bool
	endSeen     bool
	dropped     int64
}

// NewController creates a controller writing lifecycle events to sink.
func NewController(cfg Config, sink Sink) *Controller {
	return &Controller{cfg: cfg, sink: sink, state: PlayIdle, lastIndex: -1}
}

// State returns the playback phase.
func (c *Controller) State() PlayState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Dropped returns how many stale chunks were rejected.
func (c *Controller) Dropped() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dropped
}

// Buffered returns the samples waiting for playback.
func (c *Controller) Buffered() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ring == nil {
		return 0
	}
	return c.ring.Buffered()
}

// PrepareSeek tells the controller the next stream header follows a seek:
// buffered audio belongs to the old position and must go.
func (c *Controller) PrepareSeek() {
	c.mu.Lock()
	c.discardNext = true
	c.mu.Unlock()
}

// OnStreamStart installs a new stream header. After a seek the ring is
// discarded; after a preset change buffered audio keeps draining under the
// old sound while new-generation chunks queue behind it.
func (c *Controller) OnStreamStart(d *protocol.StreamStartData) {
	c.mu.Lock()
	defer c.mu.Unlock()

	reshape := c.ring == nil || c.sampleRate != d.SampleRate || c.channels != d.Channels
	c.sampleRate = d.SampleRate
	c.channels = d.Channels
	c.threshold = int(c.cfg.StartSeconds*float64(d.SampleRate)) * d.Channels
	if reshape {
		c.ring = NewRing(c.cfg.BufferSeconds, d.SampleRate, d.Channels)
	}
	if c.discardNext {
		c.ring.Discard()
		c.discardNext = false
		c.state = PlayFilling
	}
	if c.state == PlayIdle || c.state == PlayDone {
		c.state = PlayFilling
	}
	c.generation = d.Generation
	c.lastIndex = -1
	c.endSeen = false
}

// OnChunk buffers one chunk. Chunks from an old generation or at or behind
// the last accepted index are stale and dropped. Returns whether the chunk
// was accepted.
func (c *Controller) OnChunk(d *protocol.ChunkData) (bool, error) {
	c.mu.Lock()
	if c.ring == nil || d.Generation != c.generation || d.Index <= c.lastIndex {
		c.dropped++
		c.mu.Unlock()
		return false, nil
	}
	c.lastIndex = d.Index
	sampleRate, channels := c.sampleRate, c.channels
	c.mu.Unlock()

	codec, err := pcm.ByName(d.Codec)
	if err != nil {
		return false, err
	}
	raw, err := d.DecodeSamples()
	if err != nil {
		return false, err
	}
	samples, err := codec.Decode(raw, sampleRate, channels)
	if err != nil {
		return false, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	written := c.ring.Write(samples)
	if written < len(samples) {
		log.Warn("buffer full, chunk truncated",
			"index", d.Index, "dropped_samples", len(samples)-written)
	}
	if c.state == PlayFilling && c.ring.Buffered() >= c.threshold {
		c.startLocked()
	}
	return true, nil
}

// OnStreamEnd marks the stream complete; playback finishes draining.
func (c *Controller) OnStreamEnd(d *protocol.StreamEndData) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.endSeen = true
	if c.state == PlayFilling && c.ring != nil && c.ring.Buffered() > 0 {
		// Short track: less audio than the start threshold. Play it anyway.
		c.startLocked()
	}
	if c.ring == nil || c.ring.Buffered() == 0 {
		c.state = PlayDone
	}
}

// startLocked begins playback exactly once per fill. c.mu must be held.
func (c *Controller) startLocked() {
	if err := c.sink.Start(c.sampleRate, c.channels); err != nil {
		log.Error("audio sink start failed", "err", err)
		return
	}
	c.state = PlayPlaying
}

// Read is the playback pull path: the audio loop calls it for every device
// quantum. Anything the ring cannot fill comes back as silence. An empty
// ring mid-stream pauses playback; the buffer recovering past the start
// threshold resumes it.
func (c *Controller) Read(dst []int16) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == PlayPaused && c.ring.Buffered() >= c.threshold {
		c.sink.Resume()
		c.state = PlayPlaying
	}
	if c.state != PlayPlaying {
		zero(dst)
		return 0
	}

	n := c.ring.Read(dst)
	zero(dst[n:])
	if n < len(dst) {
		if c.endSeen {
			c.state = PlayDone
		} else {
			c.sink.Pause()
			c.state = PlayPaused
			log.Warn("playback underrun", "got", n, "want", len(dst))
		}
	}
	return n
}

func zero(dst []int16) {
	for i := range dst {
		dst[i] = 0
	}
}
