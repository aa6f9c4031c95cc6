package session

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jfelder/masterstream/internal/log"
	"github.com/jfelder/masterstream/pkg/cache"
	"github.com/jfelder/masterstream/pkg/dsp"
	"github.com/jfelder/masterstream/pkg/processor"
	"github.com/jfelder/masterstream/pkg/protocol"
	"github.com/jfelder/masterstream/pkg/track"
)

// State is the session lifecycle phase.
type State int32

const (
	StateIdle State = iota
	StateBuffering
	StateStreaming
	StateSeeking
	StateErrored
	StateComplete
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBuffering:
		return "buffering"
	case StateStreaming:
		return "streaming"
	case StateSeeking:
		return "seeking"
	case StateErrored:
		return "errored"
	case StateComplete:
		return "complete"
	default:
		return "unknown"
	}
}

// Sender delivers an encoded message to the client. Implementations must be
// safe for concurrent use; the websocket sender serializes writes with a
// mutex.
type Sender interface {
	Send(msg *protocol.Message) error
}

// Config tunes delivery pacing and resilience.
type Config struct {
	// Lookahead is how many chunks are sent back-to-back at stream start
	// (and after a seek) before pacing kicks in.
	Lookahead int

	// PaceRatio is the fraction of a chunk's duration waited between paced
	// sends. Below 1.0 the server runs slightly ahead of real time.
	PaceRatio float64

	// BaseTimeout and MaxTimeout bound the adaptive per-chunk deadline.
	BaseTimeout time.Duration
	MaxTimeout  time.Duration

	// RetryBase and MaxRetries govern backoff on retryable chunk failures.
	RetryBase  time.Duration
	MaxRetries int

	// PingInterval spaces keepalive pings; their pongs feed the latency
	// estimate behind the adaptive timeout.
	PingInterval time.Duration
}

// DefaultConfig returns the pacing defaults.
func DefaultConfig() Config {
	return Config{
		Lookahead:    3,
		PaceRatio:    0.8,
		BaseTimeout:  2 * time.Second,
		MaxTimeout:   15 * time.Second,
		RetryBase:    250 * time.Millisecond,
		MaxRetries:   3,
		PingInterval: 15 * time.Second,
	}
}

// Session owns one client's stream: it reacts to control messages and runs
// the paced delivery loop. All mutation of stream parameters happens under
// mu; the delivery goroutine reads a snapshot per chunk.
type Session struct {
	ID string

	sender   Sender
	store    track.Store
	cache    *cache.TierCache
	prefetch *cache.Prefetcher
	procCfg  processor.Config
	cfg      Config

	mu         sync.Mutex
	state      State
	meta       *track.Track
	preset     string
	intensity  float64
	enhanced   bool
	generation uint64
	chunkCount int
	run        *streamRun
	closed     bool

	latency latencyEWMA

	wg       sync.WaitGroup
	stopPing chan struct{}
	pingOnce sync.Once
}

// New creates a session bound to a sender. Close must be called when the
// connection goes away.
func New(sender Sender, store track.Store, c *cache.TierCache, pf *cache.Prefetcher, procCfg processor.Config, cfg Config) *Session {
	s := &Session{
		ID:       uuid.New().String(),
		sender:   sender,
		store:    store,
		cache:    c,
		prefetch: pf,
		procCfg:  procCfg,
		cfg:      cfg,
		state:    StateIdle,
		stopPing: make(chan struct{}),
	}
	s.wg.Add(1)
	go s.pingLoop()
	return s
}

// State returns the current lifecycle phase.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Generation returns the current stream generation.
func (s *Session) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// Close tears the session down: delivery stops, prefetch plans are dropped,
// and Hot pins begin their demotion grace.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.stopRunLocked()
	s.mu.Unlock()

	s.pingOnce.Do(func() { close(s.stopPing) })
	s.prefetch.Cancel(s.ID)
	s.cache.ReleaseSession(s.ID)
	s.wg.Wait()
}

// HandleMessage dispatches one client control message. Unknown or malformed
// messages are protocol violations: the client is told, the session stays
// usable.
func (s *Session) HandleMessage(msg *protocol.Message) {
	var err error
	switch msg.Type {
	case protocol.TypeStart:
		err = s.handleStart(msg)
	case protocol.TypeSeek:
		err = s.handleSeek(msg)
	case protocol.TypePresetChange:
		err = s.handlePresetChange(msg)
	case protocol.TypeStop:
		err = s.handleStop()
	case protocol.TypePing:
		err = s.handlePing(msg)
	case protocol.TypePong:
		err = s.handlePong(msg)
	default:
		err = fmt.Errorf("unexpected message type %q", msg.Type)
	}
	if err != nil {
		log.Warn("control message rejected", "session", s.ID, "type", msg.Type, "err", err)
		s.sendError("", err.Error(), processor.CodeProtocolViolation, false, false)
	}
}

func (s *Session) handleStart(msg *protocol.Message) error {
	data, err := msg.GetStartData()
	if err != nil {
		return err
	}
	if data.Enhanced {
		if _, err := dsp.PresetByName(data.Preset); err != nil {
			return err
		}
	}
	if data.Intensity < 0 || data.Intensity > 1 {
		return fmt.Errorf("intensity %.2f out of range [0,1]", data.Intensity)
	}
	meta, err := s.store.Track(data.TrackID)
	if err != nil {
		if track.IsNotFound(err) {
			s.sendError(data.TrackID, err.Error(), processor.CodeSourceUnreadable, false, true)
			return nil
		}
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.stopRunLocked()
	s.meta = meta
	s.preset = data.Preset
	s.intensity = data.Intensity
	s.enhanced = data.Enhanced
	s.generation++
	s.chunkCount = meta.ChunkCount(s.procCfg.ChunkFrames(meta.SampleRate))
	s.state = StateBuffering
	s.startRunLocked(0)
	return nil
}

func (s *Session) handleSeek(msg *protocol.Message) error {
	data, err := msg.GetSeekData()
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.meta == nil {
		return fmt.Errorf("seek before start")
	}
	pos := data.PositionSeconds
	if pos < 0 {
		pos = 0
	}
	if max := s.meta.Duration().Seconds(); pos > max {
		pos = max
	}
	index := int(pos / s.procCfg.ChunkSeconds)
	if index >= s.chunkCount {
		index = s.chunkCount - 1
	}

	s.stopRunLocked()
	s.generation++
	s.state = StateSeeking
	s.startRunLocked(index)
	return nil
}

func (s *Session) handlePresetChange(msg *protocol.Message) error {
	data, err := msg.GetPresetChangeData()
	if err != nil {
		return err
	}
	if data.Enhanced {
		if _, err := dsp.PresetByName(data.Preset); err != nil {
			return err
		}
	}
	if data.Intensity < 0 || data.Intensity > 1 {
		return fmt.Errorf("intensity %.2f out of range [0,1]", data.Intensity)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.meta == nil {
		return fmt.Errorf("preset change before start")
	}
	// Resume under the new preset from the next undelivered chunk;
	// audio already sent under the old preset drains client-side.
	next := 0
	if s.run != nil {
		next = s.run.nextIndex()
	}
	s.stopRunLocked()
	s.preset = data.Preset
	s.intensity = data.Intensity
	s.enhanced = data.Enhanced
	s.generation++
	s.state = StateBuffering
	s.startRunLocked(next)
	return nil
}

func (s *Session) handleStop() error {
	s.mu.Lock()
	s.stopRunLocked()
	s.state = StateIdle
	s.meta = nil
	s.mu.Unlock()
	s.prefetch.Cancel(s.ID)
	s.cache.ReleaseSession(s.ID)
	return nil
}

func (s *Session) handlePing(msg *protocol.Message) error {
	data, err := msg.GetPingData()
	if err != nil {
		return err
	}
	pong, err := protocol.NewPongMessage(data.ID, data.Timestamp, time.Now().UnixMilli())
	if err != nil {
		return err
	}
	return s.sender.Send(pong)
}

func (s *Session) handlePong(msg *protocol.Message) error {
	data, err := msg.GetPongData()
	if err != nil {
		return err
	}
	// An unstamped echo would read as an epoch-sized round trip.
	if data.PingTS <= 0 {
		return nil
	}
	rtt := time.Now().UnixMilli() - data.PingTS
	if rtt >= 0 {
		s.latency.observe(time.Duration(rtt) * time.Millisecond)
	}
	return nil
}

func (s *Session) pingLoop() {
	defer s.wg.Done()
	interval := s.cfg.PingInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopPing:
			return
		case <-ticker.C:
			ping, err := protocol.NewPingMessage(uuid.New().String())
			if err != nil {
				continue
			}
			if err := s.sender.Send(ping); err != nil {
				return
			}
		}
	}
}

func (s *Session) sendError(trackID, errMsg, code string, retryable, fatal bool) {
	msg, err := protocol.NewStreamErrorMessage(trackID, errMsg, code, retryable, fatal)
	if err != nil {
		return
	}
	if err := s.sender.Send(msg); err != nil {
		log.Debug("error send failed", "session", s.ID, "err", err)
	}
}

// latencyEWMA smooths observed round-trip times. Zero value means no
// observation yet.
type latencyEWMA struct {
	mu  sync.Mutex
	val time.Duration
}

func (l *latencyEWMA) observe(rtt time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.val == 0 {
		l.val = rtt
		return
	}
	const alpha = 0.2
	l.val = time.Duration(alpha*float64(rtt) + (1-alpha)*float64(l.val))
}

// timeout derives the per-chunk deadline: the base plus four smoothed RTTs,
// clamped to max.
func (l *latencyEWMA) timeout(base, max time.Duration) time.Duration {
	l.mu.Lock()
	rtt := l.val
	l.mu.Unlock()
	t := base + 4*rtt
	if t > max {
		t = max
	}
	return t
}

// backoff returns the exponential retry delay for attempt n (0-based).
func backoff(base time.Duration, attempt int) time.Duration {
	return time.Duration(float64(base) * math.Pow(2, float64(attempt)))
}
