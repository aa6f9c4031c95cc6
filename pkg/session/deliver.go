package session

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/jfelder/masterstream/internal/log"
	"github.com/jfelder/masterstream/pkg/cache"
	"github.com/jfelder/masterstream/pkg/processor"
	"github.com/jfelder/masterstream/pkg/protocol"
	"github.com/jfelder/masterstream/pkg/track"
)

// streamRun is one delivery goroutine's lifetime. Seek, preset change, stop
// and a new start all cancel the current run and (except stop) launch a
// fresh one under a bumped generation.
type streamRun struct {
	ctx    context.Context
	cancel context.CancelFunc
	next   atomic.Int64
}

// nextIndex is the first chunk the run has not yet delivered.
func (r *streamRun) nextIndex() int {
	return int(r.next.Load())
}

// runSnapshot freezes the stream parameters a delivery loop works from.
// The loop never reads session fields directly.
type runSnapshot struct {
	meta       *track.Track
	preset     string
	intensity  float64
	enhanced   bool
	generation uint64
	chunkCount int
	from       int
}

// startRunLocked launches a delivery loop from the given index. s.mu must
// be held; current stream parameters are snapshotted before the goroutine
// starts.
func (s *Session) startRunLocked(from int) {
	ctx, cancel := context.WithCancel(context.Background())
	run := &streamRun{ctx: ctx, cancel: cancel}
	run.next.Store(int64(from))
	s.run = run

	snap := runSnapshot{
		meta:       s.meta,
		preset:     s.preset,
		intensity:  s.intensity,
		enhanced:   s.enhanced,
		generation: s.generation,
		chunkCount: s.chunkCount,
		from:       from,
	}
	s.wg.Add(1)
	go s.deliver(run, snap)
}

// stopRunLocked cancels the active delivery loop without waiting for it.
// s.mu must be held; the loop notices cancellation at its next send or wait.
func (s *Session) stopRunLocked() {
	if s.run != nil {
		s.run.cancel()
		s.run = nil
	}
}

// deliver streams chunks in order. The first Lookahead chunks go
// back-to-back so the client can fill its buffer; after that sends are paced
// slightly faster than real time. Retryable chunk failures back off and
// retry; anything else ends the stream with a fatal error.
func (s *Session) deliver(run *streamRun, snap runSnapshot) {
	defer s.wg.Done()
	defer run.cancel()

	header := protocol.StreamStartData{
		TrackID:       snap.meta.ID,
		SampleRate:    snap.meta.SampleRate,
		Channels:      snap.meta.Channels,
		TotalChunks:   snap.chunkCount,
		ChunkDuration: s.procCfg.ChunkSeconds,
		TotalDuration: snap.meta.Duration().Seconds(),
		Generation:    snap.generation,
	}
	msg, err := protocol.NewStreamStartMessage(header)
	if err != nil {
		s.failRun(run, snap, err)
		return
	}
	if err := s.sender.Send(msg); err != nil {
		return
	}

	stream := track.StreamKey{TrackID: snap.meta.ID, Preset: snap.preset, Intensity: snap.intensity}
	pace := time.Duration(s.procCfg.ChunkSeconds * s.cfg.PaceRatio * float64(time.Second))

	for i := snap.from; i < snap.chunkCount; i++ {
		if run.ctx.Err() != nil {
			return
		}
		key := track.ChunkKey{
			TrackID:   snap.meta.ID,
			Index:     i,
			Preset:    snap.preset,
			Intensity: snap.intensity,
			Enhanced:  snap.enhanced,
		}
		entry, lookup, err := s.resolveWithRetry(run.ctx, key)
		if err != nil {
			if run.ctx.Err() != nil {
				return
			}
			s.failRun(run, snap, err)
			return
		}
		log.Debug("chunk resolved",
			"session", s.ID, "key", key.String(),
			"tier", lookup.Tier.String(), "built", lookup.Built,
			"elapsed_ms", lookup.Elapsed.Milliseconds())

		crossfadeSamples := int(entry.CrossfadeFrames) * snap.meta.Channels
		chunk, err := protocol.NewChunkMessage(i, snap.chunkCount, snap.generation,
			entry.SampleCount, entry.Bytes, crossfadeSamples, entry.Codec)
		if err != nil {
			s.failRun(run, snap, err)
			return
		}
		if err := s.sender.Send(chunk); err != nil {
			return
		}
		run.next.Store(int64(i + 1))

		s.prefetch.Plan(s.ID, stream, snap.enhanced, i, snap.chunkCount)

		sent := i - snap.from + 1
		if sent == s.cfg.Lookahead {
			s.setStateIfCurrent(run, StateStreaming)
		}
		if sent >= s.cfg.Lookahead && i+1 < snap.chunkCount {
			select {
			case <-run.ctx.Done():
				return
			case <-time.After(pace):
			}
		}
	}

	end, err := protocol.NewStreamEndMessage(snap.meta.ID, snap.meta.TotalSamples(), snap.meta.Duration().Seconds())
	if err == nil {
		if err := s.sender.Send(end); err != nil {
			return
		}
	}
	s.setStateIfCurrent(run, StateComplete)
	s.prefetch.Cancel(s.ID)
}

// resolveWithRetry fetches one chunk under the adaptive deadline, backing
// off and retrying on retryable failures.
func (s *Session) resolveWithRetry(ctx context.Context, key track.ChunkKey) (*cache.Entry, cache.Lookup, error) {
	var lastErr error
	for attempt := 0; attempt <= s.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, cache.Lookup{}, ctx.Err()
			case <-time.After(backoff(s.cfg.RetryBase, attempt-1)):
			}
		}
		deadline := s.latency.timeout(s.cfg.BaseTimeout, s.cfg.MaxTimeout)
		cctx, cancel := context.WithTimeout(ctx, deadline)
		entry, lookup, err := s.cache.Resolve(cctx, key, s.ID)
		cancel()
		if err == nil {
			return entry, lookup, nil
		}
		lastErr = err
		if !processor.IsRetryable(err) || ctx.Err() != nil {
			return nil, cache.Lookup{}, err
		}
		log.Warn("chunk fetch retrying",
			"session", s.ID, "key", key.String(),
			"attempt", attempt+1, "err", err)
	}
	return nil, cache.Lookup{}, lastErr
}

// failRun reports a fatal stream error and marks the session errored if
// this run is still the active one.
func (s *Session) failRun(run *streamRun, snap runSnapshot, err error) {
	log.Error("stream failed", "session", s.ID, "track", snap.meta.ID, "err", err)
	s.sendError(snap.meta.ID, processor.PublicMessage(err), processor.ErrorCode(err), processor.IsRetryable(err), true)
	s.setStateIfCurrent(run, StateErrored)
	s.prefetch.Cancel(s.ID)
}

func (s *Session) setStateIfCurrent(run *streamRun, state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.run == run {
		s.state = state
	}
}
