package track

import (
	"context"
	"hash/fnv"
	"math"
	"sort"
	"sync"
)

// ToneStore synthesizes continuous sine tones on demand. It backs the demo
// mode and the tests: samples are a pure function of (track, frame), so any
// window read is phase-continuous with its neighbors.
type ToneStore struct {
	mu     sync.RWMutex
	tracks map[string]*Track
}

// NewToneStore creates an empty synthetic store.
func NewToneStore() *ToneStore {
	return &ToneStore{tracks: make(map[string]*Track)}
}

// AddTone registers a synthetic track of the given shape.
func (s *ToneStore) AddTone(id string, sampleRate, channels int, totalFrames int64) *Track {
	t := &Track{
		ID:          id,
		Title:       id,
		SampleRate:  sampleRate,
		Channels:    channels,
		TotalFrames: totalFrames,
		Sig:         Signature{Size: totalFrames * int64(channels) * 2, ModTime: 0},
	}
	s.mu.Lock()
	s.tracks[id] = t
	s.mu.Unlock()
	return t
}

// Track returns metadata for a track ID.
func (s *ToneStore) Track(id string) (*Track, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tracks[id]
	if !ok {
		return nil, &ErrNotFound{ID: id}
	}
	return t, nil
}

// Tracks lists all registered tones sorted by ID.
func (s *ToneStore) Tracks() []*Track {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Track, 0, len(s.tracks))
	for _, t := range s.tracks {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Frequency returns the tone frequency for a track, derived from its ID so
// different tracks are audibly distinct.
func (s *ToneStore) Frequency(id string) float64 {
	h := fnv.New32a()
	h.Write([]byte(id))
	// 220..660 Hz
	return 220.0 + float64(h.Sum32()%440)
}

// ReadFrames reads count interleaved frames starting at start, zero-padded
// past the track end.
func (s *ToneStore) ReadFrames(ctx context.Context, id string, start, count int64) ([]float64, error) {
	t, err := s.Track(id)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	freq := s.Frequency(id)
	out := make([]float64, count*int64(t.Channels))
	for f := int64(0); f < count; f++ {
		frame := start + f
		if frame >= t.TotalFrames {
			break
		}
		v := 0.5 * math.Sin(2*math.Pi*freq*float64(frame)/float64(t.SampleRate))
		for ch := 0; ch < t.Channels; ch++ {
			out[f*int64(t.Channels)+int64(ch)] = v
		}
	}
	return out, nil
}
