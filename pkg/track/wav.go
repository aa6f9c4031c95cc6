package track

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// WAVStore serves PCM16 RIFF files from a media directory. File name (minus
// extension) is the track ID. The container is treated as an opaque sample
// source; only the canonical PCM16 layout is accepted.
type WAVStore struct {
	dir string

	mu     sync.RWMutex
	tracks map[string]*wavTrack
}

type wavTrack struct {
	meta       *Track
	path       string
	dataOffset int64
}

// NewWAVStore scans dir for .wav files and indexes their headers.
func NewWAVStore(dir string) (*WAVStore, error) {
	s := &WAVStore{dir: dir, tracks: make(map[string]*wavTrack)}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("track: read media dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(strings.ToLower(e.Name()), ".wav") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		wt, err := indexWAV(path)
		if err != nil {
			// Skip unreadable files; the store stays usable.
			continue
		}
		s.tracks[wt.meta.ID] = wt
	}
	return s, nil
}

// Track returns metadata for a track ID.
func (s *WAVStore) Track(id string) (*Track, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wt, ok := s.tracks[id]
	if !ok {
		return nil, &ErrNotFound{ID: id}
	}
	return wt.meta, nil
}

// Tracks lists all indexed tracks sorted by ID.
func (s *WAVStore) Tracks() []*Track {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Track, 0, len(s.tracks))
	for _, wt := range s.tracks {
		out = append(out, wt.meta)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ReadFrames reads count interleaved frames starting at start, zero-padded
// past the track end.
func (s *WAVStore) ReadFrames(ctx context.Context, id string, start, count int64) ([]float64, error) {
	s.mu.RLock()
	wt, ok := s.tracks[id]
	s.mu.RUnlock()
	if !ok {
		return nil, &ErrNotFound{ID: id}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	meta := wt.meta
	frameBytes := int64(meta.Channels) * 2
	readFrames := count
	if start+readFrames > meta.TotalFrames {
		readFrames = meta.TotalFrames - start
	}
	out := make([]float64, count*int64(meta.Channels))
	if readFrames <= 0 {
		return out, nil
	}

	f, err := os.Open(wt.path)
	if err != nil {
		return nil, fmt.Errorf("track: open %s: %w", id, err)
	}
	defer f.Close()

	buf := make([]byte, readFrames*frameBytes)
	if _, err := f.ReadAt(buf, wt.dataOffset+start*frameBytes); err != nil {
		return nil, fmt.Errorf("track: read %s: %w", id, err)
	}
	for i := int64(0); i < readFrames*int64(meta.Channels); i++ {
		out[i] = float64(int16(binary.LittleEndian.Uint16(buf[i*2:]))) / 32768.0
	}
	return out, nil
}

// indexWAV parses the RIFF header of a PCM16 file and returns its metadata.
func indexWAV(path string) (*wavTrack, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var riff [12]byte
	if _, err := f.ReadAt(riff[:], 0); err != nil {
		return nil, err
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return nil, fmt.Errorf("track: %s is not a RIFF/WAVE file", path)
	}

	var (
		sampleRate, channels, bits int
		dataOffset, dataSize       int64
	)
	offset := int64(12)
	for {
		var hdr [8]byte
		if _, err := f.ReadAt(hdr[:], offset); err != nil {
			break
		}
		chunkID := string(hdr[0:4])
		chunkSize := int64(binary.LittleEndian.Uint32(hdr[4:8]))
		switch chunkID {
		case "fmt ":
			var fm [16]byte
			if _, err := f.ReadAt(fm[:], offset+8); err != nil {
				return nil, err
			}
			format := binary.LittleEndian.Uint16(fm[0:2])
			channels = int(binary.LittleEndian.Uint16(fm[2:4]))
			sampleRate = int(binary.LittleEndian.Uint32(fm[4:8]))
			bits = int(binary.LittleEndian.Uint16(fm[14:16]))
			if format != 1 {
				return nil, fmt.Errorf("track: %s: unsupported WAVE format %d", path, format)
			}
		case "data":
			dataOffset = offset + 8
			dataSize = chunkSize
		}
		// Chunks are word-aligned.
		offset += 8 + chunkSize + chunkSize%2
		if dataOffset != 0 && sampleRate != 0 {
			break
		}
	}
	if dataOffset == 0 || sampleRate == 0 || channels == 0 {
		return nil, fmt.Errorf("track: %s: missing fmt or data chunk", path)
	}
	if bits != 16 {
		return nil, fmt.Errorf("track: %s: only PCM16 supported, got %d bits", path, bits)
	}

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	id := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return &wavTrack{
		meta: &Track{
			ID:          id,
			Title:       id,
			SampleRate:  sampleRate,
			Channels:    channels,
			TotalFrames: dataSize / int64(channels*2),
			Sig:         Signature{Size: info.Size(), ModTime: info.ModTime().Unix()},
		},
		path:       path,
		dataOffset: dataOffset,
	}, nil
}
