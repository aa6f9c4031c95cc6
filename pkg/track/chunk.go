package track

import (
	"fmt"
	"strconv"
	"strings"
)

// ChunkKey uniquely identifies one cacheable unit of processed audio.
// Two keys differing only in intensity (or only in Enhanced) are distinct
// cache entries.
type ChunkKey struct {
	TrackID   string
	Index     int
	Preset    string
	Intensity float64
	Enhanced  bool
}

// String returns a stable, filename-safe form the disk cache can recover the
// key from: track__index__preset__intensity__enh|orig. Intensity is printed
// at full precision so keys that differ only in intensity never collide.
func (k ChunkKey) String() string {
	mode := "orig"
	if k.Enhanced {
		mode = "enh"
	}
	return fmt.Sprintf("%s__%05d__%s__%s__%s",
		sanitize(k.TrackID), k.Index, sanitize(k.Preset),
		strconv.FormatFloat(k.Intensity, 'g', -1, 64), mode)
}

// ParseChunkKey recovers a ChunkKey from its String form.
func ParseChunkKey(s string) (ChunkKey, error) {
	parts := strings.Split(s, "__")
	if len(parts) != 5 {
		return ChunkKey{}, fmt.Errorf("track: malformed chunk key %q", s)
	}
	index, err := strconv.Atoi(parts[1])
	if err != nil {
		return ChunkKey{}, fmt.Errorf("track: bad chunk index in %q: %w", s, err)
	}
	intensity, err := strconv.ParseFloat(parts[3], 64)
	if err != nil {
		return ChunkKey{}, fmt.Errorf("track: bad intensity in %q: %w", s, err)
	}
	return ChunkKey{
		TrackID:   parts[0],
		Index:     index,
		Preset:    parts[2],
		Intensity: intensity,
		Enhanced:  parts[4] == "enh",
	}, nil
}

// StreamKey identifies the DSP context shared by all chunks of one
// (track, preset, intensity) stream.
type StreamKey struct {
	TrackID   string
	Preset    string
	Intensity float64
}

// Stream returns the chunk key's stream key.
func (k ChunkKey) Stream() StreamKey {
	return StreamKey{TrackID: k.TrackID, Preset: k.Preset, Intensity: k.Intensity}
}

// SanitizeID maps an identifier to the filename-safe form used in chunk key
// strings. Anything operating on key-derived filenames by track ID must
// apply the same mapping.
func SanitizeID(s string) string {
	return sanitize(s)
}

func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '.':
			return r
		default:
			return '_'
		}
	}, s)
}

// Window is the raw sample region a chunk is processed from, expressed in
// frames. The window covers the chunk's core plus Overlap trailing frames
// that reach into the next chunk's core; the trailing region is used only
// for crossfade blending and is not part of the emitted chunk.
type Window struct {
	Start   int64 // first frame of the core region
	Length  int64 // frames read, core plus trailing overlap
	Core    int64 // frames emitted for this chunk
	Overlap int64 // trailing frames shared with the next chunk
}

// WindowFor computes the window for a chunk index. overlapFrames must be
// smaller than chunkFrames; consecutive windows overlap by exactly
// overlapFrames so the crossfade has deterministic material on both sides.
func WindowFor(index int, chunkFrames, overlapFrames, totalFrames int64) (Window, error) {
	if chunkFrames <= 0 {
		return Window{}, fmt.Errorf("track: chunk length must be positive: %d", chunkFrames)
	}
	if overlapFrames < 0 || overlapFrames >= chunkFrames {
		return Window{}, fmt.Errorf("track: overlap %d must be in [0, %d)", overlapFrames, chunkFrames)
	}
	start := int64(index) * chunkFrames
	if index < 0 || start >= totalFrames {
		return Window{}, fmt.Errorf("track: chunk index %d out of range", index)
	}

	core := chunkFrames
	if start+core > totalFrames {
		core = totalFrames - start
	}
	overlap := overlapFrames
	if start+core >= totalFrames {
		// Last chunk has no successor to blend into.
		overlap = 0
	}
	return Window{
		Start:   start,
		Length:  core + overlap,
		Core:    core,
		Overlap: overlap,
	}, nil
}
