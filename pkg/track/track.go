// Package track provides track metadata, chunk addressing, and raw sample
// access for the streaming pipeline.
package track

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Signature identifies the on-disk state of a track's source file.
// Cache entries embed it so a changed source invalidates stale output.
type Signature struct {
	Size    int64 `json:"size"`
	ModTime int64 `json:"mod_time"` // Unix seconds
}

// String returns the compact form used in cache file headers.
func (s Signature) String() string {
	return fmt.Sprintf("%d-%d", s.Size, s.ModTime)
}

// Track describes one playable track. Immutable once a stream starts.
type Track struct {
	ID          string    `json:"id"`
	Title       string    `json:"title,omitempty"`
	SampleRate  int       `json:"sample_rate"`
	Channels    int       `json:"channels"`
	TotalFrames int64     `json:"total_frames"` // frames, one per channel set
	Sig         Signature `json:"sig"`
}

// Duration returns the track length.
func (t *Track) Duration() time.Duration {
	if t.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(t.TotalFrames) / float64(t.SampleRate) * float64(time.Second))
}

// TotalSamples returns the interleaved sample count across all channels.
func (t *Track) TotalSamples() int64 {
	return t.TotalFrames * int64(t.Channels)
}

// ChunkCount returns the number of chunks at the given chunk length.
func (t *Track) ChunkCount(chunkFrames int64) int {
	if chunkFrames <= 0 {
		return 0
	}
	return int((t.TotalFrames + chunkFrames - 1) / chunkFrames)
}

// Store provides read-only access to track metadata and raw samples.
// Implementations must be safe for concurrent use; track metadata is
// read-only during a session.
type Store interface {
	// Track returns metadata for a track ID.
	Track(id string) (*Track, error)

	// Tracks lists all known tracks.
	Tracks() []*Track

	// ReadFrames reads count interleaved frames starting at the given frame
	// offset. Reads past the end are zero-padded so callers always receive
	// count*channels samples.
	ReadFrames(ctx context.Context, id string, start, count int64) ([]float64, error)
}

// ErrNotFound is returned by stores for unknown track IDs.
type ErrNotFound struct {
	ID string
}

// Error implements the error interface.
func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("track: not found: %s", e.ID)
}

// IsNotFound reports whether err is a track-not-found error.
func IsNotFound(err error) bool {
	var nf *ErrNotFound
	return errors.As(err, &nf)
}
