// Package player implements the client side of a stream: a sample ring
// between network arrival and playback, the controller that decides when
// playback starts and pauses, and a websocket client feeding them.
package player

import (
	"sync"
)

// Ring is a bounded FIFO of interleaved samples. Cursors count total
// samples ever written and read, so fill level and playback position derive
// from their difference and never wrap.
type Ring struct {
	mu      sync.Mutex
	buf     []int16
	cap     int
	written int64
	read    int64
}

// NewRing sizes the buffer to hold a time window of audio.
func NewRing(seconds float64, sampleRate, channels int) *Ring {
	n := int(seconds*float64(sampleRate)) * channels
	if n < channels {
		n = channels
	}
	return &Ring{buf: make([]int16, n), cap: n}
}

// Capacity returns the buffer size in samples.
func (r *Ring) Capacity() int {
	return r.cap
}

// Buffered returns how many samples wait to be read.
func (r *Ring) Buffered() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return int(r.written - r.read)
}

// WriteCursor returns the total samples ever written.
func (r *Ring) WriteCursor() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.written
}

// ReadCursor returns the total samples ever read.
func (r *Ring) ReadCursor() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.read
}

// Write appends samples, returning how many fit. A full buffer writes
// nothing rather than overwriting unplayed audio.
func (r *Ring) Write(samples []int16) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	free := r.cap - int(r.written-r.read)
	n := len(samples)
	if n > free {
		n = free
	}
	for i := 0; i < n; i++ {
		r.buf[(r.written+int64(i))%int64(r.cap)] = samples[i]
	}
	r.written += int64(n)
	return n
}

// Read fills dst with buffered samples, returning how many were available.
func (r *Ring) Read(dst []int16) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	avail := int(r.written - r.read)
	n := len(dst)
	if n > avail {
		n = avail
	}
	for i := 0; i < n; i++ {
		dst[i] = r.buf[(r.read+int64(i))%int64(r.cap)]
	}
	r.read += int64(n)
	return n
}

// Discard drops everything buffered. Cursors keep advancing monotonically;
// only the unplayed window is lost. Used on seek and on a new stream header.
func (r *Ring) Discard() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.read = r.written
}
