// Package dsp implements the mastering transform applied to each chunk.
//
// The engine is stateful: filter histories and the compressor envelope carry
// over between chunks of one (track, preset, intensity) stream, so chunks of
// a stream must be processed in index order against the same Context. The
// processor package owns that serialization.
package dsp

import "fmt"

// Engine applies a transform to one chunk of interleaved float64 samples
// in place, threading persistent state through ctx.
type Engine interface {
	// Process transforms samples in place. ctx must belong to this engine's
	// stream and must not be shared between concurrent calls.
	Process(samples []float64, ctx *Context) error

	// Name returns the engine identifier.
	Name() string
}

// biquadState is one direct-form-I biquad history per channel.
type biquadState struct {
	x1, x2 float64 // input history
	y1, y2 float64 // output history
}

// Context is the persistent per-stream DSP state: filter delay lines and
// the envelope follower. Created on the first chunk of a stream, reset on
// seeks that break index continuity.
type Context struct {
	channels   int
	sampleRate int

	lowShelf  []biquadState // one per channel
	highShelf []biquadState

	envelope float64 // compressor peak follower, linear

	frames int64 // frames processed since creation
}

// NewContext creates a fresh context for a stream's channel layout.
func NewContext(sampleRate, channels int) (*Context, error) {
	if sampleRate <= 0 || channels <= 0 {
		return nil, fmt.Errorf("dsp: invalid context shape %d Hz / %d ch", sampleRate, channels)
	}
	return &Context{
		channels:   channels,
		sampleRate: sampleRate,
		lowShelf:   make([]biquadState, channels),
		highShelf:  make([]biquadState, channels),
	}, nil
}

// Frames returns the number of frames processed through this context.
func (c *Context) Frames() int64 { return c.frames }

// Channels returns the context's channel count.
func (c *Context) Channels() int { return c.channels }

// SampleRate returns the context's sample rate.
func (c *Context) SampleRate() int { return c.sampleRate }
