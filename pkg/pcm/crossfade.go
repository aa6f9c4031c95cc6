package pcm

import "math"

// Smoothstep returns the smoothstep interpolation for t in [0,1].
// Formula: 3t^2 - 2t^3.
func Smoothstep(t float64) float64 {
	if t <= 0 {
		return 0
	}
	if t >= 1 {
		return 1
	}
	return t * t * (3 - 2*t)
}

// EqualPowerGains returns the (outgoing, incoming) gains for progress t in
// [0,1]. The squares of the gains sum to one, so a constant-amplitude signal
// keeps constant perceived loudness through the fade.
func EqualPowerGains(t float64) (out, in float64) {
	if t <= 0 {
		return 1, 0
	}
	if t >= 1 {
		return 0, 1
	}
	angle := t * math.Pi / 2
	return math.Cos(angle), math.Sin(angle)
}

// CrossfadeInto blends outgoing into incoming in place over interleaved
// frames. Both slices must be frames*channels long. incoming[i] becomes the
// equal-power mix at the frame's fade progress; the result replaces incoming.
func CrossfadeInto(outgoing, incoming []float64, channels int) {
	if len(outgoing) != len(incoming) || channels <= 0 {
		return
	}
	frames := len(incoming) / channels
	if frames <= 1 {
		return
	}
	for f := 0; f < frames; f++ {
		t := float64(f) / float64(frames-1)
		gOut, gIn := EqualPowerGains(t)
		for ch := 0; ch < channels; ch++ {
			i := f*channels + ch
			incoming[i] = outgoing[i]*gOut + incoming[i]*gIn
		}
	}
}
