package dsp

import (
	"fmt"
	"math"
)

// MasteringChain is the production engine: a low shelf, a high shelf, a
// soft-knee compressor with a shared peak envelope, and a soft limiter.
// One chain instance serves one (preset, intensity) pair and is stateless
// apart from the Context threaded through Process.
type MasteringChain struct {
	preset     Preset
	sampleRate int
	channels   int

	// Cached shelf coefficients
	low, high biquadCoeffs

	// Compressor coefficients
	attackCoeff  float64
	releaseCoeff float64
	thresholdLin float64
	makeupLin    float64
}

type biquadCoeffs struct {
	b0, b1, b2, a1, a2 float64
}

// NewMasteringChain builds a chain for the named preset at the given
// intensity and stream shape.
func NewMasteringChain(presetName string, intensity float64, sampleRate, channels int) (*MasteringChain, error) {
	if sampleRate <= 0 || channels <= 0 {
		return nil, fmt.Errorf("dsp: invalid chain shape %d Hz / %d ch", sampleRate, channels)
	}
	base, err := PresetByName(presetName)
	if err != nil {
		return nil, err
	}
	p := base.scaled(intensity)

	c := &MasteringChain{
		preset:     p,
		sampleRate: sampleRate,
		channels:   channels,
		low:        shelfCoeffs(bassFreq, p.BassGainDB, float64(sampleRate), true),
		high:       shelfCoeffs(trebleFreq, p.TrebleGainDB, float64(sampleRate), false),
	}

	// One-pole envelope time constants, per algo-dsp dynamics.
	c.attackCoeff = math.Exp(-1.0 / (attackMs * 0.001 * float64(sampleRate)))
	c.releaseCoeff = math.Exp(-1.0 / (releaseMs * 0.001 * float64(sampleRate)))
	c.thresholdLin = dbToLin(p.ThresholdDB)
	c.makeupLin = dbToLin(p.MakeupDB)
	return c, nil
}

// Name returns the engine identifier.
func (c *MasteringChain) Name() string {
	return fmt.Sprintf("mastering/%s", c.preset.Name)
}

// Process transforms samples in place. The slice length must be a multiple
// of the channel count, and ctx must match the chain's stream shape.
func (c *MasteringChain) Process(samples []float64, ctx *Context) error {
	if ctx == nil {
		return fmt.Errorf("dsp: nil context")
	}
	if ctx.channels != c.channels || ctx.sampleRate != c.sampleRate {
		return fmt.Errorf("dsp: context shape %d/%d does not match chain %d/%d",
			ctx.sampleRate, ctx.channels, c.sampleRate, c.channels)
	}
	if len(samples)%c.channels != 0 {
		return fmt.Errorf("dsp: sample count %d not a multiple of %d channels", len(samples), c.channels)
	}

	frames := len(samples) / c.channels
	for f := 0; f < frames; f++ {
		// Peak across channels drives one shared envelope so stereo image
		// does not shift under compression.
		peak := 0.0
		base := f * c.channels
		for ch := 0; ch < c.channels; ch++ {
			i := base + ch
			v := samples[i]
			v = biquadTick(v, c.low, &ctx.lowShelf[ch])
			v = biquadTick(v, c.high, &ctx.highShelf[ch])
			samples[i] = v
			if a := math.Abs(v); a > peak {
				peak = a
			}
		}

		if peak > ctx.envelope {
			ctx.envelope = c.attackCoeff*ctx.envelope + (1-c.attackCoeff)*peak
		} else {
			ctx.envelope = c.releaseCoeff*ctx.envelope + (1-c.releaseCoeff)*peak
		}

		gain := c.makeupLin
		if c.preset.Ratio > 1 && ctx.envelope > c.thresholdLin {
			overDB := linToDB(ctx.envelope) - c.preset.ThresholdDB
			reductionDB := overDB * (1 - 1/c.preset.Ratio)
			gain *= dbToLin(-reductionDB)
		}

		for ch := 0; ch < c.channels; ch++ {
			i := base + ch
			samples[i] = softLimit(samples[i] * gain)
		}
	}
	ctx.frames += int64(frames)
	return nil
}

// biquadTick advances one direct-form-I biquad by one sample.
func biquadTick(x float64, co biquadCoeffs, st *biquadState) float64 {
	y := co.b0*x + co.b1*st.x1 + co.b2*st.x2 - co.a1*st.y1 - co.a2*st.y2
	st.x2, st.x1 = st.x1, x
	st.y2, st.y1 = st.y1, y
	return y
}

// shelfCoeffs computes RBJ shelf coefficients normalized by a0.
func shelfCoeffs(freq, gainDB, sampleRate float64, lowShelf bool) biquadCoeffs {
	if gainDB == 0 {
		return biquadCoeffs{b0: 1}
	}
	a := math.Pow(10, gainDB/40)
	w0 := 2 * math.Pi * freq / sampleRate
	cosW0 := math.Cos(w0)
	sinW0 := math.Sin(w0)
	// Shelf slope 1.0
	alpha := sinW0 / 2 * math.Sqrt((a+1/a)*(1/1.0-1)+2)
	twoSqrtAAlpha := 2 * math.Sqrt(a) * alpha

	var b0, b1, b2, a0, a1, a2 float64
	if lowShelf {
		b0 = a * ((a + 1) - (a-1)*cosW0 + twoSqrtAAlpha)
		b1 = 2 * a * ((a - 1) - (a+1)*cosW0)
		b2 = a * ((a + 1) - (a-1)*cosW0 - twoSqrtAAlpha)
		a0 = (a + 1) + (a-1)*cosW0 + twoSqrtAAlpha
		a1 = -2 * ((a - 1) + (a+1)*cosW0)
		a2 = (a + 1) + (a-1)*cosW0 - twoSqrtAAlpha
	} else {
		b0 = a * ((a + 1) + (a-1)*cosW0 + twoSqrtAAlpha)
		b1 = -2 * a * ((a - 1) + (a+1)*cosW0)
		b2 = a * ((a + 1) + (a-1)*cosW0 - twoSqrtAAlpha)
		a0 = (a + 1) - (a-1)*cosW0 + twoSqrtAAlpha
		a1 = 2 * ((a - 1) - (a+1)*cosW0)
		a2 = (a + 1) - (a-1)*cosW0 - twoSqrtAAlpha
	}
	return biquadCoeffs{b0: b0 / a0, b1: b1 / a0, b2: b2 / a0, a1: a1 / a0, a2: a2 / a0}
}

// softLimit applies a gentle tanh ceiling above -1 dBFS to keep makeup gain
// from clipping the int16 conversion.
func softLimit(v float64) float64 {
	const ceiling = 0.891 // -1 dBFS
	if v > ceiling {
		return ceiling + (1-ceiling)*math.Tanh((v-ceiling)/(1-ceiling))
	}
	if v < -ceiling {
		return -ceiling - (1-ceiling)*math.Tanh((-v-ceiling)/(1-ceiling))
	}
	return v
}

func dbToLin(db float64) float64 { return math.Pow(10, db/20) }

func linToDB(lin float64) float64 {
	if lin <= 0 {
		return -120
	}
	return 20 * math.Log10(lin)
}
