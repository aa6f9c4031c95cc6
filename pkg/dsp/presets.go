package dsp

import "fmt"

// Preset holds the tonal and dynamics targets for one mastering flavor.
// Intensity scales every field linearly toward neutral, so intensity 0 is a
// bit-transparent pass and intensity 1 is the full preset.
type Preset struct {
	Name string

	BassGainDB   float64 // low shelf at bassFreq
	TrebleGainDB float64 // high shelf at trebleFreq

	ThresholdDB float64 // compressor threshold
	Ratio       float64 // compression ratio, 1 = off
	MakeupDB    float64 // post-compression makeup gain
}

const (
	bassFreq   = 120.0  // Hz
	trebleFreq = 8000.0 // Hz

	attackMs  = 10.0
	releaseMs = 120.0
)

var presets = map[string]Preset{
	"flat": {
		Name: "flat", Ratio: 1,
	},
	"warm": {
		Name: "warm", BassGainDB: 3.5, TrebleGainDB: -1.5,
		ThresholdDB: -18, Ratio: 2.5, MakeupDB: 2,
	},
	"bright": {
		Name: "bright", BassGainDB: -1, TrebleGainDB: 4,
		ThresholdDB: -20, Ratio: 2, MakeupDB: 1.5,
	},
	"punch": {
		Name: "punch", BassGainDB: 2, TrebleGainDB: 1,
		ThresholdDB: -16, Ratio: 4, MakeupDB: 3,
	},
	"loud": {
		Name: "loud", BassGainDB: 2.5, TrebleGainDB: 2.5,
		ThresholdDB: -22, Ratio: 6, MakeupDB: 5,
	},
}

// PresetByName returns the named preset.
func PresetByName(name string) (Preset, error) {
	p, ok := presets[name]
	if !ok {
		return Preset{}, fmt.Errorf("dsp: unknown preset %q", name)
	}
	return p, nil
}

// PresetNames lists the available presets.
func PresetNames() []string {
	return []string{"flat", "warm", "bright", "punch", "loud"}
}

// scaled returns the preset with every parameter interpolated between
// neutral (intensity 0) and the full preset (intensity 1).
func (p Preset) scaled(intensity float64) Preset {
	if intensity < 0 {
		intensity = 0
	}
	if intensity > 1 {
		intensity = 1
	}
	return Preset{
		Name:         p.Name,
		BassGainDB:   p.BassGainDB * intensity,
		TrebleGainDB: p.TrebleGainDB * intensity,
		ThresholdDB:  p.ThresholdDB * intensity,
		Ratio:        1 + (p.Ratio-1)*intensity,
		MakeupDB:     p.MakeupDB * intensity,
	}
}
