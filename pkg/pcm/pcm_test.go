package pcm

import (
	"math"
	"testing"
)

func TestInt16Float64RoundTrip(t *testing.T) {
	in := []int16{0, 1, -1, 16000, -16000, 32767, -32768}
	out := Float64ToInt16(Int16ToFloat64(in))
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("sample %d: got %d, want %d", i, out[i], in[i])
		}
	}
}

func TestFloat64ToInt16Clips(t *testing.T) {
	out := Float64ToInt16([]float64{1.5, -1.5, 2.0})
	if out[0] != 32767 {
		t.Errorf("positive overflow: got %d, want 32767", out[0])
	}
	if out[1] != -32768 {
		t.Errorf("negative overflow: got %d, want -32768", out[1])
	}
	if out[2] != 32767 {
		t.Errorf("large overflow: got %d, want 32767", out[2])
	}
}

func TestBytesRoundTrip(t *testing.T) {
	in := []int16{0, 256, -256, 32767, -32768}
	out := BytesToInt16(Int16ToBytes(in))
	if len(out) != len(in) {
		t.Fatalf("length: got %d, want %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("sample %d: got %d, want %d", i, out[i], in[i])
		}
	}
}

func TestSmoothstepShape(t *testing.T) {
	if Smoothstep(0) != 0 {
		t.Errorf("Smoothstep(0) = %v, want 0", Smoothstep(0))
	}
	if Smoothstep(1) != 1 {
		t.Errorf("Smoothstep(1) = %v, want 1", Smoothstep(1))
	}
	if math.Abs(Smoothstep(0.5)-0.5) > 1e-12 {
		t.Errorf("Smoothstep(0.5) = %v, want 0.5", Smoothstep(0.5))
	}
	prev := -1.0
	for i := 0; i <= 100; i++ {
		v := Smoothstep(float64(i) / 100)
		if v < prev {
			t.Fatalf("not monotonic at t=%v", float64(i)/100)
		}
		prev = v
	}
}

func TestEqualPowerGains(t *testing.T) {
	for _, tt := range []float64{0, 0.25, 0.5, 0.75, 1} {
		out, in := EqualPowerGains(tt)
		power := out*out + in*in
		if math.Abs(power-1) > 1e-12 {
			t.Errorf("t=%v: power %v, want 1", tt, power)
		}
	}
	out, in := EqualPowerGains(0)
	if math.Abs(out-1) > 1e-12 || math.Abs(in) > 1e-12 {
		t.Errorf("t=0: got out=%v in=%v, want 1, 0", out, in)
	}
}

func TestCrossfadeIntoEndpoints(t *testing.T) {
	const frames = 64
	outgoing := make([]float64, frames*2)
	incoming := make([]float64, frames*2)
	for i := range outgoing {
		outgoing[i] = 1.0
		incoming[i] = -1.0
	}

	CrossfadeInto(outgoing, incoming, 2)

	// The blend starts fully on the outgoing signal and ends fully on the
	// incoming one.
	if math.Abs(incoming[0]-1.0) > 1e-9 {
		t.Errorf("first frame: got %v, want 1.0 (all outgoing)", incoming[0])
	}
	last := incoming[len(incoming)-1]
	if math.Abs(last-(-1.0)) > 1e-9 {
		t.Errorf("last frame: got %v, want -1.0 (all incoming)", last)
	}
}

func TestCrossfadeIntoBounded(t *testing.T) {
	const frames = 128
	outgoing := make([]float64, frames)
	incoming := make([]float64, frames)
	for i := range outgoing {
		outgoing[i] = math.Sin(float64(i) * 0.1)
		incoming[i] = math.Sin(float64(i)*0.1 + 0.01)
	}

	CrossfadeInto(outgoing, incoming, 1)

	for i, v := range incoming {
		if math.Abs(v) > math.Sqrt2 {
			t.Fatalf("frame %d: blend %v exceeds equal-power bound", i, v)
		}
	}
}

func TestRawCodecRoundTrip(t *testing.T) {
	codec, err := ByName("pcm16")
	if err != nil {
		t.Fatal(err)
	}
	in := []int16{0, 100, -100, 32767, -32768}
	data, err := codec.Encode(in, 44100, 2)
	if err != nil {
		t.Fatal(err)
	}
	out, err := codec.Decode(data, 44100, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != len(in) {
		t.Fatalf("length: got %d, want %d", len(out), len(in))
	}
	for i := range in {
		if out[i] != in[i] {
			t.Errorf("sample %d: got %d, want %d", i, out[i], in[i])
		}
	}
}

func TestByNameUnknown(t *testing.T) {
	if _, err := ByName("flac"); err == nil {
		t.Error("expected error for unknown codec")
	}
}

func TestOpusRejectsUnsupportedRates(t *testing.T) {
	c := NewOpusCodec()

	for _, rate := range []int{8000, 12000, 16000, 24000, 48000} {
		if !c.SupportsRate(rate) {
			t.Errorf("rate %d should be supported", rate)
		}
	}
	for _, rate := range []int{44100, 22050, 96000, 0} {
		if c.SupportsRate(rate) {
			t.Errorf("rate %d should be rejected", rate)
		}
		if _, err := c.Encode(make([]int16, 64), rate, 2); err == nil {
			t.Errorf("encode at %d Hz: expected error", rate)
		}
		if _, err := c.Decode(make([]byte, 8), rate, 2); err == nil {
			t.Errorf("decode at %d Hz: expected error", rate)
		}
	}
}
