package pcm

import "fmt"

// Codec encodes one chunk's samples to a transport byte format and back.
// Implementations must round-trip sample count exactly for PCM codecs;
// lossy codecs may alter sample values but not the count.
type Codec interface {
	// Encode converts interleaved int16 samples to transport bytes.
	Encode(samples []int16, sampleRate, channels int) ([]byte, error)

	// Decode converts transport bytes back to interleaved int16 samples.
	Decode(data []byte, sampleRate, channels int) ([]int16, error)

	// Name returns the wire identifier (e.g. "pcm16", "opus").
	Name() string
}

// RawCodec is the identity PCM16 little-endian codec.
type RawCodec struct{}

// Encode converts samples to little-endian bytes.
func (RawCodec) Encode(samples []int16, sampleRate, channels int) ([]byte, error) {
	return Int16ToBytes(samples), nil
}

// Decode converts little-endian bytes back to samples.
func (RawCodec) Decode(data []byte, sampleRate, channels int) ([]int16, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("pcm: odd byte count %d", len(data))
	}
	return BytesToInt16(data), nil
}

// Name returns "pcm16".
func (RawCodec) Name() string { return "pcm16" }

// ByName returns the codec registered under the given wire identifier.
func ByName(name string) (Codec, error) {
	switch name {
	case "", "pcm16":
		return RawCodec{}, nil
	case "opus":
		return NewOpusCodec(), nil
	default:
		return nil, fmt.Errorf("pcm: unknown codec %q", name)
	}
}
