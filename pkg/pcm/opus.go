package pcm

import (
	"encoding/binary"
	"fmt"

	"gopkg.in/hraban/opus.v2"
)

const (
	// opusFrameMs is the packet duration used for chunk framing.
	opusFrameMs = 20

	// opusMaxPacket is the buffer size for one encoded packet.
	opusMaxPacket = 4000
)

// OpusCodec frames a chunk into 20ms Opus packets. Each packet is prefixed
// with a uint16 length; the payload starts with a uint32 carrying the
// original interleaved sample count so decode can trim final-frame padding.
type OpusCodec struct{}

// NewOpusCodec returns an Opus chunk codec.
func NewOpusCodec() *OpusCodec { return &OpusCodec{} }

// Name returns "opus".
func (*OpusCodec) Name() string { return "opus" }

// SupportsRate reports whether libopus accepts the sample rate.
func (*OpusCodec) SupportsRate(sampleRate int) bool {
	switch sampleRate {
	case 8000, 12000, 16000, 24000, 48000:
		return true
	}
	return false
}

func opusRateError(sampleRate int) error {
	return fmt.Errorf("pcm: opus supports 8000/12000/16000/24000/48000 Hz, not %d Hz", sampleRate)
}

// Encode converts interleaved int16 samples to framed Opus packets.
func (c *OpusCodec) Encode(samples []int16, sampleRate, channels int) ([]byte, error) {
	if !c.SupportsRate(sampleRate) {
		return nil, opusRateError(sampleRate)
	}
	enc, err := opus.NewEncoder(sampleRate, channels, opus.AppAudio)
	if err != nil {
		return nil, fmt.Errorf("pcm: opus encoder: %w", err)
	}

	frameSamples := sampleRate * opusFrameMs / 1000 * channels
	out := make([]byte, 4, 4+len(samples)/4)
	binary.LittleEndian.PutUint32(out[:4], uint32(len(samples)))

	packet := make([]byte, opusMaxPacket)
	for off := 0; off < len(samples); off += frameSamples {
		frame := make([]int16, frameSamples)
		copy(frame, samples[off:min(off+frameSamples, len(samples))])

		n, err := enc.Encode(frame, packet)
		if err != nil {
			return nil, fmt.Errorf("pcm: opus encode: %w", err)
		}
		var hdr [2]byte
		binary.LittleEndian.PutUint16(hdr[:], uint16(n))
		out = append(out, hdr[:]...)
		out = append(out, packet[:n]...)
	}
	return out, nil
}

// Decode converts framed Opus packets back to interleaved int16 samples.
func (c *OpusCodec) Decode(data []byte, sampleRate, channels int) ([]int16, error) {
	if !c.SupportsRate(sampleRate) {
		return nil, opusRateError(sampleRate)
	}
	if len(data) < 4 {
		return nil, fmt.Errorf("pcm: opus payload too short: %d bytes", len(data))
	}
	dec, err := opus.NewDecoder(sampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("pcm: opus decoder: %w", err)
	}

	total := int(binary.LittleEndian.Uint32(data[:4]))
	data = data[4:]

	frameSamples := sampleRate * opusFrameMs / 1000 * channels
	out := make([]int16, 0, total)
	frame := make([]int16, frameSamples)
	for len(data) >= 2 {
		n := int(binary.LittleEndian.Uint16(data[:2]))
		data = data[2:]
		if n > len(data) {
			return nil, fmt.Errorf("pcm: truncated opus packet: want %d, have %d", n, len(data))
		}
		perChannel, err := dec.Decode(data[:n], frame)
		if err != nil {
			return nil, fmt.Errorf("pcm: opus decode: %w", err)
		}
		out = append(out, frame[:perChannel*channels]...)
		data = data[n:]
	}
	if len(out) > total {
		out = out[:total]
	}
	return out, nil
}
