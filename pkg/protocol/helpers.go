package protocol

import (
	"encoding/base64"
	"time"
)

// =============================================================================
// Helper functions for creating messages
// =============================================================================

// NewStartMessage creates a start request
func NewStartMessage(trackID, preset string, intensity float64, enhanced bool) (*Message, error) {
	return NewMessage(TypeStart, StartData{
		TrackID:   trackID,
		Preset:    preset,
		Intensity: intensity,
		Enhanced:  enhanced,
	})
}

// NewSeekMessage creates a seek request
func NewSeekMessage(positionSeconds float64) (*Message, error) {
	return NewMessage(TypeSeek, SeekData{
		PositionSeconds: positionSeconds,
	})
}

// NewPresetChangeMessage creates a preset change request
func NewPresetChangeMessage(preset string, intensity float64, enhanced bool) (*Message, error) {
	return NewMessage(TypePresetChange, PresetChangeData{
		Preset:    preset,
		Intensity: intensity,
		Enhanced:  enhanced,
	})
}

// NewStopMessage creates a stop request
func NewStopMessage() (*Message, error) {
	return NewMessage(TypeStop, StopData{})
}

// NewStreamStartMessage creates the stream header message
func NewStreamStartMessage(d StreamStartData) (*Message, error) {
	return NewMessage(TypeStreamStart, d)
}

// NewChunkMessage creates a chunk message from encoded audio bytes
func NewChunkMessage(index, chunkCount int, generation uint64, sampleCount int, encoded []byte, crossfadeSamples int, codec string) (*Message, error) {
	return NewMessage(TypeChunk, ChunkData{
		Index:            index,
		ChunkCount:       chunkCount,
		Generation:       generation,
		SampleCount:      sampleCount,
		Samples:          base64.StdEncoding.EncodeToString(encoded),
		CrossfadeSamples: crossfadeSamples,
		Codec:            codec,
	})
}

// NewStreamEndMessage creates a stream end message
func NewStreamEndMessage(trackID string, totalSamples int64, duration float64) (*Message, error) {
	return NewMessage(TypeStreamEnd, StreamEndData{
		TrackID:      trackID,
		TotalSamples: totalSamples,
		Duration:     duration,
	})
}

// NewStreamErrorMessage creates a stream error message
func NewStreamErrorMessage(trackID, errMsg, code string, retryable, fatal bool) (*Message, error) {
	return NewMessage(TypeStreamError, StreamErrorData{
		TrackID:   trackID,
		Error:     errMsg,
		Code:      code,
		Retryable: retryable,
		Fatal:     fatal,
	})
}

// NewPingMessage creates a ping message stamped with the send time, which
// the peer echoes back as PingTS for round-trip measurement.
func NewPingMessage(id string) (*Message, error) {
	return NewMessage(TypePing, PingData{
		ID:        id,
		Timestamp: time.Now().UnixMilli(),
	})
}

// NewPongMessage creates a pong response message
func NewPongMessage(id string, pingTS, pongTS int64) (*Message, error) {
	return NewMessage(TypePong, PongData{
		ID:        id,
		PingTS:    pingTS,
		PongTS:    pongTS,
		LatencyMs: pongTS - pingTS,
	})
}

// =============================================================================
// Helper functions for parsing messages
// =============================================================================

// GetStartData extracts a start request from a message
func (m *Message) GetStartData() (*StartData, error) {
	var data StartData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetSeekData extracts a seek request from a message
func (m *Message) GetSeekData() (*SeekData, error) {
	var data SeekData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetPresetChangeData extracts a preset change request from a message
func (m *Message) GetPresetChangeData() (*PresetChangeData, error) {
	var data PresetChangeData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetStreamStartData extracts the stream header from a message
func (m *Message) GetStreamStartData() (*StreamStartData, error) {
	var data StreamStartData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetChunkData extracts chunk data from a message
func (m *Message) GetChunkData() (*ChunkData, error) {
	var data ChunkData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// DecodeSamples decodes the base64 chunk payload
func (c *ChunkData) DecodeSamples() ([]byte, error) {
	return base64.StdEncoding.DecodeString(c.Samples)
}

// GetStreamEndData extracts stream end data from a message
func (m *Message) GetStreamEndData() (*StreamEndData, error) {
	var data StreamEndData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetStreamErrorData extracts stream error data from a message
func (m *Message) GetStreamErrorData() (*StreamErrorData, error) {
	var data StreamErrorData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetPingData extracts ping data from a message
func (m *Message) GetPingData() (*PingData, error) {
	var data PingData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}

// GetPongData extracts pong data from a message
func (m *Message) GetPongData() (*PongData, error) {
	var data PongData
	if err := m.ParseData(&data); err != nil {
		return nil, err
	}
	return &data, nil
}
