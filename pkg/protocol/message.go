// Package protocol defines the WebSocket message types for player-server
// streaming. This package is shared between masterd (server) and the
// player client.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType identifies the type of WebSocket message
type MessageType string

const (
	// Client → Server messages
	TypeStart        MessageType = "start"         // Begin streaming a track
	TypeSeek         MessageType = "seek"          // Jump to a position
	TypePresetChange MessageType = "preset_change" // Switch mastering preset
	TypeStop         MessageType = "stop"          // End the stream

	// Server → Client messages
	TypeStreamStart MessageType = "stream_start" // Stream metadata header
	TypeChunk       MessageType = "chunk"        // One processed audio chunk
	TypeStreamEnd   MessageType = "stream_end"   // All chunks delivered
	TypeStreamError MessageType = "stream_error" // Terminal or protocol error

	// Bidirectional
	TypePing MessageType = "ping" // Health check
	TypePong MessageType = "pong" // Health check response
)

// Message is the base wrapper for all WebSocket messages
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp int64           `json:"ts,omitempty"` // Unix milliseconds
	Data      json.RawMessage `json:"data,omitempty"`
}

// NewMessage creates a new message with the current timestamp
func NewMessage(msgType MessageType, data interface{}) (*Message, error) {
	var rawData json.RawMessage
	if data != nil {
		var err error
		rawData, err = json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal message data: %w", err)
		}
	}

	return &Message{
		Type:      msgType,
		Timestamp: time.Now().UnixMilli(),
		Data:      rawData,
	}, nil
}

// ParseData unmarshals the message data into the provided struct
func (m *Message) ParseData(v interface{}) error {
	if m.Data == nil {
		return nil
	}
	return json.Unmarshal(m.Data, v)
}

// Bytes returns the JSON-encoded message
func (m *Message) Bytes() ([]byte, error) {
	return json.Marshal(m)
}

// ParseMessage parses a JSON message from bytes
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}
	return &msg, nil
}

// =============================================================================
// Client → Server Message Types
// =============================================================================

// StartData requests streaming of a track from chunk zero.
type StartData struct {
	TrackID   string  `json:"track_id"`
	Preset    string  `json:"preset"`
	Intensity float64 `json:"intensity"` // 0.0 to 1.0
	Enhanced  bool    `json:"enhanced"`  // false streams the untouched original
}

// SeekData requests a jump to a playback position.
type SeekData struct {
	PositionSeconds float64 `json:"position_seconds"`
}

// PresetChangeData switches the mastering preset mid-stream.
// Already-buffered audio under the old preset is allowed to drain.
type PresetChangeData struct {
	Preset    string  `json:"preset"`
	Intensity float64 `json:"intensity"`
	Enhanced  bool    `json:"enhanced"`
}

// StopData ends the stream.
type StopData struct{}

// =============================================================================
// Server → Client Message Types
// =============================================================================

// StreamStartData carries the stream header emitted before the first chunk.
type StreamStartData struct {
	TrackID       string  `json:"track_id"`
	SampleRate    int     `json:"sample_rate"`
	Channels      int     `json:"channels"`
	TotalChunks   int     `json:"total_chunks"`
	ChunkDuration float64 `json:"chunk_duration"` // seconds
	TotalDuration float64 `json:"total_duration"` // seconds
	Generation    uint64  `json:"generation"`     // bumped on seek/preset change
}

// ChunkData carries one processed audio chunk.
// Samples is base64-encoded chunk payload in the named codec.
type ChunkData struct {
	Index            int    `json:"index"`
	ChunkCount       int    `json:"chunk_count"`
	Generation       uint64 `json:"generation"`
	SampleCount      int    `json:"sample_count"` // interleaved samples, all channels
	Samples          string `json:"samples"`      // base64 encoded
	CrossfadeSamples int    `json:"crossfade_samples"`
	Codec            string `json:"codec"` // "pcm16", "opus"
}

// StreamEndData signals that the final chunk has been delivered.
type StreamEndData struct {
	TrackID      string  `json:"track_id"`
	TotalSamples int64   `json:"total_samples"`
	Duration     float64 `json:"duration"` // seconds
}

// StreamErrorData reports a stream failure. Code is a stable machine-readable
// identifier; Error is the human-readable message. Fatal errors terminate the
// session; protocol violations leave it usable.
type StreamErrorData struct {
	TrackID   string `json:"track_id,omitempty"`
	Error     string `json:"error"`
	Code      string `json:"code"`
	Retryable bool   `json:"retryable"`
	Fatal     bool   `json:"fatal"`
}

// =============================================================================
// Bidirectional Message Types
// =============================================================================

// PingData contains ping information
type PingData struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"ts"`
}

// PongData contains pong response
type PongData struct {
	ID        string `json:"id"`
	PingTS    int64  `json:"ping_ts"`
	PongTS    int64  `json:"pong_ts"`
	LatencyMs int64  `json:"latency_ms"`
}
