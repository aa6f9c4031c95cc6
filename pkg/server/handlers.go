package server

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/jfelder/masterstream/pkg/dsp"
	"github.com/jfelder/masterstream/pkg/processor"
	"github.com/jfelder/masterstream/pkg/track"
)

func (s *Server) handleTracks(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"tracks": s.store.Tracks()})
}

func (s *Server) handlePresets(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"presets": dsp.PresetNames()})
}

// handleChunk is the pull alternative to the stream: one processed chunk
// per request. Response headers carry the cache tier the chunk came from,
// build time, and the resolved parameters, so clients and tests can see
// exactly what was served.
func (s *Server) handleChunk(c *fiber.Ctx) error {
	trackID := c.Query("track")
	if trackID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "track is required"})
	}
	index, err := strconv.Atoi(c.Query("index", "0"))
	if err != nil || index < 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "index must be a non-negative integer"})
	}
	preset := c.Query("preset", "flat")
	intensity, err := strconv.ParseFloat(c.Query("intensity", "1.0"), 64)
	if err != nil || intensity < 0 || intensity > 1 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "intensity must be in [0,1]"})
	}
	enhanced := c.Query("enhanced", "true") != "false"
	if enhanced {
		if _, err := dsp.PresetByName(preset); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
		}
	}

	meta, err := s.store.Track(trackID)
	if err != nil {
		if track.IsNotFound(err) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": processor.PublicMessage(err)})
	}
	if count := meta.ChunkCount(s.procCfg.ChunkFrames(meta.SampleRate)); index >= count {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": fmt.Sprintf("index %d out of range, track has %d chunks", index, count),
		})
	}

	key := track.ChunkKey{
		TrackID:   trackID,
		Index:     index,
		Preset:    preset,
		Intensity: intensity,
		Enhanced:  enhanced,
	}

	// Pull requests pin nothing long-term: a throwaway session ID keeps the
	// Hot tier scoped to websocket streams.
	pullID := "pull-" + uuid.New().String()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	entry, lookup, err := s.cache.Resolve(ctx, key, pullID)
	s.cache.ReleaseSession(pullID)
	if err != nil {
		status := fiber.StatusInternalServerError
		switch processor.ErrorCode(err) {
		case processor.CodeOverloaded:
			status = fiber.StatusServiceUnavailable
		case processor.CodeSourceUnreadable:
			status = fiber.StatusNotFound
		case processor.CodeProtocolViolation:
			status = fiber.StatusBadRequest
		case processor.CodeTimeout:
			status = fiber.StatusGatewayTimeout
		}
		return c.Status(status).JSON(fiber.Map{"error": processor.PublicMessage(err), "code": processor.ErrorCode(err)})
	}

	tier := lookup.Tier.String()
	if lookup.Built {
		tier = "built"
	}
	c.Set("X-Cache-Tier", tier)
	c.Set("X-Process-Ms", strconv.FormatInt(lookup.Elapsed.Milliseconds(), 10))
	c.Set("X-Chunk-Index", strconv.Itoa(index))
	c.Set("X-Preset", preset)
	c.Set("X-Intensity", strconv.FormatFloat(intensity, 'f', 2, 64))
	c.Set("X-Enhanced", strconv.FormatBool(enhanced))
	c.Set("X-Codec", entry.Codec)
	c.Set("X-Sample-Count", strconv.Itoa(entry.SampleCount))
	c.Set("X-Crossfade-Samples", strconv.Itoa(int(entry.CrossfadeFrames)*meta.Channels))
	c.Set(fiber.HeaderContentType, "application/octet-stream")
	return c.Send(entry.Bytes)
}

func (s *Server) handleStats(c *fiber.Ctx) error {
	stats := s.cache.Stats()
	return c.JSON(fiber.Map{
		"uptime_seconds": int64(time.Since(s.startedAt).Seconds()),
		"sessions":       s.SessionCount(),
		"dsp_streams":    s.proc.StreamCount(),
		"cache": fiber.Map{
			"hits":            stats.Hits,
			"misses":          stats.Misses,
			"hot_hits":        stats.HotHits,
			"predictive_hits": stats.PredictiveHits,
			"full_hits":       stats.FullHits,
			"disk_hits":       stats.DiskHits,
			"builds":          stats.Builds,
			"coalesced":       stats.Coalesced,
			"evictions":       stats.Evictions,
			"corruptions":     stats.Corruptions,
			"prefetches":      stats.Prefetches,
		},
	})
}
