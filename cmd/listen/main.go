package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jfelder/masterstream/internal/config"
	"github.com/jfelder/masterstream/internal/log"
	"github.com/jfelder/masterstream/pkg/player"
	"github.com/jfelder/masterstream/pkg/protocol"
)

// listen is a headless client: it streams a track, drains audio at real
// time through the playback controller, and reports progress. Useful for
// soak-testing a server without an audio device.
func main() {
	url := flag.String("url", config.Env("MASTERD_URL", "ws://localhost:8090/ws/stream"), "Stream endpoint")
	trackID := flag.String("track", "tone-a", "Track ID to play")
	preset := flag.String("preset", "warm", "Mastering preset")
	intensity := flag.Float64("intensity", 1.0, "Preset intensity 0..1")
	enhanced := flag.Bool("enhanced", true, "Apply mastering (false streams the original)")
	seekTo := flag.Float64("seek", -1, "Seek to this position (seconds) after 5s of playback")
	flag.Parse()

	log.Init(config.LogLevel())

	sink := player.NewMockSink()
	ctrl := player.NewController(player.DefaultConfig(), sink)
	client := player.NewClient(ctrl)

	client.OnError = func(d *protocol.StreamErrorData) {
		if d.Fatal {
			log.Error("stream failed", "code", d.Code, "err", d.Error)
			os.Exit(1)
		}
	}

	if err := client.Connect(*url); err != nil {
		log.Error("connect failed", "url", *url, "err", err)
		os.Exit(1)
	}
	defer client.Close()

	if err := client.Start(*trackID, *preset, *intensity, *enhanced); err != nil {
		log.Error("start failed", "err", err)
		os.Exit(1)
	}
	log.Info("streaming", "track", *trackID, "preset", *preset, "intensity", *intensity)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Drain at real time: 100ms of stereo 44.1k audio per tick. The rate
	// only matters once playback starts, so the fixed shape is fine for a
	// progress probe.
	const quantum = 44100 / 10 * 2
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	start := time.Now()
	seeked := false
	var drained int64
	for {
		select {
		case <-sigChan:
			log.Info("interrupted", "drained_samples", drained)
			client.Stop()
			return
		case <-client.Done():
			log.Info("connection closed", "drained_samples", drained)
			return
		case <-ticker.C:
			buf := make([]int16, quantum)
			drained += int64(ctrl.Read(buf))

			if *seekTo >= 0 && !seeked && time.Since(start) > 5*time.Second {
				seeked = true
				log.Info("seeking", "position", *seekTo)
				if err := client.Seek(*seekTo); err != nil {
					log.Warn("seek failed", "err", err)
				}
			}
			if ctrl.State() == player.PlayDone {
				log.Info("playback complete",
					"drained_samples", drained,
					"stale_chunks_dropped", ctrl.Dropped())
				client.Stop()
				return
			}
		}
	}
}
