package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/jfelder/masterstream/internal/config"
	"github.com/jfelder/masterstream/internal/log"
	"github.com/jfelder/masterstream/pkg/cache"
	"github.com/jfelder/masterstream/pkg/pcm"
	"github.com/jfelder/masterstream/pkg/processor"
	"github.com/jfelder/masterstream/pkg/server"
	"github.com/jfelder/masterstream/pkg/session"
	"github.com/jfelder/masterstream/pkg/track"
)

func main() {
	addr := flag.String("addr", config.Addr(), "Listen address")
	mediaDir := flag.String("media", config.MediaDir(), "Directory of WAV tracks (empty uses built-in test tones)")
	cacheDir := flag.String("cache-dir", config.CacheDir(), "Persistent chunk cache directory (empty disables)")
	codecName := flag.String("codec", config.Env("MASTERD_CODEC", "pcm16"), "Chunk codec: pcm16 or opus (opus requires 8/12/16/24/48 kHz tracks)")
	chunkSeconds := flag.Float64("chunk-seconds", config.EnvFloat("MASTERD_CHUNK_SECONDS", 5.0), "Chunk duration")
	overlapMillis := flag.Int("overlap-ms", config.EnvInt("MASTERD_OVERLAP_MS", 100), "Crossfade overlap between chunks")
	maxConcurrent := flag.Int("max-concurrent", config.EnvInt("MASTERD_MAX_CONCURRENT", 8), "Concurrent chunk builds")
	flag.Parse()

	log.Init(config.LogLevel())

	store, err := openStore(*mediaDir)
	if err != nil {
		log.Error("track store unavailable", "dir", *mediaDir, "err", err)
		os.Exit(1)
	}

	codec, err := pcm.ByName(*codecName)
	if err != nil {
		log.Error("unknown codec", "codec", *codecName, "err", err)
		os.Exit(1)
	}
	if oc, ok := codec.(*pcm.OpusCodec); ok {
		for _, t := range store.Tracks() {
			if !oc.SupportsRate(t.SampleRate) {
				log.Error("track sample rate unsupported by opus codec",
					"track", t.ID, "rate", t.SampleRate, "supported", "8000/12000/16000/24000/48000")
				os.Exit(1)
			}
		}
	}

	procCfg := processor.DefaultConfig()
	procCfg.ChunkSeconds = *chunkSeconds
	procCfg.OverlapMillis = *overlapMillis
	procCfg.MaxConcurrent = *maxConcurrent
	proc, err := processor.New(store, codec, procCfg)
	if err != nil {
		log.Error("processor init failed", "err", err)
		os.Exit(1)
	}
	defer proc.Close()

	cacheCfg := cache.DefaultConfig()
	cacheCfg.Dir = *cacheDir
	tierCache, err := cache.New(proc, store, cacheCfg)
	if err != nil {
		log.Error("cache init failed", "err", err)
		os.Exit(1)
	}
	defer tierCache.Close()

	prefetchWorkers := *maxConcurrent / 4
	if prefetchWorkers < 1 {
		prefetchWorkers = 1
	}
	prefetcher := cache.NewPrefetcher(tierCache, prefetchWorkers, 3)
	defer prefetcher.Close()

	srv := server.New(*addr, store, tierCache, prefetcher, proc, procCfg, session.DefaultConfig())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("shutting down")
		if err := srv.Shutdown(); err != nil {
			log.Warn("shutdown error", "err", err)
		}
	}()

	log.Info("masterd starting",
		"addr", *addr, "media", *mediaDir, "cache_dir", *cacheDir,
		"codec", codec.Name(), "chunk_seconds", *chunkSeconds)
	if err := srv.Start(); err != nil {
		log.Error("server exited", "err", err)
		os.Exit(1)
	}
}

// openStore serves real WAV files when a media directory is given, falling
// back to deterministic test tones for development.
func openStore(mediaDir string) (track.Store, error) {
	if mediaDir == "" {
		tones := track.NewToneStore()
		tones.AddTone("tone-a", 44100, 2, 44100*180)
		tones.AddTone("tone-b", 44100, 2, 44100*90)
		return tones, nil
	}
	wavs, err := track.NewWAVStore(mediaDir)
	if err != nil {
		return nil, err
	}
	return wavs, nil
}
