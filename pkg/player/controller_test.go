package player

import (
	"encoding/base64"
	"testing"

	"github.com/jfelder/masterstream/pkg/pcm"
	"github.com/jfelder/masterstream/pkg/protocol"
)

func header(gen uint64, sampleRate, channels int) *protocol.StreamStartData {
	return &protocol.StreamStartData{
		TrackID:       "song",
		SampleRate:    sampleRate,
		Channels:      channels,
		TotalChunks:   100,
		ChunkDuration: 1.0,
		TotalDuration: 100.0,
		Generation:    gen,
	}
}

func chunk(gen uint64, index, sampleCount int) *protocol.ChunkData {
	samples := make([]int16, sampleCount)
	for i := range samples {
		samples[i] = int16(i % 1000)
	}
	return &protocol.ChunkData{
		Index:       index,
		ChunkCount:  100,
		Generation:  gen,
		SampleCount: sampleCount,
		Samples:     base64.StdEncoding.EncodeToString(pcm.Int16ToBytes(samples)),
		Codec:       "pcm16",
	}
}

func newTestController() (*Controller, *MockSink) {
	sink := NewMockSink()
	// 2 seconds of buffered audio before playback starts.
	ctrl := NewController(Config{StartSeconds: 2.0, BufferSeconds: 30.0}, sink)
	return ctrl, sink
}

func feed(t *testing.T, ctrl *Controller, d *protocol.ChunkData) bool {
	t.Helper()
	ok, err := ctrl.OnChunk(d)
	if err != nil {
		t.Fatal(err)
	}
	return ok
}

func TestAutoStartExactThresholdStereo(t *testing.T) {
	ctrl, sink := newTestController()
	ctrl.OnStreamStart(header(1, 1000, 2))

	// Threshold is 2s * 1000 Hz * 2 channels = 4000 samples.
	feed(t, ctrl, chunk(1, 0, 3999))
	if sink.Starts() != 0 {
		t.Fatal("started one sample below the threshold")
	}
	if ctrl.State() != PlayFilling {
		t.Fatalf("state %v, want filling", ctrl.State())
	}

	feed(t, ctrl, chunk(1, 1, 1))
	if sink.Starts() != 1 {
		t.Fatal("did not start at the threshold")
	}
	if ctrl.State() != PlayPlaying {
		t.Fatalf("state %v, want playing", ctrl.State())
	}
	if rate, ch := sink.Shape(); rate != 1000 || ch != 2 {
		t.Errorf("sink shape %d/%d, want 1000/2", rate, ch)
	}
}

func TestAutoStartExactThresholdMono(t *testing.T) {
	ctrl, sink := newTestController()
	ctrl.OnStreamStart(header(1, 1000, 1))

	// Mono halves the threshold: 2000 samples.
	feed(t, ctrl, chunk(1, 0, 1999))
	if sink.Starts() != 0 {
		t.Fatal("started below the mono threshold")
	}
	feed(t, ctrl, chunk(1, 1, 1))
	if sink.Starts() != 1 {
		t.Fatal("did not start at the mono threshold")
	}
}

func TestAutoStartIdempotent(t *testing.T) {
	ctrl, sink := newTestController()
	ctrl.OnStreamStart(header(1, 1000, 2))

	for i := 0; i < 5; i++ {
		feed(t, ctrl, chunk(1, i, 4000))
	}
	if sink.Starts() != 1 {
		t.Errorf("started %d times, want 1", sink.Starts())
	}
}

func TestStaleGenerationRejected(t *testing.T) {
	ctrl, _ := newTestController()
	ctrl.OnStreamStart(header(2, 1000, 2))

	if feed(t, ctrl, chunk(1, 0, 100)) {
		t.Error("accepted a chunk from a superseded generation")
	}
	if !feed(t, ctrl, chunk(2, 0, 100)) {
		t.Error("rejected a current-generation chunk")
	}
	if ctrl.Dropped() != 1 {
		t.Errorf("dropped %d, want 1", ctrl.Dropped())
	}
}

func TestStaleIndexRejected(t *testing.T) {
	ctrl, _ := newTestController()
	ctrl.OnStreamStart(header(1, 1000, 2))

	feed(t, ctrl, chunk(1, 3, 100))
	if feed(t, ctrl, chunk(1, 3, 100)) {
		t.Error("accepted a duplicate chunk")
	}
	if feed(t, ctrl, chunk(1, 2, 100)) {
		t.Error("accepted an out-of-order old chunk")
	}
	if !feed(t, ctrl, chunk(1, 4, 100)) {
		t.Error("rejected the next chunk")
	}
}

func TestUnderrunPausesThenResumes(t *testing.T) {
	ctrl, sink := newTestController()
	ctrl.OnStreamStart(header(1, 1000, 2))
	feed(t, ctrl, chunk(1, 0, 4000))
	if ctrl.State() != PlayPlaying {
		t.Fatalf("state %v, want playing", ctrl.State())
	}

	// Drain past what is buffered: mid-stream that is an underrun.
	buf := make([]int16, 5000)
	n := ctrl.Read(buf)
	if n != 4000 {
		t.Fatalf("read %d, want 4000", n)
	}
	if ctrl.State() != PlayPaused {
		t.Fatalf("state %v, want paused", ctrl.State())
	}
	if sink.Pauses() != 1 {
		t.Errorf("pauses %d, want 1", sink.Pauses())
	}
	for i := 4000; i < 5000; i++ {
		if buf[i] != 0 {
			t.Fatal("underrun region must be silence")
		}
	}

	// Paused reads return silence until the buffer recovers.
	if n := ctrl.Read(buf[:100]); n != 0 {
		t.Errorf("paused read returned %d samples", n)
	}

	feed(t, ctrl, chunk(1, 1, 4000))
	if n := ctrl.Read(buf[:100]); n != 100 {
		t.Errorf("resumed read returned %d, want 100", n)
	}
	if ctrl.State() != PlayPlaying {
		t.Fatalf("state %v, want playing after recovery", ctrl.State())
	}
	if sink.Resumes() != 1 {
		t.Errorf("resumes %d, want 1", sink.Resumes())
	}
}

func TestSeekDiscardsBufferedAudio(t *testing.T) {
	ctrl, _ := newTestController()
	ctrl.OnStreamStart(header(1, 1000, 2))
	feed(t, ctrl, chunk(1, 0, 4000))

	ctrl.PrepareSeek()
	ctrl.OnStreamStart(header(2, 1000, 2))

	if ctrl.Buffered() != 0 {
		t.Errorf("buffered %d after seek, want 0", ctrl.Buffered())
	}
	if ctrl.State() != PlayFilling {
		t.Errorf("state %v, want filling", ctrl.State())
	}
}

func TestPresetChangeDrainsBufferedAudio(t *testing.T) {
	ctrl, sink := newTestController()
	ctrl.OnStreamStart(header(1, 1000, 2))
	feed(t, ctrl, chunk(1, 0, 4000))
	if ctrl.State() != PlayPlaying {
		t.Fatal("expected playback running")
	}

	// A preset change bumps the generation without a seek: old audio keeps
	// draining, new-generation chunks queue behind it.
	ctrl.OnStreamStart(header(2, 1000, 2))
	if ctrl.Buffered() != 4000 {
		t.Errorf("buffered %d, want 4000 (no discard)", ctrl.Buffered())
	}
	if ctrl.State() != PlayPlaying {
		t.Errorf("state %v, want playing", ctrl.State())
	}
	if feed(t, ctrl, chunk(1, 1, 100)) {
		t.Error("old-generation chunk accepted after preset change")
	}
	if !feed(t, ctrl, chunk(2, 1, 100)) {
		t.Error("new-generation chunk rejected")
	}
	if sink.Starts() != 1 {
		t.Errorf("starts %d, want 1", sink.Starts())
	}
}

func TestStreamEndDrainsToDone(t *testing.T) {
	ctrl, sink := newTestController()
	ctrl.OnStreamStart(header(1, 1000, 2))
	feed(t, ctrl, chunk(1, 0, 4000))
	ctrl.OnStreamEnd(&protocol.StreamEndData{TrackID: "song"})

	buf := make([]int16, 4000)
	ctrl.Read(buf)
	// The ring is empty and the stream ended: that is completion, not an
	// underrun.
	ctrl.Read(buf[:10])
	if ctrl.State() != PlayDone {
		t.Fatalf("state %v, want done", ctrl.State())
	}
	if sink.Pauses() != 0 {
		t.Errorf("pauses %d, want 0", sink.Pauses())
	}
}

func TestShortTrackStartsOnStreamEnd(t *testing.T) {
	ctrl, sink := newTestController()
	ctrl.OnStreamStart(header(1, 1000, 2))
	// Less audio than the start threshold in the whole track.
	feed(t, ctrl, chunk(1, 0, 500))
	if sink.Starts() != 0 {
		t.Fatal("short track started before stream end")
	}
	ctrl.OnStreamEnd(&protocol.StreamEndData{TrackID: "song"})
	if sink.Starts() != 1 {
		t.Error("short track never started")
	}
}
