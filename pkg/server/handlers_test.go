package server

import (
	"encoding/json"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/jfelder/masterstream/pkg/cache"
	"github.com/jfelder/masterstream/pkg/pcm"
	"github.com/jfelder/masterstream/pkg/processor"
	"github.com/jfelder/masterstream/pkg/session"
	"github.com/jfelder/masterstream/pkg/track"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	store := track.NewToneStore()
	// 8000 Hz stereo, five 0.1s chunks.
	store.AddTone("song", 8000, 2, 4000)

	procCfg := processor.DefaultConfig()
	procCfg.ChunkSeconds = 0.1
	procCfg.OverlapMillis = 10
	proc, err := processor.New(store, pcm.RawCodec{}, procCfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { proc.Close() })

	tierCache, err := cache.New(proc, store, cache.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { tierCache.Close() })

	pf := cache.NewPrefetcher(tierCache, 1, 2)
	t.Cleanup(pf.Close)

	return New("127.0.0.1:0", store, tierCache, pf, proc, procCfg, session.DefaultConfig())
}

func TestTracksEndpoint(t *testing.T) {
	srv := newTestServer(t)

	resp, err := srv.App().Test(httptest.NewRequest("GET", "/api/tracks", nil))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Fatalf("status %d", resp.StatusCode)
	}

	var body struct {
		Tracks []struct {
			ID         string `json:"id"`
			SampleRate int    `json:"sample_rate"`
		} `json:"tracks"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if len(body.Tracks) != 1 || body.Tracks[0].ID != "song" || body.Tracks[0].SampleRate != 8000 {
		t.Errorf("got %+v", body.Tracks)
	}
}

func TestPresetsEndpoint(t *testing.T) {
	srv := newTestServer(t)

	resp, err := srv.App().Test(httptest.NewRequest("GET", "/api/presets", nil))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var body struct {
		Presets []string `json:"presets"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if len(body.Presets) == 0 {
		t.Error("no presets listed")
	}
}

func TestChunkEndpointHeaders(t *testing.T) {
	srv := newTestServer(t)
	url := "/api/chunk?track=song&index=1&preset=warm&intensity=1.0"

	resp, err := srv.App().Test(httptest.NewRequest("GET", url, nil), 10000)
	if err != nil {
		t.Fatal(err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != 200 {
		t.Fatalf("status %d: %s", resp.StatusCode, body)
	}

	if got := resp.Header.Get("X-Cache-Tier"); got != "built" {
		t.Errorf("X-Cache-Tier %q, want built on first request", got)
	}
	if resp.Header.Get("X-Process-Ms") == "" {
		t.Error("X-Process-Ms missing")
	}
	if got := resp.Header.Get("X-Preset"); got != "warm" {
		t.Errorf("X-Preset %q, want warm", got)
	}
	if got := resp.Header.Get("X-Enhanced"); got != "true" {
		t.Errorf("X-Enhanced %q, want true", got)
	}
	if got := resp.Header.Get("X-Codec"); got != "pcm16" {
		t.Errorf("X-Codec %q, want pcm16", got)
	}
	// 0.1s at 8000 Hz stereo is 1600 samples of pcm16.
	if len(body) != 1600*2 {
		t.Errorf("payload %d bytes, want 3200", len(body))
	}

	// Same chunk again comes from cache.
	resp2, err := srv.App().Test(httptest.NewRequest("GET", url, nil), 10000)
	if err != nil {
		t.Fatal(err)
	}
	resp2.Body.Close()
	if got := resp2.Header.Get("X-Cache-Tier"); got == "built" {
		t.Errorf("second request rebuilt, tier %q", got)
	}
}

func TestChunkEndpointBadRequests(t *testing.T) {
	srv := newTestServer(t)

	cases := []struct {
		url    string
		status int
	}{
		{"/api/chunk", 400},
		{"/api/chunk?track=song&index=-1", 400},
		{"/api/chunk?track=song&index=999", 400},
		{"/api/chunk?track=song&intensity=7", 400},
		{"/api/chunk?track=song&preset=metal", 400},
		{"/api/chunk?track=missing&index=0", 404},
	}
	for _, tc := range cases {
		resp, err := srv.App().Test(httptest.NewRequest("GET", tc.url, nil), 10000)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != tc.status {
			t.Errorf("%s: status %d, want %d", tc.url, resp.StatusCode, tc.status)
		}
	}
}

func TestStatsEndpoint(t *testing.T) {
	srv := newTestServer(t)

	// Build one chunk so the counters move.
	resp, err := srv.App().Test(httptest.NewRequest("GET", "/api/chunk?track=song&index=0", nil), 10000)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()

	resp, err = srv.App().Test(httptest.NewRequest("GET", "/api/stats", nil))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var body struct {
		Sessions int `json:"sessions"`
		Cache    struct {
			Builds int64 `json:"builds"`
			Misses int64 `json:"misses"`
		} `json:"cache"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Cache.Builds != 1 || body.Cache.Misses != 1 {
		t.Errorf("cache stats %+v, want one build and one miss", body.Cache)
	}
	if body.Sessions != 0 {
		t.Errorf("sessions %d, want 0", body.Sessions)
	}
}
