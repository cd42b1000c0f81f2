package main

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/himanishpuri/ReverseMapper/internal/archive"
	"github.com/himanishpuri/ReverseMapper/internal/replay"
	"github.com/himanishpuri/ReverseMapper/internal/session"
	"github.com/himanishpuri/ReverseMapper/pkg/logger"
	"github.com/himanishpuri/ReverseMapper/pkg/reversemapper"
)

const serverChart = `osu file format v14

[General]
AudioFilename: audio.ogg

[Metadata]
Title:Song
Artist:Someone
Version:Normal

[Difficulty]
CircleSize:4

[TimingPoints]
0,500,4,2,1,60,1,0

[HitObjects]
`

func newTestServer(t *testing.T, opts ...reversemapper.Option) (*Server, http.Handler) {
	t.Helper()
	logger.SetLevel(logger.ERROR)
	dir := t.TempDir()
	svc, err := reversemapper.NewService(append([]reversemapper.Option{
		reversemapper.WithLogger(logger.Discard()),
		reversemapper.WithDBPath(filepath.Join(dir, "history.sqlite3")),
		reversemapper.WithOutDir(filepath.Join(dir, "out")),
	}, opts...)...)
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	t.Cleanup(func() { svc.Close() })

	s := NewServer(svc, &ServerConfig{
		Addr:           ":0",
		DBPath:         filepath.Join(dir, "history.sqlite3"),
		MaxUploadBytes: 10 << 20,
		AllowedOrigins: []string{"*"},
		Settings:       session.DefaultSettings(),
	})
	s.log = logger.Discard()
	return s, s.setupRoutes()
}

func uploadRequest(t *testing.T, chartText, settings string) *http.Request {
	t.Helper()
	osz, err := archive.Build([]archive.Entry{
		{Name: "Someone - Song (mapper) [Normal].osu", Data: []byte(chartText)},
		{Name: "audio.ogg", Data: []byte("OggS")},
	})
	if err != nil {
		t.Fatal(err)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, err := mw.CreateFormFile("archive", "song.osz")
	if err != nil {
		t.Fatal(err)
	}
	fw.Write(osz)
	if settings != "" {
		mw.WriteField("settings", settings)
	}
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/sessions", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func do(t *testing.T, h http.Handler, req *http.Request, wantStatus int, out any) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != wantStatus {
		t.Fatalf("%s %s: expected status %d, got %d: %s", req.Method, req.URL.Path, wantStatus, rec.Code, rec.Body.String())
	}
	if out != nil {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			t.Fatalf("decoding response: %v", err)
		}
	}
	return rec
}

func jsonRequest(method, path, body string) *http.Request {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestCaptureFlow(t *testing.T) {
	s, h := newTestServer(t)

	var sess SessionResponse
	do(t, h, uploadRequest(t, serverChart, `{"seed": 42, "mods": "HR"}`), http.StatusCreated, &sess)
	if sess.ID == "" || sess.State != "capturing" {
		t.Fatalf("unexpected session %+v", sess)
	}
	if sess.Chart.Title != "Song" || sess.Chart.TempoPoints != 1 || sess.Chart.CircleSize != 4 {
		t.Errorf("unexpected chart info %+v", sess.Chart)
	}
	if sess.Seed != 42 || sess.Mods != "HR" {
		t.Errorf("settings not applied: seed %d, mods %s", sess.Seed, sess.Mods)
	}

	base := "/api/sessions/" + sess.ID
	do(t, h, jsonRequest(http.MethodPost, base+"/ticks",
		`{"ticks":[{"t":0,"x":100,"y":100},{"t":100,"x":200,"y":150},{"t":300,"x":300,"y":200}]}`),
		http.StatusOK, &sess)
	if sess.Samples != 3 {
		t.Errorf("Expected 3 samples, got %d", sess.Samples)
	}

	var presses PressesResponse
	do(t, h, jsonRequest(http.MethodPost, base+"/presses",
		`{"presses":[{"t":130,"key":"z","x":200,"y":150},{"t":120,"key":"x","x":200,"y":150},{"t":260,"key":"q","x":300,"y":200},{"t":300,"key":"z","x":-5,"y":200}]}`),
		http.StatusOK, &presses)
	if presses.Hits != 1 || len(presses.Results) != 4 {
		t.Fatalf("unexpected presses response %+v", presses)
	}
	reasons := []string{"", "duplicate", "unbound key", "outside playfield"}
	for i, want := range reasons {
		if got := presses.Results[i].Reason; got != want {
			t.Errorf("press %d: expected reason %q, got %q", i, want, got)
		}
	}
	if presses.Results[0].SnappedMs != 125 {
		t.Errorf("Expected snap to 125, got %d", presses.Results[0].SnappedMs)
	}

	var gen GenerationDTO
	do(t, h, jsonRequest(http.MethodPost, base+"/finalize", ""), http.StatusCreated, &gen)
	if gen.Notes != 1 || gen.Seed != 42 || gen.ChartHash == "" {
		t.Errorf("unexpected generation %+v", gen)
	}

	// The session is gone once finalized.
	do(t, h, httptest.NewRequest(http.MethodGet, base, nil), http.StatusNotFound, nil)
	// Written to disk and recorded, so downloads read the files.
	if s.cachedOutput(gen.ID) != nil {
		t.Error("Expected output on disk not to be kept in memory")
	}

	rec := do(t, h, httptest.NewRequest(http.MethodGet, gen.ReplayURL, nil), http.StatusOK, nil)
	rep, err := replay.Decode(rec.Body.Bytes())
	if err != nil {
		t.Fatalf("downloaded replay does not decode: %v", err)
	}
	if rep.ChartHash != gen.ChartHash || rep.Mods != replay.ModHardRock {
		t.Errorf("unexpected replay header %+v", rep.Header)
	}
	if !strings.Contains(rec.Header().Get("Content-Disposition"), ".osr") {
		t.Errorf("unexpected Content-Disposition %q", rec.Header().Get("Content-Disposition"))
	}

	rec = do(t, h, httptest.NewRequest(http.MethodGet, gen.ChartURL, nil), http.StatusOK, nil)
	osz, err := archive.Open(rec.Body.Bytes())
	if err != nil {
		t.Fatalf("downloaded archive does not open: %v", err)
	}
	if !osz.Has("audio.ogg") {
		t.Error("Expected archive to keep its audio")
	}

	var list ListGenerationsResponse
	do(t, h, httptest.NewRequest(http.MethodGet, "/api/generations", nil), http.StatusOK, &list)
	if list.Count != 1 || list.Generations[0].ID != gen.ID {
		t.Errorf("unexpected history %+v", list)
	}
	do(t, h, httptest.NewRequest(http.MethodGet, "/api/generations?chart_hash="+gen.ChartHash, nil), http.StatusOK, &list)
	if list.Count != 1 {
		t.Errorf("Expected 1 generation for chart hash, got %d", list.Count)
	}

	var m MetricsResponse
	do(t, h, httptest.NewRequest(http.MethodGet, "/api/health/metrics", nil), http.StatusOK, &m)
	if m.Generations != 1 {
		t.Errorf("Expected 1 generation in metrics, got %d", m.Generations)
	}

	do(t, h, httptest.NewRequest(http.MethodDelete, "/api/generations/"+gen.ID+"?files=true", nil), http.StatusOK, nil)
	do(t, h, httptest.NewRequest(http.MethodGet, "/api/generations/"+gen.ID, nil), http.StatusNotFound, nil)
}

// captureOne runs a one-note capture through the API and finalizes it.
func captureOne(t *testing.T, h http.Handler) GenerationDTO {
	t.Helper()
	var sess SessionResponse
	do(t, h, uploadRequest(t, serverChart, ""), http.StatusCreated, &sess)
	base := "/api/sessions/" + sess.ID
	do(t, h, jsonRequest(http.MethodPost, base+"/ticks", `{"ticks":[{"t":0,"x":100,"y":100},{"t":200,"x":200,"y":150}]}`), http.StatusOK, nil)
	do(t, h, jsonRequest(http.MethodPost, base+"/presses", `{"presses":[{"t":130,"key":"z","x":200,"y":150}]}`), http.StatusOK, nil)

	var gen GenerationDTO
	do(t, h, jsonRequest(http.MethodPost, base+"/finalize", ""), http.StatusCreated, &gen)
	return gen
}

func TestOutputsKeptWithoutOutDir(t *testing.T) {
	s, h := newTestServer(t, reversemapper.WithOutDir(""))

	gen := captureOne(t, h)
	if s.cachedOutput(gen.ID) == nil {
		t.Fatal("Expected output to be kept in memory")
	}
	rec := do(t, h, httptest.NewRequest(http.MethodGet, gen.ReplayURL, nil), http.StatusOK, nil)
	if _, err := replay.Decode(rec.Body.Bytes()); err != nil {
		t.Errorf("downloaded replay does not decode: %v", err)
	}

	do(t, h, httptest.NewRequest(http.MethodDelete, "/api/generations/"+gen.ID, nil), http.StatusOK, nil)
	if s.cachedOutput(gen.ID) != nil || len(s.order) != 0 {
		t.Error("Expected deleted output to leave the cache")
	}
}

func TestOutputCacheEvictsOldest(t *testing.T) {
	s, _ := newTestServer(t)
	s.config.CachedOutputs = 2

	for _, key := range []string{"a", "b", "c"} {
		s.keepOutput(key, &reversemapper.Output{})
	}
	if s.cachedOutput("a") != nil {
		t.Error("Expected oldest output to be evicted")
	}
	if s.cachedOutput("b") == nil || s.cachedOutput("c") == nil {
		t.Error("Expected newest outputs to stay")
	}

	// Replacing a key keeps its place.
	s.keepOutput("b", &reversemapper.Output{})
	if len(s.outputs) != 2 || len(s.order) != 2 {
		t.Errorf("Expected 2 cached outputs, got %d (%v)", len(s.outputs), s.order)
	}

	if !s.dropOutput("b") || s.dropOutput("b") {
		t.Error("dropOutput should report a cached key once")
	}
	if len(s.order) != 1 || s.order[0] != "c" {
		t.Errorf("unexpected order %v", s.order)
	}
}

func TestExpireIdleSessions(t *testing.T) {
	s, h := newTestServer(t)

	var sess SessionResponse
	do(t, h, uploadRequest(t, serverChart, ""), http.StatusCreated, &sess)

	if n := s.expireIdle(time.Hour); n != 0 {
		t.Fatalf("Expected no expired sessions, got %d", n)
	}
	time.Sleep(5 * time.Millisecond)
	if n := s.expireIdle(time.Millisecond); n != 1 {
		t.Fatalf("Expected 1 expired session, got %d", n)
	}

	do(t, h, httptest.NewRequest(http.MethodGet, "/api/sessions/"+sess.ID, nil), http.StatusNotFound, nil)
	var m MetricsResponse
	do(t, h, httptest.NewRequest(http.MethodGet, "/api/health/metrics", nil), http.StatusOK, &m)
	if m.ActiveSessions != 0 {
		t.Errorf("Expected no active sessions, got %d", m.ActiveSessions)
	}
}

func TestCreateSessionErrors(t *testing.T) {
	_, h := newTestServer(t)

	noAudio := strings.Replace(serverChart, "AudioFilename: audio.ogg", "", 1)
	do(t, h, uploadRequest(t, noAudio, ""), http.StatusUnprocessableEntity, nil)

	missing := strings.Replace(serverChart, "audio.ogg", "track.mp3", 1)
	do(t, h, uploadRequest(t, missing, ""), http.StatusUnprocessableEntity, nil)

	do(t, h, uploadRequest(t, serverChart, `{"subdivision": 0}`), http.StatusBadRequest, nil)
	do(t, h, uploadRequest(t, serverChart, `{"mods": "XX"}`), http.StatusBadRequest, nil)
	do(t, h, uploadRequest(t, serverChart, `not json`), http.StatusBadRequest, nil)
}

func TestSessionErrors(t *testing.T) {
	_, h := newTestServer(t)

	do(t, h, jsonRequest(http.MethodPost, "/api/sessions/nope/ticks", `{"ticks":[{"t":0}]}`), http.StatusNotFound, nil)
	do(t, h, jsonRequest(http.MethodPost, "/api/sessions/nope/finalize", ""), http.StatusNotFound, nil)

	var sess SessionResponse
	do(t, h, uploadRequest(t, serverChart, ""), http.StatusCreated, &sess)
	base := "/api/sessions/" + sess.ID

	do(t, h, jsonRequest(http.MethodPost, base+"/ticks", `{"ticks":[]}`), http.StatusBadRequest, nil)
	do(t, h, jsonRequest(http.MethodPost, base+"/presses", `{`), http.StatusBadRequest, nil)
	do(t, h, jsonRequest(http.MethodPost, base+"/finalize", ""), http.StatusConflict, nil)

	do(t, h, httptest.NewRequest(http.MethodDelete, base, nil), http.StatusOK, nil)
	do(t, h, httptest.NewRequest(http.MethodGet, base, nil), http.StatusNotFound, nil)
}

func TestDownloadUnknownKind(t *testing.T) {
	_, h := newTestServer(t)
	do(t, h, httptest.NewRequest(http.MethodGet, "/api/generations/abc/audio", nil), http.StatusNotFound, nil)
	do(t, h, httptest.NewRequest(http.MethodGet, "/api/generations/abc/replay", nil), http.StatusBadRequest, nil)
	do(t, h, httptest.NewRequest(http.MethodDelete, "/api/generations/abc", nil), http.StatusBadRequest, nil)
}

func TestHealthAndMetrics(t *testing.T) {
	_, h := newTestServer(t)

	do(t, h, httptest.NewRequest(http.MethodGet, "/health", nil), http.StatusOK, nil)

	var m MetricsResponse
	do(t, h, httptest.NewRequest(http.MethodGet, "/api/health/metrics", nil), http.StatusOK, &m)
	if m.Status != "healthy" || m.Generations != 0 || m.ActiveSessions != 0 {
		t.Errorf("unexpected metrics %+v", m)
	}

	do(t, h, httptest.NewRequest(http.MethodGet, "/nowhere", nil), http.StatusNotFound, nil)
}

func TestCORSPreflight(t *testing.T) {
	_, h := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/sessions", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := do(t, h, req, http.StatusNoContent, nil)
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("Expected wildcard origin, got %q", rec.Header().Get("Access-Control-Allow-Origin"))
	}
}

func TestSettingsRequestApply(t *testing.T) {
	base := session.DefaultSettings()

	dt := "DT"
	s, err := (&SettingsRequest{Mods: &dt}).Apply(base)
	if err != nil {
		t.Fatal(err)
	}
	if s.PlaybackRate != 1.5 {
		t.Errorf("Expected DT to imply rate 1.5, got %v", s.PlaybackRate)
	}

	rate := 1.0
	s, err = (&SettingsRequest{Mods: &dt, PlaybackRate: &rate}).Apply(base)
	if err != nil {
		t.Fatal(err)
	}
	if s.PlaybackRate != 1.0 {
		t.Errorf("Expected explicit rate to win, got %v", s.PlaybackRate)
	}

	bad := -1.0
	if _, err := (&SettingsRequest{DisplaceFraction: &bad}).Apply(base); err == nil {
		t.Error("Expected invalid displacement fraction to be rejected")
	}
}
