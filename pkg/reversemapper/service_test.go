package reversemapper

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/himanishpuri/ReverseMapper/internal/archive"
	"github.com/himanishpuri/ReverseMapper/internal/replay"
	"github.com/himanishpuri/ReverseMapper/internal/session"
	"github.com/himanishpuri/ReverseMapper/pkg/logger"
)

const testChart = `osu file format v14

[General]
AudioFilename: audio.wav

[Metadata]
Title:Song
Artist:Someone
Version:Normal

[Difficulty]
HPDrainRate:4
CircleSize:4
OverallDifficulty:5
ApproachRate:5

[Events]
0,0,"bg.jpg",0,0

[TimingPoints]
0,500,4,2,1,60,1,0

[HitObjects]
256,192,1000,1,0,0:0:0:0:`

func testWAV(t *testing.T) []byte {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audio.wav")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	enc := wav.NewEncoder(f, 8000, 16, 1, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: 8000},
		Data:           make([]int, 8000),
		SourceBitDepth: 16,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatal(err)
	}
	if err := enc.Close(); err != nil {
		t.Fatal(err)
	}
	f.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func testArchive(t *testing.T, chartText string, withAudio bool) []byte {
	t.Helper()
	entries := []archive.Entry{
		{Name: "Someone - Song (mapper) [Normal].osu", Data: []byte(chartText)},
		{Name: "bg.jpg", Data: []byte("not really a jpeg")},
	}
	if withAudio {
		entries = append(entries, archive.Entry{Name: "audio.wav", Data: testWAV(t)})
	}
	data, err := archive.Build(entries)
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func newTestService(t *testing.T, opts ...Option) (Service, string) {
	t.Helper()
	dir := t.TempDir()
	base := []Option{
		WithLogger(logger.Discard()),
		WithDBPath(filepath.Join(dir, "history.sqlite3")),
		WithOutDir(filepath.Join(dir, "out")),
	}
	svc, err := NewService(append(base, opts...)...)
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	t.Cleanup(func() { svc.Close() })
	return svc, dir
}

func TestLoadArchive(t *testing.T) {
	svc, _ := newTestService(t)

	p, err := svc.LoadArchive(context.Background(), testArchive(t, testChart, true))
	if err != nil {
		t.Fatalf("LoadArchive failed: %v", err)
	}
	if !p.FromArchive() || !strings.HasSuffix(p.ChartName, ".osu") {
		t.Errorf("unexpected project %+v", p)
	}
	info := p.Info
	if info.Title != "Song" || info.Artist != "Someone" || info.Version != "Normal" {
		t.Errorf("unexpected metadata %+v", info)
	}
	if info.Background != "bg.jpg" || info.TempoPoints != 1 || info.HitObjects != 1 {
		t.Errorf("unexpected chart info %+v", info)
	}
	if info.StreamBPM != 120 {
		t.Errorf("Expected 120 BPM stream, got %v", info.StreamBPM)
	}
	if info.CircleSize != 4 || info.ApproachRate != 5 || info.OverallDifficulty != 5 || info.HPDrainRate != 4 {
		t.Errorf("unexpected original difficulty %+v", info)
	}
	if p.Audio == nil || info.DurationMs != 1000 || info.AudioFormat != "wav" {
		t.Errorf("Expected a 1s wav, got %+v / %+v", info, p.Audio)
	}
}

func TestLoadArchiveErrors(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	noChart, err := archive.Build([]archive.Entry{{Name: "audio.mp3", Data: []byte("x")}})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.LoadArchive(ctx, noChart); !errors.Is(err, ErrNoChart) {
		t.Errorf("Expected ErrNoChart, got %v", err)
	}

	noAudioField := strings.Replace(testChart, "AudioFilename: audio.wav", "PreviewTime: -1", 1)
	if _, err := svc.LoadArchive(ctx, testArchive(t, noAudioField, true)); !errors.Is(err, ErrNoAudio) {
		t.Errorf("Expected ErrNoAudio, got %v", err)
	}

	if _, err := svc.LoadArchive(ctx, testArchive(t, testChart, false)); !errors.Is(err, ErrAudioMissing) {
		t.Errorf("Expected ErrAudioMissing, got %v", err)
	}

	if _, err := svc.LoadArchive(ctx, []byte("garbage")); err == nil {
		t.Error("Expected error for a non-zip upload")
	}
}

func TestLoadArchiveUnprobedAudio(t *testing.T) {
	svc, _ := newTestService(t)
	text := strings.Replace(testChart, "audio.wav", "audio.ogg", 1)
	data, err := archive.Build([]archive.Entry{
		{Name: "chart.osu", Data: []byte(text)},
		{Name: "audio.ogg", Data: []byte("OggS")},
	})
	if err != nil {
		t.Fatal(err)
	}

	p, err := svc.LoadArchive(context.Background(), data)
	if err != nil {
		t.Fatalf("unsupported audio should not fail the load: %v", err)
	}
	if p.Audio != nil || p.Info.DurationMs != 0 {
		t.Errorf("Expected no audio metadata, got %+v", p.Audio)
	}
}

func TestFinalizeWritesArtifactsAndHistory(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	p, err := svc.LoadArchive(ctx, testArchive(t, testChart, true))
	if err != nil {
		t.Fatal(err)
	}
	c, err := svc.StartSession(p, nil, nil)
	if err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	if got, err := svc.GetSession(c.ID); err != nil || got != c {
		t.Fatalf("GetSession: %v", err)
	}

	for i := 0; i <= 20; i++ {
		if err := c.Session.Tick(float64(i*50), float64(100+i*10), 192); err != nil {
			t.Fatal(err)
		}
	}
	for _, ms := range []float64{250, 500, 760} {
		if _, _, err := c.Session.Press(session.KeyPrimary, ms, 256, 192); err != nil {
			t.Fatal(err)
		}
	}

	out, err := svc.Finalize(ctx, c.ID)
	if err != nil {
		t.Fatalf("Finalize failed: %v", err)
	}
	if !strings.HasSuffix(out.ChartFile, ".osz") || !strings.HasSuffix(out.ReplayFile, ".osr") {
		t.Errorf("unexpected file names %q %q", out.ChartFile, out.ReplayFile)
	}

	// the repacked archive keeps every entry and carries the new chart
	a, err := archive.Open(out.ChartData)
	if err != nil {
		t.Fatal(err)
	}
	if names := a.Names(); len(names) != 3 || names[0] != p.ChartName {
		t.Errorf("unexpected entries %v", names)
	}
	chartData, err := a.Read(p.ChartName)
	if err != nil {
		t.Fatal(err)
	}
	if string(chartData) != out.Result.ChartText {
		t.Error("archive chart differs from the generated chart")
	}
	if !strings.Contains(string(chartData), "Version: Reverse Mapping") {
		t.Error("chart version not rewritten")
	}

	gen := out.Generation
	if gen.ID == "" || gen.Notes != 3 || gen.Mods != "NM" || gen.Title != "Song" {
		t.Errorf("unexpected generation %+v", gen)
	}
	replayData, err := os.ReadFile(gen.ReplayPath)
	if err != nil {
		t.Fatalf("replay not written: %v", err)
	}
	rep, err := replay.Decode(replayData)
	if err != nil {
		t.Fatalf("written replay does not decode: %v", err)
	}
	if rep.ChartHash != gen.ChartHash || int(rep.Count300) != gen.Notes {
		t.Errorf("replay header does not match generation: %+v", rep.Header)
	}
	if _, err := os.Stat(gen.ArchivePath); err != nil {
		t.Errorf("archive not written: %v", err)
	}

	if _, err := svc.GetSession(c.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("finalized session should be released, got %v", err)
	}

	history, err := svc.History(0)
	if err != nil || len(history) != 1 || history[0].ID != gen.ID {
		t.Fatalf("unexpected history %+v (%v)", history, err)
	}
	if n, err := svc.HistoryCount(); err != nil || n != 1 {
		t.Errorf("Expected 1 generation, got %d (%v)", n, err)
	}
	same, err := svc.FindByChartHash(gen.ChartHash)
	if err != nil || len(same) != 1 {
		t.Errorf("Expected 1 generation for chart hash, got %d (%v)", len(same), err)
	}

	if err := svc.DeleteGeneration(gen.ID, true); err != nil {
		t.Fatalf("DeleteGeneration failed: %v", err)
	}
	if _, err := os.Stat(gen.ReplayPath); !os.IsNotExist(err) {
		t.Error("replay file should be removed")
	}
	if history, _ := svc.History(0); len(history) != 0 {
		t.Errorf("Expected empty history, got %d", len(history))
	}
}

func TestFinalizeBareChart(t *testing.T) {
	svc, _ := newTestService(t, WithOutDir(""), WithoutHistory())

	p, err := svc.LoadChart(testChart)
	if err != nil {
		t.Fatal(err)
	}
	if p.FromArchive() {
		t.Error("bare chart should not report an archive")
	}
	c, err := svc.StartSession(p, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Session.Tick(0, 256, 192); err != nil {
		t.Fatal(err)
	}

	out, err := svc.Finalize(context.Background(), c.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasSuffix(out.ChartFile, ".osu") || string(out.ChartData) != out.Result.ChartText {
		t.Errorf("Expected bare .osu output, got %q", out.ChartFile)
	}
	if out.Generation.ArchivePath != "" || out.Generation.ID != "" {
		t.Errorf("nothing should be written or recorded, got %+v", out.Generation)
	}
	if _, err := svc.History(0); !errors.Is(err, ErrNoHistory) {
		t.Errorf("Expected ErrNoHistory, got %v", err)
	}
	if _, err := svc.HistoryCount(); !errors.Is(err, ErrNoHistory) {
		t.Errorf("Expected ErrNoHistory, got %v", err)
	}
}

func TestSessionRegistry(t *testing.T) {
	svc, _ := newTestService(t, WithoutHistory())

	if _, err := svc.Finalize(context.Background(), "missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Expected ErrSessionNotFound, got %v", err)
	}

	p, err := svc.LoadChart(testChart)
	if err != nil {
		t.Fatal(err)
	}
	c, err := svc.StartSession(p, nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	// nothing captured: the session stays registered for another try
	if _, err := svc.Finalize(context.Background(), c.ID); err == nil {
		t.Error("Expected error for an empty capture")
	}
	if _, err := svc.GetSession(c.ID); err != nil {
		t.Errorf("session should survive a failed finalize: %v", err)
	}

	if err := svc.EndSession(c.ID); err != nil {
		t.Fatal(err)
	}
	if err := svc.EndSession(c.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Expected ErrSessionNotFound, got %v", err)
	}
}

func TestStartSessionWithSettings(t *testing.T) {
	svc, _ := newTestService(t, WithoutHistory())
	p, err := svc.LoadChart(testChart)
	if err != nil {
		t.Fatal(err)
	}

	set := session.DefaultSettings()
	set.Subdivision = 0
	if _, err := svc.StartSession(p, &set, nil); err == nil {
		t.Error("Expected invalid settings to be rejected")
	}

	set = session.DefaultSettings()
	set.Subdivision = 8
	c, err := svc.StartSession(p, &set, nil)
	if err != nil {
		t.Fatal(err)
	}
	if c.Session.Snapper().Subdivision() != 8 {
		t.Errorf("Expected 1/8 grid, got 1/%d", c.Session.Snapper().Subdivision())
	}
}

func TestFinalizeRetryAfterWriteFailure(t *testing.T) {
	dir := t.TempDir()
	outDir := filepath.Join(dir, "out")
	// a regular file where the output directory should be
	if err := os.WriteFile(outDir, []byte("in the way"), 0o644); err != nil {
		t.Fatal(err)
	}
	svc, _ := newTestService(t, WithOutDir(outDir), WithoutHistory())

	ctx := context.Background()
	p, err := svc.LoadArchive(ctx, testArchive(t, testChart, true))
	if err != nil {
		t.Fatal(err)
	}
	c, err := svc.StartSession(p, nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.Session.Tick(0, 256, 192); err != nil {
		t.Fatal(err)
	}
	if _, _, err := c.Session.Press(session.KeyPrimary, 500, 256, 192); err != nil {
		t.Fatal(err)
	}

	if _, err := svc.Finalize(ctx, c.ID); err == nil {
		t.Fatal("Expected finalize to fail while the output directory is blocked")
	}
	if _, err := svc.GetSession(c.ID); err != nil {
		t.Fatalf("session should survive a failed write: %v", err)
	}

	if err := os.Remove(outDir); err != nil {
		t.Fatal(err)
	}
	out, err := svc.Finalize(ctx, c.ID)
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if out.Generation.Notes != 1 {
		t.Errorf("Expected 1 note, got %d", out.Generation.Notes)
	}
	if _, err := os.Stat(out.Generation.ReplayPath); err != nil {
		t.Errorf("replay not written on retry: %v", err)
	}
	if _, err := svc.GetSession(c.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("session should be released after the retry, got %v", err)
	}
}

func TestExpireSessions(t *testing.T) {
	svc, _ := newTestService(t, WithoutHistory())
	p, err := svc.LoadChart(testChart)
	if err != nil {
		t.Fatal(err)
	}
	c, err := svc.StartSession(p, nil, nil)
	if err != nil {
		t.Fatal(err)
	}

	if expired := svc.ExpireSessions(time.Hour); len(expired) != 0 {
		t.Errorf("Expected no expired sessions, got %v", expired)
	}
	time.Sleep(5 * time.Millisecond)
	expired := svc.ExpireSessions(time.Millisecond)
	if len(expired) != 1 || expired[0] != c.ID {
		t.Fatalf("Expected %s to expire, got %v", c.ID, expired)
	}
	if _, err := svc.GetSession(c.ID); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("Expected ErrSessionNotFound, got %v", err)
	}
}
