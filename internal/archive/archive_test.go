package archive

import (
	"errors"
	"reflect"
	"testing"
)

func buildTestArchive(t *testing.T) *Archive {
	t.Helper()
	data, err := Build([]Entry{
		{Name: "audio.mp3", Data: []byte("ID3 fake audio")},
		{Name: "Artist - Title (Mapper) [Insane].osu", Data: []byte("osu file format v14\n\n[General]\nAudioFilename: audio.mp3")},
		{Name: "BG.jpg", Data: []byte{0xff, 0xd8, 0xff}},
		{Name: "Artist - Title (Mapper) [Hard].osu", Data: []byte("second difficulty")},
	})
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	a, err := Open(data)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return a
}

func TestChartEntry(t *testing.T) {
	a := buildTestArchive(t)

	name, err := a.ChartEntry()
	if err != nil {
		t.Fatalf("ChartEntry failed: %v", err)
	}
	if name != "Artist - Title (Mapper) [Insane].osu" {
		t.Errorf("Expected first .osu entry, got %q", name)
	}
	if n := len(a.Charts()); n != 2 {
		t.Errorf("Expected 2 charts, got %d", n)
	}
}

func TestChartEntryMissing(t *testing.T) {
	data, err := Build([]Entry{{Name: "audio.mp3", Data: []byte("x")}})
	if err != nil {
		t.Fatal(err)
	}
	a, err := Open(data)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := a.ChartEntry(); !errors.Is(err, ErrNoChart) {
		t.Errorf("Expected ErrNoChart, got %v", err)
	}
}

func TestReadCaseInsensitive(t *testing.T) {
	a := buildTestArchive(t)

	data, err := a.Read("bg.jpg")
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if len(data) != 3 {
		t.Errorf("Expected 3 bytes, got %d", len(data))
	}
	if !a.Has("AUDIO.MP3") {
		t.Error("Has should match case-insensitively")
	}
	if _, err := a.Read("missing.wav"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestReplaceKeepsOtherEntries(t *testing.T) {
	a := buildTestArchive(t)
	chart, _ := a.ChartEntry()

	out, err := a.Replace(chart, []byte("rewritten"))
	if err != nil {
		t.Fatalf("Replace failed: %v", err)
	}

	b, err := Open(out)
	if err != nil {
		t.Fatalf("Open of replaced archive failed: %v", err)
	}
	if !reflect.DeepEqual(a.Names(), b.Names()) {
		t.Errorf("entry order changed: %v vs %v", a.Names(), b.Names())
	}

	got, err := b.Read(chart)
	if err != nil || string(got) != "rewritten" {
		t.Errorf("Expected rewritten chart, got %q (%v)", got, err)
	}
	for _, name := range []string{"audio.mp3", "BG.jpg", "Artist - Title (Mapper) [Hard].osu"} {
		before, _ := a.Read(name)
		after, err := b.Read(name)
		if err != nil || !reflect.DeepEqual(before, after) {
			t.Errorf("%s changed: %q -> %q (%v)", name, before, after, err)
		}
	}
}

func TestReplaceAddsMissingEntry(t *testing.T) {
	a := buildTestArchive(t)

	out, err := a.Replace("new.osu", []byte("new"))
	if err != nil {
		t.Fatal(err)
	}
	b, err := Open(out)
	if err != nil {
		t.Fatal(err)
	}
	names := b.Names()
	if names[len(names)-1] != "new.osu" {
		t.Errorf("Expected new entry last, got %v", names)
	}
}

func TestOpenGarbage(t *testing.T) {
	if _, err := Open([]byte("definitely not a zip")); err == nil {
		t.Error("Expected error for non-zip data")
	}
}
