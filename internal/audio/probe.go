// Package audio reads just enough of a chart's audio track to report its
// length and format. Nothing here decodes audio for playback.
package audio

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
)

var ErrUnsupported = errors.New("unsupported audio format")

// mp3 frames decode to 16-bit stereo.
const mp3BytesPerSample = 4

type Metadata struct {
	Filename   string
	Format     string
	Duration   time.Duration
	SampleRate int
	Channels   int
	BitDepth   int
}

// Probe inspects an in-memory audio file. The format is chosen by extension;
// anything other than .mp3 and .wav yields ErrUnsupported.
func Probe(name string, data []byte) (*Metadata, error) {
	switch ext := strings.ToLower(filepath.Ext(name)); ext {
	case ".mp3":
		return probeMP3(name, data)
	case ".wav":
		return probeWAV(name, data)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupported, ext)
	}
}

func probeMP3(name string, data []byte) (*Metadata, error) {
	d, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding mp3 %s: %w", name, err)
	}
	if d.SampleRate() <= 0 || d.Length() <= 0 {
		return nil, fmt.Errorf("mp3 %s has no frames", name)
	}

	samples := d.Length() / mp3BytesPerSample
	return &Metadata{
		Filename:   name,
		Format:     "mp3",
		Duration:   time.Duration(samples) * time.Second / time.Duration(d.SampleRate()),
		SampleRate: d.SampleRate(),
		Channels:   2,
		BitDepth:   16,
	}, nil
}

func probeWAV(name string, data []byte) (*Metadata, error) {
	d := wav.NewDecoder(bytes.NewReader(data))
	if !d.IsValidFile() {
		if err := d.Err(); err != nil {
			return nil, fmt.Errorf("reading wav %s: %w", name, err)
		}
		return nil, fmt.Errorf("invalid wav file %s", name)
	}

	// The container's Duration counts header bytes too; size the data chunk
	// when it can be found.
	dur, err := d.Duration()
	if err != nil {
		return nil, fmt.Errorf("wav %s duration: %w", name, err)
	}
	frameBytes := int64(d.NumChans) * int64(d.BitDepth) / 8
	if err := d.FwdToPCM(); err == nil && d.PCMLen() > 0 && frameBytes > 0 && d.SampleRate > 0 {
		frames := d.PCMLen() / frameBytes
		dur = time.Duration(frames) * time.Second / time.Duration(d.SampleRate)
	}

	md := &Metadata{
		Filename: name,
		Format:   "wav",
		Duration: dur,
		BitDepth: int(d.BitDepth),
	}
	applyFormat(md, d.Format())
	return md, nil
}

func applyFormat(md *Metadata, f *goaudio.Format) {
	if f == nil {
		return
	}
	md.SampleRate = f.SampleRate
	md.Channels = f.NumChannels
}

// DurationMs is the duration rounded down to whole milliseconds.
func (m *Metadata) DurationMs() int64 {
	return m.Duration.Milliseconds()
}
