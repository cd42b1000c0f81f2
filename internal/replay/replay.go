// Package replay writes and reads the .osr replay format: a fixed header
// followed by an LZMA-compressed frame stream.
package replay

import (
	"errors"
	"fmt"
	"time"

	"github.com/himanishpuri/ReverseMapper/internal/timeline"
)

const (
	ModeStandard byte = 0
	// GameVersion is the client build the header claims.
	GameVersion int32 = 20230326
	// PlaceholderScore is written as the total score.
	PlaceholderScore int32 = 123456
)

// Header holds every field of an .osr file except the payload, in file order.
type Header struct {
	Mode       byte
	Version    int32
	ChartHash  string
	Performer  string
	ReplayHash string

	Count300  uint16
	Count100  uint16
	Count50   uint16
	CountGeki uint16
	CountKatu uint16
	CountMiss uint16

	Score    int32
	MaxCombo uint16
	Perfect  bool
	Mods     Mods
	LifeBar  string

	// Timestamp is in .NET ticks; see Ticks.
	Timestamp int64
	ScoreID   int64
}

// NewHeader fills a header for a synthesized full-combo play: every note a
// 300, combo equal to the note count, perfect flag set.
func NewHeader(chartHash, performer string, hits int, mods Mods, at time.Time) Header {
	n := clampUint16(hits)
	return Header{
		Mode:      ModeStandard,
		Version:   GameVersion,
		ChartHash: chartHash,
		Performer: performer,
		Count300:  n,
		Score:     PlaceholderScore,
		MaxCombo:  n,
		Perfect:   true,
		Mods:      mods,
		Timestamp: Ticks(at),
	}
}

func clampUint16(n int) uint16 {
	switch {
	case n < 0:
		return 0
	case n > 0xffff:
		return 0xffff
	}
	return uint16(n)
}

// Encode lays out the header, the compressed frame stream for samples and
// seed, and the trailing score ID. The output depends only on its inputs.
func Encode(h Header, samples []timeline.Sample, seed int32) ([]byte, error) {
	payload, err := Compress(FrameText(samples, seed))
	if err != nil {
		return nil, fmt.Errorf("compressing frames: %w", err)
	}
	return EncodePayload(h, payload)
}

// EncodePayload lays out a header around an already compressed payload.
func EncodePayload(h Header, payload []byte) ([]byte, error) {
	if len(payload) > 1<<31-1 {
		return nil, errors.New("replay: payload too large")
	}

	var w Writer
	w.PutByte(h.Mode)
	w.PutInt32(h.Version)
	w.PutString(h.ChartHash)
	w.PutString(h.Performer)
	w.PutString(h.ReplayHash)
	w.PutUint16(h.Count300)
	w.PutUint16(h.Count100)
	w.PutUint16(h.Count50)
	w.PutUint16(h.CountGeki)
	w.PutUint16(h.CountKatu)
	w.PutUint16(h.CountMiss)
	w.PutInt32(h.Score)
	w.PutUint16(h.MaxCombo)
	if h.Perfect {
		w.PutByte(1)
	} else {
		w.PutByte(0)
	}
	w.PutInt32(int32(h.Mods))
	w.PutString(h.LifeBar)
	w.PutInt64(h.Timestamp)
	w.PutInt32(int32(len(payload)))
	w.PutBytes(payload)
	w.PutInt64(h.ScoreID)

	return w.Bytes(), nil
}

// Replay is a decoded .osr file.
type Replay struct {
	Header
	Payload []byte
	// Extra holds bytes after the score id, such as the modifier block
	// newer clients append.
	Extra []byte
}

// Decode reads an .osr file. The payload is kept compressed; see Frames.
func Decode(data []byte) (*Replay, error) {
	r := NewReader(data)
	var rep Replay
	h := &rep.Header
	var err error

	if h.Mode, err = r.Byte(); err != nil {
		return nil, fmt.Errorf("mode: %w", err)
	}
	if h.Version, err = r.Int32(); err != nil {
		return nil, fmt.Errorf("version: %w", err)
	}
	if h.ChartHash, err = r.TaggedString(); err != nil {
		return nil, fmt.Errorf("chart hash: %w", err)
	}
	if h.Performer, err = r.TaggedString(); err != nil {
		return nil, fmt.Errorf("performer: %w", err)
	}
	if h.ReplayHash, err = r.TaggedString(); err != nil {
		return nil, fmt.Errorf("replay hash: %w", err)
	}
	for _, c := range []*uint16{&h.Count300, &h.Count100, &h.Count50, &h.CountGeki, &h.CountKatu, &h.CountMiss} {
		if *c, err = r.Uint16(); err != nil {
			return nil, fmt.Errorf("counters: %w", err)
		}
	}
	if h.Score, err = r.Int32(); err != nil {
		return nil, fmt.Errorf("score: %w", err)
	}
	if h.MaxCombo, err = r.Uint16(); err != nil {
		return nil, fmt.Errorf("max combo: %w", err)
	}
	perfect, err := r.Byte()
	if err != nil {
		return nil, fmt.Errorf("perfect: %w", err)
	}
	h.Perfect = perfect != 0
	mods, err := r.Int32()
	if err != nil {
		return nil, fmt.Errorf("mods: %w", err)
	}
	h.Mods = Mods(mods)
	if h.LifeBar, err = r.TaggedString(); err != nil {
		return nil, fmt.Errorf("life bar: %w", err)
	}
	if h.Timestamp, err = r.Int64(); err != nil {
		return nil, fmt.Errorf("timestamp: %w", err)
	}
	n, err := r.Int32()
	if err != nil {
		return nil, fmt.Errorf("payload length: %w", err)
	}
	if rep.Payload, err = r.Bytes(int(n)); err != nil {
		return nil, fmt.Errorf("payload: %w", err)
	}
	if h.ScoreID, err = r.Int64(); err != nil {
		return nil, fmt.Errorf("score id: %w", err)
	}
	if n := r.Remaining(); n > 0 {
		rep.Extra, _ = r.Bytes(n)
	}

	return &rep, nil
}

// Frames decompresses and parses the payload.
func (r *Replay) Frames() ([]timeline.Sample, int32, error) {
	text, err := Decompress(r.Payload)
	if err != nil {
		return nil, 0, err
	}
	return ParseFrameText(text)
}

// PlayedAt converts the header timestamp.
func (r *Replay) PlayedAt() time.Time {
	return FromTicks(r.Timestamp)
}
