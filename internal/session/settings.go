package session

import (
	"fmt"
	"strings"

	"github.com/himanishpuri/ReverseMapper/internal/replay"
	"github.com/himanishpuri/ReverseMapper/internal/snap"
)

// Settings controls capture and artifact generation.
type Settings struct {
	// Subdivision of the beat the presses snap to; 4 is the 1/4 grid.
	Subdivision int
	// Key names bound to the two hit buttons.
	PrimaryKey   string
	SecondaryKey string

	// EnforceBounds ignores presses made with the pointer outside the
	// playfield and drops notes displaced out of it.
	EnforceBounds bool
	// Displace moves each note away from the playfield center by
	// DisplaceFraction of the circle radius.
	Displace         bool
	DisplaceFraction float64

	// PlaybackRate scales the capture clock, e.g. 1.5 when capturing
	// against audio sped up for DT.
	PlaybackRate float64
	// HoldMs keeps each synthesized press held on following frames for
	// this long. 0 leaves presses a single frame.
	HoldMs int64

	CircleSize        float64
	ApproachRate      float64
	OverallDifficulty float64

	Performer string
	Mods      replay.Mods
	// Seed for the replay's seed frame; 0 picks one per session.
	Seed int32
}

const (
	DefaultPerformer        = "ReverseMapper"
	DefaultDisplaceFraction = 0.4
	// ComboGapMs starts a new combo when notes are further apart.
	ComboGapMs = 300
	// DifficultyVersion is written as the chart's difficulty name.
	DifficultyVersion = "Reverse Mapping"
	// HPDrainRate is written into every generated chart.
	HPDrainRate = 5
)

func DefaultSettings() Settings {
	return Settings{
		Subdivision:       snap.DefaultSubdivision,
		PrimaryKey:        "z",
		SecondaryKey:      "x",
		EnforceBounds:     true,
		DisplaceFraction:  DefaultDisplaceFraction,
		PlaybackRate:      1.0,
		CircleSize:        4,
		ApproachRate:      9,
		OverallDifficulty: 8,
		Performer:         DefaultPerformer,
	}
}

// Validate rejects settings that cannot produce a chart.
func (s Settings) Validate() error {
	if s.Subdivision <= 0 {
		return fmt.Errorf("subdivision must be positive, got %d", s.Subdivision)
	}
	if s.PlaybackRate <= 0 {
		return fmt.Errorf("playback rate must be positive, got %v", s.PlaybackRate)
	}
	if s.DisplaceFraction < 0 {
		return fmt.Errorf("displace fraction must not be negative, got %v", s.DisplaceFraction)
	}
	if s.HoldMs < 0 {
		return fmt.Errorf("hold must not be negative, got %d", s.HoldMs)
	}
	for name, v := range map[string]float64{"circle size": s.CircleSize, "approach rate": s.ApproachRate, "overall difficulty": s.OverallDifficulty} {
		if v < 0 || v > 10 {
			return fmt.Errorf("%s must be within 0-10, got %v", name, v)
		}
	}
	if s.PrimaryKey != "" && strings.EqualFold(s.PrimaryKey, s.SecondaryKey) {
		return fmt.Errorf("primary and secondary key are both %q", s.PrimaryKey)
	}
	return nil
}

// KeyFor maps a key name to the button it is bound to.
func (s Settings) KeyFor(name string) Key {
	switch {
	case name == "":
		return KeyNone
	case strings.EqualFold(name, s.PrimaryKey):
		return KeyPrimary
	case strings.EqualFold(name, s.SecondaryKey):
		return KeySecondary
	}
	return KeyNone
}
