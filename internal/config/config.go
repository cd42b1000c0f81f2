// Package config reads the TOML settings file shared by the CLI and server.
package config

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/himanishpuri/ReverseMapper/internal/replay"
	"github.com/himanishpuri/ReverseMapper/internal/session"
	"github.com/himanishpuri/ReverseMapper/pkg/utils"
)

const DefaultFile = "reversemapper.toml"

type Bootstrap struct {
	Capture    Capture    `toml:"capture"`
	Placement  Placement  `toml:"placement"`
	Difficulty Difficulty `toml:"difficulty"`
	Replay     Replay     `toml:"replay"`
	Storage    Storage    `toml:"storage"`
	Server     Server     `toml:"server"`
	Log        Log        `toml:"log"`
}

type Capture struct {
	Subdivision  int     `toml:"subdivision" comment:"beat subdivision presses snap to"`
	PrimaryKey   string  `toml:"primary_key"`
	SecondaryKey string  `toml:"secondary_key"`
	PlaybackRate float64 `toml:"playback_rate" comment:"0 follows the mods (1.5 for DT, 0.75 for HT)"`
	HoldMs       int64   `toml:"hold_ms" comment:"keep presses held for this long in the replay"`
}

type Placement struct {
	EnforceBounds    bool    `toml:"enforce_bounds"`
	Displace         bool    `toml:"displace"`
	DisplaceFraction float64 `toml:"displace_fraction"`
}

type Difficulty struct {
	CircleSize        float64 `toml:"circle_size"`
	ApproachRate      float64 `toml:"approach_rate"`
	OverallDifficulty float64 `toml:"overall_difficulty"`
}

type Replay struct {
	Performer string `toml:"performer"`
	Mods      string `toml:"mods" comment:"acronyms, e.g. \"HDDT\""`
	Seed      int32  `toml:"seed" comment:"0 picks a random seed per session"`
}

type Storage struct {
	DBPath string `toml:"db_path"`
	OutDir string `toml:"out_dir"`
}

type Server struct {
	Addr           string `toml:"addr"`
	MaxUploadBytes int64  `toml:"max_upload_bytes"`
	SessionIdle    int    `toml:"session_idle_minutes" comment:"drop sessions untouched for this long (0 keeps them)"`
	CachedOutputs  int    `toml:"cached_outputs" comment:"finalized outputs kept in memory when they are not on disk"`
}

type Log struct {
	Level string `toml:"level"`
}

func Default() *Bootstrap {
	s := session.DefaultSettings()
	return &Bootstrap{
		Capture: Capture{
			Subdivision:  s.Subdivision,
			PrimaryKey:   s.PrimaryKey,
			SecondaryKey: s.SecondaryKey,
		},
		Placement: Placement{
			EnforceBounds:    s.EnforceBounds,
			DisplaceFraction: s.DisplaceFraction,
		},
		Difficulty: Difficulty{
			CircleSize:        s.CircleSize,
			ApproachRate:      s.ApproachRate,
			OverallDifficulty: s.OverallDifficulty,
		},
		Replay: Replay{
			Performer: s.Performer,
			Mods:      "NM",
		},
		Storage: Storage{
			DBPath: "reversemapper.sqlite3",
			OutDir: "output",
		},
		Server: Server{
			Addr:           ":8080",
			MaxUploadBytes: 100 << 20,
			SessionIdle:    30,
			CachedOutputs:  32,
		},
		Log: Log{Level: "info"},
	}
}

// Decode reads a settings file over the defaults, so a file only needs the
// keys it changes. Unknown keys are an error.
func Decode(r io.Reader) (*Bootstrap, error) {
	cfg := Default()
	dec := toml.NewDecoder(r).DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("decoding settings: %w", err)
	}
	if _, err := cfg.Session(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load reads path. A missing file yields the defaults.
func Load(path string) (*Bootstrap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("reading settings: %w", err)
	}
	cfg, err := Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func (b *Bootstrap) Marshal() ([]byte, error) {
	return toml.Marshal(b)
}

func (b *Bootstrap) Save(path string) error {
	data, err := b.Marshal()
	if err != nil {
		return fmt.Errorf("encoding settings: %w", err)
	}
	return utils.WriteFile(path, data)
}

// Session converts the file into capture settings. A zero playback rate is
// derived from the mods.
func (b *Bootstrap) Session() (session.Settings, error) {
	mods, err := replay.ParseMods(b.Replay.Mods)
	if err != nil {
		return session.Settings{}, fmt.Errorf("replay.mods: %w", err)
	}

	rate := b.Capture.PlaybackRate
	if rate == 0 {
		rate = mods.PlaybackRate()
	}

	s := session.Settings{
		Subdivision:       b.Capture.Subdivision,
		PrimaryKey:        b.Capture.PrimaryKey,
		SecondaryKey:      b.Capture.SecondaryKey,
		EnforceBounds:     b.Placement.EnforceBounds,
		Displace:          b.Placement.Displace,
		DisplaceFraction:  b.Placement.DisplaceFraction,
		PlaybackRate:      rate,
		HoldMs:            b.Capture.HoldMs,
		CircleSize:        b.Difficulty.CircleSize,
		ApproachRate:      b.Difficulty.ApproachRate,
		OverallDifficulty: b.Difficulty.OverallDifficulty,
		Performer:         b.Replay.Performer,
		Mods:              mods,
		Seed:              b.Replay.Seed,
	}
	if err := s.Validate(); err != nil {
		return session.Settings{}, err
	}
	return s, nil
}
