package models

import "time"

// Generation is one finalized capture as kept in the history.
type Generation struct {
	ID          string // UUID
	SessionID   string
	Title       string
	Artist      string
	Version     string // difficulty name of the source chart
	ChartHash   string // md5 of the generated chart text
	Notes       int
	Dropped     int
	Seed        int32
	Mods        string
	ArchivePath string
	ReplayPath  string
	ReplaySize  int64
	CreatedAt   time.Time
}

// ChartInfo describes a loaded chart.
type ChartInfo struct {
	Title         string
	Artist        string
	Version       string
	AudioFilename string
	Background    string
	AudioFormat   string
	DurationMs    int64
	TempoPoints   int
	HitObjects    int
	StreamBPM     float64 // BPM at which 1/subdivision notes stream at the first tempo

	// Difficulty the chart shipped with; zero when the field is missing.
	CircleSize        float64
	ApproachRate      float64
	OverallDifficulty float64
	HPDrainRate       float64
}
