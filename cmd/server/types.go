package main

import (
	"fmt"
	"time"

	"github.com/himanishpuri/ReverseMapper/internal/replay"
	"github.com/himanishpuri/ReverseMapper/internal/session"
	"github.com/himanishpuri/ReverseMapper/pkg/models"
)

// Batch limits for the capture endpoints
const (
	// MaxTicksPerRequest bounds one POST of pointer samples (~10 minutes at 60 Hz)
	MaxTicksPerRequest = 36000

	// MaxPressesPerRequest bounds one POST of presses
	MaxPressesPerRequest = 5000
)

// SettingsRequest overrides the server's capture settings for one session.
// Absent fields keep the server value.
type SettingsRequest struct {
	Subdivision       *int     `json:"subdivision,omitempty"`
	PrimaryKey        *string  `json:"primary_key,omitempty"`
	SecondaryKey      *string  `json:"secondary_key,omitempty"`
	EnforceBounds     *bool    `json:"enforce_bounds,omitempty"`
	Displace          *bool    `json:"displace,omitempty"`
	DisplaceFraction  *float64 `json:"displace_fraction,omitempty"`
	PlaybackRate      *float64 `json:"playback_rate,omitempty"`
	HoldMs            *int64   `json:"hold_ms,omitempty"`
	CircleSize        *float64 `json:"circle_size,omitempty"`
	ApproachRate      *float64 `json:"approach_rate,omitempty"`
	OverallDifficulty *float64 `json:"overall_difficulty,omitempty"`
	Performer         *string  `json:"performer,omitempty"`
	Mods              *string  `json:"mods,omitempty"`
	Seed              *int32   `json:"seed,omitempty"`
}

// Apply returns base with the request's fields set. Mods without an explicit
// playback rate also set the rate they imply.
func (r *SettingsRequest) Apply(base session.Settings) (session.Settings, error) {
	s := base
	if r.Subdivision != nil {
		s.Subdivision = *r.Subdivision
	}
	if r.PrimaryKey != nil {
		s.PrimaryKey = *r.PrimaryKey
	}
	if r.SecondaryKey != nil {
		s.SecondaryKey = *r.SecondaryKey
	}
	if r.EnforceBounds != nil {
		s.EnforceBounds = *r.EnforceBounds
	}
	if r.Displace != nil {
		s.Displace = *r.Displace
	}
	if r.DisplaceFraction != nil {
		s.DisplaceFraction = *r.DisplaceFraction
	}
	if r.HoldMs != nil {
		s.HoldMs = *r.HoldMs
	}
	if r.CircleSize != nil {
		s.CircleSize = *r.CircleSize
	}
	if r.ApproachRate != nil {
		s.ApproachRate = *r.ApproachRate
	}
	if r.OverallDifficulty != nil {
		s.OverallDifficulty = *r.OverallDifficulty
	}
	if r.Performer != nil {
		s.Performer = *r.Performer
	}
	if r.Seed != nil {
		s.Seed = *r.Seed
	}
	if r.Mods != nil {
		mods, err := replay.ParseMods(*r.Mods)
		if err != nil {
			return s, err
		}
		s.Mods = mods
		s.PlaybackRate = mods.PlaybackRate()
	}
	if r.PlaybackRate != nil {
		s.PlaybackRate = *r.PlaybackRate
	}
	return s, s.Validate()
}

// TickDTO is one pointer sample; T is the audio clock in milliseconds.
type TickDTO struct {
	T float64 `json:"t"`
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type TicksRequest struct {
	Ticks []TickDTO `json:"ticks"`
}

func (r *TicksRequest) Validate() error {
	if len(r.Ticks) == 0 {
		return fmt.Errorf("ticks cannot be empty")
	}
	if len(r.Ticks) > MaxTicksPerRequest {
		return fmt.Errorf("too many ticks: %d (maximum: %d)", len(r.Ticks), MaxTicksPerRequest)
	}
	return nil
}

// PressDTO is one key press; Key is the bound key name.
type PressDTO struct {
	T   float64 `json:"t"`
	Key string  `json:"key"`
	X   float64 `json:"x"`
	Y   float64 `json:"y"`
}

type PressesRequest struct {
	Presses []PressDTO `json:"presses"`
}

func (r *PressesRequest) Validate() error {
	if len(r.Presses) == 0 {
		return fmt.Errorf("presses cannot be empty")
	}
	if len(r.Presses) > MaxPressesPerRequest {
		return fmt.Errorf("too many presses: %d (maximum: %d)", len(r.Presses), MaxPressesPerRequest)
	}
	return nil
}

// PressResultDTO reports what happened to one press.
type PressResultDTO struct {
	SnappedMs int64  `json:"snapped_ms"`
	Key       string `json:"key"`
	Recorded  bool   `json:"recorded"`
	Reason    string `json:"reason,omitempty"`
}

type PressesResponse struct {
	Results []PressResultDTO `json:"results"`
	Hits    int              `json:"hits"`
}

type ChartInfoDTO struct {
	Title         string  `json:"title"`
	Artist        string  `json:"artist"`
	Version       string  `json:"version"`
	AudioFilename string  `json:"audio_filename"`
	AudioFormat   string  `json:"audio_format,omitempty"`
	DurationMs    int64   `json:"duration_ms,omitempty"`
	Background    string  `json:"background,omitempty"`
	TempoPoints   int     `json:"tempo_points"`
	HitObjects    int     `json:"hit_objects"`
	StreamBPM     float64 `json:"stream_bpm"`

	CircleSize        float64 `json:"circle_size"`
	ApproachRate      float64 `json:"approach_rate"`
	OverallDifficulty float64 `json:"overall_difficulty"`
	HPDrainRate       float64 `json:"hp_drain_rate"`
}

func chartInfoDTO(info models.ChartInfo) ChartInfoDTO {
	return ChartInfoDTO{
		Title:         info.Title,
		Artist:        info.Artist,
		Version:       info.Version,
		AudioFilename: info.AudioFilename,
		AudioFormat:   info.AudioFormat,
		DurationMs:    info.DurationMs,
		Background:    info.Background,
		TempoPoints:   info.TempoPoints,
		HitObjects:    info.HitObjects,
		StreamBPM:     info.StreamBPM,

		CircleSize:        info.CircleSize,
		ApproachRate:      info.ApproachRate,
		OverallDifficulty: info.OverallDifficulty,
		HPDrainRate:       info.HPDrainRate,
	}
}

// SessionResponse is returned when a session is created or queried.
type SessionResponse struct {
	ID         string       `json:"id"`
	State      string       `json:"state"`
	Chart      ChartInfoDTO `json:"chart"`
	Samples    int          `json:"samples"`
	DurationMs int64        `json:"duration_ms"`
	Hits       int          `json:"hits"`
	Ignored    int          `json:"ignored"`
	Seed       int32        `json:"seed"`
	Mods       string       `json:"mods"`
	StartedAt  time.Time    `json:"started_at"`
}

// GenerationDTO represents a finalized capture in API responses.
type GenerationDTO struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"session_id"`
	Title       string    `json:"title"`
	Artist      string    `json:"artist"`
	Version     string    `json:"version"`
	ChartHash   string    `json:"chart_hash"`
	Notes       int       `json:"notes"`
	Dropped     int       `json:"dropped"`
	Seed        int32     `json:"seed"`
	Mods        string    `json:"mods"`
	ReplaySize  int64     `json:"replay_size"`
	ReplayHuman string    `json:"replay_size_human"`
	CreatedAt   time.Time `json:"created_at"`
	ChartURL    string    `json:"chart_url,omitempty"`
	ReplayURL   string    `json:"replay_url,omitempty"`
}

type ListGenerationsResponse struct {
	Generations []GenerationDTO `json:"generations"`
	Count       int             `json:"count"`
}

type DeleteResponse struct {
	Message string `json:"message"`
	ID      string `json:"id"`
}

// MetricsResponse provides server health and history metrics
type MetricsResponse struct {
	Status         string `json:"status"`
	DatabasePath   string `json:"database_path"`
	ActiveSessions int    `json:"active_sessions"`
	CachedOutputs  int    `json:"cached_outputs"`
	Generations    int64  `json:"generations"`
	Uptime         string `json:"uptime"`
}

// ErrorResponse is the standard error response format
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code,omitempty"`
}
