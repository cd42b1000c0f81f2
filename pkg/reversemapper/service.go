// Package reversemapper loads charts, runs capture sessions and turns them
// into a repacked beatmap and a replay, keeping a history of what was made.
package reversemapper

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/himanishpuri/ReverseMapper/internal/archive"
	"github.com/himanishpuri/ReverseMapper/internal/audio"
	"github.com/himanishpuri/ReverseMapper/internal/chart"
	"github.com/himanishpuri/ReverseMapper/internal/session"
	"github.com/himanishpuri/ReverseMapper/internal/snap"
	"github.com/himanishpuri/ReverseMapper/pkg/logger"
	"github.com/himanishpuri/ReverseMapper/pkg/models"
	"github.com/himanishpuri/ReverseMapper/pkg/utils"
)

var (
	ErrNoChart         = archive.ErrNoChart
	ErrNoAudio         = errors.New("chart declares no audio file")
	ErrAudioMissing    = errors.New("audio file not found in archive")
	ErrSessionNotFound = errors.New("session not found")
	ErrNoHistory       = errors.New("history is disabled")
)

// mapperService is the default implementation of the Service interface.
type mapperService struct {
	storage Storage
	log     Logger
	config  *Config

	mu       sync.Mutex
	sessions map[string]*Capture
}

func NewService(opts ...Option) (Service, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.Logger == nil {
		cfg.Logger = logger.GetLogger()
	}
	if err := cfg.Settings.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}

	var stor Storage
	switch {
	case cfg.NoHistory:
	case cfg.Storage != nil:
		stor = cfg.Storage
	default:
		var err error
		stor, err = NewSQLiteStorage(cfg.DBPath)
		if err != nil {
			return nil, fmt.Errorf("failed to create storage: %w", err)
		}
	}

	return &mapperService{
		storage:  stor,
		log:      cfg.Logger,
		config:   cfg,
		sessions: make(map[string]*Capture),
	}, nil
}

// LoadArchive opens an .osz, picks its first chart and checks that the
// declared audio track is inside. An audio track in a format that cannot be
// probed is only a warning.
func (s *mapperService) LoadArchive(ctx context.Context, data []byte) (*Project, error) {
	a, err := archive.Open(data)
	if err != nil {
		return nil, err
	}
	name, err := a.ChartEntry()
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	text, err := a.Read(name)
	if err != nil {
		return nil, err
	}
	p, err := s.project(name, string(text))
	if err != nil {
		return nil, err
	}
	p.archive = a

	if !a.Has(p.Info.AudioFilename) {
		return nil, fmt.Errorf("%w: %s", ErrAudioMissing, p.Info.AudioFilename)
	}
	track, err := a.Read(p.Info.AudioFilename)
	if err != nil {
		return nil, err
	}
	md, err := audio.Probe(p.Info.AudioFilename, track)
	switch {
	case errors.Is(err, audio.ErrUnsupported):
		s.log.Warnf("Cannot probe %s: %v", p.Info.AudioFilename, err)
	case err != nil:
		s.log.Warnf("Audio probe failed: %v", err)
	default:
		p.Audio = md
		p.Info.AudioFormat = md.Format
		p.Info.DurationMs = md.DurationMs()
	}

	s.log.Infof("Loaded %s (%d archive entries)", name, len(a.Names()))
	return p, nil
}

func (s *mapperService) LoadArchiveFile(ctx context.Context, path string) (*Project, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading archive: %w", err)
	}
	return s.LoadArchive(ctx, data)
}

// LoadChart loads bare chart text. Finalize then writes an .osu instead of
// repacking an archive.
func (s *mapperService) LoadChart(text string) (*Project, error) {
	return s.project("", text)
}

func (s *mapperService) project(name, text string) (*Project, error) {
	c := chart.Parse(text)
	if !c.Has(chart.SectionHitObjects) && !c.Has(chart.SectionTimingPoints) {
		return nil, fmt.Errorf("%w: %s has no timing or hit objects", ErrNoChart, displayName(name))
	}

	audioFile, _ := c.Lookup(chart.FieldAudioFilename)
	if strings.TrimSpace(audioFile) == "" {
		return nil, ErrNoAudio
	}

	info := models.ChartInfo{AudioFilename: audioFile}
	info.Title, _ = c.Lookup(chart.FieldTitle)
	info.Artist, _ = c.Lookup(chart.FieldArtist)
	info.Version, _ = c.Lookup(chart.FieldVersion)
	info.Background, _ = c.Background()
	info.HitObjects = len(c.HitObjects())
	for f, dst := range map[chart.Field]*float64{
		chart.FieldCircleSize:        &info.CircleSize,
		chart.FieldApproachRate:      &info.ApproachRate,
		chart.FieldOverallDifficulty: &info.OverallDifficulty,
		chart.FieldHPDrainRate:       &info.HPDrainRate,
	} {
		v, err := c.LookupFloat(f)
		if err != nil {
			continue
		}
		*dst = v
	}
	grid := snap.FromChart(c, s.config.Settings.Subdivision)
	info.TempoPoints = len(grid.Points())
	info.StreamBPM = grid.StreamBPM()
	if info.TempoPoints == 0 {
		s.log.Warnf("%s has no tempo points; presses will not snap", displayName(name))
	}

	p := &Project{ChartName: name, Chart: c, Info: info}
	return p, nil
}

func displayName(name string) string {
	if name == "" {
		return "chart"
	}
	return name
}

// StartSession registers and starts a capture over p. settings nil uses the
// service's settings; input may be nil when values are pushed directly.
func (s *mapperService) StartSession(p *Project, settings *session.Settings, input session.Input) (*Capture, error) {
	if p == nil || p.Chart == nil {
		return nil, session.ErrNoChart
	}
	set := s.config.Settings
	if settings != nil {
		set = *settings
	}

	id := utils.GenerateUUID()
	var log session.Logger = s.log
	if l, ok := s.log.(*logger.Logger); ok {
		log = l.With("[" + id[:8] + "]")
	}

	sess, err := session.New(p.Chart, set, input, log)
	if err != nil {
		return nil, err
	}
	if err := sess.Start(); err != nil {
		return nil, err
	}

	now := time.Now()
	c := &Capture{ID: id, Project: p, Session: sess, StartedAt: now, lastSeen: now}
	s.mu.Lock()
	s.sessions[id] = c
	s.mu.Unlock()

	s.log.Infof("Session %s started on %q (1/%d grid, %.0f BPM stream)", id, p.Info.Title, set.Subdivision, sess.Snapper().StreamBPM())
	return c, nil
}

func (s *mapperService) GetSession(id string) (*Capture, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	c.lastSeen = time.Now()
	return c, nil
}

// ExpireSessions discards sessions nobody has looked up for longer than
// maxIdle and returns their IDs.
func (s *mapperService) ExpireSessions(maxIdle time.Duration) []string {
	cutoff := time.Now().Add(-maxIdle)
	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []string
	for id, c := range s.sessions {
		if c.lastSeen.Before(cutoff) {
			delete(s.sessions, id)
			expired = append(expired, id)
		}
	}
	if len(expired) > 0 {
		s.log.Infof("Expired %d idle session(s)", len(expired))
	}
	return expired
}

// EndSession discards a session without generating anything.
func (s *mapperService) EndSession(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	delete(s.sessions, id)
	return nil
}

// Finalize generates the artifacts of a session, writes them to the output
// directory and records them in the history. The session stays registered
// if generation fails, so it can be retried. A retry after the artifacts
// were built only repeats the packing and writing.
func (s *mapperService) Finalize(ctx context.Context, id string) (*Output, error) {
	c, err := s.GetSession(id)
	if err != nil {
		return nil, err
	}
	p := c.Project

	s.mu.Lock()
	res := c.result
	s.mu.Unlock()
	if res == nil {
		if res, err = c.Session.Finalize(ctx); err != nil {
			return nil, fmt.Errorf("finalizing session: %w", err)
		}
		s.mu.Lock()
		c.result = res
		s.mu.Unlock()
	} else {
		s.log.Infof("Retrying output of session %s", id)
	}

	set := c.Session.Settings()
	base := utils.SafeName(fmt.Sprintf("%s - %s (%s)", p.Info.Artist, p.Info.Title, session.DifficultyVersion))
	out := &Output{
		Result:     res,
		ReplayFile: fmt.Sprintf("%s %s.osr", base, id[:8]),
	}
	if p.archive != nil {
		data, err := p.archive.Replace(p.ChartName, []byte(res.ChartText))
		if err != nil {
			return nil, fmt.Errorf("repacking archive: %w", err)
		}
		out.ChartFile = base + ".osz"
		out.ChartData = data
	} else {
		out.ChartFile = base + ".osu"
		out.ChartData = []byte(res.ChartText)
	}

	gen := models.Generation{
		SessionID:  id,
		Title:      p.Info.Title,
		Artist:     p.Info.Artist,
		Version:    p.Info.Version,
		ChartHash:  res.ChartHash,
		Notes:      len(res.Objects),
		Dropped:    res.Dropped,
		Seed:       res.Seed,
		Mods:       set.Mods.String(),
		ReplaySize: int64(len(res.Replay)),
		CreatedAt:  time.Now(),
	}

	if dir := s.config.OutDir; dir != "" {
		gen.ArchivePath = filepath.Join(dir, out.ChartFile)
		gen.ReplayPath = filepath.Join(dir, out.ReplayFile)
		if err := utils.WriteFile(gen.ArchivePath, out.ChartData); err != nil {
			return nil, err
		}
		if err := utils.WriteFile(gen.ReplayPath, res.Replay); err != nil {
			return nil, err
		}
	}

	if s.storage != nil {
		if prev, err := s.storage.FindByChartHash(gen.ChartHash); err == nil && len(prev) > 0 {
			s.log.Warnf("Identical chart already generated as %s", prev[0].ID)
		}
		genID, err := s.storage.CreateGeneration(gen)
		if err != nil {
			s.log.Errorf("Failed to record generation: %v", err)
		} else {
			gen.ID = genID
		}
	}
	out.Generation = gen

	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()

	s.log.Infof("Session %s finalized: %d notes, replay %d bytes", id, len(res.Objects), len(res.Replay))
	return out, nil
}

func (s *mapperService) History(limit int) ([]models.Generation, error) {
	if s.storage == nil {
		return nil, ErrNoHistory
	}
	return s.storage.ListGenerations(limit)
}

func (s *mapperService) HistoryCount() (int64, error) {
	if s.storage == nil {
		return 0, ErrNoHistory
	}
	return s.storage.CountGenerations()
}

// FindByChartHash lists earlier generations that produced the same chart.
func (s *mapperService) FindByChartHash(hash string) ([]models.Generation, error) {
	if s.storage == nil {
		return nil, ErrNoHistory
	}
	return s.storage.FindByChartHash(hash)
}

func (s *mapperService) GetGeneration(id string) (*models.Generation, error) {
	if s.storage == nil {
		return nil, ErrNoHistory
	}
	return s.storage.GetGeneration(id)
}

// DeleteGeneration removes a history entry, and with removeFiles also the
// files it points at.
func (s *mapperService) DeleteGeneration(id string, removeFiles bool) error {
	if s.storage == nil {
		return ErrNoHistory
	}
	g, err := s.storage.GetGeneration(id)
	if err != nil {
		return err
	}
	if removeFiles {
		for _, path := range []string{g.ArchivePath, g.ReplayPath} {
			if path == "" {
				continue
			}
			if err := utils.DeleteFile(path); err != nil {
				s.log.Warnf("Failed to remove %s: %v", path, err)
			}
		}
	}
	return s.storage.DeleteGeneration(id)
}

func (s *mapperService) Close() error {
	if s.storage == nil {
		return nil
	}
	return s.storage.Close()
}
