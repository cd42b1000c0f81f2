package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/himanishpuri/ReverseMapper/internal/chart"
	"github.com/himanishpuri/ReverseMapper/internal/session"
	"github.com/himanishpuri/ReverseMapper/internal/storage"
	"github.com/himanishpuri/ReverseMapper/pkg/logger"
	"github.com/himanishpuri/ReverseMapper/pkg/models"
	"github.com/himanishpuri/ReverseMapper/pkg/reversemapper"
	"github.com/himanishpuri/ReverseMapper/pkg/utils"
)

// Server encapsulates the HTTP server and its dependencies
type Server struct {
	service reversemapper.Service
	config  *ServerConfig
	log     reversemapper.Logger
	started time.Time

	mu      sync.Mutex
	active  map[string]struct{}
	outputs map[string]*reversemapper.Output
	order   []string // outputs keys, oldest first
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Addr           string
	DBPath         string
	MaxUploadBytes int64
	AllowedOrigins []string
	Settings       session.Settings
	SessionIdle    time.Duration // 0 keeps idle sessions
	CachedOutputs  int
}

// DefaultCachedOutputs bounds the in-memory outputs when ServerConfig leaves
// CachedOutputs unset.
const DefaultCachedOutputs = 32

// NewServer creates a new server instance
func NewServer(service reversemapper.Service, config *ServerConfig) *Server {
	return &Server{
		service: service,
		config:  config,
		log:     logger.GetLogger(),
		started: time.Now(),
		active:  make(map[string]struct{}),
		outputs: make(map[string]*reversemapper.Output),
	}
}

// respondJSON writes a JSON response
func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Errorf("Failed to encode JSON response: %v", err)
	}
}

// respondError writes an error response
func (s *Server) respondError(w http.ResponseWriter, statusCode int, message string) {
	s.respondJSON(w, statusCode, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	})
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, reversemapper.ErrSessionNotFound),
		errors.Is(err, storage.ErrNotFound),
		errors.Is(err, reversemapper.ErrNoHistory):
		return http.StatusNotFound
	case errors.Is(err, session.ErrState),
		errors.Is(err, session.ErrNoCapture):
		return http.StatusConflict
	case errors.Is(err, reversemapper.ErrNoChart),
		errors.Is(err, reversemapper.ErrNoAudio),
		errors.Is(err, reversemapper.ErrAudioMissing):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func (s *Server) decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	body := http.MaxBytesReader(w, r.Body, s.config.MaxUploadBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		s.log.Warnf("Failed to decode request: %v", err)
		s.respondError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

// handleRoot handles GET /
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]any{
		"service": "ReverseMapper API",
		"version": "1.0.0",
		"endpoints": map[string]string{
			"health":           "GET /health",
			"metrics":          "GET /api/health/metrics",
			"createSession":    "POST /api/sessions",
			"getSession":       "GET /api/sessions/{id}",
			"deleteSession":    "DELETE /api/sessions/{id}",
			"ticks":            "POST /api/sessions/{id}/ticks",
			"presses":          "POST /api/sessions/{id}/presses",
			"finalize":         "POST /api/sessions/{id}/finalize",
			"generations":      "GET /api/generations",
			"getGeneration":    "GET /api/generations/{id}",
			"deleteGeneration": "DELETE /api/generations/{id}",
			"downloadChart":    "GET /api/generations/{id}/chart",
			"downloadReplay":   "GET /api/generations/{id}/replay",
		},
	})
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
		"time":   time.Now().Format(time.RFC3339),
	})
}

// handleMetrics handles GET /api/health/metrics
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	count, err := s.service.HistoryCount()
	if err != nil && !errors.Is(err, reversemapper.ErrNoHistory) {
		s.log.Errorf("Failed to count generations: %v", err)
		s.respondError(w, http.StatusInternalServerError, "Failed to retrieve metrics")
		return
	}

	s.mu.Lock()
	active, cached := len(s.active), len(s.outputs)
	s.mu.Unlock()

	s.respondJSON(w, http.StatusOK, MetricsResponse{
		Status:         "healthy",
		DatabasePath:   s.config.DBPath,
		ActiveSessions: active,
		CachedOutputs:  cached,
		Generations:    count,
		Uptime:         humanize.RelTime(s.started, time.Now(), "", ""),
	})
}

// handleCreateSession handles POST /api/sessions (multipart .osz upload)
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), time.Minute)
	defer cancel()

	r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		s.log.Errorf("Failed to parse form: %v", err)
		s.respondError(w, http.StatusBadRequest, "Failed to parse form data")
		return
	}

	settings := s.config.Settings
	if raw := r.FormValue("settings"); raw != "" {
		var req SettingsRequest
		if err := json.Unmarshal([]byte(raw), &req); err != nil {
			s.respondError(w, http.StatusBadRequest, "Invalid settings JSON")
			return
		}
		var err error
		if settings, err = req.Apply(settings); err != nil {
			s.respondError(w, http.StatusBadRequest, fmt.Sprintf("Invalid settings: %v", err))
			return
		}
	}

	file, header, err := r.FormFile("archive")
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "archive file is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		s.log.Errorf("Failed to read upload: %v", err)
		s.respondError(w, http.StatusInternalServerError, "Failed to read uploaded file")
		return
	}

	s.log.Infof("Loading %s (%s)", header.Filename, humanize.Bytes(uint64(len(data))))
	project, err := s.service.LoadArchive(ctx, data)
	if err != nil {
		s.log.Warnf("Rejected %s: %v", header.Filename, err)
		s.respondError(w, statusFor(err), err.Error())
		return
	}

	c, err := s.service.StartSession(project, &settings, nil)
	if err != nil {
		s.log.Errorf("Failed to start session: %v", err)
		s.respondError(w, statusFor(err), err.Error())
		return
	}

	s.mu.Lock()
	s.active[c.ID] = struct{}{}
	s.mu.Unlock()

	s.respondJSON(w, http.StatusCreated, sessionResponse(c))
}

func sessionResponse(c *reversemapper.Capture) SessionResponse {
	st := c.Session.Stats()
	info := chartInfoDTO(c.Project.Info)
	info.StreamBPM = c.Session.Snapper().StreamBPM()
	return SessionResponse{
		ID:         c.ID,
		State:      st.State.String(),
		Chart:      info,
		Samples:    st.Samples,
		DurationMs: st.DurationMs,
		Hits:       st.Hits,
		Ignored:    st.Ignored,
		Seed:       c.Session.Seed(),
		Mods:       c.Session.Settings().Mods.String(),
		StartedAt:  c.StartedAt,
	}
}

// handleGetSession handles GET /api/sessions/{id}
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	c, err := s.service.GetSession(r.PathValue("id"))
	if err != nil {
		s.respondError(w, statusFor(err), err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, sessionResponse(c))
}

// handleDeleteSession handles DELETE /api/sessions/{id}
func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.service.EndSession(id); err != nil {
		s.respondError(w, statusFor(err), err.Error())
		return
	}
	s.mu.Lock()
	delete(s.active, id)
	s.mu.Unlock()

	s.respondJSON(w, http.StatusOK, DeleteResponse{Message: "Session discarded", ID: id})
}

// handleTicks handles POST /api/sessions/{id}/ticks
func (s *Server) handleTicks(w http.ResponseWriter, r *http.Request) {
	c, err := s.service.GetSession(r.PathValue("id"))
	if err != nil {
		s.respondError(w, statusFor(err), err.Error())
		return
	}

	var req TicksRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	for _, t := range req.Ticks {
		if err := c.Session.Tick(t.T, t.X, t.Y); err != nil {
			s.respondError(w, statusFor(err), err.Error())
			return
		}
	}
	s.respondJSON(w, http.StatusOK, sessionResponse(c))
}

// handlePresses handles POST /api/sessions/{id}/presses
func (s *Server) handlePresses(w http.ResponseWriter, r *http.Request) {
	c, err := s.service.GetSession(r.PathValue("id"))
	if err != nil {
		s.respondError(w, statusFor(err), err.Error())
		return
	}

	var req PressesRequest
	if !s.decodeJSON(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	set := c.Session.Settings()
	results := make([]PressResultDTO, 0, len(req.Presses))
	for _, p := range req.Presses {
		// Unbound keys are reported per press
		key := set.KeyFor(p.Key)
		if key == session.KeyNone {
			results = append(results, PressResultDTO{Key: p.Key, Reason: "unbound key"})
			continue
		}
		ev, ok, err := c.Session.Press(key, p.T, p.X, p.Y)
		if err != nil {
			s.respondError(w, statusFor(err), err.Error())
			return
		}
		res := PressResultDTO{SnappedMs: ev.SnappedMs, Key: key.String(), Recorded: ok}
		if !ok {
			// Work out why the session ignored it
			if set.EnforceBounds && !chart.InPlayfield(p.X, p.Y) {
				res.Reason = "outside playfield"
			} else {
				res.Reason = "duplicate"
			}
		}
		results = append(results, res)
	}

	s.respondJSON(w, http.StatusOK, PressesResponse{Results: results, Hits: c.Session.Stats().Hits})
}

// handleFinalize handles POST /api/sessions/{id}/finalize
func (s *Server) handleFinalize(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
	defer cancel()

	id := r.PathValue("id")
	out, err := s.service.Finalize(ctx, id)
	if err != nil {
		s.log.Warnf("Finalize %s failed: %v", id, err)
		s.respondError(w, statusFor(err), err.Error())
		return
	}

	key := out.Generation.ID
	if key == "" {
		key = id
	}
	s.mu.Lock()
	delete(s.active, id)
	s.mu.Unlock()
	// Outputs on disk with a history entry are served from there.
	if out.Generation.ID == "" || out.Generation.ArchivePath == "" {
		s.keepOutput(key, out)
	}

	gen := out.Generation
	gen.ID = key
	s.log.Infof("Generated %s - %s: %d notes", gen.Artist, gen.Title, gen.Notes)
	s.respondJSON(w, http.StatusCreated, generationDTO(gen))
}

func generationDTO(g models.Generation) GenerationDTO {
	return GenerationDTO{
		ID:          g.ID,
		SessionID:   g.SessionID,
		Title:       g.Title,
		Artist:      g.Artist,
		Version:     g.Version,
		ChartHash:   g.ChartHash,
		Notes:       g.Notes,
		Dropped:     g.Dropped,
		Seed:        g.Seed,
		Mods:        g.Mods,
		ReplaySize:  g.ReplaySize,
		ReplayHuman: humanize.Bytes(uint64(g.ReplaySize)),
		CreatedAt:   g.CreatedAt,
		ChartURL:    "/api/generations/" + g.ID + "/chart",
		ReplayURL:   "/api/generations/" + g.ID + "/replay",
	}
}

// handleListGenerations handles GET /api/generations
func (s *Server) handleListGenerations(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.respondError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	var gens []models.Generation
	var err error
	if hash := r.URL.Query().Get("chart_hash"); hash != "" {
		gens, err = s.service.FindByChartHash(hash)
	} else {
		gens, err = s.service.History(limit)
	}
	if err != nil {
		s.respondError(w, statusFor(err), err.Error())
		return
	}

	dtos := make([]GenerationDTO, len(gens))
	for i, g := range gens {
		dtos[i] = generationDTO(g)
	}
	s.respondJSON(w, http.StatusOK, ListGenerationsResponse{Generations: dtos, Count: len(dtos)})
}

// generationID reads the {id} path value, rejecting anything that is not a UUID.
func (s *Server) generationID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := r.PathValue("id")
	if !utils.ValidUUID(id) {
		s.respondError(w, http.StatusBadRequest, "invalid generation id")
		return "", false
	}
	return id, true
}

// handleGetGeneration handles GET /api/generations/{id}
func (s *Server) handleGetGeneration(w http.ResponseWriter, r *http.Request) {
	id, ok := s.generationID(w, r)
	if !ok {
		return
	}
	if out := s.cachedOutput(id); out != nil {
		g := out.Generation
		g.ID = id
		s.respondJSON(w, http.StatusOK, generationDTO(g))
		return
	}

	g, err := s.service.GetGeneration(id)
	if err != nil {
		s.respondError(w, statusFor(err), err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, generationDTO(*g))
}

// handleDeleteGeneration handles DELETE /api/generations/{id}
func (s *Server) handleDeleteGeneration(w http.ResponseWriter, r *http.Request) {
	id, ok := s.generationID(w, r)
	if !ok {
		return
	}
	removeFiles := r.URL.Query().Get("files") == "true"

	cached := s.dropOutput(id)

	err := s.service.DeleteGeneration(id, removeFiles)
	if err != nil && !(cached && statusFor(err) == http.StatusNotFound) {
		s.respondError(w, statusFor(err), err.Error())
		return
	}

	s.log.Infof("Deleted generation %s", id)
	s.respondJSON(w, http.StatusOK, DeleteResponse{Message: "Generation deleted", ID: id})
}

// handleDownload handles GET /api/generations/{id}/{kind}
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	kind := r.PathValue("kind")
	if kind != "chart" && kind != "replay" {
		http.NotFound(w, r)
		return
	}
	id, ok := s.generationID(w, r)
	if !ok {
		return
	}

	var name string
	var data []byte
	if out := s.cachedOutput(id); out != nil {
		if kind == "chart" {
			name, data = out.ChartFile, out.ChartData
		} else {
			name, data = out.ReplayFile, out.Result.Replay
		}
	} else {
		g, err := s.service.GetGeneration(id)
		if err != nil {
			s.respondError(w, statusFor(err), err.Error())
			return
		}
		path := g.ArchivePath
		if kind == "replay" {
			path = g.ReplayPath
		}
		if path == "" {
			s.respondError(w, http.StatusNotFound, "file was not kept")
			return
		}
		if data, err = os.ReadFile(path); err != nil {
			s.log.Warnf("Missing output file %s: %v", path, err)
			s.respondError(w, http.StatusNotFound, "file no longer available")
			return
		}
		name = filepath.Base(path)
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

func (s *Server) cachedOutput(id string) *reversemapper.Output {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outputs[id]
}

// keepOutput holds out in memory for download. Past the limit the oldest
// entry is evicted.
func (s *Server) keepOutput(key string, out *reversemapper.Output) {
	limit := s.config.CachedOutputs
	if limit <= 0 {
		limit = DefaultCachedOutputs
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.outputs[key]; !ok {
		s.order = append(s.order, key)
	}
	s.outputs[key] = out
	for len(s.order) > limit {
		oldest := s.order[0]
		s.order = s.order[1:]
		delete(s.outputs, oldest)
		s.log.Debugf("Evicted cached output %s", oldest)
	}
}

func (s *Server) dropOutput(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.outputs[key]; !ok {
		return false
	}
	delete(s.outputs, key)
	s.order = slices.DeleteFunc(s.order, func(k string) bool { return k == key })
	return true
}

// expireIdle ends sessions untouched for maxIdle and returns how many went.
func (s *Server) expireIdle(maxIdle time.Duration) int {
	ids := s.service.ExpireSessions(maxIdle)
	s.mu.Lock()
	for _, id := range ids {
		delete(s.active, id)
	}
	s.mu.Unlock()
	return len(ids)
}

// reapSessions runs expireIdle until ctx is done.
func (s *Server) reapSessions(ctx context.Context, maxIdle time.Duration) {
	ticker := time.NewTicker(maxIdle / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.expireIdle(maxIdle)
		}
	}
}
