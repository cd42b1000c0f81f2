package main

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/himanishpuri/ReverseMapper/pkg/logger"
)

// setupRoutes registers all HTTP routes and middleware
func (s *Server) setupRoutes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/", s.handleRoot)

	// Health endpoints
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/health/metrics", s.handleMetrics)

	// Capture sessions
	mux.HandleFunc("POST /api/sessions", s.handleCreateSession)
	mux.HandleFunc("GET /api/sessions/{id}", s.handleGetSession)
	mux.HandleFunc("DELETE /api/sessions/{id}", s.handleDeleteSession)
	mux.HandleFunc("POST /api/sessions/{id}/ticks", s.handleTicks)
	mux.HandleFunc("POST /api/sessions/{id}/presses", s.handlePresses)
	mux.HandleFunc("POST /api/sessions/{id}/finalize", s.handleFinalize)

	// Generated artifacts
	mux.HandleFunc("GET /api/generations", s.handleListGenerations)
	mux.HandleFunc("GET /api/generations/{id}", s.handleGetGeneration)
	mux.HandleFunc("DELETE /api/generations/{id}", s.handleDeleteGeneration)
	mux.HandleFunc("GET /api/generations/{id}/{kind}", s.handleDownload)

	return corsMiddleware(s.config.AllowedOrigins)(loggingMiddleware(mux))
}

// corsMiddleware adds CORS headers to responses
func corsMiddleware(allowedOrigins []string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")

			// Check if origin is allowed
			allowed := false
			if len(allowedOrigins) == 0 || (len(allowedOrigins) == 1 && allowedOrigins[0] == "*") {
				w.Header().Set("Access-Control-Allow-Origin", "*")
				allowed = true
			} else {
				// Echo back a listed origin only
				for _, allowedOrigin := range allowedOrigins {
					if allowedOrigin == origin {
						w.Header().Set("Access-Control-Allow-Origin", origin)
						w.Header().Add("Vary", "Origin")
						allowed = true
						break
					}
				}
			}

			if allowed {
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")
				w.Header().Set("Access-Control-Expose-Headers", "Content-Disposition")
				w.Header().Set("Access-Control-Max-Age", "3600")
			}

			// Handle preflight requests
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// loggingMiddleware logs requests at debug level; tick uploads are frequent.
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)
		logger.Debugf("%s %s from %s -> %d", r.Method, r.URL.Path, getClientIP(r), wrapped.statusCode)
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// getClientIP extracts the client IP from the request
func getClientIP(r *http.Request) string {
	// Check X-Forwarded-For header first
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		return strings.TrimSpace(ips[0])
	}
	// Check X-Real-IP header
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}

	// Fall back to RemoteAddr, dropping the port
	ip := r.RemoteAddr
	if idx := strings.LastIndex(ip, ":"); idx != -1 {
		ip = ip[:idx]
	}
	return ip
}

// Start starts the HTTP server
func (s *Server) Start() error {
	handler := s.setupRoutes()

	s.log.Infof("🚀 ReverseMapper server starting on %s", s.config.Addr)
	s.log.Infof("   Database: %s", s.config.DBPath)
	s.log.Infof("   Grid: 1/%d, mods %s", s.config.Settings.Subdivision, s.config.Settings.Mods)
	s.log.Infof("   CORS Origins: %v", s.config.AllowedOrigins)

	if s.config.SessionIdle > 0 {
		go s.reapSessions(context.Background(), s.config.SessionIdle)
	}

	srv := &http.Server{
		Addr:              s.config.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return srv.ListenAndServe()
}
