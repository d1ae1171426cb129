// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package server provides the JSON REST + WebSocket API for driving
// downloads remotely. The teacher's embedded single-page app
// (internal/assets) is dropped: there is no UI asset pipeline in scope
// here, only the API surface it served.
package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/quietloop/riftpull/internal/store"
)

// Config holds server configuration.
type Config struct {
	Addr           string
	Port           int
	DownloadsDir   string // output directory for downloads
	Concurrency    int
	AllowedOrigins []string // CORS origins
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Addr:         "0.0.0.0",
		Port:         8080,
		DownloadsDir: "./Downloads",
		Concurrency:  8,
	}
}

// Server is the HTTP server fronting the download engine.
type Server struct {
	config     Config
	httpServer *http.Server
	store      *store.Store
	jobs       *JobManager
	wsHub      *WSHub
}

// New creates a new server with the given configuration, opening the
// store every job it runs shares.
func New(cfg Config) (*Server, error) {
	def := DefaultConfig()
	if cfg.Addr == "" {
		cfg.Addr = def.Addr
	}
	if cfg.Port == 0 {
		cfg.Port = def.Port
	}
	if cfg.DownloadsDir == "" {
		cfg.DownloadsDir = def.DownloadsDir
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}

	storeDir := filepath.Join(cfg.DownloadsDir, ".riftpull")
	if err := os.MkdirAll(storeDir, 0o755); err != nil {
		return nil, fmt.Errorf("preparing store directory: %w", err)
	}
	st, err := store.Open(filepath.Join(storeDir, "store.v1.bin"))
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	wsHub := NewWSHub()
	s := &Server{
		config: cfg,
		store:  st,
		wsHub:  wsHub,
	}
	s.jobs = NewJobManager(cfg, st, wsHub)
	return s, nil
}

// ListenAndServe starts the HTTP server and blocks until ctx is cancelled
// or the server fails.
func (s *Server) ListenAndServe(ctx context.Context) error {
	go s.wsHub.Run()

	mux := http.NewServeMux()
	s.registerAPIRoutes(mux)

	addr := fmt.Sprintf("%s:%d", s.config.Addr, s.config.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.corsMiddleware(s.loggingMiddleware(mux)),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.jobs.CancelAll()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	log.Printf("riftpull server listening on http://%s", addr)
	log.Printf("   API: http://localhost:%d/api", s.config.Port)

	err := s.httpServer.ListenAndServe()
	s.store.Close()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// registerAPIRoutes sets up all API endpoints.
func (s *Server) registerAPIRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/health", s.handleHealth)

	mux.HandleFunc("POST /api/downloads", s.handleStartDownload)
	mux.HandleFunc("GET /api/downloads", s.handleListJobs)
	mux.HandleFunc("GET /api/downloads/{id}", s.handleGetJob)
	mux.HandleFunc("DELETE /api/downloads/{id}", s.handleCancelJob)

	mux.HandleFunc("GET /api/settings", s.handleGetSettings)
	mux.HandleFunc("POST /api/settings", s.handleUpdateSettings)

	mux.HandleFunc("GET /api/ws", s.handleWebSocket)
}

// Middleware

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Printf("%s %s %s", r.Method, r.URL.Path, time.Since(start).Round(time.Millisecond))
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		if origin != "" {
			allowed := false
			if len(s.config.AllowedOrigins) == 0 {
				allowed = true
			} else {
				for _, o := range s.config.AllowedOrigins {
					if o == "*" || o == origin {
						allowed = true
						break
					}
				}
			}

			if allowed {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
				w.Header().Set("Access-Control-Max-Age", "86400")
			}
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
