// Package server handles HTTP endpoints and request routing.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"flight-hunter/pkg/hunter"
	"flight-hunter/poll"
	"flight-hunter/scraper"
)

const maxBodyBytes = 1 << 20

// Store interface for search and OTP persistence.
type Store interface {
	Put(ctx context.Context, p *hunter.SearchProfile) error
	PutOTP(ctx context.Context, otp *hunter.OTP) error
	LoadOTP(ctx context.Context, contact string) (*hunter.OTP, error)
	DeleteOTP(ctx context.Context, contact string) error
}

// Notifier interface for direct messages.
type Notifier interface {
	SendToContact(ctx context.Context, phone, body string) error
}

// Poller interface for triggering poll cycles.
type Poller interface {
	RunCycle(ctx context.Context) (poll.Stats, error)
}

// Scraper interface for the page-title helper.
type Scraper interface {
	Scrape(ctx context.Context, pageURL string) (*scraper.Page, error)
}

// Resolver maps airport codes to provider entity IDs.
type Resolver interface {
	Resolve(code string) (id string, known bool)
}

// IsNotFound checks if an error is a not found error.
type IsNotFound func(error) bool

// Server handles HTTP requests.
type Server struct {
	store      Store
	notifier   Notifier
	poller     Poller
	scraper    Scraper
	resolver   Resolver
	isNotFound IsNotFound
	limiter    *rateLimiter
	logger     *slog.Logger
	now        func() time.Time
	newID      func() string
	retention  time.Duration
	debugOTP   bool
}

// Config holds server configuration.
type Config struct {
	Store      Store
	Notifier   Notifier
	Poller     Poller
	Scraper    Scraper
	Resolver   Resolver
	IsNotFound IsNotFound
	Logger     *slog.Logger
	NewID      func() string
	// Retention is how long a verified search stays active.
	Retention time.Duration
	// DebugOTP echoes issued codes in the SEND_OTP response.
	DebugOTP bool
}

// DefaultRetention keeps searches for 7 days.
const DefaultRetention = 7 * 24 * time.Hour

// New creates a new HTTP server handler.
func New(cfg *Config) *Server {
	s := &Server{
		store:      cfg.Store,
		notifier:   cfg.Notifier,
		poller:     cfg.Poller,
		scraper:    cfg.Scraper,
		resolver:   cfg.Resolver,
		isNotFound: cfg.IsNotFound,
		limiter:    newRateLimiter(),
		logger:     cfg.Logger,
		now:        time.Now,
		newID:      cfg.NewID,
		retention:  cfg.Retention,
		debugOTP:   cfg.DebugOTP,
	}
	if s.retention <= 0 {
		s.retention = DefaultRetention
	}
	return s
}

// Handler returns the router with all routes registered.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRoot)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/pollz", s.handlePoll)
	return mux
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, port string) error {
	server := &http.Server{
		Addr:              ":" + port,
		Handler:           s.Handler(),
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Minute, // A triggered poll cycle runs inside the request
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting HTTP server", "port", port)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	}
}

func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "POST,OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("Failed to write response", "error", err)
	}
}

func message(msg string) map[string]string {
	return map[string]string{"message": msg}
}

// handleRoot routes on the body: no body triggers a poll cycle, a JSON body
// carries an action.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	switch r.Method {
	case http.MethodOptions:
		s.writeJSON(w, http.StatusOK, message("CORS OK"))
		return
	case http.MethodPost:
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, message("Could not read request body"))
		return
	}

	if len(bytes.TrimSpace(body)) == 0 {
		s.runPoll(w, r)
		return
	}

	ip := clientIP(r)
	if !s.limiter.allow(ip) {
		s.logger.Warn("Rate limit exceeded", "ip", ip)
		s.writeJSON(w, http.StatusTooManyRequests, message("Too many requests. Please try again later."))
		return
	}

	s.handleAction(w, r, body)
}

func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	s.runPoll(w, r)
}

func (s *Server) runPoll(w http.ResponseWriter, r *http.Request) {
	s.logger.Info("Poll triggered by request")

	stats, err := s.poller.RunCycle(r.Context())
	if errors.Is(err, poll.ErrCycleRunning) {
		s.writeJSON(w, http.StatusOK, map[string]any{"status": "Polling already in progress"})
		return
	}
	if err != nil {
		s.logger.Error("Poll cycle failed", "error", err)
		s.writeJSON(w, http.StatusInternalServerError, message("Polling failed"))
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":    "Batch polling completed",
		"processed": stats.Processed,
		"sent":      stats.Sent,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := fmt.Fprint(w, `{"status":"healthy"}`); err != nil {
		s.logger.Warn("Failed to write health response", "error", err)
	}
}
