// Package poll runs the periodic sweep over active searches.
package poll

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"flight-hunter/pkg/hunter"
)

// AlertSubject is the subject line of every topic broadcast.
const AlertSubject = "Flight Hunter Alert"

const (
	defaultSearchTimeout   = 30 * time.Second
	defaultEvaluateTimeout = 30 * time.Second
)

// ErrCycleRunning is returned by RunCycle while another cycle is in progress.
var ErrCycleRunning = errors.New("poll cycle already running")

// Store lists the searches to poll.
type Store interface {
	ListActive(ctx context.Context) ([]*hunter.SearchProfile, error)
}

// Searcher queries the flight-search provider.
type Searcher interface {
	Search(ctx context.Context, q hunter.QueryParams) hunter.FlightResult
}

// Evaluator decides whether a result is worth an alert.
type Evaluator interface {
	Evaluate(ctx context.Context, result hunter.FlightResult, profile *hunter.SearchProfile, notes string) hunter.Decision
}

// Notifier broadcasts alerts to the topic subscribers.
type Notifier interface {
	SendToTopic(ctx context.Context, subject, body string) error
}

// Stats summarizes one poll cycle.
type Stats struct {
	Processed  int
	Sent       int
	Suppressed int
	Failed     int
}

// Monitor handles the per-cycle polling logic.
type Monitor struct {
	store           Store
	searcher        Searcher
	evaluator       Evaluator
	notifier        Notifier
	logger          *slog.Logger
	limiter         *rate.Limiter
	workers         int
	searchTimeout   time.Duration
	evaluateTimeout time.Duration
	running         sync.Mutex // Held for the duration of a cycle
}

// Config holds monitor configuration.
type Config struct {
	Store     Store
	Searcher  Searcher
	Evaluator Evaluator
	Notifier  Notifier
	Logger    *slog.Logger
	// Workers bounds concurrent searches; values below 1 mean sequential.
	Workers int
	// RatePerSecond caps provider calls; zero disables the limit.
	RatePerSecond   float64
	SearchTimeout   time.Duration
	EvaluateTimeout time.Duration
}

// New creates a new poll monitor.
func New(cfg *Config) *Monitor {
	m := &Monitor{
		store:           cfg.Store,
		searcher:        cfg.Searcher,
		evaluator:       cfg.Evaluator,
		notifier:        cfg.Notifier,
		logger:          cfg.Logger,
		workers:         max(cfg.Workers, 1),
		searchTimeout:   cfg.SearchTimeout,
		evaluateTimeout: cfg.EvaluateTimeout,
	}
	if cfg.RatePerSecond > 0 {
		m.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), 1)
	}
	if m.searchTimeout <= 0 {
		m.searchTimeout = defaultSearchTimeout
	}
	if m.evaluateTimeout <= 0 {
		m.evaluateTimeout = defaultEvaluateTimeout
	}
	return m
}

// outcome of a single search.
type outcome int

const (
	outcomeSent outcome = iota
	outcomeSuppressed
	outcomeFailed
)

// RunCycle polls every active search once. Only a store failure aborts the
// cycle; per-search failures are logged and counted. Cycles never overlap:
// a call made while one is running returns ErrCycleRunning immediately.
func (m *Monitor) RunCycle(ctx context.Context) (Stats, error) {
	if !m.running.TryLock() {
		m.logger.Warn("Previous poll cycle still running, skipping")
		return Stats{}, ErrCycleRunning
	}
	defer m.running.Unlock()

	searches, err := m.store.ListActive(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("list active searches: %w", err)
	}

	start := time.Now()
	m.logger.Info("Polling active searches", "count", len(searches), "workers", m.workers)

	var processed, sent, suppressed, failed atomic.Int64
	g := new(errgroup.Group)
	g.SetLimit(m.workers)

	for _, search := range searches {
		if ctx.Err() != nil {
			m.logger.Info("Context cancelled, stopping poll cycle", "error", ctx.Err())
			break
		}
		g.Go(func() error {
			processed.Add(1)
			switch m.checkSearch(ctx, search) {
			case outcomeSent:
				sent.Add(1)
			case outcomeSuppressed:
				suppressed.Add(1)
			case outcomeFailed:
				failed.Add(1)
			}
			// Never fail the group: one search must not cancel its siblings.
			return nil
		})
	}
	_ = g.Wait()

	stats := Stats{
		Processed:  int(processed.Load()),
		Sent:       int(sent.Load()),
		Suppressed: int(suppressed.Load()),
		Failed:     int(failed.Load()),
	}
	m.logger.Info("Poll cycle completed",
		"processed", stats.Processed,
		"sent", stats.Sent,
		"suppressed", stats.Suppressed,
		"failed", stats.Failed,
		"duration_ms", time.Since(start).Milliseconds())

	return stats, nil
}

func (m *Monitor) checkSearch(ctx context.Context, search *hunter.SearchProfile) (result outcome) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("Search check panicked", "id", search.ID, "contact", search.Contact, "panic", r)
			result = outcomeFailed
		}
	}()

	if m.limiter != nil {
		if err := m.limiter.Wait(ctx); err != nil {
			m.logger.Warn("Rate limiter wait aborted", "id", search.ID, "error", err)
			return outcomeFailed
		}
	}

	searchCtx, cancel := context.WithTimeout(ctx, m.searchTimeout)
	flight := m.searcher.Search(searchCtx, search.Query())
	cancel()

	evalCtx, cancel := context.WithTimeout(ctx, m.evaluateTimeout)
	decision := m.evaluator.Evaluate(evalCtx, flight, search, search.Notes)
	cancel()

	if !decision.ShouldSend {
		m.logger.Info("Filtered by AI", "id", search.ID, "contact", search.Contact, "result", flight.String())
		return outcomeSuppressed
	}

	if err := m.notifier.SendToTopic(ctx, AlertSubject, decision.Message); err != nil {
		m.logger.Warn("Alert delivery failed", "id", search.ID, "contact", search.Contact, "error", err)
		return outcomeFailed
	}

	m.logger.Info("Alert sent", "id", search.ID, "contact", search.Contact)
	return outcomeSent
}
