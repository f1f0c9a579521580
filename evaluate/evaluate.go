// Package evaluate decides whether a search result is worth an SMS and drafts it.
package evaluate

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"flight-hunter/pkg/hunter"
)

// Judge is the AI oracle consulted for error diagnosis and note matching.
type Judge interface {
	ExplainError(ctx context.Context, errText string, profile *hunter.SearchProfile) (string, error)
	JudgeMatch(ctx context.Context, deal hunter.Deal, profile *hunter.SearchProfile, notes string) (hunter.Verdict, error)
}

// Evaluator turns a FlightResult into a send/suppress Decision.
//
// Every path notifies when in doubt. The only suppressing path is a
// confident negative verdict from the judge, or a judge failure when
// FailClosed is set.
type Evaluator struct {
	judge      Judge
	logger     *slog.Logger
	failClosed bool
}

// Config holds evaluator configuration.
type Config struct {
	Judge  Judge // nil disables AI analysis
	Logger *slog.Logger
	// FailClosed suppresses the alert when the judge fails on a deal with notes.
	// Provider errors are always sent.
	FailClosed bool
}

// New creates a new evaluator.
func New(cfg *Config) *Evaluator {
	return &Evaluator{
		judge:      cfg.Judge,
		logger:     cfg.Logger,
		failClosed: cfg.FailClosed,
	}
}

// Evaluate returns the decision for one search in one poll cycle.
func (e *Evaluator) Evaluate(ctx context.Context, result hunter.FlightResult, profile *hunter.SearchProfile, notes string) hunter.Decision {
	if e.judge == nil {
		return hunter.Decision{ShouldSend: true, Message: "Alert: " + result.String()}
	}

	switch r := result.(type) {
	case hunter.Failure:
		return e.evaluateFailure(ctx, r, profile)
	case hunter.Deal:
		return e.evaluateDeal(ctx, r, profile, notes)
	default:
		panic(fmt.Sprintf("evaluate: unknown flight result %T", result))
	}
}

func (e *Evaluator) evaluateFailure(ctx context.Context, f hunter.Failure, profile *hunter.SearchProfile) hunter.Decision {
	explanation, err := e.judge.ExplainError(ctx, f.Message, profile)
	if err != nil {
		e.logger.Warn("Error diagnosis failed, sending raw error", "contact", profile.Contact, "error", err)
		return hunter.Decision{ShouldSend: true, Message: "SYSTEM ERROR: " + f.Message}
	}
	return hunter.Decision{ShouldSend: true, Message: "SYSTEM ERROR: " + explanation}
}

func (e *Evaluator) evaluateDeal(ctx context.Context, d hunter.Deal, profile *hunter.SearchProfile, notes string) hunter.Decision {
	if strings.TrimSpace(notes) == "" {
		e.logger.Debug("Skipping AI analysis (no notes)", "contact", profile.Contact)
		return hunter.Decision{ShouldSend: true, Message: DefaultMessage(d, profile)}
	}

	verdict, err := e.judge.JudgeMatch(ctx, d, profile, notes)
	if err != nil {
		e.logger.Error("AI analysis failed", "contact", profile.Contact, "fail_closed", e.failClosed, "error", err)
		return hunter.Decision{
			ShouldSend: !e.failClosed,
			Message:    fmt.Sprintf("Deal found! $%s (AI analysis failed)", d.Price),
		}
	}

	return hunter.Decision{ShouldSend: verdict.Match, Message: verdict.SMS}
}

// DefaultMessage is the alert sent when there are no notes to judge against.
func DefaultMessage(d hunter.Deal, profile *hunter.SearchProfile) string {
	return fmt.Sprintf("Flight Alert for %s!\nRoute: %s -> %s\nPrice: $%s",
		profile.Username, profile.Origin, profile.Destination, d.Price)
}
