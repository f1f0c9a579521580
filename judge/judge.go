// Package judge asks a language model to diagnose provider errors and to
// decide whether a deal satisfies a subscriber's free-text notes.
package judge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"flight-hunter/pkg/hunter"
)

// Completer sends a single-turn prompt and returns the model's text reply.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Judge wraps a Completer with the prompts and reply parsing.
type Judge struct {
	completer Completer
	logger    *slog.Logger
}

// New creates a new judge.
func New(completer Completer, logger *slog.Logger) *Judge {
	return &Judge{
		completer: completer,
		logger:    logger,
	}
}

// ExplainError returns a one-sentence diagnosis of a provider error.
func (j *Judge) ExplainError(ctx context.Context, errText string, profile *hunter.SearchProfile) (string, error) {
	j.logger.Debug("Asking model to explain API error", "error_text", errText)

	prompt := fmt.Sprintf(`You are a Backend Reliability Engineer. Use your knowledge to explain this API error.
Error: %q
Request Context: %s -> %s on %s

Write a short 1-sentence log suitable for an admin SMS explaining what is likely wrong (e.g., 'API Key Invalid', 'No flights on this date', 'Rate Limit').`,
		errText, profile.Origin, profile.Destination, profile.DepartureDate)

	reply, err := j.completer.Complete(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("explain error: %w", err)
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return "", errors.New("explain error: empty reply")
	}
	return reply, nil
}

// verdictReply keeps absent fields distinguishable from zero values.
type verdictReply struct {
	Match *bool   `json:"match"`
	SMS   *string `json:"sms"`
}

// JudgeMatch decides whether the deal strictly satisfies notes and drafts an SMS.
func (j *Judge) JudgeMatch(ctx context.Context, deal hunter.Deal, profile *hunter.SearchProfile, notes string) (hunter.Verdict, error) {
	j.logger.Debug("Asking model to evaluate deal", "contact", profile.Contact, "price", deal.Price)

	prompt := fmt.Sprintf(`You are a travel agent assistant.
User Preferences:
- Route: %s to %s
- User Notes/Constraints: %q

Flight Found:
- Airline: %s
- Price: $%s

Tasks:
1. Does this flight strictly meet the user's notes? Any explicit negative constraint that the flight violates disqualifies it (e.g. if notes say 'no morning flights' and the flight is in the morning, answer NO).
2. Write a short, exciting SMS alert (max 160 chars) if it matches.

Output JSON only: {"match": true/false, "sms": "..."}`,
		profile.Origin, profile.Destination, notes, deal.Airline, deal.Price)

	reply, err := j.completer.Complete(ctx, prompt)
	if err != nil {
		return hunter.Verdict{}, fmt.Errorf("judge match: %w", err)
	}
	j.logger.Debug("Model raw response", "reply", reply)

	return ParseVerdict(reply)
}

// ParseVerdict decodes a judge reply, tolerating a markdown code fence.
// Missing fields default to a match with the message "Deal found!".
func ParseVerdict(reply string) (hunter.Verdict, error) {
	body := []byte(StripFence(reply))

	// A bare null would otherwise decode into an all-defaults verdict.
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return hunter.Verdict{}, fmt.Errorf("decode verdict: %w", err)
	}
	if fields == nil {
		return hunter.Verdict{}, errors.New("decode verdict: reply is not a JSON object")
	}

	var r verdictReply
	if err := json.Unmarshal(body, &r); err != nil {
		return hunter.Verdict{}, fmt.Errorf("decode verdict: %w", err)
	}

	v := hunter.Verdict{Match: true, SMS: "Deal found!"}
	if r.Match != nil {
		v.Match = *r.Match
	}
	if r.SMS != nil {
		v.SMS = *r.SMS
	}
	return v, nil
}

// StripFence removes a leading ``` or ```json marker and a trailing ```.
func StripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimPrefix(s, "json")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
