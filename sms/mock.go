package sms

import (
	"context"
	"log/slog"
)

// MockProvider logs messages instead of sending them, for local development.
type MockProvider struct {
	logger *slog.Logger
}

// NewMockProvider creates a new mock provider.
func NewMockProvider(logger *slog.Logger) *MockProvider {
	return &MockProvider{
		logger: logger,
	}
}

// Send logs the message instead of sending it.
func (m *MockProvider) Send(_ context.Context, to, subject, body string) error {
	m.logger.Info("MOCK SMS",
		"to", to,
		"subject", subject,
		"body", body)
	return nil
}
