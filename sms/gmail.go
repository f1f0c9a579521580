package sms

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"google.golang.org/api/gmail/v1"
)

// GmailProvider delivers topic alerts to email subscribers via the Gmail API.
type GmailProvider struct {
	service *gmail.Service
	logger  *slog.Logger
}

// NewGmailProvider creates a new Gmail provider.
func NewGmailProvider(service *gmail.Service, logger *slog.Logger) *GmailProvider {
	return &GmailProvider{
		service: service,
		logger:  logger,
	}
}

// sanitizeHeader removes newlines and control characters to prevent header injection.
func sanitizeHeader(s string) string {
	var result strings.Builder
	for _, r := range s {
		if r >= 32 && r != 127 {
			result.WriteRune(r)
		}
	}
	return result.String()
}

// mimeMessage builds a plain-text RFC 5322 message.
func mimeMessage(to, subject, body string) string {
	var msg strings.Builder
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString(fmt.Sprintf("To: %s\r\n", sanitizeHeader(to)))
	msg.WriteString(fmt.Sprintf("Subject: %s\r\n", sanitizeHeader(subject)))
	msg.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	msg.WriteString(body)
	return msg.String()
}

// Send sends an email via Gmail API.
func (g *GmailProvider) Send(ctx context.Context, to, subject, body string) error {
	if subject == "" {
		subject = "Flight Hunter Alert"
	}
	encoded := base64.URLEncoding.EncodeToString([]byte(mimeMessage(to, subject, body)))

	return retry.Do(
		func() error {
			g.logger.Info("Gmail API request starting",
				"method", "POST",
				"endpoint", "users.messages.send",
				"to", to,
				"subject", subject)

			startTime := time.Now()
			_, err := g.service.Users.Messages.Send("me", &gmail.Message{
				Raw: encoded,
			}).Context(ctx).Do()
			duration := time.Since(startTime)

			if err != nil {
				g.logger.Warn("Gmail API send failed, will retry",
					"to", to,
					"duration_ms", duration.Milliseconds(),
					"error", err)
				return err
			}

			g.logger.Info("Gmail API request completed",
				"endpoint", "users.messages.send",
				"to", to,
				"duration_ms", duration.Milliseconds(),
				"status", "success")

			return nil
		},
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(10*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			g.logger.Info("Retrying Gmail send after error", "attempt", n, "error", err)
		}),
	)
}
