package sms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/codeGROOVE-dev/retry"
)

const brevoBaseURL = "https://api.brevo.com"

// BrevoProvider sends SMS via the Brevo (formerly Sendinblue) transactional SMS API.
type BrevoProvider struct {
	client   *http.Client
	logger   *slog.Logger
	apiKey   string
	sender   string
	baseURL  string
	attempts uint
}

// NewBrevoProvider creates a new Brevo SMS provider. sender is the
// alphanumeric sender name (max 11 chars) or a number.
func NewBrevoProvider(apiKey, sender string, logger *slog.Logger) *BrevoProvider {
	return &BrevoProvider{
		client:   &http.Client{Timeout: 30 * time.Second},
		logger:   logger,
		apiKey:   apiKey,
		sender:   sender,
		baseURL:  brevoBaseURL,
		attempts: 3,
	}
}

type brevoSMSRequest struct {
	Sender    string `json:"sender"`
	Recipient string `json:"recipient"`
	Content   string `json:"content"`
	Type      string `json:"type"`
}

// Send sends an SMS via Brevo. The subject is ignored.
func (b *BrevoProvider) Send(ctx context.Context, to, _, body string) error {
	jsonData, err := json.Marshal(brevoSMSRequest{
		Sender:    b.sender,
		Recipient: to,
		Content:   body,
		Type:      "transactional",
	})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	return retry.Do(
		func() error {
			b.logger.Info("Brevo API request starting",
				"method", "POST",
				"endpoint", "transactionalSMS/sms",
				"to", to)

			startTime := time.Now()
			req, err := http.NewRequestWithContext(ctx, http.MethodPost,
				b.baseURL+"/v3/transactionalSMS/sms", bytes.NewReader(jsonData))
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("create request: %w", err))
			}

			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("api-key", b.apiKey)

			resp, err := b.client.Do(req)
			duration := time.Since(startTime)
			if err != nil {
				b.logger.Warn("Brevo API request failed, will retry",
					"to", to,
					"duration_ms", duration.Milliseconds(),
					"error", err)
				return err
			}
			defer func() {
				if closeErr := resp.Body.Close(); closeErr != nil {
					b.logger.Warn("Failed to close response body", "error", closeErr)
				}
			}()

			if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized {
				b.logger.Error("Brevo API rejected message", "status_code", resp.StatusCode, "to", to)
				return retry.Unrecoverable(fmt.Errorf("HTTP %d", resp.StatusCode))
			}
			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				b.logger.Warn("Brevo API returned non-2xx status, will retry",
					"status_code", resp.StatusCode,
					"to", to)
				return fmt.Errorf("HTTP %d", resp.StatusCode)
			}

			b.logger.Info("Brevo API request completed",
				"endpoint", "transactionalSMS/sms",
				"to", to,
				"duration_ms", duration.Milliseconds(),
				"status", "success")

			return nil
		},
		retry.Attempts(b.attempts),
		retry.Delay(time.Second),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(10*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			b.logger.Info("Retrying Brevo SMS send after error", "attempt", n, "error", err)
		}),
	)
}
