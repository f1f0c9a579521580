package sms

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"
)

const twilioBaseURL = "https://api.twilio.com"

// TwilioProvider sends SMS via the Twilio Messages API.
type TwilioProvider struct {
	client     *http.Client
	logger     *slog.Logger
	accountSID string
	authToken  string
	from       string
	baseURL    string
	attempts   uint
}

// NewTwilioProvider creates a new Twilio SMS provider.
func NewTwilioProvider(accountSID, authToken, from string, logger *slog.Logger) *TwilioProvider {
	return &TwilioProvider{
		client:     &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
		accountSID: accountSID,
		authToken:  authToken,
		from:       from,
		baseURL:    twilioBaseURL,
		attempts:   3,
	}
}

// Send sends an SMS. Twilio messages have no subject.
func (t *TwilioProvider) Send(ctx context.Context, to, _, body string) error {
	form := url.Values{}
	form.Set("To", to)
	form.Set("From", t.from)
	form.Set("Body", body)
	encoded := form.Encode()

	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", t.baseURL, url.PathEscape(t.accountSID))

	return retry.Do(
		func() error {
			t.logger.Info("Twilio API request starting",
				"method", "POST",
				"endpoint", "Messages.json",
				"to", to)

			startTime := time.Now()
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(encoded))
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("create request: %w", err))
			}
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			req.SetBasicAuth(t.accountSID, t.authToken)

			resp, err := t.client.Do(req)
			duration := time.Since(startTime)
			if err != nil {
				t.logger.Warn("Twilio API request failed, will retry",
					"to", to,
					"duration_ms", duration.Milliseconds(),
					"error", err)
				return err
			}
			defer func() {
				if closeErr := resp.Body.Close(); closeErr != nil {
					t.logger.Warn("Failed to close response body", "error", closeErr)
				}
			}()

			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
				statusErr := fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
				// 4xx other than 429 means a bad number or bad credentials
				if resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
					t.logger.Error("Twilio API rejected message", "status_code", resp.StatusCode, "to", to)
					return retry.Unrecoverable(statusErr)
				}
				t.logger.Warn("Twilio API returned retryable status, will retry", "status_code", resp.StatusCode, "to", to)
				return statusErr
			}

			t.logger.Info("Twilio API request completed",
				"endpoint", "Messages.json",
				"to", to,
				"duration_ms", duration.Milliseconds(),
				"status", "success")
			return nil
		},
		retry.Attempts(t.attempts),
		retry.Delay(time.Second),
		retry.MaxDelay(2*time.Minute),
		retry.MaxJitter(10*time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			t.logger.Info("Retrying Twilio SMS send after error", "attempt", n, "error", err)
		}),
	)
}
