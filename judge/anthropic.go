package judge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const (
	// DefaultModel is used when no model is configured.
	DefaultModel = "claude-haiku-4-5-20251001"

	defaultMaxTokens = 512
	defaultTimeout   = 30 * time.Second
)

// AnthropicCompleter implements Completer with the Anthropic Messages API.
type AnthropicCompleter struct {
	client sdk.Client
	logger *slog.Logger
	model  string
}

// NewAnthropic creates a completer. SDK retries are disabled; a failed call
// surfaces immediately and the evaluator applies its fallback. Extra options
// are applied after the defaults.
func NewAnthropic(apiKey, model string, timeout time.Duration, logger *slog.Logger, opts ...option.RequestOption) *AnthropicCompleter {
	if model == "" {
		model = DefaultModel
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	reqOpts := append([]option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
		option.WithRequestTimeout(timeout),
	}, opts...)
	return &AnthropicCompleter{
		client: sdk.NewClient(reqOpts...),
		logger: logger,
		model:  model,
	}
}

// Complete sends prompt as a single user message and concatenates the text blocks of the reply.
func (a *AnthropicCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	startTime := time.Now()
	msg, err := a.client.Messages.New(ctx, sdk.MessageNewParams{
		Model:     sdk.Model(a.model),
		MaxTokens: defaultMaxTokens,
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(prompt)),
		},
	})
	duration := time.Since(startTime)
	if err != nil {
		a.logger.Warn("Anthropic API request failed", "model", a.model, "duration_ms", duration.Milliseconds(), "error", err)
		return "", fmt.Errorf("anthropic: create message: %w", err)
	}

	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}

	a.logger.Info("Anthropic API request completed",
		"model", a.model,
		"duration_ms", duration.Milliseconds(),
		"input_tokens", msg.Usage.InputTokens,
		"output_tokens", msg.Usage.OutputTokens)

	if b.Len() == 0 {
		return "", errors.New("anthropic: reply has no text content")
	}
	return b.String(), nil
}
