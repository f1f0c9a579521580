// Package main implements Flight Hunter, a service that watches flight
// searches and alerts subscribers when a deal matches their preferences.
package main

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	gcs "cloud.google.com/go/storage"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"

	"flight-hunter/evaluate"
	"flight-hunter/flights"
	"flight-hunter/judge"
	"flight-hunter/poll"
	"flight-hunter/scraper"
	"flight-hunter/server"
	"flight-hunter/sms"
	"flight-hunter/storage"
)

func main() {
	// .env is optional; it only exists in local development
	envErr := godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(os.Getenv("LOG_LEVEL")),
	}))
	slog.SetDefault(logger)

	if envErr != nil && !errors.Is(envErr, fs.ErrNotExist) {
		logger.Warn("Failed to load .env file", "error", envErr)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, logger); err != nil {
		logger.Error("Service failed", "error", err)
		os.Exit(1)
	}
	logger.Info("Service stopped")
}

func run(ctx context.Context, logger *slog.Logger) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, closeStore, err := newStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	sender := newSender(ctx, cfg, logger)

	entities := flights.DefaultEntities()
	if cfg.entityTable != "" {
		entities, err = flights.LoadEntities(cfg.entityTable)
		if err != nil {
			return err
		}
		logger.Info("Loaded entity table", "path", cfg.entityTable, "entries", entities.Len())
	}

	if cfg.rapidAPIKey == "" {
		logger.Warn("RAPIDAPI_KEY not set, provider calls will be rejected")
	}
	searcher := flights.New(&flights.Config{
		Logger:  logger,
		APIKey:  cfg.rapidAPIKey,
		Host:    cfg.rapidAPIHost,
		BaseURL: cfg.flightAPIBaseURL,
	})

	// A nil interface, not a nil *judge.Judge, disables AI analysis
	var aiJudge evaluate.Judge
	if cfg.anthropicAPIKey != "" {
		completer := judge.NewAnthropic(cfg.anthropicAPIKey, cfg.anthropicModel, 0, logger)
		aiJudge = judge.New(completer, logger)
		logger.Info("AI analysis enabled", "model", cfg.anthropicModel, "fail_closed", cfg.aiFailClosed)
	} else {
		logger.Info("ANTHROPIC_API_KEY not set, AI analysis disabled")
	}

	evaluator := evaluate.New(&evaluate.Config{
		Judge:      aiJudge,
		Logger:     logger,
		FailClosed: cfg.aiFailClosed,
	})

	monitor := poll.New(&poll.Config{
		Store:         store,
		Searcher:      searcher,
		Evaluator:     evaluator,
		Notifier:      sender,
		Logger:        logger,
		Workers:       cfg.pollWorkers,
		RatePerSecond: cfg.pollRatePerSec,
	})

	scheduler := poll.NewScheduler(monitor, cfg.pollSchedule, logger)
	if err := scheduler.Start(ctx); err != nil {
		return err
	}
	defer scheduler.Stop()

	srv := server.New(&server.Config{
		Store:      store,
		Notifier:   sender,
		Poller:     monitor,
		Scraper:    scraper.New(nil, logger),
		Resolver:   entities,
		IsNotFound: storage.IsNotFound,
		Logger:     logger,
		NewID:      uuid.NewString,
		Retention:  cfg.searchRetention,
		DebugOTP:   cfg.debugOTP,
	})

	return srv.ListenAndServe(ctx, cfg.port)
}

func newStore(ctx context.Context, cfg *config, logger *slog.Logger) (*storage.Store, func(), error) {
	if cfg.local() {
		logger.Info("Running in local development mode", "storage_path", cfg.localStorage)
		if err := os.MkdirAll(cfg.localStorage, 0o755); err != nil {
			return nil, nil, err
		}
		return storage.New(nil, "", cfg.localStorage, []byte(cfg.otpSalt), logger), func() {}, nil
	}

	client, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() {
		if err := client.Close(); err != nil {
			logger.Warn("Failed to close storage client", "error", err)
		}
	}
	logger.Info("Using Cloud Storage", "bucket", cfg.bucket)
	return storage.New(client, cfg.bucket, "", []byte(cfg.otpSalt), logger), closeFn, nil
}

func newSender(ctx context.Context, cfg *config, logger *slog.Logger) *sms.Sender {
	var smsProvider sms.Provider
	if cfg.twilioSID != "" && cfg.twilioToken != "" && cfg.twilioFrom != "" {
		smsProvider = sms.NewTwilioProvider(cfg.twilioSID, cfg.twilioToken, cfg.twilioFrom, logger)
		logger.Info("Using Twilio SMS provider", "from", cfg.twilioFrom)
	} else if cfg.brevoAPIKey != "" {
		smsProvider = sms.NewBrevoProvider(cfg.brevoAPIKey, cfg.brevoSender, logger)
		logger.Info("Using Brevo SMS provider", "sender", cfg.brevoSender)
	} else {
		smsProvider = sms.NewMockProvider(logger)
		logger.Info("Mock SMS mode enabled (no Twilio or Brevo credentials)")
	}

	var emailProvider sms.Provider
	if strings.Contains(cfg.topicSubscribers, "@") {
		service, err := initGmailService(ctx, cfg.googleCredentials)
		if err != nil {
			logger.Warn("Failed to initialize Gmail service, using mock email", "error", err)
			emailProvider = sms.NewMockProvider(logger)
		} else {
			emailProvider = sms.NewGmailProvider(service, logger)
		}
	}

	subscribers := sms.ParseSubscribers(cfg.topicSubscribers, smsProvider, emailProvider, logger)
	if len(subscribers) == 0 {
		logger.Warn("TOPIC_SUBSCRIBERS is empty, alerts will only be logged")
	}
	return sms.New(smsProvider, subscribers, logger)
}

// isCloudRun checks if we're running in a GCP environment by querying the metadata server.
func isCloudRun(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://metadata.google.internal/computeMetadata/v1/project/project-id", http.NoBody)
	if err != nil {
		return false
	}
	req.Header.Set("Metadata-Flavor", "Google")

	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	return resp.StatusCode == http.StatusOK
}

func initGmailService(ctx context.Context, credsJSON string) (*gmail.Service, error) {
	if credsJSON != "" {
		return gmail.NewService(ctx, option.WithCredentialsJSON([]byte(credsJSON)))
	}

	// Application Default Credentials; the service account needs the gmail.send scope
	if isCloudRun(ctx) {
		return gmail.NewService(ctx)
	}

	return nil, errors.New("GOOGLE_CREDENTIALS_JSON required when not running in Cloud Run")
}
