package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"flight-hunter/judge"
	"flight-hunter/server"
)

const localOTPSalt = "flight-hunter-local-salt"

type config struct {
	port              string
	bucket            string
	localStorage      string
	otpSalt           string
	rapidAPIKey       string
	rapidAPIHost      string
	flightAPIBaseURL  string
	anthropicAPIKey   string
	anthropicModel    string
	pollSchedule      string
	twilioSID         string
	twilioToken       string
	twilioFrom        string
	brevoAPIKey       string
	brevoSender       string
	topicSubscribers  string
	googleCredentials string
	entityTable       string
	searchRetention   time.Duration
	pollRatePerSec    float64
	pollWorkers       int
	aiFailClosed      bool
	debugOTP          bool
}

func (c *config) local() bool {
	return c.bucket == ""
}

// loadConfig reads the environment. Without STORAGE_BUCKET the service runs
// in local development mode.
func loadConfig() (*config, error) {
	cfg := &config{
		port:              envOr("PORT", "8080"),
		bucket:            os.Getenv("STORAGE_BUCKET"),
		localStorage:      envOr("LOCAL_STORAGE", "./data"),
		otpSalt:           os.Getenv("OTP_SALT"),
		rapidAPIKey:       os.Getenv("RAPIDAPI_KEY"),
		rapidAPIHost:      os.Getenv("RAPIDAPI_HOST"),
		flightAPIBaseURL:  os.Getenv("FLIGHT_API_BASE_URL"),
		anthropicAPIKey:   os.Getenv("ANTHROPIC_API_KEY"),
		anthropicModel:    envOr("ANTHROPIC_MODEL", judge.DefaultModel),
		pollSchedule:      os.Getenv("POLL_SCHEDULE"),
		twilioSID:         os.Getenv("TWILIO_ACCOUNT_SID"),
		twilioToken:       os.Getenv("TWILIO_AUTH_TOKEN"),
		twilioFrom:        os.Getenv("TWILIO_FROM"),
		brevoAPIKey:       os.Getenv("BREVO_API_KEY"),
		brevoSender:       envOr("BREVO_SENDER", "FlightHunt"),
		topicSubscribers:  os.Getenv("TOPIC_SUBSCRIBERS"),
		googleCredentials: os.Getenv("GOOGLE_CREDENTIALS_JSON"),
		entityTable:       os.Getenv("ENTITY_TABLE"),
	}

	var errs []error
	var err error
	if cfg.pollWorkers, err = envInt("POLL_WORKERS", 1); err != nil {
		errs = append(errs, err)
	}
	if cfg.pollRatePerSec, err = envFloat("POLL_RATE_PER_SEC", 2); err != nil {
		errs = append(errs, err)
	}
	if cfg.searchRetention, err = envDuration("SEARCH_RETENTION", server.DefaultRetention); err != nil {
		errs = append(errs, err)
	}
	if cfg.aiFailClosed, err = envBool("AI_FAIL_CLOSED", false); err != nil {
		errs = append(errs, err)
	}
	// Codes are echoed to the caller by default only in local mode
	if cfg.debugOTP, err = envBool("DEBUG_OTP", cfg.local()); err != nil {
		errs = append(errs, err)
	}

	if cfg.otpSalt == "" {
		if !cfg.local() {
			errs = append(errs, errors.New("OTP_SALT environment variable required"))
		}
		cfg.otpSalt = localOTPSalt
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return cfg, nil
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return n, nil
}

func envFloat(key string, def float64) (float64, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return f, nil
}

func envBool(key string, def bool) (bool, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("parse %s: %w", key, err)
	}
	return b, nil
}

// envDuration accepts Go durations ("72h") or a plain number of days.
func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def, nil
	}
	if days, err := strconv.Atoi(v); err == nil {
		return time.Duration(days) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}
