// Package storage handles persistence of search profiles and pending OTPs.
package storage

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/codeGROOVE-dev/retry"
	"google.golang.org/api/iterator"

	"flight-hunter/pkg/hunter"
)

const (
	searchPrefix = "search-"
	otpPrefix    = "otp-"
)

// ErrNotFound is returned when an object does not exist.
var ErrNotFound = errors.New("storage: object doesn't exist")

// Store handles search and OTP persistence in Cloud Storage or a local directory.
type Store struct {
	client    *storage.Client
	logger    *slog.Logger
	now       func() time.Time
	localPath string
	bucket    string
	salt      []byte
}

// New creates a new storage handler. When localPath is set the bucket is ignored.
func New(client *storage.Client, bucket string, localPath string, salt []byte, logger *slog.Logger) *Store {
	return &Store{
		client:    client,
		logger:    logger,
		now:       time.Now,
		salt:      salt,
		localPath: localPath,
		bucket:    bucket,
	}
}

// contactKey derives a stable, unguessable key fragment from a phone number.
func (s *Store) contactKey(contact string) string {
	h := hmac.New(sha256.New, s.salt)
	h.Write([]byte(strings.TrimSpace(contact)))
	return hex.EncodeToString(h.Sum(nil))
}

func searchKey(id string) string {
	return searchPrefix + id + ".json"
}

func (s *Store) otpKey(contact string) string {
	return otpPrefix + s.contactKey(contact) + ".json"
}

// Put saves a search profile.
func (s *Store) Put(ctx context.Context, p *hunter.SearchProfile) error {
	if p.ID == "" {
		return errors.New("search profile has no ID")
	}
	if err := s.write(ctx, searchKey(p.ID), p); err != nil {
		return err
	}
	s.logger.Info("Search saved", "id", p.ID, "contact", p.Contact, "route", p.Origin+"-"+p.Destination)
	return nil
}

// ListActive returns every unexpired search. Expired searches are purged.
// Unreadable records are logged and skipped.
func (s *Store) ListActive(ctx context.Context) ([]*hunter.SearchProfile, error) {
	keys, err := s.keys(ctx, searchPrefix)
	if err != nil {
		return nil, err
	}

	now := s.now()
	var active []*hunter.SearchProfile
	for _, key := range keys {
		var p hunter.SearchProfile
		if err := s.read(ctx, key, &p); err != nil {
			s.logger.Warn("Failed to load search", "key", key, "error", err)
			continue
		}
		if p.Expired(now) {
			s.logger.Info("Purging expired search", "id", p.ID, "expired_at", p.ExpiresAt.Format(time.RFC3339))
			if err := s.remove(ctx, key); err != nil {
				s.logger.Warn("Failed to purge expired search", "key", key, "error", err)
			}
			continue
		}
		active = append(active, &p)
	}

	return active, nil
}

// PutOTP stores a pending OTP, replacing any previous one for the contact.
func (s *Store) PutOTP(ctx context.Context, otp *hunter.OTP) error {
	return s.write(ctx, s.otpKey(otp.Contact), otp)
}

// LoadOTP loads the pending OTP for a contact. Expired codes are reported as not found.
func (s *Store) LoadOTP(ctx context.Context, contact string) (*hunter.OTP, error) {
	var otp hunter.OTP
	if err := s.read(ctx, s.otpKey(contact), &otp); err != nil {
		return nil, err
	}
	if otp.Expired(s.now()) {
		return nil, ErrNotFound
	}
	return &otp, nil
}

// DeleteOTP removes the pending OTP for a contact.
func (s *Store) DeleteOTP(ctx context.Context, contact string) error {
	return s.remove(ctx, s.otpKey(contact))
}

// IsNotFound checks if an error indicates an object was not found.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, storage.ErrObjectNotExist)
}

func (s *Store) retryOptions(ctx context.Context, op, key string) []retry.Option {
	return []retry.Option{
		retry.Attempts(3),
		retry.Delay(time.Second),
		retry.MaxDelay(2 * time.Minute),
		retry.MaxJitter(10 * time.Second),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, retryErr error) {
			s.logger.Info("Retrying storage operation after error", "operation", op, "attempt", n, "key", key, "error", retryErr)
		}),
	}
}

func (s *Store) write(ctx context.Context, key string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}

	if s.localPath != "" {
		filePath := filepath.Join(s.localPath, key)
		if err := os.WriteFile(filePath, data, 0o600); err != nil {
			return fmt.Errorf("write to local storage: %w", err)
		}
		s.logger.Debug("Object saved to local storage", "path", filePath)
		return nil
	}

	err = retry.Do(
		func() error {
			w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
			if _, writeErr := w.Write(data); writeErr != nil {
				if closeErr := w.Close(); closeErr != nil {
					s.logger.Warn("Failed to close writer after error", "error", closeErr)
				}
				return fmt.Errorf("write to storage: %w", writeErr)
			}
			if closeErr := w.Close(); closeErr != nil {
				return fmt.Errorf("close storage writer: %w", closeErr)
			}
			return nil
		},
		s.retryOptions(ctx, "save", key)...,
	)
	if err != nil {
		return fmt.Errorf("save after retries: %w", err)
	}

	s.logger.Debug("Object saved", "key", key)
	return nil
}

func (s *Store) read(ctx context.Context, key string, v any) error {
	var data []byte

	if s.localPath != "" {
		var err error
		data, err = os.ReadFile(filepath.Join(s.localPath, key))
		if err != nil {
			if os.IsNotExist(err) {
				return ErrNotFound
			}
			return fmt.Errorf("read from local storage: %w", err)
		}
	} else {
		err := retry.Do(
			func() error {
				r, openErr := s.client.Bucket(s.bucket).Object(key).NewReader(ctx)
				if openErr != nil {
					// Don't retry on "not found" errors
					if errors.Is(openErr, storage.ErrObjectNotExist) {
						return retry.Unrecoverable(ErrNotFound)
					}
					return fmt.Errorf("open storage reader: %w", openErr)
				}
				defer func() {
					if closeErr := r.Close(); closeErr != nil {
						s.logger.Warn("Failed to close storage reader", "error", closeErr)
					}
				}()

				var readErr error
				data, readErr = io.ReadAll(r)
				if readErr != nil {
					return fmt.Errorf("read from storage: %w", readErr)
				}
				return nil
			},
			s.retryOptions(ctx, "load", key)...,
		)
		if err != nil {
			if IsNotFound(err) {
				return ErrNotFound
			}
			return fmt.Errorf("load after retries: %w", err)
		}
	}

	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal %s: %w", key, err)
	}
	return nil
}

// remove deletes an object; deleting a missing object succeeds.
func (s *Store) remove(ctx context.Context, key string) error {
	if s.localPath != "" {
		if err := os.Remove(filepath.Join(s.localPath, key)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("delete from local storage: %w", err)
		}
		return nil
	}

	err := retry.Do(
		func() error {
			if deleteErr := s.client.Bucket(s.bucket).Object(key).Delete(ctx); deleteErr != nil {
				if errors.Is(deleteErr, storage.ErrObjectNotExist) {
					return nil
				}
				return fmt.Errorf("delete from storage: %w", deleteErr)
			}
			return nil
		},
		s.retryOptions(ctx, "delete", key)...,
	)
	if err != nil {
		return fmt.Errorf("delete after retries: %w", err)
	}
	return nil
}

// keys lists object names with the given prefix.
func (s *Store) keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string

	if s.localPath != "" {
		entries, err := os.ReadDir(s.localPath)
		if err != nil {
			return nil, fmt.Errorf("read local storage directory: %w", err)
		}
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasPrefix(entry.Name(), prefix) || !strings.HasSuffix(entry.Name(), ".json") {
				continue
			}
			keys = append(keys, entry.Name())
		}
		return keys, nil
	}

	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: prefix})
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iterate storage: %w", err)
		}
		keys = append(keys, attrs.Name)
	}
	return keys, nil
}
