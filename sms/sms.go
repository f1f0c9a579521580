// Package sms delivers alerts to single contacts and to topic subscribers.
package sms

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Provider defines the interface for message delivery implementations.
type Provider interface {
	// Send delivers body to a single recipient. Providers without a
	// subject line ignore it.
	Send(ctx context.Context, to, subject, body string) error
}

// Subscriber is one recipient of topic broadcasts.
type Subscriber struct {
	Provider Provider
	Address  string
}

// Sender sends direct messages and topic broadcasts.
type Sender struct {
	direct Provider
	logger *slog.Logger
	topic  []Subscriber
}

// New creates a new sender. direct handles SendToContact; topic lists the
// broadcast recipients.
func New(direct Provider, topic []Subscriber, logger *slog.Logger) *Sender {
	return &Sender{
		direct: direct,
		logger: logger,
		topic:  topic,
	}
}

// ParseSubscribers splits a comma-separated list. Entries containing "@" go
// to emailProvider, the rest to smsProvider. Email entries are dropped when
// emailProvider is nil.
func ParseSubscribers(list string, smsProvider, emailProvider Provider, logger *slog.Logger) []Subscriber {
	var subs []Subscriber
	for _, raw := range strings.Split(list, ",") {
		addr := strings.TrimSpace(raw)
		if addr == "" {
			continue
		}
		if strings.Contains(addr, "@") {
			if emailProvider == nil {
				logger.Warn("Dropping email topic subscriber (no email provider configured)", "address", addr)
				continue
			}
			subs = append(subs, Subscriber{Provider: emailProvider, Address: addr})
			continue
		}
		subs = append(subs, Subscriber{Provider: smsProvider, Address: addr})
	}
	return subs
}

// SendToContact sends a direct message to one phone number.
func (s *Sender) SendToContact(ctx context.Context, phone, body string) error {
	s.logger.Info("Sending direct message", "to", phone, "length", len(body))
	if err := s.direct.Send(ctx, phone, "", body); err != nil {
		return fmt.Errorf("send to %s: %w", phone, err)
	}
	return nil
}

// SendToTopic broadcasts to every subscriber. All subscribers are attempted;
// failures are joined into the returned error.
func (s *Sender) SendToTopic(ctx context.Context, subject, body string) error {
	if len(s.topic) == 0 {
		s.logger.Warn("Topic has no subscribers, alert dropped", "subject", subject)
		return nil
	}

	s.logger.Info("Broadcasting to topic", "subject", subject, "subscribers", len(s.topic))

	var errs []error
	for _, sub := range s.topic {
		if err := sub.Provider.Send(ctx, sub.Address, subject, body); err != nil {
			s.logger.Warn("Topic delivery failed", "to", sub.Address, "error", err)
			errs = append(errs, fmt.Errorf("send to %s: %w", sub.Address, err))
		}
	}
	return errors.Join(errs...)
}
