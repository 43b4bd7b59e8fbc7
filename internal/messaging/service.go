// Package messaging delivers consent notifications. A Notifier queues them as
// durable notices and the notice sender later hands each one to a Service.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
)

// Channel names a delivery service.
type Channel string

const (
	ChannelNone     Channel = "none"
	ChannelSMS      Channel = "sms"
	ChannelWhatsApp Channel = "whatsapp"
)

// ParseChannel accepts the NOTIFY_CHANNEL values; empty means none.
func ParseChannel(s string) (Channel, error) {
	switch c := Channel(strings.ToLower(strings.TrimSpace(s))); c {
	case "", ChannelNone:
		return ChannelNone, nil
	case ChannelSMS, ChannelWhatsApp:
		return c, nil
	default:
		return "", fmt.Errorf("unknown notification channel %q", s)
	}
}

// Error variables for better error handling and testability
var (
	ErrServiceStopped = errors.New("messaging service stopped")
	ErrEmptyRecipient = errors.New("recipient cannot be empty")
)

var phoneNumberRegex = regexp.MustCompile(`[^0-9]`)

// Service defines a pluggable message delivery abstraction.
type Service interface {
	// ValidateAndCanonicalizeRecipient validates and canonicalizes a recipient identifier.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendMessage sends a message to a recipient.
	SendMessage(ctx context.Context, to string, body string) error

	// Stop stops background processing and cleans up resources.
	Stop() error
}

// canonicalizePhone strips everything but digits and requires at least 6.
func canonicalizePhone(recipient string) (string, error) {
	if strings.TrimSpace(recipient) == "" {
		return "", ErrEmptyRecipient
	}
	canonical := phoneNumberRegex.ReplaceAllString(recipient, "")
	if canonical == "" {
		return "", fmt.Errorf("invalid phone number: no digits found in recipient %q", recipient)
	}
	if len(canonical) < 6 {
		return "", fmt.Errorf("invalid phone number: %q is too short (minimum 6 digits required)", canonical)
	}
	if canonical != recipient {
		slog.Debug("messaging: canonicalized recipient", "original", recipient, "canonical", canonical)
	}
	return canonical, nil
}

// stopper guards a service against use after Stop.
type stopper struct {
	mu      sync.RWMutex
	stopped bool
}

func (s *stopper) check() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		return ErrServiceStopped
	}
	return nil
}

func (s *stopper) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	return nil
}

// LogService is used when no channel is configured: it validates and logs
// each notification without delivering it.
type LogService struct {
	stopper
}

// NewLogService creates a LogService.
func NewLogService() *LogService {
	return &LogService{}
}

func (s *LogService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	if strings.TrimSpace(recipient) == "" {
		return "", ErrEmptyRecipient
	}
	return strings.TrimSpace(recipient), nil
}

func (s *LogService) SendMessage(ctx context.Context, to string, body string) error {
	if err := s.check(); err != nil {
		return err
	}
	slog.Info("LogService.SendMessage: notification not delivered (no channel configured)", "to", to, "body_length", len(body))
	return nil
}
