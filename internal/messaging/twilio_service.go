package messaging

import (
	"context"
	"log/slog"

	"github.com/BTreeMap/TrialConsent/internal/twiliowhatsapp"
)

// TwilioService implements Service over the Twilio API (SMS or WhatsApp).
type TwilioService struct {
	stopper
	client twiliowhatsapp.Sender // real Twilio client or MockClient
}

// NewTwilioService wraps client.
func NewTwilioService(client twiliowhatsapp.Sender) *TwilioService {
	return &TwilioService{client: client}
}

// ValidateAndCanonicalizeRecipient returns the number in E.164 form.
func (s *TwilioService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	digits, err := canonicalizePhone(recipient)
	if err != nil {
		return "", err
	}
	return "+" + digits, nil
}

// SendMessage sends body through Twilio.
func (s *TwilioService) SendMessage(ctx context.Context, to string, body string) error {
	if err := s.check(); err != nil {
		return err
	}
	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("TwilioService.SendMessage: invalid recipient", "error", err, "to", to)
		return err
	}
	if err := s.client.SendMessage(ctx, canonicalTo, body); err != nil {
		return err
	}
	slog.Info("TwilioService.SendMessage: message sent", "to", canonicalTo)
	return nil
}
