package messaging

import (
	"context"
	"log/slog"

	"github.com/BTreeMap/TrialConsent/internal/whatsapp"
)

// WhatsAppService implements Service using the whatsmeow-based client.
type WhatsAppService struct {
	stopper
	client whatsapp.Sender
}

// NewWhatsAppService wraps client.
func NewWhatsAppService(client whatsapp.Sender) *WhatsAppService {
	return &WhatsAppService{client: client}
}

// ValidateAndCanonicalizeRecipient returns the number as digits only, the
// form used in WhatsApp JIDs.
func (s *WhatsAppService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalizePhone(recipient)
}

// SendMessage sends body over WhatsApp.
func (s *WhatsAppService) SendMessage(ctx context.Context, to string, body string) error {
	if err := s.check(); err != nil {
		return err
	}
	canonicalTo, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("WhatsAppService.SendMessage: invalid recipient", "error", err, "to", to)
		return err
	}
	if err := s.client.SendMessage(ctx, canonicalTo, body); err != nil {
		slog.Error("WhatsAppService.SendMessage error", "error", err, "to", canonicalTo)
		return err
	}
	slog.Info("WhatsAppService.SendMessage: message sent", "to", canonicalTo)
	return nil
}

// Stop disconnects the underlying client when it is a real one.
func (s *WhatsAppService) Stop() error {
	if c, ok := s.client.(*whatsapp.Client); ok {
		c.Close()
	}
	return s.stopper.Stop()
}
