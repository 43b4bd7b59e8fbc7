// Package twiliowhatsapp wraps the Twilio REST API for participant and
// administrator notifications over SMS or WhatsApp.
package twiliowhatsapp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// Channel selects how Twilio delivers the message.
type Channel string

const (
	ChannelSMS      Channel = "sms"
	ChannelWhatsApp Channel = "whatsapp"
)

const whatsappPrefix = "whatsapp:"

// Sender sends one text message.
type Sender interface {
	SendMessage(ctx context.Context, to string, body string) error
}

// Opts holds configuration options for the Twilio client.
type Opts struct {
	AccountSID string
	AuthToken  string
	From       string
	Channel    Channel
}

// Option defines a configuration option for the Twilio client.
type Option func(*Opts)

// WithAccountSID sets the Twilio account SID.
func WithAccountSID(sid string) Option {
	return func(o *Opts) { o.AccountSID = sid }
}

// WithAuthToken sets the Twilio auth token.
func WithAuthToken(token string) Option {
	return func(o *Opts) { o.AuthToken = token }
}

// WithFrom sets the sending number in E.164 form.
func WithFrom(from string) Option {
	return func(o *Opts) { o.From = from }
}

// WithChannel selects SMS or WhatsApp delivery. SMS is the default.
func WithChannel(ch Channel) Option {
	return func(o *Opts) { o.Channel = ch }
}

// messageCreator is the part of the Twilio API the client uses.
type messageCreator interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// Client wraps the Twilio REST client.
type Client struct {
	api     messageCreator
	from    string
	channel Channel
}

// NewClient creates a Twilio client. Missing options fall back to
// TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN and TWILIO_FROM_NUMBER.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{Channel: ChannelSMS}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.AccountSID == "" {
		cfg.AccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	}
	if cfg.AuthToken == "" {
		cfg.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	}
	if cfg.From == "" {
		cfg.From = os.Getenv("TWILIO_FROM_NUMBER")
	}
	slog.Debug("Twilio client config loaded",
		"AccountSID_set", cfg.AccountSID != "",
		"AuthToken_set", cfg.AuthToken != "",
		"From_set", cfg.From != "",
		"channel", cfg.Channel)

	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("account SID and auth token must be provided")
	}
	if cfg.From == "" {
		return nil, fmt.Errorf("from number must be provided")
	}
	if cfg.Channel != ChannelSMS && cfg.Channel != ChannelWhatsApp {
		return nil, fmt.Errorf("unsupported twilio channel %q", cfg.Channel)
	}

	rest := twilio.NewRestClientWithParams(
		twilio.ClientParams{
			Username: cfg.AccountSID,
			Password: cfg.AuthToken,
		},
	)
	return &Client{api: rest.Api, from: cfg.From, channel: cfg.Channel}, nil
}

// address formats a number for the configured channel.
func (c *Client) address(number string) string {
	number = strings.TrimPrefix(number, whatsappPrefix)
	if c.channel == ChannelWhatsApp {
		return whatsappPrefix + number
	}
	return number
}

// SendMessage sends body to the E.164 number to.
func (c *Client) SendMessage(ctx context.Context, to string, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(c.address(to))
	params.SetFrom(c.address(c.from))
	params.SetBody(body)

	msg, err := c.api.CreateMessage(params)
	if err != nil {
		slog.Error("Twilio SendMessage failed", "to", to, "channel", c.channel, "error", err)
		return fmt.Errorf("failed to send message to %s: %w", to, err)
	}
	sid := ""
	if msg != nil && msg.Sid != nil {
		sid = *msg.Sid
	}
	slog.Debug("Twilio message sent", "to", to, "channel", c.channel, "sid", sid)
	return nil
}

// MockClient records messages instead of sending them.
type MockClient struct {
	mu           sync.Mutex
	SentMessages []SentMessage
	Err          error // returned by every SendMessage when set
}

type SentMessage struct {
	To   string
	Body string
}

func NewMockClient() *MockClient {
	return &MockClient{SentMessages: []SentMessage{}}
}

func (m *MockClient) SendMessage(ctx context.Context, to string, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	if to == "" {
		return errors.New("recipient cannot be empty")
	}
	m.SentMessages = append(m.SentMessages, SentMessage{To: to, Body: body})
	return nil
}

// Sent returns a copy of the recorded messages.
func (m *MockClient) Sent() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentMessage(nil), m.SentMessages...)
}
