// Package whatsapp wraps the whatsmeow client so consent notifications can be
// delivered from a linked WhatsApp account.
package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/BTreeMap/TrialConsent/internal/store"
	"github.com/mdp/qrterminal/v3"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
)

// Constants for WhatsApp client configuration
const (
	// DefaultSQLitePath is the default path for the whatsmeow device database
	DefaultSQLitePath = "/var/lib/trialconsent/whatsmeow.db"
	// JIDSuffix is the WhatsApp JID suffix for regular users
	JIDSuffix = "s.whatsapp.net"
)

// Error variables for better error handling and testability
var (
	ErrNotConnected   = errors.New("whatsapp client not initialized")
	ErrEmptyRecipient = errors.New("recipient cannot be empty")
	ErrEmptyBody      = errors.New("message body cannot be empty")
)

// Sender sends WhatsApp text messages (real client or mock).
type Sender interface {
	SendMessage(ctx context.Context, to string, body string) error
}

// Opts holds configuration options for the WhatsApp client.
type Opts struct {
	DBDSN       string // whatsmeow device database connection string
	QRPath      string // path to write login QR code
	NumericCode bool   // print the pairing code instead of a QR code
}

// Option defines a configuration option for the WhatsApp client.
type Option func(*Opts)

// WithDBDSN sets the whatsmeow device database connection string.
func WithDBDSN(dsn string) Option {
	return func(o *Opts) {
		o.DBDSN = dsn
	}
}

// WithQRCodeOutput writes the login QR code to path instead of stdout.
func WithQRCodeOutput(path string) Option {
	return func(o *Opts) {
		o.QRPath = path
	}
}

// WithNumericCode prints the raw login code instead of a QR code.
func WithNumericCode() Option {
	return func(o *Opts) {
		o.NumericCode = true
	}
}

// driverFor returns the database/sql driver for the device store and warns
// when an SQLite DSN lacks foreign keys, which whatsmeow relies on.
func driverFor(dsn string) string {
	if store.DetectDSNType(dsn) == string(store.BackendPostgres) {
		return "postgres"
	}
	if !strings.Contains(dsn, "_foreign_keys") && !strings.Contains(dsn, "foreign_keys") {
		slog.Warn("SQLite database for WhatsApp does not appear to have foreign keys enabled. "+
			"Consider adding '?_foreign_keys=on' to your connection string.",
			"dsn_example", "file:"+dsn+"?_foreign_keys=on")
	}
	return "sqlite3"
}

// Client wraps the whatsmeow client.
type Client struct {
	waClient *whatsmeow.Client
	mu       sync.Mutex
	receipts map[string]int // receipt type -> count, for logs
}

// NewClient opens the device store, logs in (printing a QR code on first run)
// and connects.
func NewClient(ctx context.Context, opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	dbDSN := cfg.DBDSN
	if dbDSN == "" {
		dbDSN = DefaultSQLitePath
		slog.Debug("No WhatsApp database DSN provided, using default SQLite path", "default_path", dbDSN)
	}
	dbDriver := driverFor(dbDSN)

	slog.Debug("WhatsApp NewClient initializing DB store", "driver", dbDriver)
	container, err := sqlstore.New(ctx, dbDriver, dbDSN, waLog.Stdout("Database", "INFO", true))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize WhatsApp database store: %w", err)
	}
	deviceStore, err := container.GetFirstDevice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get device from WhatsApp store: %w", err)
	}

	waClient := whatsmeow.NewClient(deviceStore, waLog.Stdout("Client", "INFO", true))
	c := &Client{waClient: waClient, receipts: make(map[string]int)}
	waClient.AddEventHandler(c.handleEvent)

	if waClient.Store.ID == nil {
		slog.Info("WhatsApp login required; starting QR code flow")
		if err := c.login(ctx, cfg); err != nil {
			return nil, err
		}
	} else if err := waClient.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to WhatsApp server: %w", err)
	}
	slog.Info("WhatsApp client connected successfully")
	return c, nil
}

func (c *Client) login(ctx context.Context, cfg Opts) error {
	qrChan, _ := c.waClient.GetQRChannel(ctx)
	if err := c.waClient.Connect(); err != nil {
		return fmt.Errorf("failed to connect to WhatsApp during login: %w", err)
	}
	writer := io.Writer(os.Stdout)
	if cfg.QRPath != "" {
		f, err := os.Create(cfg.QRPath)
		if err != nil {
			return fmt.Errorf("failed to create QR file: %w", err)
		}
		defer f.Close()
		writer = f
	}
	for evt := range qrChan {
		if evt.Event != "code" {
			slog.Info("WhatsApp login event", "event", evt.Event)
			continue
		}
		if cfg.NumericCode {
			fmt.Fprintln(writer, evt.Code)
		} else {
			qrterminal.GenerateHalfBlock(evt.Code, qrterminal.L, writer)
		}
	}
	return nil
}

// handleEvent logs delivery receipts for sent notifications.
func (c *Client) handleEvent(evt interface{}) {
	switch v := evt.(type) {
	case *events.Receipt:
		c.mu.Lock()
		c.receipts[string(v.Type)]++
		c.mu.Unlock()
		slog.Debug("WhatsApp receipt", "type", v.Type, "from", v.MessageSource.Sender.User)
	case *events.Disconnected:
		slog.Warn("WhatsApp client disconnected")
	}
}

// SendMessage sends body to the phone number to (digits only, no "+").
func (c *Client) SendMessage(ctx context.Context, to string, body string) error {
	if c == nil || c.waClient == nil || c.waClient.Store == nil {
		return ErrNotConnected
	}
	jid, err := ParseRecipient(to)
	if err != nil {
		return err
	}
	if strings.TrimSpace(body) == "" {
		return ErrEmptyBody
	}

	slog.Debug("Sending WhatsApp message", "to", jid.User, "body_length", len(body))
	msg := &waE2E.Message{Conversation: &body}
	if _, err := c.waClient.SendMessage(ctx, jid, msg); err != nil {
		slog.Error("Failed to send WhatsApp message", "error", err, "to", jid.User)
		return fmt.Errorf("failed to send message to %s: %w", jid.User, err)
	}
	slog.Debug("WhatsApp message sent successfully", "to", jid.User)
	return nil
}

// Close disconnects from WhatsApp.
func (c *Client) Close() {
	if c != nil && c.waClient != nil {
		c.waClient.Disconnect()
	}
}

// ParseRecipient converts a phone number into a user JID.
func ParseRecipient(to string) (types.JID, error) {
	user := strings.TrimPrefix(strings.TrimSpace(to), "+")
	if user == "" {
		return types.JID{}, ErrEmptyRecipient
	}
	return types.NewJID(user, JIDSuffix), nil
}

// MockClient records messages instead of sending them.
type MockClient struct {
	mu   sync.Mutex
	Sent []SentMessage
	Err  error
}

type SentMessage struct {
	To   string
	Body string
}

func NewMockClient() *MockClient {
	return &MockClient{}
}

func (m *MockClient) SendMessage(ctx context.Context, to string, body string) error {
	if _, err := ParseRecipient(to); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.Sent = append(m.Sent, SentMessage{To: to, Body: body})
	return nil
}
