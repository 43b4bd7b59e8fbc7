// Package api provides the HTTP server for TrialConsent.
//
// It exposes the form session workflow, the assistant chat, speech synthesis
// and the administrative review endpoints. Every response uses the
// models.APIResponse envelope.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/BTreeMap/TrialConsent/internal/assistant"
	"github.com/BTreeMap/TrialConsent/internal/auth"
	"github.com/BTreeMap/TrialConsent/internal/consentform"
	"github.com/BTreeMap/TrialConsent/internal/drafts"
	"github.com/BTreeMap/TrialConsent/internal/metrics"
	"github.com/BTreeMap/TrialConsent/internal/models"
	"github.com/BTreeMap/TrialConsent/internal/store"
	"github.com/prometheus/client_golang/prometheus"
)

// Default configuration constants
const (
	// DefaultServerAddress is the listen address when none is configured.
	DefaultServerAddress = ":8080"
	// DefaultShutdownTimeout bounds graceful shutdown.
	DefaultShutdownTimeout = 15 * time.Second
	// DefaultDraftTimeout bounds one draft store call.
	DefaultDraftTimeout = 3 * time.Second
	// maxBodyBytes caps request bodies.
	maxBodyBytes = 1 << 20
)

// Notifier queues notifications about submissions and review decisions.
// messaging.Notifier implements it.
type Notifier interface {
	NotifySubmission(rec models.ConsentRecord) error
	NotifyReview(rec models.ConsentRecord) error
}

// Opts holds configuration options for the API server.
type Opts struct {
	Addr     string
	Schema   *consentform.Schema
	Drafts   drafts.Store
	Notifier Notifier
	Metrics  *metrics.Collector
	Gatherer prometheus.Gatherer
	Bridge   *assistant.Bridge
	Speaker  *assistant.Speaker
	Now      func() time.Time
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithSchema overrides the default consent form schema.
func WithSchema(s *consentform.Schema) Option {
	return func(o *Opts) { o.Schema = s }
}

// WithDrafts sets where in-progress forms are saved for later.
func WithDrafts(d drafts.Store) Option {
	return func(o *Opts) { o.Drafts = d }
}

// WithNotifier enables submission and review notifications.
func WithNotifier(n Notifier) Option {
	return func(o *Opts) { o.Notifier = n }
}

// WithMetrics records request and domain metrics and serves them from g on /metrics.
func WithMetrics(m *metrics.Collector, g prometheus.Gatherer) Option {
	return func(o *Opts) {
		o.Metrics = m
		o.Gatherer = g
	}
}

// WithBridge sets the assistant answering chat messages.
func WithBridge(b *assistant.Bridge) Option {
	return func(o *Opts) { o.Bridge = b }
}

// WithSpeaker sets the speech synthesizer used for chat replies and /text-to-speech.
func WithSpeaker(sp *assistant.Speaker) Option {
	return func(o *Opts) { o.Speaker = sp }
}

// WithClock overrides time.Now for idle tracking, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *Opts) { o.Now = now }
}

// formEntry is a live form session and the participant that owns it.
type formEntry struct {
	session    *consentform.Session
	owner      string
	lastActive time.Time
}

// Server holds all dependencies for the API handlers.
type Server struct {
	addr      string
	store     store.Store
	auth      *auth.Authenticator
	schema    *consentform.Schema
	drafts    drafts.Store
	notifier  Notifier
	metrics   *metrics.Collector
	gatherer  prometheus.Gatherer
	chats     *assistant.Chats
	speaker   *assistant.Speaker
	persister *submissionPersister
	now       func() time.Time

	mu         sync.RWMutex
	forms      map[string]*formEntry
	formOwners map[string]string // owner -> session id
	chatOwners map[string]string // form chat id -> owner

	httpServer *http.Server
}

// NewServer creates a Server backed by st and guarded by authn.
func NewServer(st store.Store, authn *auth.Authenticator, opts ...Option) *Server {
	cfg := Opts{}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Addr == "" {
		cfg.Addr = DefaultServerAddress
	}
	if cfg.Schema == nil {
		cfg.Schema = consentform.DefaultSchema()
	}
	if cfg.Drafts == nil {
		cfg.Drafts = drafts.NewMemoryStore()
	}
	if cfg.Bridge == nil {
		cfg.Bridge = assistant.NewBridge(assistant.WithSchema(cfg.Schema), assistant.WithMetrics(cfg.Metrics))
	}
	if cfg.Speaker == nil {
		cfg.Speaker = assistant.NewSpeaker(nil, assistant.WithSpeechMetrics(cfg.Metrics))
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	s := &Server{
		addr:       cfg.Addr,
		store:      st,
		auth:       authn,
		schema:     cfg.Schema,
		drafts:     cfg.Drafts,
		notifier:   cfg.Notifier,
		metrics:    cfg.Metrics,
		gatherer:   cfg.Gatherer,
		chats:      assistant.NewChats(cfg.Bridge, cfg.Speaker, assistant.WithChatClock(cfg.Now)),
		speaker:    cfg.Speaker,
		now:        cfg.Now,
		forms:      make(map[string]*formEntry),
		formOwners: make(map[string]string),
		chatOwners: make(map[string]string),
	}
	s.persister = &submissionPersister{repo: st, notifier: cfg.Notifier, metrics: cfg.Metrics}
	slog.Debug("Server.NewServer: server created", "addr", s.addr, "notifier", cfg.Notifier != nil, "speech", cfg.Speaker.Available())
	return s
}

// Handler returns the routed handler with identity attached to every request.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	participant := func(h http.HandlerFunc) http.HandlerFunc { return auth.Require(h, auth.RoleParticipant) }
	admin := func(h http.HandlerFunc) http.HandlerFunc { return auth.Require(h, auth.RoleAdmin) }

	s.handle(mux, "POST /auth/token", s.tokenHandler)
	s.handle(mux, "POST /auth/logout", auth.Require(s.logoutHandler))
	s.handle(mux, "GET /schema", s.schemaHandler)

	s.handle(mux, "POST /sessions", participant(s.startSessionHandler))
	s.handle(mux, "GET /sessions/{id}", participant(s.getSessionHandler))
	s.handle(mux, "PUT /sessions/{id}/fields/{key}", participant(s.setFieldHandler))
	s.handle(mux, "POST /sessions/{id}/patch", participant(s.patchHandler))
	s.handle(mux, "POST /sessions/{id}/review", participant(s.reviewHandler))
	s.handle(mux, "POST /sessions/{id}/edit", participant(s.editHandler))
	s.handle(mux, "POST /sessions/{id}/confirm", participant(s.confirmHandler))

	s.handle(mux, "POST /chat", s.chatHandler)
	s.handle(mux, "GET /chat/{id}", s.chatLogHandler)
	s.handle(mux, "POST /text-to-speech", s.speechHandler)

	s.handle(mux, "GET /consents", admin(s.listConsentsHandler))
	s.handle(mux, "GET /consents/summary", admin(s.summaryHandler))
	s.handle(mux, "GET /consents/{id}", admin(s.getConsentHandler))
	s.handle(mux, "PATCH /consents/{id}", admin(s.updateConsentHandler))
	s.handle(mux, "DELETE /consents/{id}", admin(s.deleteConsentHandler))

	s.handle(mux, "GET /metrics", s.metricsHandler())
	s.handle(mux, "GET /healthz", s.healthHandler)

	return s.auth.WithAuth(mux)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.Run: API server listening", "addr", s.addr)
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("api server failed: %w", err)
	case <-ctx.Done():
		slog.Info("Server.Run: shutting down API server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server.Run: graceful shutdown failed", "error", err)
			return err
		}
		return nil
	}
}

// ActiveFormSessions returns the number of live form sessions.
func (s *Server) ActiveFormSessions() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.forms)
}

// EvictIdle drops chats and form sessions with no activity since olderThan.
// Evicted forms can still be resumed from their saved draft.
func (s *Server) EvictIdle(olderThan time.Time) int {
	evicted := len(s.chats.EvictIdle(olderThan))

	s.mu.Lock()
	for id := range s.chatOwners {
		if _, ok := s.chats.Get(id); !ok {
			delete(s.chatOwners, id)
		}
	}
	for id, e := range s.forms {
		if !e.lastActive.Before(olderThan) {
			continue
		}
		delete(s.forms, id)
		if s.formOwners[e.owner] == id {
			delete(s.formOwners, e.owner)
		}
		evicted++
	}
	active := len(s.forms)
	s.mu.Unlock()

	s.metrics.SetActiveFormSessions(active)
	if evicted > 0 {
		slog.Info("Server.EvictIdle: idle sessions evicted", "count", evicted, "cutoff", olderThan)
	}
	return evicted
}

// submissionPersister stores a confirmed form and announces it exactly once,
// however many times the participant retries.
type submissionPersister struct {
	repo     store.ConsentRepo
	notifier Notifier
	metrics  *metrics.Collector
}

func (p *submissionPersister) CreateConsentRecord(ctx context.Context, fields map[string]any, idempotencyKey string) (models.ConsentRecord, error) {
	rec, created, err := p.repo.CreateConsentRecordOnce(ctx, fields, idempotencyKey)
	if err != nil {
		p.metrics.RecordSubmission("failed")
		return models.ConsentRecord{}, err
	}
	if !created {
		p.metrics.RecordSubmission("duplicate")
		return rec, nil
	}
	p.metrics.RecordSubmission("created")
	if p.notifier != nil {
		if err := p.notifier.NotifySubmission(rec); err != nil {
			slog.Warn("submissionPersister.CreateConsentRecord: failed to queue submission notices", "error", err, "recordID", rec.ID)
		}
	}
	return rec, nil
}
