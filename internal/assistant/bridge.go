// Package assistant answers participant questions about the trial and the
// consent form, proposes field patches for data-entry requests, and speaks
// replies. It never writes form state itself: a patch is returned as a value
// and applied by the form session.
package assistant

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/TrialConsent/internal/consentform"
	"github.com/BTreeMap/TrialConsent/internal/metrics"
	"github.com/BTreeMap/TrialConsent/internal/models"
)

// Tier names the stage that produced a reply.
type Tier string

const (
	TierFill     Tier = "fill"
	TierQuick    Tier = "quick"
	TierField    Tier = "field"
	TierSection  Tier = "section"
	TierRule     Tier = "rule"
	TierRemote   Tier = "remote"
	TierFallback Tier = "fallback"
	TierApology  Tier = "apology"
)

// Reply is the outcome of resolving one message. Patch is only set in the
// form context.
type Reply struct {
	Text  string            `json:"reply"`
	Patch consentform.Patch `json:"fields_patch,omitempty"`
	Tier  Tier              `json:"tier"`
}

// Completer produces free-form text for a prompt. genai.Client implements it.
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Opts holds configuration options for the Bridge.
type Opts struct {
	Schema  *consentform.Schema
	Remote  Completer
	Metrics *metrics.Collector
}

// Option defines a configuration option for the Bridge.
type Option func(*Opts)

// WithSchema sets the form definition used in the form context.
func WithSchema(s *consentform.Schema) Option {
	return func(o *Opts) { o.Schema = s }
}

// WithRemote enables the remote resolver for messages no local rule answers.
func WithRemote(c Completer) Option {
	return func(o *Opts) { o.Remote = c }
}

// WithMetrics records which tier answered each message.
func WithMetrics(m *metrics.Collector) Option {
	return func(o *Opts) { o.Metrics = m }
}

// Bridge resolves chat messages. It is stateless and safe for concurrent use.
type Bridge struct {
	schema  *consentform.Schema
	remote  Completer
	metrics *metrics.Collector
}

// NewBridge creates a Bridge. Without WithSchema the built-in form is used.
func NewBridge(opts ...Option) *Bridge {
	cfg := Opts{}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Schema == nil {
		cfg.Schema = consentform.DefaultSchema()
	}
	return &Bridge{schema: cfg.Schema, remote: cfg.Remote, metrics: cfg.Metrics}
}

// Greeting returns the first bot message of a chat in the given context.
func (b *Bridge) Greeting(chatCtx models.ChatContext) string {
	return greetings[chatCtx]
}

// Resolve answers a message. The only errors are for invalid input; every
// other failure degrades to a local answer.
func (b *Bridge) Resolve(ctx context.Context, chatCtx models.ChatContext, message string) (Reply, error) {
	if strings.TrimSpace(message) == "" {
		return Reply{}, models.ErrEmptyChatMessage
	}
	if !models.IsValidChatContext(chatCtx) {
		return Reply{}, models.ErrInvalidContext
	}

	var reply Reply
	switch chatCtx {
	case models.ChatContextTrial:
		reply = b.resolveTrial(ctx, message)
	case models.ChatContextForm:
		reply = b.resolveForm(ctx, message)
	}
	b.metrics.RecordChatResolution(string(chatCtx), string(reply.Tier))
	slog.Debug("Bridge.Resolve: reply resolved", "context", chatCtx, "tier", reply.Tier, "patchFields", len(reply.Patch))
	return reply, nil
}

func (b *Bridge) resolveTrial(ctx context.Context, message string) Reply {
	text := normalize(message)
	for _, r := range trialRules {
		if containsAny(text, r.terms) {
			return Reply{Text: r.reply, Tier: TierRule}
		}
	}
	return b.remoteOrFallback(ctx, models.ChatContextTrial, message)
}

// resolveForm checks, in order: data entry, quick responses, field guidance,
// section descriptions. Field terms must be tried before section terms since
// field names also occur inside section synonyms.
func (b *Bridge) resolveForm(ctx context.Context, message string) Reply {
	text := normalize(message)

	if isFillRequest(text) {
		if patch := parseFill(message); len(patch) > 0 {
			return Reply{Text: fillReply(patch), Patch: patch, Tier: TierFill}
		}
	}

	for _, q := range formQuickResponses {
		if strings.Contains(text, q.phrase) {
			return Reply{Text: q.reply, Tier: TierQuick}
		}
	}

	if key, ok := matchField(b.schema, text); ok {
		g, _ := b.schema.Guidance(key)
		return Reply{Text: g.Reply(), Tier: TierField}
	}

	if sec, ok := matchSection(b.schema, text); ok {
		return Reply{Text: fmt.Sprintf("Section %d, %s: %s", sec.Number, sec.Title, sec.Description), Tier: TierSection}
	}

	return b.remoteOrFallback(ctx, models.ChatContextForm, message)
}

func (b *Bridge) remoteOrFallback(ctx context.Context, chatCtx models.ChatContext, message string) Reply {
	if b.remote != nil {
		text, err := b.remote.Complete(ctx, b.systemPrompt(chatCtx), message)
		if err == nil && strings.TrimSpace(text) != "" {
			return Reply{Text: strings.TrimSpace(text), Tier: TierRemote}
		}
		slog.Warn("Bridge.remoteOrFallback: remote resolver unavailable, using local fallback", "context", chatCtx, "error", err)
	}
	return Reply{Text: fallbacks[chatCtx], Tier: TierFallback}
}

func (b *Bridge) systemPrompt(chatCtx models.ChatContext) string {
	var sb strings.Builder
	sb.WriteString("You are a clinical trial e-consent assistant. Be helpful and patient-friendly. ")
	sb.WriteString("Answer in 1-3 sentences unless the user asks for more detail. ")
	sb.WriteString("Never give medical advice; refer clinical questions to the research team.\n\n")
	if chatCtx == models.ChatContextForm {
		sb.WriteString("You are helping with a consent form. Its sections are:\n")
		for _, sec := range b.schema.Sections() {
			fmt.Fprintf(&sb, "%d. %s: %s\n", sec.Number, sec.Title, sec.Description)
		}
		sb.WriteString("\n")
	}
	sb.WriteString("Trial information:\n")
	sb.WriteString(TrialInfo)
	return sb.String()
}

// Apology is the reply used when resolution fails outright.
func Apology() Reply {
	return Reply{Text: ApologyMessage, Tier: TierApology}
}
