package assistant

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/TrialConsent/internal/metrics"
)

// DefaultSpeechTimeout bounds one call to the speech synthesizer.
const DefaultSpeechTimeout = 10 * time.Second

// Synthesizer turns text into audio. genai.Client implements it.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Speech is the spoken form of a reply. When Fallback is set Audio is empty
// and the client reads Text with its on-device synthesizer.
type Speech struct {
	Audio    []byte `json:"-"`
	Format   string `json:"format,omitempty"`
	Fallback bool   `json:"fallback"`
	Text     string `json:"text"`
}

// Speaker speaks replies through the primary synthesizer and falls back to
// local synthesis when it is missing or fails.
type Speaker struct {
	synth   Synthesizer
	timeout time.Duration
	metrics *metrics.Collector
}

// SpeakerOption configures a Speaker.
type SpeakerOption func(*Speaker)

// WithSpeechTimeout overrides DefaultSpeechTimeout.
func WithSpeechTimeout(d time.Duration) SpeakerOption {
	return func(s *Speaker) { s.timeout = d }
}

// WithSpeechMetrics counts primary and fallback syntheses.
func WithSpeechMetrics(m *metrics.Collector) SpeakerOption {
	return func(s *Speaker) { s.metrics = m }
}

// NewSpeaker creates a Speaker. synth may be nil, in which case every reply
// uses the local fallback.
func NewSpeaker(synth Synthesizer, opts ...SpeakerOption) *Speaker {
	s := &Speaker{synth: synth, timeout: DefaultSpeechTimeout}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Available reports whether a primary synthesizer is configured.
func (s *Speaker) Available() bool {
	return s != nil && s.synth != nil
}

// Speak never fails: any synthesizer error, including a timeout, yields a
// fallback Speech.
func (s *Speaker) Speak(ctx context.Context, text string) Speech {
	text = strings.TrimSpace(text)
	if !s.Available() || text == "" {
		s.metricsOrNil().RecordSpeech("fallback")
		return Speech{Fallback: true, Text: text}
	}

	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	audio, err := s.synth.Synthesize(callCtx, text)
	if err != nil || len(audio) == 0 {
		slog.Warn("Speaker.Speak: primary synthesis failed, falling back to local speech", "error", err, "bytes", len(audio))
		s.metrics.RecordSpeech("fallback")
		return Speech{Fallback: true, Text: text}
	}
	s.metrics.RecordSpeech("primary")
	return Speech{Audio: audio, Format: "mp3", Text: text}
}

func (s *Speaker) metricsOrNil() *metrics.Collector {
	if s == nil {
		return nil
	}
	return s.metrics
}
