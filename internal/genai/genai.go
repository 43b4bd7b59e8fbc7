// Package genai wraps the OpenAI API for the consent assistant: free-form
// answers for questions the rule tiers cannot resolve, and speech synthesis
// for spoken replies.
package genai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Default model settings.
const (
	DefaultModel       = openai.ChatModelGPT4oMini
	DefaultTemperature = 0.2
	DefaultMaxTokens   = 300
	DefaultSpeechModel = openai.SpeechModelTTS1
	DefaultVoice       = openai.AudioSpeechNewParamsVoiceAlloy

	// MaxSpeechInput is the longest text the speech endpoint accepts.
	MaxSpeechInput = 4096
)

var (
	ErrNoAPIKey          = errors.New("OpenAI API key not provided")
	ErrNoChoicesReturned = errors.New("no choices returned")
	ErrEmptyInput        = errors.New("empty input")
	ErrEmptyAudio        = errors.New("speech service returned no audio")
)

// chatService is the slice of the OpenAI chat API the client uses.
type chatService interface {
	Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error)
}

// speechService is the slice of the OpenAI audio API the client uses.
type speechService interface {
	Create(ctx context.Context, params openai.AudioSpeechNewParams) ([]byte, error)
}

type openaiChat struct{ svc openai.ChatCompletionService }

func (o openaiChat) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	resp, err := o.svc.New(ctx, params)
	if err != nil {
		return openai.ChatCompletion{}, err
	}
	return *resp, nil
}

type openaiSpeech struct{ svc openai.AudioSpeechService }

func (o openaiSpeech) Create(ctx context.Context, params openai.AudioSpeechNewParams) ([]byte, error) {
	resp, err := o.svc.New(ctx, params)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

// Client calls OpenAI chat completions and speech synthesis.
type Client struct {
	chat        chatService
	speech      speechService
	model       string
	temperature float64
	maxTokens   int
	voice       openai.AudioSpeechNewParamsVoice
	debugMode   bool
	stateDir    string
}

// Opts holds configuration options for the GenAI client.
type Opts struct {
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	Voice       string
	DebugMode   bool
	StateDir    string
}

// Option defines a function that configures Opts.
type Option func(*Opts)

// WithAPIKey overrides the OPENAI_API_KEY environment variable.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithModel sets the chat model.
func WithModel(model string) Option {
	return func(o *Opts) { o.Model = model }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(o *Opts) { o.Temperature = t }
}

// WithMaxTokens caps the reply length.
func WithMaxTokens(n int) Option {
	return func(o *Opts) { o.MaxTokens = n }
}

// WithVoice sets the speech voice.
func WithVoice(voice string) Option {
	return func(o *Opts) { o.Voice = voice }
}

// WithDebugMode writes every request and response under stateDir/debug.
func WithDebugMode(enabled bool, stateDir string) Option {
	return func(o *Opts) {
		o.DebugMode = enabled
		o.StateDir = stateDir
	}
}

// NewClient creates a client. The API key comes from the options or the
// OPENAI_API_KEY environment variable.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{
		APIKey:      os.Getenv("OPENAI_API_KEY"),
		Model:       string(DefaultModel),
		Temperature: DefaultTemperature,
		MaxTokens:   DefaultMaxTokens,
		Voice:       string(DefaultVoice),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		return nil, ErrNoAPIKey
	}

	cli := openai.NewClient(option.WithAPIKey(cfg.APIKey))
	slog.Debug("genai.NewClient: client created", "model", cfg.Model, "voice", cfg.Voice, "debug", cfg.DebugMode)
	return &Client{
		chat:        openaiChat{svc: cli.Chat.Completions},
		speech:      openaiSpeech{svc: cli.Audio.Speech},
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		voice:       openai.AudioSpeechNewParamsVoice(cfg.Voice),
		debugMode:   cfg.DebugMode,
		stateDir:    cfg.StateDir,
	}, nil
}

// Complete answers a user message under a system prompt.
func (c *Client) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if strings.TrimSpace(userPrompt) == "" {
		return "", ErrEmptyInput
	}
	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(systemPrompt),
			openai.UserMessage(userPrompt),
		},
		Temperature: openai.Float(c.temperature),
	}
	if c.maxTokens > 0 {
		params.MaxTokens = openai.Int(int64(c.maxTokens))
	}

	start := time.Now()
	resp, err := c.chat.Create(ctx, params)
	c.writeDebug("chat", map[string]any{"system": systemPrompt, "user": userPrompt}, resp, err)
	if err != nil {
		slog.Error("genai.Complete: chat completion failed", "model", c.model, "error", err)
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrNoChoicesReturned
	}
	out := strings.TrimSpace(resp.Choices[0].Message.Content)
	slog.Debug("genai.Complete: reply generated", "model", c.model, "chars", len(out), "elapsed", time.Since(start))
	return out, nil
}

// Synthesize turns text into MP3 audio.
func (c *Client) Synthesize(ctx context.Context, text string) ([]byte, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyInput
	}
	if len(text) > MaxSpeechInput {
		text = text[:MaxSpeechInput]
	}
	params := openai.AudioSpeechNewParams{
		Model:          DefaultSpeechModel,
		Input:          text,
		Voice:          c.voice,
		ResponseFormat: openai.AudioSpeechNewParamsResponseFormatMP3,
	}
	audio, err := c.speech.Create(ctx, params)
	if err != nil {
		slog.Error("genai.Synthesize: speech request failed", "error", err)
		return nil, fmt.Errorf("speech synthesis: %w", err)
	}
	if len(audio) == 0 {
		return nil, ErrEmptyAudio
	}
	slog.Debug("genai.Synthesize: audio generated", "bytes", len(audio))
	return audio, nil
}

func (c *Client) writeDebug(kind string, request any, response openai.ChatCompletion, callErr error) {
	if !c.debugMode || c.stateDir == "" {
		return
	}
	dir := filepath.Join(c.stateDir, "debug")
	if err := os.MkdirAll(dir, 0755); err != nil {
		slog.Warn("genai.writeDebug: failed to create debug dir", "dir", dir, "error", err)
		return
	}
	entry := map[string]any{
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		"model":     c.model,
		"request":   request,
	}
	if callErr != nil {
		entry["error"] = callErr.Error()
	} else if len(response.Choices) > 0 {
		entry["response"] = response.Choices[0].Message.Content
	}
	b, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		return
	}
	name := fmt.Sprintf("%s_%d.json", kind, time.Now().UnixNano())
	if err := os.WriteFile(filepath.Join(dir, name), b, 0644); err != nil {
		slog.Warn("genai.writeDebug: failed to write debug file", "file", name, "error", err)
	}
}
