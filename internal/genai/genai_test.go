package genai

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/openai/openai-go"
)

// mockChatService implements chatService for testing.
type mockChatService struct {
	resp   openai.ChatCompletion
	err    error
	params openai.ChatCompletionNewParams
}

func (m *mockChatService) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	m.params = params
	return m.resp, m.err
}

// mockSpeechService implements speechService for testing.
type mockSpeechService struct {
	audio []byte
	err   error
	input string
}

func (m *mockSpeechService) Create(ctx context.Context, params openai.AudioSpeechNewParams) ([]byte, error) {
	m.input = params.Input
	return m.audio, m.err
}

func newMockClient(chat *mockChatService, speech *mockSpeechService) *Client {
	return &Client{
		chat:        chat,
		speech:      speech,
		model:       "test-model",
		temperature: 0.2,
		maxTokens:   100,
		voice:       DefaultVoice,
	}
}

func TestComplete_Success(t *testing.T) {
	mockResp := openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Content: "  Hello World \n"}},
		},
	}
	chat := &mockChatService{resp: mockResp}
	client := newMockClient(chat, nil)

	out, err := client.Complete(context.Background(), "system prompt", "user prompt")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if out != "Hello World" {
		t.Errorf("expected 'Hello World', got '%s'", out)
	}
	if len(chat.params.Messages) != 2 {
		t.Errorf("expected system and user messages, got %d", len(chat.params.Messages))
	}
}

func TestComplete_ServiceError(t *testing.T) {
	client := newMockClient(&mockChatService{err: errors.New("service failure")}, nil)
	_, err := client.Complete(context.Background(), "sys", "usr")
	if err == nil || !strings.Contains(err.Error(), "service failure") {
		t.Errorf("expected service failure error, got %v", err)
	}
}

func TestComplete_NoChoices(t *testing.T) {
	client := newMockClient(&mockChatService{resp: openai.ChatCompletion{}}, nil)
	_, err := client.Complete(context.Background(), "sys", "usr")
	if !errors.Is(err, ErrNoChoicesReturned) {
		t.Errorf("expected no choices returned error, got %v", err)
	}
}

func TestComplete_EmptyInput(t *testing.T) {
	client := newMockClient(&mockChatService{}, nil)
	if _, err := client.Complete(context.Background(), "sys", "   "); !errors.Is(err, ErrEmptyInput) {
		t.Errorf("expected ErrEmptyInput, got %v", err)
	}
}

func TestComplete_DebugFile(t *testing.T) {
	dir := t.TempDir()
	mockResp := openai.ChatCompletion{
		Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: "ok"}}},
	}
	client := newMockClient(&mockChatService{resp: mockResp}, nil)
	client.debugMode = true
	client.stateDir = dir

	if _, err := client.Complete(context.Background(), "sys", "usr"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	files, err := filepath.Glob(filepath.Join(dir, "debug", "chat_*.json"))
	if err != nil || len(files) != 1 {
		t.Fatalf("expected one debug file, got %v (err %v)", files, err)
	}
	b, _ := os.ReadFile(files[0])
	if !strings.Contains(string(b), `"response": "ok"`) {
		t.Errorf("debug file missing response: %s", b)
	}
}

func TestSynthesize(t *testing.T) {
	speech := &mockSpeechService{audio: []byte("ID3")}
	client := newMockClient(nil, speech)

	audio, err := client.Synthesize(context.Background(), " Hello ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(audio) != "ID3" {
		t.Errorf("unexpected audio %q", audio)
	}
	if speech.input != "Hello" {
		t.Errorf("expected trimmed input, got %q", speech.input)
	}
}

func TestSynthesize_Errors(t *testing.T) {
	tests := []struct {
		name   string
		speech *mockSpeechService
		text   string
		want   error
	}{
		{"empty text", &mockSpeechService{audio: []byte("x")}, "", ErrEmptyInput},
		{"empty audio", &mockSpeechService{}, "hi", ErrEmptyAudio},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newMockClient(nil, tt.speech)
			if _, err := client.Synthesize(context.Background(), tt.text); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}

	client := newMockClient(nil, &mockSpeechService{err: errors.New("quota")})
	if _, err := client.Synthesize(context.Background(), "hi"); err == nil || !strings.Contains(err.Error(), "quota") {
		t.Errorf("expected wrapped quota error, got %v", err)
	}
}

func TestSynthesize_TruncatesLongInput(t *testing.T) {
	speech := &mockSpeechService{audio: []byte("x")}
	client := newMockClient(nil, speech)
	if _, err := client.Synthesize(context.Background(), strings.Repeat("a", MaxSpeechInput+10)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(speech.input) != MaxSpeechInput {
		t.Errorf("expected input truncated to %d, got %d", MaxSpeechInput, len(speech.input))
	}
}

func TestNewClient_NoKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	_, err := NewClient()
	if !errors.Is(err, ErrNoAPIKey) {
		t.Errorf("expected ErrNoAPIKey, got %v", err)
	}
}

func TestNewClient_WithKey(t *testing.T) {
	cli, err := NewClient(WithAPIKey("test-key"), WithModel("gpt-4o"), WithVoice("nova"))
	if err != nil {
		t.Fatalf("expected no error with API key, got %v", err)
	}
	if cli.model != "gpt-4o" || cli.voice != "nova" {
		t.Errorf("options not applied: model=%s voice=%s", cli.model, cli.voice)
	}
}
