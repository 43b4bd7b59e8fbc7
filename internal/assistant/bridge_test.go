package assistant

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/BTreeMap/TrialConsent/internal/consentform"
	"github.com/BTreeMap/TrialConsent/internal/models"
)

// mockCompleter implements Completer for testing.
type mockCompleter struct {
	reply  string
	err    error
	calls  int
	system string
}

func (m *mockCompleter) Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	m.calls++
	m.system = systemPrompt
	return m.reply, m.err
}

func TestResolve_FormFieldGuidance(t *testing.T) {
	b := NewBridge()
	reply, err := b.Resolve(context.Background(), models.ChatContextForm, "what is my current medication field for")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	g, _ := consentform.DefaultSchema().Guidance(consentform.CurrentMedications)
	if reply.Text != g.Reply() {
		t.Errorf("expected currentMedications guidance, got %q", reply.Text)
	}
	if reply.Tier != TierField {
		t.Errorf("expected field tier, got %s", reply.Tier)
	}
	if len(reply.Patch) != 0 {
		t.Errorf("guidance must not carry a patch, got %v", reply.Patch)
	}
}

func TestResolve_TrialRisks(t *testing.T) {
	b := NewBridge()
	reply, err := b.Resolve(context.Background(), models.ChatContextTrial, "what are the risks")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, want := range []string{"tiredness", "nausea", "injection site discomfort"} {
		if !strings.Contains(reply.Text, want) {
			t.Errorf("risks answer missing %q: %q", want, reply.Text)
		}
	}
	if reply.Patch != nil {
		t.Errorf("trial context must never patch, got %v", reply.Patch)
	}
}

func TestResolve_TrialRuleOrder(t *testing.T) {
	b := NewBridge()
	tests := []struct {
		message string
		want    string // substring of the expected rule reply
	}{
		{"Give me a summary", "Phase II trial tests Glucora"},
		{"What are the risks?", "tiredness"},
		{"How do I withdraw?", "withdraw at any point"},
		{"Explain consent", "Giving consent means"},
		{"Is it safe to withdraw?", "withdraw at any point"}, // withdraw precedes risks
		{"how long is the trial", "12 to 18 months"},
		{"who do I contact", "trials@gmail.com"},
		{"how does Glucora work", "GLP-1"},
		{"will my data stay private", "remain private"},
	}
	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			reply, err := b.Resolve(context.Background(), models.ChatContextTrial, tt.message)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !strings.Contains(reply.Text, tt.want) {
				t.Errorf("expected reply containing %q, got %q", tt.want, reply.Text)
			}
		})
	}
}

func TestResolve_TrialQuickQuestionsAllAnswered(t *testing.T) {
	b := NewBridge()
	for _, q := range TrialQuickQuestions {
		reply, err := b.Resolve(context.Background(), models.ChatContextTrial, q)
		if err != nil {
			t.Fatalf("unexpected error for %q: %v", q, err)
		}
		if reply.Tier != TierRule {
			t.Errorf("quick question %q fell through to %s", q, reply.Tier)
		}
	}
}

func TestResolve_FieldBeforeSection(t *testing.T) {
	b := NewBridge()
	// "emergency contact phone" is also inside the section 2 synonym "emergency contact"
	reply, err := b.Resolve(context.Background(), models.ChatContextForm, "what goes in emergency contact phone")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply.Tier != TierField {
		t.Fatalf("expected field tier, got %s (%q)", reply.Tier, reply.Text)
	}
	g, _ := consentform.DefaultSchema().Guidance(consentform.EmergencyContactPhone)
	if reply.Text != g.Reply() {
		t.Errorf("expected emergency phone guidance, got %q", reply.Text)
	}
}

func TestResolve_FormTiers(t *testing.T) {
	b := NewBridge()
	tests := []struct {
		message string
		tier    Tier
	}{
		{"How long does this take?", TierQuick},
		{"Can I save and continue later?", TierQuick},
		{"what is the dob field", TierField},
		{"tell me about the medical history section", TierSection},
		{"what is insurance about", TierSection},
		{"hmm", TierFallback},
		{"set my first name to Ann", TierFill},
	}
	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			reply, err := b.Resolve(context.Background(), models.ChatContextForm, tt.message)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if reply.Tier != tt.tier {
				t.Errorf("expected tier %s, got %s (%q)", tt.tier, reply.Tier, reply.Text)
			}
		})
	}
}

func TestResolve_FillReplyListsKeys(t *testing.T) {
	b := NewBridge()
	reply, err := b.Resolve(context.Background(), models.ChatContextForm, "fill first name with Ann and last name with Lee")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := "I've updated the following fields: firstName, lastName."
	if !strings.HasPrefix(reply.Text, want) {
		t.Errorf("expected reply starting %q, got %q", want, reply.Text)
	}
	if reply.Patch["firstName"] != "Ann" || reply.Patch["lastName"] != "Lee" {
		t.Errorf("unexpected patch %v", reply.Patch)
	}
}

func TestResolve_RemoteOnlyForUnmatched(t *testing.T) {
	remote := &mockCompleter{reply: "The study clinic opens at 9am."}
	b := NewBridge(WithRemote(remote))

	reply, err := b.Resolve(context.Background(), models.ChatContextTrial, "when does the clinic open")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply.Tier != TierRemote || reply.Text != remote.reply {
		t.Errorf("expected remote reply, got %s %q", reply.Tier, reply.Text)
	}
	if !strings.Contains(remote.system, "Glucora") {
		t.Error("expected trial information in the system prompt")
	}

	remote.calls = 0
	if _, err := b.Resolve(context.Background(), models.ChatContextTrial, "what are the risks"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if remote.calls != 0 {
		t.Errorf("local rule should answer without the remote resolver, got %d calls", remote.calls)
	}
}

func TestResolve_RemoteFailureFallsBack(t *testing.T) {
	b := NewBridge(WithRemote(&mockCompleter{err: errors.New("timeout")}))
	reply, err := b.Resolve(context.Background(), models.ChatContextForm, "hmm")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if reply.Tier != TierFallback || reply.Text != fallbacks[models.ChatContextForm] {
		t.Errorf("expected local fallback, got %s %q", reply.Tier, reply.Text)
	}
}

func TestResolve_InvalidInput(t *testing.T) {
	b := NewBridge()
	if _, err := b.Resolve(context.Background(), models.ChatContextTrial, "  "); !errors.Is(err, models.ErrEmptyChatMessage) {
		t.Errorf("expected ErrEmptyChatMessage, got %v", err)
	}
	if _, err := b.Resolve(context.Background(), "admin", "hello"); !errors.Is(err, models.ErrInvalidContext) {
		t.Errorf("expected ErrInvalidContext, got %v", err)
	}
}

func TestContainsTerm(t *testing.T) {
	tests := []struct {
		text, term string
		want       bool
	}{
		{"what is my dob", "dob", true},
		{"adobe reader", "dob", false},
		{"the risks", "risk", true},
		{"asterisk", "risk", false},
		{"my gp's number", "gp", true},
		{"gps tracker", "gp", false},
		{"", "dob", false},
	}
	for _, tt := range tests {
		if got := containsTerm(tt.text, tt.term); got != tt.want {
			t.Errorf("containsTerm(%q, %q) = %v, want %v", tt.text, tt.term, got, tt.want)
		}
	}
}
