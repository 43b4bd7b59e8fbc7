package assistant

import (
	"context"
	"reflect"
	"testing"

	"github.com/BTreeMap/TrialConsent/internal/consentform"
	"github.com/BTreeMap/TrialConsent/internal/models"
)

func TestParseFill(t *testing.T) {
	tests := []struct {
		name    string
		message string
		want    consentform.Patch
	}{
		{
			name:    "first name with connector",
			message: "set my first name to Ann",
			want:    consentform.Patch{"firstName": "Ann"},
		},
		{
			name:    "email needs the word email",
			message: "update my email to ann.lee@example.com",
			want:    consentform.Patch{"email": "ann.lee@example.com"},
		},
		{
			name:    "email address is not the home address",
			message: "set email address to ann@example.com",
			want:    consentform.Patch{"email": "ann@example.com"},
		},
		{
			name:    "date of birth day first",
			message: "enter date of birth as 07/03/1990",
			want:    consentform.Patch{"dateOfBirth": "1990-03-07"},
		},
		{
			name:    "dob iso",
			message: "set dob to 1990-03-07",
			want:    consentform.Patch{"dateOfBirth": "1990-03-07"},
		},
		{
			name:    "age",
			message: "set age to 34",
			want:    consentform.Patch{"age": "34"},
		},
		{
			name:    "phone",
			message: "put my phone number as +44 20 7946 0958",
			want:    consentform.Patch{"phoneNumber": "+44 20 7946 0958"},
		},
		{
			name:    "emergency phone",
			message: "set emergency phone number to 020 7946 0000",
			want:    consentform.Patch{"emergencyContactPhone": "020 7946 0000"},
		},
		{
			name:    "address takes the rest of the line",
			message: "set address to 12 Main St, London.",
			want:    consentform.Patch{"address": "12 Main St, London"},
		},
		{
			name:    "emergency contact name",
			message: "fill emergency contact name with Jane Smith",
			want:    consentform.Patch{"emergencyContactName": "Jane Smith"},
		},
		{
			name:    "ucla yes",
			message: "set ucla patient to yes",
			want:    consentform.Patch{"isUCLAPatient": "yes"},
		},
		{
			name:    "ucla no",
			message: "update: I am no ucla patient",
			want:    consentform.Patch{"isUCLAPatient": "no"},
		},
		{
			name:    "hospital",
			message: "set hospital to Guy's",
			want:    consentform.Patch{"hospital": "guys"},
		},
		{
			name:    "signature",
			message: "set signature as Ann Marie Lee",
			want:    consentform.Patch{"signature": "Ann Marie Lee"},
		},
		{
			name:    "multi-word value stops at the next field",
			message: "set address to 12 Main St and first name to Ann",
			want:    consentform.Patch{"address": "12 Main St", "firstName": "Ann"},
		},
		{
			name:    "colon connector",
			message: "update surname: Lee",
			want:    consentform.Patch{"lastName": "Lee"},
		},
		{
			name:    "nothing recognised",
			message: "please update the form",
			want:    consentform.Patch{},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseFill(tt.message)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("parseFill(%q) = %v, want %v", tt.message, got, tt.want)
			}
		})
	}
}

func TestParseFill_HelpQuestionsAreNotData(t *testing.T) {
	questions := []string{
		"how do I enter my first name here",
		"can you explain the signature field as I am confused",
		"what should I put for emergency contact name please",
		"what do I enter as my address",
		"set first name to field",
		"should I put my last name as it is on my passport?",
		"can I update the address field later",
	}
	for _, q := range questions {
		if got := parseFill(q); len(got) != 0 {
			t.Errorf("parseFill(%q) = %v, want no fields", q, got)
		}
	}
}

func TestResolve_HelpQuestionsReachFieldGuidance(t *testing.T) {
	b := NewBridge()
	tests := []struct {
		message string
		key     consentform.FieldKey
	}{
		{"how do I enter my first name here", consentform.FirstName},
		{"can you explain the signature field as I am confused", consentform.Signature},
		{"what should I put for emergency contact name please", consentform.EmergencyContactName},
	}
	schema := consentform.DefaultSchema()
	for _, tt := range tests {
		t.Run(tt.message, func(t *testing.T) {
			reply, err := b.Resolve(context.Background(), models.ChatContextForm, tt.message)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if reply.Tier != TierField || len(reply.Patch) != 0 {
				t.Fatalf("expected field guidance without a patch, got tier %s patch %v", reply.Tier, reply.Patch)
			}
			g, _ := schema.Guidance(tt.key)
			if reply.Text != g.Reply() {
				t.Errorf("expected %s guidance, got %q", tt.key, reply.Text)
			}
		})
	}
}

func TestParseFill_ValuesPassFieldContracts(t *testing.T) {
	schema := consentform.DefaultSchema()
	patch := parseFill("set dob to 7/3/1990 and set hospital to imperial and set age to 34")
	if len(patch) != 3 {
		t.Fatalf("expected three fields, got %v", patch)
	}
	for k, v := range patch {
		f, ok := schema.Lookup(k)
		if !ok {
			t.Fatalf("patch key %q not in schema", k)
		}
		if _, err := f.Normalize(v); err != nil {
			t.Errorf("value %v for %s rejected: %v", v, k, err)
		}
	}
}

func TestToISODate(t *testing.T) {
	tests := map[string]string{
		"07/03/1990": "1990-03-07",
		"7/3/1990":   "1990-03-07",
		"07-03-1990": "1990-03-07",
		"1990-03-07": "1990-03-07",
	}
	for in, want := range tests {
		if got := toISODate(in); got != want {
			t.Errorf("toISODate(%q) = %q, want %q", in, got, want)
		}
	}
}
