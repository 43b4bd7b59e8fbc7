package util

import (
	"regexp"
	"strings"
	"testing"
	"time"
)

func TestGenerateRandomID(t *testing.T) {
	tests := []struct {
		name       string
		prefix     string
		hexLength  int
		wantLength int
	}{
		{name: "session ID format", prefix: "fs_", hexLength: 24, wantLength: 27},
		{name: "chat ID format", prefix: "chat_", hexLength: 24, wantLength: 29},
		{name: "empty hex", prefix: "x_", hexLength: 0, wantLength: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := GenerateRandomID(tt.prefix, tt.hexLength)
			if !strings.HasPrefix(got, tt.prefix) {
				t.Errorf("GenerateRandomID() = %v, want prefix %v", got, tt.prefix)
			}
			if len(got) != tt.wantLength {
				t.Errorf("GenerateRandomID() length = %v, want %v", len(got), tt.wantLength)
			}
			if !isValidHex(got[len(tt.prefix):]) {
				t.Errorf("GenerateRandomID() hex part of %v is not valid hex", got)
			}
		})
	}
}

func TestGenerateRandomHex_NegativeLength(t *testing.T) {
	if got := GenerateRandomHex(-3); got != "" {
		t.Errorf("expected empty string, got %q", got)
	}
}

func TestGenerateTrackingCode(t *testing.T) {
	now := time.UnixMilli(1718000123456)
	code := GenerateTrackingCode(now)

	pattern := regexp.MustCompile(`^NS-\d{8}-\d{4}$`)
	if !pattern.MatchString(code) {
		t.Fatalf("tracking code %q does not match NS-XXXXXXXX-XXXX", code)
	}
	if !strings.HasPrefix(code, "NS-00123456-") {
		t.Errorf("expected last 8 timestamp digits 00123456, got %q", code)
	}
}

func TestParseBool(t *testing.T) {
	cases := map[string]struct {
		want bool
		ok   bool
	}{
		"true": {true, true}, "YES": {true, true}, " on ": {true, true},
		"0": {false, true}, "no": {false, true},
		"maybe": {false, false}, "": {false, false},
	}
	for in, tc := range cases {
		got, ok := ParseBool(in)
		if got != tc.want || ok != tc.ok {
			t.Errorf("ParseBool(%q) = (%v, %v), want (%v, %v)", in, got, ok, tc.want, tc.ok)
		}
	}
}

func TestParseBoolEnv(t *testing.T) {
	t.Setenv("TRIALCONSENT_TEST_BOOL", "off")
	if ParseBoolEnv("TRIALCONSENT_TEST_BOOL", true) {
		t.Error("expected false for 'off'")
	}
	t.Setenv("TRIALCONSENT_TEST_BOOL", "garbage")
	if !ParseBoolEnv("TRIALCONSENT_TEST_BOOL", true) {
		t.Error("expected default for invalid value")
	}
}

func isValidHex(s string) bool {
	for _, c := range s {
		if !strings.ContainsRune("0123456789abcdef", c) {
			return false
		}
	}
	return true
}
