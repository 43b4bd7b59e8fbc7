package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
)

func newTestAuthenticator(t *testing.T, opts ...Option) *Authenticator {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	base := []Option{WithSecret("test-secret"), WithAdmin("Admin@Example.org", string(hash))}
	a, err := NewAuthenticator(append(base, opts...)...)
	if err != nil {
		t.Fatalf("NewAuthenticator failed: %v", err)
	}
	return a
}

func TestNewAuthenticator_RequiresSecret(t *testing.T) {
	if _, err := NewAuthenticator(); !errors.Is(err, ErrNoSecret) {
		t.Errorf("expected ErrNoSecret, got %v", err)
	}
}

func TestLogin_Roles(t *testing.T) {
	a := newTestAuthenticator(t)

	p, err := a.Login(" Ada@Example.org ", "")
	if err != nil {
		t.Fatalf("participant login failed: %v", err)
	}
	if p.Role() != RoleParticipant || p.Email() != "ada@example.org" {
		t.Errorf("unexpected participant session %s/%s", p.Role(), p.Email())
	}

	admin, err := a.Login("admin@example.org", "s3cret")
	if err != nil {
		t.Fatalf("admin login failed: %v", err)
	}
	if !admin.IsAdmin() {
		t.Errorf("expected admin role, got %s", admin.Role())
	}

	if _, err := a.Login("admin@example.org", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := a.Login("  ", ""); !errors.Is(err, ErrEmailRequired) {
		t.Errorf("expected ErrEmailRequired, got %v", err)
	}
}

func TestLoad_RejectsBadTokens(t *testing.T) {
	a := newTestAuthenticator(t)
	other := newTestAuthenticator(t, WithSecret("another-secret"))

	tok, _ := other.Sign("ada@example.org", RoleAdmin)
	if _, err := a.Load(tok); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken for foreign signature, got %v", err)
	}
	if _, err := a.Load("not-a-jwt"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken for garbage, got %v", err)
	}
	bogus, _ := a.Sign("ada@example.org", Role("root"))
	if _, err := a.Load(bogus); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken for unknown role, got %v", err)
	}
}

func TestLoad_Expired(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	a := newTestAuthenticator(t, WithTokenTTL(time.Hour), WithClock(func() time.Time { return now }))
	s, err := a.Login("ada@example.org", "")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	now = now.Add(2 * time.Hour)
	if _, err := a.Load(s.Token()); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected expired token to be rejected, got %v", err)
	}
}

func TestClear_RevokesToken(t *testing.T) {
	a := newTestAuthenticator(t)
	s, _ := a.Login("ada@example.org", "")
	tok := s.Token()

	a.Clear(s)
	if s.Authenticated() || s.Email() != "" {
		t.Error("expected cleared session to be empty")
	}
	if _, err := a.Load(tok); !errors.Is(err, ErrRevokedToken) {
		t.Errorf("expected ErrRevokedToken, got %v", err)
	}
}

func TestMiddleware(t *testing.T) {
	a := newTestAuthenticator(t)
	participant, _ := a.Login("ada@example.org", "")
	admin, _ := a.Login("admin@example.org", "s3cret")

	ok := func(w http.ResponseWriter, r *http.Request) {
		s, _ := SessionFromContext(r.Context())
		w.Write([]byte(s.Email()))
	}
	h := a.WithAuth(Require(ok, RoleAdmin))

	tests := []struct {
		name   string
		token  string
		status int
	}{
		{"no token", "", http.StatusUnauthorized},
		{"bad token", "garbage", http.StatusUnauthorized},
		{"wrong role", participant.Token(), http.StatusForbidden},
		{"admin", admin.Token(), http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/consents", nil)
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.status {
				t.Fatalf("expected %d, got %d", tt.status, rec.Code)
			}
			if tt.status == http.StatusUnauthorized && !strings.Contains(rec.Body.String(), LoginPath) {
				t.Errorf("expected 401 body to name %s, got %s", LoginPath, rec.Body.String())
			}
		})
	}
}

func TestHashPassword(t *testing.T) {
	hash, err := HashPassword("pw")
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte("pw")) != nil {
		t.Error("hash does not verify")
	}
}
