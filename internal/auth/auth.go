// Package auth issues and verifies bearer tokens for participants and
// administrators.
//
// A request's identity is an explicit *Session value: the middleware loads it
// from the Authorization header and handlers read it from the request context.
// Clearing a session revokes its token until the token would have expired.
package auth

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/TrialConsent/internal/util"
	jwt "github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

// Role is the authorization level carried by a token.
type Role string

const (
	RoleParticipant Role = "participant"
	RoleAdmin       Role = "admin"
)

// DefaultTokenTTL is how long issued tokens stay valid.
const DefaultTokenTTL = 12 * time.Hour

// Error variables for better error handling and testability
var (
	ErrNoSecret           = errors.New("token secret is required")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidToken       = errors.New("invalid token")
	ErrRevokedToken       = errors.New("token has been revoked")
	ErrEmailRequired      = errors.New("email is required")
)

// Claims are the JWT claims issued by this service.
type Claims struct {
	Email string `json:"email"`
	Role  Role   `json:"role"`
	jwt.RegisteredClaims
}

// Opts holds configuration options for an Authenticator.
type Opts struct {
	Secret            []byte
	TokenTTL          time.Duration
	AdminEmail        string
	AdminPasswordHash string
	Now               func() time.Time
}

// Option defines a configuration option for an Authenticator.
type Option func(*Opts)

// WithSecret sets the HMAC signing secret.
func WithSecret(secret string) Option {
	return func(o *Opts) { o.Secret = []byte(secret) }
}

// WithTokenTTL sets the lifetime of issued tokens.
func WithTokenTTL(ttl time.Duration) Option {
	return func(o *Opts) { o.TokenTTL = ttl }
}

// WithAdmin configures the single administrator account. hash is a bcrypt hash.
func WithAdmin(email, hash string) Option {
	return func(o *Opts) {
		o.AdminEmail = strings.ToLower(strings.TrimSpace(email))
		o.AdminPasswordHash = hash
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *Opts) { o.Now = now }
}

// Authenticator signs tokens, verifies them and tracks revocations.
type Authenticator struct {
	secret    []byte
	ttl       time.Duration
	adminUser string
	adminHash []byte
	now       func() time.Time

	mu      sync.Mutex
	revoked map[string]time.Time // token id -> expiry
}

// NewAuthenticator creates an Authenticator. A secret is required.
func NewAuthenticator(opts ...Option) (*Authenticator, error) {
	cfg := Opts{TokenTTL: DefaultTokenTTL, Now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	if len(cfg.Secret) == 0 {
		return nil, ErrNoSecret
	}
	if cfg.AdminEmail == "" || cfg.AdminPasswordHash == "" {
		slog.Warn("Authenticator: no administrator configured, admin login disabled")
	}
	return &Authenticator{
		secret:    cfg.Secret,
		ttl:       cfg.TokenTTL,
		adminUser: cfg.AdminEmail,
		adminHash: []byte(cfg.AdminPasswordHash),
		now:       cfg.Now,
		revoked:   make(map[string]time.Time),
	}, nil
}

// HashPassword returns the bcrypt hash to store in ADMIN_PASSWORD_HASH.
func HashPassword(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Login authenticates an email and optional password. The administrator's
// email requires the matching password; any other address gets a participant
// token.
func (a *Authenticator) Login(email, password string) (*Session, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, ErrEmailRequired
	}
	role := RoleParticipant
	if a.adminUser != "" && email == a.adminUser {
		if err := bcrypt.CompareHashAndPassword(a.adminHash, []byte(password)); err != nil {
			slog.Warn("Authenticator.Login: admin password mismatch", "email", email)
			return nil, ErrInvalidCredentials
		}
		role = RoleAdmin
	}
	token, err := a.Sign(email, role)
	if err != nil {
		return nil, err
	}
	slog.Info("Authenticator.Login: token issued", "email", email, "role", role)
	return a.Load(token)
}

// Sign issues a token for subject with role.
func (a *Authenticator) Sign(email string, role Role) (string, error) {
	now := a.now()
	claims := Claims{
		Email: email,
		Role:  role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        util.GenerateRandomHex(16),
			Subject:   email,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Load verifies token and returns the session it represents.
func (a *Authenticator) Load(token string) (*Session, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(a.now))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	c, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if c.Role != RoleParticipant && c.Role != RoleAdmin {
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidToken, c.Role)
	}
	if a.isRevoked(c.ID) {
		return nil, ErrRevokedToken
	}
	return &Session{token: token, claims: *c}, nil
}

// Clear revokes the session's token and empties the session.
func (a *Authenticator) Clear(s *Session) {
	if s == nil || s.token == "" {
		return
	}
	a.mu.Lock()
	if s.claims.ExpiresAt != nil {
		a.revoked[s.claims.ID] = s.claims.ExpiresAt.Time
	}
	a.pruneLocked()
	a.mu.Unlock()
	slog.Debug("Authenticator.Clear: session cleared", "email", s.claims.Email)
	s.clear()
}

func (a *Authenticator) isRevoked(id string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.revoked[id]
	return ok
}

func (a *Authenticator) pruneLocked() {
	now := a.now()
	for id, exp := range a.revoked {
		if now.After(exp) {
			delete(a.revoked, id)
		}
	}
}

// Session is one authenticated identity and its bearer token.
type Session struct {
	token  string
	claims Claims
}

// Token returns the bearer token, or "" once cleared.
func (s *Session) Token() string {
	if s == nil {
		return ""
	}
	return s.token
}

// Email returns the authenticated address.
func (s *Session) Email() string {
	if s == nil {
		return ""
	}
	return s.claims.Email
}

// Role returns the session's role.
func (s *Session) Role() Role {
	if s == nil {
		return ""
	}
	return s.claims.Role
}

// ExpiresAt returns when the token stops being accepted.
func (s *Session) ExpiresAt() time.Time {
	if s == nil || s.claims.ExpiresAt == nil {
		return time.Time{}
	}
	return s.claims.ExpiresAt.Time
}

// Authenticated reports whether the session still holds a token.
func (s *Session) Authenticated() bool {
	return s != nil && s.token != ""
}

// IsAdmin reports whether the session belongs to the administrator.
func (s *Session) IsAdmin() bool {
	return s.Authenticated() && s.claims.Role == RoleAdmin
}

func (s *Session) clear() {
	s.token = ""
	s.claims = Claims{}
}
