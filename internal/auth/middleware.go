package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/BTreeMap/TrialConsent/internal/models"
)

type authCtxKey int

const sessionKey authCtxKey = 1

// LoginPath is the identity entry point named in 401 responses.
const LoginPath = "/auth/token"

// BearerToken extracts the token from an Authorization header.
func BearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if !strings.HasPrefix(h, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
}

// WithAuth attaches the session to the request context when a valid bearer
// token is present. Requests without one pass through unauthenticated.
func (a *Authenticator) WithAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if tok := BearerToken(r); tok != "" {
			if s, err := a.Load(tok); err == nil {
				next.ServeHTTP(w, r.WithContext(ContextWithSession(r.Context(), s)))
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// Require rejects requests without a session holding one of roles. An empty
// roles list accepts any authenticated session.
func Require(next http.HandlerFunc, roles ...Role) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := SessionFromContext(r.Context())
		if !ok || !s.Authenticated() {
			writeDenied(w, http.StatusUnauthorized, "authentication required: obtain a token from "+LoginPath)
			return
		}
		if len(roles) > 0 {
			allowed := false
			for _, role := range roles {
				if s.Role() == role {
					allowed = true
					break
				}
			}
			if !allowed {
				writeDenied(w, http.StatusForbidden, "insufficient role")
				return
			}
		}
		next(w, r)
	}
}

// ContextWithSession returns ctx carrying s.
func ContextWithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionKey, s)
}

// SessionFromContext returns the session attached by WithAuth.
func SessionFromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(sessionKey).(*Session)
	return s, ok && s != nil
}

func writeDenied(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	if status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer realm="trialconsent"`)
	}
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(models.Error(msg))
}
