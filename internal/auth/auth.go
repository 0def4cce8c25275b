// Package auth validates API keys and attaches the resolved key ID to the
// request context, where the admission engine's caller-key resolver reads it.
package auth

import (
	"context"
	"net/http"
	"strings"
)

type ctxKey int

const keyID ctxKey = 0

// Key is one credential: the public ID used for rate limiting and plan
// lookup, plus the plan it is subscribed to.
type Key struct {
	ID   string
	Plan string
}

// Store is a static in-memory key store: secret -> Key.
type Store struct {
	header   string
	bySecret map[string]Key
}

// NewStatic creates a key store reading credentials from the given header
// (default "X-API-Key").
func NewStatic(header string, bySecret map[string]Key) *Store {
	h := header
	if h == "" {
		h = "X-API-Key"
	}
	return &Store{header: h, bySecret: bySecret}
}

// PlanFor returns the plan name a key ID is subscribed to.
func (s *Store) PlanFor(id string) (string, bool) {
	for _, k := range s.bySecret {
		if k.ID == id {
			return k.Plan, true
		}
	}
	return "", false
}

// WithKeyID injects the key ID into context.
func WithKeyID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, keyID, id)
}

// KeyIDFrom extracts the key ID from context (if present).
func KeyIDFrom(ctx context.Context) (string, bool) {
	v := ctx.Value(keyID)
	if v == nil {
		return "", false
	}
	id, ok := v.(string)
	return id, ok
}

// Middleware validates the API key and writes JSON errors on failure.
// It skips authentication for any path in skipPaths.
func (s *Store) Middleware(skipPaths map[string]struct{}) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		hname := s.header

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := skipPaths[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			secret := strings.TrimSpace(r.Header.Get(hname))
			if secret == "" {
				writeJSON(w, http.StatusUnauthorized, "MISSING_API_KEY", "Provide API key in "+hname)
				return
			}
			k, ok := s.bySecret[secret]
			if !ok {
				writeJSON(w, http.StatusUnauthorized, "INVALID_API_KEY", "API key not recognized")
				return
			}
			ctx := WithKeyID(r.Context(), k.ID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeJSON(w http.ResponseWriter, code int, errCode, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write([]byte(`{"error":{"code":"` + errCode + `","message":"` + msg + `"}}`))
}
