package ratelimit

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
)

// ErrNoIdentity is returned by resolvers that require an identity attached
// upstream (API-key mode) when none is present. It must surface as a
// configuration rejection, never as a quota denial, and the resolver must not
// silently fall back to the client address.
var ErrNoIdentity = errors.New("ratelimit: no identity resolved for request")

// Resolver derives the rate-limit identifier for a request. The returned
// string is used verbatim as the bucket key component.
type Resolver func(r *http.Request) (string, error)

// ClientIPResolver resolves the caller's network address. trustedHops is the
// number of proxy hops in front of the gateway whose X-Forwarded-For entries
// are trusted; with trustedHops == 0 the direct connection address is used.
// An unresolvable address yields the literal "unknown" sentinel, which is
// still rate-limited as one shared bucket.
func ClientIPResolver(trustedHops int) Resolver {
	return func(r *http.Request) (string, error) {
		if trustedHops > 0 {
			if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
				parts := strings.Split(xff, ",")
				// Entries are appended left to right; only the last
				// trustedHops of them were written by proxies we run.
				idx := len(parts) - trustedHops
				if idx < 0 {
					idx = 0
				}
				if ip := strings.TrimSpace(parts[idx]); ip != "" {
					return ip, nil
				}
			}
		}
		host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
		if err == nil && host != "" {
			return host, nil
		}
		if addr := strings.TrimSpace(r.RemoteAddr); addr != "" {
			return addr, nil
		}
		return "unknown", nil
	}
}

// KeyIDFunc reports the caller key attached to a request context by an
// upstream authentication step.
type KeyIDFunc func(ctx context.Context) (string, bool)

// APIKeyResolver resolves the pre-authenticated caller key from the request
// context. A missing key is ErrNoIdentity: per-key isolation must not be
// weakened by falling back to the network address.
func APIKeyResolver(from KeyIDFunc) Resolver {
	return func(r *http.Request) (string, error) {
		id, ok := from(r.Context())
		if !ok || id == "" {
			return "", ErrNoIdentity
		}
		return id, nil
	}
}
