package gateway

import (
	"net/http"

	"github.com/quotagate/quotagate/internal/ratelimit"
	"github.com/quotagate/quotagate/internal/routing"
)

// RateLimitOptions configures one limiter instance.
type RateLimitOptions struct {
	Evaluator *ratelimit.Evaluator
	// Resolve derives the identifier being throttled.
	Resolve ratelimit.Resolver
	// Plan returns the caller's quota; nil or all-zero limits bypass.
	Plan func(identifier string) ratelimit.Limits
	// Overrides substitute per-route limits; first match wins.
	Overrides ratelimit.Overrides
	// Weight is the quota units one request consumes (default 1).
	Weight int64
	// Message optionally replaces the denial message body.
	Message string
	// SkipPaths are served without any admission check (ops endpoints).
	SkipPaths map[string]struct{}
	// OnLimited feeds metrics on denials; may be nil.
	OnLimited func(routeID string)
}

// RateLimit returns the admission-control middleware. Every limited response
// carries X-RateLimit-Limit/-Remaining/-Reset/-Weight headers describing the
// binding period; denials are 429 with a Retry-After header.
func RateLimit(opts RateLimitOptions) Middleware {
	if opts.Weight <= 0 {
		opts.Weight = 1
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := opts.SkipPaths[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			id, err := opts.Resolve(r)
			if err != nil {
				// Configuration problem, not a quota violation: the caller
				// could not be identified at all.
				writeJSON(w, http.StatusUnauthorized, "IDENTITY_REQUIRED",
					"no rate-limit identity resolved for this request")
				return
			}

			var limits ratelimit.Limits
			if opts.Plan != nil {
				limits = opts.Plan(id)
			}

			key := id
			if ov, ok := opts.Overrides.Resolve(r.URL.Path); ok {
				// Override buckets live in their own namespace so they never
				// collide with the caller's plan buckets.
				limits = ov.Limits
				key = "route:" + ov.Pattern + "|" + id
			}

			dec := opts.Evaluator.Evaluate(r.Context(), key, opts.Weight, limits)

			if dec.Limit > 0 {
				h := w.Header()
				h.Set("X-RateLimit-Limit", itoa64(dec.Limit))
				h.Set("X-RateLimit-Remaining", itoa64(dec.Remaining))
				h.Set("X-RateLimit-Reset", itoa64(dec.ResetAt.UnixMilli()))
				h.Set("X-RateLimit-Weight", itoa64(opts.Weight))
			}

			if !dec.Allowed {
				if opts.OnLimited != nil {
					opts.OnLimited(routeIDFrom(r))
				}
				retry := dec.RetryAfterSeconds()
				w.Header().Set("Retry-After", itoa64(retry))
				msg := opts.Message
				if msg == "" {
					msg = "Rate limit exceeded, retry after " + itoa64(retry) + "s"
				}
				writeJSON(w, http.StatusTooManyRequests, "RATE_LIMIT_EXCEEDED", msg)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func routeIDFrom(r *http.Request) string {
	if rt, ok := routing.RouteFrom(r); ok && rt != nil && rt.ID != "" {
		return rt.ID
	}
	return "unknown"
}
