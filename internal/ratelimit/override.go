package ratelimit

import "strings"

// Override substitutes route-specific limits for the caller's plan on
// requests whose path matches Pattern (prefix semantics, same as the router).
type Override struct {
	Pattern string
	Limits  Limits
}

// Overrides is scanned linearly; the first matching pattern wins. It is
// deliberately an ordered list, not a map: declaration order is part of the
// match semantics.
type Overrides []Override

// Resolve returns the first override whose pattern matches path.
func (o Overrides) Resolve(path string) (Override, bool) {
	for _, ov := range o {
		if matchPrefix(ov.Pattern, path) {
			return ov, true
		}
	}
	return Override{}, false
}

func matchPrefix(prefix, path string) bool {
	prefix = strings.TrimSuffix(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		prefix = "/"
	}
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}
