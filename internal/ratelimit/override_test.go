package ratelimit

import "testing"

func TestOverridesFirstMatchWins(t *testing.T) {
	overrides := Overrides{
		{Pattern: "/api/v1/export", Limits: Limits{PerMinute: 5}},
		{Pattern: "/api/v1", Limits: Limits{PerMinute: 100}},
		{Pattern: "/api", Limits: Limits{PerMinute: 500}},
	}

	tests := []struct {
		path        string
		wantPattern string
		wantMatch   bool
	}{
		{"/api/v1/export", "/api/v1/export", true},
		{"/api/v1/export/csv", "/api/v1/export", true},
		{"/api/v1/users", "/api/v1", true},
		{"/api/v2/users", "/api", true},
		{"/apiv2", "", false},
		{"/other", "", false},
	}
	for _, tc := range tests {
		ov, ok := overrides.Resolve(tc.path)
		if ok != tc.wantMatch {
			t.Errorf("Resolve(%q) matched=%v, want %v", tc.path, ok, tc.wantMatch)
			continue
		}
		if ok && ov.Pattern != tc.wantPattern {
			t.Errorf("Resolve(%q) = %q, want %q", tc.path, ov.Pattern, tc.wantPattern)
		}
	}
}

func TestOverridesDeclarationOrder(t *testing.T) {
	// A broader rule listed first shadows narrower ones: order is semantics.
	overrides := Overrides{
		{Pattern: "/api", Limits: Limits{PerMinute: 500}},
		{Pattern: "/api/v1/export", Limits: Limits{PerMinute: 5}},
	}

	ov, ok := overrides.Resolve("/api/v1/export")
	if !ok || ov.Pattern != "/api" {
		t.Errorf("first listed pattern must win, got %q", ov.Pattern)
	}
}

func TestOverridesEmptyList(t *testing.T) {
	var overrides Overrides
	if _, ok := overrides.Resolve("/anything"); ok {
		t.Error("empty override list must never match")
	}
}
