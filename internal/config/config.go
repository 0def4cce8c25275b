package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Server struct {
	Addr           string `yaml:"addr"`
	ReadTimeoutMS  int    `yaml:"read_timeout_ms"`
	WriteTimeoutMS int    `yaml:"write_timeout_ms"`
	IdleTimeoutMS  int    `yaml:"idle_timeout_ms"`
	MaxBodyBytes   int64  `yaml:"max_body_bytes"`
}

type Observability struct {
	LogLevel       string `yaml:"log_level"`       // "debug","info","warn","error"
	PrometheusPath string `yaml:"prometheus_path"` // e.g. "/metrics"
}

type Redis struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	TimeoutMS int    `yaml:"timeout_ms"` // per-increment attempt budget
}

type Fallback struct {
	Path             string `yaml:"path"` // DuckDB file; empty = in-memory
	JanitorEverySec  int    `yaml:"janitor_every_sec"`
}

// PlanLimits are denominated in weighted units per window. 0 disables the
// window (always allowed, nothing counted).
type PlanLimits struct {
	RequestsPerMinute int64 `yaml:"requests_per_minute"`
	RequestsPerHour   int64 `yaml:"requests_per_hour"`
	RequestsPerDay    int64 `yaml:"requests_per_day"`
}

// OverrideRule swaps in route-specific limits; rules are matched in file
// order, first match wins.
type OverrideRule struct {
	PathPrefix string `yaml:"path_prefix"`
	Limits     PlanLimits `yaml:"limits"`
}

type Limits struct {
	// IdentifierMode selects what gets throttled: "api_key" or "ip".
	IdentifierMode   string                `yaml:"identifier_mode"`
	TrustedProxyHops int                   `yaml:"trusted_proxy_hops"`
	Weight           int64                 `yaml:"weight"`
	DefaultPlan      string                `yaml:"default_plan"`
	Plans            map[string]PlanLimits `yaml:"plans"`
	Overrides        []OverrideRule        `yaml:"overrides"`
	Message          string                `yaml:"message"`
}

type APIKey struct {
	ID       string            `yaml:"id"`
	Secret   string            `yaml:"secret"`
	Plan     string            `yaml:"plan"`
	Metadata map[string]string `yaml:"metadata"`
}

type Auth struct {
	Header string   `yaml:"header"`
	Keys   []APIKey `yaml:"keys"`
}

type Routes struct {
	ID    string `yaml:"id"`
	Match struct {
		PathPrefix string   `yaml:"path_prefix"`
		Methods    []string `yaml:"methods"`
	} `yaml:"match"`

	Upstream struct {
		URL       string `yaml:"url"`
		TimeoutMS int    `yaml:"timeout_ms"`
	} `yaml:"upstream"`
}

type Root struct {
	Server        Server        `yaml:"server"`
	Observability Observability `yaml:"observability"`
	Redis         Redis         `yaml:"redis"`
	Fallback      Fallback      `yaml:"fallback"`
	Auth          Auth          `yaml:"auth"`
	Limits        Limits        `yaml:"limits"`
	Routes        []Routes      `yaml:"routes"`
}

func (s Server) ReadTimeout() time.Duration {
	if s.ReadTimeoutMS == 0 {
		return 5 * time.Second
	}
	return time.Duration(s.ReadTimeoutMS) * time.Millisecond
}

func (s Server) WriteTimeout() time.Duration {
	if s.WriteTimeoutMS == 0 {
		return 10 * time.Second
	}
	return time.Duration(s.WriteTimeoutMS) * time.Millisecond
}

func (s Server) IdleTimeout() time.Duration {
	if s.IdleTimeoutMS == 0 {
		return 60 * time.Second
	}
	return time.Duration(s.IdleTimeoutMS) * time.Millisecond
}

func (s Server) MaxBody() int64 {
	if s.MaxBodyBytes == 0 {
		return 10 << 20
	}
	return s.MaxBodyBytes
} // default 10MB

func (r Redis) Timeout() time.Duration {
	if r.TimeoutMS <= 0 {
		return 250 * time.Millisecond
	}
	return time.Duration(r.TimeoutMS) * time.Millisecond
}

func (f Fallback) JanitorEvery() time.Duration {
	if f.JanitorEverySec <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(f.JanitorEverySec) * time.Second
}

func Load(path string) (*Root, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Root
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, err
	}
	for i := range cfg.Routes {
		if cfg.Routes[i].Upstream.TimeoutMS <= 0 {
			cfg.Routes[i].Upstream.TimeoutMS = 3000
		}
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Observability.LogLevel == "" {
		cfg.Observability.LogLevel = "info"
	}
	if cfg.Observability.PrometheusPath == "" {
		cfg.Observability.PrometheusPath = "/metrics"
	}
	if cfg.Redis.Addr == "" {
		cfg.Redis.Addr = "localhost:6379"
	}
	if cfg.Auth.Header == "" {
		cfg.Auth.Header = "X-API-Key"
	}
	if cfg.Limits.IdentifierMode == "" {
		cfg.Limits.IdentifierMode = "api_key"
	}
	if cfg.Limits.Weight <= 0 {
		cfg.Limits.Weight = 1
	}
	if len(cfg.Limits.Plans) == 0 {
		cfg.Limits.Plans = map[string]PlanLimits{
			"default": {RequestsPerMinute: 60, RequestsPerHour: 1000},
		}
	}
	if cfg.Limits.DefaultPlan == "" {
		cfg.Limits.DefaultPlan = "default"
	}
	if _, ok := cfg.Limits.Plans[cfg.Limits.DefaultPlan]; !ok {
		return nil, fmt.Errorf("default_plan %q not defined under limits.plans", cfg.Limits.DefaultPlan)
	}
	for _, k := range cfg.Auth.Keys {
		if k.Plan == "" {
			continue
		}
		if _, ok := cfg.Limits.Plans[k.Plan]; !ok {
			return nil, fmt.Errorf("api key %q references unknown plan %q", k.ID, k.Plan)
		}
	}

	return &cfg, nil
}
