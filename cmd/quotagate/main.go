package main

import (
	"context"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"

	"github.com/quotagate/quotagate/internal/auth"
	"github.com/quotagate/quotagate/internal/config"
	"github.com/quotagate/quotagate/internal/gateway"
	"github.com/quotagate/quotagate/internal/obs"
	"github.com/quotagate/quotagate/internal/proxy"
	"github.com/quotagate/quotagate/internal/ratelimit"
	"github.com/quotagate/quotagate/internal/ratelimit/duckdb"
	redisstore "github.com/quotagate/quotagate/internal/ratelimit/redis"
	"github.com/quotagate/quotagate/internal/routing"
)

func main() {
	cfgPath := os.Getenv("QUOTAGATE_CONFIG")
	if cfgPath == "" {
		cfgPath = "./config.yaml"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := obs.SetupLogger(cfg.Observability.LogLevel)

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	reg := prometheus.NewRegistry()
	metrics := obs.NewMetrics(reg)

	// Shared counter store. A failed ping is only a warning: the fallback
	// counter keeps admission control working through a Redis outage.
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	primary := redisstore.New(rdb)
	pingCtx, pingCancel := context.WithTimeout(rootCtx, 2*time.Second)
	if err := primary.Ping(pingCtx); err != nil {
		logger.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("redis unreachable at startup")
	}
	pingCancel()

	var fallback ratelimit.CounterStore
	if fb, err := duckdb.Open(cfg.Fallback.Path); err != nil {
		logger.Warn().Err(err).Str("path", cfg.Fallback.Path).Msg("fallback store unavailable")
	} else {
		fb.StartJanitor(rootCtx, cfg.Fallback.JanitorEvery())
		fallback = fb
	}

	store := ratelimit.NewFailover(primary, fallback,
		ratelimit.WithStoreTimeout(cfg.Redis.Timeout()),
		ratelimit.WithEvents(metrics),
		ratelimit.WithLogger(logger),
	)
	defer store.Close()

	eval := ratelimit.NewEvaluator(store,
		ratelimit.WithEvaluatorEvents(metrics),
		ratelimit.WithEvaluatorLogger(logger),
	)

	// Auth + plan lookup.
	bySecret := map[string]auth.Key{}
	planByKeyID := map[string]ratelimit.Limits{}
	for _, k := range cfg.Auth.Keys {
		if k.Secret == "" || k.ID == "" {
			continue
		}
		bySecret[k.Secret] = auth.Key{ID: k.ID, Plan: k.Plan}
		if k.Plan != "" {
			planByKeyID[k.ID] = toLimits(cfg.Limits.Plans[k.Plan])
		}
	}
	authStore := auth.NewStatic(cfg.Auth.Header, bySecret)
	defaultLimits := toLimits(cfg.Limits.Plans[cfg.Limits.DefaultPlan])
	planFor := func(id string) ratelimit.Limits {
		if l, ok := planByKeyID[id]; ok {
			return l
		}
		return defaultLimits
	}

	var resolve ratelimit.Resolver
	switch cfg.Limits.IdentifierMode {
	case "ip":
		resolve = ratelimit.ClientIPResolver(cfg.Limits.TrustedProxyHops)
	default:
		resolve = ratelimit.APIKeyResolver(auth.KeyIDFrom)
	}

	var overrides ratelimit.Overrides
	for _, o := range cfg.Limits.Overrides {
		overrides = append(overrides, ratelimit.Override{
			Pattern: o.PathPrefix,
			Limits:  toLimits(o.Limits),
		})
	}

	// Routes.
	router := routing.New()
	for _, rc := range cfg.Routes {
		up, err := url.Parse(rc.Upstream.URL)
		if err != nil {
			log.Fatalf("route %s: bad upstream url: %v", rc.ID, err)
		}
		methods := map[string]struct{}{}
		for _, m := range rc.Match.Methods {
			methods[strings.ToUpper(m)] = struct{}{}
		}
		router.Add(&routing.Route{
			ID:      rc.ID,
			Methods: methods,
			Prefix:  rc.Match.PathPrefix,
			UpURL:   up,
			Timeout: time.Duration(rc.Upstream.TimeoutMS) * time.Millisecond,
		})
	}

	skip := map[string]struct{}{
		"/health":                        {},
		"/version":                       {},
		cfg.Observability.PrometheusPath: {},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	mux.HandleFunc("/version", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("v0.1.0"))
	})
	mux.Handle(cfg.Observability.PrometheusPath, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.Handle("/", proxy.Handler(proxy.NewHTTPTransport()))

	mws := []gateway.Middleware{
		obs.RequestID(),
		obs.Logger(logger),
		metrics.Middleware(skip),
		gateway.BodyLimit(int(cfg.Server.MaxBody())),
		gateway.RouteMatcher(router, skip),
	}
	// Without configured keys (pure IP limiting) the auth hop is pointless.
	if len(bySecret) > 0 {
		mws = append(mws, authStore.Middleware(skip))
	}
	mws = append(mws, gateway.RateLimit(gateway.RateLimitOptions{
		Evaluator: eval,
		Resolve:   resolve,
		Plan:      planFor,
		Overrides: overrides,
		Weight:    cfg.Limits.Weight,
		Message:   cfg.Limits.Message,
		SkipPaths: skip,
		OnLimited: func(routeID string) {
			metrics.RateLimited.WithLabelValues(routeID).Inc()
		},
	}))
	handler := gateway.Chain(mux, mws...)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout(),
		IdleTimeout:       cfg.Server.IdleTimeout(),
		ReadTimeout:       cfg.Server.ReadTimeout(),
	}

	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	rootCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
	logger.Info().Msg("bye")
}

func toLimits(p config.PlanLimits) ratelimit.Limits {
	return ratelimit.Limits{
		PerMinute: p.RequestsPerMinute,
		PerHour:   p.RequestsPerHour,
		PerDay:    p.RequestsPerDay,
	}
}
