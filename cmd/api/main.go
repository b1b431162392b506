package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-checkout/internal/app"
	"github.com/noah-isme/toko-checkout/internal/checkout"
	"github.com/noah-isme/toko-checkout/internal/common"
	"github.com/noah-isme/toko-checkout/internal/config"
	"github.com/noah-isme/toko-checkout/internal/health"
	"github.com/noah-isme/toko-checkout/internal/obs"
	"github.com/noah-isme/toko-checkout/internal/order"
	"github.com/noah-isme/toko-checkout/internal/ratelimit"
	"github.com/noah-isme/toko-checkout/internal/security"
	"github.com/noah-isme/toko-checkout/internal/session"
	"github.com/noah-isme/toko-checkout/internal/status"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel).With().Str("env", cfg.AppEnv).Logger()
	obs.MustRegisterDomainMetrics(cfg.MetricsNamespace, nil)

	shutdownTracer, err := obs.InitTracer(context.Background(), obs.TracingConfig{
		ServiceName:   "toko-checkout",
		Endpoint:      cfg.TracingEndpoint,
		Exporter:      cfg.TracingExporter,
		SamplingRatio: cfg.TracingSampleRatio,
		Environment:   cfg.AppEnv,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise tracing")
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Error().Err(err).Msg("shutdown tracer")
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	startCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	deps, err := app.Build(startCtx, cfg, logger)
	cancel()
	if err != nil {
		logger.Fatal().Err(err).Msg("initialise dependencies")
	}
	defer func() {
		if err := deps.Close(); err != nil {
			logger.Error().Err(err).Msg("close dependencies")
		}
	}()

	handler, err := newRouter(cfg, deps, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("build router")
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Strs("methods", methodNames(deps)).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Fatal().Err(err).Msg("server exited unexpectedly")
		}
	case <-ctx.Done():
	}

	// stop advertising readiness first so the balancer drains us
	health.SetReady(false)
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown")
	}
	logger.Info().Msg("server stopped")
}

func newRouter(cfg *config.Config, deps *app.Dependencies, logger zerolog.Logger) (http.Handler, error) {
	sessions := session.NewStore(deps.Redis, cfg.SessionTTL)
	lifecycle := &checkout.Lifecycle{
		Orders:   deps.Orders,
		Sessions: sessions,
		Events:   deps.Events,
		Currency: cfg.Currency,
		Logger:   logger.With().Str("component", "lifecycle").Logger(),
	}
	svc := &checkout.Service{
		Adapters:  deps.Adapters,
		Sessions:  sessions,
		Orders:    deps.Orders,
		Lifecycle: lifecycle,
		Events:    deps.Events,
		Logger:    logger.With().Str("component", "checkout").Logger(),
		Timeout:   cfg.ProviderTimeout,
	}
	checkoutHandler := &checkout.Handler{Svc: svc, StatusBase: status.DefaultPath, Logger: logger}

	checkoutLimit, err := ratelimit.NewFixed(deps.Redis, "ratelimit:checkout", cfg.RateLimitCheckout)
	if err != nil {
		return nil, err
	}
	adminRate, err := ratelimit.ParseRate(cfg.RateLimitAdmin)
	if err != nil {
		return nil, err
	}
	onLimitErr := func(err error) { logger.Warn().Err(err).Msg("rate limiter unavailable") }
	checkoutGuard := ratelimit.Handler{Limiter: checkoutLimit, Key: ratelimit.BySession, OnError: onLimitErr}
	adminGuard := ratelimit.Handler{
		Limiter: ratelimit.Sliding{Client: deps.Redis, Prefix: "ratelimit:admin:", Rate: adminRate},
		Key:     ratelimit.ByClientIP,
		OnError: onLimitErr,
	}
	idem := common.Idem{R: deps.Redis, TTL: cfg.IdempotencyTTL, Scope: sessionScope}

	httpMetrics := obs.NewHTTPMetrics(cfg.MetricsNamespace, nil)
	healthHandler := health.Handler{Probes: []health.Probe{
		{Name: "store", Pinger: deps.Orders, Timeout: 500 * time.Millisecond},
		{Name: "redis", Pinger: sessions, Timeout: 300 * time.Millisecond},
	}}
	requestLog := obs.RequestLogger{Logger: logger}.Middleware

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(obs.Tracing)
	r.Use(httpMetrics.Middleware)
	r.Use(security.CORS(cfg.CORSAllowedOrigins))
	r.Use(security.Headers{HSTSMaxAge: hstsMaxAge(cfg.AppEnv)}.Middleware)
	r.Use(security.BodyLimit{Max: cfg.MaxBodyBytes}.Middleware)

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/health/live", healthHandler.Live)
	r.Get("/health/ready", healthHandler.Ready)

	r.Group(func(c chi.Router) {
		c.Use(session.Cookie{Name: cfg.SessionCookieName, Secure: cfg.SessionCookieSecure, MaxAge: cfg.SessionTTL}.Middleware)
		c.Use(requestLog)
		checkoutHandler.Routes(c, checkoutGuard.Middleware, idem.Middleware)
	})

	r.Route("/api/v1", func(v chi.Router) {
		v.Use(requestLog)
		v.Get("/orders/{id}", (&order.Handler{Store: deps.Orders}).Get)
		v.Route("/admin", func(admin chi.Router) {
			admin.Use(adminGuard.Middleware)
			admin.Use(security.AdminToken{Token: cfg.AdminToken}.Middleware)
			admin.Patch("/orders/{id}/status", (&order.AdminHandler{Store: deps.Orders}).PatchStatus)
		})
	})
	return r, nil
}

func hstsMaxAge(env string) time.Duration {
	if env == "production" {
		return 365 * 24 * time.Hour
	}
	return 0
}

func sessionScope(r *http.Request) string {
	id, _ := session.ID(r.Context())
	return id
}

func methodNames(deps *app.Dependencies) []string {
	methods := deps.Adapters.Methods()
	out := make([]string, 0, len(methods))
	for _, m := range methods {
		out = append(out, m.String())
	}
	return out
}
