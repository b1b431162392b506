package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/noah-isme/toko-checkout/internal/app"
	"github.com/noah-isme/toko-checkout/internal/config"
	"github.com/noah-isme/toko-checkout/internal/events"
	"github.com/noah-isme/toko-checkout/internal/notify"
	"github.com/noah-isme/toko-checkout/internal/obs"
	"github.com/noah-isme/toko-checkout/internal/resilience"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := obs.NewLogger(cfg.LogFormat, cfg.LogLevel).With().Str("component", "worker").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opt, err := app.TaskRedisOpt(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}

	srv := asynq.NewServer(opt, asynq.Config{
		Concurrency:     cfg.WorkerConcurrency,
		Queues:          map[string]int{events.TaskQueue: 1},
		ShutdownTimeout: cfg.ShutdownTimeout,
		Logger:          taskLogger{logger},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			retried, _ := asynq.GetRetryCount(ctx)
			maxRetry, _ := asynq.GetMaxRetry(ctx)
			logger.Error().Err(err).
				Str("task", task.Type()).
				Int("retry", retried).
				Int("max_retry", maxRetry).
				Msg("task failed")
		}),
	})

	mux := events.NewTaskMux(logMailer{logger}, logger)
	if cfg.OrderWebhookURL != "" {
		rdb, err := app.NewRedis(ctx, cfg.RedisURL, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("connect redis")
		}
		defer func() { _ = rdb.Close() }()
		breaker := resilience.NewBreaker(cfg.CircuitProviderMinReq, cfg.CircuitProviderFailureRate, cfg.CircuitProviderOpenFor).
			WithTarget("webhook").WithLogger(logger)
		mux.Handle(events.TaskWebhookDelivery, notify.Webhook{
			URL:       cfg.OrderWebhookURL,
			Secret:    cfg.OrderWebhookSecret,
			Client:    resilience.NewHTTPClient("webhook", cfg.WebhookTimeout, breaker),
			Replay:    notify.RedisReplayProtector{Client: rdb},
			ReplayTTL: cfg.WebhookReplayTTL,
			Logger:    logger,
		})
		logger.Info().Msg("order webhook delivery enabled")
	}

	if err := srv.Start(mux); err != nil {
		logger.Fatal().Err(err).Msg("worker start")
	}
	logger.Info().Int("concurrency", cfg.WorkerConcurrency).Msg("worker started")

	<-ctx.Done()
	srv.Shutdown()
	logger.Info().Msg("worker shutdown complete")
}
