// Package app builds the shared infrastructure both binaries run on.
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-checkout/internal/config"
	"github.com/noah-isme/toko-checkout/internal/events"
	"github.com/noah-isme/toko-checkout/internal/obs"
	"github.com/noah-isme/toko-checkout/internal/order"
	"github.com/noah-isme/toko-checkout/internal/payment"
	"github.com/noah-isme/toko-checkout/internal/resilience"
)

// Dependencies holds the long-lived clients the API process shares across
// modules. Close releases them in reverse order of creation.
type Dependencies struct {
	Redis    *redis.Client
	Orders   order.Store
	Adapters *payment.Registry
	Events   *events.Bus

	closers []func() error
}

// Build connects Redis and the order store, builds the adapters and the
// event bus. On error everything opened so far is closed.
func Build(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*Dependencies, error) {
	d := &Dependencies{}
	ok := false
	defer func() {
		if !ok {
			d.Close()
		}
	}()

	rdb, err := NewRedis(ctx, cfg.RedisURL, logger)
	if err != nil {
		return nil, err
	}
	d.Redis = rdb
	d.closers = append(d.closers, rdb.Close)

	orders, closeStore, err := OpenOrderStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	d.Orders = orders
	d.closers = append(d.closers, closeStore)

	d.Adapters = NewAdapters(cfg, logger)

	bus, closeBus, err := NewEventBus(cfg, logger)
	if err != nil {
		return nil, err
	}
	d.Events = bus
	d.closers = append(d.closers, closeBus)

	ok = true
	return d, nil
}

// Close releases every dependency, newest first.
func (d *Dependencies) Close() error {
	var errs []error
	for i := len(d.closers) - 1; i >= 0; i-- {
		if err := d.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	d.closers = nil
	return errors.Join(errs...)
}

// NewRedis parses url, instruments the client and pings it.
func NewRedis(ctx context.Context, url string, logger zerolog.Logger) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := redisotel.InstrumentTracing(client); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

// OpenOrderStore opens the store selected by STORE_DRIVER. Postgres
// migrations run before the pool is handed out.
func OpenOrderStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (order.Store, func() error, error) {
	switch cfg.StoreDriver {
	case config.DriverSQLite:
		s, err := order.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite: %w", err)
		}
		logger.Info().Str("path", cfg.SQLitePath).Msg("order store: sqlite")
		return s, s.Close, nil
	case config.DriverPostgres:
		if err := order.Migrate(cfg.DatabaseURL); err != nil {
			return nil, nil, err
		}
		poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("parse database config: %w", err)
		}
		poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
		if poolConfig.ConnConfig.RuntimeParams == nil {
			poolConfig.ConnConfig.RuntimeParams = map[string]string{}
		}
		poolConfig.ConnConfig.RuntimeParams["application_name"] = "toko-checkout"
		pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
		if err != nil {
			return nil, nil, fmt.Errorf("connect database: %w", err)
		}
		if err := pool.Ping(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("ping database: %w", err)
		}
		logger.Info().Msg("order store: postgres")
		return order.NewPGStore(pool), func() error { pool.Close(); return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unsupported store driver %q", cfg.StoreDriver)
	}
}

// NewAdapters builds one adapter per provider, each with its own breaker
// and single-attempt HTTP client.
func NewAdapters(cfg *config.Config, logger zerolog.Logger) *payment.Registry {
	breaker := func() *resilience.Breaker {
		return resilience.NewBreaker(cfg.CircuitProviderMinReq, cfg.CircuitProviderFailureRate, cfg.CircuitProviderOpenFor).
			WithLogger(logger)
	}
	paypal := payment.NewPayPal(payment.PayPalConfig{
		ClientID:     cfg.PayPal.ClientID,
		ClientSecret: cfg.PayPal.ClientSecret,
		APIBase:      cfg.PayPal.APIBase,
		ReturnURL:    cfg.URL("/paypal/success"),
		CancelURL:    cfg.URL("/paypal/cancel"),
		Currency:     cfg.Currency,
	}, resilience.NewHTTPClient("paypal", cfg.ProviderTimeout, breaker()))

	stripeCfg := payment.StripeConfig{
		SecretKey:  cfg.Stripe.SecretKey,
		APIURL:     cfg.Stripe.APIURL,
		SuccessURL: cfg.URL("/stripe/success"),
		CancelURL:  cfg.URL("/stripe/cancel"),
		Currency:   cfg.Currency,
	}
	stripe := payment.NewStripe(stripeCfg,
		payment.NewStripeSessions(stripeCfg, resilience.NewHTTPClient("stripe", cfg.ProviderTimeout, breaker())))

	vnpay := payment.NewVNPay(payment.VNPayConfig{
		TmnCode:    cfg.VNPay.TmnCode,
		HashSecret: cfg.VNPay.HashSecret,
		PayURL:     cfg.VNPay.Host,
		ReturnURL:  cfg.URL("/vnpay/return"),
		Rate:       cfg.VNPay.Rate,
	})

	googlePay := payment.NewGooglePay(payment.GooglePayConfig{
		Environment:       cfg.GooglePay.Environment,
		MerchantName:      cfg.GooglePay.MerchantName,
		MerchantID:        cfg.GooglePay.MerchantID,
		Gateway:           cfg.GooglePay.Gateway,
		GatewayMerchantID: cfg.GooglePay.GatewayMerchantID,
		Currency:          cfg.Currency,
	})

	return payment.NewRegistry(paypal, stripe, vnpay, googlePay)
}

// TaskRedisOpt returns the asynq connection for REDIS_URL.
func TaskRedisOpt(cfg *config.Config) (asynq.RedisConnOpt, error) {
	opt, err := asynq.ParseRedisURI(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse task redis url: %w", err)
	}
	return opt, nil
}

// NewEventBus publishes order events as asynq tasks and, when brokers are
// configured, to Kafka.
func NewEventBus(cfg *config.Config, logger zerolog.Logger) (*events.Bus, func() error, error) {
	opt, err := TaskRedisOpt(cfg)
	if err != nil {
		return nil, nil, err
	}
	tasks := asynq.NewClient(opt)
	bus := &events.Bus{Publishers: []events.Publisher{
		events.TaskNotifier{Client: tasks, Webhooks: cfg.OrderWebhookURL != ""},
	}}
	closers := []func() error{tasks.Close}

	if kp := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaOrderTopic); kp != nil {
		bus.Publishers = append(bus.Publishers, kp)
		closers = append(closers, kp.Close)
		logger.Info().Str("topic", cfg.KafkaOrderTopic).Msg("kafka order events enabled")
	}
	return bus, func() error {
		var errs []error
		for _, c := range closers {
			errs = append(errs, c())
		}
		return errors.Join(errs...)
	}, nil
}
