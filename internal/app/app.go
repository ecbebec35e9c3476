package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/oolio-discounts/internal/domain/order"
	"github.com/xenking/oolio-discounts/internal/handler"
	"github.com/xenking/oolio-discounts/internal/storage/postgres"
	"github.com/xenking/oolio-discounts/internal/storage/rediscache"
	"github.com/xenking/oolio-discounts/pkg/health"
	"github.com/xenking/oolio-discounts/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(pool))
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))

	// Redis rule cache, optional.
	rdb, err := newRedis(cfg.RedisURL, m)
	if err != nil {
		return errors.Wrap(err, "create redis client")
	}
	if rdb != nil {
		defer func() {
			if err := rdb.Close(); err != nil {
				lg.Error("Close redis", zap.Error(err))
			}
		}()
		healthSvc.AddReadinessCheck("redis", 2*time.Second, func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}, health.WithThresholds(3, 1))
	} else {
		lg.Info("Rule cache disabled: no redis URL")
	}

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// Repositories.
	productRepo := postgres.NewProductRepository(pool)
	discountStore := postgres.NewDiscountStore(pool)
	orderRepo := postgres.NewOrderRepository(pool)

	// Domain services.
	orderService, err := order.NewService(order.Deps{
		Products:       productRepo,
		Discounts:      rediscache.New(discountStore, rdb, cfg.RuleCache.TTL),
		Ledger:         discountStore,
		Orders:         orderRepo,
		UnitOfWork:     postgres.NewUnitOfWork(pool),
		MinCodeLength:  cfg.Coupon.MinCodeLength,
		TracerProvider: m.TracerProvider(),
		MeterProvider:  m.MeterProvider(),
	})
	if err != nil {
		return errors.Wrap(err, "create order service")
	}

	// HTTP handlers and health endpoints on one mux.
	h := handler.New(handler.Config{
		ImageBaseURL: cfg.ImageBaseURL,
		MaxBodyBytes: cfg.MaxBodyBytes,
	}, productRepo, orderService)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("GET /readyz", healthSvc.ReadyEndpoint)
	h.Register(mux)
	routeFinder := httpmiddleware.MakeRouteFinder(mux)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler:           httpmiddleware.Wrap(mux, middlewares(ctx, cfg, routeFinder, m.TracerProvider(), m.MeterProvider())...),
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}

// newRedis returns an instrumented client for url, or nil when url is empty.
func newRedis(url string, m *app.Telemetry) (*redis.Client, error) {
	if url == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, errors.Wrap(err, "parse redis url")
	}
	client := redis.NewClient(opts)
	if err := redisotel.InstrumentTracing(client, redisotel.WithTracerProvider(m.TracerProvider())); err != nil {
		return nil, errors.Wrap(err, "instrument redis tracing")
	}
	if err := redisotel.InstrumentMetrics(client, redisotel.WithMeterProvider(m.MeterProvider())); err != nil {
		return nil, errors.Wrap(err, "instrument redis metrics")
	}
	return client, nil
}

// middlewares is the request chain, outermost first. The logger goes in
// before Recovery so recovered panics are logged.
func middlewares(
	ctx context.Context,
	cfg *Config,
	find httpmiddleware.RouteFinder,
	tp trace.TracerProvider,
	mp metric.MeterProvider,
) []httpmiddleware.Middleware {
	return []httpmiddleware.Middleware{
		httpmiddleware.InjectLogger(zctx.From(ctx)),
		httpmiddleware.Recovery(),
		httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
			Default: httpmiddleware.Limit{Max: cfg.RateLimit.Max, Window: cfg.RateLimit.Window},
			Routes: map[string]httpmiddleware.Limit{
				handler.RouteValidateCoupon: {Max: cfg.RateLimit.CouponMax, Window: cfg.RateLimit.CouponWindow},
			},
			Route: find,
		}),
		httpmiddleware.RequestID(),
		httpmiddleware.Instrument("discounts-api", find, tp, mp),
		httpmiddleware.LogRequests(find),
		httpmiddleware.Labeler(find),
	}
}
