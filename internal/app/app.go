// Package app wires configuration, storage, messaging, and HTTP into runnable
// services: the order API and the two event workers.
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/clevy11/bytebites-orders/internal/auth"
	"github.com/clevy11/bytebites-orders/internal/domain/order"
	"github.com/clevy11/bytebites-orders/internal/eventbus"
	"github.com/clevy11/bytebites-orders/internal/handler"
	"github.com/clevy11/bytebites-orders/internal/resilience"
	"github.com/clevy11/bytebites-orders/internal/storage/postgres"
	"github.com/clevy11/bytebites-orders/pkg/health"
	"github.com/clevy11/bytebites-orders/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the API service.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	if err := cfg.ValidateAPI(); err != nil {
		return err
	}
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

	// RabbitMQ connection; topology is declared on connect.
	bus, err := eventbus.ConnectRabbit(ctx, cfg.AMQPURL)
	if err != nil {
		return errors.Wrap(err, "connect rabbitmq")
	}
	defer bus.Close()

	// Health check service.
	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck("postgres", pool))
	healthSvc.AddReadinessCheck("rabbitmq", 5*time.Second, func(context.Context) error {
		return bus.Ping()
	})
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// Repositories.
	userRepo := postgres.NewUserRepository(pool)
	orderRepo := postgres.NewOrderRepository(pool)

	// Auth: token codec + account service.
	codec := auth.NewCodec([]byte(cfg.JWTSecret))
	authService := auth.NewService(userRepo, codec, cfg.TokenTTL)

	// Order submission behind the resilience policy.
	breaker := resilience.NewBreaker(resilience.BreakerConfig{
		Window:       cfg.Breaker.Window,
		Cooldown:     cfg.Breaker.Cooldown,
		FailureRatio: cfg.Breaker.FailureRatio,
		MinCalls:     cfg.Breaker.MinCalls,
	})
	submitter := order.NewSubmitter(orderRepo, bus, breaker, resilience.RetryConfig{
		MaxAttempts:       cfg.Retry.MaxAttempts,
		InitialInterval:   cfg.Retry.InitialInterval,
		MaxInterval:       cfg.Retry.MaxInterval,
		PerAttemptTimeout: cfg.Retry.PerAttemptTimeout,
	})

	// HTTP surface.
	h := handler.NewHandler(authService, orderRepo, submitter)
	router := handler.NewRouter(h, codec, healthSvc)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(
			otelhttp.NewHandler(router, "bytebites-api",
				otelhttp.WithTracerProvider(m.TracerProvider()),
				otelhttp.WithMeterProvider(m.MeterProvider()),
			),
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", "Authorization"},
				AllowCredentials: cfg.CORS.AllowCredentials,
			}),
			httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
				Max:    cfg.RateLimit.Max,
				Window: cfg.RateLimit.Window,
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.LogRequests(),
		),
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
