package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/avolkov/storefront/internal/api"
	"github.com/avolkov/storefront/internal/auth"
	"github.com/avolkov/storefront/internal/backend"
	"github.com/avolkov/storefront/internal/domain/checkout"
	"github.com/avolkov/storefront/internal/domain/product"
	"github.com/avolkov/storefront/internal/session"
	"github.com/avolkov/storefront/internal/storage/postgres"
	redisstore "github.com/avolkov/storefront/internal/storage/redis"
	"github.com/avolkov/storefront/pkg/health"
	"github.com/avolkov/storefront/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// PostgreSQL pool + migrations for the product catalog.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	// Health check service.
	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, func(ctx context.Context) error {
		return pool.Ping(ctx)
	})
	healthSvc.AddReadinessCheck("order-api", 5*time.Second,
		health.HTTPGetCheck(nil, cfg.OrderAPIURL))
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))

	// Cart persistence. Optional: without redis carts live only as long as
	// the process.
	var cartStorage session.CartStorage
	if cfg.RedisURL != "" {
		rdb, err := redisstore.NewClient(ctx, cfg.RedisURL)
		if err != nil {
			return errors.Wrap(err, "create redis client")
		}
		defer rdb.Close()

		healthSvc.AddReadinessCheck("redis", 5*time.Second, func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		})
		cartStorage = redisstore.NewCarts(rdb, cfg.Session.CartTTL)
	} else {
		lg.Warn("No redis URL configured, carts will not survive restarts")
	}

	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// Catalog repository with a read cache for browsing.
	productRepo := product.NewCachedRepository(
		postgres.NewProductRepository(pool),
		cfg.Catalog.CacheTTL,
	)

	// Upstream capabilities: order submission and the auth gate.
	ordersClient := backend.NewOrdersClient(cfg.OrderAPIURL)
	gate := auth.NewJWTGate([]byte(cfg.AuthSecret))

	// Per-session cart + checkout ownership.
	sessions := session.NewManager(cartStorage, productRepo, ordersClient, checkout.Options{
		PaymentMethod: cfg.Checkout.PaymentMethod,
		SubmitTimeout: cfg.Checkout.SubmitTimeout,
		GraceDelay:    cfg.Checkout.GraceDelay,
	}, lg.Named("session"))
	go sessions.RunJanitor(ctx, cfg.Session.JanitorInterval, cfg.Session.IdleTimeout)

	// HTTP handlers.
	h := api.NewHandler(
		api.Config{ImageBaseURL: cfg.ImageBaseURL},
		productRepo,
		sessions,
		gate,
	)

	// Mux: health endpoints + API routes on one server.
	mux := http.NewServeMux()
	mux.HandleFunc("/livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("/readyz", healthSvc.ReadyEndpoint)
	mux.Handle("/api/", h.Routes())

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(mux,
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", "Authorization"},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
				Max:    cfg.RateLimit.Max,
				Window: cfg.RateLimit.Window,
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Instrument("storefront-api", m),
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
