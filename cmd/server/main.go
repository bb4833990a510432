package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/pennybid/bid-engine/internal/auth"
	"github.com/pennybid/bid-engine/internal/bidding"
	"github.com/pennybid/bid-engine/internal/config"
	"github.com/pennybid/bid-engine/internal/events"
	"github.com/pennybid/bid-engine/internal/gateway"
	"github.com/pennybid/bid-engine/internal/loyalty"
	"github.com/pennybid/bid-engine/internal/metrics"
	mw "github.com/pennybid/bid-engine/internal/middleware"
	"github.com/pennybid/bid-engine/internal/model"
	"github.com/pennybid/bid-engine/internal/store"
	"github.com/pennybid/bid-engine/internal/wallet"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}

	// Money goes over the wire as JSON numbers.
	decimal.MarshalJSONWithoutQuotes = true

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var cleanup []func()
	defer func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}()

	// --- Redis (cache + rate limit) ---
	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			slog.Error("invalid REDIS_URL", "err", err)
			os.Exit(1)
		}
		rdb = redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
	}

	// --- Initialize store ---
	var st store.Store
	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		if rdb != nil {
			st = store.NewCachedStore(st, rdb, cfg.CacheTTL)
			slog.Info("Redis cache enabled", "ttl", cfg.CacheTTL)
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		ms := store.NewMemoryStore()
		if cfg.IsDevelopment() {
			seedDemo(ctx, ms)
		}
		st = ms
	}

	// --- Event fan-out ---
	wsHub := events.NewWSHub()
	go wsHub.Run(ctx)
	publishers := events.Multi{wsHub}

	if cfg.AMQPURL != "" {
		amqpPub, err := events.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			slog.Error("RabbitMQ connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, func() { amqpPub.Close() })
		publishers = append(publishers, amqpPub)
		slog.Info("publishing events to RabbitMQ", "exchange", cfg.AMQPExchange)
	}

	// --- Services ---
	tiers, err := loyalty.NewCalculator(cfg.LoyaltyNoble, cfg.LoyaltyMonarch)
	if err != nil {
		slog.Error("invalid loyalty thresholds", "err", err)
		os.Exit(1)
	}

	engine := bidding.NewEngine(st, bidding.Config{
		BidCost:        cfg.BidCost,
		BidStep:        cfg.BidStep,
		CountdownReset: cfg.CountdownReset,
	}, publishers)

	walletSvc := wallet.NewService(st, wallet.Config{
		MinTopUp: cfg.TopUpMinAmount,
		Currency: cfg.TopUpCurrency,
		PublicID: cfg.PaymentPublicID,
	}, tiers, publishers)

	signer := gateway.NewSigner(cfg.PaymentAPISecret)
	if !signer.Enabled() {
		slog.Warn("PAYMENT_API_SECRET not set, payment callbacks are not authenticated")
	}
	walletHandlers := wallet.NewHandlers(walletSvc, signer)

	authSvc := auth.NewService(cfg.JWTSecret)

	bidLimit := func(next http.Handler) http.Handler { return next }
	if rdb != nil {
		bidLimit = mw.RateLimit(mw.NewRedisCounter(rdb), cfg.BidRateLimit, cfg.BidRateWindow)
	}

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metrics.Middleware)
	r.Use(mw.CORS)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"bid-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket feed of committed bids; no timeout on long-lived conns.
		r.Get("/ws", wsHub.HandleWS)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))

			// Payment gateway notifications, authenticated by signature.
			r.Post("/wallet/callback", walletHandlers.Callback)

			r.Group(func(r chi.Router) {
				r.Use(auth.Middleware(authSvc))

				r.With(bidLimit).Post("/bid", engine.HandleBid)

				r.Post("/wallet/topup", walletHandlers.TopUp)
				r.Get("/wallet/balance", walletHandlers.Balance)
				r.Get("/wallet/transactions", walletHandlers.Transactions)
			})
		})
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 35 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("bid-engine listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down bid-engine...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("bid-engine stopped")
}

// seedDemo creates one auction and one funded wallet so a local in-memory
// run can take bids straight away.
func seedDemo(ctx context.Context, ms *store.MemoryStore) {
	now := time.Now().UTC()
	if err := ms.CreateAuction(ctx, &model.Auction{
		ID:               "demo-auction",
		Title:            "Demo item",
		CurrentPrice:     decimal.NewFromInt(1000),
		MinPriceLimit:    decimal.NewFromInt(1200),
		Status:           model.AuctionActive,
		CountdownSeconds: 10,
		CreatedAt:        now,
	}); err != nil {
		slog.Warn("demo seed failed", "err", err)
		return
	}
	if err := ms.CreateWallet(ctx, &model.Wallet{
		ID:        "demo-bidder",
		Email:     "demo@example.com",
		Balance:   decimal.NewFromInt(1000),
		CreatedAt: now,
	}); err != nil {
		slog.Warn("demo seed failed", "err", err)
		return
	}
	slog.Info("seeded demo data", "auction", "demo-auction", "bidder", "demo-bidder")
}
