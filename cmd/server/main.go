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
	"github.com/redis/go-redis/v9"

	"github.com/nichotieno/vspt/internal/account"
	"github.com/nichotieno/vspt/internal/config"
	"github.com/nichotieno/vspt/internal/metrics"
	"github.com/nichotieno/vspt/internal/quote"
	"github.com/nichotieno/vspt/internal/store"
	"github.com/nichotieno/vspt/internal/trade"
	"github.com/nichotieno/vspt/internal/valuation"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("configuration error", "err", err)
		os.Exit(1)
	}

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if cfg.DB.URL != "" {
		pool, err := store.NewPool(context.Background(), cfg.DB.URL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")
	} else {
		slog.Warn("DB_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Quote source ---
	var provider quote.Provider
	if cfg.Finnhub.APIKey != "" {
		provider = quote.NewClient(cfg.Finnhub.APIKey)
		slog.Info("live market data enabled")
	} else {
		slog.Warn("FINNHUB_API_KEY not set, serving mock market data")
		provider = quote.NewMockProvider()
	}

	// Wrap with Redis read-through quote cache if configured.
	if cfg.Redis.URL != "" {
		opt, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			slog.Error("invalid REDIS_URL", "err", err)
			os.Exit(1)
		}
		rdb := redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
		provider = quote.NewCachedProvider(provider, rdb, cfg.Redis.QuoteTTL)
		slog.Info("Redis quote cache enabled", "ttl", cfg.Redis.QuoteTTL)
	}

	// --- WebSocket hub ---
	wsHub := trade.NewWSHub()
	go wsHub.Run()

	// --- Services ---
	recorder := valuation.NewRecorder(st, provider)
	tradeSvc := trade.NewService(st, recorder, wsHub)
	accountSvc := account.NewService(st)
	quoteHandlers := quote.NewHandlers(provider)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// CORS middleware for frontend cross-origin requests.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"vspt"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for real-time trade updates.
		r.Get("/ws", wsHub.HandleWS)

		// Accounts.
		r.Post("/signup", accountSvc.Signup)
		r.Post("/login", accountSvc.Login)
		r.Get("/accounts/{userID}", tradeSvc.GetAccountState)
		r.Put("/accounts/{userID}/profile", tradeSvc.UpdateProfile)

		// Trade execution.
		r.Post("/trade", tradeSvc.ExecuteTrade)

		// Watchlist.
		r.Post("/watchlist/toggle", tradeSvc.ToggleWatchlistHandler)

		// Market data passthrough.
		r.Get("/quotes/{ticker}", quoteHandlers.GetQuote)
		r.Get("/quotes/{ticker}/candles", quoteHandlers.GetCandles)
		r.Get("/quotes/{ticker}/news", quoteHandlers.GetCompanyNews)
		r.Get("/symbols", quoteHandlers.SearchSymbols)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("vspt listening", "port", cfg.App.Port, "env", cfg.App.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down vspt...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("vspt stopped")
}
