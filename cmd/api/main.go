package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"

	"github.com/brandforge/api/config"
	"github.com/brandforge/api/internal/admission"
	"github.com/brandforge/api/internal/api"
	"github.com/brandforge/api/internal/auth"
	"github.com/brandforge/api/internal/events"
	"github.com/brandforge/api/internal/plan"
	"github.com/brandforge/api/internal/seeder"
	"github.com/brandforge/api/internal/studio"
	"github.com/brandforge/api/internal/telemetry"
	"github.com/brandforge/api/pkg/ratelimit"
)

func main() {
	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// 2. Init telemetry
	shutdownTracer, err := telemetry.InitTracer("brandforge-api", cfg)
	if err != nil {
		log.Fatalf("failed to init tracer: %v", err)
	}
	defer shutdownTracer()

	// 3. Connect PostgreSQL
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("failed to connect postgres: %v", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		log.Fatalf("failed to ping postgres: %v", err)
	}
	log.Println("PostgreSQL connected")

	// 4. Connect Redis
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()

	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatalf("failed to ping redis: %v", err)
	}
	log.Println("Redis connected")

	// 5. Stores
	planStore := plan.NewPostgresStore(pool)
	authStore := auth.NewPostgresStore(pool)
	authMiddleware := auth.NewMiddleware(authStore, planStore, rdb)

	// 6. Window store, picked here once; business code only sees the interface
	var windowStore ratelimit.Store
	if cfg.WindowStoreBackend == "memory" {
		memStore := ratelimit.NewMemoryStore()
		stopJanitor := memStore.StartJanitor(time.Minute)
		defer stopJanitor()
		windowStore = memStore
		log.Println("Window store: in-memory")
	} else {
		windowStore = ratelimit.NewBreakerStore(ratelimit.NewRedisStore(rdb))
		log.Println("Window store: redis")
	}

	// 7. Policies and plan quota table (built-in defaults + policy file)
	registry := ratelimit.NewRegistry()
	limits := admission.DefaultPlanLimits()
	if cfg.Policies != nil {
		for name, entry := range cfg.Policies.Policies {
			registry.SetPolicy(ratelimit.Category(name), ratelimit.Policy{
				Points: entry.Points,
				Window: time.Duration(entry.Window) * time.Second,
				Block:  time.Duration(entry.Block) * time.Second,
			})
		}
		for planName, metrics := range cfg.Policies.Plans {
			if limits[planName] == nil {
				limits[planName] = make(map[string]int64)
			}
			for metric, ceiling := range metrics {
				limits[planName][metric] = ceiling
			}
		}
	}

	// 8. Admission layer
	limiter := ratelimit.NewLimiter(windowStore, cfg.StoreTimeout)
	dispatcher := events.NewDispatcher(planStore, 256)
	defer dispatcher.Close()
	metrics := admission.NewMetrics(prometheus.DefaultRegisterer)
	quota := admission.NewQuotaEnforcer(planStore, dispatcher, limits)
	tracer := otel.GetTracerProvider().Tracer("brandforge-api")
	guard := admission.NewGuard(registry, limiter, quota, metrics, tracer, cfg.UpgradeURL)

	// 9. Business handlers (generation is mock until the AI pipeline lands)
	studioSvc := studio.NewService(&studio.MockGenerator{}, planStore)
	handler := api.NewHandler(studioSvc, planStore, limits)

	// 10. Seed test API key if RUN_SEED=true
	if os.Getenv("RUN_SEED") == "true" {
		seeder.SeedTestAPIKey(ctx, authStore)
	}

	// 11. Router
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)

	// Public routes
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok","service":"brandforge-api"}`))
	})
	r.Handle("/metrics", promhttp.Handler())

	// Unauthenticated but rate limited per network origin. The handlers
	// are placeholders; session mechanics live elsewhere.
	r.Group(func(r chi.Router) {
		r.With(guard.Protect(ratelimit.CategoryAuth)).
			Post("/v1/auth/login", notImplemented)
		r.With(guard.Protect(ratelimit.CategoryRegistration)).
			Post("/v1/auth/register", notImplemented)
		r.With(guard.Protect(ratelimit.CategoryPasswordReset)).
			Post("/v1/auth/password-reset", notImplemented)
	})

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware)
		r.With(guard.Protect(ratelimit.CategoryGeneral, admission.WithQuotaMetric(studio.MetricAITokens))).
			Post("/v1/generate", handler.HandleGenerate)
		r.With(guard.Protect(ratelimit.CategoryAnalysis)).
			Post("/v1/analyze", handler.HandleAnalyze)
		r.With(guard.Protect(ratelimit.CategoryBatch)).
			Post("/v1/batch", handler.HandleBatch)
		r.With(guard.Protect(ratelimit.CategoryGeneral, admission.WithBypass(internalBypass(cfg.AdminToken)))).
			Get("/v1/usage", handler.HandleUsage)
	})

	// Admin routes, token gated
	r.Route("/v1/admin", func(r chi.Router) {
		r.Use(adminOnly(cfg.AdminToken))
		r.Put("/tenants/{id}/override", func(w http.ResponseWriter, r *http.Request) {
			handler.HandleSetOverride(w, r, chi.URLParam(r, "id"))
		})
		r.Post("/tenants/{id}/usage/reset", func(w http.ResponseWriter, r *http.Request) {
			handler.HandleResetUsage(w, r, chi.URLParam(r, "id"))
		})
	})

	// 12. Graceful shutdown
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 90 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("brandforge API starting on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-quit
	log.Println("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("forced shutdown: %v", err)
	}
	log.Println("Server stopped")
}

func notImplemented(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusNotImplemented)
	_, _ = w.Write([]byte(`{"error":"not implemented"}`))
}

// internalBypass lets trusted internal callers skip rate limiting by
// presenting the admin token. An empty configured token never matches.
func internalBypass(token string) admission.BypassPredicate {
	return func(r *http.Request) (bool, error) {
		if token == "" {
			return false, nil
		}
		return r.Header.Get("X-Internal-Token") == token, nil
	}
}

func adminOnly(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" || r.Header.Get("X-Admin-Token") != token {
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
