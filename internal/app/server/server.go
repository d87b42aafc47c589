package server

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"appraisal/internal/domain/audit"
	"appraisal/internal/domain/auth"
	"appraisal/internal/domain/directory"
	"appraisal/internal/domain/evaluation"
	"appraisal/internal/domain/reports"
	"appraisal/internal/platform/config"
	"appraisal/internal/platform/db"
	adminhandler "appraisal/internal/transport/http/handlers/admin"
	audithandler "appraisal/internal/transport/http/handlers/audit"
	authhandler "appraisal/internal/transport/http/handlers/auth"
	evaluationhandler "appraisal/internal/transport/http/handlers/evaluation"
	reportshandler "appraisal/internal/transport/http/handlers/reports"
	"appraisal/internal/transport/http/middleware"
)

func Run() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config invalid: %v", err)
	}
	if cfg.JWTSecret == "" {
		log.Fatal("JWT_SECRET is required")
	}

	ctx := context.Background()
	pool, err := db.Connect(ctx, cfg)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer pool.Close()

	if cfg.RunMigrations {
		if err := db.Migrate(ctx, pool, "migrations"); err != nil {
			log.Fatalf("migrations failed: %v", err)
		}
	}
	if cfg.RunSeed {
		if err := db.Seed(ctx, pool, cfg); err != nil {
			log.Fatalf("seed failed: %v", err)
		}
	}

	router := NewRouter(cfg, pool)

	slog.Info("server listening", "addr", cfg.Addr, "env", cfg.Environment)
	if err := http.ListenAndServe(cfg.Addr, router); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}

// NewRouter wires the domain services onto the HTTP surface.
func NewRouter(cfg config.Config, pool *pgxpool.Pool) http.Handler {
	authStore := auth.NewStore(pool)
	dirService := directory.NewService(directory.NewStore(pool))
	evalService := evaluation.NewService(evaluation.NewStore(pool), cfg.AutosaveDebounce)
	auditService := audit.New(pool)
	reportService := reports.NewService(evalService, dirService)
	idemStore := middleware.NewIdempotencyStore(pool)
	isProd := cfg.Environment == "production"

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(middleware.SecureHeaders(isProd))
	router.Use(middleware.BodyLimit(cfg.MaxBodyBytes))
	router.Use(middleware.Auth(cfg.JWTSecret, authStore))
	router.Use(middleware.SensitiveMutationRateLimit(cfg.RateLimitPerMin, time.Minute))

	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	router.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := pool.Ping(ctx); err != nil {
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	router.Route("/api/v1", func(r chi.Router) {
		authhandler.NewHandler(authStore, cfg.JWTSecret, cfg.SessionTTL).RegisterRoutes(r)
		evaluationhandler.NewHandler(evalService, dirService, authStore, auditService, idemStore).RegisterRoutes(r)
		adminhandler.NewHandler(evalService, dirService, authStore, auditService).RegisterRoutes(r)
		reportshandler.NewHandler(reportService, dirService, authStore, cfg.ReportDir).RegisterRoutes(r)
		audithandler.NewHandler(auditService, authStore).RegisterRoutes(r)
	})

	router.Mount("/", spaHandler{staticPath: cfg.FrontendDir, indexPath: "index.html"})

	return router
}

type spaHandler struct {
	staticPath string
	indexPath  string
}

func (h spaHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}

	path := filepath.Join(h.staticPath, r.URL.Path)
	_, err := os.Stat(path)
	if err == nil {
		http.FileServer(http.Dir(h.staticPath)).ServeHTTP(w, r)
		return
	}

	if os.IsNotExist(err) {
		http.ServeFile(w, r, filepath.Join(h.staticPath, h.indexPath))
		return
	}

	http.NotFound(w, r)
}
