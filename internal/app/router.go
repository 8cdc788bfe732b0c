package app

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"quizbank/internal/app/observability"
	"quizbank/internal/auth"
	"quizbank/internal/etl"
	"quizbank/internal/logger"
	"quizbank/internal/question"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// App holds the HTTP router and the long-lived pieces behind it.
type App struct {
	Router   http.Handler
	Pipeline *etl.Pipeline
	Metrics  *observability.Collector

	limiter *IPRateLimiter
	log     *logger.Logger
}

// PipelineConfig maps the ETL settings onto the pipeline layout.
func PipelineConfig(cfg Config) etl.Config {
	return etl.DirsFromDataDir(cfg.ETL.DataDir, etl.Config{
		FuzzyThreshold:   cfg.ETL.FuzzyThreshold,
		SimilarityMetric: cfg.ETL.SimilarityMetric,
		HeaderAliases:    cfg.ETL.HeaderAliases,
	})
}

func New(cfg Config, db *sql.DB, log *logger.Logger) (*App, error) {
	if log == nil {
		log = logger.Nop()
	}
	metrics := observability.NewCollector(db, log)

	questionSvc := question.NewService(db)
	pipeline, err := etl.NewPipeline(PipelineConfig(cfg), questionSvc, log.With("component", "etl"),
		etl.SinkFunc(func(ev etl.Event) { metrics.RecordImportEvent(ev.Kind) }))
	if err != nil {
		return nil, fmt.Errorf("build pipeline: %w", err)
	}

	authSvc := auth.NewService(db, auth.ServiceConfig{
		SessionTTL: time.Duration(cfg.SessionTTLHours) * time.Hour,
	})
	authHandler := auth.NewHandler(authSvc, cfg.IsProduction())
	questionHandler := question.NewHandler(questionSvc)
	etlHandler := etl.NewHandler(pipeline, cfg.ETL.DefaultAuthor)
	limiter := NewIPRateLimiter(cfg.AuthRateLimitPerMin, time.Minute)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	r.Get("/metrics", metrics.MetricsHandler)

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(CSRFMiddleware(cfg.CSRFEnforced))
		api.With(RateLimitMiddleware(limiter)).Post("/auth/login", authHandler.Login)

		api.Group(func(secure chi.Router) {
			secure.Use(authHandler.RequireAuth)
			secure.Get("/auth/me", authHandler.Me)
			secure.Post("/auth/logout", authHandler.Logout)

			secure.Get("/questions", questionHandler.ListQuestions)
			secure.Get("/questions/{id}", questionHandler.GetQuestion)
			secure.Get("/categories", questionHandler.ListCategories)

			secure.Group(func(staff chi.Router) {
				staff.Use(authHandler.RequireRoles(auth.RoleTeacher, auth.RoleAdmin))
				staff.Post("/questions/{id}/archive", questionHandler.ArchiveQuestion)
				staff.With(RateLimitMiddleware(limiter)).Post("/etl/import", etlHandler.ImportFile)
				staff.Get("/etl/reports/{name}", etlHandler.DownloadReport)
			})
		})
	})

	return &App{
		Router:   r,
		Pipeline: pipeline,
		Metrics:  metrics,
		limiter:  limiter,
		log:      log,
	}, nil
}

// SweepLimiter evicts expired rate-limit windows until ctx is done.
func (a *App) SweepLimiter(ctx context.Context, every time.Duration) error {
	if every <= 0 {
		every = time.Minute
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			if n := a.limiter.Sweep(); n > 0 {
				a.log.Debug("rate limiter swept", "buckets", n)
			}
		}
	}
}
