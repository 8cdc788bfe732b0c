package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"quizbank/internal/app"
	"quizbank/internal/auth"
	"quizbank/internal/db"
	"quizbank/internal/logger"

	"golang.org/x/sync/errgroup"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := app.LoadConfig()
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.LogMode)
	if err != nil {
		return err
	}
	defer log.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	dbConn, err := db.OpenPostgres(ctx, cfg.DBDSN, db.PostgresConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: time.Duration(cfg.DBConnMaxLifeMins) * time.Minute,
	})
	if err != nil {
		log.Error("database error", "error", err)
		return err
	}
	defer dbConn.Close()

	if err := db.Migrate(ctx, dbConn); err != nil {
		log.Error("migration failed", "error", err)
		return err
	}
	if cfg.BootstrapAdminUser != "" && cfg.BootstrapAdminPassword != "" {
		u, err := auth.NewService(dbConn, auth.ServiceConfig{}).UpsertUser(ctx, auth.UpsertUserInput{
			Username: cfg.BootstrapAdminUser,
			Role:     auth.RoleAdmin,
			Password: cfg.BootstrapAdminPassword,
		})
		if err != nil {
			log.Error("bootstrap admin failed", "error", err)
			return err
		}
		log.Info("bootstrap admin ready", "username", u.Username)
	}

	a, err := app.New(cfg, dbConn, log)
	if err != nil {
		log.Error("build app failed", "error", err)
		return err
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           a.Router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("quizbank web listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return a.SweepLimiter(gctx, time.Minute)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("server stopped", "error", err)
		return err
	}
	log.Info("server stopped")
	return nil
}
