package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/log"

	"prdigy/api/internal/app"
	"prdigy/api/internal/config"
	"prdigy/api/internal/email"
	"prdigy/api/internal/migration"
	"prdigy/api/internal/search"
	"prdigy/api/internal/session"
	"prdigy/api/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("config load failed", "err", err)
	}
	logger := log.NewWithOptions(os.Stderr, log.Options{ReportTimestamp: true})
	if level, err := log.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	}
	log.SetDefault(logger)

	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
	if err != nil {
		log.Fatal("database connection failed", "err", err)
	}
	defer db.Close()

	applied, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir)
	if err != nil {
		log.Fatal("migrations failed", "err", err)
	}
	if len(applied) > 0 {
		log.Info("migrations applied", "versions", applied)
	}

	dataStore := store.NewPostgresStore(db)

	pgfts := search.NewPgFTS(db)
	var index search.Index
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient := search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger.WithPrefix("meili"))
		defer meiliClient.Close()
		index = meiliClient
	}
	searchService := search.NewService(index, pgfts, logger.WithPrefix("search"))

	mailer := email.NewService(email.Config{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
		From:     cfg.SMTP.From,
		FromName: cfg.SMTP.FromName,
	})
	if !mailer.IsConfigured() {
		log.Warn("SMTP not configured, verification tokens are returned in responses")
	}

	opts := []app.Option{
		app.WithSearch(searchService),
		app.WithMailer(mailer),
		app.WithLogger(logger.WithPrefix("app")),
	}
	if strings.TrimSpace(cfg.RedisURL) != "" {
		log.Info("using Redis for refresh tokens and device markers")
		redisStore, err := session.NewRedisStore(cfg.RedisURL)
		if err != nil {
			log.Fatal("redis connection failed", "err", err)
		}
		defer redisStore.Close()
		opts = append(opts,
			app.WithSessionStore(redisStore),
			app.WithDeviceMarkers(func(deviceID string) migration.Markers { return redisStore.Device(deviceID) }),
		)
	} else {
		log.Info("using PostgreSQL for refresh tokens")
	}
	service := app.New(cfg, dataStore, opts...)

	go searchService.ReindexAllFromPG(ctx)

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("Prdigy API listening", "addr", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server failed", "err", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", "err", err)
	}
	searchService.Wait()
}
