package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	httpapi "github.com/ballot-engine/ballot-engine/internal/api/http"
	appBallot "github.com/ballot-engine/ballot-engine/internal/application/ballot"
	"github.com/ballot-engine/ballot-engine/internal/config"
	"github.com/ballot-engine/ballot-engine/internal/domain/entropy"
	"github.com/ballot-engine/ballot-engine/internal/infrastructure/postgres"
	"github.com/ballot-engine/ballot-engine/internal/infrastructure/sse"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db error: %v", err)
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool, cfg.MigrationsDir); err != nil {
		log.Fatalf("migration error: %v", err)
	}

	ballotRepo := postgres.NewBallotRepository(pool)
	sseHub := sse.NewHub()
	defer sseHub.Stop()

	ballotSvc := appBallot.NewService(
		cfg.AuthorityID,
		entropy.Environmental{},
		ballotRepo,
		sseHub,
		cfg.EnrollmentRule,
		logger,
	)

	apiServer := httpapi.NewServer(ballotSvc, sseHub, cfg.AuthorityID, cfg.AuthorityTokenHash)

	httpServer := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      apiServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.ServerAddr).Msg("http server started")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(ctxShutdown)
}
