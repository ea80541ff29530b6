package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"

	"github.com/welldanyogia/dispomail/internal/config"
	"github.com/welldanyogia/dispomail/internal/logger"
	"github.com/welldanyogia/dispomail/internal/parser"
	"github.com/welldanyogia/dispomail/internal/repository"
	"github.com/welldanyogia/dispomail/internal/retention"
	"github.com/welldanyogia/dispomail/internal/smtp"
)

// Standalone SMTP receiver. Runs the listener and the retention sweep
// without the HTTP API, for deployments that split ingestion from reads.
func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	appLogger := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	slog.SetDefault(appLogger)

	appLogger.Info("Starting SMTP receiver",
		slog.Int("smtp_port", cfg.SMTP.Port),
		slog.String("hostname", cfg.SMTP.Hostname),
	)

	db, err := setupDatabase(cfg, appLogger)
	if err != nil {
		appLogger.Error("Failed to connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer db.Close()

	emailRepo := repository.NewEmailRepo(db)

	resolver := smtp.NewResolver(cfg.SMTP.AcceptedDomain)
	processor := smtp.NewProcessor(parser.New(), emailRepo, appLogger)
	smtpServer := smtp.NewServer(&smtp.Config{
		Port:              cfg.SMTP.Port,
		Hostname:          cfg.SMTP.Hostname,
		AcceptedDomain:    cfg.SMTP.AcceptedDomain,
		MaxConnections:    cfg.SMTP.MaxConnections,
		ConnectionTimeout: cfg.SMTP.ConnectionTimeout,
		MaxMessageSize:    cfg.SMTP.MaxMessageSize,
		MaxRecipients:     cfg.SMTP.MaxRecipients,
	}, resolver, processor, appLogger)

	if err := smtpServer.Start(); err != nil {
		appLogger.Error("Failed to start SMTP server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	sweeper := retention.NewSweeper(emailRepo, retention.Config{
		Interval:      cfg.Retention.SweepInterval,
		RetentionDays: cfg.Retention.Days,
	}, appLogger)
	if err := sweeper.Start(); err != nil {
		appLogger.Error("Failed to start retention sweeper", slog.String("error", err.Error()))
		os.Exit(1)
	}

	appLogger.Info("SMTP receiver started",
		slog.Int("port", cfg.SMTP.Port),
	)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down SMTP receiver...")

	if err := smtpServer.Stop(); err != nil {
		appLogger.Error("Error stopping SMTP server", slog.String("error", err.Error()))
	}
	sweeper.Stop()

	appLogger.Info("SMTP receiver stopped")
}

// setupDatabase opens the connection pool and verifies it is reachable.
func setupDatabase(cfg *config.Config, log *slog.Logger) (*sqlx.DB, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	db, err := sqlx.Open("pgx", cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info("Connected to database")
	return db, nil
}
