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
	"github.com/go-chi/cors"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"

	"github.com/welldanyogia/dispomail/internal/config"
	"github.com/welldanyogia/dispomail/internal/health"
	"github.com/welldanyogia/dispomail/internal/inbox"
	"github.com/welldanyogia/dispomail/internal/logger"
	"github.com/welldanyogia/dispomail/internal/metrics"
	"github.com/welldanyogia/dispomail/internal/parser"
	"github.com/welldanyogia/dispomail/internal/repository"
	"github.com/welldanyogia/dispomail/internal/retention"
	"github.com/welldanyogia/dispomail/internal/smtp"
)

func main() {
	// Load .env if present; real deployments set the environment directly
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

	appLogger.Info("Starting dispomail",
		slog.String("http_addr", cfg.Server.Host+":"+cfg.Server.Port),
		slog.Int("smtp_port", cfg.SMTP.Port),
		slog.Int("retention_days", cfg.Retention.Days),
	)

	db, err := setupDatabase(cfg, appLogger)
	if err != nil {
		appLogger.Error("Failed to connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer db.Close()

	dbStats := metrics.NewDBStatsCollector(db.DB)
	dbStats.Start(15 * time.Second)
	defer dbStats.Stop()

	emailRepo := repository.NewEmailRepo(db)

	if err := seedDemoInbox(emailRepo); err != nil {
		appLogger.Warn("Failed to seed demo inbox", slog.String("error", err.Error()))
	}

	// Mail ingestion pipeline
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

	// Retention sweep runs for as long as the process does
	sweeper := retention.NewSweeper(emailRepo, retention.Config{
		Interval:      cfg.Retention.SweepInterval,
		RetentionDays: cfg.Retention.Days,
	}, appLogger)
	if err := sweeper.Start(); err != nil {
		appLogger.Error("Failed to start retention sweeper", slog.String("error", err.Error()))
		os.Exit(1)
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(metrics.Middleware)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Method(http.MethodGet, "/health", health.NewHandler(db, smtpServer))
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	inboxHandler := inbox.NewHandler(emailRepo, appLogger)
	inbox.RegisterRoutes(r, inboxHandler)

	addr := cfg.Server.Host + ":" + cfg.Server.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		appLogger.Info("HTTP server listening", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Error("HTTP server failed", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down...")

	// Stop accepting HTTP and SMTP work before the store goes away
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error("HTTP shutdown error", slog.String("error", err.Error()))
	}
	if err := smtpServer.Stop(); err != nil {
		appLogger.Error("SMTP shutdown error", slog.String("error", err.Error()))
	}
	sweeper.Stop()

	appLogger.Info("Server exited")
}

// seedDemoInbox drops a welcome message into the demo inbox on first
// boot so the service has something to show immediately.
func seedDemoInbox(repo *repository.EmailRepo) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	existing, err := repo.ListByInbox(ctx, "demo")
	if err != nil {
		return err
	}
	if len(existing) > 0 {
		return nil
	}

	_, err = repo.Create(ctx, repository.NewEmail{
		Inbox:    "demo",
		Sender:   "welcome@dispomail.local",
		Subject:  "Welcome to your disposable inbox",
		BodyText: "Any mail sent to demo@ this host will show up here. Messages are deleted automatically after 7 days.",
		BodyHTML: "<p>Any mail sent to <b>demo@</b> this host will show up here. Messages are deleted automatically after 7 days.</p>",
	})
	return err
}

// setupDatabase opens the shared connection pool and verifies it is reachable.
// The service refuses to start without its mail store.
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
