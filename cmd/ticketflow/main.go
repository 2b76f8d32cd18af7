package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ticketflow/internal/config"
	"ticketflow/internal/constants"
	"ticketflow/internal/database"
	"ticketflow/internal/notify"
	"ticketflow/internal/service"
	"ticketflow/internal/tracing"
	"ticketflow/pkg/channel"

	"github.com/sirupsen/logrus"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	// CLI flags
	verbose    = flag.Bool("verbose", false, "Enable verbose logging")
	configPath = flag.String("config", "config.json", "Path to configuration file")
	version    = flag.Bool("version", false, "Show version information")
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("TicketFlow %s\nBuild Time: %s\nGit Commit: %s\n", Version, BuildTime, GitCommit)
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logrus.Fatalf("Application error: %v", err)
	}
}

func run(ctx context.Context) error {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	logger.WithFields(logrus.Fields{
		"version": Version,
		"build":   BuildTime,
		"commit":  GitCommit,
	}).Info("Starting TicketFlow")

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	} else if cfg.LogLevel != "" {
		level, err := logrus.ParseLevel(cfg.LogLevel)
		if err != nil {
			logger.Warnf("Invalid log level %q, defaulting to info", cfg.LogLevel)
			logger.SetLevel(logrus.InfoLevel)
		} else {
			logger.SetLevel(level)
		}
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}

	tracingManager := tracing.NewManager(cfg.Tracing, logger)
	if err := tracingManager.Initialize(ctx); err != nil {
		logger.Warnf("Failed to initialize tracing: %v", err)
	}
	defer func() {
		if err := tracingManager.Shutdown(context.Background()); err != nil {
			logger.Warnf("Failed to shutdown tracing: %v", err)
		}
	}()

	db, err := database.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	hub := notify.NewHub(logger)

	channelClient := channel.NewClient(
		cfg.Channel.AdapterBaseURL,
		cfg.Channel.APIKey,
		time.Duration(cfg.Channel.SendTimeoutSec)*time.Second,
	)

	contacts := service.NewContactService(db, hub, logger)
	tickets := service.NewTicketService(db, hub, logger)
	messages := service.NewMessageService(db, hub, logger)
	sla := service.NewSLAService(db, hub, logger)
	assistant := service.NewAssistantService(
		db, tickets, messages, channelClient, logger,
		cfg.Assistant.WebhookURL,
		time.Duration(cfg.Assistant.TimeoutSec)*time.Second,
		cfg.Assistant.ContextMessages,
	)
	ingest := service.NewIngestService(db, contacts, tickets, messages, sla, assistant, logger)

	if err := sla.StartScheduler(cfg.SLA.SweepSchedule); err != nil {
		return fmt.Errorf("failed to start SLA scheduler: %w", err)
	}
	defer sla.StopScheduler()

	srv := NewServer(ingest, hub, logger)

	errCh := make(chan error, 1)
	go func() {
		readTimeout := time.Duration(constants.DefaultServerReadTimeoutSec) * time.Second
		writeTimeout := time.Duration(constants.DefaultServerWriteTimeoutSec) * time.Second
		idleTimeout := time.Duration(constants.DefaultServerIdleTimeoutSec) * time.Second
		if err := srv.Start(cfg.Server.Port, readTimeout, writeTimeout, idleTimeout); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(constants.DefaultGracefulShutdownSec)*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
