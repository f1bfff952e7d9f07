package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/salonsync/salonsync/internal/api"
	"github.com/salonsync/salonsync/internal/notify"
	"github.com/salonsync/salonsync/internal/serverdb"
)

func main() {
	// .env is optional; real environment variables win
	_ = godotenv.Load()

	// Route to admin subcommands if present
	if len(os.Args) > 1 && os.Args[1] == "admin" {
		runAdmin(os.Args[2:])
		return
	}

	cfg := api.LoadConfig()
	slog.SetDefault(slog.New(newHandler(cfg)))

	store, err := serverdb.Open(cfg.DatabaseDriver, cfg.DatabaseDSN)
	if err != nil {
		slog.Error("open server db", "driver", cfg.DatabaseDriver, "err", err)
		os.Exit(1)
	}
	defer store.Close()

	notifier, err := buildNotifier(cfg)
	if err != nil {
		slog.Error("notifier", "err", err)
		os.Exit(1)
	}
	defer notifier.Close()

	srv, err := api.NewServer(cfg, store, notifier)
	if err != nil {
		slog.Error("create server", "err", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.Start(); err != nil {
		slog.Error("start server", "err", err)
		os.Exit(1)
	}
	slog.Info("server started", "addr", cfg.ListenAddr, "driver", store.Driver())

	<-ctx.Done()
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown", "err", err)
	}
}

func newHandler(cfg api.Config) slog.Handler {
	var level slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(cfg.LogFormat) == "text" {
		return slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.NewJSONHandler(os.Stderr, opts)
}

// buildNotifier always logs, and adds the broker and webhook sinks that
// are configured.
func buildNotifier(cfg api.Config) (notify.Notifier, error) {
	sinks := notify.Multi{notify.Log{}}
	if cfg.AMQPURL != "" {
		q, err := notify.DialAMQP(cfg.AMQPURL, cfg.AMQPQueue)
		if err != nil {
			return nil, err
		}
		slog.Info("publishing appointment events", "queue", q.Queue())
		sinks = append(sinks, q)
	}
	if cfg.WebhookURL != "" {
		sinks = append(sinks, notify.NewWebhook(cfg.WebhookURL, cfg.WebhookSecret))
	}
	return sinks, nil
}
