// v0
// cmd/processor/main.go
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	_ "time/tzdata"

	"github.com/ddaddaradda/message-consumer/internal/app"
	"github.com/ddaddaradda/message-consumer/internal/config"
	"github.com/ddaddaradda/message-consumer/internal/logging"
)

func main() {
	bootstrap := logging.Bootstrap()

	cfg, err := config.Load()
	if err != nil {
		bootstrap.Error("config_load_failed", slog.Any("err", err))
		os.Exit(1)
	}

	application, err := app.New(cfg)
	if err != nil {
		bootstrap.Error("app_init_failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer func() {
		if cerr := application.Close(); cerr != nil {
			bootstrap.Error("app_close_failed", slog.Any("err", cerr))
		}
	}()

	logger := application.Logger()
	logger.Info("service_boot",
		slog.String("listen_address", cfg.ListenAddress),
		slog.String("log_path", cfg.LogFilePath),
		slog.String("properties_path", cfg.PropertiesPath),
		slog.String("inbound", cfg.Inbound),
		slog.String("source_topics", strings.Join(cfg.SourceTopics, ",")),
		slog.String("consumer_group", cfg.ConsumerGroupID),
		slog.String("sinks", strings.Join(cfg.Sinks, ",")),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil {
		logger.Error("service_terminated", slog.Any("err", err))
		os.Exit(1)
	}
	logger.Info("service_stopped")
}
