// Command relayd runs the relay engine: it loads configuration, opens
// the durable event store, and serves WebSocket connections until it
// receives a termination signal.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/nostrelay/relay/internal/buildinfo"
	"github.com/nostrelay/relay/internal/config"
	"github.com/nostrelay/relay/internal/registry"
	"github.com/nostrelay/relay/internal/relayserver"
	"github.com/nostrelay/relay/internal/store"
)

func main() {
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	if flag.NArg() > 0 {
		switch flag.Arg(0) {
		case "serve":
			runServe(logger)
		case "version":
			fmt.Println(buildinfo.String())
			for k, v := range buildinfo.BuildInfo() {
				fmt.Printf("  %-12s %s\n", k+":", v)
			}
		default:
			fmt.Fprintf(os.Stderr, "unknown command: %s\n", flag.Arg(0))
			os.Exit(1)
		}
		return
	}

	fmt.Println("relayd - a minimal NIP-01 relay")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve    Start the relay")
	fmt.Println("  version  Show version")
}

func runServe(logger *slog.Logger) {
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	if cfg.LogLevel != "" {
		level, err := config.ParseLogLevel(cfg.LogLevel)
		if err != nil {
			logger.Error("invalid log level in config", "error", err)
			os.Exit(1)
		}
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level:       level,
			ReplaceAttr: config.ReplaceLogLevelNames,
		}))
	}

	logger.Info("starting relayd",
		"version", buildinfo.Version,
		"commit", buildinfo.GitCommit,
		"host", cfg.Host,
		"db", cfg.DBPath,
	)

	st, err := store.Open(cfg.DBPath, logger)
	if err != nil {
		logger.Error("failed to open event store", "path", cfg.DBPath, "error", err)
		os.Exit(1)
	}
	defer st.Close()

	reg := registry.New(st, logger)
	srv := relayserver.New(cfg.Host, reg, logger, cfg.ShutdownTimeout)

	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		cancel()
	}()

	if err := srv.Run(ctx); err != nil {
		logger.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}
