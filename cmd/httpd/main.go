package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nczempin/httpd-go-uring/client"
	"github.com/nczempin/httpd-go-uring/config"
	"github.com/nczempin/httpd-go-uring/server"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg, err := config.Parse("httpd", args, os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	if cfg.Probe != "" {
		return probe(cfg, logger)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := server.New(cfg, logger)
	if err != nil {
		logger.Error("failed to start", "error", err)
		return 1
	}

	if err := srv.ListenAndServe(ctx); err != nil {
		logger.Error("server stopped", "error", err)
		return 1
	}

	logger.Info("server stopped")
	return 0
}

func probe(cfg config.Config, logger *slog.Logger) int {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ReadTimeout+cfg.WriteTimeout)
	defer cancel()

	addr := cfg.Addr
	if cfg.Network == "tcp" && len(addr) > 0 && addr[0] == ':' {
		addr = "127.0.0.1" + addr
	}

	start := time.Now()
	resp, err := client.Get(ctx, cfg.Network, addr, cfg.Probe)
	if err != nil {
		logger.Error("probe failed", "addr", addr, "path", cfg.Probe, "error", err)
		return 1
	}

	logger.Info("probe",
		"addr", addr,
		"path", cfg.Probe,
		"status", resp.StatusCode,
		"content_type", resp.ContentType,
		"bytes", len(resp.Body),
		"duration", time.Since(start),
	)
	if resp.StatusCode != 200 {
		return 1
	}
	return 0
}
