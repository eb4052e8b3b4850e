package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/make87/m87-tunnel/internal/relayserver"
)

func main() {
	configPath := flag.String("config", "configs/relay.yaml", "path to relay configuration file")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	cfg, err := relayserver.LoadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// dns is nil: DNS-01 issuance is only consulted when cfg.TLS.Production
	// is set, and wiring a live DNS-01 provider is the deploy-time
	// operator's job, not this binary's (spec.md §1, §4.9).
	server, err := relayserver.New(cfg, nil, slog.Default())
	if err != nil {
		slog.Error("failed to build relay server", "err", err)
		os.Exit(1)
	}

	slog.Info("relay starting", "addr", cfg.Listen.Addr, "public_host", cfg.Listen.PublicHost)
	if err := server.Run(ctx); err != nil && ctx.Err() == nil {
		slog.Error("relay server exited with error", "err", err)
		os.Exit(1)
	}
	slog.Info("relay stopped")
}
