package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/make87/m87-tunnel/internal/agentrt"
	"github.com/make87/m87-tunnel/internal/supervisor"
)

func main() {
	configPath := flag.String("config", "configs/agent.yaml", "path to agent configuration file")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})))

	cfg, err := agentrt.LoadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	tokens := &agentrt.HTTPTokenClient{
		PublicHost:             cfg.Server.PublicHost,
		TrustInvalidServerCert: cfg.Server.TrustInvalidServerCert,
	}

	rt, err := agentrt.New(cfg, tokens, nil, slog.Default())
	if err != nil {
		slog.Error("failed to build agent runtime", "err", err)
		os.Exit(1)
	}

	sup := &supervisor.Supervisor{
		Register:  rt.Register,
		RunTunnel: rt.RunTunnel,
		Logger:    slog.Default(),
	}

	slog.Info("agent starting", "agent_id", cfg.Agent.AgentID, "server", cfg.Server.PublicHost)
	sup.Run(ctx)
	slog.Info("agent stopped")
}
