package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/udmitri/mtgo/internal/client"
	"github.com/udmitri/mtgo/internal/config"
	"github.com/udmitri/mtgo/internal/model"
)

const ConfigPath = "config/mtgo.yaml"

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("shutting down", "signal", sig)
		cancel()
	}()

	if err := run(ctx); err != nil && ctx.Err() == nil {
		slog.Error("fatal", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfgPath := ConfigPath
	if p := os.Getenv("MTGO_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.LoadClient(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	level := slog.LevelInfo
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})))

	slog.Info("mtgo client starting", "data_dir", cfg.DataDir, "dc", cfg.DefaultDC)

	cb := &client.Callbacks{
		OnReady: func() {
			slog.Info("session ready")
		},
		OnNewMessage: func(m *model.Message) {
			slog.Info("message", "id", m.ID, "from", m.FromID, "to", m.To, "text", m.Text)
		},
		OnPeerAllocated: func(p *model.Peer) {
			slog.Info("peer", "id", p.ID, "name", p.PrintName)
		},
		OnPhoneRegistrationRequired: func() {
			slog.Warn("account not registered; submit a phone number to begin login")
		},
		OnClientRegistrationRequired: func() {
			slog.Warn("login code required; submit the code you received")
		},
	}

	cl, err := client.New(cfg, cb)
	if err != nil {
		return fmt.Errorf("creating client: %w", err)
	}
	defer cl.Close()

	if err := cl.Run(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("client: %w", err)
	}
	return nil
}
