// Command turnrelay runs a standalone STUN/TURN relay for WebRTC peer
// connectivity: it answers Binding requests directly and issues TURN
// allocations that credential-rewrite and forward ICE traffic between
// paired clients.
//
// Usage:
//
//	turnrelay -config /etc/turnrelay/config.toml
package main

import (
	"context"
	"flag"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kuuji/turnrelay/internal/config"
	"github.com/kuuji/turnrelay/internal/control"
	"github.com/kuuji/turnrelay/internal/relay"
)

func main() {
	configPath := flag.String("config", config.DefaultConfigPath(), "path to config.toml")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.Error("loading config", "error", err)
		os.Exit(1)
	}

	udpAddr, err := net.ResolveUDPAddr("udp", cfg.Relay.ListenAddr)
	if err != nil {
		logger.Error("resolving listen address", "addr", cfg.Relay.ListenAddr, "error", err)
		os.Exit(1)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		logger.Error("listening on UDP", "addr", cfg.Relay.ListenAddr, "error", err)
		os.Exit(1)
	}

	engine := relay.NewEngine(relay.Config{
		Realm:           cfg.Relay.Realm,
		Nonce:           cfg.Relay.Nonce,
		TurnPassword:    cfg.Relay.TurnPassword,
		IcePassword:     cfg.Relay.IcePassword,
		Hosted:          cfg.Relay.Hosted,
		LifetimeCeiling: time.Duration(cfg.Relay.LifetimeCeilingSeconds) * time.Second,
		Logger:          logger,
	})

	loop := relay.NewLoop(conn, engine, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var ctrlSrv *control.Server
	if cfg.Relay.ControlSocket != "" {
		ctrlSrv = control.NewServer(cfg.Relay.ControlSocket, func() control.Status {
			return engine.Status(cfg.Relay.ListenAddr)
		}, logger)
		if err := ctrlSrv.Start(); err != nil {
			logger.Error("starting control server", "error", err)
			os.Exit(1)
		}
	}

	go func() {
		<-ctx.Done()
		logger.Info("shutting down")
		if ctrlSrv != nil {
			_ = ctrlSrv.Stop()
		}
		_ = conn.Close()
	}()

	logger.Info("turn relay listening", "addr", cfg.Relay.ListenAddr, "realm", cfg.Relay.Realm)
	if err := loop.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error("relay loop error", "error", err)
		os.Exit(1)
	}
}
