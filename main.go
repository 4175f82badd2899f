package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"time"

	"telemetryhub/internal/channel"
	"telemetryhub/internal/clock"
	"telemetryhub/internal/command"
	"telemetryhub/internal/config"
	"telemetryhub/internal/httpapi"
	"telemetryhub/internal/store/sqlitestore"
	"telemetryhub/internal/sweeper"
	"telemetryhub/internal/udpengine"
)

// Version is the build version reported by the version subcommand.
var Version = "0.1.0-dev"

func main() {
	if len(os.Args) > 1 {
		if RunCLI(os.Args[1:], "data/telemetryhub.db") {
			return
		}
	}

	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		slog.Error("parse configuration", "error", err)
		os.Exit(1)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		slog.Error("create data directory", "error", err)
		os.Exit(1)
	}

	st, err := sqlitestore.Open(cfg.DBPath)
	if err != nil {
		slog.Error("open channel store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	clk := clock.Real{}
	tbl := channel.New(cfg.MaxChannels, st)
	dispatcher := command.New(cfg.CommandTimeout)

	engine, err := udpengine.New(cfg.UDPPort, tbl, dispatcher, clk, udpengine.Config{
		ServerKey:    cfg.ServerKey,
		SyncInterval: cfg.SyncInterval,
	})
	if err != nil {
		slog.Error("start udp engine", "error", err)
		os.Exit(1)
	}
	defer engine.Close()

	httpServer := httpapi.New(tbl, clk, engine)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt)
	go func() {
		<-sigCh
		slog.Info("shutting down telemetry hub")
		cancel()
	}()

	go engine.Run()
	go sweeper.Run(ctx, tbl, clk, sweeper.Interval, cfg.ChannelTimeout)
	go RunMetrics(ctx, tbl, dispatcher, time.Minute)
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := st.Optimize(); err != nil {
					slog.Warn("optimize store", "error", err)
				}
			}
		}
	}()

	slog.Info("telemetry hub started", "udp_port", cfg.UDPPort, "http_port", cfg.HTTPPort, "max_channels", cfg.MaxChannels)

	addr := ":" + strconv.Itoa(cfg.HTTPPort)
	if err := httpServer.Run(ctx, addr); err != nil {
		slog.Error("http server", "error", err)
		os.Exit(1)
	}
}
