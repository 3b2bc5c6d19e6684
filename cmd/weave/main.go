package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/zsiec/weave/internal/api"
	"github.com/zsiec/weave/internal/config"
	"github.com/zsiec/weave/internal/control"
	"github.com/zsiec/weave/internal/egress"
	"github.com/zsiec/weave/internal/ingest"
	srtingest "github.com/zsiec/weave/internal/ingest/srt"
	"github.com/zsiec/weave/internal/pipeline"
)

var version = "dev"

func main() {
	cfg := config.Load()

	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		cancel()
	}()

	source := ingest.NewSource(nil)
	sink := egress.NewSink(nil)
	mgr := pipeline.NewManager(source, sink, nil)
	defer mgr.StopWorkers()

	registry := ingest.NewRegistry(nil)
	ctrl := control.NewController(mgr, nil)

	slog.Info("weave starting",
		"version", version,
		"control", cfg.ControlAddr,
		"api", cfg.APIAddr,
		"srt", cfg.SRTAddr,
		"egress", cfg.EgressAddr,
	)

	if err := mgr.StartWorkers(); err != nil {
		slog.Error("failed to start endpoint workers", "error", err)
		os.Exit(1)
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return control.NewServer(cfg.ControlAddr, ctrl, nil).Start(ctx)
	})

	g.Go(func() error {
		return srtingest.NewServer(cfg.SRTAddr, registry, source, nil).Start(ctx)
	})

	g.Go(func() error {
		return egress.NewStreamer(cfg.EgressAddr, sink, nil).Start(ctx)
	})

	g.Go(func() error {
		return api.New(mgr, registry, nil).Run(cfg.APIAddr)
	})

	if err := g.Wait(); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}
