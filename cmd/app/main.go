package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"coinpulse/internal/app"
	"coinpulse/internal/engine"
	"coinpulse/internal/infra/stream"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the configuration file")
	flag.Parse()

	bootstrap := app.NewBootstrap()
	if err := bootstrap.Initialize(*configPath); err != nil {
		slog.Error("bootstrapping failed", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go bootstrap.WarmCoinCache(ctx)

	cfg := bootstrap.Config

	matchingLoop := engine.NewLoop("matching", cfg.MatchingInterval(), bootstrap.Matcher.RunPass)
	matchingLoop.Start(ctx)
	defer matchingLoop.Stop()

	revaluationLoop := engine.NewLoop("revaluation", cfg.RevaluationInterval(), bootstrap.Revaluer.RevalueAll)
	revaluationLoop.Start(ctx)
	defer revaluationLoop.Stop()

	if cfg.API.Stream.Enabled {
		worker := stream.NewWorker(cfg.API.Stream.WSURL, cfg.API.Stream.Quote,
			bootstrap.PriceCache, bootstrap.CoinCache, bootstrap.Metrics)
		if err := worker.Connect(ctx); err != nil {
			slog.Error("failed to start ticker stream", slog.Any("error", err))
		}
		defer worker.Disconnect()
		slog.InfoContext(ctx, "ticker stream worker started")
	}

	slog.InfoContext(ctx, "coinpulse engine operational")

	<-ctx.Done()
	slog.InfoContext(ctx, "shutting down gracefully")
}
