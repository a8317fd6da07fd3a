package app

import (
	"context"
	"log/slog"

	"coinpulse/internal/engine"
	"coinpulse/internal/infra"
	"coinpulse/internal/infra/coingecko"
	"coinpulse/internal/infra/storage"
	"coinpulse/internal/service"
)

// Bootstrap orchestrates the application startup sequence.
type Bootstrap struct {
	Config  *infra.Config
	Metrics *infra.Metrics
	Storage *storage.Storage

	CoinGecko  *coingecko.Client
	PriceCache *service.PriceCache
	Prices     *service.CachedPriceSource
	CoinCache  *service.CoinCache
	Locks      *service.WalletLocks

	Trading  *service.TradingService
	Matcher  *engine.Matcher
	Revaluer *engine.Revaluer
}

// NewBootstrap creates a new Bootstrap instance.
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize wires config, logging, storage and every component the
// loops and the request boundary share.
func (b *Bootstrap) Initialize(configPath string) error {
	cfg, err := infra.LoadConfig(configPath)
	if err != nil {
		return err
	}
	b.Config = cfg

	logger := infra.NewLogger(cfg)
	slog.SetDefault(logger)
	slog.Info("bootstrapping",
		slog.String("app", cfg.App.Name), slog.String("version", cfg.App.Version))

	b.Metrics = &infra.Metrics{}

	store, err := storage.NewStorage(cfg.Storage.Path)
	if err != nil {
		return err
	}
	b.Storage = store
	slog.Info("database initialized", slog.String("path", cfg.Storage.Path))

	b.CoinGecko = coingecko.NewClient(cfg, b.Metrics)
	b.PriceCache = service.NewPriceCache(nil)
	b.Prices = service.NewCachedPriceSource(b.PriceCache, b.CoinGecko, cfg.PriceFreshness())
	b.CoinCache = service.NewCoinCache(b.CoinGecko, cfg.CoinCacheTTL(), nil)
	b.Locks = service.NewWalletLocks()

	b.Trading = service.NewTradingService(
		store.Wallets, store.Orders, store, b.Prices, b.CoinCache, b.Locks)
	b.Matcher = engine.NewMatcher(
		store.Orders, store.Wallets, store, b.Prices, b.Locks, b.Metrics)
	b.Revaluer = engine.NewRevaluer(
		store.Wallets, store.History, b.Prices, b.Locks, b.Metrics, nil, cfg.RevalueDebounce())

	return nil
}

// WarmCoinCache loads the coin universe once at startup. A failure is
// not fatal: validation degrades gracefully on an empty cache and the
// next EnsureFresh retries.
func (b *Bootstrap) WarmCoinCache(ctx context.Context) {
	if err := b.CoinCache.Refresh(ctx); err != nil {
		slog.Warn("initial coin list load failed", slog.Any("error", err))
		return
	}
	slog.Info("coin universe loaded", slog.Int("coins", b.CoinCache.Len()))
}
