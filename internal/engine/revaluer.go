package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"coinpulse/internal/domain"
	"coinpulse/internal/infra"
	"coinpulse/internal/service"

	"github.com/shopspring/decimal"
)

// Revaluer keeps wallet values current: it recomputes each wallet's
// total value from live prices, appends a snapshot to the wallet's
// value history and updates the cached total. It runs as a periodic
// all-wallets loop and on demand for a single wallet (debounced).
type Revaluer struct {
	wallets  domain.WalletStore
	history  domain.HistoryStore
	prices   domain.PriceSource
	locks    *service.WalletLocks
	metrics  *infra.Metrics
	clock    domain.Clock
	debounce time.Duration
	logger   *slog.Logger

	mu          sync.Mutex
	lastRevalue map[uint]time.Time
}

// NewRevaluer wires the revaluation engine.
func NewRevaluer(
	wallets domain.WalletStore,
	history domain.HistoryStore,
	prices domain.PriceSource,
	locks *service.WalletLocks,
	metrics *infra.Metrics,
	clock domain.Clock,
	debounce time.Duration,
) *Revaluer {
	if clock == nil {
		clock = domain.RealClock{}
	}
	return &Revaluer{
		wallets:     wallets,
		history:     history,
		prices:      prices,
		locks:       locks,
		metrics:     metrics,
		clock:       clock,
		debounce:    debounce,
		logger:      slog.Default().With("module", "revaluer"),
		lastRevalue: make(map[uint]time.Time),
	}
}

// RevalueAll recomputes every wallet. One failing wallet is logged and
// skipped; the pass continues.
func (r *Revaluer) RevalueAll(ctx context.Context) error {
	wallets, err := r.wallets.LoadAll(ctx)
	if err != nil {
		return fmt.Errorf("load wallets: %w", err)
	}
	if len(wallets) == 0 {
		return nil
	}

	prices, err := r.prices.GetPrices(ctx, unionCoinIDs(wallets))
	if err != nil {
		return fmt.Errorf("fetch prices: %w", err)
	}

	revalued := 0
	for _, w := range wallets {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := r.revalue(ctx, w.ID, prices); err != nil {
			r.metrics.RecordError()
			r.logger.Error("wallet revaluation failed",
				slog.Uint64("wallet_id", uint64(w.ID)), slog.Any("error", err))
			continue
		}
		revalued++
	}

	r.logger.Info("revaluation pass complete",
		slog.Int("wallets", len(wallets)), slog.Int("revalued", revalued))
	return nil
}

// RevalueWallet recomputes one wallet on demand. Calls within the
// debounce window of the previous one for the same wallet are dropped:
// the history would only gain near-duplicate rows.
func (r *Revaluer) RevalueWallet(ctx context.Context, walletID uint) error {
	r.mu.Lock()
	if last, ok := r.lastRevalue[walletID]; ok && r.clock.Now().Sub(last) < r.debounce {
		r.mu.Unlock()
		return nil
	}
	r.mu.Unlock()

	wallet, err := r.wallets.Load(ctx, walletID)
	if err != nil {
		return err
	}

	prices, err := r.prices.GetPrices(ctx, coinIDsOf(wallet))
	if err != nil {
		return fmt.Errorf("fetch prices: %w", err)
	}
	return r.revalue(ctx, walletID, prices)
}

// revalue snapshots one wallet under its lock, so a trade committing
// concurrently cannot be half-read or overwritten.
func (r *Revaluer) revalue(ctx context.Context, walletID uint, prices map[string]decimal.Decimal) error {
	unlock := r.locks.Lock(walletID)
	defer unlock()

	wallet, err := r.wallets.Load(ctx, walletID)
	if err != nil {
		return err
	}

	now := r.clock.Now()
	assetsValue := wallet.AssetsValue(prices)
	total := wallet.Balance.Add(assetsValue)

	entry := &domain.ValueHistoryEntry{
		WalletID:    wallet.ID,
		Balance:     wallet.Balance,
		AssetsValue: assetsValue,
		TotalValue:  total,
		RecordedAt:  now,
	}
	if err := r.history.Append(ctx, entry); err != nil {
		return fmt.Errorf("append history: %w", err)
	}

	wallet.TotalCurrentValue = total
	if err := r.wallets.Save(ctx, wallet); err != nil {
		return fmt.Errorf("save wallet: %w", err)
	}

	r.mu.Lock()
	r.lastRevalue[walletID] = now
	r.mu.Unlock()
	r.metrics.RecordWalletRevalued()
	return nil
}

func unionCoinIDs(wallets []*domain.Wallet) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, w := range wallets {
		for coinID := range w.Assets {
			if !seen[coinID] {
				seen[coinID] = true
				ids = append(ids, coinID)
			}
		}
	}
	return ids
}

func coinIDsOf(w *domain.Wallet) []string {
	ids := make([]string, 0, len(w.Assets))
	for coinID := range w.Assets {
		ids = append(ids, coinID)
	}
	return ids
}
