package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"coinpulse/internal/domain"
	"coinpulse/internal/infra"
	"coinpulse/internal/service"

	"github.com/shopspring/decimal"
)

// Matcher is the order matching engine. Each pass loads every open
// limit/stop order, evaluates its trigger against current prices and
// settles the triggered ones: execute when the wallet can still cover
// the trade, cancel when it no longer can. Once a trigger has fired the
// quoted price is gone, so leaving an uncovered order pending would let
// it fill at an arbitrary price later; cancellation forces the user to
// re-place with current knowledge.
type Matcher struct {
	orders  domain.OrderStore
	wallets domain.WalletStore
	trades  domain.TradeStore
	prices  domain.PriceSource
	locks   *service.WalletLocks
	metrics *infra.Metrics
	logger  *slog.Logger
}

// NewMatcher wires the matching engine.
func NewMatcher(
	orders domain.OrderStore,
	wallets domain.WalletStore,
	trades domain.TradeStore,
	prices domain.PriceSource,
	locks *service.WalletLocks,
	metrics *infra.Metrics,
) *Matcher {
	return &Matcher{
		orders:  orders,
		wallets: wallets,
		trades:  trades,
		prices:  prices,
		locks:   locks,
		metrics: metrics,
		logger:  slog.Default().With("module", "matcher"),
	}
}

// RunPass executes one matching pass. A failure on one order never
// aborts the rest of the pass; only a failure to load the order book or
// any price at all is returned.
func (m *Matcher) RunPass(ctx context.Context) error {
	start := time.Now()

	open, err := m.orders.LoadOpen(ctx, domain.OrderTypeLimit, domain.OrderTypeStop)
	if err != nil {
		return fmt.Errorf("load open orders: %w", err)
	}
	if len(open) == 0 {
		m.metrics.RecordPass(time.Since(start).Nanoseconds())
		return nil
	}

	prices, err := m.prices.GetPrices(ctx, distinctCoinIDs(open))
	if err != nil {
		return fmt.Errorf("fetch prices: %w", err)
	}

	executed, cancelled, skipped := 0, 0, 0
	for _, order := range open {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		price, ok := prices[order.CoinID]
		if !ok {
			// Unknown price this pass: leave the order open, retry next
			// pass. Never cancel for missing-price reasons.
			skipped++
			m.metrics.RecordOrderSkipped()
			continue
		}
		if !order.Triggered(price) {
			continue
		}

		outcome, err := m.settle(ctx, order, price)
		if err != nil {
			m.metrics.RecordError()
			m.logger.Error("settle failed, order left for next pass",
				slog.String("order_id", order.ID), slog.Any("error", err))
			continue
		}
		switch outcome {
		case domain.OrderStatusFinished:
			executed++
			m.metrics.RecordOrderExecuted()
		case domain.OrderStatusCancelled:
			cancelled++
			m.metrics.RecordOrderCancelled()
		}
	}

	m.metrics.RecordPass(time.Since(start).Nanoseconds())
	m.logger.Info("matching pass complete",
		slog.Int("open", len(open)),
		slog.Int("executed", executed),
		slog.Int("cancelled", cancelled),
		slog.Int("no_price", skipped),
	)
	return nil
}

// settle finishes one triggered order under its wallet's lock. The
// order is re-loaded and the sufficiency check re-run inside the lock:
// a request handler may have settled the order or spent the balance
// since the scan snapshot was taken. Returns the order's final status,
// or "" when the order was no longer open.
func (m *Matcher) settle(ctx context.Context, scanned *domain.Order, price decimal.Decimal) (string, error) {
	// WalletID is immutable, so the scan snapshot is safe to lock on.
	unlock := m.locks.Lock(scanned.WalletID)
	defer unlock()

	order, err := m.orders.Load(ctx, scanned.ID)
	if err != nil {
		return "", err
	}
	if !order.IsOpen() {
		// Settled by a concurrent writer between scan and lock.
		return "", nil
	}

	wallet, err := m.wallets.Load(ctx, order.WalletID)
	if err != nil {
		return "", err
	}

	covered := false
	cost := order.Quantity.Mul(price)
	if order.Side == domain.SideBuy {
		covered = wallet.HasEnoughBalance(cost)
	} else {
		covered = wallet.HasEnoughCoins(order.CoinID, order.Quantity)
	}

	if !covered {
		if err := order.Cancel(); err != nil {
			return "", err
		}
		if err := m.orders.Save(ctx, order); err != nil {
			return "", fmt.Errorf("save cancelled order: %w", err)
		}
		m.logger.Info("order cancelled, wallet cannot cover trigger",
			slog.String("order_id", order.ID),
			slog.String("coin", order.CoinID),
			slog.String("price", price.String()),
		)
		return order.Status, nil
	}

	// The fill uses the trigger-time market price, not the requested
	// price; BalanceBefore is refreshed to the wallet's balance at
	// settlement so the recorded before/after pair is consistent.
	order.BalanceBefore = wallet.Balance
	if err := order.Execute(price); err != nil {
		return "", err
	}
	if order.Side == domain.SideBuy {
		if err := wallet.SubtractBalance(cost); err != nil {
			return "", err
		}
		wallet.AddAsset(order.CoinID, order.Quantity)
	} else {
		if err := wallet.SubtractAsset(order.CoinID, order.Quantity); err != nil {
			return "", err
		}
		wallet.AddBalance(cost)
	}

	if err := m.trades.CommitTrade(ctx, order, wallet); err != nil {
		return "", fmt.Errorf("commit trade: %w", err)
	}

	m.logger.Info("order executed",
		slog.String("order_id", order.ID),
		slog.String("side", order.Side),
		slog.String("coin", order.CoinID),
		slog.String("execution_price", price.String()),
	)
	return order.Status, nil
}

func distinctCoinIDs(orders []*domain.Order) []string {
	seen := make(map[string]bool, len(orders))
	var ids []string
	for _, o := range orders {
		if !seen[o.CoinID] {
			seen[o.CoinID] = true
			ids = append(ids, o.CoinID)
		}
	}
	return ids
}
