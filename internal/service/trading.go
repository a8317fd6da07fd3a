package service

import (
	"context"
	"fmt"
	"log/slog"

	"coinpulse/internal/domain"

	"github.com/shopspring/decimal"
)

// TradingService is the synchronous order boundary the web layer calls.
// Market orders settle immediately; limit and stop orders open and wait
// for the matching engine. All wallet mutations go through the shared
// per-wallet lock and commit as one transaction.
type TradingService struct {
	wallets domain.WalletStore
	orders  domain.OrderStore
	trades  domain.TradeStore
	prices  domain.PriceSource
	coins   domain.CoinLookup
	locks   *WalletLocks
	logger  *slog.Logger
}

// NewTradingService wires the trading façade.
func NewTradingService(
	wallets domain.WalletStore,
	orders domain.OrderStore,
	trades domain.TradeStore,
	prices domain.PriceSource,
	coins domain.CoinLookup,
	locks *WalletLocks,
) *TradingService {
	return &TradingService{
		wallets: wallets,
		orders:  orders,
		trades:  trades,
		prices:  prices,
		coins:   coins,
		locks:   locks,
		logger:  slog.Default().With("module", "trading"),
	}
}

// PlaceMarketOrder executes a buy/sell at the current market price. On
// success the returned order is already FINISHED and the wallet is
// settled. Insufficient funds or holdings reject the order with nothing
// mutated.
func (s *TradingService) PlaceMarketOrder(ctx context.Context, walletID uint, side, coinID string, qty decimal.Decimal) (*domain.Order, error) {
	if err := s.validate(side, coinID, qty); err != nil {
		return nil, err
	}

	// Price fetch happens outside the wallet lock: it can block on the
	// network and the sufficiency check below re-runs under the lock.
	price, err := s.prices.GetPrice(ctx, coinID)
	if err != nil {
		return nil, fmt.Errorf("market order price lookup: %w", err)
	}

	unlock := s.locks.Lock(walletID)
	defer unlock()

	wallet, err := s.wallets.Load(ctx, walletID)
	if err != nil {
		return nil, err
	}

	cost := qty.Mul(price)
	balanceBefore := wallet.Balance

	switch side {
	case domain.SideBuy:
		if !wallet.HasEnoughBalance(cost) {
			return nil, fmt.Errorf("%w: need %s, have %s", domain.ErrInsufficientFunds, cost, wallet.Balance)
		}
		if err := wallet.SubtractBalance(cost); err != nil {
			return nil, err
		}
		wallet.AddAsset(coinID, qty)
	case domain.SideSell:
		if !wallet.HasEnoughCoins(coinID, qty) {
			return nil, fmt.Errorf("%w: need %s %s", domain.ErrInsufficientHoldings, qty, coinID)
		}
		if err := wallet.SubtractAsset(coinID, qty); err != nil {
			return nil, err
		}
		wallet.AddBalance(cost)
	}

	order := domain.NewMarketOrder(walletID, side, coinID, qty, price, balanceBefore)
	if err := s.trades.CommitTrade(ctx, order, wallet); err != nil {
		return nil, fmt.Errorf("commit market order: %w", err)
	}

	s.logger.Info("market order filled",
		slog.String("order_id", order.ID),
		slog.Uint64("wallet_id", uint64(walletID)),
		slog.String("side", side),
		slog.String("coin", coinID),
		slog.String("price", price.String()),
	)
	return order, nil
}

// PlaceLimitOrder opens a limit order awaiting its trigger.
func (s *TradingService) PlaceLimitOrder(ctx context.Context, walletID uint, side, coinID string, qty, limitPrice decimal.Decimal) (*domain.Order, error) {
	return s.placeOpenOrder(ctx, walletID, side, domain.OrderTypeLimit, coinID, qty, limitPrice)
}

// PlaceStopOrder opens a stop order awaiting its trigger.
func (s *TradingService) PlaceStopOrder(ctx context.Context, walletID uint, side, coinID string, qty, stopPrice decimal.Decimal) (*domain.Order, error) {
	return s.placeOpenOrder(ctx, walletID, side, domain.OrderTypeStop, coinID, qty, stopPrice)
}

// placeOpenOrder validates and persists an OPEN order. No funds are
// reserved: sufficiency is re-checked at trigger time and the order is
// cancelled then if the wallet can no longer cover it.
func (s *TradingService) placeOpenOrder(ctx context.Context, walletID uint, side, orderType, coinID string, qty, triggerPrice decimal.Decimal) (*domain.Order, error) {
	if err := s.validate(side, coinID, qty); err != nil {
		return nil, err
	}
	if !triggerPrice.IsPositive() {
		return nil, fmt.Errorf("%w: trigger price must be positive", domain.ErrInvalidOrder)
	}

	unlock := s.locks.Lock(walletID)
	defer unlock()

	wallet, err := s.wallets.Load(ctx, walletID)
	if err != nil {
		return nil, err
	}

	// Synchronous sufficiency check at placement, so the user gets an
	// immediate rejection instead of a later silent cancel.
	switch side {
	case domain.SideBuy:
		cost := qty.Mul(triggerPrice)
		if !wallet.HasEnoughBalance(cost) {
			return nil, fmt.Errorf("%w: need %s, have %s", domain.ErrInsufficientFunds, cost, wallet.Balance)
		}
	case domain.SideSell:
		if !wallet.HasEnoughCoins(coinID, qty) {
			return nil, fmt.Errorf("%w: need %s %s", domain.ErrInsufficientHoldings, qty, coinID)
		}
	}

	order := domain.NewOpenOrder(walletID, side, orderType, coinID, qty, triggerPrice, wallet.Balance)
	if err := s.orders.Save(ctx, order); err != nil {
		return nil, fmt.Errorf("save open order: %w", err)
	}

	s.logger.Info("order opened",
		slog.String("order_id", order.ID),
		slog.Uint64("wallet_id", uint64(walletID)),
		slog.String("type", orderType),
		slog.String("side", side),
		slog.String("coin", coinID),
		slog.String("trigger", triggerPrice.String()),
	)
	return order, nil
}

// CancelOrder aborts a still-open order on the user's request. An
// already settled order returns ErrInvalidStateTransition.
func (s *TradingService) CancelOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	order, err := s.orders.Load(ctx, orderID)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(order.WalletID)
	defer unlock()

	// Reload inside the lock: the matching engine may have settled the
	// order while we were acquiring it.
	order, err = s.orders.Load(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := order.Cancel(); err != nil {
		return nil, err
	}
	if err := s.orders.Save(ctx, order); err != nil {
		return nil, fmt.Errorf("save cancelled order: %w", err)
	}

	s.logger.Info("order cancelled by user", slog.String("order_id", order.ID))
	return order, nil
}

// CreateWallet registers a new wallet with the given starting balance.
func (s *TradingService) CreateWallet(ctx context.Context, ownerID uint, startingBalance decimal.Decimal) (*domain.Wallet, error) {
	if startingBalance.IsNegative() {
		return nil, fmt.Errorf("%w: negative starting balance", domain.ErrInvalidOrder)
	}
	wallet := domain.NewWallet(ownerID, startingBalance)
	if err := s.wallets.Create(ctx, wallet); err != nil {
		return nil, fmt.Errorf("create wallet: %w", err)
	}
	return wallet, nil
}

// validate checks the parameters every order shares. Market orders have
// no price of their own; open orders additionally require a positive
// trigger price, checked at the placement site.
func (s *TradingService) validate(side, coinID string, qty decimal.Decimal) error {
	if side != domain.SideBuy && side != domain.SideSell {
		return fmt.Errorf("%w: side %q", domain.ErrInvalidOrder, side)
	}
	if coinID == "" {
		return fmt.Errorf("%w: empty coin id", domain.ErrInvalidOrder)
	}
	if !qty.IsPositive() {
		return fmt.Errorf("%w: quantity must be positive", domain.ErrInvalidOrder)
	}
	if s.coins != nil && !s.coins.Valid(coinID) {
		return fmt.Errorf("%w: unknown coin %q", domain.ErrInvalidOrder, coinID)
	}
	return nil
}
