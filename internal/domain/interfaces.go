package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// PriceSource supplies current USD prices for coin ids. Results may be
// partial: a coin the source knows nothing about is simply absent from
// the map, and callers must skip it for the current pass.
type PriceSource interface {
	GetPrice(ctx context.Context, coinID string) (decimal.Decimal, error)
	GetPrices(ctx context.Context, coinIDs []string) (map[string]decimal.Decimal, error)
}

// WalletStore is the wallet persistence boundary. Save must be atomic
// per wallet.
type WalletStore interface {
	Load(ctx context.Context, walletID uint) (*Wallet, error)
	LoadAll(ctx context.Context) ([]*Wallet, error)
	Save(ctx context.Context, wallet *Wallet) error
	Create(ctx context.Context, wallet *Wallet) error
}

// OrderStore is the order persistence boundary.
type OrderStore interface {
	Load(ctx context.Context, orderID string) (*Order, error)
	LoadOpen(ctx context.Context, orderTypes ...string) ([]*Order, error)
	ListByWallet(ctx context.Context, walletID uint) ([]*Order, error)
	Save(ctx context.Context, order *Order) error
}

// TradeStore commits a settled order together with its mutated wallet as
// one atomic unit. A failure rolls both back.
type TradeStore interface {
	CommitTrade(ctx context.Context, order *Order, wallet *Wallet) error
}

// HistoryStore is the value-history persistence boundary. Entries are
// append-only.
type HistoryStore interface {
	Append(ctx context.Context, entry *ValueHistoryEntry) error
	LoadByWallet(ctx context.Context, walletID uint) (*ValueHistory, error)
}

// CoinLookup resolves coin symbols and validates coin ids against the
// tracked coin universe.
type CoinLookup interface {
	Valid(coinID string) bool
	IDForSymbol(symbol string) (string, bool)
}

// Clock abstracts time for debounce and cache-TTL logic in tests.
type Clock interface {
	Now() time.Time
}

// RealClock is the production Clock.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }
