package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"coinpulse/internal/domain"
	"coinpulse/internal/infra/coingecko"
)

// CoinLister supplies the tracked coin universe.
type CoinLister interface {
	ListCoins(ctx context.Context) ([]coingecko.Coin, error)
}

// CoinCache holds the coin id/symbol lookup with an explicit TTL. It is
// injected into whichever component needs the lookup; there is no
// ambient global coin list.
type CoinCache struct {
	mu          sync.RWMutex
	lister      CoinLister
	ttl         time.Duration
	clock       domain.Clock
	byID        map[string]coingecko.Coin
	bySymbol    map[string]string
	refreshedAt time.Time
}

// NewCoinCache creates an empty cache. The first EnsureFresh call
// populates it.
func NewCoinCache(lister CoinLister, ttl time.Duration, clock domain.Clock) *CoinCache {
	if clock == nil {
		clock = domain.RealClock{}
	}
	return &CoinCache{
		lister:   lister,
		ttl:      ttl,
		clock:    clock,
		byID:     make(map[string]coingecko.Coin),
		bySymbol: make(map[string]string),
	}
}

// Refresh reloads the coin list unconditionally.
func (c *CoinCache) Refresh(ctx context.Context) error {
	coins, err := c.lister.ListCoins(ctx)
	if err != nil {
		return fmt.Errorf("refresh coin cache: %w", err)
	}

	byID := make(map[string]coingecko.Coin, len(coins))
	bySymbol := make(map[string]string, len(coins))
	for _, coin := range coins {
		byID[coin.ID] = coin
		// First id wins per symbol; the feed lists duplicates for
		// obscure forks and we only route by the canonical one.
		sym := strings.ToLower(coin.Symbol)
		if _, ok := bySymbol[sym]; !ok {
			bySymbol[sym] = coin.ID
		}
	}

	c.mu.Lock()
	c.byID = byID
	c.bySymbol = bySymbol
	c.refreshedAt = c.clock.Now()
	c.mu.Unlock()
	return nil
}

// EnsureFresh refreshes the cache when the TTL has elapsed (or it was
// never loaded). A stale cache with a failing feed keeps serving old
// entries.
func (c *CoinCache) EnsureFresh(ctx context.Context) error {
	c.mu.RLock()
	fresh := !c.refreshedAt.IsZero() && c.clock.Now().Sub(c.refreshedAt) < c.ttl
	c.mu.RUnlock()
	if fresh {
		return nil
	}
	return c.Refresh(ctx)
}

// Valid reports whether the coin id exists in the cached universe. An
// empty (never refreshed) cache accepts everything so that coin
// validation degrades to the price feed's own absence signal.
func (c *CoinCache) Valid(coinID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.byID) == 0 {
		return true
	}
	_, ok := c.byID[coinID]
	return ok
}

// IDForSymbol resolves a ticker symbol (e.g. "btc") to a coin id.
func (c *CoinCache) IDForSymbol(symbol string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.bySymbol[strings.ToLower(symbol)]
	return id, ok
}

// Len returns the number of cached coins.
func (c *CoinCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byID)
}
