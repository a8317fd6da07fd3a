package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"coinpulse/internal/domain"

	"github.com/shopspring/decimal"
)

type pricePoint struct {
	price     decimal.Decimal
	updatedAt time.Time
}

// PriceCache holds the latest known USD price per coin id. It is fed by
// REST batches and, when enabled, by the live ticker stream.
type PriceCache struct {
	mu     sync.RWMutex
	points map[string]pricePoint
	clock  domain.Clock
}

// NewPriceCache creates an empty price cache.
func NewPriceCache(clock domain.Clock) *PriceCache {
	if clock == nil {
		clock = domain.RealClock{}
	}
	return &PriceCache{
		points: make(map[string]pricePoint),
		clock:  clock,
	}
}

// Set stores one price observation.
func (c *PriceCache) Set(coinID string, price decimal.Decimal) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.points[coinID] = pricePoint{price: price, updatedAt: c.clock.Now()}
}

// Apply merges a batch of price observations.
func (c *PriceCache) Apply(prices map[string]decimal.Decimal) {
	now := c.clock.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, p := range prices {
		c.points[id] = pricePoint{price: p, updatedAt: now}
	}
}

// Get returns the cached price and its observation time.
func (c *PriceCache) Get(coinID string) (decimal.Decimal, time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	pt, ok := c.points[coinID]
	return pt.price, pt.updatedAt, ok
}

// Fresh returns the cached price only if it is younger than maxAge.
func (c *PriceCache) Fresh(coinID string, maxAge time.Duration) (decimal.Decimal, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	pt, ok := c.points[coinID]
	if !ok || c.clock.Now().Sub(pt.updatedAt) > maxAge {
		return decimal.Zero, false
	}
	return pt.price, true
}

// Snapshot returns a copy of all cached prices.
func (c *PriceCache) Snapshot() map[string]decimal.Decimal {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]decimal.Decimal, len(c.points))
	for id, pt := range c.points {
		out[id] = pt.price
	}
	return out
}

// CachedPriceSource is a domain.PriceSource that serves fresh cached
// prices and falls back to the REST feed for the stale remainder. The
// REST path stays authoritative; the cache (kept warm by the ticker
// stream) only cuts request volume between refreshes.
type CachedPriceSource struct {
	cache  *PriceCache
	rest   domain.PriceSource
	maxAge time.Duration
}

// NewCachedPriceSource wraps a REST price source with the cache.
func NewCachedPriceSource(cache *PriceCache, rest domain.PriceSource, maxAge time.Duration) *CachedPriceSource {
	return &CachedPriceSource{cache: cache, rest: rest, maxAge: maxAge}
}

// GetPrices serves cache hits younger than maxAge and fetches the rest
// over REST, merging the results into the cache. When the REST call
// fails but some ids were served from cache, the partial result is
// returned without error (absent ids mean "skip this pass").
func (s *CachedPriceSource) GetPrices(ctx context.Context, coinIDs []string) (map[string]decimal.Decimal, error) {
	result := make(map[string]decimal.Decimal, len(coinIDs))
	var misses []string
	for _, id := range coinIDs {
		if price, ok := s.cache.Fresh(id, s.maxAge); ok {
			result[id] = price
			continue
		}
		misses = append(misses, id)
	}

	if len(misses) == 0 {
		return result, nil
	}

	fetched, err := s.rest.GetPrices(ctx, misses)
	if err != nil {
		if len(result) > 0 {
			return result, nil
		}
		return nil, err
	}
	s.cache.Apply(fetched)
	for id, p := range fetched {
		result[id] = p
	}
	return result, nil
}

// GetPrice returns one coin's current price.
func (s *CachedPriceSource) GetPrice(ctx context.Context, coinID string) (decimal.Decimal, error) {
	prices, err := s.GetPrices(ctx, []string{coinID})
	if err != nil {
		return decimal.Zero, err
	}
	price, ok := prices[coinID]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", domain.ErrPriceUnavailable, coinID)
	}
	return price, nil
}
