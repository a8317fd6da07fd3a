package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"coinpulse/internal/domain"
	"coinpulse/internal/infra"
	"coinpulse/internal/infra/storage"
	"coinpulse/internal/service"

	"github.com/shopspring/decimal"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestRevaluer(t *testing.T, prices map[string]decimal.Decimal, debounce time.Duration) (*Revaluer, *storage.MemoryStorage, *fakeClock) {
	t.Helper()
	if prices == nil {
		prices = make(map[string]decimal.Decimal)
	}
	mem := storage.NewMemory()
	clock := &fakeClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
	rev := NewRevaluer(mem, mem, &stubPrices{prices: prices},
		service.NewWalletLocks(), &infra.Metrics{}, clock, debounce)
	return rev, mem, clock
}

func seedWallet(t *testing.T, mem *storage.MemoryStorage, balance int64, assets map[string]int64) *domain.Wallet {
	t.Helper()
	ctx := context.Background()
	w := domain.NewWallet(1, decimal.NewFromInt(balance))
	if err := mem.Create(ctx, w); err != nil {
		t.Fatalf("create wallet: %v", err)
	}
	for coinID, qty := range assets {
		w.AddAsset(coinID, decimal.NewFromInt(qty))
	}
	if err := mem.Save(ctx, w); err != nil {
		t.Fatalf("seed save: %v", err)
	}
	return w
}

func TestRevaluer_RevalueAll(t *testing.T) {
	rev, mem, _ := newTestRevaluer(t, map[string]decimal.Decimal{
		"bitcoin":  decimal.NewFromInt(100),
		"ethereum": decimal.NewFromInt(10),
	}, 0)
	ctx := context.Background()

	w1 := seedWallet(t, mem, 55, map[string]int64{"bitcoin": 2})
	w2 := seedWallet(t, mem, 0, map[string]int64{"bitcoin": 1, "ethereum": 5})

	if err := rev.RevalueAll(ctx); err != nil {
		t.Fatalf("RevalueAll failed: %v", err)
	}

	h1, err := mem.LoadByWallet(ctx, w1.ID)
	if err != nil {
		t.Fatalf("LoadByWallet failed: %v", err)
	}
	if h1.Len() != 1 {
		t.Fatalf("expected 1 snapshot, got %d", h1.Len())
	}
	if !h1.Balances[0].Equal(decimal.NewFromInt(55)) ||
		!h1.AssetsValues[0].Equal(decimal.NewFromInt(200)) ||
		!h1.TotalValues[0].Equal(decimal.NewFromInt(255)) {
		t.Errorf("bad snapshot: balance=%s assets=%s total=%s",
			h1.Balances[0], h1.AssetsValues[0], h1.TotalValues[0])
	}
	if err := h1.VerifyInvariant(); err != nil {
		t.Errorf("history invariant broken: %v", err)
	}

	h2, _ := mem.LoadByWallet(ctx, w2.ID)
	if !h2.TotalValues[0].Equal(decimal.NewFromInt(150)) {
		t.Errorf("expected total 150, got %s", h2.TotalValues[0])
	}

	t.Run("cached total is updated", func(t *testing.T) {
		wallet, _ := mem.Load(ctx, w1.ID)
		if !wallet.TotalCurrentValue.Equal(decimal.NewFromInt(255)) {
			t.Errorf("expected total_current_value 255, got %s", wallet.TotalCurrentValue)
		}
	})
}

func TestRevaluer_UnknownPriceContributesZero(t *testing.T) {
	rev, mem, _ := newTestRevaluer(t, map[string]decimal.Decimal{
		"bitcoin": decimal.NewFromInt(100),
	}, 0)
	ctx := context.Background()

	w := seedWallet(t, mem, 40, map[string]int64{"bitcoin": 1, "unlisted": 7})
	if err := rev.RevalueAll(ctx); err != nil {
		t.Fatalf("RevalueAll failed: %v", err)
	}

	h, _ := mem.LoadByWallet(ctx, w.ID)
	if !h.AssetsValues[0].Equal(decimal.NewFromInt(100)) {
		t.Errorf("unlisted coin must value at zero, got assets %s", h.AssetsValues[0])
	}
	if !h.TotalValues[0].Equal(decimal.NewFromInt(140)) {
		t.Errorf("expected total 140, got %s", h.TotalValues[0])
	}
}

func TestRevaluer_DebouncesOnDemandCalls(t *testing.T) {
	rev, mem, clock := newTestRevaluer(t, map[string]decimal.Decimal{
		"bitcoin": decimal.NewFromInt(100),
	}, 45*time.Second)
	ctx := context.Background()
	w := seedWallet(t, mem, 10, map[string]int64{"bitcoin": 1})

	if err := rev.RevalueWallet(ctx, w.ID); err != nil {
		t.Fatalf("first revalue failed: %v", err)
	}
	if err := rev.RevalueWallet(ctx, w.ID); err != nil {
		t.Fatalf("debounced revalue must be a silent no-op: %v", err)
	}

	h, _ := mem.LoadByWallet(ctx, w.ID)
	if h.Len() != 1 {
		t.Fatalf("expected 1 snapshot within debounce window, got %d", h.Len())
	}

	t.Run("window expiry allows the next snapshot", func(t *testing.T) {
		clock.Advance(46 * time.Second)
		if err := rev.RevalueWallet(ctx, w.ID); err != nil {
			t.Fatalf("revalue after window failed: %v", err)
		}
		h, _ := mem.LoadByWallet(ctx, w.ID)
		if h.Len() != 2 {
			t.Errorf("expected 2 snapshots after window, got %d", h.Len())
		}
	})
}

func TestRevaluer_FailingWalletIsSkipped(t *testing.T) {
	rev, mem, _ := newTestRevaluer(t, map[string]decimal.Decimal{
		"bitcoin": decimal.NewFromInt(100),
	}, 0)
	ctx := context.Background()
	seedWallet(t, mem, 10, map[string]int64{"bitcoin": 1})

	mem.FailSaves = true
	if err := rev.RevalueAll(ctx); err != nil {
		t.Fatalf("a failing wallet must not abort the pass: %v", err)
	}

	mem.FailSaves = false
	if err := rev.RevalueAll(ctx); err != nil {
		t.Fatalf("RevalueAll failed: %v", err)
	}
}
