package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"coinpulse/internal/domain"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *Storage {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}

	if err := db.AutoMigrate(&domain.Wallet{}, &domain.Order{}, &domain.ValueHistoryEntry{}); err != nil {
		t.Fatalf("failed to migrate test db: %v", err)
	}

	return newStorage(db)
}

func TestWalletStorage_RoundTrip(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	w := domain.NewWallet(7, decimal.NewFromInt(1000))
	w.AddAsset("bitcoin", decimal.NewFromFloat(0.25))

	if err := s.Wallets.Create(ctx, w); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if w.ID == 0 {
		t.Fatal("wallet id not assigned on create")
	}

	fetched, err := s.Wallets.Load(ctx, w.ID)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if !fetched.Balance.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("expected balance 1000, got %s", fetched.Balance)
	}
	if !fetched.Assets["bitcoin"].Equal(decimal.NewFromFloat(0.25)) {
		t.Errorf("assets JSON column did not round-trip: %v", fetched.Assets)
	}

	t.Run("save persists ledger mutations", func(t *testing.T) {
		if err := fetched.SubtractBalance(decimal.NewFromInt(400)); err != nil {
			t.Fatalf("SubtractBalance failed: %v", err)
		}
		if err := s.Wallets.Save(ctx, fetched); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
		again, err := s.Wallets.Load(ctx, w.ID)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if !again.Balance.Equal(decimal.NewFromInt(600)) {
			t.Errorf("expected balance 600, got %s", again.Balance)
		}
	})

	t.Run("fully sold asset stays gone after save", func(t *testing.T) {
		fetched, _ := s.Wallets.Load(ctx, w.ID)
		if err := fetched.SubtractAsset("bitcoin", decimal.NewFromFloat(0.25)); err != nil {
			t.Fatalf("SubtractAsset failed: %v", err)
		}
		if err := s.Wallets.Save(ctx, fetched); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
		again, _ := s.Wallets.Load(ctx, w.ID)
		if _, ok := again.Assets["bitcoin"]; ok {
			t.Error("zero-quantity asset resurfaced after reload")
		}
	})

	t.Run("unknown wallet", func(t *testing.T) {
		_, err := s.Wallets.Load(ctx, 9999)
		if !errors.Is(err, domain.ErrWalletNotFound) {
			t.Errorf("expected ErrWalletNotFound, got %v", err)
		}
	})
}

func TestWalletStorage_LoadAll(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := s.Wallets.Create(ctx, domain.NewWallet(uint(i+1), decimal.NewFromInt(100))); err != nil {
			t.Fatalf("Create failed: %v", err)
		}
	}

	wallets, err := s.Wallets.LoadAll(ctx)
	if err != nil {
		t.Fatalf("LoadAll failed: %v", err)
	}
	if len(wallets) != 3 {
		t.Errorf("expected 3 wallets, got %d", len(wallets))
	}
}

func TestOrderStorage_LoadOpen(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	limit := domain.NewOpenOrder(1, domain.SideBuy, domain.OrderTypeLimit, "bitcoin",
		decimal.NewFromInt(1), decimal.NewFromInt(100), decimal.NewFromInt(1000))
	stop := domain.NewOpenOrder(1, domain.SideSell, domain.OrderTypeStop, "ethereum",
		decimal.NewFromInt(2), decimal.NewFromInt(50), decimal.NewFromInt(1000))
	market := domain.NewMarketOrder(1, domain.SideBuy, "bitcoin",
		decimal.NewFromInt(1), decimal.NewFromInt(100), decimal.NewFromInt(1000))
	cancelled := domain.NewOpenOrder(2, domain.SideBuy, domain.OrderTypeLimit, "bitcoin",
		decimal.NewFromInt(1), decimal.NewFromInt(100), decimal.NewFromInt(1000))
	if err := cancelled.Cancel(); err != nil {
		t.Fatalf("Cancel failed: %v", err)
	}

	for _, o := range []*domain.Order{limit, stop, market, cancelled} {
		if err := s.Orders.Save(ctx, o); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}

	open, err := s.Orders.LoadOpen(ctx, domain.OrderTypeLimit, domain.OrderTypeStop)
	if err != nil {
		t.Fatalf("LoadOpen failed: %v", err)
	}
	if len(open) != 2 {
		t.Fatalf("expected 2 open limit/stop orders, got %d", len(open))
	}
	for _, o := range open {
		if !o.IsOpen() {
			t.Errorf("LoadOpen returned non-open order %s (%s)", o.ID, o.Status)
		}
	}

	t.Run("null execution price round-trips", func(t *testing.T) {
		fetched, err := s.Orders.Load(ctx, limit.ID)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if fetched.ExecutionPrice.Valid {
			t.Error("open order must have null execution price")
		}
		if fetched.BalanceAfter.Valid {
			t.Error("open order must have null balance after")
		}
	})

	t.Run("executed order round-trips its prices", func(t *testing.T) {
		fetched, _ := s.Orders.Load(ctx, market.ID)
		if !fetched.ExecutionPrice.Valid || !fetched.ExecutionPrice.Decimal.Equal(decimal.NewFromInt(100)) {
			t.Errorf("expected execution price 100, got %v", fetched.ExecutionPrice)
		}
	})

	t.Run("unknown order", func(t *testing.T) {
		_, err := s.Orders.Load(ctx, "nope")
		if !errors.Is(err, domain.ErrOrderNotFound) {
			t.Errorf("expected ErrOrderNotFound, got %v", err)
		}
	})
}

func TestStorage_CommitTrade(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	w := domain.NewWallet(1, decimal.NewFromInt(1000))
	if err := s.Wallets.Create(ctx, w); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	o := domain.NewOpenOrder(w.ID, domain.SideBuy, domain.OrderTypeLimit, "bitcoin",
		decimal.NewFromInt(2), decimal.NewFromInt(500), w.Balance)
	if err := s.Orders.Save(ctx, o); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if err := o.Execute(decimal.NewFromInt(450)); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if err := w.SubtractBalance(decimal.NewFromInt(900)); err != nil {
		t.Fatalf("SubtractBalance failed: %v", err)
	}
	w.AddAsset("bitcoin", decimal.NewFromInt(2))

	if err := s.CommitTrade(ctx, o, w); err != nil {
		t.Fatalf("CommitTrade failed: %v", err)
	}

	wAgain, _ := s.Wallets.Load(ctx, w.ID)
	oAgain, _ := s.Orders.Load(ctx, o.ID)
	if !wAgain.Balance.Equal(decimal.NewFromInt(100)) {
		t.Errorf("expected balance 100, got %s", wAgain.Balance)
	}
	if oAgain.Status != domain.OrderStatusFinished {
		t.Errorf("expected FINISHED order, got %s", oAgain.Status)
	}
}

func TestHistoryStorage_AppendAndLoad(t *testing.T) {
	s := setupTestDB(t)
	ctx := context.Background()

	base := time.Now().Truncate(time.Second)
	for i := 0; i < 3; i++ {
		entry := &domain.ValueHistoryEntry{
			WalletID:    1,
			Balance:     decimal.NewFromInt(int64(100 - i*10)),
			AssetsValue: decimal.NewFromInt(int64(i * 10)),
			TotalValue:  decimal.NewFromInt(100),
			RecordedAt:  base.Add(time.Duration(i) * time.Minute),
		}
		if err := s.History.Append(ctx, entry); err != nil {
			t.Fatalf("Append %d failed: %v", i, err)
		}
	}

	history, err := s.History.LoadByWallet(ctx, 1)
	if err != nil {
		t.Fatalf("LoadByWallet failed: %v", err)
	}
	if history.Len() != 3 {
		t.Fatalf("expected 3 snapshots, got %d", history.Len())
	}
	if err := history.VerifyInvariant(); err != nil {
		t.Errorf("loaded history breaks invariants: %v", err)
	}
	if !history.Timestamps[0].Before(history.Timestamps[2]) {
		t.Error("history not ordered by time")
	}

	t.Run("other wallet sees empty history", func(t *testing.T) {
		history, err := s.History.LoadByWallet(ctx, 2)
		if err != nil {
			t.Fatalf("LoadByWallet failed: %v", err)
		}
		if history.Len() != 0 {
			t.Errorf("expected empty history, got %d rows", history.Len())
		}
	})
}
