package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"coinpulse/internal/domain"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Storage bundles the SQLite-backed persistence boundaries. Wallets,
// Orders and History each implement their domain store interface;
// CommitTrade provides the atomic order+wallet unit.
type Storage struct {
	db      *gorm.DB
	Wallets *WalletStorage
	Orders  *OrderStorage
	History *HistoryStorage
}

// NewStorage opens (or creates) the SQLite database at path and runs
// migrations.
func NewStorage(path string) (*Storage, error) {
	if path == "" {
		path = filepath.Join("data", "coinpulse.db")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create DB directory: %w", err)
		}
	}

	// Pure Go SQLite
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(&domain.Wallet{}, &domain.Order{}, &domain.ValueHistoryEntry{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return newStorage(db), nil
}

func newStorage(db *gorm.DB) *Storage {
	return &Storage{
		db:      db,
		Wallets: &WalletStorage{db: db},
		Orders:  &OrderStorage{db: db},
		History: &HistoryStorage{db: db},
	}
}

// CommitTrade persists a settled order together with its mutated wallet
// in one transaction. A failure on either save rolls both back.
func (s *Storage) CommitTrade(ctx context.Context, order *domain.Order, wallet *domain.Wallet) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Save(order).Error; err != nil {
			return fmt.Errorf("save order %s: %w", order.ID, err)
		}
		if err := tx.Save(wallet).Error; err != nil {
			return fmt.Errorf("save wallet %d: %w", wallet.ID, err)
		}
		return nil
	})
}

// ======================================================================================
// Wallet Operations
// ======================================================================================

// WalletStorage implements domain.WalletStore.
type WalletStorage struct {
	db *gorm.DB
}

// Create inserts a new wallet and assigns its id.
func (s *WalletStorage) Create(ctx context.Context, wallet *domain.Wallet) error {
	return s.db.WithContext(ctx).Create(wallet).Error
}

// Load retrieves one wallet by id.
func (s *WalletStorage) Load(ctx context.Context, walletID uint) (*domain.Wallet, error) {
	var wallet domain.Wallet
	err := s.db.WithContext(ctx).First(&wallet, "id = ?", walletID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %d", domain.ErrWalletNotFound, walletID)
	}
	if err != nil {
		return nil, err
	}
	return &wallet, nil
}

// LoadAll retrieves every wallet.
func (s *WalletStorage) LoadAll(ctx context.Context) ([]*domain.Wallet, error) {
	var wallets []*domain.Wallet
	err := s.db.WithContext(ctx).Find(&wallets).Error
	return wallets, err
}

// Save persists the wallet's current state atomically.
func (s *WalletStorage) Save(ctx context.Context, wallet *domain.Wallet) error {
	return s.db.WithContext(ctx).Save(wallet).Error
}

// ======================================================================================
// Order Operations
// ======================================================================================

// OrderStorage implements domain.OrderStore.
type OrderStorage struct {
	db *gorm.DB
}

// Load retrieves one order by id.
func (s *OrderStorage) Load(ctx context.Context, orderID string) (*domain.Order, error) {
	var order domain.Order
	err := s.db.WithContext(ctx).First(&order, "id = ?", orderID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %s", domain.ErrOrderNotFound, orderID)
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// LoadOpen retrieves all OPEN orders of the given types, oldest first.
func (s *OrderStorage) LoadOpen(ctx context.Context, orderTypes ...string) ([]*domain.Order, error) {
	var orders []*domain.Order
	q := s.db.WithContext(ctx).Where("status = ?", domain.OrderStatusOpen)
	if len(orderTypes) > 0 {
		q = q.Where("type IN ?", orderTypes)
	}
	err := q.Order("created_at asc").Find(&orders).Error
	return orders, err
}

// ListByWallet retrieves all orders of one wallet, newest first.
func (s *OrderStorage) ListByWallet(ctx context.Context, walletID uint) ([]*domain.Order, error) {
	var orders []*domain.Order
	err := s.db.WithContext(ctx).
		Where("wallet_id = ?", walletID).
		Order("created_at desc").
		Find(&orders).Error
	return orders, err
}

// Save persists the order's current state.
func (s *OrderStorage) Save(ctx context.Context, order *domain.Order) error {
	return s.db.WithContext(ctx).Save(order).Error
}

// ======================================================================================
// Value History Operations
// ======================================================================================

// HistoryStorage implements domain.HistoryStore.
type HistoryStorage struct {
	db *gorm.DB
}

// Append inserts one snapshot row. History is append-only; rows are
// never updated or deleted.
func (s *HistoryStorage) Append(ctx context.Context, entry *domain.ValueHistoryEntry) error {
	return s.db.WithContext(ctx).Create(entry).Error
}

// LoadByWallet returns the wallet's full value history as four parallel
// series ordered by time.
func (s *HistoryStorage) LoadByWallet(ctx context.Context, walletID uint) (*domain.ValueHistory, error) {
	var entries []domain.ValueHistoryEntry
	err := s.db.WithContext(ctx).
		Where("wallet_id = ?", walletID).
		Order("recorded_at asc").
		Find(&entries).Error
	if err != nil {
		return nil, err
	}

	history := domain.NewValueHistory(walletID)
	for _, e := range entries {
		if err := history.Append(e.Balance, e.AssetsValue, e.TotalValue, e.RecordedAt); err != nil {
			return nil, fmt.Errorf("corrupt history row %d: %w", e.ID, err)
		}
	}
	return history, nil
}
