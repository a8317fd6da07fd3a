package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"coinpulse/internal/domain"
)

// MemoryStorage is a map-backed implementation of the persistence
// boundaries, used by tests and local development. It mirrors the
// SQLite stores' semantics, including the atomic CommitTrade unit.
type MemoryStorage struct {
	mu sync.RWMutex

	wallets      map[uint]domain.Wallet
	nextWalletID uint

	orders map[string]domain.Order

	// history is append-only
	history       map[uint][]domain.ValueHistoryEntry
	nextHistoryID uint

	// FailSaves makes every write fail, for persistence-failure tests.
	FailSaves bool
}

// NewMemory creates an empty in-memory storage.
func NewMemory() *MemoryStorage {
	return &MemoryStorage{
		wallets: make(map[uint]domain.Wallet),
		orders:  make(map[string]domain.Order),
		history: make(map[uint][]domain.ValueHistoryEntry),
	}
}

func (m *MemoryStorage) failure() error {
	return fmt.Errorf("memory storage: simulated persistence failure")
}

// -------- WalletStore --------

func (m *MemoryStorage) Create(ctx context.Context, wallet *domain.Wallet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailSaves {
		return m.failure()
	}
	m.nextWalletID++
	wallet.ID = m.nextWalletID
	m.wallets[wallet.ID] = cloneWallet(wallet)
	return nil
}

func (m *MemoryStorage) Load(ctx context.Context, walletID uint) (*domain.Wallet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.wallets[walletID]
	if !ok {
		return nil, fmt.Errorf("%w: %d", domain.ErrWalletNotFound, walletID)
	}
	out := cloneWallet(&w)
	return &out, nil
}

func (m *MemoryStorage) LoadAll(ctx context.Context) ([]*domain.Wallet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*domain.Wallet, 0, len(m.wallets))
	for _, w := range m.wallets {
		c := cloneWallet(&w)
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStorage) Save(ctx context.Context, wallet *domain.Wallet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailSaves {
		return m.failure()
	}
	if _, ok := m.wallets[wallet.ID]; !ok {
		return fmt.Errorf("%w: %d", domain.ErrWalletNotFound, wallet.ID)
	}
	m.wallets[wallet.ID] = cloneWallet(wallet)
	return nil
}

// -------- OrderStore --------

func (m *MemoryStorage) LoadOrder(ctx context.Context, orderID string) (*domain.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrOrderNotFound, orderID)
	}
	out := o
	return &out, nil
}

func (m *MemoryStorage) LoadOpen(ctx context.Context, orderTypes ...string) ([]*domain.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	typeOK := func(t string) bool {
		if len(orderTypes) == 0 {
			return true
		}
		for _, ot := range orderTypes {
			if t == ot {
				return true
			}
		}
		return false
	}

	var out []*domain.Order
	for _, o := range m.orders {
		if o.Status == domain.OrderStatusOpen && typeOK(o.Type) {
			c := o
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStorage) ListByWallet(ctx context.Context, walletID uint) ([]*domain.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Order
	for _, o := range m.orders {
		if o.WalletID == walletID {
			c := o
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStorage) SaveOrder(ctx context.Context, order *domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailSaves {
		return m.failure()
	}
	m.orders[order.ID] = *order
	return nil
}

// -------- TradeStore --------

func (m *MemoryStorage) CommitTrade(ctx context.Context, order *domain.Order, wallet *domain.Wallet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailSaves {
		return m.failure()
	}
	if _, ok := m.wallets[wallet.ID]; !ok {
		return fmt.Errorf("%w: %d", domain.ErrWalletNotFound, wallet.ID)
	}
	m.orders[order.ID] = *order
	m.wallets[wallet.ID] = cloneWallet(wallet)
	return nil
}

// -------- HistoryStore --------

func (m *MemoryStorage) Append(ctx context.Context, entry *domain.ValueHistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailSaves {
		return m.failure()
	}
	m.nextHistoryID++
	entry.ID = m.nextHistoryID
	m.history[entry.WalletID] = append(m.history[entry.WalletID], *entry)
	return nil
}

func (m *MemoryStorage) LoadByWallet(ctx context.Context, walletID uint) (*domain.ValueHistory, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	history := domain.NewValueHistory(walletID)
	for _, e := range m.history[walletID] {
		if err := history.Append(e.Balance, e.AssetsValue, e.TotalValue, e.RecordedAt); err != nil {
			return nil, err
		}
	}
	return history, nil
}

func cloneWallet(w *domain.Wallet) domain.Wallet {
	c := *w
	c.Assets = make(domain.AssetMap, len(w.Assets))
	for k, v := range w.Assets {
		c.Assets[k] = v
	}
	return c
}

// orderStoreAdapter exposes the MemoryStorage order methods under the
// domain.OrderStore method names (Load/Save collide with the wallet ones).
type orderStoreAdapter struct {
	m *MemoryStorage
}

func (a orderStoreAdapter) Load(ctx context.Context, orderID string) (*domain.Order, error) {
	return a.m.LoadOrder(ctx, orderID)
}

func (a orderStoreAdapter) LoadOpen(ctx context.Context, orderTypes ...string) ([]*domain.Order, error) {
	return a.m.LoadOpen(ctx, orderTypes...)
}

func (a orderStoreAdapter) ListByWallet(ctx context.Context, walletID uint) ([]*domain.Order, error) {
	return a.m.ListByWallet(ctx, walletID)
}

func (a orderStoreAdapter) Save(ctx context.Context, order *domain.Order) error {
	return a.m.SaveOrder(ctx, order)
}

// Orders returns the MemoryStorage as a domain.OrderStore.
func (m *MemoryStorage) Orders() domain.OrderStore {
	return orderStoreAdapter{m: m}
}
