package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Wallet statuses
const (
	WalletStatusActive = "ACTIVE"
	WalletStatusFrozen = "FROZEN"
)

// AssetMap maps a coin id (e.g. "bitcoin") to the held quantity.
// Invariant: every stored quantity is strictly positive; a coin that is
// fully sold is removed from the map, never kept at zero.
type AssetMap map[string]decimal.Decimal

// Value implements driver.Valuer so gorm can store the map as a JSON column.
func (m AssetMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner for reading the JSON column back.
func (m *AssetMap) Scan(src any) error {
	if src == nil {
		*m = AssetMap{}
		return nil
	}
	var data []byte
	switch v := src.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported asset map source type %T", src)
	}
	if len(data) == 0 {
		*m = AssetMap{}
		return nil
	}
	return json.Unmarshal(data, m)
}

// Wallet is a user's paper-trading account: a virtual USD balance plus
// crypto holdings. Balance and assets are mutated only by order execution;
// the revaluation loop touches the value fields only.
type Wallet struct {
	ID                uint            `gorm:"primaryKey" json:"id"`
	OwnerID           uint            `gorm:"index" json:"owner_id"`
	Balance           decimal.Decimal `gorm:"type:text" json:"balance"`
	Assets            AssetMap        `gorm:"type:text" json:"assets"`
	TotalCurrentValue decimal.Decimal `gorm:"type:text" json:"total_current_value"`
	Status            string          `gorm:"index" json:"status"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// NewWallet creates an active wallet with the given starting balance.
func NewWallet(ownerID uint, startingBalance decimal.Decimal) *Wallet {
	return &Wallet{
		OwnerID:           ownerID,
		Balance:           startingBalance,
		Assets:            AssetMap{},
		TotalCurrentValue: startingBalance,
		Status:            WalletStatusActive,
	}
}

// HasEnoughBalance reports whether the wallet can cover a USD amount.
func (w *Wallet) HasEnoughBalance(amount decimal.Decimal) bool {
	return w.Balance.GreaterThanOrEqual(amount)
}

// HasEnoughCoins reports whether the wallet holds at least qty of a coin.
func (w *Wallet) HasEnoughCoins(coinID string, qty decimal.Decimal) bool {
	held, ok := w.Assets[coinID]
	if !ok {
		return false
	}
	return held.GreaterThanOrEqual(qty)
}

// AddBalance credits the USD balance.
func (w *Wallet) AddBalance(amount decimal.Decimal) {
	w.Balance = w.Balance.Add(amount)
}

// SubtractBalance debits the USD balance. Callers must check
// HasEnoughBalance first; a debit past zero is an invariant violation.
func (w *Wallet) SubtractBalance(amount decimal.Decimal) error {
	if amount.GreaterThan(w.Balance) {
		return fmt.Errorf("%w: debit %s exceeds balance %s",
			ErrInvariantViolation, amount.String(), w.Balance.String())
	}
	w.Balance = w.Balance.Sub(amount)
	return nil
}

// AddAsset credits qty of a coin, creating the entry if absent.
func (w *Wallet) AddAsset(coinID string, qty decimal.Decimal) {
	if w.Assets == nil {
		w.Assets = AssetMap{}
	}
	if held, ok := w.Assets[coinID]; ok {
		w.Assets[coinID] = held.Add(qty)
		return
	}
	w.Assets[coinID] = qty
}

// SubtractAsset debits qty of a coin. A position sold down to exactly zero
// is removed from the map. Callers must check HasEnoughCoins first.
func (w *Wallet) SubtractAsset(coinID string, qty decimal.Decimal) error {
	held, ok := w.Assets[coinID]
	if !ok || qty.GreaterThan(held) {
		return fmt.Errorf("%w: debit %s %s exceeds holdings %s",
			ErrInvariantViolation, qty.String(), coinID, held.String())
	}
	remaining := held.Sub(qty)
	if remaining.IsZero() {
		delete(w.Assets, coinID)
		return nil
	}
	w.Assets[coinID] = remaining
	return nil
}

// AssetsValue computes the USD value of all holdings using the given
// prices. Coins without a known price contribute zero for this pass.
func (w *Wallet) AssetsValue(prices map[string]decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for coinID, qty := range w.Assets {
		price, ok := prices[coinID]
		if !ok {
			continue
		}
		total = total.Add(qty.Mul(price))
	}
	return total
}

// VerifyInvariant checks the wallet's structural invariants.
func (w *Wallet) VerifyInvariant() error {
	if w.Balance.IsNegative() {
		return fmt.Errorf("%w: negative balance %s", ErrInvariantViolation, w.Balance.String())
	}
	for coinID, qty := range w.Assets {
		if !qty.IsPositive() {
			return fmt.Errorf("%w: non-positive holding %s=%s", ErrInvariantViolation, coinID, qty.String())
		}
	}
	return nil
}
