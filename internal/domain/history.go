package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ValueHistoryEntry is one persisted snapshot of a wallet's value.
type ValueHistoryEntry struct {
	ID          uint            `gorm:"primaryKey" json:"id"`
	WalletID    uint            `gorm:"index" json:"wallet_id"`
	Balance     decimal.Decimal `gorm:"type:text" json:"balance"`
	AssetsValue decimal.Decimal `gorm:"type:text" json:"assets_value"`
	TotalValue  decimal.Decimal `gorm:"type:text" json:"total_value"`
	RecordedAt  time.Time       `gorm:"index" json:"recorded_at"`
}

// ValueHistory is a wallet's append-only value series, exposed as four
// parallel slices of equal length. Index i across all four describes one
// snapshot, and TotalValues[i] = Balances[i] + AssetsValues[i].
type ValueHistory struct {
	WalletID     uint              `json:"wallet_id"`
	Balances     []decimal.Decimal `json:"balance_history"`
	AssetsValues []decimal.Decimal `json:"assets_value_history"`
	TotalValues  []decimal.Decimal `json:"total_value_history"`
	Timestamps   []time.Time       `json:"timestamps"`
}

// NewValueHistory creates an empty history for a wallet.
func NewValueHistory(walletID uint) *ValueHistory {
	return &ValueHistory{WalletID: walletID}
}

// Len returns the number of snapshots.
func (h *ValueHistory) Len() int {
	return len(h.Timestamps)
}

// Append adds one snapshot. The total must equal balance plus assets
// value exactly; violating that is a bug in the caller, not bad input.
func (h *ValueHistory) Append(balance, assetsValue, totalValue decimal.Decimal, at time.Time) error {
	if !totalValue.Equal(balance.Add(assetsValue)) {
		return fmt.Errorf("%w: total %s != balance %s + assets %s",
			ErrInvariantViolation, totalValue.String(), balance.String(), assetsValue.String())
	}
	h.Balances = append(h.Balances, balance)
	h.AssetsValues = append(h.AssetsValues, assetsValue)
	h.TotalValues = append(h.TotalValues, totalValue)
	h.Timestamps = append(h.Timestamps, at)
	return nil
}

// VerifyInvariant checks that the four series are parallel and that every
// row sums correctly.
func (h *ValueHistory) VerifyInvariant() error {
	n := len(h.Timestamps)
	if len(h.Balances) != n || len(h.AssetsValues) != n || len(h.TotalValues) != n {
		return fmt.Errorf("%w: history series lengths diverge (%d/%d/%d/%d)",
			ErrInvariantViolation, len(h.Balances), len(h.AssetsValues), len(h.TotalValues), n)
	}
	for i := 0; i < n; i++ {
		if !h.TotalValues[i].Equal(h.Balances[i].Add(h.AssetsValues[i])) {
			return fmt.Errorf("%w: history row %d does not sum", ErrInvariantViolation, i)
		}
	}
	return nil
}
