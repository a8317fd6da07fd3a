package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	SideBuy  = "BUY"
	SideSell = "SELL"

	OrderTypeMarket = "MARKET"
	OrderTypeLimit  = "LIMIT"
	OrderTypeStop   = "STOP"

	OrderStatusOpen      = "OPEN"
	OrderStatusFinished  = "FINISHED"
	OrderStatusCancelled = "CANCELLED"
)

// Order is a single buy/sell instruction against a wallet.
// Limit and stop orders start OPEN and are settled by the matching engine;
// market orders are constructed already FINISHED. The transition out of
// OPEN happens exactly once, to either FINISHED or CANCELLED.
type Order struct {
	ID       string `gorm:"primaryKey" json:"id"`
	WalletID uint   `gorm:"index" json:"wallet_id"`
	Status   string `gorm:"index" json:"status"`
	Side     string `json:"side"`
	Type     string `gorm:"index" json:"type"`
	CoinID   string `json:"coin_id"`

	Quantity     decimal.Decimal `gorm:"type:text" json:"quantity"`
	PricePerUnit decimal.Decimal `gorm:"type:text" json:"price_per_unit"`

	// ExecutionPrice is set if and only if the order is FINISHED. For limit
	// and stop orders it is the market price at trigger time, which may
	// differ from PricePerUnit (slippage is accepted, not an error).
	ExecutionPrice decimal.NullDecimal `gorm:"type:text" json:"execution_price"`

	BalanceBefore decimal.Decimal `gorm:"type:text" json:"balance_before"`
	// BalanceAfter stays null while the order is OPEN and on CANCELLED
	// orders (a cancel changes no balance).
	BalanceAfter decimal.NullDecimal `gorm:"type:text" json:"balance_after"`

	Visibility bool      `json:"visibility"`
	Likes      uint      `json:"likes"`
	CreatedAt  time.Time `json:"created_at"`
}

// NewOpenOrder creates an OPEN limit or stop order awaiting a trigger.
func NewOpenOrder(walletID uint, side, orderType, coinID string, qty, pricePerUnit, balanceBefore decimal.Decimal) *Order {
	return &Order{
		ID:            uuid.NewString(),
		WalletID:      walletID,
		Status:        OrderStatusOpen,
		Side:          side,
		Type:          orderType,
		CoinID:        coinID,
		Quantity:      qty,
		PricePerUnit:  pricePerUnit,
		BalanceBefore: balanceBefore,
		CreatedAt:     time.Now(),
	}
}

// NewMarketOrder creates a FINISHED market order executed at price. The
// caller settles the wallet ledger with the same price.
func NewMarketOrder(walletID uint, side, coinID string, qty, price, balanceBefore decimal.Decimal) *Order {
	o := &Order{
		ID:            uuid.NewString(),
		WalletID:      walletID,
		Status:        OrderStatusOpen,
		Side:          side,
		Type:          OrderTypeMarket,
		CoinID:        coinID,
		Quantity:      qty,
		PricePerUnit:  price,
		BalanceBefore: balanceBefore,
		CreatedAt:     time.Now(),
	}
	// Cannot fail: the order was just constructed OPEN.
	_ = o.Execute(price)
	return o
}

// IsOpen reports whether the order is still awaiting settlement.
func (o *Order) IsOpen() bool {
	return o.Status == OrderStatusOpen
}

// Execute finishes an OPEN order at executionPrice. BalanceAfter is
// BalanceBefore minus cost for a buy, plus proceeds for a sell.
func (o *Order) Execute(executionPrice decimal.Decimal) error {
	if o.Status != OrderStatusOpen {
		return fmt.Errorf("%w: execute on %s order %s", ErrInvalidStateTransition, o.Status, o.ID)
	}
	total := o.Quantity.Mul(executionPrice)
	after := o.BalanceBefore.Sub(total)
	if o.Side == SideSell {
		after = o.BalanceBefore.Add(total)
	}
	o.ExecutionPrice = decimal.NewNullDecimal(executionPrice)
	o.BalanceAfter = decimal.NewNullDecimal(after)
	o.Status = OrderStatusFinished
	return nil
}

// Cancel aborts an OPEN order. BalanceAfter is left null: no balance
// change occurred.
func (o *Order) Cancel() error {
	if o.Status != OrderStatusOpen {
		return fmt.Errorf("%w: cancel on %s order %s", ErrInvalidStateTransition, o.Status, o.ID)
	}
	o.Status = OrderStatusCancelled
	return nil
}

// Triggered reports whether the current market price satisfies the
// order's trigger condition:
//
//	limit buy:  price <= PricePerUnit
//	limit sell: price >= PricePerUnit
//	stop buy:   price >= PricePerUnit
//	stop sell:  price <= PricePerUnit
func (o *Order) Triggered(marketPrice decimal.Decimal) bool {
	switch o.Type {
	case OrderTypeLimit:
		if o.Side == SideBuy {
			return marketPrice.LessThanOrEqual(o.PricePerUnit)
		}
		return marketPrice.GreaterThanOrEqual(o.PricePerUnit)
	case OrderTypeStop:
		if o.Side == SideBuy {
			return marketPrice.GreaterThanOrEqual(o.PricePerUnit)
		}
		return marketPrice.LessThanOrEqual(o.PricePerUnit)
	default:
		return false
	}
}
