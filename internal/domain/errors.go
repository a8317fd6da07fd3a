package domain

import "errors"

// RetriableError defines an interface for errors that can be retried
type RetriableError interface {
	error
	IsRetriable() bool
}

// IsRetriable checks if an error is retriable
func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}

// NetworkError represents a network-related error that may be retriable
type NetworkError struct {
	Op        string // Operation that failed (e.g., "fetch_prices", "list_coins")
	Err       error  // Underlying error
	Retriable bool   // Whether this error is retriable
}

func (e *NetworkError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *NetworkError) IsRetriable() bool {
	return e.Retriable
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// NewNetworkError creates a new retriable network error
func NewNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: true}
}

// NewFatalNetworkError creates a non-retriable network error
func NewFatalNetworkError(op string, err error) *NetworkError {
	return &NetworkError{Op: op, Err: err, Retriable: false}
}

// ConfigError represents a configuration error (never retriable)
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return "config error [" + e.Field + "]: " + e.Err.Error()
}

func (e *ConfigError) IsRetriable() bool {
	return false
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

var (
	// ErrInsufficientFunds is returned when a wallet's USD balance cannot
	// cover an order. Nothing is mutated; the caller may retry with
	// adjusted parameters.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInsufficientHoldings is returned when a wallet does not hold
	// enough of a coin to cover a sell.
	ErrInsufficientHoldings = errors.New("insufficient holdings")

	// ErrInvalidStateTransition is returned on execute/cancel of an order
	// that is not OPEN. Seeing it in logs means two writers raced on the
	// same order.
	ErrInvalidStateTransition = errors.New("invalid order state transition")

	// ErrInvariantViolation is returned when a ledger mutation would break
	// a wallet or history invariant. Callers are expected to check
	// sufficiency first, so this is defensive.
	ErrInvariantViolation = errors.New("invariant violation")

	// ErrPriceUnavailable is returned when a coin has no usable price this
	// pass. The item is skipped and retried on the next pass.
	ErrPriceUnavailable = errors.New("price unavailable")

	// ErrInvalidOrder is returned for malformed order parameters
	// (non-positive quantity or price, unknown side/type/coin).
	ErrInvalidOrder = errors.New("invalid order parameters")

	// ErrWalletNotFound is returned when a wallet id does not exist
	ErrWalletNotFound = errors.New("wallet not found")

	// ErrOrderNotFound is returned when an order id does not exist
	ErrOrderNotFound = errors.New("order not found")
)
