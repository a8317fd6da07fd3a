package service

import "sync"

// WalletLocks serializes all writers of one wallet: the trading service
// and the matching engine both take the wallet's lock around their
// check-then-act sequence, so a concurrent handler and background pass
// cannot interleave on the same rows.
type WalletLocks struct {
	mu    sync.Mutex
	locks map[uint]*sync.Mutex
}

// NewWalletLocks creates an empty lock table.
func NewWalletLocks() *WalletLocks {
	return &WalletLocks{locks: make(map[uint]*sync.Mutex)}
}

// Lock acquires the wallet's mutex, creating it on first use, and
// returns the unlock function.
func (l *WalletLocks) Lock(walletID uint) func() {
	l.mu.Lock()
	m, ok := l.locks[walletID]
	if !ok {
		m = &sync.Mutex{}
		l.locks[walletID] = m
	}
	l.mu.Unlock()

	m.Lock()
	return m.Unlock
}
