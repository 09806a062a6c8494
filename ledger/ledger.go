// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package ledger provides the settlement ledger primitives shared by the
// registry, swap engine and payment router: per-asset balance state with
// snapshot/revert journaling, and the append-only audit event log.
package ledger

import (
	"errors"
	"sync"
	"time"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidSnapshot     = errors.New("invalid snapshot id")
)

// StateDB is the narrow ledger surface the settlement components depend on.
// Balances are tracked per (asset, holder) pair. Snapshot/RevertToSnapshot
// give the payment router all-or-nothing semantics: every balance mutation
// between a snapshot and a revert is undone exactly.
type StateDB interface {
	GetBalance(asset, holder common.Address) *uint256.Int
	AddBalance(asset, holder common.Address, amount *uint256.Int)
	SubBalance(asset, holder common.Address, amount *uint256.Int) error
	Snapshot() int
	RevertToSnapshot(id int)
	Timestamp() int64
}

// journalEntry records the previous balance of one (asset, holder) slot so
// a revert can restore it.
type journalEntry struct {
	asset  common.Address
	holder common.Address
	prev   *uint256.Int
}

// MemoryLedger is an in-memory StateDB with an undo journal.
type MemoryLedger struct {
	mu        sync.RWMutex
	balances  map[common.Address]map[common.Address]*uint256.Int
	journal   []journalEntry
	snapshots []int // journal lengths at snapshot time

	// now is overridable in tests
	now func() int64
}

var _ StateDB = (*MemoryLedger)(nil)

// NewMemoryLedger creates an empty in-memory ledger.
func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		balances: make(map[common.Address]map[common.Address]*uint256.Int),
		now:      func() int64 { return time.Now().Unix() },
	}
}

// SetClock overrides the ledger clock. Test hook.
func (l *MemoryLedger) SetClock(now func() int64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.now = now
}

// GetBalance returns a copy of the holder's balance of asset.
func (l *MemoryLedger) GetBalance(asset, holder common.Address) *uint256.Int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	holders := l.balances[asset]
	if holders == nil {
		return uint256.NewInt(0)
	}
	bal := holders[holder]
	if bal == nil {
		return uint256.NewInt(0)
	}
	return new(uint256.Int).Set(bal)
}

// AddBalance credits amount of asset to holder.
func (l *MemoryLedger) AddBalance(asset, holder common.Address, amount *uint256.Int) {
	if amount == nil || amount.IsZero() {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	prev := l.balance(asset, holder)
	l.journal = append(l.journal, journalEntry{asset, holder, new(uint256.Int).Set(prev)})
	l.setBalance(asset, holder, new(uint256.Int).Add(prev, amount))
}

// SubBalance debits amount of asset from holder. The balance must cover the
// full amount; partial debits never happen.
func (l *MemoryLedger) SubBalance(asset, holder common.Address, amount *uint256.Int) error {
	if amount == nil || amount.IsZero() {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	prev := l.balance(asset, holder)
	if prev.Lt(amount) {
		return ErrInsufficientBalance
	}
	l.journal = append(l.journal, journalEntry{asset, holder, new(uint256.Int).Set(prev)})
	l.setBalance(asset, holder, new(uint256.Int).Sub(prev, amount))
	return nil
}

// Mint credits amount without journaling. Bootstrap/test faucet; never used
// inside a payment attempt.
func (l *MemoryLedger) Mint(asset, holder common.Address, amount *uint256.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	prev := l.balance(asset, holder)
	l.setBalance(asset, holder, new(uint256.Int).Add(prev, amount))
}

// Snapshot marks the current journal position and returns its id.
func (l *MemoryLedger) Snapshot() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	id := len(l.snapshots)
	l.snapshots = append(l.snapshots, len(l.journal))
	return id
}

// RevertToSnapshot unwinds every balance change made since the snapshot.
// An unknown id is a programming error and panics, matching StateDB
// implementations the router is modeled on.
func (l *MemoryLedger) RevertToSnapshot(id int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if id < 0 || id >= len(l.snapshots) {
		panic(ErrInvalidSnapshot)
	}
	mark := l.snapshots[id]
	for i := len(l.journal) - 1; i >= mark; i-- {
		e := l.journal[i]
		l.setBalance(e.asset, e.holder, e.prev)
	}
	l.journal = l.journal[:mark]
	l.snapshots = l.snapshots[:id]
}

// Timestamp returns the ledger clock reading.
func (l *MemoryLedger) Timestamp() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.now()
}

func (l *MemoryLedger) balance(asset, holder common.Address) *uint256.Int {
	holders := l.balances[asset]
	if holders == nil {
		return uint256.NewInt(0)
	}
	bal := holders[holder]
	if bal == nil {
		return uint256.NewInt(0)
	}
	return bal
}

func (l *MemoryLedger) setBalance(asset, holder common.Address, amount *uint256.Int) {
	holders := l.balances[asset]
	if holders == nil {
		holders = make(map[common.Address]*uint256.Int)
		l.balances[asset] = holders
	}
	holders[holder] = amount
}
