// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package ledger

import (
	"errors"
	"testing"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
)

var (
	testAsset  = common.HexToAddress("0x1111111111111111111111111111111111111111")
	testAsset2 = common.HexToAddress("0x2222222222222222222222222222222222222222")
	testHolder = common.HexToAddress("0x3333333333333333333333333333333333333333")
	testOther  = common.HexToAddress("0x4444444444444444444444444444444444444444")
)

func TestMemoryLedger_AddSubBalance(t *testing.T) {
	l := NewMemoryLedger()

	l.AddBalance(testAsset, testHolder, uint256.NewInt(100))
	if got := l.GetBalance(testAsset, testHolder); got.Uint64() != 100 {
		t.Fatalf("balance = %d, want 100", got.Uint64())
	}

	if err := l.SubBalance(testAsset, testHolder, uint256.NewInt(40)); err != nil {
		t.Fatalf("SubBalance failed: %v", err)
	}
	if got := l.GetBalance(testAsset, testHolder); got.Uint64() != 60 {
		t.Fatalf("balance = %d, want 60", got.Uint64())
	}

	// Balances are per asset
	if got := l.GetBalance(testAsset2, testHolder); !got.IsZero() {
		t.Fatal("expected zero balance for other asset")
	}
}

func TestMemoryLedger_SubBalanceInsufficient(t *testing.T) {
	l := NewMemoryLedger()
	l.AddBalance(testAsset, testHolder, uint256.NewInt(10))

	err := l.SubBalance(testAsset, testHolder, uint256.NewInt(11))
	if !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("err = %v, want ErrInsufficientBalance", err)
	}
	// Failed debit must not change the balance
	if got := l.GetBalance(testAsset, testHolder); got.Uint64() != 10 {
		t.Fatalf("balance = %d, want 10", got.Uint64())
	}
}

func TestMemoryLedger_SnapshotRevert(t *testing.T) {
	l := NewMemoryLedger()
	l.Mint(testAsset, testHolder, uint256.NewInt(1000))

	snap := l.Snapshot()

	if err := l.SubBalance(testAsset, testHolder, uint256.NewInt(300)); err != nil {
		t.Fatalf("SubBalance failed: %v", err)
	}
	l.AddBalance(testAsset, testOther, uint256.NewInt(300))
	l.AddBalance(testAsset2, testOther, uint256.NewInt(7))

	l.RevertToSnapshot(snap)

	if got := l.GetBalance(testAsset, testHolder); got.Uint64() != 1000 {
		t.Fatalf("holder balance = %d, want 1000", got.Uint64())
	}
	if got := l.GetBalance(testAsset, testOther); !got.IsZero() {
		t.Fatalf("other balance = %d, want 0", got.Uint64())
	}
	if got := l.GetBalance(testAsset2, testOther); !got.IsZero() {
		t.Fatal("second asset balance should be reverted")
	}
}

func TestMemoryLedger_NestedSnapshots(t *testing.T) {
	l := NewMemoryLedger()
	l.Mint(testAsset, testHolder, uint256.NewInt(100))

	outer := l.Snapshot()
	l.AddBalance(testAsset, testHolder, uint256.NewInt(1))

	inner := l.Snapshot()
	l.AddBalance(testAsset, testHolder, uint256.NewInt(1))

	l.RevertToSnapshot(inner)
	if got := l.GetBalance(testAsset, testHolder); got.Uint64() != 101 {
		t.Fatalf("balance after inner revert = %d, want 101", got.Uint64())
	}

	l.RevertToSnapshot(outer)
	if got := l.GetBalance(testAsset, testHolder); got.Uint64() != 100 {
		t.Fatalf("balance after outer revert = %d, want 100", got.Uint64())
	}
}

func TestEventLog_AppendAndQuery(t *testing.T) {
	el := NewEventLog()
	ts := int64(1000)
	el.SetClock(func() int64 { ts++; return ts })

	el.Append("AssetRegistered", 0, map[string]string{"asset": testAsset.Hex()})
	el.Append("PaymentSettled", 7, nil)
	el.Append("SwapExecuted", 7, nil)

	if el.Len() != 3 {
		t.Fatalf("len = %d, want 3", el.Len())
	}

	byPayment := el.ByPaymentID(7)
	if len(byPayment) != 2 {
		t.Fatalf("events for payment 7 = %d, want 2", len(byPayment))
	}
	if byPayment[0].Name != "PaymentSettled" || byPayment[1].Name != "SwapExecuted" {
		t.Fatal("payment events out of order")
	}

	// Sequence numbers are strictly increasing
	all := el.All()
	for i := 1; i < len(all); i++ {
		if all[i].Sequence <= all[i-1].Sequence {
			t.Fatal("sequence numbers not increasing")
		}
	}

	inRange := el.InRange(1002, 1003)
	if len(inRange) != 2 {
		t.Fatalf("events in range = %d, want 2", len(inRange))
	}
}

func TestEventLog_MarkRewind(t *testing.T) {
	el := NewEventLog()
	el.Append("AssetRegistered", 0, nil)

	mark := el.Mark()
	el.Append("SwapExecuted", 1, nil)
	el.Append("SwapExecuted", 1, nil)

	el.Rewind(mark)
	if el.Len() != 1 {
		t.Fatalf("len after rewind = %d, want 1", el.Len())
	}

	// Sequence numbers of dropped events are not reissued
	ev := el.Append("PaymentSettled", 1, nil)
	if ev.Sequence != 4 {
		t.Fatalf("sequence = %d, want 4", ev.Sequence)
	}
}
