// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package swap implements the execution engine that performs configured
// conversions against an allowlist of assets, with per-hop floor-output
// protection for multi-hop routes.
package swap

import (
	"errors"
	"math/big"
	"strconv"
	"sync"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"

	"github.com/Tanwyhang/Gravity-Swap-Protocol/ledger"
	"github.com/Tanwyhang/Gravity-Swap-Protocol/registry"
)

// DefaultHopToleranceBps is the default worst-case shortfall tolerated on
// an intermediate hop: 10%.
const DefaultHopToleranceBps = 1000

// BpsDenominator expresses tolerances in basis points.
const BpsDenominator = 10000

var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrAssetNotAllowed    = errors.New("asset not allowed")
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrInvalidSwapPath    = errors.New("invalid swap path")
	ErrInsufficientOutput = errors.New("insufficient output")
	ErrAmountOverflow     = errors.New("amount exceeds ledger range")
)

// Engine executes conversions at the rates configured in the exchange
// graph. Input is pulled into the engine's custody account once per call;
// intermediate hop proceeds stay in custody and only the final hop pays
// the external recipient.
type Engine struct {
	mu    sync.Mutex
	owner common.Address

	// custody is the engine's own ledger account. It holds pulled input
	// and intermediate hop proceeds, and must be funded with output-side
	// liquidity for conversions to settle.
	custody common.Address

	reg    *registry.Registry
	state  ledger.StateDB
	events *ledger.EventLog

	allowed map[common.Address]bool

	// feeRate is an additional execution fee in parts-per-million applied
	// on top of the edge fee. Defaults to zero; the edge fee model is the
	// pricing source of truth.
	feeRate uint32

	hopToleranceBps uint32
}

// NewEngine creates a swap engine bound to the shared registry and ledger.
func NewEngine(owner, custody common.Address, reg *registry.Registry, state ledger.StateDB, events *ledger.EventLog) *Engine {
	return &Engine{
		owner:           owner,
		custody:         custody,
		reg:             reg,
		state:           state,
		events:          events,
		allowed:         make(map[common.Address]bool),
		hopToleranceBps: DefaultHopToleranceBps,
	}
}

// Custody returns the engine's custody account.
func (e *Engine) Custody() common.Address {
	return e.custody
}

// SetAllowed adds or removes an asset from the execution allowlist.
func (e *Engine) SetAllowed(caller, asset common.Address, flag bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if caller != e.owner {
		return ErrUnauthorized
	}
	old := e.allowed[asset]
	e.allowed[asset] = flag

	e.events.Append("AllowedAssetUpdated", 0, map[string]string{
		"asset": asset.Hex(),
		"old":   strconv.FormatBool(old),
		"new":   strconv.FormatBool(flag),
	})
	return nil
}

// IsAllowed reports whether asset is eligible for execution.
func (e *Engine) IsAllowed(asset common.Address) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.allowed[asset]
}

// SetFeeRate updates the engine's additional execution fee (ppm).
func (e *Engine) SetFeeRate(caller common.Address, feeRate uint32) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if caller != e.owner {
		return ErrUnauthorized
	}
	old := e.feeRate
	e.feeRate = feeRate

	e.events.Append("FeeRateUpdated", 0, map[string]string{
		"old": strconv.Itoa(int(old)),
		"new": strconv.Itoa(int(feeRate)),
	})
	return nil
}

// SetHopTolerance updates the intermediate-hop floor tolerance (bps).
func (e *Engine) SetHopTolerance(caller common.Address, bps uint32) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if caller != e.owner {
		return ErrUnauthorized
	}
	if bps > BpsDenominator {
		return ErrInvalidAmount
	}
	old := e.hopToleranceBps
	e.hopToleranceBps = bps

	e.events.Append("HopToleranceUpdated", 0, map[string]string{
		"old": strconv.Itoa(int(old)),
		"new": strconv.Itoa(int(bps)),
	})
	return nil
}

// HopTolerance returns the configured intermediate-hop tolerance in bps.
func (e *Engine) HopTolerance() uint32 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hopToleranceBps
}

// Swap converts amountIn of assetIn into assetOut at the configured edge
// rate and pays the output to recipient. The computed output must reach
// minOut or the swap fails with no state change.
func (e *Engine) Swap(caller, assetIn, assetOut common.Address, amountIn, minOut *big.Int, recipient common.Address) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.allowed[assetIn] || !e.allowed[assetOut] {
		return nil, ErrAssetNotAllowed
	}
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}

	out := e.hopOut(assetIn, assetOut, amountIn)
	if minOut != nil && out.Cmp(minOut) < 0 {
		return nil, insufficientOutput(minOut, out)
	}

	snap := e.state.Snapshot()
	if err := e.settleHop(caller, assetIn, amountIn, assetOut, out, recipient); err != nil {
		e.state.RevertToSnapshot(snap)
		return nil, err
	}

	e.emitSwap(assetIn, assetOut, amountIn, out, recipient)
	return out, nil
}

// MultihopSwap executes every hop of route in sequence. The full input is
// pulled from caller once up front; each hop except the last is checked
// against a floor of its own input scaled by the hop tolerance, so a
// single disadvantageous hop cannot drain more than the configured
// fraction. Only the final hop is checked against minOutFinal and paid to
// recipient.
func (e *Engine) MultihopSwap(caller, assetIn common.Address, route []common.Address, amountIn, minOutFinal *big.Int, recipient common.Address) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(route) < 2 || route[0] != assetIn {
		return nil, ErrInvalidSwapPath
	}
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	for _, asset := range route {
		if !e.allowed[asset] {
			return nil, ErrAssetNotAllowed
		}
	}

	snap := e.state.Snapshot()
	mark := e.events.Mark()

	// Single custody transfer up front, not per hop.
	in, err := toLedgerAmount(amountIn)
	if err != nil {
		return nil, err
	}
	if err := e.state.SubBalance(assetIn, caller, in); err != nil {
		return nil, err
	}
	e.state.AddBalance(assetIn, e.custody, in)

	amount := new(big.Int).Set(amountIn)
	var realized *big.Int
	for i := 0; i < len(route)-1; i++ {
		hopIn, hopOutAsset := route[i], route[i+1]
		final := i == len(route)-2

		out := e.hopOut(hopIn, hopOutAsset, amount)

		var floor *big.Int
		if final {
			floor = minOutFinal
		} else {
			floor = e.hopFloor(amount)
		}
		if floor != nil && out.Cmp(floor) < 0 {
			e.state.RevertToSnapshot(snap)
			e.events.Rewind(mark)
			return nil, insufficientOutput(floor, out)
		}

		payTo := e.custody
		if final {
			payTo = recipient
		}
		if err := e.convertInCustody(hopIn, amount, hopOutAsset, out, payTo); err != nil {
			e.state.RevertToSnapshot(snap)
			e.events.Rewind(mark)
			return nil, err
		}
		e.emitSwap(hopIn, hopOutAsset, amount, out, payTo)

		amount = out
		realized = out
	}
	return realized, nil
}

// hopOut prices one hop: the edge fold plus the engine's own fee.
func (e *Engine) hopOut(assetIn, assetOut common.Address, amountIn *big.Int) *big.Int {
	out := e.reg.HopQuote(assetIn, assetOut, amountIn)
	if out.Sign() == 0 || e.feeRate == 0 {
		return out
	}
	fee := new(big.Int).Mul(out, big.NewInt(int64(e.feeRate)))
	fee.Div(fee, big.NewInt(registry.FeeDenominator))
	return out.Sub(out, fee)
}

// hopFloor is amountIn scaled by (1 - hopTolerance), never below one unit.
func (e *Engine) hopFloor(amountIn *big.Int) *big.Int {
	floor := new(big.Int).Mul(amountIn, big.NewInt(int64(BpsDenominator-e.hopToleranceBps)))
	floor.Div(floor, big.NewInt(BpsDenominator))
	if floor.Sign() == 0 {
		floor.SetInt64(1)
	}
	return floor
}

// settleHop moves input from caller to custody and output from custody to
// recipient for a direct swap.
func (e *Engine) settleHop(caller, assetIn common.Address, amountIn *big.Int, assetOut common.Address, amountOut *big.Int, recipient common.Address) error {
	in, err := toLedgerAmount(amountIn)
	if err != nil {
		return err
	}
	if err := e.state.SubBalance(assetIn, caller, in); err != nil {
		return err
	}
	e.state.AddBalance(assetIn, e.custody, in)
	return e.payOut(assetOut, amountOut, recipient)
}

// convertInCustody consumes input already held in custody and pays the
// output leg.
func (e *Engine) convertInCustody(assetIn common.Address, amountIn *big.Int, assetOut common.Address, amountOut *big.Int, recipient common.Address) error {
	in, err := toLedgerAmount(amountIn)
	if err != nil {
		return err
	}
	if err := e.state.SubBalance(assetIn, e.custody, in); err != nil {
		return err
	}
	return e.payOut(assetOut, amountOut, recipient)
}

func (e *Engine) payOut(assetOut common.Address, amountOut *big.Int, recipient common.Address) error {
	out, err := toLedgerAmount(amountOut)
	if err != nil {
		return err
	}
	if err := e.state.SubBalance(assetOut, e.custody, out); err != nil {
		return err
	}
	e.state.AddBalance(assetOut, recipient, out)
	return nil
}

func (e *Engine) emitSwap(assetIn, assetOut common.Address, amountIn, amountOut *big.Int, recipient common.Address) {
	e.events.Append("SwapExecuted", 0, map[string]string{
		"assetIn":   assetIn.Hex(),
		"assetOut":  assetOut.Hex(),
		"amountIn":  amountIn.String(),
		"amountOut": amountOut.String(),
		"recipient": recipient.Hex(),
	})
}

func insufficientOutput(required, received *big.Int) error {
	return &InsufficientOutputError{
		Required: new(big.Int).Set(required),
		Received: new(big.Int).Set(received),
	}
}

// InsufficientOutputError reports a floor violation with the amounts that
// triggered it. It unwraps to ErrInsufficientOutput.
type InsufficientOutputError struct {
	Required *big.Int
	Received *big.Int
}

func (e *InsufficientOutputError) Error() string {
	return "insufficient output: required " + e.Required.String() + ", received " + e.Received.String()
}

func (e *InsufficientOutputError) Unwrap() error { return ErrInsufficientOutput }

func toLedgerAmount(amount *big.Int) (*uint256.Int, error) {
	u, overflow := uint256.FromBig(amount)
	if overflow {
		return nil, ErrAmountOverflow
	}
	return u, nil
}
