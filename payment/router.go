// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package payment implements the settlement orchestrator: the authoritative
// entry point that collects funds, revalidates and prices a proposed route,
// drives the swap engine, deducts the protocol fee and records the payment.
package payment

import (
	"errors"
	"math/big"
	"strconv"
	"sync"
	"time"

	"github.com/holiman/uint256"
	"github.com/luxfi/database"
	"github.com/luxfi/geth/common"

	"github.com/Tanwyhang/Gravity-Swap-Protocol/ledger"
	"github.com/Tanwyhang/Gravity-Swap-Protocol/registry"
	"github.com/Tanwyhang/Gravity-Swap-Protocol/swap"
)

// DefaultSlippageBps is the default protocol-side slippage tolerance: 0.5%.
const DefaultSlippageBps = 50

// BpsDenominator expresses fees and tolerances in basis points.
const BpsDenominator = 10000

var (
	ErrUnauthorized      = errors.New("unauthorized")
	ErrReentrant         = errors.New("reentrancy detected")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrInvalidSwapPath   = errors.New("invalid swap path")
	ErrAssetNotSupported = errors.New("asset not supported")
	ErrInvalidParameter  = errors.New("invalid parameter")
)

// Router settles payments into a single fixed settlement asset. Every route
// and price a caller supplies is re-derived here before value moves; the
// path finder's output is advisory only.
type Router struct {
	mu     sync.Mutex
	locked bool // reentrancy latch across the public entry point

	owner   common.Address
	custody common.Address
	target  common.Address // the settlement asset

	reg    *registry.Registry
	engine *swap.Engine
	state  ledger.StateDB
	events *ledger.EventLog
	store  *recordStore

	protocolFeeBps uint32
	slippageBps    uint32

	// intermediates is an opt-in denylist: assets never configured here are
	// permitted by default; an explicit false entry blocks the asset.
	intermediates map[common.Address]bool

	nextPaymentID uint64
	totalFees     *big.Int

	now func() int64
}

// NewRouter creates a settlement router. The payment record store lives on
// db; if earlier records exist there the id sequence resumes after them.
func NewRouter(
	owner, custody, target common.Address,
	reg *registry.Registry,
	engine *swap.Engine,
	state ledger.StateDB,
	events *ledger.EventLog,
	db database.Database,
) (*Router, error) {
	store := newRecordStore(db)
	last, err := store.lastID()
	if err != nil {
		return nil, err
	}
	return &Router{
		owner:          owner,
		custody:        custody,
		target:         target,
		reg:            reg,
		engine:         engine,
		state:          state,
		events:         events,
		store:          store,
		protocolFeeBps: 0,
		slippageBps:    DefaultSlippageBps,
		intermediates:  make(map[common.Address]bool),
		nextPaymentID:  last,
		totalFees:      big.NewInt(0),
		now:            func() int64 { return time.Now().Unix() },
	}, nil
}

// SetClock overrides the router clock. Test hook.
func (rt *Router) SetClock(now func() int64) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.now = now
}

// Target returns the fixed settlement asset.
func (rt *Router) Target() common.Address {
	return rt.target
}

// IsAssetSupported reports whether asset is registered and tradable.
func (rt *Router) IsAssetSupported(asset common.Address) bool {
	return rt.reg.IsSupported(asset)
}

// SetProtocolFee updates the protocol fee (bps of realized output).
func (rt *Router) SetProtocolFee(caller common.Address, bps uint32) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if caller != rt.owner {
		return ErrUnauthorized
	}
	if bps > BpsDenominator {
		return ErrInvalidParameter
	}
	old := rt.protocolFeeBps
	rt.protocolFeeBps = bps

	rt.events.Append("ProtocolFeeUpdated", 0, map[string]string{
		"old": strconv.Itoa(int(old)),
		"new": strconv.Itoa(int(bps)),
	})
	return nil
}

// SetDefaultSlippageTolerance updates the protocol-side slippage bound (bps).
func (rt *Router) SetDefaultSlippageTolerance(caller common.Address, bps uint32) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if caller != rt.owner {
		return ErrUnauthorized
	}
	if bps > BpsDenominator {
		return ErrInvalidParameter
	}
	old := rt.slippageBps
	rt.slippageBps = bps

	rt.events.Append("SlippageToleranceUpdated", 0, map[string]string{
		"old": strconv.Itoa(int(old)),
		"new": strconv.Itoa(int(bps)),
	})
	return nil
}

// SetAllowedIntermediate explicitly allows or denies an asset as a route
// intermediate. Assets never configured here remain permitted.
func (rt *Router) SetAllowedIntermediate(caller, asset common.Address, allowed bool) error {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	if caller != rt.owner {
		return ErrUnauthorized
	}
	old, configured := rt.intermediates[asset]
	rt.intermediates[asset] = allowed

	attrs := map[string]string{
		"asset": asset.Hex(),
		"new":   strconv.FormatBool(allowed),
	}
	if configured {
		attrs["old"] = strconv.FormatBool(old)
	}
	rt.events.Append("AllowedIntermediateUpdated", 0, attrs)
	return nil
}

// TotalFeesCollected returns the cumulative protocol fee taken, in units of
// the settlement asset.
func (rt *Router) TotalFeesCollected() *big.Int {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return new(big.Int).Set(rt.totalFees)
}

// PaymentCount returns the number of settled payments.
func (rt *Router) PaymentCount() uint64 {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.nextPaymentID
}

// Payment returns the immutable record for a settled payment id.
func (rt *Router) Payment(id uint64) (*PaymentRecord, error) {
	return rt.store.get(id)
}

// Pay settles a bill: pulls amountIn of assetIn from payer, converts it
// along route into the settlement asset, deducts the protocol fee and pays
// the remainder to recipient. The whole attempt is all-or-nothing: any
// failure reverts every balance change and staged event, returns no payment
// id, and leaves ledger state identical to before the call.
func (rt *Router) Pay(
	payer common.Address,
	eventID string,
	assetIn common.Address,
	amountIn *big.Int,
	recipient common.Address,
	minOut *big.Int,
	route []common.Address,
) (uint64, *big.Int, error) {
	rt.mu.Lock()
	if rt.locked {
		rt.mu.Unlock()
		return 0, nil, ErrReentrant
	}
	rt.locked = true
	rt.mu.Unlock()

	defer func() {
		rt.mu.Lock()
		rt.locked = false
		rt.mu.Unlock()
	}()

	if err := rt.checkIntent(assetIn, amountIn, minOut, route); err != nil {
		return 0, nil, err
	}

	snap := rt.state.Snapshot()
	mark := rt.events.Mark()

	id, net, err := rt.settle(payer, eventID, assetIn, amountIn, recipient, minOut, route)
	if err != nil {
		rt.state.RevertToSnapshot(snap)
		rt.events.Rewind(mark)
		return 0, nil, err
	}
	return id, net, nil
}

// GetQuote is the read-only preview of Pay's validation and pricing steps:
// same checks, no custody transfer, no state mutation.
func (rt *Router) GetQuote(assetIn common.Address, amountIn *big.Int, route []common.Address) (*big.Int, error) {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	if err := rt.checkRouteShape(assetIn, route); err != nil {
		return nil, err
	}
	if err := rt.checkRoute(route); err != nil {
		return nil, err
	}
	return rt.price(assetIn, amountIn, route)
}

// checkIntent rejects malformed amounts and route endpoints before any
// custody movement.
func (rt *Router) checkIntent(assetIn common.Address, amountIn, minOut *big.Int, route []common.Address) error {
	if amountIn == nil || amountIn.Sign() <= 0 {
		return ErrInvalidAmount
	}
	if minOut == nil || minOut.Sign() <= 0 {
		return ErrInvalidAmount
	}
	return rt.checkRouteShape(assetIn, route)
}

func (rt *Router) checkRouteShape(assetIn common.Address, route []common.Address) error {
	if len(route) == 0 {
		return ErrInvalidSwapPath
	}
	if route[0] != assetIn {
		return ErrInvalidSwapPath
	}
	if route[len(route)-1] != rt.target {
		return ErrInvalidSwapPath
	}
	return nil
}

// checkRoute re-runs the registry's route validation and the intermediate
// allow/deny policy against live graph state.
func (rt *Router) checkRoute(route []common.Address) error {
	if !rt.reg.ValidateRoute(route) {
		return ErrInvalidSwapPath
	}

	rt.mu.Lock()
	defer rt.mu.Unlock()
	for i := 1; i < len(route)-1; i++ {
		if allowed, configured := rt.intermediates[route[i]]; configured && !allowed {
			return ErrAssetNotSupported
		}
	}
	return nil
}

// price computes the authoritative expected output for the route.
func (rt *Router) price(assetIn common.Address, amountIn *big.Int, route []common.Address) (*big.Int, error) {
	if len(route) == 1 {
		// Input already is the settlement asset; no engine involvement.
		return new(big.Int).Set(amountIn), nil
	}
	expected := rt.reg.QuoteRoute(assetIn, amountIn, route)
	if expected.Sign() == 0 {
		return nil, &swap.InsufficientOutputError{Required: big.NewInt(0), Received: big.NewInt(0)}
	}
	return expected, nil
}

// settle runs the state machine from fund collection through record
// writing. The caller holds a ledger snapshot and event mark and reverts
// both on error.
func (rt *Router) settle(
	payer common.Address,
	eventID string,
	assetIn common.Address,
	amountIn *big.Int,
	recipient common.Address,
	minOut *big.Int,
	route []common.Address,
) (uint64, *big.Int, error) {
	// Initiated -> FundsCollected
	in, overflow := uint256.FromBig(amountIn)
	if overflow {
		return 0, nil, ErrInvalidAmount
	}
	if err := rt.state.SubBalance(assetIn, payer, in); err != nil {
		return 0, nil, err
	}
	rt.state.AddBalance(assetIn, rt.custody, in)

	// FundsCollected -> RouteValidated
	if err := rt.checkRoute(route); err != nil {
		return 0, nil, err
	}

	// RouteValidated -> Priced
	expected, err := rt.price(assetIn, amountIn, route)
	if err != nil {
		return 0, nil, &swap.InsufficientOutputError{
			Required: new(big.Int).Set(minOut),
			Received: big.NewInt(0),
		}
	}
	floor := rt.authoritativeFloor(minOut, expected)

	// Priced -> Executed
	realized, err := rt.execute(assetIn, amountIn, floor, route)
	if err != nil {
		return 0, nil, err
	}
	if realized.Cmp(floor) < 0 {
		return 0, nil, &swap.InsufficientOutputError{
			Required: new(big.Int).Set(floor),
			Received: new(big.Int).Set(realized),
		}
	}

	// Executed -> FeeDeducted
	fee := new(big.Int).Mul(realized, big.NewInt(int64(rt.feeBps())))
	fee.Div(fee, big.NewInt(BpsDenominator))
	net := new(big.Int).Sub(realized, fee)

	if fee.Sign() > 0 {
		feeU, _ := uint256.FromBig(fee)
		if err := rt.state.SubBalance(rt.target, rt.custody, feeU); err != nil {
			return 0, nil, err
		}
		rt.state.AddBalance(rt.target, rt.owner, feeU)
	}

	// FeeDeducted -> Settled
	netU, _ := uint256.FromBig(net)
	if err := rt.state.SubBalance(rt.target, rt.custody, netU); err != nil {
		return 0, nil, err
	}
	rt.state.AddBalance(rt.target, recipient, netU)

	rt.mu.Lock()
	rt.nextPaymentID++
	id := rt.nextPaymentID
	rt.totalFees.Add(rt.totalFees, fee)
	now := rt.now()
	rt.mu.Unlock()

	rec := &PaymentRecord{
		ID:        id,
		EventID:   eventID,
		Payer:     payer,
		AssetIn:   assetIn,
		AmountIn:  new(big.Int).Set(amountIn),
		NetAmount: net,
		Recipient: recipient,
		Timestamp: now,
		Route:     SerializeRoute(route),
	}
	if err := rt.store.put(rec); err != nil {
		rt.mu.Lock()
		rt.nextPaymentID--
		rt.totalFees.Sub(rt.totalFees, fee)
		rt.mu.Unlock()
		return 0, nil, err
	}

	rt.events.Append("PaymentSettled", id, map[string]string{
		"eventId":   eventID,
		"payer":     payer.Hex(),
		"recipient": recipient.Hex(),
		"assetIn":   assetIn.Hex(),
		"amountIn":  amountIn.String(),
		"netAmount": net.String(),
		"route":     rec.Route,
		"timestamp": strconv.FormatInt(now, 10),
	})
	return id, net, nil
}

// execute drives the swap engine: a direct swap for a two-asset route, the
// multihop path otherwise, and no engine call at all when the input already
// is the settlement asset.
func (rt *Router) execute(assetIn common.Address, amountIn, floor *big.Int, route []common.Address) (*big.Int, error) {
	if len(route) == 1 {
		return new(big.Int).Set(amountIn), nil
	}
	if len(route) == 2 {
		return rt.engine.Swap(rt.custody, assetIn, route[1], amountIn, floor, rt.custody)
	}
	return rt.engine.MultihopSwap(rt.custody, assetIn, route, amountIn, floor, rt.custody)
}

// authoritativeFloor combines the caller's bound with the protocol's own
// slippage tolerance on the expected output; the larger of the two wins.
func (rt *Router) authoritativeFloor(minOut, expected *big.Int) *big.Int {
	rt.mu.Lock()
	slippage := rt.slippageBps
	rt.mu.Unlock()

	protocolFloor := new(big.Int).Mul(expected, big.NewInt(int64(BpsDenominator-slippage)))
	protocolFloor.Div(protocolFloor, big.NewInt(BpsDenominator))

	if minOut.Cmp(protocolFloor) > 0 {
		return new(big.Int).Set(minOut)
	}
	return protocolFloor
}

func (rt *Router) feeBps() uint32 {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return rt.protocolFeeBps
}
