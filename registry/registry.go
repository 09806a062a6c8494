// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package registry

import (
	"fmt"
	"math/big"
	"strconv"
	"sync"
	"time"

	"github.com/luxfi/geth/common"

	"github.com/Tanwyhang/Gravity-Swap-Protocol/ledger"
)

// Registry is the process-wide asset registry and exchange graph. It is
// constructed once and the same handle is injected into the swap engine,
// payment router and path finder. Mutation is owner-gated; every other
// operation is a read.
type Registry struct {
	mu    sync.RWMutex
	owner common.Address

	assets    map[common.Address]*AssetRecord
	supported []common.Address // enumeration order, deduplicated on insert

	edges     map[[32]byte]*EdgeRecord
	adjacency map[common.Address][]common.Address // symmetric, deduplicated on insert

	events *ledger.EventLog

	now func() int64
}

// NewRegistry creates an empty registry owned by owner. Administrative
// events are appended to events, which must not be nil.
func NewRegistry(owner common.Address, events *ledger.EventLog) *Registry {
	return &Registry{
		owner:     owner,
		assets:    make(map[common.Address]*AssetRecord),
		edges:     make(map[[32]byte]*EdgeRecord),
		adjacency: make(map[common.Address][]common.Address),
		events:    events,
		now:       func() int64 { return time.Now().Unix() },
	}
}

// SetClock overrides the registry clock. Test hook.
func (r *Registry) SetClock(now func() int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.now = now
}

// Owner returns the administrative owner.
func (r *Registry) Owner() common.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.owner
}

// RegisterAsset adds or updates an asset record. Re-registering an existing
// asset updates its metadata without duplicating it in the supported-assets
// enumeration. The liquidity score is clamped to [0, MaxLiquidityScore].
func (r *Registry) RegisterAsset(caller, asset common.Address, symbol string, decimals uint8, liquidityScore uint32) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if caller != r.owner {
		return ErrUnauthorized
	}
	if asset == (common.Address{}) {
		return ErrInvalidAssetIdentity
	}
	if liquidityScore > MaxLiquidityScore {
		liquidityScore = MaxLiquidityScore
	}

	rec, exists := r.assets[asset]
	if !exists {
		rec = &AssetRecord{Address: asset}
		r.assets[asset] = rec
		r.supported = append(r.supported, asset)
	}
	rec.Symbol = symbol
	rec.Decimals = decimals
	rec.IsSupported = true
	rec.LiquidityScore = liquidityScore
	rec.LastUpdated = r.now()

	r.events.Append("AssetRegistered", 0, map[string]string{
		"asset":          asset.Hex(),
		"symbol":         symbol,
		"decimals":       strconv.Itoa(int(decimals)),
		"liquidityScore": strconv.Itoa(int(liquidityScore)),
	})
	return nil
}

// RegisterEdge creates a direct trading pair between two supported assets.
// Adjacency is stored symmetrically; the edge rate starts at the identity
// rate until SetEdgeRate is called.
func (r *Registry) RegisterEdge(caller, a, b common.Address, feeRate uint32, tickSpacing int32) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if caller != r.owner {
		return ErrUnauthorized
	}
	if a == (common.Address{}) || b == (common.Address{}) {
		return ErrInvalidAssetIdentity
	}
	if !r.isSupported(a) || !r.isSupported(b) {
		return ErrAssetNotRegistered
	}

	lo, hi := SortPair(a, b)
	key := PairKey(a, b)
	edge, exists := r.edges[key]
	if !exists {
		edge = &EdgeRecord{
			Asset0: lo,
			Asset1: hi,
			Rate:   new(big.Int).Set(RateScale),
		}
		r.edges[key] = edge
	}
	edge.FeeRate = feeRate
	edge.TickSpacing = tickSpacing
	edge.IsActive = true

	r.addNeighbor(a, b)
	r.addNeighbor(b, a)

	r.events.Append("EdgeRegistered", 0, map[string]string{
		"asset0":      lo.Hex(),
		"asset1":      hi.Hex(),
		"feeRate":     strconv.Itoa(int(feeRate)),
		"tickSpacing": strconv.Itoa(int(tickSpacing)),
	})
	return nil
}

// SetEdgeRate updates the fixed-point exchange rate of an active edge.
func (r *Registry) SetEdgeRate(caller, a, b common.Address, rate *big.Int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if caller != r.owner {
		return ErrUnauthorized
	}
	edge, ok := r.edges[PairKey(a, b)]
	if !ok || !edge.IsActive {
		return fmt.Errorf("%w: no active edge %s/%s", ErrNoPathFound, a.Hex(), b.Hex())
	}
	if rate == nil || rate.Sign() == 0 {
		return ErrInvalidRate
	}

	old := edge.Rate
	edge.Rate = new(big.Int).Set(rate)

	r.events.Append("EdgeRateUpdated", 0, map[string]string{
		"asset0":  edge.Asset0.Hex(),
		"asset1":  edge.Asset1.Hex(),
		"oldRate": old.String(),
		"newRate": edge.Rate.String(),
	})
	return nil
}

// SetIntermediate toggles hub membership for a supported asset.
func (r *Registry) SetIntermediate(caller, asset common.Address, flag bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if caller != r.owner {
		return ErrUnauthorized
	}
	rec, ok := r.assets[asset]
	if !ok || !rec.IsSupported {
		return ErrAssetNotRegistered
	}

	old := rec.IsIntermediate
	rec.IsIntermediate = flag
	rec.LastUpdated = r.now()

	r.events.Append("IntermediateUpdated", 0, map[string]string{
		"asset": asset.Hex(),
		"old":   strconv.FormatBool(old),
		"new":   strconv.FormatBool(flag),
	})
	return nil
}

// SetSupported flips the supported flag without removing the record.
func (r *Registry) SetSupported(caller, asset common.Address, flag bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if caller != r.owner {
		return ErrUnauthorized
	}
	rec, ok := r.assets[asset]
	if !ok {
		return ErrAssetNotRegistered
	}

	old := rec.IsSupported
	rec.IsSupported = flag
	rec.LastUpdated = r.now()

	r.events.Append("AssetSupportUpdated", 0, map[string]string{
		"asset": asset.Hex(),
		"old":   strconv.FormatBool(old),
		"new":   strconv.FormatBool(flag),
	})
	return nil
}

// Asset returns a copy of the record for asset.
func (r *Registry) Asset(asset common.Address) (AssetRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.assets[asset]
	if !ok {
		return AssetRecord{}, false
	}
	return *rec, true
}

// IsSupported reports whether asset is currently tradable.
func (r *Registry) IsSupported(asset common.Address) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.isSupported(asset)
}

// IsIntermediate reports whether asset is a designated hub asset.
func (r *Registry) IsIntermediate(asset common.Address) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.assets[asset]
	return ok && rec.IsSupported && rec.IsIntermediate
}

// SupportedAssets returns the supported-asset enumeration in registration
// order, skipping deactivated records.
func (r *Registry) SupportedAssets() []common.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]common.Address, 0, len(r.supported))
	for _, asset := range r.supported {
		if r.isSupported(asset) {
			out = append(out, asset)
		}
	}
	return out
}

// Neighbors returns the assets directly tradable against asset.
func (r *Registry) Neighbors(asset common.Address) []common.Address {
	r.mu.RLock()
	defer r.mu.RUnlock()

	adj := r.adjacency[asset]
	out := make([]common.Address, len(adj))
	copy(out, adj)
	return out
}

// Edge returns a copy of the edge record between a and b.
func (r *Registry) Edge(a, b common.Address) (EdgeRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	edge, ok := r.edges[PairKey(a, b)]
	if !ok {
		return EdgeRecord{}, false
	}
	out := *edge
	out.Rate = new(big.Int).Set(edge.Rate)
	return out, true
}

// ValidateRoute is the single source of truth for route legality: every
// asset supported, hop count within MaxHops, and an active edge behind
// every consecutive pair. A single-asset route is legal iff the asset is
// supported. The payment router re-invokes this even for routes produced
// by the path finder.
func (r *Registry) ValidateRoute(route []common.Address) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(route) == 0 {
		return false
	}
	if len(route) == 1 {
		return r.isSupported(route[0])
	}
	if len(route)-1 > MaxHops {
		return false
	}
	for _, asset := range route {
		if !r.isSupported(asset) {
			return false
		}
	}
	for i := 0; i < len(route)-1; i++ {
		edge, ok := r.edges[PairKey(route[i], route[i+1])]
		if !ok || !edge.IsActive {
			return false
		}
	}
	return true
}

// QuoteRoute prices a route at current edge state. It is deterministic in
// the edge rates and returns 0, not an error, for a malformed route, a
// route that does not start at assetIn, or a zero input. A single-asset
// route returns amountIn unchanged.
func (r *Registry) QuoteRoute(assetIn common.Address, amountIn *big.Int, route []common.Address) *big.Int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if amountIn == nil || amountIn.Sign() <= 0 {
		return big.NewInt(0)
	}
	if len(route) == 0 || route[0] != assetIn {
		return big.NewInt(0)
	}
	if len(route) == 1 {
		return new(big.Int).Set(amountIn)
	}
	if len(route)-1 > MaxHops {
		return big.NewInt(0)
	}

	amount := new(big.Int).Set(amountIn)
	for i := 0; i < len(route)-1; i++ {
		amount = r.hopQuote(route[i], route[i+1], amount)
		if amount.Sign() == 0 {
			return big.NewInt(0)
		}
	}
	return amount
}

// HopQuote prices a single hop at current edge state; 0 if no active edge.
func (r *Registry) HopQuote(assetIn, assetOut common.Address, amountIn *big.Int) *big.Int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if amountIn == nil || amountIn.Sign() <= 0 {
		return big.NewInt(0)
	}
	return r.hopQuote(assetIn, assetOut, new(big.Int).Set(amountIn))
}

// hopQuote applies one edge conversion and its fee. The stored rate is
// Asset1-per-Asset0: converting out of the canonical first slot multiplies
// by the rate, out of the second slot divides.
func (r *Registry) hopQuote(assetIn, assetOut common.Address, amountIn *big.Int) *big.Int {
	edge, ok := r.edges[PairKey(assetIn, assetOut)]
	if !ok || !edge.IsActive {
		return big.NewInt(0)
	}

	out := new(big.Int)
	if assetIn == edge.Asset0 {
		out.Mul(amountIn, edge.Rate)
		out.Div(out, RateScale)
	} else {
		out.Mul(amountIn, RateScale)
		out.Div(out, edge.Rate)
	}
	if out.Sign() == 0 {
		return big.NewInt(0)
	}

	fee := new(big.Int).Mul(out, big.NewInt(int64(edge.FeeRate)))
	fee.Div(fee, big.NewInt(FeeDenominator))
	return out.Sub(out, fee)
}

func (r *Registry) isSupported(asset common.Address) bool {
	rec, ok := r.assets[asset]
	return ok && rec.IsSupported
}

// addNeighbor inserts with a linear dedup scan; adjacency lists stay small.
func (r *Registry) addNeighbor(from, to common.Address) {
	for _, existing := range r.adjacency[from] {
		if existing == to {
			return
		}
	}
	r.adjacency[from] = append(r.adjacency[from], to)
}
