// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package registry implements the asset registry and exchange graph: which
// assets are tradable, which direct pairs exist between them, and the
// authoritative route validation and quoting used before any value moves.
package registry

import (
	"bytes"
	"errors"
	"math/big"

	"github.com/luxfi/geth/common"
	"github.com/zeebo/blake3"
)

// Route and rate limits
const (
	// MaxHops bounds the number of edges a route may traverse.
	MaxHops = 5

	// FeeDenominator expresses edge fees in parts-per-million.
	FeeDenominator = 1_000_000

	// MaxLiquidityScore caps the per-asset liquidity score.
	MaxLiquidityScore = 1000
)

// RateScale is the fixed-point scale for exchange rates (18 decimals).
var RateScale = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// Errors
var (
	ErrUnauthorized         = errors.New("unauthorized")
	ErrAssetNotRegistered   = errors.New("asset not registered")
	ErrInvalidAssetIdentity = errors.New("invalid asset identity")
	ErrInvalidRate          = errors.New("invalid exchange rate")
	ErrNoPathFound          = errors.New("no path found")
)

// AssetRecord holds the registry metadata for one tradable asset. Records
// are never deleted; deactivation happens through the IsSupported flag.
type AssetRecord struct {
	Address        common.Address
	Symbol         string
	Decimals       uint8
	IsSupported    bool
	IsIntermediate bool
	LiquidityScore uint32 // clamped to [0, MaxLiquidityScore]
	LastUpdated    int64
}

// EdgeRecord is a direct trading pair between two supported assets.
// Asset0/Asset1 are stored in canonical byte order; Rate is the amount of
// Asset1 received per RateScale units of Asset0.
type EdgeRecord struct {
	Asset0      common.Address
	Asset1      common.Address
	FeeRate     uint32 // parts-per-million
	TickSpacing int32
	Rate        *big.Int
	IsActive    bool
}

// PairKey computes the canonical storage key for an asset pair. The pair is
// sorted before hashing so (a, b) and (b, a) map to the same edge.
func PairKey(a, b common.Address) [32]byte {
	lo, hi := SortPair(a, b)

	h := blake3.New()
	h.Write([]byte("edge"))
	h.Write(lo.Bytes())
	h.Write(hi.Bytes())

	var key [32]byte
	h.Digest().Read(key[:])
	return key
}

// SortPair returns the pair in canonical byte order.
func SortPair(a, b common.Address) (common.Address, common.Address) {
	if bytes.Compare(a.Bytes(), b.Bytes()) < 0 {
		return a, b
	}
	return b, a
}
