// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package pathfinder

import (
	"context"
	"math/big"
	"sync"
	"testing"

	"github.com/luxfi/geth/common"
	"github.com/stretchr/testify/require"

	"github.com/Tanwyhang/Gravity-Swap-Protocol/ledger"
	"github.com/Tanwyhang/Gravity-Swap-Protocol/registry"
)

var (
	admin  = common.HexToAddress("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	assetX = common.HexToAddress("0x1000000000000000000000000000000000000001")
	assetH = common.HexToAddress("0x1000000000000000000000000000000000000002")
	target = common.HexToAddress("0x1000000000000000000000000000000000000003")
	island = common.HexToAddress("0x1000000000000000000000000000000000000009")
)

// newGraph builds a registry where X reaches the target only through the
// hub H, plus a registered asset with no edges at all.
func newGraph(t *testing.T) *registry.Registry {
	t.Helper()

	reg := registry.NewRegistry(admin, ledger.NewEventLog())
	for _, asset := range []common.Address{assetX, assetH, target, island} {
		require.NoError(t, reg.RegisterAsset(admin, asset, "AST", 18, 500))
	}
	require.NoError(t, reg.RegisterEdge(admin, assetX, assetH, 3000, 60))
	require.NoError(t, reg.RegisterEdge(admin, assetH, target, 3000, 60))
	return reg
}

func TestFindRoute_ThroughHub(t *testing.T) {
	reg := newGraph(t)
	client := NewClient(reg, target, registry.MaxHops, nil)

	route, err := client.FindRoute(context.Background(), assetX, 0)
	require.NoError(t, err)
	require.Equal(t, []common.Address{assetX, assetH, target}, route)
}

func TestFindRoute_PrefersDirectEdge(t *testing.T) {
	reg := newGraph(t)
	require.NoError(t, reg.RegisterEdge(admin, assetX, target, 3000, 60))
	client := NewClient(reg, target, registry.MaxHops, nil)

	route, err := client.FindRoute(context.Background(), assetX, 0)
	require.NoError(t, err)
	require.Equal(t, []common.Address{assetX, target}, route)
}

func TestFindRoute_TrivialWhenAlreadyTarget(t *testing.T) {
	reg := newGraph(t)
	client := NewClient(reg, target, registry.MaxHops, nil)

	route, err := client.FindRoute(context.Background(), target, 0)
	require.NoError(t, err)
	require.Equal(t, []common.Address{target}, route)
}

func TestFindRoute_NoPath(t *testing.T) {
	reg := newGraph(t)
	client := NewClient(reg, target, registry.MaxHops, nil)

	_, err := client.FindRoute(context.Background(), island, 0)
	require.ErrorIs(t, err, ErrNoPathFound)
}

func TestFindRoute_HopBudget(t *testing.T) {
	reg := newGraph(t)
	client := NewClient(reg, target, registry.MaxHops, nil)

	// X needs two hops; a one-hop budget must fail.
	_, err := client.FindRoute(context.Background(), assetX, 1)
	require.ErrorIs(t, err, ErrNoPathFound)

	route, err := client.FindRoute(context.Background(), assetX, 2)
	require.NoError(t, err)
	require.Len(t, route, 3)
}

func TestFindRoute_CancelledContext(t *testing.T) {
	reg := newGraph(t)
	client := NewClient(reg, target, registry.MaxHops, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := client.FindRoute(ctx, assetX, 0)
	require.ErrorIs(t, err, context.Canceled)
}

func TestNewClient_ClampsMaxHops(t *testing.T) {
	reg := newGraph(t)

	// A budget beyond the route ceiling is clamped down to it; an X->target
	// search still succeeds, so the clamp is not destructive.
	client := NewClient(reg, target, 50, nil)
	route, err := client.FindRoute(context.Background(), assetX, 50)
	require.NoError(t, err)
	require.Len(t, route, 3)

	client = NewClient(reg, target, 0, nil)
	_, err = client.FindRoute(context.Background(), assetX, 0)
	require.ErrorIs(t, err, ErrNoPathFound) // clamped to a single hop
}

func TestDiscoverRoute_Proposal(t *testing.T) {
	reg := newGraph(t)
	client := NewClient(reg, target, registry.MaxHops, nil)

	amount := big.NewInt(1_000_000)
	proposal, err := client.DiscoverRoute(context.Background(), assetX, amount, 0)
	require.NoError(t, err)

	require.Equal(t, []common.Address{assetX, assetH, target}, proposal.Route)
	require.Equal(t, GasBase+2*GasPerHop, proposal.GasEstimate)

	// One uncurated intermediate costs 15 points.
	require.Equal(t, 85, proposal.Confidence)

	// Identity rates with a 0.3% fee per hop: output 994009, impact just
	// under 0.6%.
	require.Equal(t, int64(994_009), proposal.ExpectedOutput.Int64())
	require.InDelta(t, 0.5991, proposal.PriceImpact, 0.0001)
}

func TestDiscoverRoute_CuratedIntermediateBoostsConfidence(t *testing.T) {
	reg := newGraph(t)
	client := NewClient(reg, target, registry.MaxHops, nil)
	client.SetCurated(assetH, true)

	proposal, err := client.DiscoverRoute(context.Background(), assetX, big.NewInt(1000), 0)
	require.NoError(t, err)
	require.Equal(t, 95, proposal.Confidence)
}

func TestDiscoverRoute_ConcurrentWithCuration(t *testing.T) {
	reg := newGraph(t)
	client := NewClient(reg, target, registry.MaxHops, nil)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(flag bool) {
			defer wg.Done()
			client.SetCurated(assetH, flag)
		}(i%2 == 0)
		go func() {
			defer wg.Done()
			proposal, err := client.DiscoverRoute(context.Background(), assetX, big.NewInt(1000), 0)
			if err != nil {
				t.Error(err)
				return
			}
			// Either score is legal depending on interleaving.
			if proposal.Confidence != 85 && proposal.Confidence != 95 {
				t.Errorf("confidence = %d", proposal.Confidence)
			}
		}()
	}
	wg.Wait()
}

func TestDiscoverRoute_DirectRouteFullConfidence(t *testing.T) {
	reg := newGraph(t)
	require.NoError(t, reg.RegisterEdge(admin, assetX, target, 0, 60))
	client := NewClient(reg, target, registry.MaxHops, nil)

	proposal, err := client.DiscoverRoute(context.Background(), assetX, big.NewInt(1000), 0)
	require.NoError(t, err)
	require.Equal(t, 100, proposal.Confidence)
	require.Equal(t, float64(0), proposal.PriceImpact)
}
