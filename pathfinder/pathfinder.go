// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package pathfinder discovers conversion routes through the exchange
// graph. It runs off the authoritative settlement path: everything it
// returns is advisory, and the payment router re-validates and re-prices
// any route before value moves.
package pathfinder

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/big"
	"sync"

	"github.com/luxfi/geth/common"
	log "github.com/luxfi/log"

	"github.com/Tanwyhang/Gravity-Swap-Protocol/registry"
)

// Gas model: a fixed base cost plus a per-hop increment.
const (
	GasBase   uint64 = 21_000
	GasPerHop uint64 = 60_000
)

// Confidence scoring weights.
const (
	confidenceStart   = 100
	hopPenalty        = 15
	curatedAssetBonus = 10
)

var ErrNoPathFound = errors.New("no path found")

// RouteProposal is the path finder's advisory answer: a candidate route
// with its quoted output and rough quality estimates.
type RouteProposal struct {
	Route          []common.Address
	ExpectedOutput *big.Int
	PriceImpact    float64 // percent, >= 0
	GasEstimate    uint64
	Confidence     int // [0, 100]
}

// Client explores the exchange graph toward a fixed settlement target.
// Safe for concurrent use; searches run concurrently with curation updates.
type Client struct {
	reg     *registry.Registry
	target  common.Address
	maxHops int
	log     log.Logger

	// curated marks the small set of high-quality intermediate assets that
	// boost a route's confidence score.
	mu      sync.RWMutex
	curated map[common.Address]bool
}

// NewClient creates a route-discovery client. maxHops is clamped to
// [1, registry.MaxHops].
func NewClient(reg *registry.Registry, target common.Address, maxHops int, logger log.Logger) *Client {
	if maxHops < 1 {
		maxHops = 1
	}
	if maxHops > registry.MaxHops {
		maxHops = registry.MaxHops
	}
	if logger == nil {
		logger = log.NewTestLogger(log.InfoLevel)
	}
	return &Client{
		reg:     reg,
		target:  target,
		maxHops: maxHops,
		log:     logger,
		curated: make(map[common.Address]bool),
	}
}

// SetCurated marks asset as a high-quality intermediate.
func (c *Client) SetCurated(asset common.Address, flag bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.curated[asset] = flag
}

// FindRoute searches breadth-first from tokenIn toward the target. The
// first route that reaches the target and passes the registry's validation
// wins, so the result always uses the fewest hops of any legal route; ties
// among equal-length candidates go to visitation order. maxHops overrides
// the client default when positive, clamped the same way.
func (c *Client) FindRoute(ctx context.Context, tokenIn common.Address, maxHops int) ([]common.Address, error) {
	if maxHops < 1 || maxHops > c.maxHops {
		maxHops = c.maxHops
	}

	if tokenIn == c.target {
		return []common.Address{tokenIn}, nil
	}

	// Neighbor lookups are cached for the duration of one search so a hub
	// touched by many partial routes is queried once.
	neighborCache := make(map[common.Address][]common.Address)
	neighbors := func(asset common.Address) []common.Address {
		if cached, ok := neighborCache[asset]; ok {
			return cached
		}
		adj := c.reg.Neighbors(asset)
		neighborCache[asset] = adj
		return adj
	}

	visited := map[common.Address]bool{tokenIn: true}
	frontier := [][]common.Address{{tokenIn}}

	for len(frontier) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		partial := frontier[0]
		frontier = frontier[1:]

		if len(partial)-1 >= maxHops {
			continue
		}

		tip := partial[len(partial)-1]
		for _, next := range neighbors(tip) {
			if next == c.target {
				route := append(append([]common.Address{}, partial...), next)
				if c.reg.ValidateRoute(route) {
					c.log.Debug("route found", "tokenIn", tokenIn.Hex(), "hops", len(route)-1)
					return route, nil
				}
				continue
			}
			if visited[next] {
				continue
			}
			visited[next] = true
			frontier = append(frontier, append(append([]common.Address{}, partial...), next))
		}
	}

	return nil, fmt.Errorf("%w: %s -> %s within %d hops", ErrNoPathFound, tokenIn.Hex(), c.target.Hex(), maxHops)
}

// DiscoverRoute finds a route and prices it, returning the full advisory
// proposal the settlement caller previews before committing.
func (c *Client) DiscoverRoute(ctx context.Context, assetIn common.Address, amountIn *big.Int, maxHops int) (*RouteProposal, error) {
	route, err := c.FindRoute(ctx, assetIn, maxHops)
	if err != nil {
		return nil, err
	}

	expected := c.reg.QuoteRoute(assetIn, amountIn, route)
	return &RouteProposal{
		Route:          route,
		ExpectedOutput: expected,
		PriceImpact:    c.priceImpact(assetIn, amountIn, expected),
		GasEstimate:    GasBase + GasPerHop*uint64(len(route)-1),
		Confidence:     c.confidence(route),
	}, nil
}

// confidence starts at 100, loses hopPenalty per intermediate asset and
// gains curatedAssetBonus for each curated intermediate, clamped to
// [0, 100]. A placeholder policy, not a liquidity model.
func (c *Client) confidence(route []common.Address) int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	score := confidenceStart
	for i := 1; i < len(route)-1; i++ {
		score -= hopPenalty
		if c.curated[route[i]] {
			score += curatedAssetBonus
		}
	}
	if score < 0 {
		return 0
	}
	if score > confidenceStart {
		return confidenceStart
	}
	return score
}

// priceImpact compares decimal-normalized input and output amounts:
// max(0, (1 - out/in) * 100).
func (c *Client) priceImpact(assetIn common.Address, amountIn, amountOut *big.Int) float64 {
	if amountIn == nil || amountIn.Sign() == 0 || amountOut == nil {
		return 0
	}

	in := normalize(amountIn, c.decimals(assetIn))
	out := normalize(amountOut, c.decimals(c.target))
	if in == 0 {
		return 0
	}
	impact := (1 - out/in) * 100
	if impact < 0 || math.IsNaN(impact) {
		return 0
	}
	return impact
}

func (c *Client) decimals(asset common.Address) uint8 {
	rec, ok := c.reg.Asset(asset)
	if !ok {
		return 18
	}
	return rec.Decimals
}

func normalize(amount *big.Int, decimals uint8) float64 {
	f, _ := new(big.Float).Quo(
		new(big.Float).SetInt(amount),
		new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)),
	).Float64()
	return f
}
