// Package pricing computes the worst acceptable execution price at which a
// target size can be filled against a venue's visible order book. All realized
// profit ultimately depends on this price being attainable at placement time.
package pricing

import (
	"fmt"
	"sort"
	"time"

	"github.com/arsanchez/arbot/internal/domain"
)

// Quote is one price-discovery request. Exactly one of TargetQuantity or
// TargetAmount must be set. Side is the direction of the order we intend to
// place against Levels: buys walk asks cheapest-first, sells walk bids
// dearest-first.
type Quote struct {
	Staleness      time.Duration        // max age of trades that validate the book
	Trades         []domain.MarketTrade // recent public trades on the venue
	Levels         []domain.PriceLevel
	Side           domain.Side
	TargetQuantity float64 // crypto quantity to fill
	TargetAmount   float64 // fiat amount to fill, in maker currency
	FxRate         float64 // maker fiat per taker fiat; 0 means 1
}

// BestPrice walks the book level by level, accumulating quantity (or
// quantity×price for amount targets) until the target is met, and returns the
// price of the last level consumed: the worst-case fill price at which the
// whole target is still reachable against the visible book.
func BestPrice(now time.Time, q Quote) (float64, error) {
	if (q.TargetQuantity > 0) == (q.TargetAmount > 0) {
		return 0, fmt.Errorf("pricing.BestPrice: exactly one target required (quantity=%v amount=%v)",
			q.TargetQuantity, q.TargetAmount)
	}
	if !bookIsCurrent(now, q.Staleness, q.Trades) {
		return 0, domain.ErrStaleOrderBook
	}

	levels := make([]domain.PriceLevel, len(q.Levels))
	copy(levels, q.Levels)
	if q.Side == domain.SideBuy {
		sort.SliceStable(levels, func(i, j int) bool { return levels[i].Price < levels[j].Price })
	} else {
		sort.SliceStable(levels, func(i, j int) bool { return levels[i].Price > levels[j].Price })
	}

	target := q.TargetQuantity
	byAmount := q.TargetAmount > 0
	if byAmount {
		fx := q.FxRate
		if fx == 0 {
			fx = 1
		}
		target = q.TargetAmount * fx
	}

	var acc float64
	for _, lvl := range levels {
		if lvl.Quantity <= 0 {
			continue
		}
		if byAmount {
			acc += lvl.Quantity * lvl.Price
		} else {
			acc += lvl.Quantity
		}
		if acc >= target {
			return lvl.Price, nil
		}
	}
	return 0, domain.ErrInsufficientDepth
}

// bookIsCurrent checks that at least one trade happened within the staleness
// window. An empty window means the venue is quiet and the book cannot be
// trusted to reflect hittable liquidity.
func bookIsCurrent(now time.Time, staleness time.Duration, trades []domain.MarketTrade) bool {
	if staleness <= 0 {
		return true
	}
	cutoff := now.Add(-staleness)
	for _, t := range trades {
		if !t.Timestamp.Before(cutoff) {
			return true
		}
	}
	return false
}
