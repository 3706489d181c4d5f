package engine

import (
	"time"

	"github.com/arsanchez/arbot/internal/domain"
)

// SideParams are the static per-side trading parameters. The persisted Store
// overrides any of them that the operator has set to a non-zero value.
type SideParams struct {
	Value  float64 // fiat to spend per buy order, crypto to sell per sell order
	Profit float64 // margin in percent
	FxRate float64 // maker fiat per taker fiat unit; 0 means 1
}

// Config tunes the engine. Zero durations get sensible defaults in New.
type Config struct {
	Buying  SideParams
	Selling SideParams

	// TimeToLive bounds the life of a maker order and doubles as the
	// order-book staleness window for price discovery.
	TimeToLive time.Duration

	// CloseTimeToLive is how long a taker hedge order may sit unfilled
	// before it becomes cancellable.
	CloseTimeToLive time.Duration
}

const (
	defaultTimeToLive      = 20 * time.Second
	defaultCloseTimeToLive = 30 * time.Second

	// tradeGrace is how far behind the latest known position a maker trade
	// may arrive and still be ingested. Chosen conservatively relative to
	// venue reporting latency; older trades are permanently skipped.
	tradeGrace = 30 * time.Minute

	// warningEvery limits balance warnings to one per window.
	warningEvery = 30 * time.Minute

	// repriceStep scales the quadratic walk-the-book backoff: the n-th
	// re-priced hedge attempt is offset by n² × repriceStep.
	repriceStep = 0.03
)

// sideValue resolves the order value for a side: Store override first, then
// static config.
func (c Config) sideValue(side domain.Side, store domain.Store) float64 {
	if side == domain.SideBuy {
		if store.BuyingValue > 0 {
			return store.BuyingValue
		}
		return c.Buying.Value
	}
	if store.SellingValue > 0 {
		return store.SellingValue
	}
	return c.Selling.Value
}

func (c Config) sideProfit(side domain.Side, store domain.Store) float64 {
	if side == domain.SideBuy {
		if store.BuyingProfit > 0 {
			return store.BuyingProfit
		}
		return c.Buying.Profit
	}
	if store.SellingProfit > 0 {
		return store.SellingProfit
	}
	return c.Selling.Profit
}

func (c Config) sideFx(side domain.Side, store domain.Store) float64 {
	fx := c.Buying.FxRate
	if side == domain.SideBuy {
		if store.BuyingFxRate > 0 {
			fx = store.BuyingFxRate
		}
	} else {
		fx = c.Selling.FxRate
		if store.SellingFxRate > 0 {
			fx = store.SellingFxRate
		}
	}
	if fx == 0 {
		return 1
	}
	return fx
}
