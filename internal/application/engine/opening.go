package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/arsanchez/arbot/internal/domain"
	"github.com/arsanchez/arbot/internal/ports"
	"github.com/arsanchez/arbot/internal/pricing"
)

// OpeningDesk runs one side's opening workflow: it places a maker order at a
// price that leaves room to hedge profitably on the taker, mirrors the
// order's fills as open positions, and retires the order when it goes stale.
type OpeningDesk struct {
	side  domain.Side
	maker ports.Venue
	taker ports.Venue
	repo  ports.Repository
	cfg   Config
	now   func() time.Time
}

func newOpeningDesk(side domain.Side, maker, taker ports.Venue, repo ports.Repository, cfg Config, now func() time.Time) *OpeningDesk {
	return &OpeningDesk{side: side, maker: maker, taker: taker, repo: repo, cfg: cfg, now: now}
}

// OpenMarket verifies funding on both venues, discovers the safest hedge
// price on the taker, places one maker order, and persists the new executing
// flow. Any failure is normalized to a CannotCreateFlowError.
//
// takerAvailable is taker crypto for buys (the hedge sells crypto) and taker
// fiat for sells (the hedge buys crypto back). levels are taker bids for buys
// and asks for sells.
func (d *OpeningDesk) OpenMarket(
	ctx context.Context,
	store domain.Store,
	takerAvailable, makerAvailable float64,
	levels []domain.PriceLevel,
	takerTransactions []domain.MarketTrade,
	makerFee, takerFee float64,
) error {
	value := d.cfg.sideValue(d.side, store)
	fx := d.cfg.sideFx(d.side, store)

	if makerAvailable < value {
		return domain.CannotCreateFlow(d.side, fmt.Sprintf(
			"needed %s %.8f on maker %s but only %.8f available",
			d.makerSpecie(), value, d.maker.Name(), makerAvailable), nil)
	}

	// The hedge must recover the maker value plus both venues' fees.
	valueNeeded := (value + value*makerFee/100) / (1 - takerFee/100)

	quote := pricing.Quote{
		Staleness: d.cfg.TimeToLive,
		Trades:    takerTransactions,
		Levels:    levels,
		Side:      d.side.Opposite(),
		FxRate:    fx,
	}
	if d.side == domain.SideBuy {
		quote.TargetAmount = valueNeeded
	} else {
		quote.TargetQuantity = valueNeeded
	}

	safestPrice, err := pricing.BestPrice(d.now(), quote)
	if err != nil {
		return domain.CannotCreateFlow(d.side, "price discovery failed", err)
	}

	takerNeeded := d.takerNeeded(valueNeeded, safestPrice, fx)
	if takerAvailable < takerNeeded {
		return domain.CannotCreateFlow(d.side, fmt.Sprintf(
			"needed %s %.8f on taker %s but only %.8f available",
			d.takerSpecie(), takerNeeded, d.taker.Name(), takerAvailable), nil)
	}

	price := d.makerPrice(value, takerNeeded, fx, d.cfg.sideProfit(d.side, store))
	quantity := value
	if d.side == domain.SideBuy {
		quantity = value / price
	}

	order, err := d.maker.PlaceOrder(ctx, d.side, price, quantity)
	if err != nil {
		return domain.CannotCreateFlow(d.side, "maker rejected order", err)
	}

	flow := domain.OpeningFlow{
		ID:                    uuid.NewString(),
		Side:                  d.side,
		Price:                 price,
		Value:                 value,
		SuggestedClosingPrice: safestPrice,
		Status:                domain.StatusExecuting,
		OrderID:               order.ID,
		CreatedAt:             d.now(),
	}
	if err := d.repo.CreateOpeningFlow(ctx, flow); err != nil {
		return domain.CannotCreateFlow(d.side, "persist flow", err)
	}

	slog.Info("opening: flow created",
		"side", d.side,
		"flow", flow.ID,
		"order", order.ID,
		"price", price,
		"quantity", quantity,
		"suggested_closing_price", safestPrice,
	)
	return nil
}

// takerNeeded is the taker-side funding the hedge requires: crypto quantity
// to sell for buys, fiat to spend for sells.
func (d *OpeningDesk) takerNeeded(valueNeeded, safestPrice, fx float64) float64 {
	if d.side == domain.SideBuy {
		return valueNeeded * fx / safestPrice
	}
	return valueNeeded * safestPrice
}

// makerPrice derives the maker order price from the hedge requirement, below
// the resale price for buys and above the buy-back cost for sells by the
// configured margin.
func (d *OpeningDesk) makerPrice(value, takerNeeded, fx, profit float64) float64 {
	if d.side == domain.SideBuy {
		return value / takerNeeded / fx * (1 - profit/100)
	}
	return takerNeeded / value * fx * (1 + profit/100)
}

// SyncPositions mirrors maker-venue fills of this side as open positions.
// Idempotent and tolerant of duplicate or out-of-order delivery: a trade id
// is ingested at most once, and trades older than the latest known position
// minus the grace window are permanently skipped.
func (d *OpeningDesk) SyncPositions(ctx context.Context) error {
	trades, err := d.maker.Trades(ctx)
	if err != nil {
		return fmt.Errorf("engine: sync %s positions: %w", d.side, err)
	}

	latest, haveLatest, err := d.repo.LatestOpenPosition(ctx, d.side)
	if err != nil {
		return fmt.Errorf("engine: sync %s positions: %w", d.side, err)
	}
	var threshold time.Time
	if haveLatest {
		threshold = latest.CreatedAt.Add(-tradeGrace)
	}

	for _, trade := range trades {
		if trade.Side != d.side || trade.Pair != d.maker.Pair() {
			continue
		}

		exists, err := d.repo.PositionExistsForTrade(ctx, trade.ID)
		if err != nil {
			return fmt.Errorf("engine: sync %s positions: %w", d.side, err)
		}
		if exists {
			continue
		}

		if haveLatest && trade.Timestamp.Before(threshold) {
			slog.Warn("opening: trade past grace window, skipped for good",
				"side", d.side, "trade", trade.ID, "timestamp", trade.Timestamp)
			continue
		}

		flow, err := d.repo.OpeningFlowByOrderID(ctx, trade.OrderID)
		if err != nil {
			// A fill from an order we never tracked: not ours to mirror.
			slog.Debug("opening: trade without flow", "side", d.side, "trade", trade.ID)
			continue
		}

		pos := domain.OpenPosition{
			ID:            uuid.NewString(),
			Side:          d.side,
			TradeID:       trade.ID,
			Price:         trade.Price,
			Amount:        trade.Fiat,
			Quantity:      trade.Crypto,
			OpeningFlowID: flow.ID,
			CreatedAt:     d.now(),
		}
		if err := d.repo.CreateOpenPosition(ctx, pos); err != nil {
			return fmt.Errorf("engine: sync %s positions: %w", d.side, err)
		}
		slog.Info("opening: position ingested",
			"side", d.side, "trade", trade.ID, "quantity", trade.Crypto, "price", trade.Price)
	}
	return nil
}

// FinaliseDue retires flows created before deadline; FinaliseAll retires
// every active flow (shutdown path).
func (d *OpeningDesk) FinaliseDue(ctx context.Context, deadline time.Time) error {
	flows, err := d.repo.ActiveOpeningFlowsBefore(ctx, d.side, deadline)
	if err != nil {
		return fmt.Errorf("engine: finalise %s flows: %w", d.side, err)
	}
	return d.finaliseFlows(ctx, flows)
}

func (d *OpeningDesk) FinaliseAll(ctx context.Context) error {
	flows, err := d.repo.ActiveOpeningFlows(ctx, d.side)
	if err != nil {
		return fmt.Errorf("engine: finalise %s flows: %w", d.side, err)
	}
	return d.finaliseFlows(ctx, flows)
}

func (d *OpeningDesk) finaliseFlows(ctx context.Context, flows []domain.OpeningFlow) error {
	for _, flow := range flows {
		if err := d.finalise(ctx, flow); err != nil {
			return err
		}
	}
	return nil
}

// finalise re-queries venue state rather than trusting memory: if the maker
// order is no longer open it is terminal and the flow finalises; otherwise
// cancellation is requested and the flow settles until a later cycle
// confirms. Cancellation is never assumed instantaneous.
func (d *OpeningDesk) finalise(ctx context.Context, flow domain.OpeningFlow) error {
	open, err := d.maker.Orders(ctx)
	if err != nil {
		return fmt.Errorf("engine: finalise flow %s: %w", flow.ID, err)
	}

	stillOpen := false
	for _, o := range open {
		if o.ID == flow.OrderID {
			stillOpen = true
			break
		}
	}

	if !stillOpen {
		if err := d.repo.UpdateOpeningFlowStatus(ctx, flow.ID, domain.StatusFinalised); err != nil {
			return fmt.Errorf("engine: finalise flow %s: %w", flow.ID, err)
		}
		slog.Info("opening: flow finalised", "side", d.side, "flow", flow.ID)
		return nil
	}

	if err := d.maker.CancelOrder(ctx, flow.OrderID); err != nil {
		return fmt.Errorf("engine: finalise flow %s: cancel order %s: %w", flow.ID, flow.OrderID, err)
	}
	if flow.Status != domain.StatusSettling {
		if err := d.repo.UpdateOpeningFlowStatus(ctx, flow.ID, domain.StatusSettling); err != nil {
			return fmt.Errorf("engine: finalise flow %s: %w", flow.ID, err)
		}
	}
	slog.Info("opening: flow settling", "side", d.side, "flow", flow.ID, "order", flow.OrderID)
	return nil
}

func (d *OpeningDesk) makerSpecie() string {
	if d.side == domain.SideBuy {
		return "fiat"
	}
	return "crypto"
}

func (d *OpeningDesk) takerSpecie() string {
	if d.side == domain.SideBuy {
		return "crypto"
	}
	return "fiat"
}
