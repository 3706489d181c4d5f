package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/arsanchez/arbot/internal/domain"
	"github.com/arsanchez/arbot/internal/ports"
)

// ClosingDesk hedges one side's open positions: it batches every unclaimed
// position into a closing flow backed by a single taker order, then walks the
// book with re-priced follow-up orders until the batch is hedged or the
// remainder falls under the venue's minimum order size.
type ClosingDesk struct {
	side  domain.Side
	taker ports.Venue
	repo  ports.Repository
	cfg   Config
	now   func() time.Time
}

func newClosingDesk(side domain.Side, taker ports.Venue, repo ports.Repository, cfg Config, now func() time.Time) *ClosingDesk {
	return &ClosingDesk{side: side, taker: taker, repo: repo, cfg: cfg, now: now}
}

// CloseMarket claims all unclaimed positions of this side and places one
// taker order for their combined quantity at the volume-weighted target
// price. No-op when there is nothing to claim or the batch is below the
// venue's minimum order size (it retries next cycle as positions accrue).
func (d *ClosingDesk) CloseMarket(ctx context.Context, store domain.Store) error {
	positions, err := d.repo.UnclaimedPositions(ctx, d.side)
	if err != nil {
		return fmt.Errorf("engine: close %s market: %w", d.side, err)
	}
	if len(positions) == 0 {
		return nil
	}

	var quantity, weighted, amount float64
	for _, p := range positions {
		flow, err := d.repo.OpeningFlowByID(ctx, p.OpeningFlowID)
		if err != nil {
			return fmt.Errorf("engine: close %s market: flow of position %s: %w", d.side, p.ID, err)
		}
		quantity += p.Quantity
		weighted += p.Quantity * flow.SuggestedClosingPrice
		amount += p.Amount
	}
	price := weighted / quantity

	orderSide := d.side.Opposite()
	if !d.taker.EnoughOrderSize(quantity, price, orderSide) {
		slog.Debug("closing: batch below minimum order size, waiting",
			"side", d.side, "quantity", quantity, "price", price)
		return nil
	}

	order, err := d.taker.PlaceOrder(ctx, orderSide, price, quantity)
	if err != nil {
		return domain.CannotCreateFlow(d.side, "taker rejected hedge order", err)
	}

	fx := d.cfg.sideFx(d.side, store)
	flow := domain.ClosingFlow{
		ID:           uuid.NewString(),
		Side:         d.side,
		Quantity:     quantity,
		DesiredPrice: price,
		Amount:       amount / fx,
		CreatedAt:    d.now(),
	}
	ids := make([]string, len(positions))
	for i, p := range positions {
		ids[i] = p.ID
	}
	first := domain.ClosePosition{
		ID:            uuid.NewString(),
		ClosingFlowID: flow.ID,
		OrderID:       order.ID,
		CreatedAt:     d.now(),
	}
	if err := d.repo.CreateClosingFlow(ctx, flow, ids, first); err != nil {
		return domain.CannotCreateFlow(d.side, "persist closing flow", err)
	}

	slog.Info("closing: flow created",
		"side", d.side,
		"flow", flow.ID,
		"order", order.ID,
		"quantity", quantity,
		"desired_price", price,
		"positions", len(positions),
	)
	return nil
}

// SyncPositions advances every active closing flow of this side: expired
// unfilled orders are cancelled, executed orders have their real fill
// recorded, and the remainder is re-ordered at a price walked further into
// the book. When no tradable remainder is left the flow finalises, accepting
// the residual as unhedged.
func (d *ClosingDesk) SyncPositions(ctx context.Context, store domain.Store) error {
	flows, err := d.repo.ActiveClosingFlows(ctx, d.side)
	if err != nil {
		return fmt.Errorf("engine: sync %s closing flows: %w", d.side, err)
	}

	for _, flow := range flows {
		if err := d.syncFlow(ctx, store, flow); err != nil {
			return err
		}
	}
	return nil
}

func (d *ClosingDesk) syncFlow(ctx context.Context, store domain.Store, flow domain.ClosingFlow) error {
	attempts, err := d.repo.ClosePositionsByFlow(ctx, flow.ID)
	if err != nil {
		return fmt.Errorf("engine: sync closing flow %s: %w", flow.ID, err)
	}
	if len(attempts) == 0 {
		return fmt.Errorf("engine: sync closing flow %s: no close positions", flow.ID)
	}
	latest := attempts[len(attempts)-1]

	open, err := d.taker.Orders(ctx)
	if err != nil {
		return fmt.Errorf("engine: sync closing flow %s: %w", flow.ID, err)
	}
	for _, o := range open {
		if o.ID != latest.OrderID {
			continue
		}
		// Still live. Cancel it once past its time to live; the venue may
		// fill it anyway, so the real outcome is read back next cycle.
		if latest.CreatedAt.Before(d.now().Add(-d.cfg.CloseTimeToLive)) {
			slog.Info("closing: cancelling expired hedge order",
				"side", d.side, "flow", flow.ID, "order", latest.OrderID)
			if err := d.taker.CancelOrder(ctx, latest.OrderID); err != nil {
				return fmt.Errorf("engine: sync closing flow %s: cancel %s: %w", flow.ID, latest.OrderID, err)
			}
		}
		return nil
	}

	// Order is terminal: record what actually filled.
	amount, quantity, err := d.taker.AmountAndQuantity(ctx, latest.OrderID)
	if err != nil {
		return fmt.Errorf("engine: sync closing flow %s: %w", flow.ID, err)
	}
	if err := d.repo.UpdateClosePositionFill(ctx, latest.ID, amount, quantity); err != nil {
		return fmt.Errorf("engine: sync closing flow %s: %w", flow.ID, err)
	}
	attempts[len(attempts)-1].Amount = amount
	attempts[len(attempts)-1].Quantity = quantity

	var filled float64
	for _, cp := range attempts {
		filled += cp.Quantity
	}
	remaining := flow.Quantity - filled
	price := d.nextPrice(flow, len(attempts))

	orderSide := d.side.Opposite()
	if remaining <= 0 || !d.taker.EnoughOrderSize(remaining, price, orderSide) {
		return d.finalise(ctx, store, flow, attempts)
	}

	order, err := d.taker.PlaceOrder(ctx, orderSide, price, remaining)
	if err != nil {
		return fmt.Errorf("engine: sync closing flow %s: re-place hedge: %w", flow.ID, err)
	}
	next := domain.ClosePosition{
		ID:            uuid.NewString(),
		ClosingFlowID: flow.ID,
		OrderID:       order.ID,
		CreatedAt:     d.now(),
	}
	if err := d.repo.CreateClosePosition(ctx, next); err != nil {
		return fmt.Errorf("engine: sync closing flow %s: %w", flow.ID, err)
	}

	slog.Info("closing: hedge re-priced",
		"side", d.side,
		"flow", flow.ID,
		"order", order.ID,
		"attempt", len(attempts)+1,
		"price", price,
		"remaining", remaining,
	)
	return nil
}

// nextPrice escalates quadratically with the attempt count, walking the book
// towards where fills are certain: down when selling, up when buying back.
func (d *ClosingDesk) nextPrice(flow domain.ClosingFlow, attempts int) float64 {
	offset := float64(attempts*attempts) * repriceStep
	if d.side == domain.SideBuy {
		return flow.DesiredPrice - offset
	}
	return flow.DesiredPrice + offset
}

// finalise books the result: taker-side value extracted (fx-converted to
// maker currency) minus maker-side value committed by the claimed positions.
func (d *ClosingDesk) finalise(ctx context.Context, store domain.Store, flow domain.ClosingFlow, attempts []domain.ClosePosition) error {
	var totalAmount, totalQuantity float64
	for _, cp := range attempts {
		totalAmount += cp.Amount
		totalQuantity += cp.Quantity
	}

	fx := d.cfg.sideFx(d.side, store)
	var cryptoProfit, fiatProfit float64
	if d.side == domain.SideBuy {
		cryptoProfit = flow.Quantity - totalQuantity
		fiatProfit = fx * (totalAmount - flow.Amount)
	} else {
		cryptoProfit = totalQuantity - flow.Quantity
		fiatProfit = fx * (flow.Amount - totalAmount)
	}

	if err := d.repo.FinaliseClosingFlow(ctx, flow.ID, cryptoProfit, fiatProfit, fx); err != nil {
		return fmt.Errorf("engine: finalise closing flow %s: %w", flow.ID, err)
	}

	slog.Info("closing: flow done",
		"side", d.side,
		"flow", flow.ID,
		"attempts", len(attempts),
		"crypto_profit", cryptoProfit,
		"fiat_profit", fiatProfit,
		"fx_rate", fx,
	)
	return nil
}
