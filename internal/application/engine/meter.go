package engine

import (
	"context"
	"errors"
	"net"
	"time"

	"golang.org/x/time/rate"

	"github.com/arsanchez/arbot/internal/domain"
	"github.com/arsanchez/arbot/internal/ports"
)

// perCallDelay is the spacing between venue calls and the cooldown each call
// adds before the next cycle may start. Throttling is proportional to the
// traffic a cycle generates, not a fixed interval.
const perCallDelay = 100 * time.Millisecond

// CycleMeter counts venue calls within a cycle and enforces the per-call
// spacing so the venues' API limits are respected.
type CycleMeter struct {
	limiter *rate.Limiter
	calls   int
}

func NewCycleMeter() *CycleMeter {
	return &CycleMeter{limiter: rate.NewLimiter(rate.Every(perCallDelay), 1)}
}

// Reset clears the call count at the start of a cycle.
func (m *CycleMeter) Reset() { m.calls = 0 }

// Calls returns the number of venue calls made this cycle.
func (m *CycleMeter) Calls() int { return m.calls }

// Cooldown is the minimum delay before the next cycle may start.
func (m *CycleMeter) Cooldown() time.Duration {
	return time.Duration(m.calls) * perCallDelay
}

func (m *CycleMeter) wait(ctx context.Context) error {
	m.calls++
	return m.limiter.Wait(ctx)
}

// meteredVenue wraps a venue client so that every remote call passes through
// the cycle meter and every failure is classified as a domain.VenueError
// (with timeouts flagged for the retry-delay dispatch).
type meteredVenue struct {
	inner ports.Venue
	meter *CycleMeter
}

func newMeteredVenue(v ports.Venue, m *CycleMeter) ports.Venue {
	return &meteredVenue{inner: v, meter: m}
}

func (v *meteredVenue) Name() string { return v.inner.Name() }
func (v *meteredVenue) Pair() string { return v.inner.Pair() }

func (v *meteredVenue) EnoughOrderSize(quantity, price float64, side domain.Side) bool {
	return v.inner.EnoughOrderSize(quantity, price, side)
}

func (v *meteredVenue) Balance(ctx context.Context) (domain.BalanceSummary, error) {
	if err := v.meter.wait(ctx); err != nil {
		return domain.BalanceSummary{}, err
	}
	b, err := v.inner.Balance(ctx)
	return b, v.classify("balance", err)
}

func (v *meteredVenue) OrderBook(ctx context.Context) (domain.OrderBook, error) {
	if err := v.meter.wait(ctx); err != nil {
		return domain.OrderBook{}, err
	}
	ob, err := v.inner.OrderBook(ctx)
	return ob, v.classify("order_book", err)
}

func (v *meteredVenue) Transactions(ctx context.Context) ([]domain.MarketTrade, error) {
	if err := v.meter.wait(ctx); err != nil {
		return nil, err
	}
	ts, err := v.inner.Transactions(ctx)
	return ts, v.classify("transactions", err)
}

func (v *meteredVenue) Trades(ctx context.Context) ([]domain.UserTrade, error) {
	if err := v.meter.wait(ctx); err != nil {
		return nil, err
	}
	ts, err := v.inner.Trades(ctx)
	return ts, v.classify("trades", err)
}

func (v *meteredVenue) Orders(ctx context.Context) ([]domain.Order, error) {
	if err := v.meter.wait(ctx); err != nil {
		return nil, err
	}
	os, err := v.inner.Orders(ctx)
	return os, v.classify("orders", err)
}

func (v *meteredVenue) PlaceOrder(ctx context.Context, side domain.Side, price, quantity float64) (domain.Order, error) {
	if err := v.meter.wait(ctx); err != nil {
		return domain.Order{}, err
	}
	o, err := v.inner.PlaceOrder(ctx, side, price, quantity)
	return o, v.classify("place_order", err)
}

func (v *meteredVenue) CancelOrder(ctx context.Context, orderID string) error {
	if err := v.meter.wait(ctx); err != nil {
		return err
	}
	return v.classify("cancel_order", v.inner.CancelOrder(ctx, orderID))
}

func (v *meteredVenue) AmountAndQuantity(ctx context.Context, orderID string) (float64, float64, error) {
	if err := v.meter.wait(ctx); err != nil {
		return 0, 0, err
	}
	amount, quantity, err := v.inner.AmountAndQuantity(ctx, orderID)
	return amount, quantity, v.classify("amount_and_quantity", err)
}

// classify tags venue failures with the venue name and operation. Domain
// errors (not-found, flow construction) pass through untouched so callers can
// still match on them.
func (v *meteredVenue) classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, domain.ErrOrderNotFound) {
		return err
	}
	var ve *domain.VenueError
	if errors.As(err, &ve) {
		return err
	}
	return &domain.VenueError{Venue: v.inner.Name(), Op: op, Timeout: isTimeout(err), Err: err}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
