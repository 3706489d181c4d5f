package engine

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/arsanchez/arbot/internal/adapters/storage"
	"github.com/arsanchez/arbot/internal/domain"
	"github.com/arsanchez/arbot/internal/ports"
)

var testNow = time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

func newTestRepo(t *testing.T) *storage.SQLiteRepository {
	t.Helper()
	repo, err := storage.NewSQLiteRepository(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

type fill struct {
	amount   float64
	quantity float64
}

// fakeVenue is a scriptable in-memory venue. Placed orders stay in the open
// list until the test removes them; CancelOrder only records the request, so
// tests drive the "cancellation is not instantaneous" paths explicitly.
type fakeVenue struct {
	name    string
	pair    string
	balance domain.BalanceSummary
	book    domain.OrderBook
	ticks   []domain.MarketTrade
	trades  []domain.UserTrade
	open    []domain.Order
	minSize float64
	fills   map[string]fill

	placeErr error

	placed       []domain.Order
	cancelled    []string
	balanceCalls int
	seq          int
}

var _ ports.Venue = (*fakeVenue)(nil)

func (v *fakeVenue) Name() string { return v.name }
func (v *fakeVenue) Pair() string { return v.pair }

func (v *fakeVenue) Balance(ctx context.Context) (domain.BalanceSummary, error) {
	v.balanceCalls++
	return v.balance, nil
}

func (v *fakeVenue) OrderBook(ctx context.Context) (domain.OrderBook, error) {
	return v.book, nil
}

func (v *fakeVenue) Transactions(ctx context.Context) ([]domain.MarketTrade, error) {
	return v.ticks, nil
}

func (v *fakeVenue) Trades(ctx context.Context) ([]domain.UserTrade, error) {
	return v.trades, nil
}

func (v *fakeVenue) Orders(ctx context.Context) ([]domain.Order, error) {
	return v.open, nil
}

func (v *fakeVenue) PlaceOrder(ctx context.Context, side domain.Side, price, quantity float64) (domain.Order, error) {
	if v.placeErr != nil {
		return domain.Order{}, v.placeErr
	}
	v.seq++
	order := domain.Order{
		ID:       fmt.Sprintf("%s-ord-%d", v.name, v.seq),
		Side:     side,
		Price:    price,
		Quantity: quantity,
		Status:   domain.OrderOpen,
	}
	v.placed = append(v.placed, order)
	v.open = append(v.open, order)
	return order, nil
}

func (v *fakeVenue) CancelOrder(ctx context.Context, orderID string) error {
	v.cancelled = append(v.cancelled, orderID)
	return nil
}

func (v *fakeVenue) EnoughOrderSize(quantity, price float64, side domain.Side) bool {
	return quantity >= v.minSize
}

func (v *fakeVenue) AmountAndQuantity(ctx context.Context, orderID string) (float64, float64, error) {
	f := v.fills[orderID]
	return f.amount, f.quantity, nil
}

// removeOpen simulates the venue reporting an order as terminal.
func (v *fakeVenue) removeOpen(orderID string) {
	kept := v.open[:0]
	for _, o := range v.open {
		if o.ID != orderID {
			kept = append(kept, o)
		}
	}
	v.open = kept
}

func (v *fakeVenue) lastPlaced(t *testing.T) domain.Order {
	t.Helper()
	require.NotEmpty(t, v.placed)
	return v.placed[len(v.placed)-1]
}

type fakeNotifier struct {
	subjects []string
	bodies   []string
}

func (n *fakeNotifier) Notify(ctx context.Context, subject, body string) error {
	n.subjects = append(n.subjects, subject)
	n.bodies = append(n.bodies, body)
	return nil
}

func recentTicks(now time.Time) []domain.MarketTrade {
	return []domain.MarketTrade{
		{ID: "tick-1", Price: 300, Quantity: 1, Timestamp: now.Add(-5 * time.Second)},
	}
}
