package ports

import (
	"context"

	"github.com/arsanchez/arbot/internal/domain"
)

// Venue is one trading venue's client. Two instances run per bot: the maker,
// where price-setting orders go, and the taker, where hedges go. Wire formats
// and authentication live entirely inside implementations.
//
// Cancellation must be idempotent: the venue may fill an order after we
// decided to cancel it, so "is this still open" checks always re-query.
type Venue interface {
	// Name identifies the venue in logs and notifications.
	Name() string

	// Pair is the venue's code for the configured trading pair.
	Pair() string

	// Balance returns crypto/fiat funds and the account's trading fee.
	Balance(ctx context.Context) (domain.BalanceSummary, error)

	// OrderBook returns the current visible book.
	OrderBook(ctx context.Context) (domain.OrderBook, error)

	// Transactions returns recent public trades, newest first.
	Transactions(ctx context.Context) ([]domain.MarketTrade, error)

	// Trades returns our own executions, newest first.
	Trades(ctx context.Context) ([]domain.UserTrade, error)

	// Orders returns our currently open orders.
	Orders(ctx context.Context) ([]domain.Order, error)

	// PlaceOrder submits a limit order and returns its venue handle.
	PlaceOrder(ctx context.Context, side domain.Side, price, quantity float64) (domain.Order, error)

	// CancelOrder requests cancellation. Unknown or already-terminal orders
	// are not an error.
	CancelOrder(ctx context.Context, orderID string) error

	// EnoughOrderSize reports whether the venue accepts an order of this size.
	EnoughOrderSize(quantity, price float64, side domain.Side) bool

	// AmountAndQuantity sums the fiat amount and crypto quantity actually
	// filled for the given order across our trade history.
	AmountAndQuantity(ctx context.Context, orderID string) (amount, quantity float64, err error)
}
