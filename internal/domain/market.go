package domain

import "time"

// Side is the direction of an order or trade.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Opposite returns the hedging direction: positions opened by buying on the
// maker are closed by selling on the taker, and vice versa.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderStatus is the venue-reported state of an order.
type OrderStatus string

const (
	OrderOpen      OrderStatus = "open"
	OrderCompleted OrderStatus = "completed"
	OrderCancelled OrderStatus = "cancelled"
)

// Balance holds one currency's funds on a venue.
type Balance struct {
	Total     float64
	Reserved  float64 // locked in open orders
	Available float64
}

// BalanceSummary is a venue's full account snapshot.
type BalanceSummary struct {
	Crypto Balance
	Fiat   Balance
	Fee    float64 // trading fee in percent (0.5 means 0.5%)
}

// PriceLevel is one level of an order book.
type PriceLevel struct {
	Price    float64
	Quantity float64
}

// OrderBook is a venue's visible book at a point in time.
type OrderBook struct {
	Timestamp time.Time
	Bids      []PriceLevel // highest price first
	Asks      []PriceLevel // lowest price first
}

// Order is the narrow view of a venue order the engine reads. Venue-specific
// extras stay inside the venue adapter.
type Order struct {
	ID        string
	Side      Side
	Price     float64
	Quantity  float64
	Timestamp time.Time
	Status    OrderStatus
}

// MarketTrade is a public trade from a venue's recent history. Used only to
// validate that an order book snapshot is current.
type MarketTrade struct {
	ID        string
	Price     float64
	Quantity  float64
	Timestamp time.Time
}

// UserTrade is one of our own executions on a venue.
type UserTrade struct {
	ID        string // venue-unique trade id
	OrderID   string // order that spawned this execution
	Fiat      float64
	Crypto    float64
	Price     float64
	Fee       float64
	Side      Side
	Pair      string // venue pair code, e.g. "btc_usd"
	Timestamp time.Time
}
