package domain

import "time"

// FlowStatus is the lifecycle state of an opening flow.
// Transitions are forward-only: executing → settling → finalised, where
// settling is skipped if the maker order is already terminal at finalise time.
type FlowStatus string

const (
	StatusExecuting FlowStatus = "executing"
	StatusSettling  FlowStatus = "settling"
	StatusFinalised FlowStatus = "finalised"
)

// OpeningFlow tracks one maker order from placement to settlement. A buy flow
// spends fiat on the maker; a sell flow spends crypto. At any moment a flow
// references exactly one non-terminal maker order.
type OpeningFlow struct {
	ID                    string
	Side                  Side
	Price                 float64 // maker order price
	Value                 float64 // fiat for buys, crypto quantity for sells
	SuggestedClosingPrice float64 // taker price discovered at open time
	Status                FlowStatus
	OrderID               string // maker order id
	CreatedAt             time.Time
}

// Active reports whether the flow still has a live maker order to watch.
func (f OpeningFlow) Active() bool {
	return f.Status != StatusFinalised
}

// OpenPosition is a confirmed maker-venue fill awaiting (or undergoing)
// hedging. One venue trade maps to at most one position, ever.
type OpenPosition struct {
	ID            string
	Side          Side
	TradeID       string // source maker trade id, unique
	Price         float64
	Amount        float64 // fiat
	Quantity      float64 // crypto
	OpeningFlowID string
	ClosingFlowID string // empty until claimed by a closing flow
	CreatedAt     time.Time
}

// Claimed reports whether a closing flow owns this position.
func (p OpenPosition) Claimed() bool {
	return p.ClosingFlowID != ""
}

// ClosingFlow hedges a batch of open positions of one side through one or
// more taker orders. Done is monotonic: once true it never reverts.
type ClosingFlow struct {
	ID           string
	Side         Side    // side of the positions it closes; taker orders run opposite
	Quantity     float64 // total quantity claimed from positions
	DesiredPrice float64 // volume-weighted target from suggested closing prices
	Amount       float64 // fiat committed by claimed positions, fx-normalized
	CryptoProfit float64
	FiatProfit   float64
	FxRate       float64
	Done         bool
	CreatedAt    time.Time
}

// ClosePosition is one taker order attempt for a closing flow. Each failed
// attempt spawns a re-priced successor; at most one is non-terminal at a time.
type ClosePosition struct {
	ID            string
	ClosingFlowID string
	OrderID       string // taker order id
	Amount        float64
	Quantity      float64
	CreatedAt     time.Time
}
