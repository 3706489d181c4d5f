package ports

import (
	"context"
	"time"

	"github.com/arsanchez/arbot/internal/domain"
)

// Repository persists the trading state: the singleton Store record plus
// append-only flow and position records. Entities are created whole and only
// status/fill/profit fields mutate afterwards, each write atomic, so a
// restart never observes a half-updated record.
type Repository interface {
	// Store singleton. LoadStore creates the default record on first use.
	LoadStore(ctx context.Context) (domain.Store, error)
	SaveBalances(ctx context.Context, makerFiat, makerCrypto, takerFiat, takerCrypto float64) error
	TouchWarning(ctx context.Context, at time.Time) error

	// Opening flows.
	CreateOpeningFlow(ctx context.Context, flow domain.OpeningFlow) error
	ActiveOpeningFlows(ctx context.Context, side domain.Side) ([]domain.OpeningFlow, error)
	ActiveOpeningFlowsBefore(ctx context.Context, side domain.Side, createdBefore time.Time) ([]domain.OpeningFlow, error)
	RecentOpeningFlowExists(ctx context.Context, side domain.Side, createdAfter time.Time) (bool, error)
	OpeningFlowByOrderID(ctx context.Context, orderID string) (domain.OpeningFlow, error)
	OpeningFlowByID(ctx context.Context, id string) (domain.OpeningFlow, error)
	UpdateOpeningFlowStatus(ctx context.Context, id string, status domain.FlowStatus) error

	// Open positions.
	CreateOpenPosition(ctx context.Context, pos domain.OpenPosition) error
	PositionExistsForTrade(ctx context.Context, tradeID string) (bool, error)
	LatestOpenPosition(ctx context.Context, side domain.Side) (domain.OpenPosition, bool, error)
	UnclaimedPositions(ctx context.Context, side domain.Side) ([]domain.OpenPosition, error)
	PositionsByClosingFlow(ctx context.Context, closingFlowID string) ([]domain.OpenPosition, error)
	AnyOpenPositions(ctx context.Context) (bool, error)

	// Closing flows. CreateClosingFlow claims the given positions atomically
	// with the flow insert.
	CreateClosingFlow(ctx context.Context, flow domain.ClosingFlow, positionIDs []string, first domain.ClosePosition) error
	ActiveClosingFlows(ctx context.Context, side domain.Side) ([]domain.ClosingFlow, error)
	FinaliseClosingFlow(ctx context.Context, id string, cryptoProfit, fiatProfit, fxRate float64) error

	// Close positions, ordered by creation.
	CreateClosePosition(ctx context.Context, pos domain.ClosePosition) error
	ClosePositionsByFlow(ctx context.Context, closingFlowID string) ([]domain.ClosePosition, error)
	UpdateClosePositionFill(ctx context.Context, id string, amount, quantity float64) error

	Close() error
}
