package engine

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arsanchez/arbot/internal/domain"
	"github.com/arsanchez/arbot/internal/ports"
)

// seedPosition persists an opening flow with the given suggested closing
// price plus one unclaimed position filled against it.
func seedPosition(t *testing.T, repo ports.Repository, side domain.Side, suggested, amount, quantity float64) domain.OpenPosition {
	t.Helper()
	ctx := context.Background()

	flow := domain.OpeningFlow{
		ID:                    uuid.NewString(),
		Side:                  side,
		Price:                 suggested,
		Value:                 amount,
		SuggestedClosingPrice: suggested,
		Status:                domain.StatusFinalised,
		OrderID:               uuid.NewString(),
		CreatedAt:             testNow.Add(-time.Minute),
	}
	require.NoError(t, repo.CreateOpeningFlow(ctx, flow))

	pos := domain.OpenPosition{
		ID:            uuid.NewString(),
		Side:          side,
		TradeID:       uuid.NewString(),
		Price:         suggested,
		Amount:        amount,
		Quantity:      quantity,
		OpeningFlowID: flow.ID,
		CreatedAt:     testNow.Add(-time.Minute),
	}
	require.NoError(t, repo.CreateOpenPosition(ctx, pos))
	return pos
}

func TestCloseMarket_BatchesAllUnclaimedPositions(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	taker := &fakeVenue{name: "taker", pair: "btcusd", minSize: 0.001}

	seedPosition(t, repo, domain.SideSell, 310, 620, 2)
	seedPosition(t, repo, domain.SideSell, 410, 4.1, 0.01)

	clock := testNow
	desk := newClosingDesk(domain.SideSell, taker, repo, openingTestConfig(),
		func() time.Time { return clock })

	require.NoError(t, desk.CloseMarket(ctx, domain.Store{}))

	// One hedge order for the combined quantity, on the opposite side, at the
	// volume-weighted target.
	order := taker.lastPlaced(t)
	assert.Equal(t, domain.SideBuy, order.Side)
	assert.InDelta(t, 2.01, order.Quantity, 1e-9)
	wantPrice := (2*310 + 0.01*410) / 2.01
	assert.InDelta(t, wantPrice, order.Price, 1e-9)

	unclaimed, err := repo.UnclaimedPositions(ctx, domain.SideSell)
	require.NoError(t, err)
	assert.Empty(t, unclaimed)

	flows, err := repo.ActiveClosingFlows(ctx, domain.SideSell)
	require.NoError(t, err)
	require.Len(t, flows, 1)
	flow := flows[0]
	assert.InDelta(t, 2.01, flow.Quantity, 1e-9)
	assert.InDelta(t, wantPrice, flow.DesiredPrice, 1e-9)
	assert.InDelta(t, 624.1, flow.Amount, 1e-9)

	// Claimed quantity is conserved into the flow.
	claimed, err := repo.PositionsByClosingFlow(ctx, flow.ID)
	require.NoError(t, err)
	var total float64
	for _, p := range claimed {
		total += p.Quantity
	}
	assert.InDelta(t, flow.Quantity, total, 1e-9)

	attempts, err := repo.ClosePositionsByFlow(ctx, flow.ID)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.Equal(t, order.ID, attempts[0].OrderID)
}

func TestCloseMarket_WaitsBelowMinimumOrderSize(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	taker := &fakeVenue{name: "taker", pair: "btcusd", minSize: 1}

	seedPosition(t, repo, domain.SideSell, 310, 155, 0.5)

	desk := newClosingDesk(domain.SideSell, taker, repo, openingTestConfig(),
		func() time.Time { return testNow })

	require.NoError(t, desk.CloseMarket(ctx, domain.Store{}))
	assert.Empty(t, taker.placed)

	// Position stays unclaimed so later cycles can batch it with new fills.
	unclaimed, err := repo.UnclaimedPositions(ctx, domain.SideSell)
	require.NoError(t, err)
	assert.Len(t, unclaimed, 1)
}

func TestCloseMarket_NormalizesAmountByFx(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	taker := &fakeVenue{name: "taker", pair: "btcusd", minSize: 0.001}

	seedPosition(t, repo, domain.SideBuy, 300, 6000, 2)

	cfg := openingTestConfig()
	cfg.Buying.FxRate = 10
	desk := newClosingDesk(domain.SideBuy, taker, repo, cfg,
		func() time.Time { return testNow })

	require.NoError(t, desk.CloseMarket(ctx, domain.Store{}))

	flows, err := repo.ActiveClosingFlows(ctx, domain.SideBuy)
	require.NoError(t, err)
	require.Len(t, flows, 1)
	assert.InDelta(t, 600, flows[0].Amount, 1e-9) // 6000 maker fiat over fx 10
}

func TestNextPrice_WalksQuadraticallyIntoTheBook(t *testing.T) {
	flow := domain.ClosingFlow{DesiredPrice: 300}

	buy := &ClosingDesk{side: domain.SideBuy}
	assert.InDelta(t, 299.97, buy.nextPrice(flow, 1), 1e-9)
	assert.InDelta(t, 299.88, buy.nextPrice(flow, 2), 1e-9)
	assert.InDelta(t, 299.73, buy.nextPrice(flow, 3), 1e-9)

	sell := &ClosingDesk{side: domain.SideSell}
	assert.InDelta(t, 300.03, sell.nextPrice(flow, 1), 1e-9)
	assert.InDelta(t, 300.12, sell.nextPrice(flow, 2), 1e-9)
	assert.InDelta(t, 300.27, sell.nextPrice(flow, 3), 1e-9)
}

func TestSyncPositions_CancelsExpiredHedgeOrder(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	taker := &fakeVenue{name: "taker", pair: "btcusd", minSize: 0.001}

	seedPosition(t, repo, domain.SideSell, 310, 620, 2)

	clock := testNow
	desk := newClosingDesk(domain.SideSell, taker, repo, openingTestConfig(),
		func() time.Time { return clock })

	require.NoError(t, desk.CloseMarket(ctx, domain.Store{}))
	order := taker.lastPlaced(t)

	// Within the time to live nothing happens.
	require.NoError(t, desk.SyncPositions(ctx, domain.Store{}))
	assert.Empty(t, taker.cancelled)

	// Past it, the still-open order gets a cancellation request. The flow
	// stays active until the venue reports the real outcome.
	clock = testNow.Add(time.Minute)
	require.NoError(t, desk.SyncPositions(ctx, domain.Store{}))
	assert.Equal(t, []string{order.ID}, taker.cancelled)

	flows, err := repo.ActiveClosingFlows(ctx, domain.SideSell)
	require.NoError(t, err)
	assert.Len(t, flows, 1)
}

func TestSyncPositions_RepricesRemainderAfterPartialFill(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	taker := &fakeVenue{name: "taker", pair: "btcusd", minSize: 0.001, fills: map[string]fill{}}

	seedPosition(t, repo, domain.SideSell, 310, 620, 2)

	clock := testNow
	desk := newClosingDesk(domain.SideSell, taker, repo, openingTestConfig(),
		func() time.Time { return clock })

	require.NoError(t, desk.CloseMarket(ctx, domain.Store{}))
	first := taker.lastPlaced(t)

	// The venue executes only 1.2 of the 2 before the order goes terminal.
	taker.removeOpen(first.ID)
	taker.fills[first.ID] = fill{amount: 372, quantity: 1.2}

	clock = testNow.Add(10 * time.Second)
	require.NoError(t, desk.SyncPositions(ctx, domain.Store{}))

	second := taker.lastPlaced(t)
	require.NotEqual(t, first.ID, second.ID)
	assert.InDelta(t, 0.8, second.Quantity, 1e-9)
	assert.InDelta(t, 310.03, second.Price, 1e-9) // desired price walked up one step

	flows, err := repo.ActiveClosingFlows(ctx, domain.SideSell)
	require.NoError(t, err)
	require.Len(t, flows, 1)

	attempts, err := repo.ClosePositionsByFlow(ctx, flows[0].ID)
	require.NoError(t, err)
	require.Len(t, attempts, 2)
	assert.InDelta(t, 1.2, attempts[0].Quantity, 1e-9)
	assert.InDelta(t, 372, attempts[0].Amount, 1e-9)
}

func TestSyncPositions_FinalisesWhenRemainderIsDust(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	taker := &fakeVenue{name: "taker", pair: "btcusd", minSize: 0.01, fills: map[string]fill{}}

	seedPosition(t, repo, domain.SideSell, 310, 620, 2)

	clock := testNow
	desk := newClosingDesk(domain.SideSell, taker, repo, openingTestConfig(),
		func() time.Time { return clock })

	require.NoError(t, desk.CloseMarket(ctx, domain.Store{}))
	order := taker.lastPlaced(t)

	// Nearly everything filled; the 0.005 residual is under the venue minimum
	// and is accepted as unhedged.
	taker.removeOpen(order.ID)
	taker.fills[order.ID] = fill{amount: 620.5, quantity: 1.995}

	require.NoError(t, desk.SyncPositions(ctx, domain.Store{}))

	flows, err := repo.ActiveClosingFlows(ctx, domain.SideSell)
	require.NoError(t, err)
	assert.Empty(t, flows)
	assert.Len(t, taker.placed, 1) // no re-priced order for dust
}

func TestSyncPositions_FullFillFinalisesFlow(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)
	taker := &fakeVenue{name: "taker", pair: "btcusd", minSize: 0.001, fills: map[string]fill{}}

	seedPosition(t, repo, domain.SideSell, 310, 620, 2)

	clock := testNow
	desk := newClosingDesk(domain.SideSell, taker, repo, openingTestConfig(),
		func() time.Time { return clock })

	require.NoError(t, desk.CloseMarket(ctx, domain.Store{}))
	order := taker.lastPlaced(t)

	taker.removeOpen(order.ID)
	taker.fills[order.ID] = fill{amount: 618, quantity: 2}

	require.NoError(t, desk.SyncPositions(ctx, domain.Store{}))

	flows, err := repo.ActiveClosingFlows(ctx, domain.SideSell)
	require.NoError(t, err)
	assert.Empty(t, flows)

	attempts, err := repo.ClosePositionsByFlow(ctx, repoFlowID(t, repo, domain.SideSell))
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.InDelta(t, 2, attempts[0].Quantity, 1e-9)
}

// repoFlowID digs the single closing flow id of a side out of its claimed
// positions, since finalised flows drop off the active list.
func repoFlowID(t *testing.T, repo ports.Repository, side domain.Side) string {
	t.Helper()
	pos, ok, err := repo.LatestOpenPosition(context.Background(), side)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, pos.Claimed())
	return pos.ClosingFlowID
}
