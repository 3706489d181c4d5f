package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arsanchez/arbot/internal/domain"
)

// errVenue fails every remote call with a fixed error.
type errVenue struct {
	fakeVenue
	err error
}

func (v *errVenue) Balance(ctx context.Context) (domain.BalanceSummary, error) {
	return domain.BalanceSummary{}, v.err
}

func (v *errVenue) CancelOrder(ctx context.Context, orderID string) error {
	return v.err
}

func TestCycleMeter_CooldownTracksCalls(t *testing.T) {
	ctx := context.Background()
	meter := NewCycleMeter()
	venue := newMeteredVenue(&fakeVenue{name: "taker"}, meter)

	_, err := venue.Balance(ctx)
	require.NoError(t, err)
	_, err = venue.OrderBook(ctx)
	require.NoError(t, err)
	_, err = venue.Transactions(ctx)
	require.NoError(t, err)

	assert.Equal(t, 3, meter.Calls())
	assert.Equal(t, 3*perCallDelay, meter.Cooldown())

	meter.Reset()
	assert.Zero(t, meter.Calls())
	assert.Zero(t, meter.Cooldown())
}

func TestMeteredVenue_ClassifiesFailures(t *testing.T) {
	ctx := context.Background()
	meter := NewCycleMeter()

	venue := newMeteredVenue(&errVenue{
		fakeVenue: fakeVenue{name: "taker"},
		err:       errors.New("http 502"),
	}, meter)
	_, err := venue.Balance(ctx)

	var ve *domain.VenueError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "taker", ve.Venue)
	assert.Equal(t, "balance", ve.Op)
	assert.False(t, ve.Timeout)
}

func TestMeteredVenue_FlagsTimeouts(t *testing.T) {
	ctx := context.Background()
	meter := NewCycleMeter()

	venue := newMeteredVenue(&errVenue{
		fakeVenue: fakeVenue{name: "taker"},
		err:       context.DeadlineExceeded,
	}, meter)
	_, err := venue.Balance(ctx)

	assert.True(t, domain.IsVenueTimeout(err))
	assert.Equal(t, delayTimeout, retryDelay(err))
}

func TestMeteredVenue_PassesDomainErrorsThrough(t *testing.T) {
	ctx := context.Background()
	meter := NewCycleMeter()

	venue := newMeteredVenue(&errVenue{
		fakeVenue: fakeVenue{name: "taker"},
		err:       domain.ErrOrderNotFound,
	}, meter)
	err := venue.CancelOrder(ctx, "gone")

	assert.ErrorIs(t, err, domain.ErrOrderNotFound)
	var ve *domain.VenueError
	assert.False(t, errors.As(err, &ve))
}

func TestMeteredVenue_RespectsContextCancellation(t *testing.T) {
	meter := NewCycleMeter()
	venue := newMeteredVenue(&fakeVenue{name: "taker"}, meter)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	// Burn the limiter's initial token so the wait has to block.
	_, _ = venue.Balance(context.Background())

	start := time.Now()
	_, err := venue.Balance(ctx)
	assert.Error(t, err)
	assert.Less(t, time.Since(start), perCallDelay)
}
