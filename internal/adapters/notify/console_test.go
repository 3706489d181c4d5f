package notify

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arsanchez/arbot/internal/domain"
)

func TestConsoleNotify(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsoleWriter(&buf)

	require.NoError(t, c.Notify(context.Background(), "Balance warning", "fiat balance is too low"))

	out := buf.String()
	assert.Contains(t, out, "Balance warning")
	assert.Contains(t, out, "fiat balance is too low")
}

func TestConsoleSummary(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsoleWriter(&buf)

	opening := []domain.OpeningFlow{{
		ID: "f1", Side: domain.SideBuy, Price: 300, Value: 600,
		SuggestedClosingPrice: 302, Status: domain.StatusExecuting,
		OrderID: "ord-1", CreatedAt: time.Now().Add(-time.Minute),
	}}
	closing := []domain.ClosingFlow{{
		ID: "c1", Side: domain.SideSell, Quantity: 2.01, DesiredPrice: 310.5,
		Amount: 624.1, CreatedAt: time.Now().Add(-time.Minute),
	}}
	positions := []domain.OpenPosition{{
		ID: "p1", Side: domain.SideBuy, TradeID: "t1",
		Price: 300, Amount: 600, Quantity: 2,
	}}

	c.Summary(opening, closing, positions)

	out := buf.String()
	assert.Contains(t, out, "opening:1 closing:1 unhedged positions:1")
	assert.Contains(t, out, "ord-1")
	assert.Contains(t, out, "executing")
	assert.Contains(t, out, "t1")
}

func TestConsoleSummary_EmptyStateRendersNoTables(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsoleWriter(&buf)

	c.Summary(nil, nil, nil)

	assert.Contains(t, buf.String(), "opening:0 closing:0 unhedged positions:0")
}
