package notify

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/arsanchez/arbot/internal/domain"
)

// Console implements ports.Notifier on stdout. It also renders the operator
// session summary tables shown at shutdown.
type Console struct {
	out io.Writer
}

// NewConsole creates a notifier that writes to stdout.
func NewConsole() *Console {
	return &Console{out: os.Stdout}
}

// NewConsoleWriter creates a notifier for tests.
func NewConsoleWriter(w io.Writer) *Console {
	return &Console{out: w}
}

// Notify prints the alert with a timestamp. Never fails.
func (c *Console) Notify(_ context.Context, subject, body string) error {
	fmt.Fprintf(c.out, "[%s] %s\n%s\n", time.Now().Format("15:04:05"), subject, body)
	return nil
}

// Summary renders the active flows and unhedged positions as tables, so an
// operator stopping the bot sees at a glance what is still in flight.
func (c *Console) Summary(opening []domain.OpeningFlow, closing []domain.ClosingFlow, positions []domain.OpenPosition) {
	fmt.Fprintf(c.out, "\n[%s] session summary: opening:%d closing:%d unhedged positions:%d\n",
		time.Now().Format("15:04:05"), len(opening), len(closing), len(positions))

	if len(opening) > 0 {
		table := tablewriter.NewWriter(c.out)
		table.Header("Side", "Status", "Order", "Price", "Value", "Close@", "Age")
		for _, f := range opening {
			table.Append(
				string(f.Side),
				string(f.Status),
				f.OrderID,
				fmt.Sprintf("%.2f", f.Price),
				fmt.Sprintf("%.8g", f.Value),
				fmt.Sprintf("%.2f", f.SuggestedClosingPrice),
				time.Since(f.CreatedAt).Round(time.Second).String(),
			)
		}
		table.Render()
	}

	if len(closing) > 0 {
		table := tablewriter.NewWriter(c.out)
		table.Header("Side", "Qty", "Target", "Amount", "Age")
		for _, f := range closing {
			table.Append(
				string(f.Side),
				fmt.Sprintf("%.8g", f.Quantity),
				fmt.Sprintf("%.2f", f.DesiredPrice),
				fmt.Sprintf("%.2f", f.Amount),
				time.Since(f.CreatedAt).Round(time.Second).String(),
			)
		}
		table.Render()
	}

	if len(positions) > 0 {
		table := tablewriter.NewWriter(c.out)
		table.Header("Side", "Trade", "Price", "Qty", "Amount")
		for _, p := range positions {
			table.Append(
				string(p.Side),
				p.TradeID,
				fmt.Sprintf("%.2f", p.Price),
				fmt.Sprintf("%.8g", p.Quantity),
				fmt.Sprintf("%.2f", p.Amount),
			)
		}
		table.Render()
	}
}
