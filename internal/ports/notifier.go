package ports

import "context"

// Notifier delivers operator-visible alerts: flow-creation failures, venue
// timeouts, missing orders, balance warnings, and unclassified failures.
type Notifier interface {
	Notify(ctx context.Context, subject, body string) error
}
