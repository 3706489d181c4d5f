package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInsufficientDepth means the visible book cannot absorb the target.
	ErrInsufficientDepth = errors.New("insufficient order book depth")

	// ErrStaleOrderBook means no recent trades validate the book snapshot.
	ErrStaleOrderBook = errors.New("order book snapshot is stale")

	// ErrOrderNotFound means a tracked order is unknown to the venue.
	ErrOrderNotFound = errors.New("order not found")
)

// CannotCreateFlowError is the normalized failure of workflow construction:
// insufficient funds, venue rejection, or anything unexpected while opening
// or closing a market.
type CannotCreateFlowError struct {
	Side   Side
	Reason string
	Err    error
}

func (e *CannotCreateFlowError) Error() string {
	msg := fmt.Sprintf("cannot create %s flow: %s", e.Side, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CannotCreateFlowError) Unwrap() error { return e.Err }

// CannotCreateFlow wraps err (possibly nil) with the flow side and reason.
func CannotCreateFlow(side Side, reason string, err error) error {
	return &CannotCreateFlowError{Side: side, Reason: reason, Err: err}
}

// VenueError is a venue call failure. Timeout distinguishes transient network
// slowness (short retry) from other venue trouble.
type VenueError struct {
	Venue   string
	Op      string
	Timeout bool
	Err     error
}

func (e *VenueError) Error() string {
	kind := "error"
	if e.Timeout {
		kind = "timeout"
	}
	return fmt.Sprintf("venue %s: %s: %s: %v", e.Venue, e.Op, kind, e.Err)
}

func (e *VenueError) Unwrap() error { return e.Err }

// IsVenueTimeout reports whether err is a venue timeout anywhere in its chain.
func IsVenueTimeout(err error) bool {
	var ve *VenueError
	return errors.As(err, &ve) && ve.Timeout
}
