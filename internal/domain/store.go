package domain

import "time"

// Store is the operator-tunable trading state. A single record exists; the
// reconciliation loop re-reads it once per cycle so that operator edits take
// effect without a restart. Zero-valued tunables fall back to static config.
type Store struct {
	// Per-side order sizing and margins. Buying value is fiat to spend per
	// order; selling value is crypto quantity to sell per order. Profits are
	// percentages.
	BuyingValue   float64
	SellingValue  float64
	BuyingProfit  float64
	SellingProfit float64

	// Conversion between maker and taker fiat currencies. 1 when both venues
	// quote in the same currency.
	BuyingFxRate  float64
	SellingFxRate float64

	// Balance thresholds. Warning notifies the operator; stop suppresses new
	// opening flows on the side that spends the depleted currency.
	FiatWarning   float64
	FiatStop      float64
	CryptoWarning float64
	CryptoStop    float64

	// Hold stops all new opening flows until the operator clears it.
	Hold bool

	// Last known balances, refreshed each cycle before threshold checks.
	MakerFiat   float64
	MakerCrypto float64
	TakerFiat   float64
	TakerCrypto float64

	LastWarning time.Time
}

// CombinedFiat is the operator's total fiat across venues, in taker currency.
func (s Store) CombinedFiat() float64 {
	fx := s.BuyingFxRate
	if fx == 0 {
		fx = 1
	}
	return s.MakerFiat/fx + s.TakerFiat
}

// CombinedCrypto is the operator's total crypto across venues.
func (s Store) CombinedCrypto() float64 {
	return s.MakerCrypto + s.TakerCrypto
}

// WarningExpired reports whether enough time passed since the last balance
// warning to notify again.
func (s Store) WarningExpired(now time.Time, every time.Duration) bool {
	return s.LastWarning.IsZero() || s.LastWarning.Before(now.Add(-every))
}
