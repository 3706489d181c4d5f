package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/arsanchez/arbot/internal/domain"
	"github.com/arsanchez/arbot/internal/ports"
)

// Retry delays per failure kind. Flow-creation and unclassified failures
// point at persistent misconfiguration; timeouts are likely transient.
const (
	delayCannotCreate = 3 * time.Minute
	delayUnclassified = 2 * time.Minute
	delayTimeout      = 15 * time.Second
)

// errShutdown signals a completed graceful shutdown out of TradeCycle.
var errShutdown = errors.New("shutdown complete")

var sides = []domain.Side{domain.SideBuy, domain.SideSell}

// Robot is the reconciliation loop. It owns every collaborator explicitly,
// with no ambient globals, and runs strictly single-threaded: one venue call
// at a time, all state mutated from the loop alone.
type Robot struct {
	maker    ports.Venue
	taker    ports.Venue
	repo     ports.Repository
	notifier ports.Notifier
	cfg      Config

	meter   *CycleMeter
	opening map[domain.Side]*OpeningDesk
	closing map[domain.Side]*ClosingDesk

	// set from the signal handler goroutine, read by the loop
	shutdown atomic.Bool

	now func() time.Time
}

// New wires a Robot. Venue clients are wrapped so every remote call counts
// towards the cycle cooldown and comes back classified.
func New(maker, taker ports.Venue, repo ports.Repository, notifier ports.Notifier, cfg Config) *Robot {
	if cfg.TimeToLive <= 0 {
		cfg.TimeToLive = defaultTimeToLive
	}
	if cfg.CloseTimeToLive <= 0 {
		cfg.CloseTimeToLive = defaultCloseTimeToLive
	}

	r := &Robot{
		repo:     repo,
		notifier: notifier,
		cfg:      cfg,
		meter:    NewCycleMeter(),
		opening:  make(map[domain.Side]*OpeningDesk),
		closing:  make(map[domain.Side]*ClosingDesk),
		now:      time.Now,
	}
	r.maker = newMeteredVenue(maker, r.meter)
	r.taker = newMeteredVenue(taker, r.meter)
	for _, side := range sides {
		r.opening[side] = newOpeningDesk(side, r.maker, r.taker, repo, cfg, func() time.Time { return r.now() })
		r.closing[side] = newClosingDesk(side, r.taker, repo, cfg, func() time.Time { return r.now() })
	}
	return r
}

// RequestShutdown asks the loop to finish in-flight flows, place no new
// orders, and exit clean. Safe to call from a signal handler.
func (r *Robot) RequestShutdown() { r.shutdown.Store(true) }

// ShuttingDown reports whether a graceful shutdown is pending.
func (r *Robot) ShuttingDown() bool { return r.shutdown.Load() }

// Run trades until a graceful shutdown completes or the context ends. No
// cycle failure aborts the loop: each is notified to the operator and retried
// after a kind-specific delay. Cycles are additionally spaced by the cooldown
// the previous cycle accumulated.
func (r *Robot) Run(ctx context.Context) error {
	slog.Info("robot: trading started",
		"maker", r.maker.Name(),
		"taker", r.taker.Name(),
		"time_to_live", r.cfg.TimeToLive,
	)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		start := r.now()
		r.meter.Reset()

		err := r.TradeCycle(ctx)
		switch {
		case err == nil:
		case errors.Is(err, errShutdown):
			slog.Info("robot: shutdown completed")
			return nil
		case ctx.Err() != nil:
			return ctx.Err()
		default:
			r.report(ctx, err)
			if delay := retryDelay(err); delay > 0 {
				if serr := sleepCtx(ctx, delay); serr != nil {
					return serr
				}
			}
		}

		if wait := start.Add(r.meter.Cooldown()).Sub(r.now()); wait > 0 {
			if serr := sleepCtx(ctx, wait); serr != nil {
				return serr
			}
		}
	}
}

// TradeCycle runs one reconciliation pass. Step order matters: fills are
// mirrored before stale orders retire, hedges start before new exposure does.
func (r *Robot) TradeCycle(ctx context.Context) error {
	activeOpening, err := r.anyActiveOpening(ctx)
	if err != nil {
		return err
	}
	if activeOpening {
		for _, side := range sides {
			if err := r.opening[side].SyncPositions(ctx); err != nil {
				return err
			}
		}
	}

	if err := r.finaliseOpeningFlows(ctx); err != nil {
		return err
	}

	done, err := r.shutdownable(ctx)
	if err != nil {
		return err
	}
	if done {
		return errShutdown
	}

	store, err := r.repo.LoadStore(ctx)
	if err != nil {
		return fmt.Errorf("engine: load store: %w", err)
	}

	openPositions, err := r.repo.AnyOpenPositions(ctx)
	if err != nil {
		return fmt.Errorf("engine: open positions: %w", err)
	}
	if openPositions {
		for _, side := range sides {
			if err := r.closing[side].CloseMarket(ctx, store); err != nil {
				return err
			}
		}
	}

	activeClosing, err := r.anyActiveClosing(ctx)
	if err != nil {
		return err
	}
	if activeClosing {
		for _, side := range sides {
			if err := r.closing[side].SyncPositions(ctx, store); err != nil {
				return err
			}
		}
		// re-check: a flow may have just finalised
		if activeClosing, err = r.anyActiveClosing(ctx); err != nil {
			return err
		}
	}

	switch {
	case store.Hold:
		slog.Debug("robot: not placing new orders, store is on hold")
		return nil
	case activeClosing:
		slog.Debug("robot: not placing new orders, closing flows active")
		return nil
	case r.ShuttingDown():
		slog.Debug("robot: not placing new orders, shutting down")
		return nil
	}

	return r.startOpeningFlows(ctx, store)
}

// finaliseOpeningFlows retires flows past their time to live, or every
// active flow when shutdown is pending.
func (r *Robot) finaliseOpeningFlows(ctx context.Context) error {
	for _, side := range sides {
		var err error
		if r.ShuttingDown() {
			err = r.opening[side].FinaliseAll(ctx)
		} else {
			err = r.opening[side].FinaliseDue(ctx, r.now().Add(-r.cfg.TimeToLive))
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// shutdownable is true once nothing is active, no open positions remain, and
// a shutdown was requested.
func (r *Robot) shutdownable(ctx context.Context) (bool, error) {
	if !r.ShuttingDown() {
		return false, nil
	}
	opening, err := r.anyActiveOpening(ctx)
	if err != nil {
		return false, err
	}
	closing, err := r.anyActiveClosing(ctx)
	if err != nil {
		return false, err
	}
	positions, err := r.repo.AnyOpenPositions(ctx)
	if err != nil {
		return false, fmt.Errorf("engine: open positions: %w", err)
	}
	return !opening && !closing && !positions, nil
}

// startOpeningFlows places one new maker order per side that has not opened
// within half the time-to-live window, after refreshing balances and
// re-checking the stop and warning thresholds.
func (r *Robot) startOpeningFlows(ctx context.Context, store domain.Store) error {
	threshold := r.now().Add(-r.cfg.TimeToLive / 2)
	recentBuy, err := r.repo.RecentOpeningFlowExists(ctx, domain.SideBuy, threshold)
	if err != nil {
		return fmt.Errorf("engine: recent flows: %w", err)
	}
	recentSell, err := r.repo.RecentOpeningFlowExists(ctx, domain.SideSell, threshold)
	if err != nil {
		return fmt.Errorf("engine: recent flows: %w", err)
	}
	if recentBuy && recentSell {
		slog.Debug("robot: not placing new orders, recent ones exist")
		return nil
	}

	makerBalance, err := r.maker.Balance(ctx)
	if err != nil {
		return err
	}
	takerBalance, err := r.taker.Balance(ctx)
	if err != nil {
		return err
	}

	if err := r.repo.SaveBalances(ctx,
		makerBalance.Fiat.Total, makerBalance.Crypto.Total,
		takerBalance.Fiat.Total, takerBalance.Crypto.Total,
	); err != nil {
		return fmt.Errorf("engine: save balances: %w", err)
	}
	store.MakerFiat = makerBalance.Fiat.Total
	store.MakerCrypto = makerBalance.Crypto.Total
	store.TakerFiat = takerBalance.Fiat.Total
	store.TakerCrypto = takerBalance.Crypto.Total

	if store.WarningExpired(r.now(), warningEvery) {
		if err := r.checkBalanceWarnings(ctx, store); err != nil {
			return err
		}
	}

	// A stop threshold suppresses the side that spends the depleted
	// currency: buys need fiat, sells need crypto.
	stopBuy := store.FiatStop > 0 && store.CombinedFiat() <= store.FiatStop
	stopSell := store.CryptoStop > 0 && store.CombinedCrypto() <= store.CryptoStop
	if stopBuy {
		slog.Info("robot: fiat stop threshold hit, not opening buys",
			"combined_fiat", store.CombinedFiat(), "stop", store.FiatStop)
	}
	if stopSell {
		slog.Info("robot: crypto stop threshold hit, not opening sells",
			"combined_crypto", store.CombinedCrypto(), "stop", store.CryptoStop)
	}
	if (recentBuy || stopBuy) && (recentSell || stopSell) {
		return nil
	}

	book, err := r.taker.OrderBook(ctx)
	if err != nil {
		return err
	}
	transactions, err := r.taker.Transactions(ctx)
	if err != nil {
		return err
	}

	if !recentBuy && !stopBuy {
		err := r.opening[domain.SideBuy].OpenMarket(ctx, store,
			takerBalance.Crypto.Available, makerBalance.Fiat.Available,
			book.Bids, transactions, makerBalance.Fee, takerBalance.Fee)
		if err != nil {
			return err
		}
	}
	if !recentSell && !stopSell {
		err := r.opening[domain.SideSell].OpenMarket(ctx, store,
			takerBalance.Fiat.Available, makerBalance.Crypto.Available,
			book.Asks, transactions, makerBalance.Fee, takerBalance.Fee)
		if err != nil {
			return err
		}
	}
	return nil
}

// checkBalanceWarnings notifies the operator when a combined balance sinks
// under its warning threshold, at most once per warning window.
func (r *Robot) checkBalanceWarnings(ctx context.Context, store domain.Store) error {
	warn := func(currency string, balance, threshold float64) error {
		body := fmt.Sprintf("%s balance is too low: %.8f, raise it above %.8f to stop this warning.",
			currency, balance, threshold)
		if err := r.notifier.Notify(ctx, "Balance warning", body); err != nil {
			slog.Warn("robot: notifier failed", "err", err)
		}
		return r.repo.TouchWarning(ctx, r.now())
	}

	if store.CryptoWarning > 0 && store.CombinedCrypto() <= store.CryptoWarning {
		return warn("crypto", store.CombinedCrypto(), store.CryptoWarning)
	}
	if store.FiatWarning > 0 && store.CombinedFiat() <= store.FiatWarning {
		return warn("fiat", store.CombinedFiat(), store.FiatWarning)
	}
	return nil
}

func (r *Robot) anyActiveOpening(ctx context.Context) (bool, error) {
	for _, side := range sides {
		flows, err := r.repo.ActiveOpeningFlows(ctx, side)
		if err != nil {
			return false, fmt.Errorf("engine: active opening flows: %w", err)
		}
		if len(flows) > 0 {
			return true, nil
		}
	}
	return false, nil
}

func (r *Robot) anyActiveClosing(ctx context.Context) (bool, error) {
	for _, side := range sides {
		flows, err := r.repo.ActiveClosingFlows(ctx, side)
		if err != nil {
			return false, fmt.Errorf("engine: active closing flows: %w", err)
		}
		if len(flows) > 0 {
			return true, nil
		}
	}
	return false, nil
}

// report notifies the operator about a failed cycle, choosing the subject by
// error kind.
func (r *Robot) report(ctx context.Context, err error) {
	subject := "Trading robot error"
	var ccf *domain.CannotCreateFlowError
	switch {
	case errors.As(err, &ccf):
		subject = "Cannot create flow"
	case domain.IsVenueTimeout(err):
		subject = "Venue timeout"
	case errors.Is(err, domain.ErrOrderNotFound):
		subject = "Order not found"
	default:
		var ve *domain.VenueError
		if errors.As(err, &ve) {
			subject = "Venue error"
		}
	}

	slog.Error("robot: cycle failed", "subject", subject, "err", err)
	if nerr := r.notifier.Notify(ctx, subject, err.Error()); nerr != nil {
		slog.Warn("robot: notifier failed", "err", nerr)
	}
}

// retryDelay maps an error kind to the pause before the next cycle.
func retryDelay(err error) time.Duration {
	var ccf *domain.CannotCreateFlowError
	switch {
	case errors.As(err, &ccf):
		return delayCannotCreate
	case domain.IsVenueTimeout(err):
		return delayTimeout
	case errors.Is(err, domain.ErrOrderNotFound):
		return 0
	default:
		var ve *domain.VenueError
		if errors.As(err, &ve) {
			return 0
		}
		return delayUnclassified
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
