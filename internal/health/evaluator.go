package health

import (
	"errors"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"liqwatch/internal/position"
	"liqwatch/internal/pricing"
)

// ErrInsufficientData is returned when no price pair has been fetched yet.
// The tick is skipped rather than emitting a false ratio.
var ErrInsufficientData = errors.New("insufficient data for health evaluation")

// Sample is one health observation: the risk ratio plus the USD values it
// was derived from.
type Sample struct {
	Ratio               decimal.Decimal
	SuppliedUSD         decimal.Decimal
	BorrowedUSD         decimal.Decimal
	Undercollateralized bool
	PricesStale         bool
	ComputedAt          time.Time
}

// Breaches reports whether the sample is at or over the alert threshold. A
// debt against zero collateral always breaches.
func (s Sample) Breaches(threshold decimal.Decimal) bool {
	return s.Undercollateralized || s.Ratio.GreaterThanOrEqual(threshold)
}

// Options carry the token decimal precisions used to scale native amounts.
type Options struct {
	SupplyDecimals int32
	BorrowDecimals int32
}

// Evaluator fuses the position snapshot with the latest price pair into a
// risk ratio.
type Evaluator struct {
	store  *position.Store
	prices *pricing.Cache
	opts   Options
	logger zerolog.Logger
}

// New constructs an evaluator over the shared position store and price cache.
func New(store *position.Store, prices *pricing.Cache, opts Options, logger zerolog.Logger) *Evaluator {
	return &Evaluator{
		store:  store,
		prices: prices,
		opts:   opts,
		logger: logger.With().Str("component", "health_evaluator").Logger(),
	}
}

// Evaluate computes a sample from the current position and prices.
func (e *Evaluator) Evaluate(now time.Time) (Sample, error) {
	supplyQuote, borrowQuote, ok := e.prices.Latest()
	if !ok {
		return Sample{}, ErrInsufficientData
	}

	pos := e.store.Snapshot()

	suppliedUSD := pos.Supplied.Shift(-e.opts.SupplyDecimals).Mul(supplyQuote.PriceUSD)
	borrowedUSD := pos.Borrowed.Shift(-e.opts.BorrowDecimals).Mul(borrowQuote.PriceUSD)

	interval := e.prices.Interval()
	sample := Sample{
		SuppliedUSD: suppliedUSD,
		BorrowedUSD: borrowedUSD,
		PricesStale: supplyQuote.StaleAt(now, interval) || borrowQuote.StaleAt(now, interval),
		ComputedAt:  now,
	}

	switch {
	case suppliedUSD.IsPositive():
		sample.Ratio = borrowedUSD.Div(suppliedUSD)
	case borrowedUSD.IsZero():
		sample.Ratio = decimal.Zero
	default:
		// debt with no collateral: terminal risk state, not a crash
		sample.Undercollateralized = true
	}

	e.logger.Debug().
		Str("supplied_usd", suppliedUSD.StringFixed(2)).
		Str("borrowed_usd", borrowedUSD.StringFixed(2)).
		Str("ratio", sample.Ratio.StringFixed(4)).
		Bool("undercollateralized", sample.Undercollateralized).
		Bool("prices_stale", sample.PricesStale).
		Msg("health evaluated")
	return sample, nil
}
