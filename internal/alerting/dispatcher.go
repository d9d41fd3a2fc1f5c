package alerting

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"liqwatch/internal/health"
)

// State is the dispatcher's de-duplication memory.
type State uint8

const (
	// StateNormal means the last sample was under the threshold.
	StateNormal State = iota
	// StateAlerting means a notification fired and the ratio has not
	// recovered below the threshold since.
	StateAlerting
)

func (s State) String() string {
	switch s {
	case StateNormal:
		return "normal"
	case StateAlerting:
		return "alerting"
	default:
		return "unknown"
	}
}

// Notification is the alert payload handed to the notification sink.
type Notification struct {
	Account             common.Address
	SupplyToken         common.Address
	SupplyDecimals      int32
	BorrowToken         common.Address
	BorrowDecimals      int32
	Ratio               decimal.Decimal
	Threshold           decimal.Decimal
	SuppliedUSD         decimal.Decimal
	BorrowedUSD         decimal.Decimal
	Undercollateralized bool
	ComputedAt          time.Time
}

// Notifier delivers a notification to the external sink.
type Notifier interface {
	Notify(ctx context.Context, note Notification) error
}

// Options fix the threshold and the payload identity fields.
type Options struct {
	Threshold      decimal.Decimal
	Account        common.Address
	SupplyToken    common.Address
	SupplyDecimals int32
	BorrowToken    common.Address
	BorrowDecimals int32
}

// Dispatcher applies the threshold and hysteresis policy to health samples.
// Observe is called from a single goroutine (the evaluation loop).
type Dispatcher struct {
	opts     Options
	notifier Notifier
	logger   zerolog.Logger
	state    State
}

// New constructs a dispatcher in the Normal state.
func New(opts Options, notifier Notifier, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		opts:     opts,
		notifier: notifier,
		logger:   logger.With().Str("component", "alert_dispatcher").Logger(),
	}
}

// State returns the current de-duplication state.
func (d *Dispatcher) State() State {
	return d.state
}

// Observe feeds one sample through the state machine. It reports whether a
// notification was attempted for this sample. A send failure does not roll
// the state back: the same crossing is not retried, only a fresh crossing
// after recovery fires again.
func (d *Dispatcher) Observe(ctx context.Context, sample health.Sample) bool {
	over := sample.Breaches(d.opts.Threshold)

	switch {
	case over && d.state == StateNormal:
		d.state = StateAlerting
		d.logger.Warn().
			Str("ratio", sample.Ratio.StringFixed(4)).
			Str("threshold", d.opts.Threshold.String()).
			Bool("undercollateralized", sample.Undercollateralized).
			Msg("risk ratio crossed threshold")

		if d.notifier == nil {
			return false
		}
		note := Notification{
			Account:             d.opts.Account,
			SupplyToken:         d.opts.SupplyToken,
			SupplyDecimals:      d.opts.SupplyDecimals,
			BorrowToken:         d.opts.BorrowToken,
			BorrowDecimals:      d.opts.BorrowDecimals,
			Ratio:               sample.Ratio,
			Threshold:           d.opts.Threshold,
			SuppliedUSD:         sample.SuppliedUSD,
			BorrowedUSD:         sample.BorrowedUSD,
			Undercollateralized: sample.Undercollateralized,
			ComputedAt:          sample.ComputedAt,
		}
		if err := d.notifier.Notify(ctx, note); err != nil {
			d.logger.Error().Err(err).Msg("failed to deliver alert notification")
		}
		return true

	case over && d.state == StateAlerting:
		d.logger.Debug().
			Str("ratio", sample.Ratio.StringFixed(4)).
			Msg("still over threshold, duplicate alert suppressed")

	case !over && d.state == StateAlerting:
		d.state = StateNormal
		d.logger.Info().
			Str("ratio", sample.Ratio.StringFixed(4)).
			Str("threshold", d.opts.Threshold.String()).
			Msg("risk ratio recovered below threshold")
	}

	return false
}
