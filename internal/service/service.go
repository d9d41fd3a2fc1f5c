package service

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"liqwatch/internal/alerting"
	"liqwatch/internal/events"
	"liqwatch/internal/health"
	"liqwatch/internal/ingest"
	"liqwatch/internal/metrics"
	"liqwatch/internal/position"
	"liqwatch/internal/pricing"
	"liqwatch/internal/scheduler"
)

// Options tune the service loops.
type Options struct {
	PriceInterval  time.Duration
	HealthInterval time.Duration
}

// Service wires the monitoring pipeline together: the ingestion supervisor
// feeds decoded events into the apply loop, while the price-refresh and
// health-evaluation loops run on their own timers. The position store and
// price cache are the only shared state; no loop blocks another's timer.
type Service struct {
	supervisor *ingest.Supervisor
	events     <-chan events.Event
	store      *position.Store
	prices     *pricing.Cache
	evaluator  *health.Evaluator
	dispatcher *alerting.Dispatcher
	opts       Options
	logger     zerolog.Logger

	priceSched  *scheduler.Scheduler
	healthSched *scheduler.Scheduler
}

// New constructs the monitoring service.
func New(
	supervisor *ingest.Supervisor,
	eventCh <-chan events.Event,
	store *position.Store,
	prices *pricing.Cache,
	evaluator *health.Evaluator,
	dispatcher *alerting.Dispatcher,
	opts Options,
	logger zerolog.Logger,
) *Service {
	return &Service{
		supervisor: supervisor,
		events:     eventCh,
		store:      store,
		prices:     prices,
		evaluator:  evaluator,
		dispatcher: dispatcher,
		opts:       opts,
		logger:     logger.With().Str("component", "service").Logger(),
		priceSched: scheduler.New(scheduler.Options{
			Name:       "price_refresh",
			Interval:   opts.PriceInterval,
			RunAtStart: true,
		}, logger),
		healthSched: scheduler.New(scheduler.Options{
			Name:     "health_eval",
			Interval: opts.HealthInterval,
		}, logger),
	}
}

// Run starts all loops and blocks until the context is cancelled.
func (s *Service) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	launch := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.logger.Error().Err(err).Str("loop", name).Msg("loop terminated")
			}
		}()
	}

	launch("ingest", s.supervisor.Run)
	launch("apply", s.applyLoop)
	launch("price_refresh", func(ctx context.Context) error {
		return s.priceSched.Run(ctx, s.refreshTick)
	})
	launch("health_eval", func(ctx context.Context) error {
		return s.healthSched.Run(ctx, s.healthTick)
	})

	wg.Wait()
	return ctx.Err()
}

// applyLoop is the single writer of the position store.
func (s *Service) applyLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev := <-s.events:
			if err := s.store.Apply(ev); err != nil {
				metrics.EventsRejected.Inc()
				continue
			}
			metrics.EventsApplied.WithLabelValues(ev.Kind.String()).Inc()

			pos := s.store.Snapshot()
			metrics.PositionSupplied.Set(pos.Supplied.InexactFloat64())
			metrics.PositionBorrowed.Set(pos.Borrowed.InexactFloat64())
		}
	}
}

func (s *Service) refreshTick(ctx context.Context, _ time.Time) error {
	if err := s.prices.Refresh(ctx); err != nil {
		return err
	}
	supply, borrow, ok := s.prices.Latest()
	if ok {
		metrics.TokenPriceUSD.WithLabelValues("supply").Set(supply.PriceUSD.InexactFloat64())
		metrics.TokenPriceUSD.WithLabelValues("borrow").Set(borrow.PriceUSD.InexactFloat64())
	}
	return nil
}

func (s *Service) healthTick(ctx context.Context, now time.Time) error {
	sample, err := s.evaluator.Evaluate(now)
	if err != nil {
		if errors.Is(err, health.ErrInsufficientData) {
			s.logger.Debug().Msg("skipping health tick, no price data yet")
			return nil
		}
		return err
	}

	if sample.Undercollateralized {
		metrics.HealthRatio.Set(math.Inf(1))
	} else {
		metrics.HealthRatio.Set(sample.Ratio.InexactFloat64())
	}
	if sample.PricesStale {
		metrics.PricesStale.Set(1)
	} else {
		metrics.PricesStale.Set(0)
	}

	// delivery is fire-and-forget: the notifier the dispatcher holds hands
	// the send off without blocking this tick
	if s.dispatcher.Observe(ctx, sample) {
		metrics.AlertsTriggered.Inc()
	}
	return nil
}
