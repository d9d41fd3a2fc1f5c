package alerting

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// AsyncNotifier decouples delivery from the caller: Notify hands the
// notification to a goroutine and returns immediately, so a slow sink never
// stalls the evaluation loop. Each send runs under its own timeout, detached
// from the caller's cancellation; Wait gives in-flight sends a bounded grace
// period on shutdown.
type AsyncNotifier struct {
	inner   Notifier
	timeout time.Duration
	grace   time.Duration
	logger  zerolog.Logger
	wg      sync.WaitGroup
}

// NewAsyncNotifier wraps inner with asynchronous delivery.
func NewAsyncNotifier(inner Notifier, timeout, grace time.Duration, logger zerolog.Logger) *AsyncNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if grace <= 0 {
		grace = 5 * time.Second
	}
	return &AsyncNotifier{
		inner:   inner,
		timeout: timeout,
		grace:   grace,
		logger:  logger.With().Str("component", "alert_async").Logger(),
	}
}

// Notify launches the send in the background and always returns nil; a
// delivery failure is logged, not reported, since by then the dispatcher
// has already recorded the crossing.
func (n *AsyncNotifier) Notify(ctx context.Context, note Notification) error {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), n.timeout)
		defer cancel()
		if err := n.inner.Notify(sendCtx, note); err != nil {
			n.logger.Error().Err(err).
				Str("ratio", note.Ratio.StringFixed(4)).
				Msg("background alert delivery failed")
		}
	}()
	return nil
}

// Wait blocks until in-flight sends finish, at most the configured grace.
func (n *AsyncNotifier) Wait() {
	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(n.grace):
		n.logger.Warn().Dur("grace", n.grace).Msg("abandoning in-flight alert sends after grace period")
	}
}

var _ Notifier = (*AsyncNotifier)(nil)
