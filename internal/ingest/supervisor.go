package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/rs/zerolog"

	"liqwatch/internal/events"
	"liqwatch/internal/metrics"
)

// LogStream abstracts the live pool log subscription so the supervisor can
// be driven by a fake in tests.
type LogStream interface {
	SubscribeLogs(ctx context.Context, ch chan<- types.Log) (ethereum.Subscription, error)
}

// EthStream subscribes to pool logs over an Ethereum websocket endpoint. A
// fresh client is dialed per subscription attempt so a broken connection is
// fully discarded on reconnect.
type EthStream struct {
	wsURL  string
	pool   common.Address
	logger zerolog.Logger
}

// NewEthStream constructs a stream scoped to the pool contract and the four
// tracked event topics.
func NewEthStream(wsURL string, pool common.Address, logger zerolog.Logger) *EthStream {
	return &EthStream{
		wsURL:  wsURL,
		pool:   pool,
		logger: logger.With().Str("component", "eth_stream").Logger(),
	}
}

// SubscribeLogs dials the endpoint and opens a filtered log subscription.
func (s *EthStream) SubscribeLogs(ctx context.Context, ch chan<- types.Log) (ethereum.Subscription, error) {
	if s.wsURL == "" {
		return nil, errors.New("ethereum websocket url not configured")
	}

	client, err := ethclient.DialContext(ctx, s.wsURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", s.wsURL, err)
	}

	query := ethereum.FilterQuery{
		Addresses: []common.Address{s.pool},
		Topics:    [][]common.Hash{events.Topics()},
	}
	sub, err := client.SubscribeFilterLogs(ctx, query, ch)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("subscribe filter logs: %w", err)
	}

	return &clientSub{Subscription: sub, client: client}, nil
}

// clientSub ties the client's lifetime to the subscription.
type clientSub struct {
	ethereum.Subscription
	client *ethclient.Client
}

func (c *clientSub) Unsubscribe() {
	c.Subscription.Unsubscribe()
	c.client.Close()
}

var _ LogStream = (*EthStream)(nil)

// State tracks the supervisor's connection lifecycle.
type State int32

const (
	StateConnecting State = iota
	StateSubscribed
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateSubscribed:
		return "subscribed"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Options tune the reconnect backoff.
type Options struct {
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Supervisor owns the live log subscription: it decodes incoming logs and
// forwards the normalized events, and resubscribes with exponential backoff
// on transport failure. Reconnection resumes from new records only; events
// missed during downtime are not backfilled.
type Supervisor struct {
	stream LogStream
	out    chan<- events.Event
	opts   Options
	logger zerolog.Logger

	state      atomic.Int32
	reconnects atomic.Uint64
}

// New constructs a supervisor forwarding decoded events into out.
func New(stream LogStream, out chan<- events.Event, opts Options, logger zerolog.Logger) *Supervisor {
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = 2 * time.Second
	}
	if opts.MaxBackoff < opts.InitialBackoff {
		opts.MaxBackoff = 16 * time.Second
	}
	return &Supervisor{
		stream: stream,
		out:    out,
		opts:   opts,
		logger: logger.With().Str("component", "ingest_supervisor").Logger(),
	}
}

// State returns the current connection state.
func (s *Supervisor) State() State {
	return State(s.state.Load())
}

// Reconnects returns how many subscription attempts followed a failure.
func (s *Supervisor) Reconnects() uint64 {
	return s.reconnects.Load()
}

// Run drives the subscribe/forward/backoff loop until ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context) error {
	backoff := s.opts.InitialBackoff
	attempt := 0

	for {
		s.setState(StateConnecting)
		if attempt > 0 {
			s.reconnects.Add(1)
			metrics.FeedReconnects.Inc()
		}
		attempt++

		ch := make(chan types.Log, 256)
		sub, err := s.stream.SubscribeLogs(ctx, ch)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			s.setState(StateDisconnected)
			s.logger.Error().Err(err).Dur("backoff", backoff).Msg("subscription failed")
			if err := s.sleep(ctx, backoff); err != nil {
				return err
			}
			backoff = s.nextBackoff(backoff)
			continue
		}

		s.setState(StateSubscribed)
		backoff = s.opts.InitialBackoff
		s.logger.Info().Msg("subscribed to pool log feed")

		err = s.pump(ctx, sub, ch)
		sub.Unsubscribe()
		if ctx.Err() != nil {
			return ctx.Err()
		}

		s.setState(StateDisconnected)
		s.logger.Warn().Err(err).Dur("backoff", backoff).Msg("log feed lost, reconnecting")
		if err := s.sleep(ctx, backoff); err != nil {
			return err
		}
		backoff = s.nextBackoff(backoff)
	}
}

func (s *Supervisor) pump(ctx context.Context, sub ethereum.Subscription, ch <-chan types.Log) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-sub.Err():
			if err == nil {
				return errors.New("subscription closed")
			}
			return err
		case lg := <-ch:
			ev, err := events.Decode(lg)
			if err != nil {
				// discarded, never fatal
				s.logger.Warn().Err(err).
					Str("tx", lg.TxHash.Hex()).
					Uint64("block", lg.BlockNumber).
					Msg("discarding undecodable log")
				continue
			}
			select {
			case s.out <- ev:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func (s *Supervisor) setState(st State) {
	prev := State(s.state.Swap(int32(st)))
	if prev != st {
		s.logger.Debug().Str("from", prev.String()).Str("to", st.String()).Msg("connection state changed")
	}
}

func (s *Supervisor) nextBackoff(cur time.Duration) time.Duration {
	next := cur * 2
	if next > s.opts.MaxBackoff {
		next = s.opts.MaxBackoff
	}
	return next
}

func (s *Supervisor) sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
