package position

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"liqwatch/internal/events"
)

// ErrNegativeBalance is returned when a withdraw or repay would drive a
// balance below zero. It indicates a missed or misordered prior event; the
// position is left untouched.
var ErrNegativeBalance = errors.New("event would drive balance negative")

// Position holds the tracked account's balances in native token units.
type Position struct {
	Supplied decimal.Decimal
	Borrowed decimal.Decimal
}

// Options identify the tracked account and token pair and seed the balances.
type Options struct {
	Account         common.Address
	SupplyToken     common.Address
	BorrowToken     common.Address
	InitialSupplied decimal.Decimal
	InitialBorrowed decimal.Decimal
}

// Store is the single mutable record of the tracked position. Exactly one
// goroutine calls Apply; Snapshot may be called concurrently from any number
// of readers.
type Store struct {
	opts   Options
	logger zerolog.Logger

	mu  sync.RWMutex
	pos Position
}

// NewStore seeds a store from the configured initial amounts.
func NewStore(opts Options, logger zerolog.Logger) (*Store, error) {
	if opts.InitialSupplied.IsNegative() || opts.InitialBorrowed.IsNegative() {
		return nil, fmt.Errorf("initial amounts must be non-negative (supplied=%s borrowed=%s)",
			opts.InitialSupplied, opts.InitialBorrowed)
	}
	return &Store{
		opts:   opts,
		logger: logger.With().Str("component", "position_store").Logger(),
		pos: Position{
			Supplied: opts.InitialSupplied,
			Borrowed: opts.InitialBorrowed,
		},
	}, nil
}

// Apply folds a normalized event into the position. Events for non-tracked
// reserves or accounts are accepted as no-ops.
func (s *Store) Apply(ev events.Event) error {
	if ev.Amount == nil {
		return fmt.Errorf("event %s carries no amount", ev.Kind)
	}
	if !s.tracked(ev) {
		s.logger.Debug().
			Str("kind", ev.Kind.String()).
			Str("reserve", ev.Reserve.Hex()).
			Str("account", ev.Account.Hex()).
			Msg("ignoring event outside tracked position")
		return nil
	}

	amount := decimal.NewFromBigInt(ev.Amount, 0)

	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.pos
	switch ev.Kind {
	case events.KindSupply:
		s.pos.Supplied = s.pos.Supplied.Add(amount)
	case events.KindWithdraw:
		next := s.pos.Supplied.Sub(amount)
		if next.IsNegative() {
			s.logger.Error().
				Str("kind", ev.Kind.String()).
				Str("amount", amount.String()).
				Str("supplied", s.pos.Supplied.String()).
				Str("tx", ev.TxHash.Hex()).
				Msg("rejecting event: supplied balance would go negative")
			return fmt.Errorf("%w: withdraw %s exceeds supplied %s", ErrNegativeBalance, amount, s.pos.Supplied)
		}
		s.pos.Supplied = next
	case events.KindBorrow:
		s.pos.Borrowed = s.pos.Borrowed.Add(amount)
	case events.KindRepay:
		next := s.pos.Borrowed.Sub(amount)
		if next.IsNegative() {
			s.logger.Error().
				Str("kind", ev.Kind.String()).
				Str("amount", amount.String()).
				Str("borrowed", s.pos.Borrowed.String()).
				Str("tx", ev.TxHash.Hex()).
				Msg("rejecting event: borrowed balance would go negative")
			return fmt.Errorf("%w: repay %s exceeds borrowed %s", ErrNegativeBalance, amount, s.pos.Borrowed)
		}
		s.pos.Borrowed = next
	default:
		return fmt.Errorf("unsupported event kind %d", ev.Kind)
	}

	s.logger.Info().
		Str("kind", ev.Kind.String()).
		Str("amount", amount.String()).
		Str("supplied", prev.Supplied.String()+" -> "+s.pos.Supplied.String()).
		Str("borrowed", prev.Borrowed.String()+" -> "+s.pos.Borrowed.String()).
		Uint64("block", ev.BlockNumber).
		Msg("position updated")
	return nil
}

// Snapshot returns a point-in-time copy of the position.
func (s *Store) Snapshot() Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pos
}

// tracked applies the reserve and account filters. Supply/Withdraw touch the
// collateral side only; Borrow/Repay the debt side only.
func (s *Store) tracked(ev events.Event) bool {
	switch ev.Kind {
	case events.KindSupply, events.KindWithdraw:
		if ev.Reserve != s.opts.SupplyToken {
			return false
		}
	case events.KindBorrow, events.KindRepay:
		if ev.Reserve != s.opts.BorrowToken {
			return false
		}
	default:
		return false
	}
	return ev.Matches(s.opts.Account)
}
