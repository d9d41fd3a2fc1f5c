package position

import (
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"liqwatch/internal/events"
)

var (
	account     = common.HexToAddress("0xBDD3B59416Fc0263354953aeeFC51Ba3A94E134e")
	supplyToken = common.HexToAddress("0xdAC17F958D2ee523a2206206994597C13D831ec7")
	borrowToken = common.HexToAddress("0x2260FAC5E5542a773Aa44fBCfeDf7C193bc2C599")
	stranger    = common.HexToAddress("0x00000000000000000000000000000000deadbeef")
)

func newTestStore(t *testing.T, supplied, borrowed int64) *Store {
	t.Helper()
	s, err := NewStore(Options{
		Account:         account,
		SupplyToken:     supplyToken,
		BorrowToken:     borrowToken,
		InitialSupplied: decimal.NewFromInt(supplied),
		InitialBorrowed: decimal.NewFromInt(borrowed),
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s
}

func ev(kind events.Kind, reserve, acct common.Address, amount int64) events.Event {
	return events.Event{
		Kind:       kind,
		Reserve:    reserve,
		Account:    acct,
		OnBehalfOf: acct,
		Amount:     big.NewInt(amount),
	}
}

func TestApplySequenceSumsDeltas(t *testing.T) {
	s := newTestStore(t, 1000, 0)

	seq := []events.Event{
		ev(events.KindSupply, supplyToken, account, 500),
		ev(events.KindBorrow, borrowToken, account, 300),
		ev(events.KindWithdraw, supplyToken, account, 200),
		ev(events.KindRepay, borrowToken, account, 100),
		ev(events.KindBorrow, borrowToken, account, 50),
	}
	for i, e := range seq {
		if err := s.Apply(e); err != nil {
			t.Fatalf("apply %d: %v", i, err)
		}
		snap := s.Snapshot()
		if snap.Supplied.IsNegative() || snap.Borrowed.IsNegative() {
			t.Fatalf("negative balance after event %d: %+v", i, snap)
		}
	}

	snap := s.Snapshot()
	if !snap.Supplied.Equal(decimal.NewFromInt(1300)) {
		t.Fatalf("supplied = %s, want 1300", snap.Supplied)
	}
	if !snap.Borrowed.Equal(decimal.NewFromInt(250)) {
		t.Fatalf("borrowed = %s, want 250", snap.Borrowed)
	}
}

func TestApplyIgnoresUntrackedReserveAndAccount(t *testing.T) {
	s := newTestStore(t, 1000, 100)
	before := s.Snapshot()

	cases := []events.Event{
		ev(events.KindSupply, borrowToken, account, 500),  // wrong reserve side
		ev(events.KindBorrow, supplyToken, account, 500),  // wrong reserve side
		ev(events.KindSupply, supplyToken, stranger, 500), // wrong account
		ev(events.KindRepay, borrowToken, stranger, 50),   // wrong account
	}
	for i, e := range cases {
		if err := s.Apply(e); err != nil {
			t.Fatalf("untracked event %d should be a no-op, got %v", i, err)
		}
	}

	after := s.Snapshot()
	if !after.Supplied.Equal(before.Supplied) || !after.Borrowed.Equal(before.Borrowed) {
		t.Fatalf("untracked events changed position: %+v -> %+v", before, after)
	}
}

func TestApplyMatchesOnBehalfOf(t *testing.T) {
	s := newTestStore(t, 0, 100)

	e := ev(events.KindSupply, supplyToken, stranger, 500)
	e.OnBehalfOf = account // third party supplies on behalf of tracked account
	if err := s.Apply(e); err != nil {
		t.Fatalf("apply supply: %v", err)
	}
	if got := s.Snapshot().Supplied; !got.Equal(decimal.NewFromInt(500)) {
		t.Fatalf("supplied = %s, want 500", got)
	}

	e = ev(events.KindBorrow, borrowToken, stranger, 40)
	e.OnBehalfOf = account // credit delegation: debt accrues to tracked account
	if err := s.Apply(e); err != nil {
		t.Fatalf("apply borrow: %v", err)
	}
	if got := s.Snapshot().Borrowed; !got.Equal(decimal.NewFromInt(140)) {
		t.Fatalf("borrowed = %s, want 140", got)
	}
}

func TestApplyIgnoresDecrementsForOtherUsers(t *testing.T) {
	s := newTestStore(t, 1000, 100)
	before := s.Snapshot()

	// tracked account repays a stranger's debt: the stranger's debt shrinks,
	// the tracked position is unchanged
	repay := ev(events.KindRepay, borrowToken, stranger, 40)
	repay.OnBehalfOf = account
	if err := s.Apply(repay); err != nil {
		t.Fatalf("apply repay: %v", err)
	}

	// stranger withdraws to the tracked account: recipient balances untouched
	withdraw := ev(events.KindWithdraw, supplyToken, stranger, 200)
	withdraw.OnBehalfOf = account
	if err := s.Apply(withdraw); err != nil {
		t.Fatalf("apply withdraw: %v", err)
	}

	after := s.Snapshot()
	if !after.Supplied.Equal(before.Supplied) || !after.Borrowed.Equal(before.Borrowed) {
		t.Fatalf("third-party decrements changed position: %+v -> %+v", before, after)
	}
}

func TestApplyRejectsNegativeBalance(t *testing.T) {
	s := newTestStore(t, 100, 50)
	before := s.Snapshot()

	if err := s.Apply(ev(events.KindWithdraw, supplyToken, account, 101)); !errors.Is(err, ErrNegativeBalance) {
		t.Fatalf("withdraw err = %v, want ErrNegativeBalance", err)
	}
	if err := s.Apply(ev(events.KindRepay, borrowToken, account, 51)); !errors.Is(err, ErrNegativeBalance) {
		t.Fatalf("repay err = %v, want ErrNegativeBalance", err)
	}

	after := s.Snapshot()
	if !after.Supplied.Equal(before.Supplied) || !after.Borrowed.Equal(before.Borrowed) {
		t.Fatalf("rejected events changed position: %+v -> %+v", before, after)
	}
}

func TestNewStoreRejectsNegativeSeed(t *testing.T) {
	_, err := NewStore(Options{
		InitialSupplied: decimal.NewFromInt(-1),
	}, zerolog.Nop())
	if err == nil {
		t.Fatal("negative initial supplied should be rejected")
	}
}

func TestSnapshotDuringWrites(t *testing.T) {
	s := newTestStore(t, 0, 0)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			_ = s.Apply(ev(events.KindSupply, supplyToken, account, 1))
			_ = s.Apply(ev(events.KindBorrow, borrowToken, account, 1))
		}
	}()

	// supplied and borrowed advance in lockstep; a torn read would show
	// supplied more than one ahead of borrowed or vice versa
	for i := 0; i < 1000; i++ {
		snap := s.Snapshot()
		diff := snap.Supplied.Sub(snap.Borrowed).Abs()
		if diff.GreaterThan(decimal.NewFromInt(1)) {
			t.Fatalf("torn snapshot: %+v", snap)
		}
	}
	wg.Wait()

	snap := s.Snapshot()
	if !snap.Supplied.Equal(decimal.NewFromInt(1000)) || !snap.Borrowed.Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("final position = %+v", snap)
	}
}
