package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"liqwatch/internal/position"
	"liqwatch/internal/pricing"
)

var (
	account     = common.HexToAddress("0xBDD3B59416Fc0263354953aeeFC51Ba3A94E134e")
	supplyToken = common.HexToAddress("0xdAC17F958D2ee523a2206206994597C13D831ec7")
	borrowToken = common.HexToAddress("0x2260FAC5E5542a773Aa44fBCfeDf7C193bc2C599")
)

type pairFetcher struct {
	supply decimal.Decimal
	borrow decimal.Decimal
}

func (p pairFetcher) FetchPrice(_ context.Context, token common.Address) (decimal.Decimal, error) {
	if token == supplyToken {
		return p.supply, nil
	}
	return p.borrow, nil
}

func newEvaluator(t *testing.T, supplied, borrowed int64, supplyPrice, borrowPrice string, primed bool) *Evaluator {
	t.Helper()
	store, err := position.NewStore(position.Options{
		Account:         account,
		SupplyToken:     supplyToken,
		BorrowToken:     borrowToken,
		InitialSupplied: decimal.NewFromInt(supplied),
		InitialBorrowed: decimal.NewFromInt(borrowed),
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	cache := pricing.NewCache(pairFetcher{
		supply: decimal.RequireFromString(supplyPrice),
		borrow: decimal.RequireFromString(borrowPrice),
	}, pricing.CacheOptions{
		SupplyToken:     supplyToken,
		BorrowToken:     borrowToken,
		RefreshInterval: time.Minute,
	}, zerolog.Nop())
	if primed {
		if err := cache.Refresh(context.Background()); err != nil {
			t.Fatalf("Refresh: %v", err)
		}
	}

	// native amounts below use 6 decimals on both sides for round numbers
	return New(store, cache, Options{SupplyDecimals: 6, BorrowDecimals: 6}, zerolog.Nop())
}

func TestEvaluateInsufficientData(t *testing.T) {
	e := newEvaluator(t, 1000_000000, 0, "1", "1", false)
	if _, err := e.Evaluate(time.Now()); !errors.Is(err, ErrInsufficientData) {
		t.Fatalf("err = %v, want ErrInsufficientData", err)
	}
}

func TestEvaluateRatio(t *testing.T) {
	// $1000 supplied, $900 borrowed
	e := newEvaluator(t, 1000_000000, 900_000000, "1", "1", true)
	sample, err := e.Evaluate(time.Now())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !sample.Ratio.Equal(decimal.RequireFromString("0.9")) {
		t.Fatalf("ratio = %s, want 0.9", sample.Ratio)
	}
	if !sample.SuppliedUSD.Equal(decimal.NewFromInt(1000)) || !sample.BorrowedUSD.Equal(decimal.NewFromInt(900)) {
		t.Fatalf("usd values = %s / %s", sample.SuppliedUSD, sample.BorrowedUSD)
	}
	if sample.Undercollateralized {
		t.Fatal("position with collateral is not undercollateralized")
	}
	if !sample.Breaches(decimal.RequireFromString("0.89")) {
		t.Fatal("0.9 should breach threshold 0.89")
	}
	if sample.Breaches(decimal.RequireFromString("0.95")) {
		t.Fatal("0.9 should not breach threshold 0.95")
	}
}

func TestEvaluateEmptyPosition(t *testing.T) {
	e := newEvaluator(t, 0, 0, "1", "60000", true)
	sample, err := e.Evaluate(time.Now())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !sample.Ratio.IsZero() || sample.Undercollateralized {
		t.Fatalf("empty position should yield ratio 0, got %+v", sample)
	}
	if sample.Breaches(decimal.RequireFromString("0.89")) {
		t.Fatal("empty position must not alert")
	}
}

func TestEvaluateDebtWithoutCollateral(t *testing.T) {
	e := newEvaluator(t, 0, 100_000000, "1", "1", true)
	sample, err := e.Evaluate(time.Now())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !sample.Undercollateralized {
		t.Fatal("debt against zero collateral should flag undercollateralized")
	}
	if !sample.Breaches(decimal.RequireFromString("0.89")) {
		t.Fatal("undercollateralized sample always breaches")
	}
}

func TestEvaluateThresholdBoundary(t *testing.T) {
	// exactly at the threshold counts as breaching
	e := newEvaluator(t, 1000_000000, 890_000000, "1", "1", true)
	sample, err := e.Evaluate(time.Now())
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !sample.Ratio.Equal(decimal.RequireFromString("0.89")) {
		t.Fatalf("ratio = %s, want 0.89", sample.Ratio)
	}
	if !sample.Breaches(decimal.RequireFromString("0.89")) {
		t.Fatal("ratio equal to threshold should breach")
	}
}
