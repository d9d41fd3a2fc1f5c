package app

import (
	"context"
	"fmt"
	"io"
	"time"

	"liqwatch/internal/health"
)

// Check performs a one-shot evaluation: fetch both prices, compute the
// ratio from the configured seed balances, and print the result.
func (a *App) Check(ctx context.Context, out io.Writer) error {
	if a.Config.Pricing.APIKey == "" {
		return fmt.Errorf("pricing.api_key is required (set LIQWATCH_PRICING_API_KEY or the config file)")
	}

	store, err := a.newStore()
	if err != nil {
		return err
	}
	cache := a.newPriceCache()

	if err := cache.Refresh(ctx); err != nil {
		return fmt.Errorf("fetch prices: %w", err)
	}
	supply, borrow, _ := cache.Latest()

	eval := health.New(store, cache, health.Options{
		SupplyDecimals: a.Config.Position.SupplyToken.Decimals,
		BorrowDecimals: a.Config.Position.BorrowToken.Decimals,
	}, a.Logger)
	sample, err := eval.Evaluate(time.Now())
	if err != nil {
		return err
	}

	pos := store.Snapshot()
	fmt.Fprintf(out, "account:       %s\n", a.Config.Position.Account)
	fmt.Fprintf(out, "supply price:  $%s (%s)\n", supply.PriceUSD.StringFixed(6), a.Config.Position.SupplyToken.Address)
	fmt.Fprintf(out, "borrow price:  $%s (%s)\n", borrow.PriceUSD.StringFixed(6), a.Config.Position.BorrowToken.Address)
	fmt.Fprintf(out, "supplied:      %s native ($%s)\n", pos.Supplied, sample.SuppliedUSD.StringFixed(2))
	fmt.Fprintf(out, "borrowed:      %s native ($%s)\n", pos.Borrowed, sample.BorrowedUSD.StringFixed(2))
	if sample.Undercollateralized {
		fmt.Fprintf(out, "ratio:         undercollateralized (debt with no collateral)\n")
	} else {
		fmt.Fprintf(out, "ratio:         %s (threshold %.2f)\n", sample.Ratio.StringFixed(4), a.Config.Health.Threshold)
	}
	return nil
}
