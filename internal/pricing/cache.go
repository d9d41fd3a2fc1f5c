package pricing

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Quote is one cached USD unit price observation.
type Quote struct {
	Token      common.Address
	PriceUSD   decimal.Decimal
	ObservedAt time.Time
}

// StaleAt reports whether the quote is older than one refresh interval, i.e.
// it is being served last-known-good past its expected replacement time.
func (q Quote) StaleAt(now time.Time, interval time.Duration) bool {
	if interval <= 0 {
		return false
	}
	return now.Sub(q.ObservedAt) > interval
}

// CacheOptions identify the tracked token pair and the refresh cadence.
type CacheOptions struct {
	SupplyToken     common.Address
	BorrowToken     common.Address
	RefreshInterval time.Duration
}

// Cache holds the latest successfully fetched price pair. Refresh replaces
// both quotes together so readers never observe mixed time bases; a failed
// refresh leaves the previous pair in place.
type Cache struct {
	fetcher PriceFetcher
	opts    CacheOptions
	logger  zerolog.Logger

	mu     sync.RWMutex
	supply Quote
	borrow Quote
	primed bool
}

// NewCache constructs an empty cache; Latest reports no data until the first
// successful Refresh.
func NewCache(fetcher PriceFetcher, opts CacheOptions, logger zerolog.Logger) *Cache {
	return &Cache{
		fetcher: fetcher,
		opts:    opts,
		logger:  logger.With().Str("component", "price_cache").Logger(),
	}
}

// Refresh fetches both tracked token prices and swaps the pair in atomically.
func (c *Cache) Refresh(ctx context.Context) error {
	supplyPrice, err := c.fetcher.FetchPrice(ctx, c.opts.SupplyToken)
	if err != nil {
		return fmt.Errorf("fetch supply token price: %w", err)
	}
	borrowPrice, err := c.fetcher.FetchPrice(ctx, c.opts.BorrowToken)
	if err != nil {
		return fmt.Errorf("fetch borrow token price: %w", err)
	}

	observed := time.Now().UTC()

	c.mu.Lock()
	c.supply = Quote{Token: c.opts.SupplyToken, PriceUSD: supplyPrice, ObservedAt: observed}
	c.borrow = Quote{Token: c.opts.BorrowToken, PriceUSD: borrowPrice, ObservedAt: observed}
	c.primed = true
	c.mu.Unlock()

	c.logger.Debug().
		Str("supply_price_usd", supplyPrice.String()).
		Str("borrow_price_usd", borrowPrice.String()).
		Time("observed_at", observed).
		Msg("price pair refreshed")
	return nil
}

// Latest returns the cached pair without blocking. ok is false only before
// the first successful refresh.
func (c *Cache) Latest() (supply, borrow Quote, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.supply, c.borrow, c.primed
}

// Interval returns the configured refresh cadence, used for staleness
// reporting by readers.
func (c *Cache) Interval() time.Duration {
	return c.opts.RefreshInterval
}
