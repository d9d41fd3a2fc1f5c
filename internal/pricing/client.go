package pricing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const assetsPath = "/fungibles/assets"

// PriceFetcher retrieves the current USD unit price of a token.
type PriceFetcher interface {
	FetchPrice(ctx context.Context, token common.Address) (decimal.Decimal, error)
}

// ClientOptions parameterise the price API client.
type ClientOptions struct {
	BaseURL   string
	APIKey    string
	Timeout   time.Duration
	UserAgent string
}

// Client fetches USD unit prices from a SimpleHash-compatible fungible
// assets API.
type Client struct {
	opts    ClientOptions
	logger  zerolog.Logger
	client  *http.Client
	baseURL string
}

// NewClient constructs a price API client.
func NewClient(opts ClientOptions, logger zerolog.Logger) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.simplehash.com/api/v0"
	}

	return &Client{
		opts:    opts,
		logger:  logger.With().Str("component", "price_client").Logger(),
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

// FetchPrice returns the USD unit price for the token, averaged across the
// marketplaces the API reports after dropping outliers.
func (c *Client) FetchPrice(ctx context.Context, token common.Address) (decimal.Decimal, error) {
	if c.opts.APIKey == "" {
		return decimal.Decimal{}, errors.New("price api key not configured")
	}

	query := url.Values{}
	query.Set("fungible_ids", "ethereum."+strings.ToLower(token.Hex()))
	query.Set("include_prices", "1")
	endpoint := c.baseURL + assetsPath + "?" + query.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return decimal.Decimal{}, err
	}
	req.Header.Set("X-API-KEY", c.opts.APIKey)
	req.Header.Set("Accept", "application/json")
	if ua := strings.TrimSpace(c.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return decimal.Decimal{}, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return decimal.Decimal{}, err
	}

	if resp.StatusCode != http.StatusOK {
		return decimal.Decimal{}, fmt.Errorf("price api error (%d): %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	var asset assetResponse
	if err := json.Unmarshal(payload, &asset); err != nil {
		return decimal.Decimal{}, fmt.Errorf("decode price response: %w", err)
	}

	values := make([]decimal.Decimal, 0, len(asset.Prices))
	for _, p := range asset.Prices {
		v, err := decimal.NewFromString(p.ValueUSDHighPrecision)
		if err != nil {
			c.logger.Warn().
				Str("token", token.Hex()).
				Str("marketplace", p.MarketplaceID).
				Str("value", p.ValueUSDHighPrecision).
				Msg("skipping unparsable marketplace price")
			continue
		}
		values = append(values, v)
	}

	if len(values) == 0 {
		return decimal.Decimal{}, fmt.Errorf("no usable prices for token %s", token.Hex())
	}

	return robustAverage(values), nil
}

// robustAverage drops values further than the mean from the mean, then
// averages the remainder. Falls back to the first value when the filter
// removes everything.
func robustAverage(values []decimal.Decimal) decimal.Decimal {
	n := decimal.NewFromInt(int64(len(values)))
	sum := decimal.Zero
	for _, v := range values {
		sum = sum.Add(v)
	}
	mean := sum.Div(n)

	kept := values[:0:0]
	for _, v := range values {
		if v.Sub(mean).Abs().LessThanOrEqual(mean) {
			kept = append(kept, v)
		}
	}
	if len(kept) == 0 {
		return values[0]
	}

	sum = decimal.Zero
	for _, v := range kept {
		sum = sum.Add(v)
	}
	return sum.Div(decimal.NewFromInt(int64(len(kept))))
}

type marketplacePrice struct {
	MarketplaceID         string `json:"marketplace_id"`
	MarketplaceName       string `json:"marketplace_name"`
	ValueUSDCents         uint64 `json:"value_usd_cents"`
	ValueUSDString        string `json:"value_usd_string"`
	ValueUSDHighPrecision string `json:"value_usd_string_high_precision"`
}

type assetResponse struct {
	Decimals uint64             `json:"decimals"`
	Symbol   string             `json:"symbol"`
	Prices   []marketplacePrice `json:"prices"`
}

var _ PriceFetcher = (*Client)(nil)
