// Package oracle quotes AVAX and USDT prices in fiat currencies.
package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cloudx-io/rentauction/core"
)

const (
	DefaultBaseURL = "https://api.coingecko.com/api/v3"

	avaxID = "avalanche-2"
	usdtID = "tether"

	defaultHTTPTimeout = 10 * time.Second
	maxResponseBytes   = 1 << 16
)

// CoinGecko fetches quotes from the CoinGecko simple price API.
type CoinGecko struct {
	baseURL string
	client  *http.Client
}

type CoinGeckoOption func(*CoinGecko)

func WithHTTPClient(c *http.Client) CoinGeckoOption {
	return func(g *CoinGecko) { g.client = c }
}

func NewCoinGecko(baseURL string, opts ...CoinGeckoOption) *CoinGecko {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	g := &CoinGecko{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: defaultHTTPTimeout},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Rate implements settlement.RateOracle. Every failure wraps core.ErrRateUnavailable.
func (g *CoinGecko) Rate(ctx context.Context, fiat core.Currency) (core.Quote, error) {
	if !fiat.IsFiat() {
		return core.Quote{}, fmt.Errorf("%w: %s is not a fiat currency", core.ErrValidation, fiat)
	}
	vs := strings.ToLower(string(fiat))

	q := url.Values{}
	q.Set("ids", avaxID+","+usdtID)
	q.Set("vs_currencies", vs)
	endpoint := g.baseURL + "/simple/price?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return core.Quote{}, fmt.Errorf("%w: failed to build request: %w", core.ErrRateUnavailable, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return core.Quote{}, fmt.Errorf("%w: %w", core.ErrRateUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return core.Quote{}, fmt.Errorf("%w: failed to read response: %w", core.ErrRateUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		return core.Quote{}, fmt.Errorf("%w: coingecko returned %d", core.ErrRateUnavailable, resp.StatusCode)
	}

	// {"avalanche-2":{"usd":25.3},"tether":{"usd":1.0}}
	var prices map[string]map[string]decimal.Decimal
	if err := json.Unmarshal(body, &prices); err != nil {
		return core.Quote{}, fmt.Errorf("%w: failed to decode response: %w", core.ErrRateUnavailable, err)
	}

	avax, ok := prices[avaxID][vs]
	if !ok {
		return core.Quote{}, fmt.Errorf("%w: no AVAX price in %s", core.ErrRateUnavailable, fiat)
	}
	usdt, ok := prices[usdtID][vs]
	if !ok {
		return core.Quote{}, fmt.Errorf("%w: no USDT price in %s", core.ErrRateUnavailable, fiat)
	}

	return core.Quote{Fiat: fiat, AVAX: avax, USDT: usdt}, nil
}
