package pricing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"time"

	"github.com/alanyoungcy/poolkeeper/internal/domain"
)

// CoinGecko is the primary external market source. Tickers are CoinGecko
// asset IDs, e.g. "ethereum".
type CoinGecko struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewCoinGecko creates a CoinGecko source. baseURL defaults to the public
// API when empty; apiKey is optional (pro tier).
func NewCoinGecko(baseURL, apiKey string) *CoinGecko {
	if baseURL == "" {
		baseURL = "https://api.coingecko.com/api/v3"
	}
	return &CoinGecko{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Name identifies the source in logs.
func (c *CoinGecko) Name() string { return "coingecko" }

// FetchPrice returns the asset's USD spot price, WAD-scaled.
func (c *CoinGecko) FetchPrice(ctx context.Context, ticker string) (*big.Int, error) {
	endpoint := fmt.Sprintf("%s/simple/price?ids=%s&vs_currencies=usd&precision=full",
		c.baseURL, url.QueryEscape(ticker))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("coingecko: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-cg-pro-api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("coingecko: http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("coingecko: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("coingecko: HTTP %d: %s", resp.StatusCode, string(body))
	}

	// Response shape: {"ethereum":{"usd":1843.52}}. Decode the price as
	// json.Number so the decimal string reaches the WAD parser without a
	// float round trip.
	var result map[string]map[string]json.Number
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&result); err != nil {
		return nil, fmt.Errorf("coingecko: decode response: %w", err)
	}

	asset, ok := result[ticker]
	if !ok {
		return nil, fmt.Errorf("coingecko: no entry for %q", ticker)
	}
	usd, ok := asset["usd"]
	if !ok {
		return nil, fmt.Errorf("coingecko: no usd price for %q", ticker)
	}

	price, err := domain.ParseWad(usd.String())
	if err != nil {
		return nil, fmt.Errorf("coingecko: parse price for %q: %w", ticker, err)
	}
	return price, nil
}
