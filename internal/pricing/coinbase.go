package pricing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"time"

	"github.com/alanyoungcy/poolkeeper/internal/domain"
)

// Coinbase is the fallback external market source. Tickers are Coinbase
// product pairs, e.g. "ETH-USD".
type Coinbase struct {
	baseURL    string
	httpClient *http.Client
}

// NewCoinbase creates a Coinbase spot price source. baseURL defaults to the
// public API when empty.
func NewCoinbase(baseURL string) *Coinbase {
	if baseURL == "" {
		baseURL = "https://api.coinbase.com/v2"
	}
	return &Coinbase{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Name identifies the source in logs.
func (c *Coinbase) Name() string { return "coinbase" }

// FetchPrice returns the pair's spot price, WAD-scaled.
func (c *Coinbase) FetchPrice(ctx context.Context, ticker string) (*big.Int, error) {
	endpoint := fmt.Sprintf("%s/prices/%s/spot", c.baseURL, ticker)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("coinbase: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("coinbase: http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("coinbase: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("coinbase: HTTP %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		Data struct {
			Amount   string `json:"amount"`
			Currency string `json:"currency"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("coinbase: decode response: %w", err)
	}
	if result.Data.Amount == "" {
		return nil, fmt.Errorf("coinbase: empty price for %q", ticker)
	}

	price, err := domain.ParseWad(result.Data.Amount)
	if err != nil {
		return nil, fmt.Errorf("coinbase: parse price for %q: %w", ticker, err)
	}
	return price, nil
}
