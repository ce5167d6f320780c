package liquidity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/poolkeeper/internal/domain"
)

// OneInch adapts the 1inch aggregation API. The aggregator spans every DEX
// it indexes, so pool discovery degrades to "can it quote the pair".
type OneInch struct {
	baseURL    string
	apiKey     string
	chainID    uint64
	recipient  common.Address
	httpClient *http.Client
}

// NewOneInch creates the adapter. baseURL defaults to the public API when
// empty.
func NewOneInch(baseURL, apiKey string, chainID uint64, recipient common.Address) *OneInch {
	if baseURL == "" {
		baseURL = "https://api.1inch.dev/swap/v6.0"
	}
	return &OneInch{
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    apiKey,
		chainID:   chainID,
		recipient: recipient,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// Source returns the adapter's tag.
func (o *OneInch) Source() domain.LiquiditySource { return domain.SourceOneInch }

// PoolExists probes the aggregator with a quote for the pair. A routable
// pair "exists"; the aggregator has no variant concept.
func (o *OneInch) PoolExists(ctx context.Context, tokenA, tokenB common.Address, _ domain.PoolVariant) (domain.PoolInfo, error) {
	// Probe with one base unit; the amount does not matter for existence.
	_, err := o.quoteRaw(ctx, big.NewInt(1), tokenA, tokenB)
	if err != nil {
		if isNoLiquidity(err) {
			return domain.PoolInfo{}, nil
		}
		return domain.PoolInfo{}, err
	}
	return domain.PoolInfo{Exists: true}, nil
}

// GetQuote returns the aggregator's expected output for the swap.
func (o *OneInch) GetQuote(ctx context.Context, amountIn *big.Int, tokenIn, tokenOut common.Address, _ domain.PoolVariant) (domain.Quote, error) {
	amountOut, err := o.quoteRaw(ctx, amountIn, tokenIn, tokenOut)
	if err != nil {
		if isNoLiquidity(err) {
			return domain.Quote{}, fmt.Errorf("oneinch: %s/%s: %w", tokenIn.Hex(), tokenOut.Hex(), domain.ErrNoLiquidity)
		}
		return domain.Quote{}, err
	}
	return domain.Quote{
		Source:    domain.SourceOneInch,
		TokenIn:   tokenIn,
		TokenOut:  tokenOut,
		AmountIn:  new(big.Int).Set(amountIn),
		AmountOut: amountOut,
		Route:     []common.Address{tokenIn, tokenOut},
	}, nil
}

// BuildSwap asks the aggregator's swap endpoint for ready calldata. The
// slippage is re-derived from minOut so the API builds against the same
// bound the caller computed.
func (o *OneInch) BuildSwap(ctx context.Context, q domain.Quote, minOut *big.Int, deadline time.Time) (domain.SwapInstruction, error) {
	// slippage% = (1 - minOut/quoteOut) * 100, rounded up to 0.1 steps.
	loss := new(big.Int).Sub(q.AmountOut, minOut)
	slippagePct := new(big.Float).Quo(
		new(big.Float).SetInt(new(big.Int).Mul(loss, big.NewInt(100))),
		new(big.Float).SetInt(q.AmountOut),
	)

	params := url.Values{}
	params.Set("src", q.TokenIn.Hex())
	params.Set("dst", q.TokenOut.Hex())
	params.Set("amount", q.AmountIn.String())
	params.Set("from", o.recipient.Hex())
	params.Set("slippage", slippagePct.Text('f', 2))
	params.Set("disableEstimate", "true")

	endpoint := fmt.Sprintf("%s/%d/swap?%s", o.baseURL, o.chainID, params.Encode())
	body, err := o.get(ctx, endpoint)
	if err != nil {
		return domain.SwapInstruction{}, fmt.Errorf("oneinch: swap: %w", err)
	}

	var result struct {
		Tx struct {
			To    string `json:"to"`
			Data  string `json:"data"`
			Value string `json:"value"`
		} `json:"tx"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return domain.SwapInstruction{}, fmt.Errorf("oneinch: decode swap: %w", err)
	}

	value, ok := new(big.Int).SetString(result.Tx.Value, 10)
	if !ok {
		value = new(big.Int)
	}
	return domain.SwapInstruction{
		Source:   domain.SourceOneInch,
		To:       common.HexToAddress(result.Tx.To),
		Calldata: common.FromHex(result.Tx.Data),
		Value:    value,
		MinOut:   minOut,
		Deadline: deadline,
	}, nil
}

func (o *OneInch) quoteRaw(ctx context.Context, amountIn *big.Int, tokenIn, tokenOut common.Address) (*big.Int, error) {
	params := url.Values{}
	params.Set("src", tokenIn.Hex())
	params.Set("dst", tokenOut.Hex())
	params.Set("amount", amountIn.String())

	endpoint := fmt.Sprintf("%s/%d/quote?%s", o.baseURL, o.chainID, params.Encode())
	body, err := o.get(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("oneinch: quote: %w", err)
	}

	var result struct {
		DstAmount string `json:"dstAmount"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("oneinch: decode quote: %w", err)
	}
	amountOut, ok := new(big.Int).SetString(result.DstAmount, 10)
	if !ok || amountOut.Sign() == 0 {
		return nil, fmt.Errorf("oneinch: empty quote: %w", domain.ErrNoLiquidity)
	}
	return amountOut, nil
}

func (o *OneInch) get(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if o.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+o.apiKey)
	}

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		if strings.Contains(strings.ToLower(string(body)), "insufficient liquidity") {
			return nil, fmt.Errorf("HTTP %d: %s: %w", resp.StatusCode, string(body), domain.ErrNoLiquidity)
		}
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}

func isNoLiquidity(err error) bool {
	return errors.Is(err, domain.ErrNoLiquidity)
}

// Compile-time interface check.
var _ Adapter = (*OneInch)(nil)
