// Package subgraph queries the protocol's subgraph indexer for
// point-in-time pool snapshots: loans, open auctions, buckets, and the
// pool-internal reference prices. Snapshots are eventually consistent and
// re-fetched every cycle.
package subgraph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/poolkeeper/internal/domain"
)

// Client is a GraphQL client for the protocol subgraph.
type Client struct {
	graphqlURL string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a subgraph client for the given endpoint.
func NewClient(graphqlURL, apiKey string) *Client {
	return &Client{
		graphqlURL: graphqlURL,
		apiKey:     strings.TrimSpace(apiKey),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// graphqlRequest is the standard GraphQL request envelope.
type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

// graphqlResponse is the standard GraphQL response envelope.
type graphqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// FetchSnapshot queries the subgraph for the current state of one pool.
func (c *Client) FetchSnapshot(ctx context.Context, pool common.Address) (*domain.PoolSnapshot, error) {
	query := `
		query PoolSnapshot($pool: ID!) {
			pool(id: $pool) {
				lup
				hpb
				loans(where: { inLiquidation: false, t0debt_gt: 0 }) {
					borrower
					thresholdPrice
					liquidationBond
					neutralPrice
					debt
				}
				liquidationAuctions(where: { settled: false }) {
					borrower
					kicker
					collateralRemaining
					debtRemaining
					neutralPrice
					kickTime
					settled
					bondClaimable
				}
				buckets(where: { deposit_gt: 0 }, orderBy: bucketIndex) {
					bucketIndex
					bucketPrice
					deposit
				}
			}
		}
	`

	variables := map[string]any{
		"pool": strings.ToLower(pool.Hex()),
	}

	respData, err := c.doQuery(ctx, query, variables)
	if err != nil {
		return nil, fmt.Errorf("subgraph: fetch snapshot %s: %w", pool.Hex(), err)
	}

	var result struct {
		Pool *struct {
			LUP   string `json:"lup"`
			HPB   string `json:"hpb"`
			Loans []struct {
				Borrower        string `json:"borrower"`
				ThresholdPrice  string `json:"thresholdPrice"`
				LiquidationBond string `json:"liquidationBond"`
				NeutralPrice    string `json:"neutralPrice"`
				Debt            string `json:"debt"`
			} `json:"loans"`
			LiquidationAuctions []struct {
				Borrower            string `json:"borrower"`
				Kicker              string `json:"kicker"`
				CollateralRemaining string `json:"collateralRemaining"`
				DebtRemaining       string `json:"debtRemaining"`
				NeutralPrice        string `json:"neutralPrice"`
				KickTime            string `json:"kickTime"`
				Settled             bool   `json:"settled"`
				BondClaimable       string `json:"bondClaimable"`
			} `json:"liquidationAuctions"`
			Buckets []struct {
				BucketIndex uint64 `json:"bucketIndex"`
				BucketPrice string `json:"bucketPrice"`
				Deposit     string `json:"deposit"`
			} `json:"buckets"`
		} `json:"pool"`
	}

	if err := json.Unmarshal(respData, &result); err != nil {
		return nil, fmt.Errorf("subgraph: decode snapshot: %w", err)
	}
	if result.Pool == nil {
		return nil, fmt.Errorf("subgraph: pool %s: %w", pool.Hex(), domain.ErrNotFound)
	}

	snap := &domain.PoolSnapshot{
		Pool:      pool,
		LUP:       parseWad(result.Pool.LUP),
		HPB:       parseWad(result.Pool.HPB),
		FetchedAt: time.Now().UTC(),
	}

	for _, l := range result.Pool.Loans {
		snap.Loans = append(snap.Loans, domain.Loan{
			Borrower:        common.HexToAddress(l.Borrower),
			ThresholdPrice:  parseWad(l.ThresholdPrice),
			LiquidationBond: parseWad(l.LiquidationBond),
			NeutralPrice:    parseWad(l.NeutralPrice),
			Debt:            parseWad(l.Debt),
		})
	}

	for _, a := range result.Pool.LiquidationAuctions {
		// A kick time that does not parse would make the auction look
		// decades old and trivially pass the settlement age gate.
		kickUnix, err := strconv.ParseInt(a.KickTime, 10, 64)
		if err != nil {
			continue
		}
		snap.Auctions = append(snap.Auctions, domain.Auction{
			Borrower:            common.HexToAddress(a.Borrower),
			Kicker:              common.HexToAddress(a.Kicker),
			CollateralRemaining: parseWad(a.CollateralRemaining),
			DebtRemaining:       parseWad(a.DebtRemaining),
			NeutralPrice:        parseWad(a.NeutralPrice),
			KickTime:            time.Unix(kickUnix, 0).UTC(),
			Settled:             a.Settled,
			BondClaimable:       parseWad(a.BondClaimable),
		})
	}

	for _, b := range result.Pool.Buckets {
		snap.Buckets = append(snap.Buckets, domain.Bucket{
			Index:   b.BucketIndex,
			Price:   parseWad(b.BucketPrice),
			Deposit: parseWad(b.Deposit),
		})
	}

	return snap, nil
}

// FetchLatestBlock returns the latest block number the subgraph has
// indexed, for monitoring indexing lag.
func (c *Client) FetchLatestBlock(ctx context.Context) (int64, error) {
	query := `
		query LatestBlock {
			_meta {
				block {
					number
				}
			}
		}
	`

	respData, err := c.doQuery(ctx, query, nil)
	if err != nil {
		return 0, fmt.Errorf("subgraph: fetch latest block: %w", err)
	}

	var result struct {
		Meta struct {
			Block struct {
				Number int64 `json:"number"`
			} `json:"block"`
		} `json:"_meta"`
	}

	if err := json.Unmarshal(respData, &result); err != nil {
		return 0, fmt.Errorf("subgraph: decode latest block: %w", err)
	}

	return result.Meta.Block.Number, nil
}

// parseWad decodes a decimal string into a big.Int. Missing, null, or
// malformed values become nil so callers can tell an unset field from a
// true on-chain zero; only a literal "0" produces a zero value.
func parseWad(s string) *big.Int {
	if s == "" {
		return nil
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil
	}
	return n
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// doQuery executes a GraphQL query and returns the raw "data" field.
func (c *Client) doQuery(ctx context.Context, query string, variables map[string]any) (json.RawMessage, error) {
	reqBody := graphqlRequest{
		Query:     query,
		Variables: variables,
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal graphql request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.graphqlURL, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}

	var gqlResp graphqlResponse
	if err := json.Unmarshal(body, &gqlResp); err != nil {
		return nil, fmt.Errorf("decode graphql response: %w", err)
	}

	if len(gqlResp.Errors) > 0 {
		return nil, fmt.Errorf("graphql error: %s", gqlResp.Errors[0].Message)
	}

	return gqlResp.Data, nil
}

// Compile-time interface check.
var _ domain.SnapshotSource = (*Client)(nil)
