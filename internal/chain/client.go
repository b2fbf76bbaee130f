// Package chain implements the on-chain data adapter over a GraphQL token
// indexer. The rug-pull scorer is its only consumer.
package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantfold/dexmaker/internal/domain"
)

// Client is a GraphQL client for a token indexer exposing supply, liquidity
// pool and holder data.
type Client struct {
	graphqlURL string
	apiKey     string
	httpClient *http.Client
}

var _ domain.ChainData = (*Client)(nil)

// NewClient creates a new indexer client.
//
// graphqlURL is the subgraph endpoint, e.g.
// "https://indexer.example/subgraphs/tokens/gn".
func NewClient(graphqlURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		graphqlURL: graphqlURL,
		apiKey:     strings.TrimSpace(apiKey),
		httpClient: &http.Client{
			Timeout: timeout,
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

// GetSupply implements domain.ChainData.
func (c *Client) GetSupply(ctx context.Context, asset string) (decimal.Decimal, error) {
	query := `
		query TokenSupply($asset: String!) {
			token(id: $asset) {
				totalSupply
			}
		}
	`

	data, err := c.query(ctx, query, map[string]any{"asset": asset})
	if err != nil {
		return decimal.Zero, fmt.Errorf("chain: get supply %s: %w", asset, err)
	}

	var resp struct {
		Token *struct {
			TotalSupply string `json:"totalSupply"`
		} `json:"token"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return decimal.Zero, fmt.Errorf("chain: decode supply: %w", err)
	}
	if resp.Token == nil {
		return decimal.Zero, fmt.Errorf("chain: token %s: %w", asset, domain.ErrNotFound)
	}

	supply, err := decimal.NewFromString(resp.Token.TotalSupply)
	if err != nil {
		return decimal.Zero, fmt.Errorf("chain: supply %q: %w", resp.Token.TotalSupply, err)
	}
	return supply, nil
}

// GetLiquidityPools implements domain.ChainData. Pools are returned largest
// first by USD liquidity.
func (c *Client) GetLiquidityPools(ctx context.Context, asset string) ([]domain.LiquidityPool, error) {
	query := `
		query TokenPools($asset: String!) {
			pools(
				where: { token: $asset }
				orderBy: tvlUSD
				orderDirection: desc
			) {
				id
				baseReserve
				quoteReserve
				tvlUSD
			}
		}
	`

	data, err := c.query(ctx, query, map[string]any{"asset": asset})
	if err != nil {
		return nil, fmt.Errorf("chain: get pools %s: %w", asset, err)
	}

	var resp struct {
		Pools []struct {
			ID           string `json:"id"`
			BaseReserve  string `json:"baseReserve"`
			QuoteReserve string `json:"quoteReserve"`
			TVLUSD       string `json:"tvlUSD"`
		} `json:"pools"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("chain: decode pools: %w", err)
	}

	pools := make([]domain.LiquidityPool, 0, len(resp.Pools))
	for _, p := range resp.Pools {
		tvl, err := decimal.NewFromString(p.TVLUSD)
		if err != nil {
			return nil, fmt.Errorf("chain: pool %s tvl %q: %w", p.ID, p.TVLUSD, err)
		}
		baseRes, err := decimal.NewFromString(p.BaseReserve)
		if err != nil {
			return nil, fmt.Errorf("chain: pool %s base reserve %q: %w", p.ID, p.BaseReserve, err)
		}
		quoteRes, err := decimal.NewFromString(p.QuoteReserve)
		if err != nil {
			return nil, fmt.Errorf("chain: pool %s quote reserve %q: %w", p.ID, p.QuoteReserve, err)
		}
		pools = append(pools, domain.LiquidityPool{
			Address:      p.ID,
			BaseReserve:  baseRes,
			QuoteReserve: quoteRes,
			TVLUSD:       tvl,
		})
	}
	return pools, nil
}

// GetTopHolders implements domain.ChainData. Shares are fractions of total
// supply, largest first.
func (c *Client) GetTopHolders(ctx context.Context, asset string, limit int) ([]domain.HolderShare, error) {
	query := `
		query TopHolders($asset: String!, $first: Int!) {
			holders(
				first: $first
				where: { token: $asset }
				orderBy: pct
				orderDirection: desc
			) {
				address
				pct
			}
		}
	`

	data, err := c.query(ctx, query, map[string]any{"asset": asset, "first": limit})
	if err != nil {
		return nil, fmt.Errorf("chain: get holders %s: %w", asset, err)
	}

	var resp struct {
		Holders []struct {
			Address string  `json:"address"`
			Pct     float64 `json:"pct"`
		} `json:"holders"`
	}
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("chain: decode holders: %w", err)
	}

	holders := make([]domain.HolderShare, 0, len(resp.Holders))
	for _, h := range resp.Holders {
		holders = append(holders, domain.HolderShare{
			Address: h.Address,
			Pct:     h.Pct,
		})
	}
	return holders, nil
}

// query executes one GraphQL request and returns the data payload.
func (c *Client) query(ctx context.Context, query string, variables map[string]any) (json.RawMessage, error) {
	reqBody, err := json.Marshal(graphqlRequest{Query: query, Variables: variables})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.graphqlURL, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
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
	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, domain.ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var envelope graphqlResponse
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(envelope.Errors) > 0 {
		return nil, fmt.Errorf("graphql: %s", envelope.Errors[0].Message)
	}
	return envelope.Data, nil
}
