package bitmapsource

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"golang.org/x/time/rate"
)

// Base64Bitmap mirrors spec §3's wire type from the bitmap service.
type Base64Bitmap struct {
	StartBlockHeight uint64
	Base64           string
}

const (
	queryExact = `query GetBitmapsExact($patterns: [String!]!, $date: date!) {
  dataplatform_near_receiver_blocks_bitmaps(
    where: { receiver_id: { _in: $patterns }, date: { _eq: $date } }
  ) {
    first_block_height
    bitmap
  }
}`

	queryWildcard = `query GetBitmapsWildcard($pattern: String!, $date: date!) {
  dataplatform_near_receiver_blocks_bitmaps(
    where: { receiver_id: { _regex: $pattern }, date: { _eq: $date } }
  ) {
    first_block_height
    bitmap
  }
}`
)

// Client fetches Base64Bitmap rows for one calendar day, grounded on
// original_source/block-streamer/src/receiver_blocks/receiver_blocks_processor.rs's
// GraphQLClient.get_bitmaps_exact / get_bitmaps_wildcard split.
//
// The pack's graphql-go/graphql and graphql-go/handler (observed in
// 0xmhha-indexer-go and SAGE-X-project-blockchain-indexer) are server-side
// schema/handler libraries; neither is a GraphQL client. No client library
// for this surface appears anywhere in the retrieval pack, so Client talks
// plain JSON-over-HTTP with net/http — the standard shape for a GraphQL POST
// request when no client SDK is pulled in.
type Client struct {
	Endpoint   string
	HTTPClient *http.Client

	// limiter caps outbound query rate, following flow/client.go's
	// newLimiterFromEnv pattern; nil (unlimited) unless BITMAP_SERVICE_RPS
	// is set.
	limiter *rate.Limiter
}

// NewClient returns a Client with a bounded-timeout HTTP client suitable for
// the bitmap service's low-latency queries.
func NewClient(endpoint string) *Client {
	return &Client{
		Endpoint:   endpoint,
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
		limiter:    limiterFromEnv(),
	}
}

func limiterFromEnv() *rate.Limiter {
	rpsStr := os.Getenv("BITMAP_SERVICE_RPS")
	if rpsStr == "" {
		return nil
	}
	rps, err := strconv.ParseFloat(rpsStr, 64)
	if err != nil || rps <= 0 {
		return nil
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type bitmapRow struct {
	FirstBlockHeight int64  `json:"first_block_height"`
	Bitmap           string `json:"bitmap"`
}

type graphqlResponse struct {
	Data struct {
		Rows []bitmapRow `json:"dataplatform_near_receiver_blocks_bitmaps"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

func (c *Client) do(ctx context.Context, req graphqlRequest) ([]Base64Bitmap, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal bitmap query: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build bitmap request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("fetch bitmaps: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bitmap service returned status %d", resp.StatusCode)
	}

	var decoded graphqlResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode bitmap response: %w", err)
	}
	if len(decoded.Errors) > 0 {
		return nil, fmt.Errorf("bitmap service error: %s", decoded.Errors[0].Message)
	}

	out := make([]Base64Bitmap, len(decoded.Data.Rows))
	for i, row := range decoded.Data.Rows {
		out[i] = Base64Bitmap{StartBlockHeight: uint64(row.FirstBlockHeight), Base64: row.Bitmap}
	}
	return out, nil
}

// FetchExact queries bitmaps for an exact list of account ids on date.
func (c *Client) FetchExact(ctx context.Context, patterns []string, date time.Time) ([]Base64Bitmap, error) {
	return c.do(ctx, graphqlRequest{
		Query: queryExact,
		Variables: map[string]any{
			"patterns": patterns,
			"date":     date.Format("2006-01-02"),
		},
	})
}

// FetchWildcard queries bitmaps matching a regular expression on date.
func (c *Client) FetchWildcard(ctx context.Context, pattern string, date time.Time) ([]Base64Bitmap, error) {
	return c.do(ctx, graphqlRequest{
		Query: queryWildcard,
		Variables: map[string]any{
			"pattern": pattern,
			"date":    date.Format("2006-01-02"),
		},
	})
}

// Fetcher is the interface bitmapsource.Fetch depends on, so callers can
// substitute a fake in tests instead of standing up an HTTP server.
type Fetcher interface {
	FetchExact(ctx context.Context, patterns []string, date time.Time) ([]Base64Bitmap, error)
	FetchWildcard(ctx context.Context, pattern string, date time.Time) ([]Base64Bitmap, error)
}

// Fetch dispatches a ContractPattern to the right query and returns the raw
// rows for one day; it does not decode or merge the bitmaps (that is the
// Bitmap Codec's job, one layer up).
func Fetch(ctx context.Context, f Fetcher, pattern ContractPattern, date time.Time) ([]Base64Bitmap, error) {
	switch pattern.Kind {
	case PatternExact:
		return f.FetchExact(ctx, pattern.Exact, date)
	default:
		return f.FetchWildcard(ctx, pattern.WildcardRegex, date)
	}
}
