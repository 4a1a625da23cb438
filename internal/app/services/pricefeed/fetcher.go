package pricefeed

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/r3e-network/neo-service-layer-sub007/pkg/logger"
)

// Fetcher retrieves the current price for a pair from an upstream source.
type Fetcher interface {
	Fetch(ctx context.Context, pair string) (float64, string, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, pair string) (float64, string, error)

func (f FetcherFunc) Fetch(ctx context.Context, pair string) (float64, string, error) {
	if f == nil {
		return 0, "", fmt.Errorf("no fetcher configured")
	}
	return f(ctx, pair)
}

// HTTPFetcher queries a JSON price endpoint. The price is extracted from
// the response body with a configurable JSON path so the fetcher works
// against differently shaped upstream APIs.
type HTTPFetcher struct {
	client    *http.Client
	endpoint  *url.URL
	apiKey    string
	pricePath string
	log       *logger.Logger
}

// NewHTTPFetcher constructs a fetcher. pricePath selects the price field in
// the response, for example "data.price" or "quotes.0.last".
func NewHTTPFetcher(client *http.Client, endpoint, apiKey, pricePath string, log *logger.Logger) (*HTTPFetcher, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("fetcher endpoint required")
	}
	parsed, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("parse fetcher endpoint: %w", err)
	}
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	if pricePath == "" {
		pricePath = "price"
	}
	if log == nil {
		log = logger.NewDefault("pricefeed-fetcher")
	}
	return &HTTPFetcher{
		client:    client,
		endpoint:  parsed,
		apiKey:    strings.TrimSpace(apiKey),
		pricePath: pricePath,
		log:       log,
	}, nil
}

func (f *HTTPFetcher) Fetch(ctx context.Context, pair string) (float64, string, error) {
	requestURL := *f.endpoint
	q := requestURL.Query()
	q.Set("pair", pair)
	requestURL.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL.String(), nil)
	if err != nil {
		return 0, "", fmt.Errorf("build price request: %w", err)
	}
	if f.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+f.apiKey)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("price request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, "", fmt.Errorf("price endpoint status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, "", fmt.Errorf("read price response: %w", err)
	}

	value := gjson.GetBytes(body, f.pricePath)
	if !value.Exists() {
		return 0, "", fmt.Errorf("price path %q missing in response", f.pricePath)
	}
	price := value.Float()
	if price <= 0 {
		return 0, "", fmt.Errorf("non-positive price %f for %s", price, pair)
	}
	return price, f.endpoint.Host, nil
}
