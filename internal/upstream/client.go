// Package upstream fetches chart payloads from the remote trading-agent API
// and the exchange kline REST endpoint.
package upstream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"agent-chart-lab/internal/domain"
)

// Default configuration values.
const (
	DefaultTimeout     = 30 * time.Second
	DefaultMaxRetries  = 3
	DefaultRetryDelay  = 1 * time.Second
	DefaultMaxDelay    = 10 * time.Second
	DefaultBackoffMult = 2.0

	// KlinePageLimit is the candle count requested per kline page.
	KlinePageLimit = 1000
	// maxKlinePages bounds one ranged kline fetch.
	maxKlinePages = 100
)

// ErrUnsupportedSource is returned for keys no endpoint serves.
var ErrUnsupportedSource = errors.New("unsupported source")

// StatusError is a non-retryable HTTP status from the remote API.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

// Client fetches raw series payloads with retries and exponential backoff.
type Client struct {
	baseURL     string
	klineURL    string
	client      *http.Client
	maxRetries  int
	retryDelay  time.Duration
	maxDelay    time.Duration
	backoffMult float64
}

// ClientOption configures Client.
type ClientOption func(*Client)

// WithTimeout sets HTTP client timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		c.client.Timeout = d
	}
}

// WithMaxRetries sets maximum retry attempts.
func WithMaxRetries(n int) ClientOption {
	return func(c *Client) {
		c.maxRetries = n
	}
}

// WithRetryDelay sets initial retry delay.
func WithRetryDelay(d time.Duration) ClientOption {
	return func(c *Client) {
		c.retryDelay = d
	}
}

// WithMaxDelay sets maximum retry delay.
func WithMaxDelay(d time.Duration) ClientOption {
	return func(c *Client) {
		c.maxDelay = d
	}
}

// WithHTTPClient sets custom http.Client.
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		c.client = client
	}
}

// WithKlineURL sets the exchange REST base used for kline history.
func WithKlineURL(u string) ClientOption {
	return func(c *Client) {
		c.klineURL = strings.TrimRight(u, "/")
	}
}

// NewClient creates a client for the API rooted at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		klineURL:    "https://api.binance.com",
		client:      &http.Client{Timeout: DefaultTimeout},
		maxRetries:  DefaultMaxRetries,
		retryDelay:  DefaultRetryDelay,
		maxDelay:    DefaultMaxDelay,
		backoffMult: DefaultBackoffMult,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch returns the raw JSON array for key. {"data": [...]} envelopes are
// unwrapped; a null data field yields nil.
func (c *Client) Fetch(ctx context.Context, key domain.QueryKey) ([]byte, error) {
	if key.Source == domain.SourceKline && key.Start > 0 {
		return c.fetchKlineRange(ctx, key)
	}

	endpoint, err := c.endpoint(key)
	if err != nil {
		return nil, err
	}

	body, err := c.get(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", key.Source, err)
	}
	return unwrap(body), nil
}

// endpoint maps a key onto its URL.
func (c *Client) endpoint(key domain.QueryKey) (string, error) {
	q := url.Values{}
	var path string

	switch key.Source {
	case domain.SourceVaultBalance:
		path = c.baseURL + "/vaults/" + url.PathEscape(key.TargetID) + "/balance-history"
	case domain.SourceStrategyBalance:
		path = c.baseURL + "/strategies/" + url.PathEscape(key.TargetID) + "/balance-history"
	case domain.SourceFundingTrend:
		path = c.baseURL + "/backtests/" + url.PathEscape(key.TargetID) + "/funding-trend"
	case domain.SourceKline:
		if key.Symbol == "" || key.Interval == "" {
			return "", fmt.Errorf("%w: kline key needs symbol and interval", ErrUnsupportedSource)
		}
		q.Set("symbol", key.Symbol)
		q.Set("interval", key.Interval)
		if w := key.TimeRange.Window(); w > 0 {
			q.Set("startTime", fmt.Sprint(time.Now().Add(-w).UnixMilli()))
		}
		return c.klineURL + "/api/v3/klines?" + q.Encode(), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedSource, key.Source)
	}

	if key.TargetID == "" {
		return "", fmt.Errorf("%w: %s key needs a target id", ErrUnsupportedSource, key.Source)
	}
	if key.TimeRange != "" {
		q.Set("timeRange", string(key.TimeRange))
	}
	if key.ChartType != "" {
		q.Set("chartType", string(key.ChartType))
	}
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	return path, nil
}

// fetchKlineRange pages through [key.Start, key.End] and returns the rows as
// one JSON array. An open End stops after the first short page.
func (c *Client) fetchKlineRange(ctx context.Context, key domain.QueryKey) ([]byte, error) {
	if key.Symbol == "" || key.Interval == "" {
		return nil, fmt.Errorf("%w: kline key needs symbol and interval", ErrUnsupportedSource)
	}

	var rows []string
	start := key.Start
	for page := 0; page < maxKlinePages; page++ {
		q := url.Values{}
		q.Set("symbol", key.Symbol)
		q.Set("interval", key.Interval)
		q.Set("startTime", strconv.FormatInt(start, 10))
		if key.End > 0 {
			q.Set("endTime", strconv.FormatInt(key.End, 10))
		}
		q.Set("limit", strconv.Itoa(KlinePageLimit))

		body, err := c.get(ctx, c.klineURL+"/api/v3/klines?"+q.Encode())
		if err != nil {
			return nil, fmt.Errorf("fetch %s page %d: %w", key.Source, page, err)
		}
		batch := gjson.ParseBytes(body).Array()
		for _, row := range batch {
			rows = append(rows, row.Raw)
		}
		if len(batch) < KlinePageLimit {
			break
		}

		next := batch[len(batch)-1].Get("0").Int() + 1
		if next <= start || (key.End > 0 && next > key.End) {
			break
		}
		start = next
	}

	return []byte("[" + strings.Join(rows, ",") + "]"), nil
}

// get performs a GET with retries and exponential backoff.
// 4xx other than 429 is not retried.
func (c *Client) get(ctx context.Context, endpoint string) ([]byte, error) {
	delay := c.retryDelay
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			// Exponential backoff
			delay = time.Duration(float64(delay) * c.backoffMult)
			if delay > c.maxDelay {
				delay = c.maxDelay
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = fmt.Errorf("http request: %w", err)
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("read response: %w", err)
			continue
		}

		// Handle rate limiting
		if resp.StatusCode == http.StatusTooManyRequests {
			lastErr = fmt.Errorf("rate limited (429)")
			continue
		}

		if resp.StatusCode >= 500 {
			lastErr = &StatusError{Code: resp.StatusCode, Body: string(respBody)}
			continue
		}

		if resp.StatusCode != http.StatusOK {
			return nil, &StatusError{Code: resp.StatusCode, Body: string(respBody)}
		}

		return respBody, nil
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// unwrap extracts the array from a {"data": ...} envelope.
func unwrap(body []byte) []byte {
	doc := gjson.ParseBytes(body)
	if !doc.IsObject() {
		return body
	}
	data := doc.Get("data")
	if !data.Exists() || data.Type == gjson.Null {
		return nil
	}
	return []byte(data.Raw)
}
