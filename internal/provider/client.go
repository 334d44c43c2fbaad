package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/quantarc/quantarc/internal/config"
	"github.com/quantarc/quantarc/internal/frame"
	"github.com/quantarc/quantarc/internal/metrics"
	"github.com/quantarc/quantarc/internal/ratelimit"
)

// Status is the uniform outcome of a vendor call.
type Status string

const (
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// Client is the single chokepoint for outbound vendor calls. Every request
// passes the shared rate-limit gate and the circuit breaker; transport and
// vendor errors are retried within a bounded policy and surfaced as
// StatusError with an empty frame, never as a Go error.
type Client struct {
	url        string
	token      string
	httpc      *http.Client
	gate       *ratelimit.Gate
	breaker    *gobreaker.CircuitBreaker
	limits     *config.LimitStore
	retries    int
	retryDelay time.Duration
}

// NewClient constructs the vendor facade from process configuration. The
// gate must be the single process-wide limiter.
func NewClient(cfg config.Config, gate *ratelimit.Gate, limits *config.LimitStore) *Client {
	settings := gobreaker.Settings{Name: "vendor-api"}
	settings.Interval = 60 * time.Second
	settings.Timeout = 60 * time.Second
	settings.ReadyToTrip = func(counts gobreaker.Counts) bool {
		return counts.ConsecutiveFailures >= 5
	}

	return &Client{
		url:        cfg.APIURL,
		token:      cfg.Token,
		httpc:      &http.Client{Timeout: 60 * time.Second},
		gate:       gate,
		breaker:    gobreaker.NewCircuitBreaker(settings),
		limits:     limits,
		retries:    cfg.RetryCount,
		retryDelay: cfg.RetryDelay,
	}
}

// Call fetches one endpoint, assembling pages for paginated endpoints. The
// returned frame is empty when status is StatusError.
func (c *Client) Call(ctx context.Context, ep Endpoint, params map[string]string) (*frame.Frame, Status) {
	var (
		fr  *frame.Frame
		err error
	)
	if ep.Spec.Paginated {
		fr, err = c.fetchPaginated(ctx, ep, params)
	} else {
		fr, err = c.fetchWithRetry(ctx, ep, params)
	}
	if err != nil {
		metrics.VendorRequests.WithLabelValues(ep.APIName, string(StatusError)).Inc()
		log.Error().Err(err).Str("endpoint", ep.APIName).Msg("Vendor call failed")
		return frame.New(nil), StatusError
	}
	metrics.VendorRequests.WithLabelValues(ep.APIName, string(StatusSuccess)).Inc()
	return fr, StatusSuccess
}

// CallExpectData is the suspicious-empty path: when the caller has evidence
// the partition should be non-empty, an empty success is refetched a
// bounded number of times before being accepted as ground truth.
func (c *Client) CallExpectData(ctx context.Context, ep Endpoint, params map[string]string) (*frame.Frame, Status) {
	fr, status := c.Call(ctx, ep, params)
	for attempt := 1; status == StatusSuccess && fr.Empty() && attempt < c.retries; attempt++ {
		log.Warn().Str("endpoint", ep.APIName).Int("attempt", attempt).
			Msg("Suspicious empty response; refetching")
		metrics.VendorRetries.WithLabelValues(ep.APIName).Inc()
		select {
		case <-ctx.Done():
			return fr, status
		case <-time.After(c.retryDelay):
		}
		fr, status = c.Call(ctx, ep, params)
	}
	return fr, status
}

// fetchPaginated assembles a full result set page by page. A page of
// exactly limitmax rows means more may follow; a page larger than limitmax
// raises the endpoint's cap and persists the discovery. For endpoints with
// an overlap the offset advances short of the page size and the assembled
// frame is deduplicated by full-row equality once at the end.
func (c *Client) fetchPaginated(ctx context.Context, ep Endpoint, params map[string]string) (*frame.Frame, error) {
	limitmax := c.limits.Get(ep.APIName, ep.Spec.LimitMax)
	result := frame.New(nil)
	offset := 0

	for {
		pageParams := make(map[string]string, len(params)+2)
		for k, v := range params {
			pageParams[k] = v
		}
		pageParams["offset"] = strconv.Itoa(offset)
		pageParams["limit"] = strconv.Itoa(limitmax)

		page, err := c.fetchWithRetry(ctx, ep, pageParams)
		if err != nil {
			return nil, err
		}

		n := page.RowCount()
		result.Concat(page)

		if n == 0 || n < limitmax {
			break
		}
		if n > limitmax {
			// The vendor returned more than the configured cap; adopt the
			// observed size and remember it for future runs.
			limitmax = n
			c.limits.Set(ep.APIName, n)
		}

		advance := n
		if ep.Spec.OverlapRows > 0 && n > ep.Spec.OverlapRows {
			advance = n - ep.Spec.OverlapRows
		}
		offset += advance
	}

	result.Deduplicate()
	return result, nil
}

// fetchWithRetry performs one logical request with the bounded retry
// policy. Each attempt waits at the rate gate first.
func (c *Client) fetchWithRetry(ctx context.Context, ep Endpoint, params map[string]string) (*frame.Frame, error) {
	var lastErr error
	for attempt := 0; attempt < c.retries; attempt++ {
		if attempt > 0 {
			metrics.VendorRetries.WithLabelValues(ep.APIName).Inc()
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.retryDelay):
			}
		}
		if err := c.gate.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate gate wait aborted: %w", err)
		}

		res, err := c.breaker.Execute(func() (any, error) {
			return c.doRequest(ctx, ep.APIName, params)
		})
		if err != nil {
			lastErr = err
			log.Warn().Err(err).Str("endpoint", ep.APIName).Int("attempt", attempt+1).
				Msg("Vendor request attempt failed")
			continue
		}
		return res.(*frame.Frame), nil
	}
	return nil, fmt.Errorf("vendor request exhausted %d attempts: %w", c.retries, lastErr)
}

type apiRequest struct {
	APIName string            `json:"api_name"`
	Token   string            `json:"token"`
	Params  map[string]string `json:"params"`
	Fields  string            `json:"fields"`
}

type apiResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data struct {
		Fields []string `json:"fields"`
		Items  [][]any  `json:"items"`
	} `json:"data"`
}

// doRequest performs a single HTTP exchange and decodes the tabular
// payload.
func (c *Client) doRequest(ctx context.Context, apiName string, params map[string]string) (*frame.Frame, error) {
	body, err := json.Marshal(apiRequest{
		APIName: apiName,
		Token:   c.token,
		Params:  params,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("vendor request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("vendor returned HTTP %d", resp.StatusCode)
	}

	var decoded apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode vendor response: %w", err)
	}
	if decoded.Code != 0 {
		return nil, fmt.Errorf("vendor error %d: %s", decoded.Code, decoded.Msg)
	}

	fr := frame.New(decoded.Data.Fields)
	for _, item := range decoded.Data.Items {
		row := frame.Row{}
		for i, field := range decoded.Data.Fields {
			if i < len(item) {
				row[field] = item[i]
			}
		}
		fr.Append(row)
	}
	return fr, nil
}
