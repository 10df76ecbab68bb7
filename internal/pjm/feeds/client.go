package feeds

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/gridwatch/pjm-sync/internal/pjm"
)

const (
	defaultBaseURL = "https://api.pjm.com/api/v1"
	defaultRowCap  = 50000

	// The upstream publishes "beginning" timestamps without a zone.
	timeLayout      = "2006-01-02 15:04:05"
	timeLayoutT     = "2006-01-02T15:04:05"
	timeLayoutTZulu = "2006-01-02T15:04:05Z07:00"
)

// BackoffConfig controls exponential backoff behaviour for one request.
type BackoffConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// HTTPClientConfig bundles HTTP client and resilience settings.
type HTTPClientConfig struct {
	Client  *http.Client
	Backoff BackoffConfig
}

var (
	errRateLimited  = errors.New("rate limited")
	errServerError  = errors.New("server error")
	errUnexpected   = errors.New("unexpected status code")
	errCircuitOpen  = errors.New("circuit breaker open")
	errNoHTTPClient = errors.New("http client not configured")
)

// Client talks to the PJM Data Miner API. All feeds share one credential and
// therefore one rate budget: calls are strictly sequential and separated by a
// fixed pacing delay, enforced here so no caller can violate the budget.
type Client struct {
	apiKey  string
	baseURL string
	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
	rowCap  int
	log     zerolog.Logger

	mu       sync.Mutex
	paceWait time.Duration
	lastCall time.Time
}

// NewClient builds a feeds client. paceWait is the mandatory delay between
// consecutive upstream calls (the observed budget is one call every 5-12s).
func NewClient(httpClient *http.Client, apiKey string, paceWait time.Duration, log zerolog.Logger) *Client {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "pjm-dataminer",
		MaxRequests: 3,
		Interval:    1 * time.Minute,
		Timeout:     2 * time.Minute,
	})

	return &Client{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		httpCfg: HTTPClientConfig{
			Client: httpClient,
			Backoff: BackoffConfig{
				MaxRetries:      2,
				InitialInterval: 1 * time.Second,
				MaxInterval:     10 * time.Second,
			},
		},
		circuit:  cb,
		rowCap:   defaultRowCap,
		log:      log,
		paceWait: paceWait,
	}
}

// SetBaseURL overrides the upstream base URL. Used by tests.
func (c *Client) SetBaseURL(u string) { c.baseURL = u }

// pace blocks until the inter-call delay since the previous upstream call has
// elapsed. This is the only suspension point inside the adapter.
func (c *Client) pace(ctx context.Context) error {
	c.mu.Lock()
	wait := time.Duration(0)
	if !c.lastCall.IsZero() {
		if elapsed := time.Since(c.lastCall); elapsed < c.paceWait {
			wait = c.paceWait - elapsed
		}
	}
	c.lastCall = time.Now().Add(wait)
	c.mu.Unlock()

	if wait <= 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// getItems performs one windowed feed query, following the Data Miner
// `items` envelope and paginating via startRow whenever a response fills the
// row cap, so a large window is never silently truncated.
func (c *Client) getItems(ctx context.Context, endpoint string, params url.Values) ([]json.RawMessage, error) {
	var all []json.RawMessage
	startRow := 1

	for {
		if err := c.pace(ctx); err != nil {
			return nil, err
		}

		page := cloneValues(params)
		page.Set("format", "json")
		page.Set("rowCount", fmt.Sprintf("%d", c.rowCap))
		page.Set("startRow", fmt.Sprintf("%d", startRow))

		u := fmt.Sprintf("%s/%s?%s", c.baseURL, endpoint, page.Encode())
		buildRequest := func() (*http.Request, error) {
			req, err := http.NewRequest(http.MethodGet, u, nil)
			if err != nil {
				return nil, err
			}
			req.Header.Set("Ocp-Apim-Subscription-Key", c.apiKey)
			return req, nil
		}

		resp, err := doRequestWithResilience(ctx, c.httpCfg, c.circuit, buildRequest)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", pjm.ErrTransientFetch, endpoint, err)
		}

		var payload struct {
			Items []json.RawMessage `json:"items"`
		}
		decodeErr := json.NewDecoder(resp.Body).Decode(&payload)
		resp.Body.Close()
		if decodeErr != nil {
			return nil, fmt.Errorf("%w: %s: %v", pjm.ErrMalformedResponse, endpoint, decodeErr)
		}

		all = append(all, payload.Items...)
		if len(payload.Items) < c.rowCap {
			return all, nil
		}

		c.log.Debug().Str("endpoint", endpoint).Int("start_row", startRow).
			Msg("response filled row cap, fetching next page")
		startRow += c.rowCap
	}
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for k, vals := range v {
		out[k] = append([]string(nil), vals...)
	}
	return out
}

// rangeParam renders a [start, end] window in the feed's range syntax.
func rangeParam(start, end time.Time) string {
	return fmt.Sprintf("%s to %s", start.Format(timeLayout), end.Format(timeLayout))
}

// parseFeedTime accepts the timestamp shapes the feeds are known to emit.
func parseFeedTime(s string) (time.Time, error) {
	for _, layout := range []string{timeLayoutT, timeLayout, timeLayoutTZulu} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
}

// doRequestWithResilience executes the HTTP request with retries, exponential
// backoff, and a circuit breaker.
func doRequestWithResilience(
	ctx context.Context,
	cfg HTTPClientConfig,
	cb *gobreaker.CircuitBreaker,
	buildRequest func() (*http.Request, error),
) (*http.Response, error) {
	if cfg.Client == nil {
		return nil, errNoHTTPClient
	}

	var attempt int
	var lastErr error

	for {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		req, err := buildRequest()
		if err != nil {
			return nil, err
		}
		req = req.WithContext(ctx)

		result, err := cb.Execute(func() (interface{}, error) {
			resp, execErr := cfg.Client.Do(req)
			if execErr != nil {
				return nil, execErr
			}

			if resp.StatusCode == http.StatusTooManyRequests {
				resp.Body.Close()
				return nil, errRateLimited
			}
			if resp.StatusCode >= 500 {
				resp.Body.Close()
				return nil, errServerError
			}
			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				resp.Body.Close()
				return nil, fmt.Errorf("%w: %d", errUnexpected, resp.StatusCode)
			}

			return resp, nil
		})

		if err == nil {
			resp, ok := result.(*http.Response)
			if !ok {
				return nil, fmt.Errorf("unexpected result type from circuit breaker")
			}
			return resp, nil
		}

		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %v", errCircuitOpen, err)
		}

		lastErr = err
		if attempt >= cfg.Backoff.MaxRetries {
			return nil, lastErr
		}

		delay := cfg.Backoff.InitialInterval * time.Duration(math.Pow(2, float64(attempt)))
		if cfg.Backoff.MaxInterval > 0 && delay > cfg.Backoff.MaxInterval {
			delay = cfg.Backoff.MaxInterval
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}

		attempt++
	}
}
