package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/drcokefloat/scanx-brief/internal/logger"
)

const (
	DefaultBaseURL     = "https://clinicaltrials.gov/api/v2/studies"
	DefaultUserAgent   = "ScanX Clinical Trial Intelligence Platform"
	DefaultTimeout     = 30 * time.Second
	DefaultMaxResults  = 1000
	DefaultPageSize    = 100
	DefaultMaxPages    = 5
	DefaultPageDelay   = 500 * time.Millisecond
	DefaultMaxAttempts = 3
	DefaultBaseBackoff = time.Second

	maxPageBytes  = 32 << 20
	maxRetryAfter = 30 * time.Second
	sampleLogSize = 5
)

var errMalformedPage = errors.New("malformed registry page")

type Config struct {
	BaseURL     string
	UserAgent   string
	Timeout     time.Duration
	MaxResults  int
	PageSize    int
	MaxPages    int
	PageDelay   time.Duration
	MaxAttempts int
	BaseBackoff time.Duration
	HTTPClient  *http.Client
	Logger      *logger.Logger
}

// Client pages through the ClinicalTrials.gov v2 studies endpoint.
type Client struct {
	cfg    Config
	log    *logger.Logger
	tracer trace.Tracer
}

type pageResponse struct {
	Studies       []json.RawMessage `json:"studies"`
	NextPageToken string            `json:"nextPageToken"`
}

func NewClient(cfg Config) (*Client, error) {
	cfg.BaseURL = strings.TrimSpace(cfg.BaseURL)
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid registry base url %q", cfg.BaseURL)
	}
	if strings.TrimSpace(cfg.UserAgent) == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = DefaultMaxResults
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = DefaultMaxPages
	}
	if cfg.PageDelay <= 0 {
		cfg.PageDelay = DefaultPageDelay
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = DefaultBaseBackoff
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{
		cfg:    cfg,
		log:    cfg.Logger.With("component", "registry"),
		tracer: otel.Tracer("github.com/drcokefloat/scanx-brief/internal/registry"),
	}, nil
}

// Search returns the raw study records for query. Pagination stops after MaxPages
// pages, MaxResults records, an empty page, or a missing continuation token. A first
// page that still fails after retries is an *Error; a later one ends the search with
// whatever was already fetched.
func (c *Client) Search(ctx context.Context, query string) ([]json.RawMessage, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, &Error{Op: "search", Err: errors.New("empty query")}
	}
	ctx, span := c.tracer.Start(ctx, "registry.search", trace.WithAttributes(attribute.String("registry.query", query)))
	defer span.End()

	c.log.Info("clinicaltrials search started", "query", query)
	var all []json.RawMessage
	token := ""
	for page := 1; page <= c.cfg.MaxPages; page++ {
		resp, attempts, status, err := c.fetchPage(ctx, query, token, page)
		if err != nil {
			if page == 1 {
				rerr := &Error{Op: "search", Query: query, Attempts: attempts, StatusCode: status, Err: err}
				span.RecordError(rerr)
				span.SetStatus(codes.Error, "first page failed")
				c.log.Error("clinicaltrials search failed", "query", query, "attempts", attempts, "status", status, "error", err)
				return nil, rerr
			}
			c.log.Warn("clinicaltrials pagination stopped on error", "query", query, "page", page, "fetched", len(all), "error", err)
			break
		}
		if len(resp.Studies) == 0 {
			c.log.Debug("clinicaltrials empty page, stopping", "query", query, "page", page)
			break
		}
		if page == 1 {
			c.logSampleAnalysis(query, resp.Studies)
		}
		all = append(all, resp.Studies...)
		c.log.Debug("clinicaltrials page fetched", "query", query, "page", page, "count", len(resp.Studies), "total", len(all))

		if len(all) >= c.cfg.MaxResults {
			all = all[:c.cfg.MaxResults]
			c.log.Info("clinicaltrials max results reached", "query", query, "max", c.cfg.MaxResults)
			break
		}
		if resp.NextPageToken == "" {
			break
		}
		token = resp.NextPageToken
		if page == c.cfg.MaxPages {
			break
		}
		if err := sleepCtx(ctx, c.cfg.PageDelay); err != nil {
			c.log.Warn("clinicaltrials pagination interrupted", "query", query, "fetched", len(all), "error", err)
			break
		}
	}
	span.SetAttributes(attribute.Int("registry.results", len(all)))
	c.log.Info("clinicaltrials search finished", "query", query, "total", len(all))
	return all, nil
}

func (c *Client) fetchPage(ctx context.Context, query, token string, page int) (pageResponse, int, int, error) {
	ctx, span := c.tracer.Start(ctx, "registry.page", trace.WithAttributes(attribute.Int("registry.page", page)))
	defer span.End()

	var lastErr error
	statusCode := 0
	attempts := 0
	for attempt := 0; attempt < c.cfg.MaxAttempts; attempt++ {
		attempts++
		resp, code, retryAfter, err := c.executeOnce(ctx, query, token)
		statusCode = code
		if err == nil {
			span.SetAttributes(attribute.Int("registry.attempts", attempts))
			return resp, attempts, statusCode, nil
		}
		lastErr = err
		if !isRetryable(code, err) || ctx.Err() != nil || attempt == c.cfg.MaxAttempts-1 {
			break
		}
		sleep := backoffDelay(c.cfg.BaseBackoff, attempt)
		if code == http.StatusTooManyRequests && retryAfter > 0 {
			sleep = min(retryAfter, maxRetryAfter)
		}
		c.log.Warn("clinicaltrials request failed, retrying", "page", page, "attempt", attempts, "status", code, "backoff", sleep.String(), "error", err)
		if err := sleepCtx(ctx, sleep); err != nil {
			lastErr = err
			break
		}
	}
	span.RecordError(lastErr)
	span.SetStatus(codes.Error, "page fetch failed")
	return pageResponse{}, attempts, statusCode, lastErr
}

func (c *Client) executeOnce(ctx context.Context, query, token string) (pageResponse, int, time.Duration, error) {
	u, err := url.Parse(c.cfg.BaseURL)
	if err != nil {
		return pageResponse{}, 0, 0, err
	}
	q := u.Query()
	q.Set("query.term", query)
	q.Set("pageSize", strconv.Itoa(c.cfg.PageSize))
	if token != "" {
		q.Set("pageToken", token)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return pageResponse{}, 0, 0, err
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Accept", "application/json")

	res, err := c.cfg.HTTPClient.Do(req)
	if err != nil {
		return pageResponse{}, 0, 0, err
	}
	defer res.Body.Close()
	b, _ := io.ReadAll(io.LimitReader(res.Body, maxPageBytes))

	retryAfter := parseRetryAfter(res.Header.Get("Retry-After"))
	if res.StatusCode >= 400 {
		return pageResponse{}, res.StatusCode, retryAfter, fmt.Errorf("status code: %d body=%s", res.StatusCode, truncate(string(b), 300))
	}

	var parsed pageResponse
	if err := json.Unmarshal(b, &parsed); err != nil {
		return pageResponse{}, res.StatusCode, 0, fmt.Errorf("%w: %v", errMalformedPage, err)
	}
	return parsed, res.StatusCode, 0, nil
}

// isRetryable reports whether a failed page call is worth another attempt: timeouts,
// transport failures, 429 and 5xx. Malformed bodies and other 4xx are final.
func isRetryable(code int, err error) bool {
	if errors.Is(err, errMalformedPage) || errors.Is(err, context.Canceled) {
		return false
	}
	if isTimeoutError(err) {
		return true
	}
	if code == 0 {
		return true
	}
	return code == http.StatusTooManyRequests || code >= 500
}

// backoffDelay doubles base on every attempt: base, 2*base, 4*base...
func backoffDelay(base time.Duration, attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	return base << uint(attempt)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func parseRetryAfter(v string) time.Duration {
	if strings.TrimSpace(v) == "" {
		return 0
	}
	secs, err := strconv.Atoi(strings.TrimSpace(v))
	if err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

func isTimeoutError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
