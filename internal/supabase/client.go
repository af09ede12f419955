// Package supabase is a small client for the Supabase REST (PostgREST) and
// Auth (GoTrue) APIs. Idempotent requests are retried on 429/5xx and every
// request passes through a circuit breaker.
package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Config holds client configuration.
type Config struct {
	URL     string
	AnonKey string
	// ServiceKey bypasses row level security and is used for table access
	// when set. Auth calls always use AnonKey.
	ServiceKey string
	HTTPClient *http.Client
	Retry      RetryConfig
	Breaker    BreakerConfig
}

// Client talks to one Supabase project.
type Client struct {
	baseURL    string
	anonKey    string
	serviceKey string
	httpClient *http.Client
	retry      RetryConfig
	breaker    *CircuitBreaker
}

// New creates a client. URL and AnonKey are required.
func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("supabase: URL is required")
	}
	if cfg.AnonKey == "" && cfg.ServiceKey == "" {
		return nil, fmt.Errorf("supabase: an API key is required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	if cfg.Retry == (RetryConfig{}) {
		cfg.Retry = DefaultRetryConfig()
	}
	if cfg.Breaker == (BreakerConfig{}) {
		cfg.Breaker = DefaultBreakerConfig()
	}
	anon := cfg.AnonKey
	if anon == "" {
		anon = cfg.ServiceKey
	}
	return &Client{
		baseURL:    strings.TrimSuffix(cfg.URL, "/"),
		anonKey:    anon,
		serviceKey: cfg.ServiceKey,
		httpClient: httpClient,
		retry:      cfg.Retry,
		breaker:    NewCircuitBreaker(cfg.Breaker),
	}, nil
}

// Breaker exposes the circuit breaker state for health reporting.
func (c *Client) Breaker() *CircuitBreaker { return c.breaker }

func (c *Client) tableKey() string {
	if c.serviceKey != "" {
		return c.serviceKey
	}
	return c.anonKey
}

// request describes one HTTP call; it is rebuilt on every attempt.
type request struct {
	method     string
	path       string
	query      url.Values
	body       []byte
	headers    map[string]string
	apiKey     string
	bearer     string
	idempotent bool
}

// Response is a raw API response.
type Response struct {
	StatusCode int
	Body       []byte
	Header     http.Header
}

func (c *Client) do(ctx context.Context, r request) (*Response, error) {
	attempts := 1
	if r.idempotent {
		attempts += c.retry.MaxRetries
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.retry.backoff(attempt)):
			}
		}
		if err := c.breaker.Allow(); err != nil {
			return nil, err
		}

		resp, err := c.send(ctx, r)
		if err != nil {
			c.breaker.Failure()
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			continue
		}
		if retryableStatus(resp.StatusCode) {
			if resp.StatusCode >= 500 {
				c.breaker.Failure()
			}
			lastErr = parseError(resp)
			continue
		}
		c.breaker.Success()
		if resp.StatusCode >= 400 {
			return resp, parseError(resp)
		}
		return resp, nil
	}
	return nil, lastErr
}

func (c *Client) send(ctx context.Context, r request) (*Response, error) {
	u := c.baseURL + r.path
	if len(r.query) > 0 {
		u += "?" + r.query.Encode()
	}
	var body io.Reader
	if r.body != nil {
		body = bytes.NewReader(r.body)
	}
	req, err := http.NewRequestWithContext(ctx, r.method, u, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("apikey", r.apiKey)
	bearer := r.bearer
	if bearer == "" {
		bearer = r.apiKey
	}
	req.Header.Set("Authorization", "Bearer "+bearer)
	req.Header.Set("Accept", "application/json")
	if r.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range r.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", r.method, r.path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return &Response{StatusCode: resp.StatusCode, Body: data, Header: resp.Header}, nil
}

// From starts a query against a table.
func (c *Client) From(table string) *QueryBuilder {
	return &QueryBuilder{client: c, table: table, params: url.Values{}}
}

// QueryBuilder accumulates PostgREST filters for one table.
type QueryBuilder struct {
	client *Client
	table  string
	params url.Values
	orders []string
	single bool
}

func (q *QueryBuilder) filter(column, op string, value any) *QueryBuilder {
	q.params.Add(column, op+"."+fmt.Sprint(value))
	return q
}

// Select sets the column list.
func (q *QueryBuilder) Select(columns string) *QueryBuilder {
	q.params.Set("select", columns)
	return q
}

// Eq adds column = value.
func (q *QueryBuilder) Eq(column string, value any) *QueryBuilder { return q.filter(column, "eq", value) }

// Gte adds column >= value.
func (q *QueryBuilder) Gte(column string, value any) *QueryBuilder {
	return q.filter(column, "gte", value)
}

// Lte adds column <= value.
func (q *QueryBuilder) Lte(column string, value any) *QueryBuilder {
	return q.filter(column, "lte", value)
}

// ILike adds a case-insensitive match.
func (q *QueryBuilder) ILike(column, pattern string) *QueryBuilder {
	return q.filter(column, "ilike", pattern)
}

// Is adds column IS value (null, true, false).
func (q *QueryBuilder) Is(column string, value any) *QueryBuilder {
	return q.filter(column, "is", value)
}

// In adds column IN (values).
func (q *QueryBuilder) In(column string, values []string) *QueryBuilder {
	return q.filter(column, "in", "("+strings.Join(values, ",")+")")
}

// Order appends an ORDER BY term.
func (q *QueryBuilder) Order(column string, ascending bool) *QueryBuilder {
	dir := "asc"
	if !ascending {
		dir = "desc"
	}
	q.orders = append(q.orders, column+"."+dir)
	return q
}

// Limit caps the number of rows; n <= 0 is ignored.
func (q *QueryBuilder) Limit(n int) *QueryBuilder {
	if n > 0 {
		q.params.Set("limit", strconv.Itoa(n))
	}
	return q
}

// Single expects exactly one row. Zero rows yield an error for which
// IsNotFound is true.
func (q *QueryBuilder) Single() *QueryBuilder {
	q.single = true
	return q
}

func (q *QueryBuilder) query() url.Values {
	out := url.Values{}
	for k, v := range q.params {
		out[k] = append([]string(nil), v...)
	}
	if len(q.orders) > 0 {
		out.Set("order", strings.Join(q.orders, ","))
	}
	return out
}

func (q *QueryBuilder) base(method string) request {
	r := request{
		method:  method,
		path:    "/rest/v1/" + q.table,
		query:   q.query(),
		headers: map[string]string{},
		apiKey:  q.client.tableKey(),
	}
	if q.single {
		r.headers["Accept"] = "application/vnd.pgrst.object+json"
	}
	return r
}

// Get runs a SELECT and decodes the result into dest.
func (q *QueryBuilder) Get(ctx context.Context, dest any) error {
	r := q.base(http.MethodGet)
	r.idempotent = true
	return q.run(ctx, r, dest)
}

// Insert posts rows and decodes the created representation into dest.
func (q *QueryBuilder) Insert(ctx context.Context, rows any, dest any) error {
	r, err := q.write(http.MethodPost, rows)
	if err != nil {
		return err
	}
	r.headers["Prefer"] = "return=representation"
	return q.run(ctx, r, dest)
}

// Upsert posts rows, merging on the onConflict columns.
func (q *QueryBuilder) Upsert(ctx context.Context, rows any, onConflict string, dest any) error {
	r, err := q.write(http.MethodPost, rows)
	if err != nil {
		return err
	}
	if onConflict != "" {
		r.query.Set("on_conflict", onConflict)
	}
	r.headers["Prefer"] = "resolution=merge-duplicates,return=representation"
	r.idempotent = true
	return q.run(ctx, r, dest)
}

// Update patches every row matching the filters.
func (q *QueryBuilder) Update(ctx context.Context, patch any, dest any) error {
	r, err := q.write(http.MethodPatch, patch)
	if err != nil {
		return err
	}
	r.headers["Prefer"] = "return=representation"
	r.idempotent = true
	return q.run(ctx, r, dest)
}

// Delete removes matching rows and returns how many were deleted.
func (q *QueryBuilder) Delete(ctx context.Context) (int, error) {
	r := q.base(http.MethodDelete)
	r.headers["Prefer"] = "return=representation"
	r.idempotent = true
	var rows []json.RawMessage
	if err := q.run(ctx, r, &rows); err != nil {
		return 0, err
	}
	return len(rows), nil
}

func (q *QueryBuilder) write(method string, payload any) (request, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return request{}, fmt.Errorf("marshal %s payload: %w", q.table, err)
	}
	r := q.base(method)
	r.body = body
	return r, nil
}

func (q *QueryBuilder) run(ctx context.Context, r request, dest any) error {
	resp, err := q.client.do(ctx, r)
	if err != nil {
		return err
	}
	if dest == nil || len(resp.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Body, dest); err != nil {
		return fmt.Errorf("decode %s response: %w", q.table, err)
	}
	return nil
}
