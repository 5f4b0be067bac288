// Package restapi is the client for the chat REST API server.
package restapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/matheus3301/duet/internal/metrics"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// ErrUnauthorized matches any 401 response.
var ErrUnauthorized = errors.New("unauthorized")

// APIError is a non-2xx response.
type APIError struct {
	Status  int                 `json:"-"`
	Message string              `json:"message"`
	Errors  map[string][]string `json:"errors,omitempty"`
}

func (e *APIError) Error() string {
	if len(e.Errors) > 0 {
		var fields []string
		for field, msgs := range e.Errors {
			fields = append(fields, field+": "+strings.Join(msgs, ", "))
		}
		return fmt.Sprintf("api error %d: %s (%s)", e.Status, e.Message, strings.Join(fields, "; "))
	}
	return fmt.Sprintf("api error %d: %s", e.Status, e.Message)
}

func (e *APIError) Is(target error) bool {
	return target == ErrUnauthorized && e.Status == http.StatusUnauthorized
}

// Config configures a Client.
type Config struct {
	BaseURL            string
	Timeout            time.Duration
	RetryMaxElapsed    time.Duration
	BreakerFailures    uint32
	BreakerOpenTimeout time.Duration
}

// Client calls the REST API with a bearer credential. Idempotent reads are
// retried with exponential backoff; every call goes through a circuit breaker.
type Client struct {
	baseURL  string
	http     *http.Client
	breaker  *gobreaker.CircuitBreaker
	retryMax time.Duration
	metrics  *metrics.Metrics
	logger   *zap.Logger

	mu             sync.RWMutex
	token          string
	onUnauthorized func()
}

// New creates a REST client.
func New(cfg Config, m *metrics.Metrics, logger *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.RetryMaxElapsed <= 0 {
		cfg.RetryMaxElapsed = 10 * time.Second
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerOpenTimeout <= 0 {
		cfg.BreakerOpenTimeout = 30 * time.Second
	}
	logger = logger.Named("restapi")

	tr := &http.Transport{
		DialContext:     (&net.Dialer{Timeout: 5 * time.Second}).DialContext,
		MaxIdleConns:    10,
		IdleConnTimeout: 90 * time.Second,
	}
	c := &Client{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		http:     &http.Client{Transport: tr, Timeout: cfg.Timeout},
		retryMax: cfg.RetryMaxElapsed,
		metrics:  m,
		logger:   logger,
	}
	failures := cfg.BreakerFailures
	c.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "rest-api",
		MaxRequests: 1,
		Timeout:     cfg.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
			m.BreakerOpen(to == gobreaker.StateOpen)
		},
		IsSuccessful: func(err error) bool {
			var apiErr *APIError
			return err == nil || (errors.As(err, &apiErr) && apiErr.Status < 500)
		},
	})
	return c
}

// SetToken sets the bearer credential used for authenticated calls.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

// Token returns the current bearer credential.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// OnUnauthorized registers fn to run (in its own goroutine) when an authenticated
// call is answered with 401. The credential is cleared before fn runs.
func (c *Client) OnUnauthorized(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onUnauthorized = fn
}

func (c *Client) invalidate() {
	c.mu.Lock()
	had := c.token != ""
	c.token = ""
	fn := c.onUnauthorized
	c.mu.Unlock()
	if had {
		c.logger.Warn("credential rejected by API, invalidating")
	}
	if had && fn != nil {
		go fn()
	}
}

type request struct {
	method     string
	path       string
	query      url.Values
	body       func() (io.Reader, string, error)
	auth       bool
	idempotent bool
}

func jsonBody(v any) func() (io.Reader, string, error) {
	return func() (io.Reader, string, error) {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, "", err
		}
		return bytes.NewReader(b), "application/json", nil
	}
}

func (c *Client) do(ctx context.Context, req request, out any) error {
	op := func() error {
		_, err := c.breaker.Execute(func() (interface{}, error) {
			return nil, c.roundTrip(ctx, req, out)
		})
		if err == nil {
			return nil
		}
		var apiErr *APIError
		switch {
		case !req.idempotent,
			ctx.Err() != nil,
			errors.Is(err, gobreaker.ErrOpenState),
			errors.Is(err, gobreaker.ErrTooManyRequests),
			errors.As(err, &apiErr) && apiErr.Status < 500:
			return backoff.Permanent(err)
		}
		c.logger.Debug("retrying request", zap.String("method", req.method), zap.String("path", req.path), zap.Error(err))
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxElapsedTime = c.retryMax
	return backoff.Retry(op, backoff.WithContext(b, ctx))
}

func (c *Client) roundTrip(ctx context.Context, req request, out any) error {
	var (
		body        io.Reader
		contentType string
	)
	if req.body != nil {
		var err error
		if body, contentType, err = req.body(); err != nil {
			return fmt.Errorf("build %s %s body: %w", req.method, req.path, err)
		}
	}

	u := c.baseURL + req.path
	if len(req.query) > 0 {
		u += "?" + req.query.Encode()
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.method, u, body)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	if req.auth {
		token := c.Token()
		if token == "" {
			return &APIError{Status: http.StatusUnauthorized, Message: "not signed in"}
		}
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		c.metrics.RESTRequest(req.method, 0)
		return fmt.Errorf("%s %s: %w", req.method, req.path, err)
	}
	defer func() { _ = resp.Body.Close() }()
	c.metrics.RESTRequest(req.method, resp.StatusCode)

	if resp.StatusCode >= 400 {
		apiErr := &APIError{}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(apiErr)
		apiErr.Status = resp.StatusCode
		if apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		if resp.StatusCode == http.StatusUnauthorized && req.auth {
			c.invalidate()
		}
		return apiErr
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", req.method, req.path, err)
	}
	return nil
}

// listOf decodes either a bare JSON array or a {"data": [...]} wrapper.
type listOf[T any] struct {
	Items []T
}

func (l *listOf[T]) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '[' {
		return json.Unmarshal(b, &l.Items)
	}
	var wrapped struct {
		Data []T `json:"data"`
	}
	if err := json.Unmarshal(b, &wrapped); err != nil {
		return err
	}
	l.Items = wrapped.Data
	return nil
}

// itemOf decodes either a bare object or a {"data": {...}} wrapper.
type itemOf[T any] struct {
	Item T
}

func (i *itemOf[T]) UnmarshalJSON(b []byte) error {
	var wrapped struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(b, &wrapped); err == nil && len(wrapped.Data) > 0 && wrapped.Data[0] == '{' {
		return json.Unmarshal(wrapped.Data, &i.Item)
	}
	return json.Unmarshal(b, &i.Item)
}
