// Package riskclient is the HTTP client dashboards and tools use to reach the
// PayKrypt risk API. Assessment calls are retried with backoff behind a
// circuit breaker, and a failed assessment degrades to a cautious verdict
// instead of an error the caller has to handle.
package riskclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/paykrypt/paykrypt/internal/circuitbreaker"
	"github.com/paykrypt/paykrypt/internal/dashboard"
	"github.com/paykrypt/paykrypt/internal/idgen"
	"github.com/paykrypt/paykrypt/internal/reputation"
	"github.com/paykrypt/paykrypt/internal/retry"
	"github.com/paykrypt/paykrypt/internal/risk"
)

const (
	// FallbackFactor is the only risk factor of a verdict the client made up itself.
	FallbackFactor = "Service unavailable - manual review recommended"
	// FallbackRecommendation accompanies FallbackFactor.
	FallbackRecommendation = "System could not automatically analyze this transaction. Please manually review or try again later."

	assessPath = "/v1/risk/assess"
)

// ErrInvalidResponse is returned when the API answers 2xx with an unexpected body.
var ErrInvalidResponse = errors.New("invalid response format from risk service")

// Config holds the configuration for connecting to the risk API.
type Config struct {
	APIURL           string // Base URL, e.g. "http://localhost:8080"
	Timeout          time.Duration
	Retry            retry.Policy
	BreakerThreshold int
	BreakerCooldown  time.Duration
}

// DefaultConfig returns the client defaults for apiURL.
func DefaultConfig(apiURL string) Config {
	return Config{
		APIURL:           apiURL,
		Timeout:          10 * time.Second,
		Retry:            retry.DefaultPolicy(),
		BreakerThreshold: 5,
		BreakerCooldown:  30 * time.Second,
	}
}

// APIError is a non-2xx answer from the API.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Code)
}

// Temporary reports whether retrying the request could succeed.
func (e *APIError) Temporary() bool {
	return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

// Client talks to the risk API over HTTP.
type Client struct {
	cfg        Config
	baseURL    *url.URL
	httpClient *http.Client
	breaker    *circuitbreaker.Breaker
	logger     *slog.Logger
}

// New creates a client. The API URL must be an absolute http(s) URL.
func New(cfg Config, logger *slog.Logger) (*Client, error) {
	u, err := url.Parse(cfg.APIURL)
	if err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("API URL scheme must be http or https")
	}
	if u.Host == "" {
		return nil, fmt.Errorf("API URL must have a host")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		cfg:        cfg,
		baseURL:    u,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		breaker:    circuitbreaker.New(cfg.BreakerThreshold, cfg.BreakerCooldown),
		logger:     logger,
	}, nil
}

// Fallback is the verdict returned when the service cannot be reached.
func Fallback(transactionID string) risk.Verdict {
	return risk.Verdict{
		TransactionID:  transactionID,
		RiskScore:      risk.ScoreMedium,
		RiskFactors:    []string{FallbackFactor},
		Status:         risk.StatusPending,
		Recommendation: FallbackRecommendation,
	}
}

// Analyze sends tx for assessment. A nil history lets the server use the
// sender's stored history. Analyze always returns a usable verdict: when the
// call fails, the verdict is Fallback and err says why.
func (c *Client) Analyze(ctx context.Context, tx risk.Transaction, history []risk.Transaction) (risk.Verdict, error) {
	if tx.ID == "" {
		tx.ID = idgen.WithPrefix("tx_")
	}

	payload := risk.AssessPayload{CurrentTransaction: &tx}
	if history != nil {
		payload.TransactionHistory = &history
	}

	var resp risk.AssessResponse
	err := c.call(ctx, http.MethodPost, assessPath, nil, payload, &resp)
	if err == nil && (!resp.Success || resp.UpdatedTransaction.RiskScore == "") {
		err = ErrInvalidResponse
	}
	if err != nil {
		c.logger.Warn("risk assessment unavailable, using fallback verdict",
			"transaction_id", tx.ID, "error", err)
		return Fallback(tx.ID), err
	}
	return resp.UpdatedTransaction, nil
}

// Reputation returns a user's reputation grade.
func (c *Client) Reputation(ctx context.Context, userID string) (*reputation.Score, error) {
	var resp struct {
		Reputation *reputation.Score `json:"reputation"`
	}
	path := "/v1/users/" + url.PathEscape(userID) + "/reputation"
	if err := c.call(ctx, http.MethodGet, path, nil, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Reputation == nil {
		return nil, ErrInvalidResponse
	}
	return resp.Reputation, nil
}

// Metrics returns the admin overview of all stored transactions.
func (c *Client) Metrics(ctx context.Context) (*dashboard.Summary, error) {
	var summary dashboard.Summary
	if err := c.call(ctx, http.MethodGet, "/v1/admin/metrics", nil, nil, &summary); err != nil {
		return nil, err
	}
	return &summary, nil
}

// Flagged returns the most recent flagged assessments.
func (c *Client) Flagged(ctx context.Context, limit int) ([]*risk.Assessment, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var resp struct {
		Assessments []*risk.Assessment `json:"assessments"`
	}
	if err := c.call(ctx, http.MethodGet, "/v1/risk/flagged", q, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Assessments, nil
}

// BreakerState reports the circuit state for a route, e.g. "POST /v1/risk/assess".
func (c *Client) BreakerState(method, path string) circuitbreaker.State {
	return c.breaker.State(method + " " + path)
}

// call runs one logical request with retries. Each attempt goes through the
// breaker; 4xx answers neither trip it nor get retried.
func (c *Client) call(ctx context.Context, method, path string, query url.Values, body, out any) error {
	key := method + " " + path
	policy := c.cfg.Retry
	policy.OnRetry = func(attempt int, err error, wait time.Duration) {
		c.logger.Debug("retrying risk API call", "route", key, "attempt", attempt, "wait", wait, "error", err)
	}

	return retry.Do(ctx, policy, func(ctx context.Context) error {
		var clientErr error
		err := c.breaker.Execute(key, func() error {
			raw, err := c.doRequest(ctx, method, path, query, body)
			var apiErr *APIError
			if errors.As(err, &apiErr) && !apiErr.Temporary() {
				clientErr = err
				return nil
			}
			if err != nil {
				return err
			}
			if out == nil {
				return nil
			}
			if err := json.Unmarshal(raw, out); err != nil {
				return fmt.Errorf("%w: %v", ErrInvalidResponse, err)
			}
			return nil
		})
		switch {
		case clientErr != nil:
			return retry.Permanent(clientErr)
		case errors.Is(err, circuitbreaker.ErrOpen), errors.Is(err, ErrInvalidResponse):
			return retry.Permanent(err)
		}
		return err
	})
}

// doRequest makes one HTTP request to the API and returns the response body.
func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	u := c.baseURL.JoinPath(path)
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var parsed struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		if json.Unmarshal(respBody, &parsed) == nil {
			apiErr.Code = parsed.Error
			apiErr.Message = parsed.Message
		}
		if apiErr.Code == "" && apiErr.Message == "" {
			apiErr.Message = string(respBody)
		}
		return nil, apiErr
	}

	return json.RawMessage(respBody), nil
}
