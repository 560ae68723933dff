package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/pilot-net/selfheal/pkg/types"
	"golang.org/x/time/rate"
)

// maxResponseBytes caps how much of an oracle response is read.
const maxResponseBytes = 8 << 20

// Config holds configuration for the oracle HTTP client.
type Config struct {
	BaseURL   string        // Base URL (e.g., "https://advisor.internal/api/v1")
	AuthToken string        // Bearer token; empty disables the header
	Timeout   time.Duration // Per-call timeout (default: 30s)
	RateLimit int           // Requests per minute (default: 30)
}

// Client is an HTTP client for a remote Diagnostic Oracle.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	authToken   string
	rateLimiter *rate.Limiter
	logger      *slog.Logger
}

// NewClient creates a new oracle client.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	rateLimit := cfg.RateLimit
	if rateLimit == 0 {
		rateLimit = 30
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
		},
		authToken:   cfg.AuthToken,
		rateLimiter: rate.NewLimiter(rate.Limit(float64(rateLimit)/60.0), 2),
		logger:      logger.With("component", "oracle_client"),
	}
}

// Diagnose posts the snapshot to {base}/diagnose.
func (c *Client) Diagnose(ctx context.Context, req types.DiagnosisRequest) (*types.DiagnosisResponse, error) {
	return c.post(ctx, "/diagnose", req)
}

// Predict posts the snapshot to {base}/predict.
func (c *Client) Predict(ctx context.Context, req types.DiagnosisRequest) (*types.DiagnosisResponse, error) {
	return c.post(ctx, "/predict", req)
}

func (c *Client) post(ctx context.Context, path string, payload types.DiagnosisRequest) (*types.DiagnosisResponse, error) {
	// Rate limit
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: rate limit wait: %v", ErrUnavailable, err)
	}

	body, err := json.Marshal(toWireRequest(payload))
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	start := time.Now()
	c.logger.Debug("oracle request", "path", path, "components", len(payload.Components))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read response body: %v", ErrUnavailable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: status %d, body: %s", ErrUnavailable, resp.StatusCode, truncate(data, 256))
	}

	var wire wireResponse
	if len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, &wire); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
		}
	}
	out := wire.response()

	c.logger.Debug("oracle response",
		"path", path,
		"duration", time.Since(start),
		"issues", len(out.Issues),
		"actions", len(out.PreventiveActions),
	)
	return out, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
