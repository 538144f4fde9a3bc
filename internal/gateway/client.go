package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/Priya8975/payment-webhook-pipeline/internal/domain"
)

// ErrCircuitOpen is returned while a gateway's circuit breaker rejects queries.
var ErrCircuitOpen = errors.New("gateway circuit open")

// Breaker guards outbound queries per gateway.
type Breaker interface {
	Allow(ctx context.Context, gateway domain.Gateway) (string, bool)
	RecordSuccess(ctx context.Context, gateway domain.Gateway)
	RecordFailure(ctx context.Context, gateway domain.Gateway)
}

// Limiter throttles outbound queries per gateway.
type Limiter interface {
	Wait(ctx context.Context, gateway domain.Gateway, limit int) error
}

// Client performs gateway status queries. Each call gets its own timeout.
type Client struct {
	httpClient *http.Client
	breaker    Breaker
	limiter    Limiter
	timeout    time.Duration
	logger     *slog.Logger
}

// NewClient builds a status-query client. breaker and limiter may be nil.
func NewClient(breaker Breaker, limiter Limiter, timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{
		httpClient: &http.Client{},
		breaker:    breaker,
		limiter:    limiter,
		timeout:    timeout,
		logger:     logger,
	}
}

// Query asks gateway g for the current status of reference. Timeouts, 5xx,
// 429 and an open circuit come back as transient errors.
func (c *Client) Query(ctx context.Context, g *Gateway, reference string) (*TransactionStatus, error) {
	const op = "gateway query"

	if g.APIBaseURL == "" {
		return nil, domain.Permanent(op, fmt.Errorf("gateway %s has no api base url", g.Name))
	}

	if c.breaker != nil {
		if _, ok := c.breaker.Allow(ctx, g.Name); !ok {
			return nil, domain.Transient(op, fmt.Errorf("%s: %w", g.Name, ErrCircuitOpen))
		}
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, g.Name, g.RateLimit); err != nil {
			return nil, domain.Transient(op, fmt.Errorf("waiting for rate limit: %w", err))
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := g.dialect.queryRequest(callCtx, g.APIBaseURL, g.APISecret, reference)
	if err != nil {
		return nil, domain.Permanent(op, fmt.Errorf("building request: %w", err))
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.recordFailure(ctx, g)
		return nil, domain.Transient(op, fmt.Errorf("%s: %w", g.Name, err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		c.recordFailure(ctx, g)
		return nil, domain.Transient(op, fmt.Errorf("reading response: %w", err))
	}

	c.logger.Debug("gateway queried",
		"gateway", g.Name,
		"payment_reference", reference,
		"status_code", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		c.recordFailure(ctx, g)
		return nil, domain.Transient(op, fmt.Errorf("%s returned HTTP %d", g.Name, resp.StatusCode))
	case resp.StatusCode == http.StatusNotFound:
		c.recordSuccess(ctx, g)
		return nil, fmt.Errorf("%s %s: %w", g.Name, reference, ErrTransactionNotFound)
	case resp.StatusCode >= 400:
		c.recordSuccess(ctx, g)
		return nil, domain.Permanent(op, fmt.Errorf("%s returned HTTP %d", g.Name, resp.StatusCode))
	}

	c.recordSuccess(ctx, g)

	status, err := g.dialect.parseStatus(reference, body)
	if err != nil {
		if errors.Is(err, ErrTransactionNotFound) {
			return nil, fmt.Errorf("%s %s: %w", g.Name, reference, err)
		}
		return nil, domain.Permanent(op, err)
	}
	return status, nil
}

func (c *Client) recordFailure(ctx context.Context, g *Gateway) {
	if c.breaker != nil {
		c.breaker.RecordFailure(ctx, g.Name)
	}
}

func (c *Client) recordSuccess(ctx context.Context, g *Gateway) {
	if c.breaker != nil {
		c.breaker.RecordSuccess(ctx, g.Name)
	}
}
