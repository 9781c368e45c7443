// Package inference calls the hosted anomaly-scoring endpoint. The client
// never fabricates a score: every failure surfaces as an error classified
// for the processor's retry policy.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"vigil/internal/event"
	"vigil/internal/platform/metrics"
	dErrors "vigil/pkg/domain-errors"
	"vigil/pkg/platform/circuit"
)

// Scorer is what the processor depends on.
type Scorer interface {
	Score(ctx context.Context, rec event.NormalizedRecord) (event.AnomalyScore, error)
}

// Client scores feature vectors over HTTP with a bounded timeout and a
// circuit breaker so a dead endpoint does not absorb every worker's retry
// budget.
type Client struct {
	endpoint   string
	timeout    time.Duration
	httpClient *http.Client
	breaker    *circuit.Breaker
	logger     *slog.Logger
	metrics    *metrics.Metrics

	probeEvery time.Duration
	probeMu    sync.Mutex
	lastProbe  time.Time
}

// Option configures the Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client (tests use this).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithBreaker sets the circuit breaker guarding the endpoint.
func WithBreaker(b *circuit.Breaker) Option {
	return func(c *Client) { c.breaker = b }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithProbeInterval sets the minimum spacing between probe requests
// while the breaker is open.
func WithProbeInterval(d time.Duration) Option {
	return func(c *Client) { c.probeEvery = d }
}

// New creates a scoring client for the given endpoint.
func New(endpoint string, timeout time.Duration, logger *slog.Logger, opts ...Option) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := &Client{
		endpoint:   endpoint,
		timeout:    timeout,
		logger:     logger,
		probeEvery: 15 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: timeout}
	}
	if c.breaker == nil {
		c.breaker = circuit.New("inference")
	}
	return c
}

// scoreRequest is the wire shape sent to the endpoint.
type scoreRequest struct {
	EventID string    `json:"event_id"`
	Vector  []float64 `json:"vector"`
	Version int       `json:"version"`
}

// scoreResponse is the wire shape returned by the endpoint.
type scoreResponse struct {
	Score     float64 `json:"score"`
	Threshold float64 `json:"threshold"`
	Decision  string  `json:"decision,omitempty"`
}

// Score sends the vector and returns the endpoint's verdict. Timeouts,
// connection errors, 5xx responses and an open breaker are all transient;
// 4xx responses and out-of-bounds scores are permanent.
func (c *Client) Score(ctx context.Context, rec event.NormalizedRecord) (event.AnomalyScore, error) {
	if c.breaker.IsOpen() && !c.probeAllowed() {
		return event.AnomalyScore{}, dErrors.New(dErrors.CodeUnavailable, "inference circuit open")
	}

	score, err := c.call(ctx, rec)
	if err != nil {
		if dErrors.Transient(err) {
			if _, change := c.breaker.RecordFailure(); change.Opened {
				c.logger.Warn("inference circuit opened", "endpoint", c.endpoint)
				if c.metrics != nil {
					c.metrics.SetBreakerOpen(true)
				}
			}
		}
		return event.AnomalyScore{}, err
	}

	if _, change := c.breaker.RecordSuccess(); change.Closed {
		c.logger.Info("inference circuit closed", "endpoint", c.endpoint)
		if c.metrics != nil {
			c.metrics.SetBreakerOpen(false)
		}
	}
	return score, nil
}

func (c *Client) call(ctx context.Context, rec event.NormalizedRecord) (event.AnomalyScore, error) {
	body, err := json.Marshal(scoreRequest{
		EventID: rec.EventID.String(),
		Vector:  rec.Vector,
		Version: rec.Version,
	})
	if err != nil {
		return event.AnomalyScore{}, dErrors.Wrap(err, dErrors.CodeInternal, "marshal score request")
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return event.AnomalyScore{}, dErrors.Wrap(err, dErrors.CodeInternal, "build score request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return event.AnomalyScore{}, dErrors.Wrap(err, dErrors.CodeUnavailable, "inference timeout")
		}
		return event.AnomalyScore{}, dErrors.Wrap(err, dErrors.CodeUnavailable, "inference unreachable")
	}
	defer resp.Body.Close()

	if c.metrics != nil {
		c.metrics.ObserveInference(time.Since(start))
	}

	switch {
	case resp.StatusCode >= 500:
		return event.AnomalyScore{}, dErrors.Newf(dErrors.CodeUnavailable, "inference endpoint returned %d", resp.StatusCode)
	case resp.StatusCode >= 400:
		return event.AnomalyScore{}, dErrors.Newf(dErrors.CodeInternal, "inference rejected request with %d", resp.StatusCode)
	}

	body, err = io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		// A reset mid-response is a connection failure, not a bad payload.
		return event.AnomalyScore{}, dErrors.Wrap(err, dErrors.CodeUnavailable, "read score response")
	}

	var parsed scoreResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return event.AnomalyScore{}, dErrors.Wrap(err, dErrors.CodeInternal, "decode score response")
	}

	score := event.AnomalyScore{
		EventID:   rec.EventID,
		Score:     parsed.Score,
		Threshold: parsed.Threshold,
		Decision:  event.Decision(parsed.Decision),
	}
	if score.Decision == "" {
		if score.Score >= score.Threshold {
			score.Decision = event.DecisionAlert
		} else {
			score.Decision = event.DecisionBenign
		}
	}
	if !score.Valid() {
		return event.AnomalyScore{}, dErrors.Newf(dErrors.CodeInternal,
			"inference returned out-of-bounds score %v for %s", parsed.Score, rec.EventID)
	}
	return score, nil
}

// probeAllowed rations calls through an open breaker so the endpoint gets a
// chance to close it again without every worker piling on.
func (c *Client) probeAllowed() bool {
	c.probeMu.Lock()
	defer c.probeMu.Unlock()
	if time.Since(c.lastProbe) < c.probeEvery {
		return false
	}
	c.lastProbe = time.Now()
	return true
}

var _ Scorer = (*Client)(nil)
