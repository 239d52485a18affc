package shipper

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/smartshieldai-idps/flowguard/agent/pkg/network"
)

const batchPath = "/api/v1/logs/batch"

// Config controls how flows reach the backend
type Config struct {
	BackendURL         string
	AgentID            string
	Timeout            time.Duration
	InsecureSkipVerify bool
	RateLimit          float64
	RateLimitBurst     int
	BatchSize          int
	MaxRetries         int
	RetryBackoff       time.Duration
}

// batchRequest mirrors the backend's batch ingestion body
type batchRequest struct {
	Logs []network.Flow `json:"logs"`
}

// Stats counts shipping outcomes
type Stats struct {
	FlowsSent     uint64
	BatchesSent   uint64
	BatchesFailed uint64
}

// Shipper posts flow batches to the backend
type Shipper struct {
	client  *http.Client
	url     string
	config  Config
	limiter *rate.Limiter
	logger  *zap.Logger

	flowsSent     atomic.Uint64
	batchesSent   atomic.Uint64
	batchesFailed atomic.Uint64
}

// New creates a shipper for the configured backend
func New(config Config, logger *zap.Logger) *Shipper {
	if config.BatchSize <= 0 {
		config.BatchSize = 500
	}
	if config.RateLimitBurst <= 0 {
		config.RateLimitBurst = 1
	}
	limit := rate.Inf
	if config.RateLimit > 0 {
		limit = rate.Limit(config.RateLimit)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Shipper{
		client: &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{
					InsecureSkipVerify: config.InsecureSkipVerify,
				},
			},
			Timeout: config.Timeout,
		},
		url:     config.BackendURL + batchPath,
		config:  config,
		limiter: rate.NewLimiter(limit, config.RateLimitBurst),
		logger:  logger,
	}
}

// Ship sends flows in batches of at most BatchSize. It stops at the first
// batch that cannot be delivered.
func (s *Shipper) Ship(ctx context.Context, flows []network.Flow) error {
	for start := 0; start < len(flows); start += s.config.BatchSize {
		end := min(start+s.config.BatchSize, len(flows))
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}
		if err := s.sendWithRetry(ctx, flows[start:end]); err != nil {
			s.batchesFailed.Add(1)
			return err
		}
		s.batchesSent.Add(1)
		s.flowsSent.Add(uint64(end - start))
	}
	return nil
}

func (s *Shipper) sendWithRetry(ctx context.Context, batch []network.Flow) error {
	body, err := json.Marshal(batchRequest{Logs: batch})
	if err != nil {
		return fmt.Errorf("error marshaling batch: %w", err)
	}

	backoff := s.config.RetryBackoff
	for attempt := 0; ; attempt++ {
		err = s.send(ctx, body)
		var perm *permanentError
		if err == nil || errors.As(err, &perm) || attempt >= s.config.MaxRetries {
			return err
		}
		s.logger.Warn("batch delivery failed, retrying",
			zap.Int("attempt", attempt+1),
			zap.Int("flows", len(batch)),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}

// permanentError is a rejection that retrying will not fix
type permanentError struct {
	status int
	body   string
}

func (e *permanentError) Error() string {
	return fmt.Sprintf("backend rejected batch: %d %s", e.status, e.body)
}

func (s *Shipper) send(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", uuid.NewString())
	if s.config.AgentID != "" {
		req.Header.Set("X-Agent-ID", s.config.AgentID)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("error sending batch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
		return &permanentError{status: resp.StatusCode, body: string(snippet)}
	}
	return fmt.Errorf("backend returned %d: %s", resp.StatusCode, snippet)
}

// GetStats returns shipping counters
func (s *Shipper) GetStats() Stats {
	return Stats{
		FlowsSent:     s.flowsSent.Load(),
		BatchesSent:   s.batchesSent.Load(),
		BatchesFailed: s.batchesFailed.Load(),
	}
}
