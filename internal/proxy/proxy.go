// Package proxy implements serialized upstream proxy credential acquisition
//. Acquisition is process-wide single-flight (one sync.Mutex),
// retried with bounded exponential backoff up to a configured attempt cap —
// the prior design's infinite retry is explicitly disallowed — and
// wrapped in a sony/gobreaker circuit breaker so a degraded proxy API stops
// being hammered after a run of consecutive failures, the same resilience
// pattern tomtom215-cartographus applies to its own flaky upstreams.
package proxy

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/use-agent/adscraper/internal/apperr"
	"github.com/use-agent/adscraper/internal/metrics"
)

// Credentials are the upstream proxy's connection parameters.
type Credentials struct {
	Host     string
	Port     string
	Username string
	Password string
}

// URL renders the credentials as an http(s)-proxy URL suitable for
// http.Transport.Proxy / rod's launcher.Proxy.
func (c Credentials) URL() string {
	return fmt.Sprintf("http://%s:%s@%s:%s", c.Username, c.Password, c.Host, c.Port)
}

// Config controls a Manager.
type Config struct {
	AcquireURL  string
	BearerToken string
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// Manager serializes proxy acquisition process-wide and keeps one reusable
// *http.Client across attempts (never recreated per attempt).
type Manager struct {
	cfg     Config
	mu      sync.Mutex
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[Credentials]
}

// NewManager creates a Manager. Zero-value Config fields fall back to
// reasonable defaults.
func NewManager(cfg Config) *Manager {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 500 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 10 * time.Second
	}

	settings := gobreaker.Settings[Credentials]{
		Name:        "proxy-acquire",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.SetProxyBreakerOpen(to == gobreaker.StateOpen)
		},
	}

	return &Manager{
		cfg:     cfg,
		client:  &http.Client{Timeout: 10 * time.Second},
		breaker: gobreaker.NewCircuitBreaker[Credentials](settings),
	}
}

// Acquire obtains a proxy credential set, retrying with bounded exponential
// backoff up to cfg.MaxAttempts. Acquisition across the whole process is
// serialized by m.mu, so concurrent workers never thunder the upstream API
// at once.
func (m *Manager) Acquire(ctx context.Context) (Credentials, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	backoff := m.cfg.BaseBackoff
	var lastErr error

	for attempt := 1; attempt <= m.cfg.MaxAttempts; attempt++ {
		creds, err := m.breaker.Execute(func() (Credentials, error) {
			return m.acquireOnce(ctx)
		})
		if err == nil {
			metrics.RecordProxyAcquire("success")
			return creds, nil
		}
		lastErr = err
		metrics.RecordProxyAcquire("retryable_error")

		if attempt == m.cfg.MaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return Credentials{}, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > m.cfg.MaxBackoff {
			backoff = m.cfg.MaxBackoff
		}
	}

	metrics.RecordProxyAcquire("exhausted")
	return Credentials{}, apperr.New(apperr.CodeProxy,
		fmt.Sprintf("exhausted %d acquisition attempts", m.cfg.MaxAttempts), lastErr)
}

type acquireResponse struct {
	Host     string `json:"host"`
	Port     string `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
}

func (m *Manager) acquireOnce(ctx context.Context) (Credentials, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, m.cfg.AcquireURL, nil)
	if err != nil {
		return Credentials{}, err
	}
	req.Header.Set("Authorization", "Bearer "+m.cfg.BearerToken)

	resp, err := m.client.Do(req)
	if err != nil {
		return Credentials{}, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var body acquireResponse
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return Credentials{}, fmt.Errorf("proxy: decode acquire response: %w", err)
		}
		return Credentials{Host: body.Host, Port: body.Port, Username: body.Username, Password: body.Password}, nil
	case http.StatusUnauthorized, http.StatusTooManyRequests:
		return Credentials{}, fmt.Errorf("proxy: acquire returned retryable status %d", resp.StatusCode)
	default:
		if resp.StatusCode >= 500 {
			return Credentials{}, fmt.Errorf("proxy: acquire returned retryable status %d", resp.StatusCode)
		}
		return Credentials{}, fmt.Errorf("proxy: acquire returned status %d", resp.StatusCode)
	}
}
