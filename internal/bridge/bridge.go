// Package bridge is the request/response channel between the engine and the host process.
//
// The host is detected once, from configuration, when the bridge is built. Without a host every
// Send resolves immediately to a success-shaped response and no network I/O happens.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/punchamoorthee/marketops/internal/models"
)

var (
	ErrHostUnavailable = errors.New("host unavailable")
	ErrBadResponse     = errors.New("malformed host response")
)

const (
	IdempotencyHeader = "Idempotency-Key"
	PlayerHeader      = "X-Player-Id"
)

var (
	bridgeLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "market_bridge_request_duration_seconds",
		Help:    "Latency of host bridge calls",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"action"})

	bridgeAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "market_bridge_attempts_total",
		Help: "Outbound HTTP attempts to the host, labeled by result",
	}, []string{"action", "result"})
)

// Doer is the subset of *http.Client the bridge needs.
type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

// Options configures a Bridge. An empty BaseURL means no host is present.
type Options struct {
	BaseURL     string
	PlayerID    string
	Timeout     time.Duration
	MaxAttempts int
	Backoff     time.Duration
	Client      Doer
	Logger      *slog.Logger
}

type Bridge struct {
	opts    Options
	present bool
	calls   atomic.Int64
}

func New(opts Options) *Bridge {
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 100 * time.Millisecond
	}
	if opts.Client == nil {
		opts.Client = &http.Client{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Bridge{opts: opts, present: opts.BaseURL != ""}
}

// Present reports whether a host was detected. The answer never changes for a given Bridge.
func (b *Bridge) Present() bool {
	return b.present
}

// Calls is the number of HTTP attempts made so far.
func (b *Bridge) Calls() int64 {
	return b.calls.Load()
}

// Ping checks the host's health endpoint. It is informational and does not change Present.
func (b *Bridge) Ping(ctx context.Context) error {
	if !b.present {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, b.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.opts.BaseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := b.opts.Client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrHostUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: health returned %d", ErrHostUnavailable, resp.StatusCode)
	}
	return nil
}

// wireResponse accepts both the {success, message} shape and the {error} shape.
type wireResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Error   string `json:"error"`
	Points  *int64 `json:"points"`
}

// Send posts payload to <host>/<action> with the given idempotency key.
//
// Transport failures, 5xx and 409 answers are retried with the same key until MaxAttempts or the
// timeout is reached; the host dedupes by key so a retry cannot charge twice. Once the deadline
// passes the call fails with ErrHostUnavailable.
func (b *Bridge) Send(ctx context.Context, action, key string, payload any) (models.HostResponse, error) {
	if !b.present {
		return models.HostResponse{Success: true}, nil
	}

	timer := prometheus.NewTimer(bridgeLatency.WithLabelValues(action))
	defer timer.ObserveDuration()

	body, err := json.Marshal(payload)
	if err != nil {
		return models.HostResponse{}, fmt.Errorf("encode %s payload: %w", action, err)
	}

	ctx, cancel := context.WithTimeout(ctx, b.opts.Timeout)
	defer cancel()

	var lastErr error
	for attempt := 1; attempt <= b.opts.MaxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return models.HostResponse{}, fmt.Errorf("%w: %s: %v", ErrHostUnavailable, action, lastErr)
			case <-time.After(b.opts.Backoff * time.Duration(attempt-1)):
			}
		}

		resp, retry, err := b.attempt(ctx, action, key, body)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !retry {
			return models.HostResponse{}, err
		}
		b.opts.Logger.Warn("host call failed",
			"action", action, "attempt", attempt, "idempotency_key", key, "error", err)
	}
	return models.HostResponse{}, fmt.Errorf("%w: %s: %v", ErrHostUnavailable, action, lastErr)
}

func (b *Bridge) attempt(ctx context.Context, action, key string, body []byte) (models.HostResponse, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.opts.BaseURL+"/"+action, bytes.NewReader(body))
	if err != nil {
		return models.HostResponse{}, false, err
	}
	req.Header.Set("Content-Type", "application/json")
	if key != "" {
		req.Header.Set(IdempotencyHeader, key)
	}
	if b.opts.PlayerID != "" {
		req.Header.Set(PlayerHeader, b.opts.PlayerID)
	}

	b.calls.Add(1)
	resp, err := b.opts.Client.Do(req)
	if err != nil {
		bridgeAttempts.WithLabelValues(action, "transport_error").Inc()
		if ctx.Err() != nil {
			return models.HostResponse{}, false, fmt.Errorf("%w: %s: %v", ErrHostUnavailable, action, ctx.Err())
		}
		return models.HostResponse{}, true, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		bridgeAttempts.WithLabelValues(action, "read_error").Inc()
		return models.HostResponse{}, true, err
	}

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusConflict {
		bridgeAttempts.WithLabelValues(action, "retryable").Inc()
		return models.HostResponse{}, true, fmt.Errorf("host returned %d", resp.StatusCode)
	}

	var wr wireResponse
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := json.Unmarshal(raw, &wr); err != nil {
			bridgeAttempts.WithLabelValues(action, "bad_response").Inc()
			return models.HostResponse{}, false, fmt.Errorf("%w: %v", ErrBadResponse, err)
		}
	}

	out := models.HostResponse{Success: wr.Success, Message: wr.Message, Points: wr.Points}
	if resp.StatusCode >= 400 {
		out.Success = false
	}
	if out.Message == "" {
		out.Message = wr.Error
	}
	bridgeAttempts.WithLabelValues(action, "ok").Inc()
	return out, false, nil
}
