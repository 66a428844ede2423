// Package webhook delivers event-activation notifications to an external
// HTTP endpoint. Delivery is best-effort: callers fire and forget, and
// transient failures are retried with exponential backoff.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/sethvargo/go-retry"

	"github.com/derbyops/derbyops/internal/log"
)

// Activation is the payload posted when an event becomes active.
type Activation struct {
	EventID   int       `json:"eventId"`
	EventName string    `json:"eventName"`
	Timestamp time.Time `json:"timestamp"`
}

// Notifier is the outbound notification port.
type Notifier interface {
	EventActivated(ctx context.Context, a Activation) error
}

// Noop discards all notifications. Used when no webhook URL is configured.
type Noop struct{}

func (Noop) EventActivated(context.Context, Activation) error { return nil }

const (
	requestTimeout = 10 * time.Second
	retryBase      = 500 * time.Millisecond
	maxRetries     = 4
)

// HTTP posts activation payloads as JSON to a fixed URL.
type HTTP struct {
	url    string
	client *http.Client
	logger zerolog.Logger
}

// NewHTTP creates a notifier for the given URL.
func NewHTTP(url string) *HTTP {
	return &HTTP{
		url:    url,
		client: &http.Client{Timeout: requestTimeout},
		logger: log.WithComponent("webhook"),
	}
}

// EventActivated posts the activation, retrying transient failures.
// Non-2xx responses other than 5xx are treated as permanent.
func (h *HTTP) EventActivated(ctx context.Context, a Activation) error {
	body, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshal activation: %w", err)
	}

	backoff := retry.WithMaxRetries(maxRetries, retry.NewExponential(retryBase))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := h.client.Do(req)
		if err != nil {
			return retry.RetryableError(err)
		}
		defer resp.Body.Close() //nolint:errcheck
		_, _ = io.Copy(io.Discard, resp.Body)

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			return nil
		case resp.StatusCode >= 500:
			return retry.RetryableError(fmt.Errorf("webhook returned %d", resp.StatusCode))
		default:
			return fmt.Errorf("webhook returned %d", resp.StatusCode)
		}
	})
	if err != nil {
		h.logger.Warn().Err(err).Int("eventId", a.EventID).Msg("activation webhook failed")
		return err
	}

	h.logger.Info().Int("eventId", a.EventID).Str("eventName", a.EventName).Msg("activation webhook delivered")
	return nil
}
