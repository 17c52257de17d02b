// Package dispatch is the task-dispatch edge of the pipeline. Payloads are
// validated here and handed to a transport that guarantees at-least-once
// delivery; the HTTP transport retries non-2xx responses with exponential
// backoff.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/eternnoir/chunkscribe/pkg/logger"
)

// Dispatcher enqueues a task for execution after an optional delay.
type Dispatcher interface {
	Dispatch(ctx context.Context, endpoint string, payload *TaskPayload, delay time.Duration) error
}

// Backoff controls the HTTP dispatcher's retry schedule.
type Backoff struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultBackoff returns the standard retry schedule.
func DefaultBackoff() Backoff {
	return Backoff{
		MaxAttempts: 5,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    30 * time.Second,
	}
}

// delayFor returns the backoff delay before the given retry attempt.
func (b Backoff) delayFor(attempt int) time.Duration {
	delay := b.BaseDelay << uint(attempt)
	if delay > b.MaxDelay || delay <= 0 {
		delay = b.MaxDelay
	}
	return delay
}

// HTTPDispatcher posts task payloads to a worker endpoint.
type HTTPDispatcher struct {
	client  *http.Client
	backoff Backoff
}

// NewHTTPDispatcher creates an HTTP dispatcher. A nil client falls back to
// a client with a sane timeout.
func NewHTTPDispatcher(client *http.Client, backoff Backoff) *HTTPDispatcher {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if backoff.MaxAttempts <= 0 {
		backoff = DefaultBackoff()
	}
	return &HTTPDispatcher{client: client, backoff: backoff}
}

// Dispatch validates the payload and posts it to the endpoint, retrying
// non-2xx responses with exponential backoff. The delay is honored before
// the first attempt.
func (d *HTTPDispatcher) Dispatch(ctx context.Context, endpoint string, payload *TaskPayload, delay time.Duration) error {
	log := logger.WithComponent("dispatcher").
		WithField("conversation_id", payload.ConversationID).
		WithField("kind", string(payload.Kind))

	if err := payload.Validate(); err != nil {
		return fmt.Errorf("invalid task payload: %w", err)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal task payload: %w", err)
	}

	if delay > 0 {
		log.Debug().Dur("delay", delay).Msg("Delaying task dispatch")
		if err := sleep(ctx, delay); err != nil {
			return err
		}
	}

	var lastErr error
	for attempt := 0; attempt < d.backoff.MaxAttempts; attempt++ {
		if attempt > 0 {
			wait := d.backoff.delayFor(attempt - 1)
			log.Warn().
				Int("attempt", attempt).
				Dur("backoff", wait).
				Err(lastErr).
				Msg("Retrying task dispatch")
			if err := sleep(ctx, wait); err != nil {
				return err
			}
		}

		lastErr = d.post(ctx, endpoint, body)
		if lastErr == nil {
			log.Debug().Str("endpoint", endpoint).Int("attempt", attempt).Msg("Task dispatched")
			return nil
		}
	}

	return fmt.Errorf("dispatch to %s failed after %d attempts: %w", endpoint, d.backoff.MaxAttempts, lastErr)
}

func (d *HTTPDispatcher) post(ctx context.Context, endpoint string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
