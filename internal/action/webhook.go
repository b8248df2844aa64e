// internal/action/webhook.go
package action

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/colebrumley/cortex/internal/security"
)

// WebhookClient POSTs violation payloads. Network errors and 5xx responses
// are retried with exponential backoff up to the action's RetryCount; 4xx
// responses are final.
type WebhookClient struct {
	client          *http.Client
	logger          *slog.Logger
	initialInterval time.Duration
}

func NewWebhookClient(client *http.Client, logger *slog.Logger) *WebhookClient {
	if client == nil {
		client = &http.Client{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookClient{client: client, logger: logger, initialInterval: 500 * time.Millisecond}
}

// WithInitialInterval sets the first retry delay.
func (c *WebhookClient) WithInitialInterval(d time.Duration) *WebhookClient {
	c.initialInterval = d
	return c
}

func (c *WebhookClient) Post(ctx context.Context, w Webhook) (int, error) {
	if w.URL == "" {
		return 0, errors.New("webhook action has no url")
	}
	payload := make(map[string]any, len(w.Payload))
	for k, v := range w.Payload {
		payload[k] = v.Interface()
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("encoding webhook payload: %w", err)
	}
	timeout := w.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	var status, attempts int
	op := func() error {
		attempts++
		status = 0

		reqCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, w.URL, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("User-Agent", "cortex")
		for k, v := range w.Headers {
			req.Header.Set(k, v)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return err
		}
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		resp.Body.Close()

		status = resp.StatusCode
		switch {
		case status >= 500:
			return fmt.Errorf("server returned %d", status)
		case status >= 400:
			return backoff.Permanent(fmt.Errorf("server returned %d", status))
		}
		return nil
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.initialInterval
	eb.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(max(w.RetryCount, 0))), ctx)

	notify := func(err error, next time.Duration) {
		c.logger.Warn("webhook attempt failed, retrying",
			"url", security.ScrubOutput(w.URL), "attempt", attempts, "retry_in", next, "error", err)
	}
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return status, fmt.Errorf("webhook %s failed after %d attempt(s): %w", security.ScrubOutput(w.URL), attempts, err)
	}
	return status, nil
}
