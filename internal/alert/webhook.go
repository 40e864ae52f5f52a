package alert

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

var (
	attemptTimeout = 5 * time.Second
	maxAttempts    = 3
	// retryDelay is multiplied by the attempt number between tries.
	retryDelay = time.Second
)

var httpClient = &http.Client{Timeout: attemptTimeout}

// ErrRejected wraps 4xx responses. The endpoint understood the request
// and refused it, so it is not retried.
var ErrRejected = errors.New("webhook rejected")

// Send formats event for cfg and posts it, retrying network errors and
// 5xx responses with a linear backoff until ctx ends.
func Send(ctx context.Context, cfg AlertConfig, event AlertEvent) error {
	body, err := FormatPayload(cfg.Format, event)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = post(ctx, cfg, body)
		if lastErr == nil || errors.Is(lastErr, ErrRejected) {
			return lastErr
		}
		if attempt == maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("webhook gave up after %d attempts: %w (last: %v)", attempt, ctx.Err(), lastErr)
		case <-time.After(time.Duration(attempt) * retryDelay):
		}
	}
	return fmt.Errorf("webhook failed after %d attempts: %w", maxAttempts, lastErr)
}

func post(ctx context.Context, cfg AlertConfig, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: build request: %v", ErrRejected, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "agentgate-alert")
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
	resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return fmt.Errorf("%w: HTTP %d", ErrRejected, resp.StatusCode)
	default:
		return fmt.Errorf("webhook server error: HTTP %d", resp.StatusCode)
	}
}
