// Package notify delivers committed edits to an external webhook.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"collabrelay/event"
)

// Sink receives one call per committed edit. Implementations must not block
// the fan-out loop for long.
type Sink interface {
	Notify(ctx context.Context, ev event.EditEvent) error
}

// Webhook posts each edit as JSON to a fixed URL. Fire and forget: a non-2xx
// response is an error for the caller to log, never retried here.
type Webhook struct {
	url    string
	client *http.Client
}

// NewWebhook targets url. An empty url yields a sink that does nothing.
func NewWebhook(url string) *Webhook {
	return &Webhook{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (w *Webhook) Notify(ctx context.Context, ev event.EditEvent) error {
	if w.url == "" {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(ev.Encode()))
	if err != nil {
		return fmt.Errorf("building webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting to webhook: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
