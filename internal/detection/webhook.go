package detection

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/syn2much/mantis/internal/model"
)

const webhookTimeout = 10 * time.Second

// webhookDispatcher asynchronously POSTs every new alert to a
// configured webhook URL using a long-lived HTTP client. A disabled
// dispatcher (empty url) is a no-op.
type webhookDispatcher struct {
	url     string
	headers map[string]string
	client  *http.Client
	logger  *slog.Logger
}

func newWebhookDispatcher(url string, headers map[string]string) *webhookDispatcher {
	return &webhookDispatcher{
		url:     url,
		headers: headers,
		client:  &http.Client{Timeout: webhookTimeout},
		logger:  slog.Default().With("component", "detection.webhook"),
	}
}

// Dispatch fires and forgets a webhook POST for alert. Never blocks the
// caller past spawning the goroutine.
func (d *webhookDispatcher) Dispatch(alert *model.Alert) {
	if d.url == "" {
		return
	}
	go d.post(alert)
}

func (d *webhookDispatcher) post(alert *model.Alert) {
	body, err := json.Marshal(model.JSON{
		"alert":     alert,
		"source":    "honeypot",
		"timestamp": time.Now().UTC(),
	})
	if err != nil {
		d.logger.Warn("webhook marshal failed", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), webhookTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		d.logger.Warn("webhook request build failed", "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range d.headers {
		req.Header.Set(k, v)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		d.logger.Warn("webhook dispatch failed", "error", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		d.logger.Warn("webhook returned non-2xx", "status", resp.StatusCode)
	}
}

// Close releases the dispatcher's HTTP client's idle connections.
func (d *webhookDispatcher) Close() {
	d.client.CloseIdleConnections()
}
