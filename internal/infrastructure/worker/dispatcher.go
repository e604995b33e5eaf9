package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// DispatchTimeout is the total deadline for a webhook dispatch, per spec.md
// §5's "Worker HTTP dispatch uses a 30 s total deadline".
const DispatchTimeout = 30 * time.Second

// Canonical webhook failure messages, quoted verbatim where the Worker
// handler (spec.md §4.3.1) requires them as the node's error string.
var (
	ErrInvalidWebhookURL  = errors.New("Invalid webhook URL")
	ErrWebhookUnreachable = errors.New("Worker webhook unreachable")
	ErrWebhookTimeout     = errors.New("Worker webhook timeout exceeded")
)

// WebhookRequest is the outbound body POSTed to an external worker (spec.md
// §6, Worker Protocol).
type WebhookRequest struct {
	RunID       string                 `json:"runId"`
	NodeID      string                 `json:"nodeId"`
	Config      map[string]interface{} `json:"config"`
	Input       map[string]interface{} `json:"input"`
	CallbackURL string                 `json:"callbackUrl"`
}

// Dispatcher POSTs the Worker Protocol request to an author-supplied
// webhookUrl and classifies the outcome into the canonical errors named in
// spec.md §4.3.1. It does not wait for the worker's callback; any 2xx
// response is dispatch success.
type Dispatcher struct {
	client *http.Client
}

// NewDispatcher returns a Dispatcher whose client enforces DispatchTimeout
// end to end via the context passed to Dispatch.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{client: &http.Client{}}
}

// Dispatch validates webhookURL, builds the callback URL from baseURL, and
// POSTs the Worker Protocol request. baseURL being empty is a caller bug
// (fatal config error at startup per spec.md §6), not handled here.
func (d *Dispatcher) Dispatch(ctx context.Context, baseURL, webhookURL, runID, nodeID string, config, input map[string]interface{}) error {
	parsed, err := url.Parse(webhookURL)
	if err != nil || !parsed.IsAbs() || parsed.Host == "" {
		return ErrInvalidWebhookURL
	}

	callbackURL := fmt.Sprintf("%s/api/stitch/callback/%s/%s", baseURL, runID, nodeID)
	body, err := json.Marshal(WebhookRequest{
		RunID: runID, NodeID: nodeID, Config: config, Input: input, CallbackURL: callbackURL,
	})
	if err != nil {
		return fmt.Errorf("encode webhook request: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, DispatchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(body))
	if err != nil {
		return ErrInvalidWebhookURL
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return ErrWebhookTimeout
		}
		return ErrWebhookUnreachable
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("Worker webhook returned %d: %s", resp.StatusCode, string(text))
	}
	return nil
}
