package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/tbruckner/privd/internal/privd/types"
)

// WebhookSink posts one JSON document per record to a configured address.
// Any non-2xx response counts as a delivery failure and is retried by the
// dispatcher.
type WebhookSink struct {
	address string
	client  *http.Client
}

func NewWebhookSink(cfg types.WebhookSinkConfig) *WebhookSink {
	return &WebhookSink{
		address: cfg.Address,
		// No client-level timeout: the dispatcher bounds each attempt
		// through the delivery context.
		client: &http.Client{},
	}
}

func (s *WebhookSink) Name() string { return "webhook:" + s.address }

func (s *WebhookSink) Deliver(ctx context.Context, rec Record) error {
	body, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("webhook marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.address, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook post: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook post: unexpected status %d", resp.StatusCode)
	}
	return nil
}
