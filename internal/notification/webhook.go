package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

const requestTimeout = 10 * time.Second

// Webhook POSTs alerts as JSON to a fixed HTTP endpoint.
type Webhook struct {
	rest *resty.Client
	url  string
}

// NewWebhook creates a webhook sink.
func NewWebhook(url string) *Webhook {
	return &Webhook{
		rest: resty.New().SetTimeout(requestTimeout),
		url:  url,
	}
}

func (w *Webhook) Send(ctx context.Context, alert Alert) error {
	resp, err := w.rest.R().
		SetContext(ctx).
		SetBody(alert).
		Post(w.url)
	if err != nil {
		return fmt.Errorf("webhook: send: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("webhook: status %d", resp.StatusCode())
	}
	return nil
}
