package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/banshee-data/signal.report/internal/httputil"
)

// WebhookSink posts every alert as a JSON row to a REST table endpoint
// such as Supabase's /rest/v1/<table>.
type WebhookSink struct {
	client httputil.HTTPClient
	url    string
	apiKey string
}

// NewWebhookSink returns a sink posting to url. An empty apiKey omits the
// auth headers.
func NewWebhookSink(client httputil.HTTPClient, url, apiKey string) *WebhookSink {
	return &WebhookSink{client: client, url: url, apiKey: apiKey}
}

type webhookRow struct {
	EventType    string   `json:"event_type"`
	Direction    string   `json:"direction"`
	Timestamp    string   `json:"timestamp"`
	Confidence   *float64 `json:"confidence"`
	VehicleCount *float64 `json:"vehicle_count,omitempty"`
	AlertID      string   `json:"alert_id"`
}

// Send posts e.
func (w *WebhookSink) Send(ctx context.Context, e Event) error {
	body, err := json.Marshal(webhookRow{
		EventType:    string(e.Kind),
		Direction:    string(e.Lane),
		Timestamp:    e.Timestamp.Format(TimestampLayout),
		Confidence:   e.Confidence,
		VehicleCount: e.VehicleCount,
		AlertID:      e.ID.String(),
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "return=representation")
	if w.apiKey != "" {
		req.Header.Set("apikey", w.apiKey)
		req.Header.Set("Authorization", "Bearer "+w.apiKey)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: sending request: %w", err)
	}
	if err := httputil.CheckStatus(resp); err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	io.Copy(io.Discard, resp.Body)
	return resp.Body.Close()
}
