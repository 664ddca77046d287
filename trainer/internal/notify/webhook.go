// Package notify delivers fired quality gates to webhook targets.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/rulwatch/rulwatch/trainer/internal/config"
	"github.com/rulwatch/rulwatch/trainer/internal/evaluate"
)

const defaultTimeout = 10 * time.Second

// Event is one gate violation raised by a training run.
type Event struct {
	RunID     string             `json:"run_id"`
	Violation evaluate.Violation `json:"violation"`
	At        time.Time          `json:"at"`
}

// Notifier posts events to every configured webhook.
type Notifier struct {
	webhooks []config.WebhookConfig
	client   *http.Client
}

// New returns a Notifier for the given webhooks. A nil client selects an
// http.Client with a 10s timeout.
func New(webhooks []config.WebhookConfig, client *http.Client) *Notifier {
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	return &Notifier{webhooks: webhooks, client: client}
}

// Deliver sends ev to all targets. Delivery failures are logged and counted;
// they never abort the caller. Targets with no resolved URL are skipped.
func (n *Notifier) Deliver(ctx context.Context, ev Event) (failed int) {
	for _, wh := range n.webhooks {
		url := wh.URL()
		if url == "" {
			continue
		}

		var err error
		switch wh.Type {
		case "slack":
			err = n.sendSlack(ctx, url, ev)
		case "teams":
			err = n.sendTeams(ctx, url, ev)
		case "http":
			err = n.sendHTTP(ctx, url, ev)
		default:
			slog.Warn("notify: unknown webhook type, skipping", "type", wh.Type)
			continue
		}

		if err != nil {
			failed++
			slog.Error("notify: webhook delivery failed",
				"type", wh.Type,
				"gate", ev.Violation.Gate,
				"err", err,
			)
		} else {
			slog.Debug("notify: webhook delivered",
				"type", wh.Type,
				"gate", ev.Violation.Gate,
				"severity", ev.Violation.Severity,
			)
		}
	}
	return failed
}

func (n *Notifier) sendSlack(ctx context.Context, url string, ev Event) error {
	body, _ := json.Marshal(map[string]string{
		"text": fmt.Sprintf("*%s* run %s: %s", severityLabel(ev.Violation.Severity), ev.RunID, ev.Violation.Message),
	})
	return n.post(ctx, url, body)
}

func (n *Notifier) sendTeams(ctx context.Context, url string, ev Event) error {
	payload := map[string]interface{}{
		"@type":      "MessageCard",
		"@context":   "http://schema.org/extensions",
		"themeColor": severityColor(ev.Violation.Severity),
		"summary":    ev.Violation.Gate,
		"title":      fmt.Sprintf("rulwatch gate: %s", ev.Violation.Gate),
		"text":       fmt.Sprintf("run %s: %s", ev.RunID, ev.Violation.Message),
	}
	body, _ := json.Marshal(payload)
	return n.post(ctx, url, body)
}

func (n *Notifier) sendHTTP(ctx context.Context, url string, ev Event) error {
	body, _ := json.Marshal(map[string]interface{}{"event": ev})
	return n.post(ctx, url, body)
}

func (n *Notifier) post(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}

func severityLabel(s string) string {
	switch s {
	case "critical":
		return "[CRITICAL]"
	case "warning":
		return "[WARNING]"
	default:
		return "[INFO]"
	}
}

func severityColor(s string) string {
	switch s {
	case "critical":
		return "FF4F6A"
	case "warning":
		return "FFAB40"
	default:
		return "00D4FF"
	}
}
