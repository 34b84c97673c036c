// Package alert fans out decision events to operator webhooks. Delivery is
// best-effort and fire-and-forget: a dead webhook never slows enforcement.
package alert

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const (
	requestTimeout = 5 * time.Second
	maxRetries     = 3
)

var httpClient = &http.Client{Timeout: requestTimeout}

// WebhookConfig configures one alert destination.
type WebhookConfig struct {
	URL     string            `yaml:"url"`
	Headers map[string]string `yaml:"headers,omitempty"`
	// Actions filters which decisions fire this webhook (e.g. BLOCK,
	// CONFIRM). Empty means every decision.
	Actions []string `yaml:"actions,omitempty"`
}

// Event is the payload posted to webhooks.
type Event struct {
	Timestamp  string  `json:"ts"`
	RequestID  string  `json:"request_id"`
	ClientID   string  `json:"client_id,omitempty"`
	Tool       string  `json:"tool,omitempty"`
	Action     string  `json:"action"`
	RuleID     string  `json:"rule_id"`
	Reason     string  `json:"reason"`
	Risk       float64 `json:"risk"`
	Threat     string  `json:"threat"`
	PolicyHash string  `json:"policy_hash"`
}

// Dispatcher fans out events to matching webhook configurations.
type Dispatcher struct {
	configs []WebhookConfig
}

// NewDispatcher creates a Dispatcher from webhook configurations.
// Returns nil if configs is empty (callers should nil-check).
func NewDispatcher(configs []WebhookConfig) *Dispatcher {
	if len(configs) == 0 {
		return nil
	}
	return &Dispatcher{configs: configs}
}

// Dispatch sends the event to all webhooks whose Actions list matches.
// Fires goroutines — does not block the caller.
func (d *Dispatcher) Dispatch(event Event) {
	for _, cfg := range d.configs {
		if matchesAction(cfg.Actions, event.Action) {
			go func(cfg WebhookConfig) { _ = Send(cfg, event) }(cfg)
		}
	}
}

func matchesAction(actions []string, action string) bool {
	if len(actions) == 0 {
		return true
	}
	for _, a := range actions {
		if a == action {
			return true
		}
	}
	return false
}

// Send posts an event to a webhook endpoint with retry on 5xx.
func Send(cfg WebhookConfig, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Duration(attempt) * time.Second)
		}

		req, err := http.NewRequest(http.MethodPost, cfg.URL, bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		for k, v := range cfg.Headers {
			req.Header.Set(k, v)
		}

		resp, err := httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return fmt.Errorf("webhook rejected: HTTP %d", resp.StatusCode)
		}
		// 5xx — retry
		lastErr = fmt.Errorf("webhook server error: HTTP %d", resp.StatusCode)
	}

	return fmt.Errorf("webhook failed after %d attempts: %w", maxRetries, lastErr)
}
