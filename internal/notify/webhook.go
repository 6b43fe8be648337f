// Package notify posts scan and suite events to a webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-logr/logr"
)

const (
	defaultTimeout      = 30 * time.Second
	defaultMaxRetries   = 3
	defaultInitialDelay = time.Second
)

// Event types.
const (
	EventScanFinished  = "scan.finished"
	EventSuiteFinished = "suite.finished"
)

// Payload is the JSON body posted to the webhook.
type Payload struct {
	EventType string         `json:"eventType"`
	Timestamp string         `json:"timestamp"` // RFC 3339, UTC
	Target    string         `json:"target,omitempty"`
	ScanID    string         `json:"scanId,omitempty"`
	Outcome   string         `json:"outcome,omitempty"`
	Summary   map[string]int `json:"summary,omitempty"`
	Checks    []Check        `json:"checks,omitempty"`
}

// Check is a single suite check result.
type Check struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// Config configures a Webhook.
type Config struct {
	URL     string            `mapstructure:"webhook_url"`
	Method  string            `mapstructure:"method"`
	Headers map[string]string `mapstructure:"headers"`
	Timeout time.Duration     `mapstructure:"timeout"`

	// MaxRetries < 0 disables retries.
	MaxRetries   int           `mapstructure:"max_retries"`
	InitialDelay time.Duration `mapstructure:"initial_delay"`
}

// Webhook sends payloads with retries and exponential backoff.
type Webhook struct {
	cfg    Config
	client *http.Client
	logger logr.Logger
}

// NewWebhook returns a notifier for cfg. A zero MaxRetries means the default.
func NewWebhook(cfg Config, logger logr.Logger) *Webhook {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaultMaxRetries
	} else if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.InitialDelay <= 0 {
		cfg.InitialDelay = defaultInitialDelay
	}
	if cfg.Method == "" {
		cfg.Method = http.MethodPost
	}
	return &Webhook{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

// Send posts payload, retrying failed attempts. A nil Webhook is a no-op.
func (w *Webhook) Send(ctx context.Context, payload Payload) error {
	if w == nil || w.cfg.URL == "" {
		return nil
	}
	if payload.Timestamp == "" {
		payload.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("notify: marshal payload: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= w.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := w.cfg.InitialDelay * time.Duration(1<<(attempt-1))
			w.logger.Info("retrying webhook", "attempt", attempt, "delay", delay.String(), "url", w.cfg.URL)
			select {
			case <-ctx.Done():
				return fmt.Errorf("notify: cancelled during backoff: %w", ctx.Err())
			case <-time.After(delay):
			}
		}

		err := w.sendOnce(ctx, body)
		if err == nil {
			if attempt > 0 {
				w.logger.Info("webhook succeeded after retry", "attempt", attempt, "url", w.cfg.URL)
			}
			return nil
		}
		lastErr = err
		w.logger.Error(err, "webhook attempt failed", "attempt", attempt, "url", w.cfg.URL, "maxRetries", w.cfg.MaxRetries)
	}
	return fmt.Errorf("notify: webhook failed after %d attempts: %w", w.cfg.MaxRetries+1, lastErr)
}

func (w *Webhook) sendOnce(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, w.cfg.Method, w.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	w.logger.V(1).Info("webhook sent", "url", w.cfg.URL, "status", resp.StatusCode)
	return nil
}
