package alert

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rayguard/sentinel-backbone/pkg/utils"
)

// WebhookConfig holds webhook sink configuration
type WebhookConfig struct {
	URL           string            `json:"url"`
	Method        string            `json:"method"`
	Headers       map[string]string `json:"headers"`
	Timeout       time.Duration     `json:"timeout"`
	RetryAttempts int               `json:"retry_attempts"`
	RetryDelay    time.Duration     `json:"retry_delay"`
}

// WebhookSink posts alerts to an HTTP endpoint with exponential-backoff
// retries on failure.
type WebhookSink struct {
	config     *WebhookConfig
	logger     *logrus.Logger
	httpClient *http.Client
}

// NewWebhookSink creates a webhook sink
func NewWebhookSink(config *WebhookConfig) *WebhookSink {
	if config.Method == "" {
		config.Method = http.MethodPost
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if config.RetryAttempts <= 0 {
		config.RetryAttempts = 3
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = time.Second
	}

	return &WebhookSink{
		config: config,
		logger: utils.GetLogger(),
		httpClient: &http.Client{
			Timeout: config.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 5,
				IdleConnTimeout:     30 * time.Second,
			},
		},
	}
}

func (w *WebhookSink) Name() string { return "webhook" }

// Send implements Sink
func (w *WebhookSink) Send(ctx context.Context, alert *Alert) error {
	body, err := json.Marshal(alert)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeInternal, "Failed to encode alert", err.Error())
	}

	var lastErr error
	for attempt := 1; attempt <= w.config.RetryAttempts; attempt++ {
		if attempt > 1 {
			delay := w.retryDelay(attempt)
			w.logger.WithFields(logrus.Fields{
				"url":     w.config.URL,
				"attempt": attempt,
				"delay":   delay,
			}).Debug("Retrying alert webhook")

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		lastErr = w.post(ctx, body)
		if lastErr == nil {
			w.logger.WithFields(logrus.Fields{
				"url":      w.config.URL,
				"severity": alert.Severity,
				"origin":   alert.OriginIP,
			}).Info("Alert delivered")
			return nil
		}
	}

	return utils.NewAppError(utils.ErrCodeUnavailable, "Alert webhook delivery failed", lastErr.Error())
}

func (w *WebhookSink) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, w.config.Method, w.config.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "sentinel-backbone/1.0")
	for key, value := range w.config.Headers {
		req.Header.Set(key, value)
	}

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

// retryDelay doubles the base delay per attempt, capped at 30s
func (w *WebhookSink) retryDelay(attempt int) time.Duration {
	delay := w.config.RetryDelay
	for i := 2; i < attempt; i++ {
		delay *= 2
	}
	if delay > 30*time.Second {
		delay = 30 * time.Second
	}
	return delay
}
