package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	nethttp "net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/GenomiqueENS/aozan/internal/logging"
)

// retryLogger implements the retryablehttp.LeveledLogger interface
type retryLogger struct {
	logger *logging.Logger
}

func (l *retryLogger) Error(msg string, keysAndValues ...interface{}) {
	l.logger.Error().Fields(keysAndValues).Msg(msg)
}

func (l *retryLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l *retryLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l *retryLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.logger.Warn().Fields(keysAndValues).Msg(msg)
}

// webhookPayload is the JSON document posted for each message.
type webhookPayload struct {
	Subject    string `json:"subject"`
	Body       string `json:"body"`
	Error      bool   `json:"error"`
	Attachment string `json:"attachment,omitempty"`
}

// WebhookSender posts messages as JSON to an HTTP endpoint.
type WebhookSender struct {
	url    string
	client *nethttp.Client
}

// NewWebhookSender creates a webhook sender using client for transport.
func NewWebhookSender(url string, client *nethttp.Client, logger *logging.Logger) *WebhookSender {
	return newWebhookSender(url, client, logger, time.Second, 30*time.Second)
}

func newWebhookSender(url string, client *nethttp.Client, logger *logging.Logger, waitMin, waitMax time.Duration) *WebhookSender {
	if client == nil {
		client = nethttp.DefaultClient
	}
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	retryClient := retryablehttp.NewClient()
	retryClient.HTTPClient = client
	retryClient.RetryMax = 4
	retryClient.RetryWaitMin = waitMin
	retryClient.RetryWaitMax = waitMax
	retryClient.Logger = &retryLogger{logger: logger}

	return &WebhookSender{url: url, client: retryClient.StandardClient()}
}

// Send posts msg. Non-2xx answers are errors after retries are exhausted.
func (s *WebhookSender) Send(ctx context.Context, msg Message) error {
	payload, err := json.Marshal(webhookPayload{
		Subject:    msg.Subject,
		Body:       msg.Body,
		Error:      msg.Error,
		Attachment: msg.Attachment,
	})
	if err != nil {
		return fmt.Errorf("failed to encode webhook payload: %w", err)
	}

	req, err := nethttp.NewRequestWithContext(ctx, nethttp.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
