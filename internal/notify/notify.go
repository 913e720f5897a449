// Package notify delivers operator notifications (mail, webhook and log)
// and deduplicates repeated failure alerts.
package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/GenomiqueENS/aozan/internal/config"
	aozanhttp "github.com/GenomiqueENS/aozan/internal/http"
	"github.com/GenomiqueENS/aozan/internal/logging"
)

// Message is one operator notification.
type Message struct {
	Subject string
	Body    string

	// Error selects the error recipient and marks the message as an alert.
	Error bool

	// Attachment is an optional file path sent along with the message.
	Attachment string
}

// Sender delivers messages.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// LogSender writes every message to the log.
type LogSender struct {
	logger *logging.Logger
}

// NewLogSender creates a sender writing to logger.
func NewLogSender(logger *logging.Logger) *LogSender {
	return &LogSender{logger: logger}
}

// Send logs msg. It never fails.
func (s *LogSender) Send(_ context.Context, msg Message) error {
	event := s.logger.Info()
	if msg.Error {
		event = s.logger.Warn()
	}
	if msg.Attachment != "" {
		event = event.Str("attachment", msg.Attachment)
	}
	event.Str("subject", msg.Subject).Msg("Notification: " + msg.Body)
	return nil
}

// MultiSender fans a message out to several senders.
type MultiSender []Sender

// Send delivers msg to every sender and joins their errors.
func (m MultiSender) Send(ctx context.Context, msg Message) error {
	var errs []error
	for _, s := range m {
		if err := s.Send(ctx, msg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// New builds the sender configured by cfg. Messages are always logged; mail
// and webhook delivery are added when enabled.
func New(cfg *config.Config, logger *logging.Logger) (Sender, error) {
	senders := MultiSender{NewLogSender(logger)}

	if cfg.Mail.Send {
		senders = append(senders, NewSMTPSender(cfg.Mail))
	}

	if cfg.Webhook.URL != "" {
		client, err := aozanhttp.NewClient(cfg.Webhook.Proxy, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to configure webhook client: %w", err)
		}
		senders = append(senders, NewWebhookSender(cfg.Webhook.URL, client, logger))
	}

	return senders, nil
}
