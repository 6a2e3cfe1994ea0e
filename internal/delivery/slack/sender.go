// Package slack delivers notifications to Slack incoming webhooks.
package slack

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/reportflow/notifier/internal/delivery"
	"github.com/reportflow/notifier/internal/domain"
	"github.com/reportflow/notifier/internal/pkg/ctxlog"
	"github.com/reportflow/notifier/internal/render"
)

const defaultTimeout = 10 * time.Second

// Config holds Slack sender configuration. Webhook URLs are stored per
// ChannelTarget, so there is no global endpoint here.
type Config struct {
	Timeout time.Duration
}

// Sender posts Block Kit payloads to Slack incoming webhooks.
type Sender struct {
	httpClient *http.Client
}

// NewSender creates a Slack sender.
func NewSender(config Config) *Sender {
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}
	return &Sender{
		httpClient: &http.Client{Timeout: config.Timeout},
	}
}

// Channel returns the channel this sender serves.
func (s *Sender) Channel() domain.Channel {
	return domain.ChannelSlack
}

// Send posts the rendered Block Kit payload to the target webhook. Slack
// answers a plain "ok" body on success; anything else on a 200 still counts
// as delivered.
func (s *Sender) Send(ctx context.Context, msg render.Message, target delivery.Target) delivery.Outcome {
	if target.Address == "" {
		return delivery.Terminal(0, "slack webhook URL is empty")
	}

	if target.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, target.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.Address, bytes.NewReader(msg.Payload))
	if err != nil {
		return delivery.Terminal(0, "create request: "+err.Error())
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return delivery.Classify(0, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))

	out := delivery.Classify(resp.StatusCode, nil)
	if !out.Success {
		// Slack reports webhook problems like "no_service" or
		// "invalid_payload" in the response body.
		if reason := strings.TrimSpace(string(body)); reason != "" {
			out.ErrorMessage = "slack: " + reason
		}
		return out
	}

	ctxlog.FromContext(ctx).Debug("slack message sent", "delivery_id", target.AttemptID)
	return out
}
