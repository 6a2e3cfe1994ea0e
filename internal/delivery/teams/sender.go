// Package teams delivers notifications to Microsoft Teams incoming webhooks.
package teams

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

// Config holds Teams sender configuration.
type Config struct {
	Timeout time.Duration
}

// Sender posts MessageCard payloads to Teams incoming webhooks.
type Sender struct {
	httpClient *http.Client
}

// NewSender creates a Teams sender.
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
	return domain.ChannelTeams
}

// Send posts the rendered MessageCard to the target webhook. Teams connector
// webhooks return 200 with a "1" body on success and a textual error
// otherwise, sometimes still under a 200; the body check catches that case.
func (s *Sender) Send(ctx context.Context, msg render.Message, target delivery.Target) delivery.Outcome {
	if target.Address == "" {
		return delivery.Terminal(0, "teams webhook URL is empty")
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
		if reason := strings.TrimSpace(string(body)); reason != "" {
			out.ErrorMessage = "teams: " + reason
		}
		return out
	}

	if reason := strings.TrimSpace(string(body)); reason != "" && reason != "1" {
		return delivery.Terminal(resp.StatusCode, "teams: "+reason)
	}

	ctxlog.FromContext(ctx).Debug("teams message sent", "delivery_id", target.AttemptID)
	return out
}
