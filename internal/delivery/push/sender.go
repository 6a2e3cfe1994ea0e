// Package push delivers notifications through an HTTP push provider API.
package push

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/reportflow/notifier/internal/delivery"
	"github.com/reportflow/notifier/internal/domain"
	"github.com/reportflow/notifier/internal/pkg/ctxlog"
	"github.com/reportflow/notifier/internal/render"
)

const defaultTimeout = 10 * time.Second

// Config holds push provider configuration.
type Config struct {
	APIURL  string
	APIKey  string
	Timeout time.Duration
}

// Sender posts notifications to a push provider's JSON API, addressed by
// device token.
type Sender struct {
	config     Config
	httpClient *http.Client
}

// NewSender creates a push sender.
func NewSender(config Config) (*Sender, error) {
	if config.APIURL == "" {
		return nil, &delivery.ConfigurationError{Component: "push", Message: "API URL is required"}
	}
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}
	return &Sender{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
	}, nil
}

// Channel returns the channel this sender serves.
func (s *Sender) Channel() domain.Channel {
	return domain.ChannelPush
}

type sendRequest struct {
	Token string            `json:"token"`
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

type sendResponse struct {
	ID string `json:"id"`
}

// Send posts one notification to the provider.
func (s *Sender) Send(ctx context.Context, msg render.Message, target delivery.Target) delivery.Outcome {
	if target.Address == "" {
		return delivery.Terminal(0, "device token is empty")
	}

	payload, err := json.Marshal(sendRequest{
		Token: target.Address,
		Title: msg.Subject,
		Body:  msg.BodyText,
		Data: map[string]string{
			"event_type":  string(target.EventType),
			"delivery_id": target.AttemptID,
		},
	})
	if err != nil {
		return delivery.Terminal(0, "marshal payload: "+err.Error())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.APIURL, bytes.NewReader(payload))
	if err != nil {
		return delivery.Terminal(0, "create request: "+err.Error())
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.config.APIKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return delivery.Classify(0, err)
	}
	defer func() { _ = resp.Body.Close() }()

	out := delivery.Classify(resp.StatusCode, nil)
	if !out.Success {
		return out
	}

	var parsed sendResponse
	if body, readErr := io.ReadAll(io.LimitReader(resp.Body, 4096)); readErr == nil {
		_ = json.Unmarshal(body, &parsed)
	}
	out.ProviderMessageID = parsed.ID

	ctxlog.FromContext(ctx).Debug("push sent", "delivery_id", target.AttemptID)
	return out
}
