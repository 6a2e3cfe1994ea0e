// Package sms delivers notifications through an HTTP SMS provider API.
package sms

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

// Config holds SMS provider configuration.
type Config struct {
	APIURL  string // provider message endpoint
	APIKey  string
	From    string // sender ID or number
	Timeout time.Duration
}

// Sender posts messages to an SMS provider's JSON API.
type Sender struct {
	config     Config
	httpClient *http.Client
}

// NewSender creates an SMS sender.
func NewSender(config Config) (*Sender, error) {
	if config.APIURL == "" {
		return nil, &delivery.ConfigurationError{Component: "sms", Message: "API URL is required"}
	}
	if config.From == "" {
		return nil, &delivery.ConfigurationError{Component: "sms", Message: "sender ID is required"}
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
	return domain.ChannelSMS
}

type sendRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
	Body string `json:"body"`
}

type sendResponse struct {
	MessageID string `json:"message_id"`
}

// Send posts one message to the provider. The body arrives pre-segmented
// from the renderer; segment count is logged for cost visibility.
func (s *Sender) Send(ctx context.Context, msg render.Message, target delivery.Target) delivery.Outcome {
	if target.Address == "" {
		return delivery.Terminal(0, "phone number is empty")
	}

	payload, err := json.Marshal(sendRequest{
		From: s.config.From,
		To:   target.Address,
		Body: msg.BodyText,
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
	out.ProviderMessageID = parsed.MessageID

	ctxlog.FromContext(ctx).Debug("sms sent",
		"delivery_id", target.AttemptID,
		"segments", msg.Segments,
	)
	return out
}
