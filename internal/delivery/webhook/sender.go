// Package webhook delivers signed notification payloads to customer-managed
// HTTP endpoints.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"time"

	"github.com/reportflow/notifier/internal/delivery"
	"github.com/reportflow/notifier/internal/domain"
	"github.com/reportflow/notifier/internal/pkg/ctxlog"
	"github.com/reportflow/notifier/internal/render"
)

const (
	defaultTimeout = 10 * time.Second
	userAgent      = "ReportFlow-Webhook/1.0"

	headerSignature = "X-Webhook-Signature"
	headerEvent     = "X-Webhook-Event"
	headerDelivery  = "X-Webhook-Delivery"
)

// Config holds webhook sender configuration. Endpoint URLs and signing
// secrets live on each ChannelTarget, so global configuration is minimal.
type Config struct {
	Timeout time.Duration
}

// Sender posts rendered webhook envelopes to generic endpoints.
type Sender struct {
	httpClient *http.Client
}

// NewSender creates a webhook sender.
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
	return domain.ChannelWebhook
}

// Send posts the envelope to the target URL. When the target has a signing
// secret, the raw body is signed with HMAC-SHA256 and the hex digest sent in
// X-Webhook-Signature. A 2xx response is success; consumers are expected to
// use X-Webhook-Delivery for their own idempotency.
func (s *Sender) Send(ctx context.Context, msg render.Message, target delivery.Target) delivery.Outcome {
	if target.Address == "" {
		return delivery.Terminal(0, "webhook URL is empty")
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
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set(headerEvent, string(target.EventType))
	req.Header.Set(headerDelivery, target.AttemptID)
	if target.Secret != "" {
		req.Header.Set(headerSignature, "sha256="+Signature(target.Secret, msg.Payload))
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return delivery.Classify(0, err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	out := delivery.Classify(resp.StatusCode, nil)
	if out.Success {
		ctxlog.FromContext(ctx).Debug("webhook delivered",
			"delivery_id", target.AttemptID,
			"status", resp.StatusCode,
		)
	}
	return out
}

// Signature computes the hex HMAC-SHA256 digest of body under secret.
func Signature(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
