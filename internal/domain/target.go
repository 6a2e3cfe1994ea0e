package domain

import "time"

// Target timeout and retry bounds, enforced at configuration time and
// clamped defensively at dispatch time.
const (
	MinTargetTimeout = 5 * time.Second
	MaxTargetTimeout = 300 * time.Second
	MaxTargetRetries = 10
)

// ChannelTarget is a configured webhook-style endpoint (generic webhook,
// Slack or Teams incoming webhook). Many targets may exist per user; each is
// dispatched to independently. Owned by admin configuration APIs, read-only
// here.
type ChannelTarget struct {
	ID             string             `json:"id"`
	UserID         string             `json:"user_id"`
	Channel        Channel            `json:"channel"`
	Name           string             `json:"name"`
	WebhookURL     string             `json:"webhook_url"`
	SecretKey      string             `json:"-"`
	EnabledTypes   []NotificationType `json:"enabled_types"`
	TimeoutSeconds int                `json:"timeout_seconds"`
	MaxRetries     int                `json:"max_retries"`
	IsActive       bool               `json:"is_active"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

// AcceptsType reports whether the target is subscribed to the given
// notification type. An empty EnabledTypes set means all types.
func (t ChannelTarget) AcceptsType(notifType NotificationType) bool {
	if len(t.EnabledTypes) == 0 {
		return true
	}
	for _, nt := range t.EnabledTypes {
		if nt == notifType {
			return true
		}
	}
	return false
}

// Timeout returns the configured request timeout clamped to the allowed range.
func (t ChannelTarget) Timeout() time.Duration {
	d := time.Duration(t.TimeoutSeconds) * time.Second
	if d < MinTargetTimeout {
		return MinTargetTimeout
	}
	if d > MaxTargetTimeout {
		return MaxTargetTimeout
	}
	return d
}

// RetryBudget returns the configured retry count clamped to [0, MaxTargetRetries].
func (t ChannelTarget) RetryBudget() int {
	if t.MaxRetries < 0 {
		return 0
	}
	if t.MaxRetries > MaxTargetRetries {
		return MaxTargetRetries
	}
	return t.MaxRetries
}
