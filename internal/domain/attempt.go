package domain

import "time"

// AttemptStatus is the state of one delivery attempt.
type AttemptStatus string

// Attempt statuses. Delivered, exhausted and suppressed are terminal.
// Failed is terminal only when the failure was classified non-retryable.
const (
	AttemptPending    AttemptStatus = "pending"
	AttemptSent       AttemptStatus = "sent"
	AttemptDelivered  AttemptStatus = "delivered"
	AttemptFailed     AttemptStatus = "failed"
	AttemptRetrying   AttemptStatus = "retrying"
	AttemptExhausted  AttemptStatus = "exhausted"
	AttemptSuppressed AttemptStatus = "suppressed"
)

// Terminal reports whether the status permits no further transitions.
func (s AttemptStatus) Terminal() bool {
	switch s {
	case AttemptDelivered, AttemptExhausted, AttemptSuppressed:
		return true
	}
	return false
}

// DeliveryAttempt tracks one try to deliver one event over one channel/target.
// Created at dispatch time; retry transitions are owned exclusively by the
// retry scheduler.
type DeliveryAttempt struct {
	ID            string        `json:"id"`
	EventID       string        `json:"event_id"`
	Channel       Channel       `json:"channel"`
	TargetRef     string        `json:"target_ref"` // target ID for webhook channels, address otherwise
	Status        AttemptStatus `json:"status"`
	AttemptNumber int           `json:"attempt_number"`
	MaxRetries    int           `json:"max_retries"`
	ScheduledAt   time.Time     `json:"scheduled_at"`
	SentAt        *time.Time    `json:"sent_at,omitempty"`

	// ProviderMessageID is the provider-side identifier returned on success.
	ProviderMessageID string `json:"provider_message_id,omitempty"`

	ResponseCode  int           `json:"response_code,omitempty"`
	ErrorMessage  string        `json:"error_message,omitempty"`
	NextRetryAt   *time.Time    `json:"next_retry_at,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}
