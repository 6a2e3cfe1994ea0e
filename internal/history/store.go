// Package history defines the append-only delivery attempt store. Attempts
// are the only mutable shared state in the subsystem: every status change
// goes through the Store, and after the initial insert only the retry
// scheduler mutates status and next_retry_at.
package history

import (
	"context"
	"errors"
	"time"

	"github.com/reportflow/notifier/internal/domain"
)

// Store errors.
var (
	ErrAttemptNotFound = errors.New("delivery attempt not found")
	ErrEventNotFound   = errors.New("notification event not found")
)

// Filters narrows attempt listings. Zero values mean "any".
type Filters struct {
	EventID  string
	Channel  domain.Channel
	Statuses []domain.AttemptStatus
	Since    time.Time
	Until    time.Time
	Limit    int
	Offset   int
}

// Store persists notification events and their delivery attempts.
//
// Events are stored alongside attempts so the retry scheduler can re-render
// and re-dispatch after a restart without the original request.
type Store interface {
	// SaveEvent persists an event. Saving an already-stored ID is a no-op so
	// redelivered events stay idempotent.
	SaveEvent(ctx context.Context, event domain.NotificationEvent) error
	GetEvent(ctx context.Context, id string) (domain.NotificationEvent, error)

	// CreateAttempt inserts a new pending attempt, filling ID and timestamps.
	CreateAttempt(ctx context.Context, attempt *domain.DeliveryAttempt) error

	MarkSent(ctx context.Context, id string, providerMessageID string, statusCode int) error
	MarkFailed(ctx context.Context, id string, statusCode int, errorMessage string) error
	MarkSuppressed(ctx context.Context, id string, reason string) error
	MarkExhausted(ctx context.Context, id string, statusCode int, errorMessage string) error

	// ScheduleRetry records a retryable failure: bumps attempt_number, stores
	// the error and sets next_retry_at.
	ScheduleRetry(ctx context.Context, id string, statusCode int, errorMessage string, nextRetryAt time.Time) error

	// ClaimDue atomically claims up to limit attempts whose next_retry_at has
	// passed. A claim is a lease: the attempt stays retrying and next_retry_at
	// is pushed to now+lease, so an attempt stranded by a worker crash becomes
	// claimable again once the lease expires. Delivery remains at-least-once;
	// the outcome recorded by Process supersedes the lease.
	ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]domain.DeliveryAttempt, error)

	// RequeueAttempts resets terminally failed or exhausted attempts for a
	// manual retry: attempt identity is kept, the retry budget starts over.
	// Returns the attempts actually requeued.
	RequeueAttempts(ctx context.Context, ids []string) ([]domain.DeliveryAttempt, error)

	GetAttempt(ctx context.Context, id string) (domain.DeliveryAttempt, error)
	ListAttempts(ctx context.Context, filters Filters) ([]domain.DeliveryAttempt, error)

	// CountByStatus returns attempt counts per status, for queue metrics.
	CountByStatus(ctx context.Context) (map[domain.AttemptStatus]int, error)
}
