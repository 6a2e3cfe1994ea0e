// Package postgres provides the PostgreSQL implementation of the delivery
// history store.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/reportflow/notifier/internal/domain"
	"github.com/reportflow/notifier/internal/history"
)

// Store implements history.Store using PostgreSQL.
type Store struct {
	db *pgxpool.Pool
}

// NewStore creates a new PostgreSQL history store.
func NewStore(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// SaveEvent persists an event. Re-saving an existing ID is a no-op so
// redelivered events stay idempotent.
func (s *Store) SaveEvent(ctx context.Context, event domain.NotificationEvent) error {
	query := `
		INSERT INTO notification_events (
			id, type, priority, title, message, recipient_id, sender_id,
			related_entity_id, related_entity_type, action_url, metadata, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO NOTHING
	`
	_, err := s.db.Exec(ctx, query,
		event.ID,
		event.Type,
		event.Priority.String(),
		event.Title,
		event.Message,
		event.RecipientID,
		event.SenderID,
		event.RelatedEntityID,
		event.RelatedEntityType,
		event.ActionURL,
		event.Metadata,
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save event: %w", err)
	}
	return nil
}

// GetEvent retrieves a stored event by ID.
func (s *Store) GetEvent(ctx context.Context, id string) (domain.NotificationEvent, error) {
	query := `
		SELECT
			id, type, priority, title, message, recipient_id, sender_id,
			related_entity_id, related_entity_type, action_url, metadata, created_at
		FROM notification_events
		WHERE id = $1
	`
	var (
		event    domain.NotificationEvent
		priority string
	)
	err := s.db.QueryRow(ctx, query, id).Scan(
		&event.ID,
		&event.Type,
		&priority,
		&event.Title,
		&event.Message,
		&event.RecipientID,
		&event.SenderID,
		&event.RelatedEntityID,
		&event.RelatedEntityType,
		&event.ActionURL,
		&event.Metadata,
		&event.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.NotificationEvent{}, history.ErrEventNotFound
		}
		return domain.NotificationEvent{}, fmt.Errorf("get event: %w", err)
	}

	event.Priority, err = domain.ParsePriority(priority)
	if err != nil {
		return domain.NotificationEvent{}, fmt.Errorf("get event: %w", err)
	}
	return event, nil
}

// CreateAttempt inserts a new pending attempt, filling ID and timestamps.
func (s *Store) CreateAttempt(ctx context.Context, attempt *domain.DeliveryAttempt) error {
	if attempt.ID == "" {
		attempt.ID = uuid.NewString()
	}
	query := `
		INSERT INTO delivery_attempts (
			id, event_id, channel, target_ref, status, attempt_number,
			max_retries, scheduled_at, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now(), now())
		RETURNING created_at, updated_at
	`
	err := s.db.QueryRow(ctx, query,
		attempt.ID,
		attempt.EventID,
		attempt.Channel,
		attempt.TargetRef,
		attempt.Status,
		attempt.AttemptNumber,
		attempt.MaxRetries,
		attempt.ScheduledAt,
	).Scan(&attempt.CreatedAt, &attempt.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create attempt: %w", err)
	}
	return nil
}

// MarkSent records a successful delivery.
func (s *Store) MarkSent(ctx context.Context, id, providerMessageID string, statusCode int) error {
	query := `
		UPDATE delivery_attempts
		SET status = $2, provider_message_id = $3, response_code = $4,
		    sent_at = now(), next_retry_at = NULL, updated_at = now()
		WHERE id = $1
	`
	return s.update(ctx, query, id, domain.AttemptSent, providerMessageID, statusCode)
}

// MarkFailed records a terminal failure.
func (s *Store) MarkFailed(ctx context.Context, id string, statusCode int, errorMessage string) error {
	query := `
		UPDATE delivery_attempts
		SET status = $2, response_code = $3, error_message = $4,
		    next_retry_at = NULL, updated_at = now()
		WHERE id = $1
	`
	return s.update(ctx, query, id, domain.AttemptFailed, statusCode, errorMessage)
}

// MarkSuppressed records a preference-driven suppression.
func (s *Store) MarkSuppressed(ctx context.Context, id, reason string) error {
	query := `
		UPDATE delivery_attempts
		SET status = $2, error_message = $3, updated_at = now()
		WHERE id = $1
	`
	return s.update(ctx, query, id, domain.AttemptSuppressed, reason)
}

// MarkExhausted records that the retry budget ran out.
func (s *Store) MarkExhausted(ctx context.Context, id string, statusCode int, errorMessage string) error {
	query := `
		UPDATE delivery_attempts
		SET status = $2, response_code = $3, error_message = $4,
		    next_retry_at = NULL, updated_at = now()
		WHERE id = $1
	`
	return s.update(ctx, query, id, domain.AttemptExhausted, statusCode, errorMessage)
}

// ScheduleRetry records a retryable failure and the time of the next try.
func (s *Store) ScheduleRetry(ctx context.Context, id string, statusCode int, errorMessage string, nextRetryAt time.Time) error {
	query := `
		UPDATE delivery_attempts
		SET status = $2, attempt_number = attempt_number + 1,
		    response_code = $3, error_message = $4, next_retry_at = $5,
		    updated_at = now()
		WHERE id = $1
	`
	return s.update(ctx, query, id, domain.AttemptRetrying, statusCode, errorMessage, nextRetryAt)
}

func (s *Store) update(ctx context.Context, query, id string, args ...any) error {
	tag, err := s.db.Exec(ctx, query, append([]any{id}, args...)...)
	if err != nil {
		return fmt.Errorf("update attempt: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return history.ErrAttemptNotFound
	}
	return nil
}

// ClaimDue atomically claims up to limit due attempts. SKIP LOCKED lets
// concurrent workers claim disjoint sets without blocking each other. The
// claim leaves status retrying and pushes next_retry_at out by the lease, so
// a crashed worker's attempts become claimable again after the lease expires.
func (s *Store) ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]domain.DeliveryAttempt, error) {
	query := `
		UPDATE delivery_attempts
		SET next_retry_at = $1, updated_at = now()
		WHERE id IN (
			SELECT id FROM delivery_attempts
			WHERE status = $2 AND next_retry_at <= $3
			ORDER BY next_retry_at
			LIMIT $4
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + attemptColumns

	rows, err := s.db.Query(ctx, query, now.Add(lease), domain.AttemptRetrying, now, limit)
	if err != nil {
		return nil, fmt.Errorf("claim due attempts: %w", err)
	}
	defer rows.Close()

	return scanAttempts(rows)
}

// RequeueAttempts resets terminally failed or exhausted attempts for a manual
// retry. Attempt identity is kept; the retry budget starts over. Attempts in
// any other status are skipped silently.
func (s *Store) RequeueAttempts(ctx context.Context, ids []string) ([]domain.DeliveryAttempt, error) {
	query := `
		UPDATE delivery_attempts
		SET status = $1, attempt_number = 0, error_message = '',
		    next_retry_at = now(), updated_at = now()
		WHERE id = ANY($2) AND status = ANY($3)
		RETURNING ` + attemptColumns

	terminal := []domain.AttemptStatus{domain.AttemptFailed, domain.AttemptExhausted}
	rows, err := s.db.Query(ctx, query, domain.AttemptRetrying, ids, terminal)
	if err != nil {
		return nil, fmt.Errorf("requeue attempts: %w", err)
	}
	defer rows.Close()

	return scanAttempts(rows)
}

// GetAttempt retrieves one attempt by ID.
func (s *Store) GetAttempt(ctx context.Context, id string) (domain.DeliveryAttempt, error) {
	query := `SELECT ` + attemptColumns + ` FROM delivery_attempts WHERE id = $1`

	rows, err := s.db.Query(ctx, query, id)
	if err != nil {
		return domain.DeliveryAttempt{}, fmt.Errorf("get attempt: %w", err)
	}
	defer rows.Close()

	attempts, err := scanAttempts(rows)
	if err != nil {
		return domain.DeliveryAttempt{}, err
	}
	if len(attempts) == 0 {
		return domain.DeliveryAttempt{}, history.ErrAttemptNotFound
	}
	return attempts[0], nil
}

// ListAttempts retrieves attempts matching the filters, newest first.
func (s *Store) ListAttempts(ctx context.Context, filters history.Filters) ([]domain.DeliveryAttempt, error) {
	var (
		conditions []string
		args       []any
		argNum     = 1
	)

	addCondition := func(cond string, value any) {
		conditions = append(conditions, fmt.Sprintf(cond, argNum))
		args = append(args, value)
		argNum++
	}

	if filters.EventID != "" {
		addCondition("event_id = $%d", filters.EventID)
	}
	if filters.Channel != "" {
		addCondition("channel = $%d", filters.Channel)
	}
	if len(filters.Statuses) > 0 {
		addCondition("status = ANY($%d)", filters.Statuses)
	}
	if !filters.Since.IsZero() {
		addCondition("created_at >= $%d", filters.Since)
	}
	if !filters.Until.IsZero() {
		addCondition("created_at < $%d", filters.Until)
	}

	query := `SELECT ` + attemptColumns + ` FROM delivery_attempts`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC"

	if filters.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argNum)
		args = append(args, filters.Limit)
		argNum++
	}
	if filters.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argNum)
		args = append(args, filters.Offset)
	}

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	defer rows.Close()

	return scanAttempts(rows)
}

// CountByStatus returns attempt counts per status, for queue metrics.
func (s *Store) CountByStatus(ctx context.Context) (map[domain.AttemptStatus]int, error) {
	query := `SELECT status, count(*) FROM delivery_attempts GROUP BY status`

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("count attempts: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.AttemptStatus]int)
	for rows.Next() {
		var (
			status domain.AttemptStatus
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[status] = count
	}
	return counts, rows.Err()
}

const attemptColumns = `
	id, event_id, channel, target_ref, status, attempt_number, max_retries,
	scheduled_at, sent_at, provider_message_id, response_code, error_message,
	next_retry_at, created_at, updated_at`

func scanAttempts(rows pgx.Rows) ([]domain.DeliveryAttempt, error) {
	attempts := make([]domain.DeliveryAttempt, 0)
	for rows.Next() {
		var (
			a          domain.DeliveryAttempt
			providerID *string
		)
		err := rows.Scan(
			&a.ID,
			&a.EventID,
			&a.Channel,
			&a.TargetRef,
			&a.Status,
			&a.AttemptNumber,
			&a.MaxRetries,
			&a.ScheduledAt,
			&a.SentAt,
			&providerID,
			&a.ResponseCode,
			&a.ErrorMessage,
			&a.NextRetryAt,
			&a.CreatedAt,
			&a.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan attempt: %w", err)
		}
		if providerID != nil {
			a.ProviderMessageID = *providerID
		}
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}
