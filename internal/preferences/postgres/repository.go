// Package postgres provides the PostgreSQL implementation of the preferences
// repository.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/reportflow/notifier/internal/domain"
	"github.com/reportflow/notifier/internal/preferences"
)

// Repository implements preferences.Repository using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// GetPreference retrieves the stored preference row for one (user, type) pair.
func (r *Repository) GetPreference(ctx context.Context, userID string, notifType domain.NotificationType) (domain.ChannelPreference, error) {
	query := `
		SELECT
			user_id, notification_type, email_enabled, sms_enabled,
			push_enabled, in_app_enabled, quiet_hours_start, quiet_hours_end,
			time_zone, minimum_priority, updated_at
		FROM channel_preferences
		WHERE user_id = $1 AND notification_type = $2
	`
	var (
		pref     domain.ChannelPreference
		priority string
	)
	err := r.db.QueryRow(ctx, query, userID, notifType).Scan(
		&pref.UserID,
		&pref.NotificationType,
		&pref.EmailEnabled,
		&pref.SMSEnabled,
		&pref.PushEnabled,
		&pref.InAppEnabled,
		&pref.QuietHoursStart,
		&pref.QuietHoursEnd,
		&pref.TimeZone,
		&priority,
		&pref.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ChannelPreference{}, preferences.ErrPreferenceNotFound
		}
		return domain.ChannelPreference{}, fmt.Errorf("get preference: %w", err)
	}

	pref.MinimumPriority, err = domain.ParsePriority(priority)
	if err != nil {
		return domain.ChannelPreference{}, fmt.Errorf("get preference: %w", err)
	}
	return pref, nil
}

// ListTargets retrieves all channel targets configured for a user, active or
// not. Filtering by activity and notification type happens in the resolver.
func (r *Repository) ListTargets(ctx context.Context, userID string) ([]domain.ChannelTarget, error) {
	query := `
		SELECT
			id, user_id, channel, name, webhook_url, secret_key,
			enabled_types, timeout_seconds, max_retries, is_active,
			created_at, updated_at
		FROM channel_targets
		WHERE user_id = $1
		ORDER BY created_at
	`
	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("list targets: %w", err)
	}
	defer rows.Close()

	targets := make([]domain.ChannelTarget, 0)
	for rows.Next() {
		var (
			t     domain.ChannelTarget
			types []string
		)
		err := rows.Scan(
			&t.ID,
			&t.UserID,
			&t.Channel,
			&t.Name,
			&t.WebhookURL,
			&t.SecretKey,
			&types,
			&t.TimeoutSeconds,
			&t.MaxRetries,
			&t.IsActive,
			&t.CreatedAt,
			&t.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan target: %w", err)
		}
		for _, nt := range types {
			t.EnabledTypes = append(t.EnabledTypes, domain.NotificationType(nt))
		}
		targets = append(targets, t)
	}

	return targets, rows.Err()
}

// GetRecipient retrieves a user's contact profile.
func (r *Repository) GetRecipient(ctx context.Context, userID string) (domain.Recipient, error) {
	query := `
		SELECT user_id, email, phone_number, device_tokens
		FROM recipient_profiles
		WHERE user_id = $1
	`
	var rec domain.Recipient
	err := r.db.QueryRow(ctx, query, userID).Scan(
		&rec.UserID,
		&rec.Email,
		&rec.PhoneNumber,
		&rec.DeviceTokens,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Recipient{}, preferences.ErrRecipientNotFound
		}
		return domain.Recipient{}, fmt.Errorf("get recipient: %w", err)
	}
	return rec, nil
}
