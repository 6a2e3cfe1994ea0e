// Package preferences resolves which channels a notification event is
// allowed to reach for a given user, applying per-type preferences, minimum
// priority and quiet hours.
package preferences

import (
	"context"
	"errors"

	"github.com/reportflow/notifier/internal/domain"
)

// Repository errors.
var (
	// ErrPreferenceNotFound indicates no stored preference row exists for the
	// (user, notification type) pair. The resolver substitutes the default.
	ErrPreferenceNotFound = errors.New("preference not found")

	// ErrRecipientNotFound indicates the user has no contact profile.
	ErrRecipientNotFound = errors.New("recipient not found")
)

// Repository provides read access to preference and target configuration.
// Rows are owned by the user-facing settings APIs; this subsystem never
// writes them.
type Repository interface {
	GetPreference(ctx context.Context, userID string, notifType domain.NotificationType) (domain.ChannelPreference, error)
	ListTargets(ctx context.Context, userID string) ([]domain.ChannelTarget, error)
	GetRecipient(ctx context.Context, userID string) (domain.Recipient, error)
}
