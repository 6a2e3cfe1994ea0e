package domain

import "time"

// ChannelPreference holds one user's delivery settings for one notification
// type. Exactly one active row exists per (user, type); absence means
// DefaultPreference. The delivery subsystem only reads these rows; they are
// mutated through the user-facing preference APIs.
type ChannelPreference struct {
	UserID           string           `json:"user_id"`
	NotificationType NotificationType `json:"notification_type"`
	EmailEnabled     bool             `json:"email_enabled"`
	SMSEnabled       bool             `json:"sms_enabled"`
	PushEnabled      bool             `json:"push_enabled"`
	InAppEnabled     bool             `json:"in_app_enabled"`
	QuietHoursStart  string           `json:"quiet_hours_start,omitempty"` // "HH:MM", empty = no quiet hours
	QuietHoursEnd    string           `json:"quiet_hours_end,omitempty"`   // "HH:MM"
	TimeZone         string           `json:"time_zone,omitempty"`         // IANA name, defaults to UTC
	MinimumPriority  Priority         `json:"minimum_priority"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// DefaultPreference returns the system default used when a user has no stored
// preference row: everything enabled, Normal minimum, no quiet hours.
func DefaultPreference(userID string, notifType NotificationType) ChannelPreference {
	return ChannelPreference{
		UserID:           userID,
		NotificationType: notifType,
		EmailEnabled:     true,
		SMSEnabled:       true,
		PushEnabled:      true,
		InAppEnabled:     true,
		MinimumPriority:  PriorityNormal,
		TimeZone:         "UTC",
	}
}

// HasQuietHours reports whether a quiet-hours window is configured.
func (p ChannelPreference) HasQuietHours() bool {
	return p.QuietHoursStart != "" && p.QuietHoursEnd != ""
}
