package preferences

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/reportflow/notifier/internal/domain"
	"github.com/reportflow/notifier/internal/pkg/ctxlog"
)

// Suppression reasons recorded against suppressed delivery attempts.
const (
	ReasonQuietHours      = "quiet_hours"
	ReasonBelowMinimum    = "below_minimum_priority"
	ReasonChannelDisabled = "channel_disabled"
)

// Suppression is one channel held back from delivery, with the reason.
type Suppression struct {
	Channel domain.Channel
	Reason  string
}

// Resolution is the outcome of preference resolution for one (event, user)
// pair. Channels holds the personal channels cleared for delivery; Targets
// holds the webhook-style endpoints to dispatch to. An empty resolution is a
// valid outcome, not an error.
type Resolution struct {
	Preference domain.ChannelPreference
	Recipient  domain.Recipient
	Channels   []domain.Channel
	Targets    []domain.ChannelTarget
	Suppressed []Suppression
}

// Empty reports whether nothing will be delivered.
func (r Resolution) Empty() bool {
	return len(r.Channels) == 0 && len(r.Targets) == 0
}

// Resolver applies stored preferences to events.
type Resolver struct {
	repo Repository
}

// NewResolver creates a resolver backed by the given repository.
func NewResolver(repo Repository) *Resolver {
	return &Resolver{repo: repo}
}

// Resolve determines the channel set for one notification. A missing
// preference row falls back to the system default. Personal channels are
// enabled iff their flag is set AND the event priority meets the user's
// minimum; quiet hours suppress them unless the priority is critical.
// Webhook-style targets are machine endpoints and ignore quiet hours.
func (r *Resolver) Resolve(ctx context.Context, userID string, notifType domain.NotificationType, priority domain.Priority, now time.Time) (Resolution, error) {
	pref, err := r.repo.GetPreference(ctx, userID, notifType)
	if errors.Is(err, ErrPreferenceNotFound) {
		pref = domain.DefaultPreference(userID, notifType)
	} else if err != nil {
		return Resolution{}, fmt.Errorf("load preference for user %s: %w", userID, err)
	}

	res := Resolution{Preference: pref}

	quiet := priority < domain.PriorityCritical && inQuietHours(ctx, pref, now)

	personal := []struct {
		channel domain.Channel
		enabled bool
	}{
		{domain.ChannelEmail, pref.EmailEnabled},
		{domain.ChannelSMS, pref.SMSEnabled},
		{domain.ChannelPush, pref.PushEnabled},
	}
	for _, c := range personal {
		switch {
		case !c.enabled:
			res.Suppressed = append(res.Suppressed, Suppression{Channel: c.channel, Reason: ReasonChannelDisabled})
		case priority < pref.MinimumPriority:
			res.Suppressed = append(res.Suppressed, Suppression{Channel: c.channel, Reason: ReasonBelowMinimum})
		case quiet:
			res.Suppressed = append(res.Suppressed, Suppression{Channel: c.channel, Reason: ReasonQuietHours})
		default:
			res.Channels = append(res.Channels, c.channel)
		}
	}

	targets, err := r.repo.ListTargets(ctx, userID)
	if err != nil {
		return Resolution{}, fmt.Errorf("list targets for user %s: %w", userID, err)
	}
	for _, t := range targets {
		if t.IsActive && t.AcceptsType(notifType) {
			res.Targets = append(res.Targets, t)
		}
	}

	recipient, err := r.repo.GetRecipient(ctx, userID)
	if errors.Is(err, ErrRecipientNotFound) {
		recipient = domain.Recipient{UserID: userID}
	} else if err != nil {
		return Resolution{}, fmt.Errorf("load recipient %s: %w", userID, err)
	}
	res.Recipient = recipient

	return res, nil
}

// inQuietHours evaluates the quiet-hours window in the preference's time
// zone. The window is [start, end) and may wrap across midnight. Malformed
// configuration fails open so delivery is never blocked by a bad row.
func inQuietHours(ctx context.Context, pref domain.ChannelPreference, now time.Time) bool {
	if !pref.HasQuietHours() {
		return false
	}

	start, err := parseClock(pref.QuietHoursStart)
	if err != nil {
		ctxlog.FromContext(ctx).Warn("invalid quiet hours start, ignoring window",
			"user_id", pref.UserID, "value", pref.QuietHoursStart)
		return false
	}
	end, err := parseClock(pref.QuietHoursEnd)
	if err != nil {
		ctxlog.FromContext(ctx).Warn("invalid quiet hours end, ignoring window",
			"user_id", pref.UserID, "value", pref.QuietHoursEnd)
		return false
	}
	if start == end {
		return false
	}

	loc := time.UTC
	if pref.TimeZone != "" {
		if l, err := time.LoadLocation(pref.TimeZone); err == nil {
			loc = l
		} else {
			ctxlog.FromContext(ctx).Warn("unknown time zone, using UTC",
				"user_id", pref.UserID, "time_zone", pref.TimeZone)
		}
	}

	local := now.In(loc)
	minute := local.Hour()*60 + local.Minute()

	if start < end {
		return minute >= start && minute < end
	}
	// window wraps midnight, e.g. 22:00 to 06:00
	return minute >= start || minute < end
}

// parseClock converts "HH:MM" to minutes since midnight.
func parseClock(s string) (int, error) {
	hh, mm, ok := strings.Cut(s, ":")
	if !ok {
		return 0, fmt.Errorf("malformed clock value %q", s)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("malformed hour in %q", s)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("malformed minute in %q", s)
	}
	return h*60 + m, nil
}
