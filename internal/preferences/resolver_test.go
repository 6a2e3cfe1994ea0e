package preferences

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reportflow/notifier/internal/domain"
)

type fakeRepo struct {
	pref    *domain.ChannelPreference
	prefErr error
	targets []domain.ChannelTarget
}

func (f *fakeRepo) GetPreference(_ context.Context, userID string, notifType domain.NotificationType) (domain.ChannelPreference, error) {
	if f.prefErr != nil {
		return domain.ChannelPreference{}, f.prefErr
	}
	if f.pref == nil {
		return domain.ChannelPreference{}, ErrPreferenceNotFound
	}
	return *f.pref, nil
}

func (f *fakeRepo) ListTargets(_ context.Context, userID string) ([]domain.ChannelTarget, error) {
	return f.targets, nil
}

func (f *fakeRepo) GetRecipient(_ context.Context, userID string) (domain.Recipient, error) {
	return domain.Recipient{
		UserID:       userID,
		Email:        userID + "@reportflow.example",
		PhoneNumber:  "+15550100",
		DeviceTokens: []string{"device-" + userID},
	}, nil
}

func noon() time.Time {
	return time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
}

func TestResolveDefaultsWhenNoPreferenceRow(t *testing.T) {
	r := NewResolver(&fakeRepo{})

	res, err := r.Resolve(context.Background(), "user-1", domain.TypeReportSubmitted, domain.PriorityNormal, noon())
	require.NoError(t, err)

	assert.ElementsMatch(t,
		[]domain.Channel{domain.ChannelEmail, domain.ChannelSMS, domain.ChannelPush},
		res.Channels)
	assert.Empty(t, res.Suppressed)
	assert.False(t, res.Empty())
}

func TestResolveDisabledChannels(t *testing.T) {
	pref := domain.DefaultPreference("user-1", domain.TypeReportSubmitted)
	pref.SMSEnabled = false
	pref.PushEnabled = false
	r := NewResolver(&fakeRepo{pref: &pref})

	res, err := r.Resolve(context.Background(), "user-1", domain.TypeReportSubmitted, domain.PriorityNormal, noon())
	require.NoError(t, err)

	assert.Equal(t, []domain.Channel{domain.ChannelEmail}, res.Channels)
	assert.ElementsMatch(t, []Suppression{
		{Channel: domain.ChannelSMS, Reason: ReasonChannelDisabled},
		{Channel: domain.ChannelPush, Reason: ReasonChannelDisabled},
	}, res.Suppressed)
}

func TestResolveMinimumPriority(t *testing.T) {
	pref := domain.DefaultPreference("user-1", domain.TypeBroadcastAlert)
	pref.MinimumPriority = domain.PriorityHigh
	r := NewResolver(&fakeRepo{pref: &pref})

	res, err := r.Resolve(context.Background(), "user-1", domain.TypeBroadcastAlert, domain.PriorityNormal, noon())
	require.NoError(t, err)
	assert.Empty(t, res.Channels)
	assert.True(t, res.Empty())
	for _, s := range res.Suppressed {
		assert.Equal(t, ReasonBelowMinimum, s.Reason)
	}

	res, err = r.Resolve(context.Background(), "user-1", domain.TypeBroadcastAlert, domain.PriorityHigh, noon())
	require.NoError(t, err)
	assert.Len(t, res.Channels, 3)
}

func TestResolveQuietHoursOvernightWindow(t *testing.T) {
	pref := domain.DefaultPreference("user-1", domain.TypeReportApproved)
	pref.QuietHoursStart = "22:00"
	pref.QuietHoursEnd = "06:00"
	r := NewResolver(&fakeRepo{pref: &pref})

	cases := []struct {
		name       string
		at         time.Time
		suppressed bool
	}{
		{"before window", time.Date(2025, 6, 2, 21, 59, 0, 0, time.UTC), false},
		{"window start", time.Date(2025, 6, 2, 22, 0, 0, 0, time.UTC), true},
		{"middle of night", time.Date(2025, 6, 3, 2, 30, 0, 0, time.UTC), true},
		{"last minute", time.Date(2025, 6, 3, 5, 59, 0, 0, time.UTC), true},
		{"window end", time.Date(2025, 6, 3, 6, 0, 0, 0, time.UTC), false},
		{"midday", time.Date(2025, 6, 3, 12, 0, 0, 0, time.UTC), false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := r.Resolve(context.Background(), "user-1", domain.TypeReportApproved, domain.PriorityNormal, tc.at)
			require.NoError(t, err)
			if tc.suppressed {
				assert.Empty(t, res.Channels)
				require.NotEmpty(t, res.Suppressed)
				assert.Equal(t, ReasonQuietHours, res.Suppressed[0].Reason)
			} else {
				assert.Len(t, res.Channels, 3)
			}
		})
	}
}

func TestResolveCriticalBypassesQuietHours(t *testing.T) {
	pref := domain.DefaultPreference("user-1", domain.TypeBroadcastAlert)
	pref.QuietHoursStart = "22:00"
	pref.QuietHoursEnd = "06:00"
	r := NewResolver(&fakeRepo{pref: &pref})

	midnight := time.Date(2025, 6, 3, 0, 0, 0, 0, time.UTC)
	res, err := r.Resolve(context.Background(), "user-1", domain.TypeBroadcastAlert, domain.PriorityCritical, midnight)
	require.NoError(t, err)

	assert.Len(t, res.Channels, 3)
	assert.Empty(t, res.Suppressed)
}

func TestResolveQuietHoursRespectTimeZone(t *testing.T) {
	pref := domain.DefaultPreference("user-1", domain.TypeReportSubmitted)
	pref.QuietHoursStart = "22:00"
	pref.QuietHoursEnd = "06:00"
	pref.TimeZone = "America/New_York"
	r := NewResolver(&fakeRepo{pref: &pref})

	// 03:00 UTC on June 3 is 23:00 EDT on June 2: inside the window.
	inWindow := time.Date(2025, 6, 3, 3, 0, 0, 0, time.UTC)
	res, err := r.Resolve(context.Background(), "user-1", domain.TypeReportSubmitted, domain.PriorityNormal, inWindow)
	require.NoError(t, err)
	assert.Empty(t, res.Channels)

	// 15:00 UTC is 11:00 EDT: outside.
	outside := time.Date(2025, 6, 3, 15, 0, 0, 0, time.UTC)
	res, err = r.Resolve(context.Background(), "user-1", domain.TypeReportSubmitted, domain.PriorityNormal, outside)
	require.NoError(t, err)
	assert.Len(t, res.Channels, 3)
}

func TestResolveMalformedQuietHoursFailOpen(t *testing.T) {
	pref := domain.DefaultPreference("user-1", domain.TypeReportSubmitted)
	pref.QuietHoursStart = "25:99"
	pref.QuietHoursEnd = "06:00"
	r := NewResolver(&fakeRepo{pref: &pref})

	res, err := r.Resolve(context.Background(), "user-1", domain.TypeReportSubmitted, domain.PriorityNormal, noon())
	require.NoError(t, err)
	assert.Len(t, res.Channels, 3)
}

func TestResolveTargetFiltering(t *testing.T) {
	targets := []domain.ChannelTarget{
		{ID: "t1", Channel: domain.ChannelSlack, IsActive: true},
		{ID: "t2", Channel: domain.ChannelWebhook, IsActive: false},
		{ID: "t3", Channel: domain.ChannelTeams, IsActive: true,
			EnabledTypes: []domain.NotificationType{domain.TypeDeadlineDue}},
		{ID: "t4", Channel: domain.ChannelWebhook, IsActive: true,
			EnabledTypes: []domain.NotificationType{domain.TypeReportSubmitted, domain.TypeReportApproved}},
	}
	r := NewResolver(&fakeRepo{targets: targets})

	res, err := r.Resolve(context.Background(), "user-1", domain.TypeReportSubmitted, domain.PriorityNormal, noon())
	require.NoError(t, err)

	ids := make([]string, 0, len(res.Targets))
	for _, tgt := range res.Targets {
		ids = append(ids, tgt.ID)
	}
	assert.ElementsMatch(t, []string{"t1", "t4"}, ids)
}

func TestResolveTargetsIgnoreQuietHours(t *testing.T) {
	pref := domain.DefaultPreference("user-1", domain.TypeReportSubmitted)
	pref.QuietHoursStart = "22:00"
	pref.QuietHoursEnd = "06:00"
	r := NewResolver(&fakeRepo{
		pref:    &pref,
		targets: []domain.ChannelTarget{{ID: "t1", Channel: domain.ChannelWebhook, IsActive: true}},
	})

	midnight := time.Date(2025, 6, 3, 0, 0, 0, 0, time.UTC)
	res, err := r.Resolve(context.Background(), "user-1", domain.TypeReportSubmitted, domain.PriorityNormal, midnight)
	require.NoError(t, err)

	assert.Empty(t, res.Channels)
	require.Len(t, res.Targets, 1)
	assert.Equal(t, "t1", res.Targets[0].ID)
}

func TestParseClock(t *testing.T) {
	m, err := parseClock("22:30")
	require.NoError(t, err)
	assert.Equal(t, 22*60+30, m)

	for _, bad := range []string{"", "22", "2230", "aa:bb", "24:00", "10:60"} {
		_, err := parseClock(bad)
		assert.Error(t, err, bad)
	}
}
