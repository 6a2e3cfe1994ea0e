//go:build integration

package postgres

import (
	"context"
	"log"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reportflow/notifier/internal/domain"
	"github.com/reportflow/notifier/internal/history"
	pgutil "github.com/reportflow/notifier/internal/pkg/postgres"
	"github.com/reportflow/notifier/internal/testutil"
	"github.com/reportflow/notifier/migrations"
)

var testDB *pgxpool.Pool

func TestMain(m *testing.M) {
	ctx := context.Background()

	container, err := testutil.NewPostgresContainer(ctx)
	if err != nil {
		log.Fatalf("start postgres: %v", err)
	}
	defer func() {
		if err := container.Terminate(ctx); err != nil {
			log.Printf("terminate postgres: %v", err)
		}
	}()

	if err := pgutil.Migrate(migrations.FS, ".", container.ConnectionString); err != nil {
		log.Fatalf("run migrations: %v", err)
	}

	testDB, err = pgxpool.New(ctx, container.ConnectionString)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer testDB.Close()

	os.Exit(m.Run())
}

func seedEvent(t *testing.T, store *Store) domain.NotificationEvent {
	t.Helper()

	event := domain.NotificationEvent{
		ID:          uuid.NewString(),
		Type:        domain.TypeReportSubmitted,
		Priority:    domain.PriorityHigh,
		Title:       "Expense report submitted",
		Message:     "Q3 travel expenses are ready for review",
		RecipientID: "user-" + uuid.NewString(),
		ActionURL:   "https://reportflow.example.com/reports/42",
		Metadata:    map[string]string{"report_id": "42"},
		CreatedAt:   time.Now().UTC().Truncate(time.Millisecond),
	}
	require.NoError(t, store.SaveEvent(context.Background(), event))
	return event
}

func seedAttempt(t *testing.T, store *Store, eventID string, status domain.AttemptStatus) domain.DeliveryAttempt {
	t.Helper()

	attempt := domain.DeliveryAttempt{
		EventID:     eventID,
		Channel:     domain.ChannelEmail,
		TargetRef:   "user@example.com",
		Status:      domain.AttemptPending,
		MaxRetries:  3,
		ScheduledAt: time.Now().UTC(),
	}
	require.NoError(t, store.CreateAttempt(context.Background(), &attempt))

	switch status {
	case domain.AttemptPending:
	case domain.AttemptFailed:
		require.NoError(t, store.MarkFailed(context.Background(), attempt.ID, 422, "rejected"))
	case domain.AttemptExhausted:
		require.NoError(t, store.MarkExhausted(context.Background(), attempt.ID, 503, "gave up"))
	case domain.AttemptRetrying:
		require.NoError(t, store.ScheduleRetry(context.Background(), attempt.ID, 503, "busy", time.Now().Add(-time.Minute)))
	default:
		t.Fatalf("unsupported seed status %s", status)
	}

	got, err := store.GetAttempt(context.Background(), attempt.ID)
	require.NoError(t, err)
	return got
}

func TestSaveEventIdempotent(t *testing.T) {
	store := NewStore(testDB)
	event := seedEvent(t, store)

	changed := event
	changed.Title = "changed title"
	require.NoError(t, store.SaveEvent(context.Background(), changed))

	got, err := store.GetEvent(context.Background(), event.ID)
	require.NoError(t, err)
	assert.Equal(t, event.Title, got.Title)
	assert.Equal(t, domain.PriorityHigh, got.Priority)
	assert.Equal(t, map[string]string{"report_id": "42"}, got.Metadata)
}

func TestGetEventNotFound(t *testing.T) {
	store := NewStore(testDB)

	_, err := store.GetEvent(context.Background(), uuid.NewString())
	assert.ErrorIs(t, err, history.ErrEventNotFound)
}

func TestAttemptLifecycle(t *testing.T) {
	store := NewStore(testDB)
	event := seedEvent(t, store)
	attempt := seedAttempt(t, store, event.ID, domain.AttemptPending)

	require.NotEmpty(t, attempt.ID)
	assert.Equal(t, domain.AttemptPending, attempt.Status)

	next := time.Now().Add(2 * time.Second)
	require.NoError(t, store.ScheduleRetry(context.Background(), attempt.ID, 503, "provider returned 503", next))

	got, err := store.GetAttempt(context.Background(), attempt.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AttemptRetrying, got.Status)
	assert.Equal(t, 1, got.AttemptNumber)
	require.NotNil(t, got.NextRetryAt)

	require.NoError(t, store.MarkSent(context.Background(), attempt.ID, "msg-99", 250))

	got, err = store.GetAttempt(context.Background(), attempt.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AttemptSent, got.Status)
	assert.Equal(t, "msg-99", got.ProviderMessageID)
	assert.NotNil(t, got.SentAt)
	assert.Nil(t, got.NextRetryAt)
}

func TestMarkUnknownAttempt(t *testing.T) {
	store := NewStore(testDB)

	err := store.MarkSent(context.Background(), uuid.NewString(), "", 200)
	assert.ErrorIs(t, err, history.ErrAttemptNotFound)
}

func TestClaimDueLeasesOnlyDueRetrying(t *testing.T) {
	store := NewStore(testDB)
	event := seedEvent(t, store)

	due := seedAttempt(t, store, event.ID, domain.AttemptRetrying)
	pending := seedAttempt(t, store, event.ID, domain.AttemptPending)

	future := seedAttempt(t, store, event.ID, domain.AttemptPending)
	require.NoError(t, store.ScheduleRetry(context.Background(), future.ID, 503, "busy", time.Now().Add(time.Hour)))

	lease := time.Minute
	claimed, err := store.ClaimDue(context.Background(), time.Now(), lease, 100)
	require.NoError(t, err)

	ids := make(map[string]bool)
	for _, a := range claimed {
		ids[a.ID] = true
		assert.Equal(t, domain.AttemptRetrying, a.Status)
		require.NotNil(t, a.NextRetryAt)
		assert.True(t, a.NextRetryAt.After(time.Now()))
	}
	assert.True(t, ids[due.ID])
	assert.False(t, ids[pending.ID])
	assert.False(t, ids[future.ID])

	// inside the lease a second claim finds nothing new for this attempt
	claimed, err = store.ClaimDue(context.Background(), time.Now(), lease, 100)
	require.NoError(t, err)
	for _, a := range claimed {
		assert.NotEqual(t, due.ID, a.ID)
	}

	// after the lease expires the attempt is claimable again, so a worker
	// crash between claim and outcome cannot strand it
	claimed, err = store.ClaimDue(context.Background(), time.Now().Add(lease+time.Second), lease, 100)
	require.NoError(t, err)
	ids = make(map[string]bool)
	for _, a := range claimed {
		ids[a.ID] = true
	}
	assert.True(t, ids[due.ID])
}

func TestRequeueAttempts(t *testing.T) {
	store := NewStore(testDB)
	event := seedEvent(t, store)

	failed := seedAttempt(t, store, event.ID, domain.AttemptFailed)
	exhausted := seedAttempt(t, store, event.ID, domain.AttemptExhausted)
	pending := seedAttempt(t, store, event.ID, domain.AttemptPending)

	requeued, err := store.RequeueAttempts(context.Background(),
		[]string{failed.ID, exhausted.ID, pending.ID, uuid.NewString()})
	require.NoError(t, err)
	require.Len(t, requeued, 2)

	for _, a := range requeued {
		assert.Equal(t, domain.AttemptRetrying, a.Status)
		assert.Equal(t, 0, a.AttemptNumber)
		assert.NotNil(t, a.NextRetryAt)
	}

	got, err := store.GetAttempt(context.Background(), pending.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.AttemptPending, got.Status)
}

func TestListAttemptsFilters(t *testing.T) {
	store := NewStore(testDB)
	event := seedEvent(t, store)

	seedAttempt(t, store, event.ID, domain.AttemptFailed)
	seedAttempt(t, store, event.ID, domain.AttemptPending)

	attempts, err := store.ListAttempts(context.Background(), history.Filters{
		EventID:  event.ID,
		Statuses: []domain.AttemptStatus{domain.AttemptFailed},
	})
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.Equal(t, domain.AttemptFailed, attempts[0].Status)

	attempts, err = store.ListAttempts(context.Background(), history.Filters{
		EventID: event.ID,
		Channel: domain.ChannelSMS,
	})
	require.NoError(t, err)
	assert.Empty(t, attempts)

	attempts, err = store.ListAttempts(context.Background(), history.Filters{
		EventID: event.ID,
		Limit:   1,
	})
	require.NoError(t, err)
	assert.Len(t, attempts, 1)
}

func TestCountByStatus(t *testing.T) {
	store := NewStore(testDB)
	event := seedEvent(t, store)
	seedAttempt(t, store, event.ID, domain.AttemptPending)

	counts, err := store.CountByStatus(context.Background())
	require.NoError(t, err)
	assert.GreaterOrEqual(t, counts[domain.AttemptPending], 1)
}
