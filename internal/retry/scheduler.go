package retry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/reportflow/notifier/internal/delivery"
	"github.com/reportflow/notifier/internal/domain"
	"github.com/reportflow/notifier/internal/history"
	"github.com/reportflow/notifier/internal/pkg/ctxlog"
	"github.com/reportflow/notifier/internal/preferences"
	"github.com/reportflow/notifier/internal/render"
)

// Config contains scheduler configuration.
type Config struct {
	PollInterval time.Duration
	// ClaimLease is how long a claimed attempt stays invisible to other
	// workers before it becomes claimable again after a crash. Must exceed
	// the slowest dispatcher timeout.
	ClaimLease time.Duration
	BatchSize  int
	NumWorkers int
	Backoff    Backoff
}

// DefaultConfig returns default scheduler configuration.
func DefaultConfig() Config {
	return Config{
		PollInterval: 5 * time.Second,
		ClaimLease:   2 * time.Minute,
		BatchSize:    100,
		NumWorkers:   5,
		Backoff:      DefaultBackoff(),
	}
}

// Scheduler drives retries from the attempt table. Workers claim due rows
// and re-invoke the single dispatcher for that channel; preferences are not
// re-resolved, so a revoked preference never cancels an in-flight retry.
// It also implements delivery.FailurePolicy, deciding retry vs. exhaustion
// for failures reported by the coordinator.
type Scheduler struct {
	config   Config
	store    history.Store
	registry *delivery.Registry
	renderer *render.Renderer
	prefs    preferences.Repository

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewScheduler creates a retry scheduler.
func NewScheduler(config Config, store history.Store, registry *delivery.Registry, renderer *render.Renderer, prefs preferences.Repository) *Scheduler {
	def := DefaultConfig()
	if config.PollInterval <= 0 {
		config.PollInterval = def.PollInterval
	}
	if config.ClaimLease <= 0 {
		config.ClaimLease = def.ClaimLease
	}
	if config.BatchSize <= 0 {
		config.BatchSize = def.BatchSize
	}
	if config.NumWorkers <= 0 {
		config.NumWorkers = def.NumWorkers
	}
	if config.Backoff.Initial <= 0 {
		config.Backoff = def.Backoff
	}

	return &Scheduler{
		config:   config,
		store:    store,
		registry: registry,
		renderer: renderer,
		prefs:    prefs,
		stopCh:   make(chan struct{}),
	}
}

// HandleFailure records one failed send: a retryable failure inside the
// budget is scheduled with backoff, exceeding the budget exhausts the
// attempt, and a terminal failure is final immediately. Returns the status
// the attempt ended in.
func (s *Scheduler) HandleFailure(ctx context.Context, attempt domain.DeliveryAttempt, out delivery.Outcome) (domain.AttemptStatus, error) {
	if !out.Retryable {
		if err := s.store.MarkFailed(ctx, attempt.ID, out.StatusCode, out.ErrorMessage); err != nil {
			return "", fmt.Errorf("mark failed: %w", err)
		}
		return domain.AttemptFailed, nil
	}

	if attempt.AttemptNumber >= attempt.MaxRetries {
		msg := fmt.Sprintf("retry budget of %d exhausted: %s", attempt.MaxRetries, out.ErrorMessage)
		if err := s.store.MarkExhausted(ctx, attempt.ID, out.StatusCode, msg); err != nil {
			return "", fmt.Errorf("mark exhausted: %w", err)
		}
		return domain.AttemptExhausted, nil
	}

	next := time.Now().Add(s.config.Backoff.Delay(attempt.AttemptNumber + 1))
	if err := s.store.ScheduleRetry(ctx, attempt.ID, out.StatusCode, out.ErrorMessage, next); err != nil {
		return "", fmt.Errorf("schedule retry: %w", err)
	}
	return domain.AttemptRetrying, nil
}

// Start launches the worker pool.
func (s *Scheduler) Start(ctx context.Context) {
	ctxlog.FromContext(ctx).Info("starting retry scheduler",
		"workers", s.config.NumWorkers,
		"batch_size", s.config.BatchSize,
		"poll_interval", s.config.PollInterval,
	)

	for i := 0; i < s.config.NumWorkers; i++ {
		s.wg.Add(1)
		go s.run(ctx, i)
	}
}

// Stop gracefully stops all workers.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

func (s *Scheduler) run(ctx context.Context, workerID int) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.processBatch(ctx, workerID)
		}
	}
}

func (s *Scheduler) processBatch(ctx context.Context, workerID int) {
	log := ctxlog.FromContext(ctx)

	attempts, err := s.store.ClaimDue(ctx, time.Now(), s.config.ClaimLease, s.config.BatchSize)
	if err != nil {
		log.Error("claim due attempts", "worker", workerID, "error", err)
		return
	}
	if len(attempts) == 0 {
		return
	}

	log.Debug("processing due retries", "worker", workerID, "count", len(attempts))
	recordClaimed(len(attempts))

	for _, attempt := range attempts {
		s.Process(ctx, attempt)
	}
}

// Process re-dispatches one claimed attempt.
func (s *Scheduler) Process(ctx context.Context, attempt domain.DeliveryAttempt) {
	log := ctxlog.FromContext(ctx)

	event, err := s.store.GetEvent(ctx, attempt.EventID)
	if err != nil {
		log.Error("event missing for retry", "attempt_id", attempt.ID, "event_id", attempt.EventID, "error", err)
		s.failTerminal(ctx, attempt, "event no longer available")
		return
	}

	dispatcher, ok := s.registry.Get(attempt.Channel)
	if !ok {
		s.failTerminal(ctx, attempt, "no dispatcher for channel "+string(attempt.Channel))
		return
	}

	target, ok := s.buildTarget(ctx, attempt, event)
	if !ok {
		return
	}

	msg, err := s.renderer.Render(attempt.Channel, event, nil)
	if err != nil {
		s.failTerminal(ctx, attempt, err.Error())
		return
	}

	out := dispatcher.Send(ctx, msg, target)
	if out.Success {
		if err := s.store.MarkSent(ctx, attempt.ID, out.ProviderMessageID, out.StatusCode); err != nil {
			log.Error("mark retried attempt sent", "attempt_id", attempt.ID, "error", err)
		}
		recordRetry(attempt.Channel, "sent")
		log.Info("retry delivered",
			"attempt_id", attempt.ID,
			"channel", attempt.Channel,
			"attempt_number", attempt.AttemptNumber,
		)
		return
	}

	status, err := s.HandleFailure(ctx, attempt, out)
	if err != nil {
		log.Error("handle retry failure", "attempt_id", attempt.ID, "error", err)
		return
	}
	recordRetry(attempt.Channel, string(status))
}

// buildTarget reconstructs the dispatch target from the attempt's reference.
// Personal channels store the address directly; webhook channels store the
// ChannelTarget ID. A deleted target ends the attempt; a merely deactivated
// one does not cancel a retry already in flight.
func (s *Scheduler) buildTarget(ctx context.Context, attempt domain.DeliveryAttempt, event domain.NotificationEvent) (delivery.Target, bool) {
	target := delivery.Target{
		Ref:       attempt.TargetRef,
		AttemptID: attempt.ID,
		EventType: event.Type,
	}

	isTargetChannel := false
	for _, ch := range domain.TargetChannels {
		if ch == attempt.Channel {
			isTargetChannel = true
			break
		}
	}

	if !isTargetChannel {
		target.Address = attempt.TargetRef
		return target, true
	}

	targets, err := s.prefs.ListTargets(ctx, event.RecipientID)
	if err != nil {
		ctxlog.FromContext(ctx).Error("load targets for retry", "attempt_id", attempt.ID, "error", err)
		// transient: leave the attempt claimed, the next poll retries it
		next := time.Now().Add(s.config.Backoff.Delay(attempt.AttemptNumber + 1))
		if schedErr := s.store.ScheduleRetry(ctx, attempt.ID, 0, "target lookup failed: "+err.Error(), next); schedErr != nil {
			ctxlog.FromContext(ctx).Error("reschedule after lookup failure", "attempt_id", attempt.ID, "error", schedErr)
		}
		return delivery.Target{}, false
	}

	for _, t := range targets {
		if t.ID == attempt.TargetRef {
			target.Address = t.WebhookURL
			target.Secret = t.SecretKey
			target.Timeout = t.Timeout()
			return target, true
		}
	}

	s.failTerminal(ctx, attempt, "channel target removed")
	return delivery.Target{}, false
}

func (s *Scheduler) failTerminal(ctx context.Context, attempt domain.DeliveryAttempt, reason string) {
	if err := s.store.MarkFailed(ctx, attempt.ID, 0, reason); err != nil {
		ctxlog.FromContext(ctx).Error("mark attempt failed", "attempt_id", attempt.ID, "error", err)
	}
	recordRetry(attempt.Channel, "failed")
}
