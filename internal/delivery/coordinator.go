package delivery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/reportflow/notifier/internal/domain"
	"github.com/reportflow/notifier/internal/history"
	"github.com/reportflow/notifier/internal/pkg/ctxlog"
	"github.com/reportflow/notifier/internal/preferences"
	"github.com/reportflow/notifier/internal/render"
)

// FailurePolicy decides what happens to a failed attempt: schedule a retry,
// mark it terminally failed or exhaust it. Implemented by the retry
// scheduler, which owns all post-insert status transitions.
type FailurePolicy interface {
	HandleFailure(ctx context.Context, attempt domain.DeliveryAttempt, out Outcome) (domain.AttemptStatus, error)
}

// Deduper suppresses double-sends of the same (event, channel, target) when
// an upstream producer redelivers an event. Implementations fail open.
type Deduper interface {
	FirstDelivery(ctx context.Context, eventID string, ch domain.Channel, targetRef string) bool
}

// Summary reports what one dispatch did across all channels.
type Summary struct {
	EventID    string `json:"event_id"`
	Total      int    `json:"total"`
	Sent       int    `json:"sent"`
	Failed     int    `json:"failed"`
	Retrying   int    `json:"retrying"`
	Suppressed int    `json:"suppressed"`
}

func (s *Summary) add(other Summary) {
	s.Total += other.Total
	s.Sent += other.Sent
	s.Failed += other.Failed
	s.Retrying += other.Retrying
	s.Suppressed += other.Suppressed
}

// Config holds coordinator tuning.
type Config struct {
	MaxConcurrent     int     // bound on in-flight dispatches across all events
	DefaultMaxRetries int     // retry budget for personal channels
	ProviderRate      float64 // sends per second per channel
	ProviderBurst     int
}

// DefaultConfig returns the default coordinator configuration.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent:     32,
		DefaultMaxRetries: 3,
		ProviderRate:      20,
		ProviderBurst:     40,
	}
}

// Coordinator resolves preferences, renders per channel and fans deliveries
// out concurrently. Per-channel failures become outcomes, never propagated
// errors; only history store failures abort a dispatch.
type Coordinator struct {
	config   Config
	registry *Registry
	resolver *preferences.Resolver
	renderer *render.Renderer
	store    history.Store
	failures FailurePolicy
	dedupe   Deduper // optional

	sem      *semaphore.Weighted
	limiters map[domain.Channel]*rate.Limiter
}

// NewCoordinator creates a delivery coordinator.
func NewCoordinator(config Config, registry *Registry, resolver *preferences.Resolver, renderer *render.Renderer, store history.Store, failures FailurePolicy, dedupe Deduper) *Coordinator {
	if config.MaxConcurrent <= 0 {
		config.MaxConcurrent = DefaultConfig().MaxConcurrent
	}
	if config.DefaultMaxRetries <= 0 {
		config.DefaultMaxRetries = DefaultConfig().DefaultMaxRetries
	}
	if config.ProviderRate <= 0 {
		config.ProviderRate = DefaultConfig().ProviderRate
	}
	if config.ProviderBurst <= 0 {
		config.ProviderBurst = DefaultConfig().ProviderBurst
	}

	limiters := make(map[domain.Channel]*rate.Limiter, len(registry.Channels()))
	for _, ch := range registry.Channels() {
		limiters[ch] = rate.NewLimiter(rate.Limit(config.ProviderRate), config.ProviderBurst)
	}

	return &Coordinator{
		config:   config,
		registry: registry,
		resolver: resolver,
		renderer: renderer,
		store:    store,
		failures: failures,
		dedupe:   dedupe,
		sem:      semaphore.NewWeighted(int64(config.MaxConcurrent)),
		limiters: limiters,
	}
}

// task is one (channel, target) delivery unit within a dispatch.
type task struct {
	attempt    domain.DeliveryAttempt
	dispatcher Dispatcher
	msg        render.Message
	target     Target
}

type taskResult struct {
	attempt domain.DeliveryAttempt
	out     Outcome
}

// Dispatch delivers one event to every channel its recipient's preferences
// allow. The returned summary accounts for every resolved channel and
// target; an empty resolution yields a fully suppressed summary, not an
// error.
func (c *Coordinator) Dispatch(ctx context.Context, event domain.NotificationEvent) (Summary, error) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	ctx = ctxlog.With(ctx, "event_id", event.ID, "type", event.Type)
	log := ctxlog.FromContext(ctx)

	if err := c.store.SaveEvent(ctx, event); err != nil {
		return Summary{}, fmt.Errorf("save event: %w", err)
	}

	res, err := c.resolver.Resolve(ctx, event.RecipientID, event.Type, event.Priority, time.Now())
	if err != nil {
		return Summary{}, fmt.Errorf("resolve preferences: %w", err)
	}

	summary := Summary{EventID: event.ID}

	for _, sup := range res.Suppressed {
		ref := res.Recipient.AddressFor(sup.Channel)
		if ref == "" {
			ref = "user:" + event.RecipientID
		}
		if err := c.recordSuppressed(ctx, event.ID, sup.Channel, ref, sup.Reason); err != nil {
			return Summary{}, err
		}
		summary.Suppressed++
		summary.Total++
		recordAttempt(sup.Channel, "suppressed")
	}

	tasks, prep, err := c.prepareTasks(ctx, event, res)
	if err != nil {
		return Summary{}, err
	}
	summary.add(prep)

	results := c.dispatchAll(ctx, tasks)
	for r := range results {
		summary.Total++
		c.applyOutcome(ctx, r, &summary)
	}

	log.Info("event dispatched",
		"sent", summary.Sent,
		"failed", summary.Failed,
		"retrying", summary.Retrying,
		"suppressed", summary.Suppressed,
	)

	return summary, nil
}

// DispatchBulk delivers one event to many recipients, e.g. a broadcast
// alert. Per-recipient event IDs are derived from the base ID so redelivery
// dedupe stays stable. Fan-out shares the coordinator's semaphore, so the
// in-flight bound holds across the whole batch.
func (c *Coordinator) DispatchBulk(ctx context.Context, event domain.NotificationEvent, recipientIDs []string) (Summary, error) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		total   Summary
		lastErr error
	)
	total.EventID = event.ID

	for _, userID := range recipientIDs {
		wg.Add(1)
		go func(userID string) {
			defer wg.Done()

			ev := event
			ev.ID = event.ID + ":" + userID
			ev.RecipientID = userID

			s, err := c.Dispatch(ctx, ev)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				lastErr = err
				return
			}
			total.add(s)
		}(userID)
	}
	wg.Wait()

	if lastErr != nil {
		return total, fmt.Errorf("bulk dispatch: %w", lastErr)
	}
	return total, nil
}

// SendTest delivers a synthetic test message to one target, bypassing
// preference resolution. The attempt is still recorded in history.
func (c *Coordinator) SendTest(ctx context.Context, ch domain.Channel, target Target, vars render.Vars) (Outcome, error) {
	dispatcher, ok := c.registry.Get(ch)
	if !ok {
		return Outcome{}, fmt.Errorf("%w: %s", ErrNoDispatcher, ch)
	}

	event := domain.NotificationEvent{
		ID:          uuid.NewString(),
		Type:        domain.TypeTestMessage,
		Priority:    domain.PriorityNormal,
		Title:       "Test notification",
		Message:     "This is a test notification from ReportFlow.",
		RecipientID: "test",
		CreatedAt:   time.Now(),
	}
	if err := c.store.SaveEvent(ctx, event); err != nil {
		return Outcome{}, fmt.Errorf("save event: %w", err)
	}

	msg, err := c.renderer.Render(ch, event, vars)
	if err != nil {
		return Outcome{}, err
	}

	attempt := domain.DeliveryAttempt{
		EventID:     event.ID,
		Channel:     ch,
		TargetRef:   target.Ref,
		Status:      domain.AttemptPending,
		MaxRetries:  0, // test sends are never retried
		ScheduledAt: time.Now(),
	}
	if err := c.store.CreateAttempt(ctx, &attempt); err != nil {
		return Outcome{}, fmt.Errorf("create attempt: %w", err)
	}
	target.AttemptID = attempt.ID
	target.EventType = event.Type

	out := c.send(ctx, dispatcher, msg, target)
	if out.Success {
		if err := c.store.MarkSent(ctx, attempt.ID, out.ProviderMessageID, out.StatusCode); err != nil {
			ctxlog.FromContext(ctx).Error("mark test attempt sent", "attempt_id", attempt.ID, "error", err)
		}
		recordAttempt(ch, "sent")
	} else {
		if err := c.store.MarkFailed(ctx, attempt.ID, out.StatusCode, out.ErrorMessage); err != nil {
			ctxlog.FromContext(ctx).Error("mark test attempt failed", "attempt_id", attempt.ID, "error", err)
		}
		recordAttempt(ch, "failed")
	}
	return out, nil
}

// RetryFailed requeues terminally failed or exhausted attempts for delivery.
// Attempt identity is preserved; the retry budget starts over.
func (c *Coordinator) RetryFailed(ctx context.Context, attemptIDs []string) (Summary, error) {
	attempts, err := c.store.RequeueAttempts(ctx, attemptIDs)
	if err != nil {
		return Summary{}, fmt.Errorf("requeue attempts: %w", err)
	}
	if len(attempts) == 0 {
		return Summary{}, ErrNothingToRetry
	}

	summary := Summary{Total: len(attempts), Retrying: len(attempts)}
	for _, a := range attempts {
		recordAttempt(a.Channel, "requeued")
	}
	return summary, nil
}

// prepareTasks renders per channel and creates pending attempts. Render
// failures abort only the affected channel and are recorded as terminal
// failures.
func (c *Coordinator) prepareTasks(ctx context.Context, event domain.NotificationEvent, res preferences.Resolution) ([]task, Summary, error) {
	log := ctxlog.FromContext(ctx)

	var (
		tasks   []task
		summary Summary
	)

	addTask := func(ch domain.Channel, ref string, target Target, maxRetries int) error {
		dispatcher, ok := c.registry.Get(ch)
		if !ok {
			log.Warn("no dispatcher for channel", "channel", ch)
			return nil
		}

		if c.dedupe != nil && !c.dedupe.FirstDelivery(ctx, event.ID, ch, ref) {
			log.Debug("duplicate delivery skipped",
				"event_id", event.ID, "channel", ch, "target_ref", ref)
			recordDedupeSkip()
			return nil
		}

		msg, err := c.renderer.Render(ch, event, nil)
		if err != nil {
			var tmplErr *render.TemplateError
			if errors.As(err, &tmplErr) {
				if recErr := c.recordRenderFailure(ctx, event.ID, ch, ref, tmplErr); recErr != nil {
					return recErr
				}
				summary.Failed++
				summary.Total++
				recordAttempt(ch, "render_failed")
				return nil
			}
			return fmt.Errorf("render %s: %w", ch, err)
		}
		for _, w := range msg.Warnings {
			log.Warn("render warning", "event_id", event.ID, "channel", ch, "warning", w)
		}

		attempt := domain.DeliveryAttempt{
			EventID:     event.ID,
			Channel:     ch,
			TargetRef:   ref,
			Status:      domain.AttemptPending,
			MaxRetries:  maxRetries,
			ScheduledAt: time.Now(),
		}
		if err := c.store.CreateAttempt(ctx, &attempt); err != nil {
			return fmt.Errorf("create attempt: %w", err)
		}
		target.Ref = ref
		target.AttemptID = attempt.ID
		target.EventType = event.Type

		tasks = append(tasks, task{attempt: attempt, dispatcher: dispatcher, msg: msg, target: target})
		return nil
	}

	for _, ch := range res.Channels {
		address := res.Recipient.AddressFor(ch)
		if address == "" {
			if err := c.recordSuppressed(ctx, event.ID, ch, "user:"+event.RecipientID, "missing_contact"); err != nil {
				return nil, Summary{}, err
			}
			summary.Suppressed++
			summary.Total++
			recordAttempt(ch, "suppressed")
			continue
		}
		if err := addTask(ch, address, Target{Address: address}, c.config.DefaultMaxRetries); err != nil {
			return nil, Summary{}, err
		}
	}

	for _, t := range res.Targets {
		target := Target{
			Address: t.WebhookURL,
			Secret:  t.SecretKey,
			Timeout: t.Timeout(),
		}
		if err := addTask(t.Channel, t.ID, target, t.RetryBudget()); err != nil {
			return nil, Summary{}, err
		}
	}

	return tasks, summary, nil
}

// dispatchAll runs tasks concurrently, bounded by the semaphore, and streams
// results as they complete.
func (c *Coordinator) dispatchAll(ctx context.Context, tasks []task) <-chan taskResult {
	results := make(chan taskResult, len(tasks))

	var wg sync.WaitGroup
	for _, t := range tasks {
		if err := c.sem.Acquire(ctx, 1); err != nil {
			results <- taskResult{attempt: t.attempt, out: Transient(0, "dispatch cancelled: "+err.Error())}
			continue
		}

		wg.Add(1)
		go func(t task) {
			defer wg.Done()
			defer c.sem.Release(1)

			results <- taskResult{
				attempt: t.attempt,
				out:     c.send(ctx, t.dispatcher, t.msg, t.target),
			}
		}(t)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	return results
}

// send applies the per-provider rate limit and runs one dispatcher call.
func (c *Coordinator) send(ctx context.Context, d Dispatcher, msg render.Message, target Target) Outcome {
	if limiter, ok := c.limiters[d.Channel()]; ok {
		if err := limiter.Wait(ctx); err != nil {
			return Transient(0, "rate limiter wait: "+err.Error())
		}
	}

	inFlight.Inc()
	start := time.Now()
	out := d.Send(ctx, msg, target)
	recordSendDuration(d.Channel(), time.Since(start))
	inFlight.Dec()

	return out
}

// applyOutcome persists one task result and updates the summary.
func (c *Coordinator) applyOutcome(ctx context.Context, r taskResult, summary *Summary) {
	log := ctxlog.FromContext(ctx)

	if r.out.Success {
		if err := c.store.MarkSent(ctx, r.attempt.ID, r.out.ProviderMessageID, r.out.StatusCode); err != nil {
			log.Error("mark attempt sent", "attempt_id", r.attempt.ID, "error", err)
		}
		summary.Sent++
		recordAttempt(r.attempt.Channel, "sent")
		return
	}

	status, err := c.failures.HandleFailure(ctx, r.attempt, r.out)
	if err != nil {
		log.Error("handle delivery failure", "attempt_id", r.attempt.ID, "error", err)
		summary.Failed++
		recordAttempt(r.attempt.Channel, "failed")
		return
	}

	switch status {
	case domain.AttemptRetrying:
		summary.Retrying++
		recordAttempt(r.attempt.Channel, "retrying")
	case domain.AttemptExhausted:
		summary.Failed++
		recordAttempt(r.attempt.Channel, "exhausted")
	default:
		summary.Failed++
		recordAttempt(r.attempt.Channel, "failed")
	}
}

func (c *Coordinator) recordSuppressed(ctx context.Context, eventID string, ch domain.Channel, ref, reason string) error {
	attempt := domain.DeliveryAttempt{
		EventID:     eventID,
		Channel:     ch,
		TargetRef:   ref,
		Status:      domain.AttemptPending,
		ScheduledAt: time.Now(),
	}
	if err := c.store.CreateAttempt(ctx, &attempt); err != nil {
		return fmt.Errorf("create attempt: %w", err)
	}
	if err := c.store.MarkSuppressed(ctx, attempt.ID, reason); err != nil {
		return fmt.Errorf("mark suppressed: %w", err)
	}
	return nil
}

func (c *Coordinator) recordRenderFailure(ctx context.Context, eventID string, ch domain.Channel, ref string, tmplErr *render.TemplateError) error {
	attempt := domain.DeliveryAttempt{
		EventID:     eventID,
		Channel:     ch,
		TargetRef:   ref,
		Status:      domain.AttemptPending,
		ScheduledAt: time.Now(),
	}
	if err := c.store.CreateAttempt(ctx, &attempt); err != nil {
		return fmt.Errorf("create attempt: %w", err)
	}
	if err := c.store.MarkFailed(ctx, attempt.ID, 0, tmplErr.Error()); err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return nil
}
