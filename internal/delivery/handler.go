package delivery

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/reportflow/notifier/internal/domain"
	"github.com/reportflow/notifier/internal/history"
	"github.com/reportflow/notifier/internal/pkg/httputil"
	"github.com/reportflow/notifier/internal/render"
)

var errorMappings = []httputil.ErrorMapping{
	{Error: ErrNoDispatcher, Status: http.StatusBadRequest, Message: "channel is not configured"},
	{Error: ErrUnknownChannel, Status: http.StatusBadRequest, Message: "unknown channel"},
	{Error: ErrNothingToRetry, Status: http.StatusBadRequest, Message: "no retryable attempts in request"},
	{Error: history.ErrAttemptNotFound, Status: http.StatusNotFound, Message: "delivery attempt not found"},
	{Error: history.ErrEventNotFound, Status: http.StatusNotFound, Message: "notification event not found"},
}

// Handler exposes the delivery HTTP surface.
type Handler struct {
	coordinator *Coordinator
	store       history.Store
	validator   *validator.Validate
}

// NewHandler creates a delivery handler.
func NewHandler(coordinator *Coordinator, store history.Store) *Handler {
	return &Handler{
		coordinator: coordinator,
		store:       store,
		validator:   validator.New(),
	}
}

// RegisterRoutes registers notification routes.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/notifications", func(r chi.Router) {
		r.Post("/dispatch", h.Dispatch)
		r.Post("/test", h.SendTest)
		r.Post("/retry", h.Retry)
		r.Get("/failures", h.ListFailures)
		r.Get("/attempts/{id}", h.GetAttempt)
	})
}

// DispatchRequest is the request body for dispatching a notification.
// Exactly one of recipient_id or recipient_ids must be set.
type DispatchRequest struct {
	EventID           string            `json:"event_id" validate:"omitempty,max=128"`
	Type              string            `json:"type" validate:"required,oneof=report_submitted report_approved report_rejected deadline_due broadcast_alert test_message"`
	Priority          string            `json:"priority" validate:"omitempty,oneof=low normal high critical"`
	Title             string            `json:"title" validate:"required,max=200"`
	Message           string            `json:"message" validate:"required,max=10000"`
	RecipientID       string            `json:"recipient_id" validate:"required_without=RecipientIDs,excluded_with=RecipientIDs"`
	RecipientIDs      []string          `json:"recipient_ids" validate:"omitempty,min=1,max=10000"`
	SenderID          string            `json:"sender_id"`
	RelatedEntityID   string            `json:"related_entity_id"`
	RelatedEntityType string            `json:"related_entity_type"`
	ActionURL         string            `json:"action_url" validate:"omitempty,url"`
	Metadata          map[string]string `json:"metadata"`
}

// Dispatch handles POST /notifications/dispatch.
func (h *Handler) Dispatch(w http.ResponseWriter, r *http.Request) {
	var req DispatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	priority := domain.PriorityNormal
	if req.Priority != "" {
		priority, _ = domain.ParsePriority(req.Priority)
	}

	event := domain.NotificationEvent{
		ID:                req.EventID,
		Type:              domain.NotificationType(req.Type),
		Priority:          priority,
		Title:             req.Title,
		Message:           req.Message,
		RecipientID:       req.RecipientID,
		SenderID:          req.SenderID,
		RelatedEntityID:   req.RelatedEntityID,
		RelatedEntityType: req.RelatedEntityType,
		ActionURL:         req.ActionURL,
		Metadata:          req.Metadata,
		CreatedAt:         time.Now(),
	}

	var (
		summary Summary
		err     error
	)
	if len(req.RecipientIDs) > 0 {
		summary, err = h.coordinator.DispatchBulk(r.Context(), event, req.RecipientIDs)
	} else {
		summary, err = h.coordinator.Dispatch(r.Context(), event)
	}
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusAccepted, summary)
}

// TestRequest is the request body for sending a test notification.
type TestRequest struct {
	Channel   string         `json:"channel" validate:"required,oneof=email sms push slack teams webhook"`
	Address   string         `json:"address" validate:"required,max=2048"`
	Secret    string         `json:"secret"`
	Variables map[string]any `json:"variables"`
}

// SendTest handles POST /notifications/test.
func (h *Handler) SendTest(w http.ResponseWriter, r *http.Request) {
	var req TestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	target := Target{
		Ref:     req.Address,
		Address: req.Address,
		Secret:  req.Secret,
	}

	out, err := h.coordinator.SendTest(r.Context(), domain.Channel(req.Channel), target, varsFromJSON(req.Variables))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, out)
}

// RetryRequest is the request body for manually retrying attempts.
type RetryRequest struct {
	AttemptIDs []string `json:"attempt_ids" validate:"required,min=1,max=500,dive,required"`
}

// Retry handles POST /notifications/retry.
func (h *Handler) Retry(w http.ResponseWriter, r *http.Request) {
	var req RetryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid json")
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httputil.ValidationError(w, err)
		return
	}

	summary, err := h.coordinator.RetryFailed(r.Context(), req.AttemptIDs)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, summary)
}

// ListFailures handles GET /notifications/failures. Returns attempts that
// failed terminally or exhausted their retry budget.
func (h *Handler) ListFailures(w http.ResponseWriter, r *http.Request) {
	filters := history.Filters{
		Statuses: []domain.AttemptStatus{domain.AttemptFailed, domain.AttemptExhausted},
		EventID:  r.URL.Query().Get("event_id"),
		Limit:    100,
	}

	if ch := r.URL.Query().Get("channel"); ch != "" {
		channel := domain.Channel(ch)
		if !channel.Valid() {
			httputil.Error(w, http.StatusBadRequest, "unknown channel")
			return
		}
		filters.Channel = channel
	}
	if since := r.URL.Query().Get("since"); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			httputil.Error(w, http.StatusBadRequest, "since must be RFC3339")
			return
		}
		filters.Since = t
	}
	if limit := r.URL.Query().Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 1 || n > 1000 {
			httputil.Error(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		filters.Limit = n
	}

	attempts, err := h.store.ListAttempts(r.Context(), filters)
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}

	httputil.Success(w, http.StatusOK, attempts)
}

// GetAttempt handles GET /notifications/attempts/{id}.
func (h *Handler) GetAttempt(w http.ResponseWriter, r *http.Request) {
	attempt, err := h.store.GetAttempt(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.HandleError(r.Context(), w, err, errorMappings)
		return
	}
	httputil.Success(w, http.StatusOK, attempt)
}

// varsFromJSON converts decoded JSON variables into the renderer's typed
// variable set. Unsupported kinds are dropped.
func varsFromJSON(m map[string]any) render.Vars {
	if len(m) == 0 {
		return nil
	}
	vars := make(render.Vars, len(m))
	for k, v := range m {
		if val, ok := valueFromJSON(v); ok {
			vars[k] = val
		}
	}
	return vars
}

func valueFromJSON(v any) (render.Value, bool) {
	switch t := v.(type) {
	case string:
		return render.String(t), true
	case float64:
		return render.Number(t), true
	case bool:
		return render.Bool(t), true
	case map[string]any:
		m := make(map[string]render.Value, len(t))
		for k, nested := range t {
			if val, ok := valueFromJSON(nested); ok {
				m[k] = val
			}
		}
		return render.Map(m), true
	}
	return render.Value{}, false
}
