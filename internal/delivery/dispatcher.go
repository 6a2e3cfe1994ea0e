package delivery

import (
	"context"
	"time"

	"github.com/reportflow/notifier/internal/domain"
	"github.com/reportflow/notifier/internal/render"
)

// Target identifies where one delivery goes, in channel terms. For personal
// channels Address is an email address, E.164 number or device token; for
// webhook-style channels it is the endpoint URL with an optional signing
// secret.
type Target struct {
	Ref       string // stable reference recorded in history
	Address   string
	Secret    string
	AttemptID string // exposed to webhook consumers for idempotent handling
	EventType domain.NotificationType
	Timeout   time.Duration // zero means the dispatcher default
}

// Dispatcher sends rendered messages over one channel. Implementations map
// provider responses to Outcomes and never panic or block past the target
// timeout.
type Dispatcher interface {
	Channel() domain.Channel
	Send(ctx context.Context, msg render.Message, target Target) Outcome
}

// Registry holds the configured dispatcher per channel.
type Registry struct {
	dispatchers map[domain.Channel]Dispatcher
}

// NewRegistry creates a registry from the given dispatchers.
func NewRegistry(dispatchers ...Dispatcher) *Registry {
	m := make(map[domain.Channel]Dispatcher, len(dispatchers))
	for _, d := range dispatchers {
		m[d.Channel()] = d
	}
	return &Registry{dispatchers: m}
}

// Get returns the dispatcher for a channel.
func (r *Registry) Get(ch domain.Channel) (Dispatcher, bool) {
	d, ok := r.dispatchers[ch]
	return d, ok
}

// Channels returns the channels with a registered dispatcher.
func (r *Registry) Channels() []domain.Channel {
	chs := make([]domain.Channel, 0, len(r.dispatchers))
	for ch := range r.dispatchers {
		chs = append(chs, ch)
	}
	return chs
}
