package render

import (
	"encoding/json"
	"fmt"

	"github.com/reportflow/notifier/internal/domain"
)

// Message is the ephemeral, channel-shaped output of the renderer. It is
// never persisted beyond the attempt's audit payload.
type Message struct {
	Channel  domain.Channel
	Subject  string
	BodyText string
	BodyHTML string          // email only
	Payload  json.RawMessage // card/envelope JSON for slack, teams, webhook
	Segments int             // sms only
	Warnings []string        // unresolved variables, truncations
}

// TemplateError indicates a template failed structural validation or
// execution. It aborts only the affected channel's delivery.
type TemplateError struct {
	Template string
	Err      error
}

func (e *TemplateError) Error() string {
	return fmt.Sprintf("template %s: %v", e.Template, e.Err)
}

func (e *TemplateError) Unwrap() error { return e.Err }
