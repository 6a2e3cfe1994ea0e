// Package render merges notification events and variable maps into
// channel-shaped content: HTML+text for email, segmented text for SMS,
// card JSON for Slack and Teams, a signed-payload envelope for webhooks.
package render

import (
	"bytes"
	"embed"
	"fmt"
	htmltemplate "html/template"
	"sort"
	"strings"
	texttemplate "text/template"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/reportflow/notifier/internal/domain"
)

//go:embed templates/*.tmpl
var templatesFS embed.FS

// Default template names. Type-specific overrides are registered as
// "<name>_<notification type>" and win over the default.
const (
	tmplEmailHTML = "email_html"
	tmplEmailText = "email_text"
	tmplSMS       = "sms"
	tmplChat      = "chat"
)

// Renderer renders notifications from templates.
type Renderer struct {
	textTemplates map[string]*texttemplate.Template
	htmlTemplates map[string]*htmltemplate.Template
	funcMap       texttemplate.FuncMap
}

// NewRenderer creates a renderer with the embedded default templates loaded.
func NewRenderer() (*Renderer, error) {
	funcMap := texttemplate.FuncMap{
		"title":         titleCase,
		"upper":         strings.ToUpper,
		"lower":         strings.ToLower,
		"formatTime":    formatTime,
		"priorityEmoji": priorityEmoji,
	}

	r := &Renderer{
		textTemplates: make(map[string]*texttemplate.Template),
		htmlTemplates: make(map[string]*htmltemplate.Template),
		funcMap:       funcMap,
	}

	for _, name := range []string{tmplEmailText, tmplSMS, tmplChat} {
		content, err := templatesFS.ReadFile("templates/" + name + ".tmpl")
		if err != nil {
			return nil, fmt.Errorf("read template %s: %w", name, err)
		}
		if err := r.registerText(name, string(content)); err != nil {
			return nil, err
		}
	}

	htmlContent, err := templatesFS.ReadFile("templates/" + tmplEmailHTML + ".tmpl")
	if err != nil {
		return nil, fmt.Errorf("read template %s: %w", tmplEmailHTML, err)
	}
	if err := r.registerHTML(tmplEmailHTML, string(htmlContent)); err != nil {
		return nil, err
	}

	return r, nil
}

// Register adds or replaces a named text template. Names follow the
// "<base>_<notification type>" convention for per-type overrides.
func (r *Renderer) Register(name, content string) error {
	if strings.HasPrefix(name, tmplEmailHTML) {
		return r.registerHTML(name, content)
	}
	return r.registerText(name, content)
}

func (r *Renderer) registerText(name, content string) error {
	if err := checkStructure(name, content); err != nil {
		return err
	}
	tmpl, err := texttemplate.New(name).Funcs(r.funcMap).Parse(content)
	if err != nil {
		return &TemplateError{Template: name, Err: err}
	}
	r.textTemplates[name] = tmpl
	return nil
}

func (r *Renderer) registerHTML(name, content string) error {
	if err := checkStructure(name, content); err != nil {
		return err
	}
	tmpl, err := htmltemplate.New(name).Funcs(htmltemplate.FuncMap(r.funcMap)).Parse(content)
	if err != nil {
		return &TemplateError{Template: name, Err: err}
	}
	r.htmlTemplates[name] = tmpl
	return nil
}

// checkStructure rejects templates with unbalanced placeholder delimiters or
// embedded script tags before they reach the template parser.
func checkStructure(name, content string) error {
	if strings.Count(content, "{{") != strings.Count(content, "}}") {
		return &TemplateError{Template: name, Err: fmt.Errorf("unbalanced placeholders")}
	}
	if strings.Contains(strings.ToLower(content), "<script") {
		return &TemplateError{Template: name, Err: fmt.Errorf("script tags are not allowed")}
	}
	return nil
}

// templateData is the execution context for one render. Var lookups that
// miss are collected rather than failing the render.
type templateData struct {
	Event   domain.NotificationEvent
	vars    Vars
	missing map[string]bool
}

// Var resolves a variable by dotted path, rendering missing variables as an
// empty string and recording them as warnings.
func (d *templateData) Var(name string) string {
	if v, ok := d.vars.Lookup(name); ok {
		return v.Render()
	}
	d.missing[name] = true
	return ""
}

// Render produces the channel-shaped message for one event. Unresolved
// variables are reported in Message.Warnings; structural or execution
// failures return a *TemplateError and abort only this channel.
func (r *Renderer) Render(channel domain.Channel, event domain.NotificationEvent, vars Vars) (Message, error) {
	data := &templateData{
		Event:   event,
		vars:    r.baseVars(event, vars),
		missing: make(map[string]bool),
	}

	msg := Message{
		Channel: channel,
		Subject: renderSubject(event),
	}

	var err error
	switch channel {
	case domain.ChannelEmail:
		msg.BodyText, err = r.execText(r.pick(tmplEmailText, event.Type), data)
		if err != nil {
			return Message{}, err
		}
		msg.BodyHTML, err = r.execHTML(r.pickHTML(tmplEmailHTML, event.Type), data)
		if err != nil {
			return Message{}, err
		}

	case domain.ChannelSMS:
		body, execErr := r.execText(r.pick(tmplSMS, event.Type), data)
		if execErr != nil {
			return Message{}, execErr
		}
		var truncated bool
		msg.BodyText, msg.Segments, truncated = enforceSegments(body, maxSMSSegments)
		if truncated {
			msg.Warnings = append(msg.Warnings, "sms body truncated to segment budget")
		}

	case domain.ChannelSlack:
		body, execErr := r.execText(r.pick(tmplChat, event.Type), data)
		if execErr != nil {
			return Message{}, execErr
		}
		msg.BodyText = body
		msg.Payload, err = slackPayload(msg.Subject, body, event)
		if err != nil {
			return Message{}, &TemplateError{Template: tmplChat, Err: err}
		}

	case domain.ChannelTeams:
		body, execErr := r.execText(r.pick(tmplChat, event.Type), data)
		if execErr != nil {
			return Message{}, execErr
		}
		msg.BodyText = body
		msg.Payload, err = teamsPayload(msg.Subject, body, event)
		if err != nil {
			return Message{}, &TemplateError{Template: tmplChat, Err: err}
		}

	case domain.ChannelWebhook:
		msg.BodyText = event.Message
		msg.Payload, err = webhookEnvelope(event)
		if err != nil {
			return Message{}, &TemplateError{Template: "webhook", Err: err}
		}

	default:
		return Message{}, &TemplateError{Template: string(channel), Err: fmt.Errorf("unsupported channel")}
	}

	if len(data.missing) > 0 {
		names := make([]string, 0, len(data.missing))
		for name := range data.missing {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			msg.Warnings = append(msg.Warnings, "unresolved variable: "+name)
		}
	}

	return msg, nil
}

// baseVars derives the standard variable set from the event and layers the
// caller-supplied variables on top.
func (r *Renderer) baseVars(event domain.NotificationEvent, vars Vars) Vars {
	merged := Vars{
		"title":      String(event.Title),
		"message":    String(event.Message),
		"priority":   String(event.Priority.String()),
		"type":       String(string(event.Type)),
		"action_url": String(event.ActionURL),
	}
	if len(event.Metadata) > 0 {
		meta := make(map[string]Value, len(event.Metadata))
		for k, v := range event.Metadata {
			meta[k] = String(v)
		}
		merged["meta"] = Map(meta)
	}
	for k, v := range vars {
		merged[k] = v
	}
	return merged
}

func (r *Renderer) pick(base string, notifType domain.NotificationType) *texttemplate.Template {
	if tmpl, ok := r.textTemplates[base+"_"+string(notifType)]; ok {
		return tmpl
	}
	return r.textTemplates[base]
}

func (r *Renderer) pickHTML(base string, notifType domain.NotificationType) *htmltemplate.Template {
	if tmpl, ok := r.htmlTemplates[base+"_"+string(notifType)]; ok {
		return tmpl
	}
	return r.htmlTemplates[base]
}

func (r *Renderer) execText(tmpl *texttemplate.Template, data *templateData) (string, error) {
	if tmpl == nil {
		return "", &TemplateError{Template: "unknown", Err: fmt.Errorf("template not loaded")}
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", &TemplateError{Template: tmpl.Name(), Err: err}
	}
	return strings.TrimSpace(buf.String()), nil
}

func (r *Renderer) execHTML(tmpl *htmltemplate.Template, data *templateData) (string, error) {
	if tmpl == nil {
		return "", &TemplateError{Template: "unknown", Err: fmt.Errorf("template not loaded")}
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", &TemplateError{Template: tmpl.Name(), Err: err}
	}
	return strings.TrimSpace(buf.String()), nil
}

// renderSubject generates the notification subject line.
func renderSubject(event domain.NotificationEvent) string {
	if event.Priority == domain.PriorityCritical {
		return "[URGENT] " + event.Title
	}
	return event.Title
}

// Template functions

var titleCaser = cases.Title(language.English)

func titleCase(s string) string {
	return titleCaser.String(s)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format("Jan 2, 2006 15:04 UTC")
}

func priorityEmoji(priority string) string {
	switch strings.ToLower(priority) {
	case "low":
		return "⚪"
	case "normal":
		return "🔵"
	case "high":
		return "🟠"
	case "critical":
		return "🔴"
	default:
		return "🔵"
	}
}
