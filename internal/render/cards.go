package render

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/reportflow/notifier/internal/domain"
)

// Slack Block Kit payload for incoming webhooks.

type slackMessage struct {
	Text   string       `json:"text"`
	Blocks []slackBlock `json:"blocks"`
}

type slackBlock struct {
	Type     string      `json:"type"`
	Text     *slackText  `json:"text,omitempty"`
	Elements []slackText `json:"elements,omitempty"`
}

type slackText struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func slackPayload(subject, body string, event domain.NotificationEvent) (json.RawMessage, error) {
	blocks := []slackBlock{
		{
			Type: "header",
			Text: &slackText{Type: "plain_text", Text: subject},
		},
		{
			Type: "section",
			Text: &slackText{Type: "mrkdwn", Text: body},
		},
	}

	context := priorityEmoji(event.Priority.String()) + " " + titleCase(event.Priority.String()) + " priority"
	if event.ActionURL != "" {
		context += " | <" + event.ActionURL + "|Open in ReportFlow>"
	}
	blocks = append(blocks, slackBlock{
		Type:     "context",
		Elements: []slackText{{Type: "mrkdwn", Text: context}},
	})

	return json.Marshal(slackMessage{Text: subject, Blocks: blocks})
}

// Teams legacy MessageCard payload for incoming webhooks.

type teamsCard struct {
	Type       string         `json:"@type"`
	Context    string         `json:"@context"`
	Summary    string         `json:"summary"`
	ThemeColor string         `json:"themeColor"`
	Title      string         `json:"title"`
	Sections   []teamsSection `json:"sections"`
	Actions    []teamsAction  `json:"potentialAction,omitempty"`
}

type teamsSection struct {
	Text  string      `json:"text,omitempty"`
	Facts []teamsFact `json:"facts,omitempty"`
}

type teamsFact struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

type teamsAction struct {
	Type    string        `json:"@type"`
	Name    string        `json:"name"`
	Targets []teamsTarget `json:"targets"`
}

type teamsTarget struct {
	OS  string `json:"os"`
	URI string `json:"uri"`
}

func teamsPayload(subject, body string, event domain.NotificationEvent) (json.RawMessage, error) {
	card := teamsCard{
		Type:       "MessageCard",
		Context:    "http://schema.org/extensions",
		Summary:    subject,
		ThemeColor: teamsThemeColor(event.Priority),
		Title:      subject,
		Sections: []teamsSection{
			{Text: body},
			{Facts: []teamsFact{
				{Name: "Priority", Value: titleCase(event.Priority.String())},
				{Name: "Type", Value: strings.ReplaceAll(string(event.Type), "_", " ")},
			}},
		},
	}

	if event.ActionURL != "" {
		card.Actions = []teamsAction{{
			Type: "OpenUri",
			Name: "Open in ReportFlow",
			Targets: []teamsTarget{
				{OS: "default", URI: event.ActionURL},
			},
		}}
	}

	return json.Marshal(card)
}

func teamsThemeColor(p domain.Priority) string {
	switch p {
	case domain.PriorityCritical:
		return "D93F0B"
	case domain.PriorityHigh:
		return "E8A317"
	default:
		return "2EB67D"
	}
}

// Generic webhook envelope, signed by the webhook dispatcher.

type webhookBody struct {
	ID        string      `json:"id"`
	Type      string      `json:"type"`
	Timestamp string      `json:"timestamp"`
	Data      webhookData `json:"data"`
}

type webhookData struct {
	Title             string            `json:"title"`
	Message           string            `json:"message"`
	Priority          string            `json:"priority"`
	Category          string            `json:"category"`
	RecipientID       string            `json:"recipient_id"`
	SenderID          string            `json:"sender_id,omitempty"`
	RelatedEntityID   string            `json:"related_entity_id,omitempty"`
	RelatedEntityType string            `json:"related_entity_type,omitempty"`
	ActionURL         string            `json:"action_url,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
}

func webhookEnvelope(event domain.NotificationEvent) (json.RawMessage, error) {
	createdAt := event.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	return json.Marshal(webhookBody{
		ID:        event.ID,
		Type:      string(event.Type),
		Timestamp: createdAt.UTC().Format(time.RFC3339),
		Data: webhookData{
			Title:             event.Title,
			Message:           event.Message,
			Priority:          event.Priority.String(),
			Category:          eventCategory(event.Type),
			RecipientID:       event.RecipientID,
			SenderID:          event.SenderID,
			RelatedEntityID:   event.RelatedEntityID,
			RelatedEntityType: event.RelatedEntityType,
			ActionURL:         event.ActionURL,
			Metadata:          event.Metadata,
		},
	})
}

// eventCategory groups notification types for webhook consumers.
func eventCategory(t domain.NotificationType) string {
	switch {
	case strings.HasPrefix(string(t), "report_"):
		return "report"
	case t == domain.TypeDeadlineDue:
		return "deadline"
	case t == domain.TypeBroadcastAlert:
		return "broadcast"
	case t == domain.TypeTestMessage:
		return "test"
	}
	return "general"
}
