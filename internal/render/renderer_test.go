package render

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reportflow/notifier/internal/domain"
)

func testEvent() domain.NotificationEvent {
	return domain.NotificationEvent{
		ID:                "evt-001",
		Type:              domain.TypeReportSubmitted,
		Priority:          domain.PriorityNormal,
		Title:             "Weekly report submitted",
		Message:           "Alex submitted the weekly status report for review.",
		RecipientID:       "user-42",
		SenderID:          "user-7",
		RelatedEntityID:   "report-591",
		RelatedEntityType: "report",
		ActionURL:         "https://app.reportflow.example/reports/591",
		Metadata:          map[string]string{"team": "platform"},
		CreatedAt:         time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC),
	}
}

func TestRenderEmail(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	msg, err := r.Render(domain.ChannelEmail, testEvent(), nil)
	require.NoError(t, err)

	assert.Equal(t, "Weekly report submitted", msg.Subject)
	assert.Contains(t, msg.BodyText, "Alex submitted the weekly status report")
	assert.Contains(t, msg.BodyText, "https://app.reportflow.example/reports/591")
	assert.Contains(t, msg.BodyHTML, "<h2")
	assert.Contains(t, msg.BodyHTML, "Open in ReportFlow")
	assert.Empty(t, msg.Warnings)
}

func TestRenderSubjectCriticalPrefix(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	event := testEvent()
	event.Priority = domain.PriorityCritical

	msg, err := r.Render(domain.ChannelEmail, event, nil)
	require.NoError(t, err)
	assert.Equal(t, "[URGENT] Weekly report submitted", msg.Subject)
}

func TestRenderUnresolvedVariableWarns(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)
	require.NoError(t, r.Register("chat_report_submitted", `{{.Var "message"}} reviewed by {{.Var "reviewer_name"}}`))

	msg, err := r.Render(domain.ChannelSlack, testEvent(), nil)
	require.NoError(t, err)

	assert.Contains(t, msg.BodyText, "reviewed by")
	assert.Contains(t, msg.Warnings, "unresolved variable: reviewer_name")
}

func TestRenderCustomVarsOverrideEvent(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)
	require.NoError(t, r.Register("chat_report_approved", `{{.Var "message"}} ({{.Var "approver"}}, score {{.Var "score"}})`))

	event := testEvent()
	event.Type = domain.TypeReportApproved

	msg, err := r.Render(domain.ChannelSlack, event, Vars{
		"approver": String("Jordan"),
		"score":    Number(4),
	})
	require.NoError(t, err)

	assert.Contains(t, msg.BodyText, "(Jordan, score 4)")
	assert.Empty(t, msg.Warnings)
}

func TestRenderMetadataLookup(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)
	require.NoError(t, r.Register("sms_report_submitted", `{{.Var "title"}} [{{.Var "meta.team"}}]`))

	msg, err := r.Render(domain.ChannelSMS, testEvent(), nil)
	require.NoError(t, err)
	assert.Equal(t, "Weekly report submitted [platform]", msg.BodyText)
	assert.Equal(t, 1, msg.Segments)
}

func TestRegisterRejectsUnbalancedPlaceholders(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	err = r.Register("chat_broken", `{{.Var "title" missing close`)
	require.Error(t, err)

	var tmplErr *TemplateError
	require.ErrorAs(t, err, &tmplErr)
	assert.Equal(t, "chat_broken", tmplErr.Template)
}

func TestRegisterRejectsScriptTags(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	err = r.Register("email_html_report_approved", `<p>hi</p><SCRIPT>alert(1)</SCRIPT>`)
	require.Error(t, err)

	var tmplErr *TemplateError
	require.ErrorAs(t, err, &tmplErr)
}

func TestRenderTypeOverrideWins(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)
	require.NoError(t, r.Register("sms_deadline_due", `DEADLINE {{.Var "title"}}`))

	event := testEvent()
	event.Type = domain.TypeDeadlineDue

	msg, err := r.Render(domain.ChannelSMS, event, nil)
	require.NoError(t, err)
	assert.Equal(t, "DEADLINE Weekly report submitted", msg.BodyText)

	// other types still hit the default template
	msg, err = r.Render(domain.ChannelSMS, testEvent(), nil)
	require.NoError(t, err)
	assert.Contains(t, msg.BodyText, "ReportFlow:")
}

func TestRenderSlackPayload(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	msg, err := r.Render(domain.ChannelSlack, testEvent(), nil)
	require.NoError(t, err)
	require.NotEmpty(t, msg.Payload)

	var payload struct {
		Text   string `json:"text"`
		Blocks []struct {
			Type string `json:"type"`
		} `json:"blocks"`
	}
	require.NoError(t, json.Unmarshal(msg.Payload, &payload))
	assert.Equal(t, "Weekly report submitted", payload.Text)
	require.Len(t, payload.Blocks, 3)
	assert.Equal(t, "header", payload.Blocks[0].Type)
	assert.Equal(t, "section", payload.Blocks[1].Type)
	assert.Equal(t, "context", payload.Blocks[2].Type)
}

func TestRenderTeamsPayload(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	event := testEvent()
	event.Priority = domain.PriorityHigh

	msg, err := r.Render(domain.ChannelTeams, event, nil)
	require.NoError(t, err)

	var card struct {
		Type       string `json:"@type"`
		ThemeColor string `json:"themeColor"`
		Actions    []struct {
			Name string `json:"name"`
		} `json:"potentialAction"`
	}
	require.NoError(t, json.Unmarshal(msg.Payload, &card))
	assert.Equal(t, "MessageCard", card.Type)
	assert.Equal(t, "E8A317", card.ThemeColor)
	require.Len(t, card.Actions, 1)
	assert.Equal(t, "Open in ReportFlow", card.Actions[0].Name)
}

func TestRenderWebhookEnvelope(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	msg, err := r.Render(domain.ChannelWebhook, testEvent(), nil)
	require.NoError(t, err)

	var body struct {
		ID        string `json:"id"`
		Type      string `json:"type"`
		Timestamp string `json:"timestamp"`
		Data      struct {
			Title       string            `json:"title"`
			Priority    string            `json:"priority"`
			Category    string            `json:"category"`
			RecipientID string            `json:"recipient_id"`
			Metadata    map[string]string `json:"metadata"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(msg.Payload, &body))
	assert.Equal(t, "evt-001", body.ID)
	assert.Equal(t, "report_submitted", body.Type)
	assert.Equal(t, "2025-03-14T09:30:00Z", body.Timestamp)
	assert.Equal(t, "Weekly report submitted", body.Data.Title)
	assert.Equal(t, "normal", body.Data.Priority)
	assert.Equal(t, "report", body.Data.Category)
	assert.Equal(t, "user-42", body.Data.RecipientID)
	assert.Equal(t, "platform", body.Data.Metadata["team"])
}

func TestRenderUnsupportedChannel(t *testing.T) {
	r, err := NewRenderer()
	require.NoError(t, err)

	_, err = r.Render(domain.Channel("carrier_pigeon"), testEvent(), nil)
	require.Error(t, err)

	var tmplErr *TemplateError
	assert.ErrorAs(t, err, &tmplErr)
}

func TestEventCategory(t *testing.T) {
	assert.Equal(t, "report", eventCategory(domain.TypeReportRejected))
	assert.Equal(t, "deadline", eventCategory(domain.TypeDeadlineDue))
	assert.Equal(t, "broadcast", eventCategory(domain.TypeBroadcastAlert))
	assert.Equal(t, "test", eventCategory(domain.TypeTestMessage))
	assert.Equal(t, "general", eventCategory(domain.NotificationType("mystery")))
}
