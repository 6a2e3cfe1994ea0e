package email

import (
	"errors"
	"net"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reportflow/notifier/internal/domain"
	"github.com/reportflow/notifier/internal/render"
)

func TestNewSenderValidation(t *testing.T) {
	_, err := NewSender(Config{Provider: ProviderSMTP})
	assert.Error(t, err, "missing from address")

	_, err = NewSender(Config{Provider: ProviderSMTP, FromAddress: "noreply@reportflow.example"})
	assert.Error(t, err, "missing SMTP host")

	_, err = NewSender(Config{Provider: "carrier-pigeon", FromAddress: "noreply@reportflow.example"})
	assert.Error(t, err, "unknown provider")

	s, err := NewSender(Config{
		Provider:    ProviderSMTP,
		FromAddress: "noreply@reportflow.example",
		SMTPHost:    "smtp.reportflow.example",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.ChannelEmail, s.Channel())

	p, err := NewSender(Config{
		Provider:            ProviderPostmark,
		FromAddress:         "noreply@reportflow.example",
		PostmarkServerToken: "token",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.ChannelEmail, p.Channel())
}

func TestBuildMessageMultipart(t *testing.T) {
	s, err := newSMTPSender(Config{
		FromAddress: "ReportFlow <noreply@reportflow.example>",
		SMTPHost:    "smtp.reportflow.example",
	})
	require.NoError(t, err)

	raw := string(s.buildMessage(render.Message{
		Subject:  "Weekly report submitted",
		BodyText: "plain body",
		BodyHTML: "<p>html body</p>",
	}, "user@example.com"))

	assert.True(t, strings.HasPrefix(raw, "From: ReportFlow <noreply@reportflow.example>\r\n"))
	assert.Contains(t, raw, "To: user@example.com\r\n")
	assert.Contains(t, raw, "Subject: Weekly report submitted\r\n")
	assert.Contains(t, raw, "multipart/alternative")
	assert.Contains(t, raw, "plain body")
	assert.Contains(t, raw, "<p>html body</p>")
}

func TestBuildMessagePlainOnly(t *testing.T) {
	s, err := newSMTPSender(Config{
		FromAddress: "noreply@reportflow.example",
		SMTPHost:    "smtp.reportflow.example",
	})
	require.NoError(t, err)

	raw := string(s.buildMessage(render.Message{Subject: "hi", BodyText: "plain body"}, "user@example.com"))

	assert.Contains(t, raw, "text/plain")
	assert.NotContains(t, raw, "multipart/alternative")
}

func TestClassifySMTP(t *testing.T) {
	out := classifySMTP(&net.OpError{Op: "dial", Err: errors.New("connection refused")})
	assert.True(t, out.Retryable, "network errors are retryable")

	out = classifySMTP(&timeoutError{})
	assert.True(t, out.Retryable, "timeouts are retryable")

	out = classifySMTP(errors.New("451 4.7.1 try again later"))
	assert.True(t, out.Retryable, "4xx reply codes are retryable")

	out = classifySMTP(errors.New("550 5.1.1 user unknown"))
	assert.False(t, out.Retryable, "5xx rejections are terminal")
	assert.False(t, out.Success)
}

func TestExtractEmail(t *testing.T) {
	assert.Equal(t, "a@b.example", extractEmail("Name <a@b.example>"))
	assert.Equal(t, "a@b.example", extractEmail("a@b.example"))
}

type timeoutError struct{}

func (*timeoutError) Error() string   { return "i/o timeout" }
func (*timeoutError) Timeout() bool   { return true }
func (*timeoutError) Temporary() bool { return true }

var _ net.Error = (*timeoutError)(nil)
