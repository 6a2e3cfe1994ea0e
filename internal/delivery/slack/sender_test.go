package slack

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/reportflow/notifier/internal/delivery"
	"github.com/reportflow/notifier/internal/domain"
	"github.com/reportflow/notifier/internal/render"
)

func blockMessage() render.Message {
	return render.Message{
		Channel: domain.ChannelSlack,
		Subject: "Weekly report submitted",
		Payload: []byte(`{"text":"Weekly report submitted","blocks":[]}`),
	}
}

func TestSendSuccess(t *testing.T) {
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	s := NewSender(Config{})
	out := s.Send(context.Background(), blockMessage(), delivery.Target{Address: srv.URL})

	assert.True(t, out.Success)
	assert.JSONEq(t, string(blockMessage().Payload), string(gotBody))
}

func TestSendInvalidPayloadIsTerminal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("invalid_payload"))
	}))
	defer srv.Close()

	s := NewSender(Config{})
	out := s.Send(context.Background(), blockMessage(), delivery.Target{Address: srv.URL})

	assert.False(t, out.Success)
	assert.False(t, out.Retryable)
	assert.Equal(t, "slack: invalid_payload", out.ErrorMessage)
}

func TestSendServerErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	s := NewSender(Config{})
	out := s.Send(context.Background(), blockMessage(), delivery.Target{Address: srv.URL})

	assert.False(t, out.Success)
	assert.True(t, out.Retryable)
}

func TestSendEmptyURLIsTerminal(t *testing.T) {
	s := NewSender(Config{})
	out := s.Send(context.Background(), blockMessage(), delivery.Target{})

	assert.False(t, out.Success)
	assert.False(t, out.Retryable)
}
