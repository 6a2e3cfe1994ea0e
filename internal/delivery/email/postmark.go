package email

import (
	"context"
	"fmt"

	"github.com/mrz1836/postmark"

	"github.com/reportflow/notifier/internal/delivery"
	"github.com/reportflow/notifier/internal/domain"
	"github.com/reportflow/notifier/internal/render"
)

// Postmark API error codes that indicate a temporary condition.
const (
	postmarkCodeMaintenance = 100
	postmarkCodeRateLimit   = 429
)

// PostmarkSender delivers email through the Postmark transactional API.
type PostmarkSender struct {
	client *postmark.Client
	from   string
}

func newPostmarkSender(config Config) (*PostmarkSender, error) {
	if config.PostmarkServerToken == "" {
		return nil, &delivery.ConfigurationError{Component: "email", Message: "postmark server token is required"}
	}
	return &PostmarkSender{
		client: postmark.NewClient(config.PostmarkServerToken, config.PostmarkAccountToken),
		from:   config.FromAddress,
	}, nil
}

// Channel returns the channel this sender serves.
func (s *PostmarkSender) Channel() domain.Channel {
	return domain.ChannelEmail
}

// Send delivers one message via the Postmark API.
func (s *PostmarkSender) Send(ctx context.Context, msg render.Message, target delivery.Target) delivery.Outcome {
	if target.Address == "" {
		return delivery.Terminal(0, "recipient address is empty")
	}

	if target.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, target.Timeout)
		defer cancel()
	}

	resp, err := s.client.SendEmail(ctx, postmark.Email{
		From:     s.from,
		To:       target.Address,
		Subject:  msg.Subject,
		TextBody: msg.BodyText,
		HTMLBody: msg.BodyHTML,
		Tag:      string(target.EventType),
	})
	if err != nil {
		return delivery.Classify(0, err)
	}

	if resp.ErrorCode > 0 {
		message := fmt.Sprintf("postmark error %d: %s", resp.ErrorCode, resp.Message)
		switch resp.ErrorCode {
		case postmarkCodeMaintenance, postmarkCodeRateLimit:
			return delivery.Transient(0, message)
		}
		return delivery.Terminal(0, message)
	}

	return delivery.OK(0, resp.MessageID)
}
