// Package email delivers notifications by email, either over SMTP with
// STARTTLS or through the Postmark transactional API.
package email

import (
	"time"

	"github.com/reportflow/notifier/internal/delivery"
)

// Supported providers.
const (
	ProviderSMTP     = "smtp"
	ProviderPostmark = "postmark"
)

// Config holds email sender configuration for both providers.
type Config struct {
	Provider    string // "smtp" or "postmark"
	FromAddress string

	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string

	PostmarkServerToken  string
	PostmarkAccountToken string

	Timeout time.Duration
}

// NewSender creates the configured email dispatcher. Misconfiguration is a
// startup error, never a delivery-time one.
func NewSender(config Config) (delivery.Dispatcher, error) {
	if config.FromAddress == "" {
		return nil, &delivery.ConfigurationError{Component: "email", Message: "from address is required"}
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}

	switch config.Provider {
	case ProviderSMTP, "":
		return newSMTPSender(config)
	case ProviderPostmark:
		return newPostmarkSender(config)
	}
	return nil, &delivery.ConfigurationError{Component: "email", Message: "unknown provider " + config.Provider}
}
