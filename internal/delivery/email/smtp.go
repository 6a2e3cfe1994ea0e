package email

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strings"

	"github.com/reportflow/notifier/internal/delivery"
	"github.com/reportflow/notifier/internal/domain"
	"github.com/reportflow/notifier/internal/render"
)

const mimeBoundary = "reportflow-alt-boundary"

// SMTPSender delivers email over SMTP with STARTTLS.
type SMTPSender struct {
	config Config
	auth   smtp.Auth
}

func newSMTPSender(config Config) (*SMTPSender, error) {
	if config.SMTPHost == "" {
		return nil, &delivery.ConfigurationError{Component: "email", Message: "SMTP host is required"}
	}
	if config.SMTPPort == 0 {
		config.SMTPPort = 587
	}

	var auth smtp.Auth
	if config.SMTPUser != "" && config.SMTPPassword != "" {
		auth = smtp.PlainAuth("", config.SMTPUser, config.SMTPPassword, config.SMTPHost)
	}

	return &SMTPSender{config: config, auth: auth}, nil
}

// Channel returns the channel this sender serves.
func (s *SMTPSender) Channel() domain.Channel {
	return domain.ChannelEmail
}

// Send delivers one message to target.Address.
func (s *SMTPSender) Send(ctx context.Context, msg render.Message, target delivery.Target) delivery.Outcome {
	if target.Address == "" {
		return delivery.Terminal(0, "recipient address is empty")
	}

	if target.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, target.Timeout)
		defer cancel()
	}

	raw := s.buildMessage(msg, target.Address)
	if err := s.sendWithSTARTTLS(ctx, target.Address, raw); err != nil {
		return classifySMTP(err)
	}
	return delivery.OK(0, "")
}

// buildMessage constructs a multipart/alternative MIME message carrying both
// the text and HTML bodies.
func (s *SMTPSender) buildMessage(msg render.Message, to string) []byte {
	var b strings.Builder

	// Headers in deterministic order
	b.WriteString(fmt.Sprintf("From: %s\r\n", s.config.FromAddress))
	b.WriteString(fmt.Sprintf("To: %s\r\n", to))
	b.WriteString(fmt.Sprintf("Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject)))
	b.WriteString("MIME-Version: 1.0\r\n")

	if msg.BodyHTML == "" {
		b.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n")
		b.WriteString("\r\n")
		b.WriteString(msg.BodyText)
		return []byte(b.String())
	}

	b.WriteString(fmt.Sprintf("Content-Type: multipart/alternative; boundary=%q\r\n", mimeBoundary))
	b.WriteString("\r\n")

	b.WriteString(fmt.Sprintf("--%s\r\n", mimeBoundary))
	b.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n\r\n")
	b.WriteString(msg.BodyText)
	b.WriteString("\r\n")

	b.WriteString(fmt.Sprintf("--%s\r\n", mimeBoundary))
	b.WriteString("Content-Type: text/html; charset=\"utf-8\"\r\n\r\n")
	b.WriteString(msg.BodyHTML)
	b.WriteString("\r\n")

	b.WriteString(fmt.Sprintf("--%s--\r\n", mimeBoundary))
	return []byte(b.String())
}

// sendWithSTARTTLS sends an email using STARTTLS (port 587).
func (s *SMTPSender) sendWithSTARTTLS(ctx context.Context, recipient string, raw []byte) error {
	addr := fmt.Sprintf("%s:%d", s.config.SMTPHost, s.config.SMTPPort)

	dialer := &net.Dialer{Timeout: s.config.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial smtp: %w", err)
	}
	defer func() { _ = conn.Close() }()

	client, err := smtp.NewClient(conn, s.config.SMTPHost)
	if err != nil {
		return fmt.Errorf("create smtp client: %w", err)
	}
	defer func() { _ = client.Close() }()

	if ok, _ := client.Extension("STARTTLS"); ok {
		tlsConfig := &tls.Config{
			ServerName: s.config.SMTPHost,
			MinVersion: tls.VersionTLS12,
		}
		if err := client.StartTLS(tlsConfig); err != nil {
			return fmt.Errorf("starttls: %w", err)
		}
	}

	if s.auth != nil {
		if err := client.Auth(s.auth); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}

	if err := client.Mail(extractEmail(s.config.FromAddress)); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	if err := client.Rcpt(recipient); err != nil {
		return fmt.Errorf("rcpt to: %w", err)
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close data: %w", err)
	}

	return client.Quit()
}

// extractEmail extracts the address from formats like "Name <email@example.com>".
func extractEmail(address string) string {
	if idx := strings.Index(address, "<"); idx != -1 {
		end := strings.Index(address, ">")
		if end > idx {
			return address[idx+1 : end]
		}
	}
	return address
}

// classifySMTP maps SMTP failures onto outcomes. Network problems and 4xx
// reply codes are temporary; 5xx rejections are not.
func classifySMTP(err error) delivery.Outcome {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return delivery.Transient(0, err.Error())
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return delivery.Transient(0, err.Error())
	}

	errStr := err.Error()

	// SMTP 4xx reply codes are temporary failures
	for _, code := range []string{"421", "450", "451", "452"} {
		if strings.Contains(errStr, code) {
			return delivery.Transient(0, errStr)
		}
	}

	// 552 mailbox full is sometimes temporary
	if strings.Contains(errStr, "552") {
		return delivery.Transient(0, errStr)
	}

	return delivery.Terminal(0, errStr)
}
