// Package delivery coordinates fan-out of notification events across channel
// dispatchers and records every attempt in the delivery history.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Outcome is the normalized result of one dispatch attempt. Dispatchers never
// return Go errors for provider failures; everything a provider can do wrong
// is captured here so the coordinator and scheduler share one view.
type Outcome struct {
	Success           bool   `json:"success"`
	ProviderMessageID string `json:"provider_message_id,omitempty"`
	StatusCode        int    `json:"status_code,omitempty"`
	ErrorMessage      string `json:"error_message,omitempty"`
	Retryable         bool   `json:"retryable"`
}

// OK returns a successful outcome.
func OK(statusCode int, providerMessageID string) Outcome {
	return Outcome{Success: true, StatusCode: statusCode, ProviderMessageID: providerMessageID}
}

// Terminal returns a non-retryable failure outcome.
func Terminal(statusCode int, message string) Outcome {
	return Outcome{StatusCode: statusCode, ErrorMessage: message}
}

// Transient returns a retryable failure outcome.
func Transient(statusCode int, message string) Outcome {
	return Outcome{StatusCode: statusCode, ErrorMessage: message, Retryable: true}
}

// Classify maps an HTTP status and transport error to an outcome. It is a
// pure function of its inputs: 2xx succeeds; timeouts, network failures, 429
// and 5xx are retryable; any other 4xx is terminal.
func Classify(statusCode int, err error) Outcome {
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return Transient(0, "request timed out")
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return Transient(0, "request timed out: "+err.Error())
		}
		var opErr *net.OpError
		if errors.As(err, &opErr) {
			return Transient(0, "network error: "+err.Error())
		}
		return Transient(0, err.Error())
	}

	switch {
	case statusCode >= 200 && statusCode < 300:
		return OK(statusCode, "")
	case statusCode == http.StatusTooManyRequests:
		return Transient(statusCode, "rate limited by provider")
	case statusCode >= 500:
		return Transient(statusCode, fmt.Sprintf("provider returned %d", statusCode))
	default:
		return Terminal(statusCode, fmt.Sprintf("provider rejected request with %d", statusCode))
	}
}
