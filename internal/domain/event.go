// Package domain contains the core types shared across the delivery subsystem.
package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Priority orders notification urgency. Critical bypasses quiet hours.
type Priority int

// Priorities, lowest to highest.
const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

var priorityNames = map[Priority]string{
	PriorityLow:      "low",
	PriorityNormal:   "normal",
	PriorityHigh:     "high",
	PriorityCritical: "critical",
}

// ParsePriority converts a string to a Priority.
func ParsePriority(s string) (Priority, error) {
	for p, name := range priorityNames {
		if name == s {
			return p, nil
		}
	}
	return PriorityNormal, fmt.Errorf("unknown priority: %q", s)
}

func (p Priority) String() string {
	if name, ok := priorityNames[p]; ok {
		return name
	}
	return "normal"
}

// MarshalJSON encodes the priority as its string name.
func (p Priority) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

// UnmarshalJSON decodes a priority from its string name.
func (p *Priority) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParsePriority(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// NotificationType identifies the business event that triggered a notification.
type NotificationType string

// Notification types emitted by the report workflow.
const (
	TypeReportSubmitted NotificationType = "report_submitted"
	TypeReportApproved  NotificationType = "report_approved"
	TypeReportRejected  NotificationType = "report_rejected"
	TypeDeadlineDue     NotificationType = "deadline_due"
	TypeBroadcastAlert  NotificationType = "broadcast_alert"
	TypeTestMessage     NotificationType = "test_message"
)

// NotificationEvent is the immutable input to the delivery pipeline.
// It is created by the business layer and read-only downstream.
type NotificationEvent struct {
	ID                string            `json:"id"`
	Type              NotificationType  `json:"type"`
	Priority          Priority          `json:"priority"`
	Title             string            `json:"title"`
	Message           string            `json:"message"`
	RecipientID       string            `json:"recipient_id"`
	SenderID          string            `json:"sender_id,omitempty"`
	RelatedEntityID   string            `json:"related_entity_id,omitempty"`
	RelatedEntityType string            `json:"related_entity_type,omitempty"`
	ActionURL         string            `json:"action_url,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
}
