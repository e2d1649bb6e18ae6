// Package event holds the append-only audit log entries attached to findings.
package event

import (
	"time"

	"github.com/google/uuid"
)

// Type classifies an event.
type Type string

const (
	TypeCreated        Type = "created"
	TypeStatusChanged  Type = "status_changed"
	TypeSeverityChange Type = "severity_changed"
	TypeUpdated        Type = "updated"
	TypeSeen           Type = "seen"
)

// Event is an audit entry about a finding. Events are never modified once
// appended.
type Event struct {
	ID        string    `json:"id"`
	FindingID string    `json:"finding_id"`
	Type      Type      `json:"type"`
	Severity  string    `json:"severity"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// New creates an info event for findingID stamped now.
func New(findingID string, typ Type, message string) *Event {
	return &Event{
		ID:        uuid.New().String(),
		FindingID: findingID,
		Type:      typ,
		Severity:  "info",
		Message:   message,
		CreatedAt: time.Now(),
	}
}
