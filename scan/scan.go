// Package scan models scan runs and the recurring definitions they belong to.
//
// Scans that share a Definition are siblings: the tracker compares a finding
// against the raw findings of every finished sibling of its origin scan.
package scan

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a scan run.
type Status string

const (
	StatusCreated  Status = "created"
	StatusEnqueued Status = "enqueued"
	StatusStarted  Status = "started"
	StatusFinished Status = "finished"
	StatusError    Status = "error"
	StatusTrashed  Status = "trashed"
)

// IsValid returns true if the status is a known scan state.
func (s Status) IsValid() bool {
	switch s {
	case StatusCreated, StatusEnqueued, StatusStarted, StatusFinished, StatusError, StatusTrashed:
		return true
	default:
		return false
	}
}

// Definition is a reusable scan configuration. Every run of it is a Scan.
type Definition struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	EngineType string    `json:"engine_type"`
	OwnerID    string    `json:"owner_id"`
	CreatedAt  time.Time `json:"created_at"`
}

// Scan is one execution of a Definition.
type Scan struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	DefinitionID string    `json:"definition_id"`
	Status       Status    `json:"status"`
	EngineType   string    `json:"engine_type"`
	OwnerID      string    `json:"owner_id"`
	CreatedAt    time.Time `json:"created_at"`
	FinishedAt   time.Time `json:"finished_at,omitempty"`
}

// New creates a scan of definition def in the created state.
func New(def *Definition, title string) *Scan {
	return &Scan{
		ID:           uuid.New().String(),
		Title:        title,
		DefinitionID: def.ID,
		Status:       StatusCreated,
		EngineType:   def.EngineType,
		OwnerID:      def.OwnerID,
		CreatedAt:    time.Now(),
	}
}

// Finish marks the scan finished at t.
func (s *Scan) Finish(t time.Time) {
	s.Status = StatusFinished
	s.FinishedAt = t
}

// IsFinished reports whether the scan completed.
func (s *Scan) IsFinished() bool {
	return s.Status == StatusFinished
}

// String returns the scan title, or its id when untitled.
func (s *Scan) String() string {
	if s.Title != "" {
		return s.Title
	}
	return s.ID
}

// Validate checks the scan's required fields.
func (s *Scan) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("scan ID is required")
	}
	if !s.Status.IsValid() {
		return fmt.Errorf("invalid scan status: %s", s.Status)
	}
	if s.CreatedAt.IsZero() {
		return fmt.Errorf("created_at timestamp is required")
	}
	return nil
}

// ImportDefinitionID returns the id of the synthetic definition grouping
// every report import of one owner and engine.
func ImportDefinitionID(ownerID, engine string) string {
	return fmt.Sprintf("import:%s:%s", ownerID, engine)
}

// Less orders scans by creation time, then id.
func Less(a, b *Scan) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}
