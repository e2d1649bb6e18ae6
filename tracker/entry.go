package tracker

import (
	"fmt"
	"sort"
	"time"
)

// Level is the severity of a timeline entry.
type Level string

const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
)

// Source tells which step of the timeline produced an entry. Sources are
// ordered: on equal timestamps origin entries come first, then scan entries,
// then events.
type Source int

const (
	// SourceOrigin is the single seed entry for the originating scan.
	SourceOrigin Source = iota

	// SourceScan is an entry for a finished sibling scan, matched or not.
	SourceScan

	// SourceEvent is an entry copied from the finding's event log.
	SourceEvent
)

// String returns the source name.
func (s Source) String() string {
	switch s {
	case SourceOrigin:
		return "origin"
	case SourceScan:
		return "scan"
	case SourceEvent:
		return "event"
	default:
		return "unknown"
	}
}

// MarshalText encodes the source as its name.
func (s Source) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a source name written by MarshalText.
func (s *Source) UnmarshalText(text []byte) error {
	switch string(text) {
	case "origin":
		*s = SourceOrigin
	case "scan":
		*s = SourceScan
	case "event":
		*s = SourceEvent
	default:
		return fmt.Errorf("unknown timeline source %q", text)
	}
	return nil
}

// Entry is one line of a finding's timeline. Messages are plain text; the
// ids let a presentation layer build links.
type Entry struct {
	At      time.Time `json:"at"`
	Level   Level     `json:"level"`
	Source  Source    `json:"source"`
	Message string    `json:"message"`

	// ScanID is set on origin and scan entries.
	ScanID string `json:"scan_id,omitempty"`

	// ScanDefinitionID is set on origin and scan entries.
	ScanDefinitionID string `json:"scan_definition_id,omitempty"`

	// RawFindingID is set on scan entries whose scan reported the issue.
	RawFindingID string `json:"raw_finding_id,omitempty"`

	// EventID is set on event entries.
	EventID string `json:"event_id,omitempty"`

	// seq is the enumeration position within the entry's source.
	seq int
}

// Timeline is a chronologically ordered list of entries.
type Timeline []Entry

// Count returns the number of entries from source.
func (t Timeline) Count(source Source) int {
	n := 0
	for _, e := range t {
		if e.Source == source {
			n++
		}
	}
	return n
}

// sortEntries orders entries by (timestamp, source, enumeration order).
// Entries sharing a timestamp are all kept.
func sortEntries(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.At.Equal(b.At) {
			return a.At.Before(b.At)
		}
		if a.Source != b.Source {
			return a.Source < b.Source
		}
		return a.seq < b.seq
	})
}
