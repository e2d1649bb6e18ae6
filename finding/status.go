package finding

import "fmt"

// Status represents the triage state of a finding.
type Status string

const (
	// StatusNew indicates a finding nobody has looked at yet.
	StatusNew Status = "new"

	// StatusAck indicates a finding acknowledged by a user.
	StatusAck Status = "ack"

	// StatusConfirmed indicates a finding verified as valid.
	StatusConfirmed Status = "confirmed"

	// StatusMitigated indicates a finding with a compensating control in place.
	StatusMitigated Status = "mitigated"

	// StatusPatched indicates a finding fixed at the source.
	StatusPatched Status = "patched"

	// StatusClosed indicates a finding closed for any other reason.
	StatusClosed Status = "closed"

	// StatusFalsePositive indicates a finding determined to be invalid.
	StatusFalsePositive Status = "false-positive"
)

// IsValid returns true if the status is valid.
func (s Status) IsValid() bool {
	switch s {
	case StatusNew, StatusAck, StatusConfirmed, StatusMitigated,
		StatusPatched, StatusClosed, StatusFalsePositive:
		return true
	default:
		return false
	}
}

// IsOpen reports whether the finding still counts against its asset's risk.
func (s Status) IsOpen() bool {
	switch s {
	case StatusNew, StatusAck, StatusConfirmed:
		return true
	default:
		return false
	}
}

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// DisplayName returns a human-readable display name for the status.
func (s Status) DisplayName() string {
	switch s {
	case StatusNew:
		return "New"
	case StatusAck:
		return "Acknowledged"
	case StatusConfirmed:
		return "Confirmed"
	case StatusMitigated:
		return "Mitigated"
	case StatusPatched:
		return "Patched"
	case StatusClosed:
		return "Closed"
	case StatusFalsePositive:
		return "False Positive"
	default:
		return string(s)
	}
}

// ParseStatus parses a string into a Status value.
func ParseStatus(s string) (Status, error) {
	status := Status(s)
	if !status.IsValid() {
		return "", fmt.Errorf("invalid status: %s (want one of %v)", s, AllStatuses())
	}
	return status, nil
}

// AllStatuses returns all valid statuses.
func AllStatuses() []Status {
	return []Status{
		StatusNew,
		StatusAck,
		StatusConfirmed,
		StatusMitigated,
		StatusPatched,
		StatusClosed,
		StatusFalsePositive,
	}
}

// Confidence expresses how sure the reporting engine is about a finding.
type Confidence string

const (
	ConfidenceCertain   Confidence = "certain"
	ConfidenceFirm      Confidence = "firm"
	ConfidenceTentative Confidence = "tentative"
)

// IsValid returns true if the confidence is one of the known levels.
func (c Confidence) IsValid() bool {
	switch c {
	case ConfidenceCertain, ConfidenceFirm, ConfidenceTentative:
		return true
	default:
		return false
	}
}
