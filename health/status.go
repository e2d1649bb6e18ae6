package health

// Health states, from best to worst.
const (
	// StateHealthy indicates the component is fully operational.
	StateHealthy = "healthy"

	// StateDegraded indicates the component works with reduced capability.
	StateDegraded = "degraded"

	// StateUnhealthy indicates the component is not operational.
	StateUnhealthy = "unhealthy"
)

// Status is the health of a component or of the whole service.
type Status struct {
	// State is one of StateHealthy, StateDegraded or StateUnhealthy.
	State string `json:"status"`

	// Message is a human-readable description of the state.
	Message string `json:"message,omitempty"`

	// Details carries diagnostic context such as the failing address.
	Details map[string]any `json:"details,omitempty"`
}

// IsHealthy returns true if the state is StateHealthy.
func (s Status) IsHealthy() bool {
	return s.State == StateHealthy
}

// IsDegraded returns true if the state is StateDegraded.
func (s Status) IsDegraded() bool {
	return s.State == StateDegraded
}

// IsUnhealthy returns true if the state is StateUnhealthy.
func (s Status) IsUnhealthy() bool {
	return s.State == StateUnhealthy
}

// Healthy creates a healthy status.
func Healthy(message string) Status {
	return Status{State: StateHealthy, Message: message}
}

// Degraded creates a degraded status.
func Degraded(message string, details map[string]any) Status {
	return Status{State: StateDegraded, Message: message, Details: details}
}

// Unhealthy creates an unhealthy status.
func Unhealthy(message string, details map[string]any) Status {
	return Status{State: StateUnhealthy, Message: message, Details: details}
}
