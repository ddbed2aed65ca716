package messages

import "time"

// RefreshRequested asks the worker for an out-of-schedule poll cycle.
type RefreshRequested struct {
	RequestedAt time.Time `json:"requested_at"`
	Reason      string    `json:"reason,omitempty"`
}
