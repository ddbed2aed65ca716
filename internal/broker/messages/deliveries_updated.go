package messages

import (
	"time"

	"github.com/BearBump/ParcelPoll/internal/models"
)

// DeliveriesUpdated is published after every committed poll cycle, keyed by session key.
type DeliveriesUpdated struct {
	SessionID string              `json:"session_id"`
	Kind      models.UpstreamKind `json:"kind"`
	CheckedAt time.Time           `json:"checked_at"`
	Outcome   string              `json:"outcome"`
	Summary   string              `json:"summary"`

	LastSuccessAt *time.Time              `json:"last_success_at,omitempty"`
	Deliveries    []models.DeliveryRecord `json:"deliveries"`

	Error *string `json:"error,omitempty"`
}
