package models

import "encoding/json"

// Statuses reported by the structured upstream (status_code 0..8) plus the
// fallback. The legacy upstream reuses Delivered/Unknown and otherwise emits
// a countdown like "3 days".
const (
	DeliveryStatusDelivered         = "Delivered"
	DeliveryStatusFrozen            = "Frozen"
	DeliveryStatusInTransit         = "In Transit"
	DeliveryStatusAwaitingPickup    = "Awaiting Pickup"
	DeliveryStatusOutForDelivery    = "Out for Delivery"
	DeliveryStatusNotFound          = "Not Found"
	DeliveryStatusFailedAttempt     = "Failed Attempt"
	DeliveryStatusDeliveryException = "Delivery Exception"
	DeliveryStatusInfoReceived      = "Info Received"
	DeliveryStatusUnknown           = "Unknown"
)

// NoEventsText is shown as the latest event of a delivery without history.
const NoEventsText = "No events"

type UpstreamKind string

const (
	UpstreamStructured UpstreamKind = "structured"
	UpstreamLegacy     UpstreamKind = "legacy"
)

type DeliveryRecord struct {
	Identifier  string  `json:"tracking_number"`
	Description *string `json:"description,omitempty"`
	Carrier     string  `json:"carrier"`
	Status      string  `json:"status"`

	LatestEvent    string  `json:"latest_event,omitempty"`
	LatestDate     string  `json:"latest_date,omitempty"`
	LatestLocation *string `json:"latest_location,omitempty"`

	// Events keep the upstream order (most recent first).
	Events []DeliveryEvent `json:"events"`

	ExpectedDate *string `json:"date_expected,omitempty"`
	ExtraInfo    *string `json:"extra_information,omitempty"`
}

type DeliveryEvent struct {
	Event    string          `json:"event"`
	Date     string          `json:"date,omitempty"`
	Location *string         `json:"location,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}

// IsDelivered reports whether the record no longer counts as active.
func (r DeliveryRecord) IsDelivered() bool {
	return r.Status == DeliveryStatusDelivered
}
