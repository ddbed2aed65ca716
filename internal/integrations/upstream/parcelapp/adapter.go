package parcelapp

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/BearBump/ParcelPoll/internal/integrations/upstream"
	"github.com/BearBump/ParcelPoll/internal/models"
	"github.com/BearBump/ParcelPoll/internal/transport/httpclient"
	"github.com/pkg/errors"
)

const DefaultBaseURL = "https://api.parcel.app/external/deliveries/"

var statusByCode = map[int]string{
	0: models.DeliveryStatusDelivered,
	1: models.DeliveryStatusFrozen,
	2: models.DeliveryStatusInTransit,
	3: models.DeliveryStatusAwaitingPickup,
	4: models.DeliveryStatusOutForDelivery,
	5: models.DeliveryStatusNotFound,
	6: models.DeliveryStatusFailedAttempt,
	7: models.DeliveryStatusDeliveryException,
	8: models.DeliveryStatusInfoReceived,
}

type Adapter struct {
	baseURL string
	apiKey  string
}

func New(baseURL, apiKey string) *Adapter {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Adapter{baseURL: baseURL, apiKey: apiKey}
}

func (a *Adapter) Kind() models.UpstreamKind { return models.UpstreamStructured }

func (a *Adapter) Request() httpclient.Request {
	h := http.Header{}
	h.Set("api-key", a.apiKey)
	return httpclient.Request{
		URL:    a.baseURL,
		Header: h,
		Query:  url.Values{"filter_mode": []string{"active"}},
	}
}

type respEvent struct {
	Event    json.RawMessage `json:"event"`
	Date     json.RawMessage `json:"date"`
	Location json.RawMessage `json:"location"`
}

// respDelivery keeps every field raw so one badly typed value costs only that
// value, not the whole response.
type respDelivery struct {
	TrackingNumber   json.RawMessage `json:"tracking_number"`
	Description      json.RawMessage `json:"description"`
	CarrierCode      json.RawMessage `json:"carrier_code"`
	StatusCode       json.RawMessage `json:"status_code"`
	DateExpected     json.RawMessage `json:"date_expected"`
	ExtraInformation json.RawMessage `json:"extra_information"`
	Events           json.RawMessage `json:"events"`
}

type respBody struct {
	Success      bool              `json:"success"`
	ErrorMessage json.RawMessage   `json:"error_message"`
	Deliveries   []json.RawMessage `json:"deliveries"`
}

// Decode ignores the declared content type: the upstream labels JSON as text/html.
// Deliveries without a readable tracking number are skipped.
func (a *Adapter) Decode(resp httpclient.Response) ([]models.DeliveryRecord, error) {
	var rb respBody
	if err := json.Unmarshal(resp.Body, &rb); err != nil {
		return nil, errors.Wrapf(upstream.ErrParse, "decode deliveries: %v", err)
	}
	if !rb.Success {
		msg, _ := upstream.ScalarString(rb.ErrorMessage)
		return nil, upstream.NewUpstreamError(msg)
	}

	out := make([]models.DeliveryRecord, 0, len(rb.Deliveries))
	for i, raw := range rb.Deliveries {
		var d respDelivery
		if err := json.Unmarshal(raw, &d); err != nil {
			slog.Warn("skip malformed delivery", "index", i, "error", err.Error())
			continue
		}
		tn, ok := upstream.ScalarString(d.TrackingNumber)
		if !ok || tn == "" {
			slog.Warn("skip delivery without tracking number", "index", i)
			continue
		}
		out = append(out, toRecord(tn, d))
	}
	return out, nil
}

func toRecord(tn string, d respDelivery) models.DeliveryRecord {
	carrier, _ := upstream.ScalarString(d.CarrierCode)
	rec := models.DeliveryRecord{
		Identifier:   tn,
		Description:  optionalString(tn, "description", d.Description),
		Carrier:      upstream.CarrierName(carrier),
		Status:       statusFromCode(tn, d.StatusCode),
		LatestEvent:  models.NoEventsText,
		ExpectedDate: optionalString(tn, "date_expected", d.DateExpected),
		ExtraInfo:    optionalString(tn, "extra_information", d.ExtraInformation),
	}

	var events []json.RawMessage
	if len(d.Events) > 0 && string(d.Events) != "null" {
		if err := json.Unmarshal(d.Events, &events); err != nil {
			slog.Warn("events is not a list", "tracking_number", tn, "error", err.Error())
			events = nil
		}
	}
	rec.Events = make([]models.DeliveryEvent, 0, len(events))
	for i, raw := range events {
		var e respEvent
		if err := json.Unmarshal(raw, &e); err != nil {
			slog.Warn("skip malformed event fields", "tracking_number", tn, "index", i, "error", err.Error())
		}
		text, _ := upstream.ScalarString(e.Event)
		date, _ := upstream.ScalarString(e.Date)
		rec.Events = append(rec.Events, models.DeliveryEvent{
			Event:    text,
			Date:     date,
			Location: optionalString(tn, "location", e.Location),
			Payload:  append(json.RawMessage(nil), raw...),
		})
	}

	if len(rec.Events) > 0 {
		first := rec.Events[0]
		rec.LatestEvent = first.Event
		rec.LatestDate = first.Date
		rec.LatestLocation = first.Location
	}
	return rec
}

// optionalString reads a nullable text field; empty and unreadable values become nil.
func optionalString(tn, field string, raw json.RawMessage) *string {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	s, ok := upstream.ScalarString(raw)
	if !ok {
		slog.Warn("ignore unreadable field", "tracking_number", tn, "field", field, "value", string(raw))
		return nil
	}
	if s == "" {
		return nil
	}
	return &s
}

func statusFromCode(trackingNumber string, raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return models.DeliveryStatusUnknown
	}
	var code int
	if err := json.Unmarshal(raw, &code); err != nil {
		slog.Warn("non-integer status code", "tracking_number", trackingNumber, "status_code", string(raw))
		return models.DeliveryStatusUnknown
	}
	st, ok := statusByCode[code]
	if !ok {
		slog.Warn("unknown status code", "tracking_number", trackingNumber, "status_code", code)
		return models.DeliveryStatusUnknown
	}
	return st
}
