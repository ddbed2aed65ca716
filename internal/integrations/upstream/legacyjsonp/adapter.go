// Package legacyjsonp reads the legacy order feed: JSON, optionally wrapped in
// a JSONP call, made of positional order rows.
package legacyjsonp

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/BearBump/ParcelPoll/internal/integrations/upstream"
	"github.com/BearBump/ParcelPoll/internal/models"
	"github.com/BearBump/ParcelPoll/internal/transport/httpclient"
)

const deliveryDateLayout = "2006-01-02 15:04:05"

type Adapter struct {
	endpointURL  string
	sessionToken string
	now          func() time.Time
}

func New(endpointURL, sessionToken string) *Adapter {
	return &Adapter{
		endpointURL:  endpointURL,
		sessionToken: sessionToken,
		now:          time.Now,
	}
}

// WithClock replaces the clock used for delivery countdowns. Delivery dates
// are read in the clock's location.
func (a *Adapter) WithClock(now func() time.Time) *Adapter {
	if now != nil {
		a.now = now
	}
	return a
}

func (a *Adapter) Kind() models.UpstreamKind { return models.UpstreamLegacy }

func (a *Adapter) Request() httpclient.Request {
	h := http.Header{}
	h.Set("Cookie", "account_token="+a.sessionToken)
	return httpclient.Request{URL: a.endpointURL, Header: h}
}

func (a *Adapter) Decode(resp httpclient.Response) ([]models.DeliveryRecord, error) {
	rows, err := decodeRows(resp.Body)
	if err != nil {
		return nil, err
	}

	now := a.now()
	out := make([]models.DeliveryRecord, 0, len(rows))
	for i, row := range rows {
		o, err := parseOrder(row)
		if err != nil {
			slog.Warn("skip legacy order row", "index", i, "error", err.Error())
			continue
		}
		out = append(out, a.toRecord(o, now))
	}
	return out, nil
}

func (a *Adapter) toRecord(o order, now time.Time) models.DeliveryRecord {
	rec := models.DeliveryRecord{
		Identifier:   o.Number,
		Description:  o.Name,
		Carrier:      upstream.CarrierName(o.CarrierCode),
		LatestEvent:  models.NoEventsText,
		Events:       make([]models.DeliveryEvent, 0, len(o.Events)),
		ExpectedDate: o.DeliveryDate,
	}
	for _, e := range o.Events {
		rec.Events = append(rec.Events, models.DeliveryEvent{
			Event:    e.Text,
			Date:     e.Date,
			Location: e.Location,
			Payload:  e.Raw,
		})
	}

	statusText := models.DeliveryStatusUnknown
	if len(o.Events) > 0 && o.Events[0].Text != "" {
		statusText = o.Events[0].Text
		rec.LatestEvent = o.Events[0].Text
		rec.LatestDate = o.Events[0].Date
		rec.LatestLocation = o.Events[0].Location
	}

	rec.Status = deriveStatus(o, statusText, now)
	return rec
}

func deriveStatus(o order, statusText string, now time.Time) string {
	if strings.Contains(strings.ToLower(statusText), "delivered") {
		return models.DeliveryStatusDelivered
	}
	if o.DeliveryDate == nil {
		return models.DeliveryStatusUnknown
	}

	due, err := time.ParseInLocation(deliveryDateLayout, *o.DeliveryDate, now.Location())
	if err != nil {
		slog.Warn("unparsable delivery date", "order", o.Number, "value", *o.DeliveryDate, "error", err.Error())
		return models.DeliveryStatusUnknown
	}
	if days := daysUntil(now, due); days > 0 {
		return countdown(days)
	}
	return models.DeliveryStatusUnknown
}

// daysUntil counts calendar days between the two dates; the time of day is ignored.
func daysUntil(now, due time.Time) int {
	from := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	to := time.Date(due.Year(), due.Month(), due.Day(), 0, 0, 0, 0, time.UTC)
	return int(to.Sub(from).Hours() / 24)
}

func countdown(days int) string {
	if days == 1 {
		return "1 day"
	}
	return fmt.Sprintf("%d days", days)
}
