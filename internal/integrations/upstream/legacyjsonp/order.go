package legacyjsonp

import (
	"bytes"
	"encoding/json"

	"github.com/BearBump/ParcelPoll/internal/integrations/upstream"
	"github.com/pkg/errors"
)

// Positions inside one legacy order row:
// [number, name, carrierCode, _, statusEvents, deliveryDate, ...]
const (
	fieldNumber = iota
	fieldName
	fieldCarrier
	_
	fieldEvents
	fieldDeliveryDate

	minOrderFields = fieldCarrier + 1
)

// order is the typed view of one positional row. Optional positions are nil
// when the row is too short or holds null.
type order struct {
	Number       string
	Name         *string
	CarrierCode  string
	Events       []statusEvent
	DeliveryDate *string
}

type statusEvent struct {
	Text     string
	Date     string
	Location *string
	Raw      json.RawMessage
}

// unwrap strips a call-expression wrapper `name(...)`. JavaScript grouping
// parentheses left inside the call are stripped too.
func unwrap(body []byte) []byte {
	b := bytes.TrimSpace(body)
	if len(b) > 0 && b[0] != '[' && b[0] != '{' {
		start := bytes.IndexByte(b, '(')
		end := bytes.LastIndexByte(b, ')')
		if start >= 0 && end > start {
			b = bytes.TrimSpace(b[start+1 : end])
		}
	}
	for len(b) >= 2 && b[0] == '(' && b[len(b)-1] == ')' {
		b = bytes.TrimSpace(b[1 : len(b)-1])
	}
	return b
}

// decodeRows returns the order rows of a legacy payload. The canonical shape is
// [[row, row, ...], ...]; payloads that carry the rows directly at the top
// level ([row, row, ...]) are accepted as well.
func decodeRows(body []byte) ([][]json.RawMessage, error) {
	payload := unwrap(body)

	var top any
	if err := json.Unmarshal(payload, &top); err != nil {
		return nil, errors.Wrapf(upstream.ErrParse, "decode legacy payload: %v", err)
	}
	outer, ok := top.([]any)
	if !ok {
		return nil, errors.Wrap(upstream.ErrFormat, "payload is not an array")
	}
	if len(outer) == 0 {
		return nil, errors.Wrap(upstream.ErrFormat, "payload is empty")
	}
	first, ok := outer[0].([]any)
	if !ok || len(first) == 0 {
		return nil, errors.Wrap(upstream.ErrFormat, "first element is empty or not an array")
	}

	var items []json.RawMessage
	if err := json.Unmarshal(payload, &items); err != nil {
		return nil, errors.Wrapf(upstream.ErrParse, "decode legacy payload: %v", err)
	}
	rows := items
	if _, nested := first[0].([]any); nested {
		if err := json.Unmarshal(items[0], &rows); err != nil {
			return nil, errors.Wrapf(upstream.ErrParse, "decode order list: %v", err)
		}
	}

	out := make([][]json.RawMessage, 0, len(rows))
	for _, r := range rows {
		var row []json.RawMessage
		if err := json.Unmarshal(r, &row); err != nil {
			// Not an array: keep the slot so the caller can report and skip it.
			row = nil
		}
		out = append(out, row)
	}
	return out, nil
}

// parseOrder validates one positional row once, here, so that mapping code
// only deals with named fields.
func parseOrder(row []json.RawMessage) (order, error) {
	if len(row) < minOrderFields {
		return order{}, errors.Errorf("order row has %d fields, want at least %d", len(row), minOrderFields)
	}

	var o order
	num, ok := upstream.ScalarString(row[fieldNumber])
	if !ok || num == "" {
		return order{}, errors.New("order number missing")
	}
	o.Number = num

	if s, ok := upstream.ScalarString(row[fieldName]); ok && s != "" {
		o.Name = &s
	}
	o.CarrierCode, _ = upstream.ScalarString(row[fieldCarrier])

	if len(row) > fieldEvents {
		o.Events = parseEvents(row[fieldEvents])
	}
	if len(row) > fieldDeliveryDate {
		if s, ok := upstream.ScalarString(row[fieldDeliveryDate]); ok && s != "" {
			o.DeliveryDate = &s
		}
	}
	return o, nil
}

// parseEvents keeps one entry per upstream status event, in upstream order.
// Entries that are not a non-empty array stay as blank events with their raw value.
func parseEvents(raw json.RawMessage) []statusEvent {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil
	}
	out := make([]statusEvent, 0, len(items))
	for _, it := range items {
		ev := statusEvent{Raw: it}
		var fields []json.RawMessage
		if err := json.Unmarshal(it, &fields); err != nil || len(fields) == 0 {
			out = append(out, ev)
			continue
		}
		ev.Text, _ = upstream.ScalarString(fields[0])
		if len(fields) > 1 {
			ev.Date, _ = upstream.ScalarString(fields[1])
		}
		if len(fields) > 2 {
			if s, ok := upstream.ScalarString(fields[2]); ok && s != "" {
				ev.Location = &s
			}
		}
		out = append(out, ev)
	}
	return out
}
