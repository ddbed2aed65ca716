package upstream

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// ScalarString renders a JSON string or number as text. JSON null reads as "".
// Anything else (objects, arrays, booleans, missing values) is reported as not ok.
func ScalarString(raw json.RawMessage) (string, bool) {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, true
	}
	var n json.Number
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&n); err == nil {
		if i, err := n.Int64(); err == nil {
			return strconv.FormatInt(i, 10), true
		}
		return n.String(), true
	}
	return "", false
}
