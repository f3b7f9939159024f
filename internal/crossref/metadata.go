package crossref

import (
	"encoding/json"
	"time"
)

type indexedEnvelope struct {
	Indexed struct {
		DateTime string `json:"date-time"`
	} `json:"indexed"`
}

// IndexDate extracts a work item's "indexed"."date-time" field, returning
// ok=false if the field is absent or fails to parse as RFC 3339/ISO 8601.
func IndexDate(item json.RawMessage) (t time.Time, ok bool) {
	var env indexedEnvelope
	if err := json.Unmarshal(item, &env); err != nil || env.Indexed.DateTime == "" {
		return time.Time{}, false
	}

	parsed, err := time.Parse(time.RFC3339, env.Indexed.DateTime)
	if err != nil {
		return time.Time{}, false
	}

	return parsed, true
}
