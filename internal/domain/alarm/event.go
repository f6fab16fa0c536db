// Package alarm defines the domain types for relayed monitoring alarms.
package alarm

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"
)

// Event is a single received alarm. Events are immutable once the store
// has assigned their ID.
type Event struct {
	ID            uint64          `json:"id"`
	ReceivedAt    time.Time       `json:"received_at"`
	SourceAddress string          `json:"source_address"`
	Headers       Headers         `json:"headers"`
	Body          json.RawMessage `json:"body"`
}

// Draft is an Event that has not been stored yet and therefore has no ID.
type Draft struct {
	ReceivedAt    time.Time
	SourceAddress string
	Headers       Headers
	Body          json.RawMessage
}

// WithID returns the stored form of the draft.
func (d Draft) WithID(id uint64) Event {
	return Event{
		ID:            id,
		ReceivedAt:    d.ReceivedAt,
		SourceAddress: d.SourceAddress,
		Headers:       d.Headers,
		Body:          d.Body,
	}
}

// Snapshot is the catch-up payload: every retained event, oldest first.
type Snapshot struct {
	Items []Event `json:"items"`
}

// NewSnapshot wraps events, never producing a null items array.
func NewSnapshot(events []Event) Snapshot {
	if events == nil {
		events = []Event{}
	}
	return Snapshot{Items: events}
}

// Headers maps lower-cased header names to their values.
// A header with a single value encodes as a JSON string, a repeated
// header as an array of strings.
type Headers map[string][]string

// credentialHeaders are never stored: alarms are readable by every
// subscriber and forwarded downstream, unlike the request that carried them.
var credentialHeaders = map[string]bool{
	"authorization":       true,
	"proxy-authorization": true,
	"cookie":              true,
}

// HeadersFrom copies an http.Header into Headers, leaving out credentials.
func HeadersFrom(h http.Header) Headers {
	out := make(Headers, len(h))
	for name, values := range h {
		key := strings.ToLower(name)
		if credentialHeaders[key] {
			continue
		}
		out[key] = append(out[key], values...)
	}
	return out
}

// Get returns the first value of the named header.
func (h Headers) Get(name string) string {
	if v := h[strings.ToLower(name)]; len(v) > 0 {
		return v[0]
	}
	return ""
}

// MarshalJSON implements json.Marshaler.
func (h Headers) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(h))
	for k, v := range h {
		switch len(v) {
		case 0:
			out[k] = ""
		case 1:
			out[k] = v[0]
		default:
			out[k] = v
		}
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler.
func (h *Headers) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(Headers, len(raw))
	for k, v := range raw {
		var single string
		if err := json.Unmarshal(v, &single); err == nil {
			out[k] = []string{single}
			continue
		}
		var multi []string
		if err := json.Unmarshal(v, &multi); err != nil {
			return err
		}
		out[k] = multi
	}
	*h = out
	return nil
}
