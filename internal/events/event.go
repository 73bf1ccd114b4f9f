// Package events defines the typed change events carried by the relay and
// accepted by the sync intake endpoint.
package events

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

type Type string

const (
	CardCreate  Type = "card:create"
	CardUpdate  Type = "card:update"
	CardComment Type = "card:comment"
	BoardShare  Type = "board:share"
)

// Known reports whether the applier has semantics for t.
func (t Type) Known() bool {
	switch t {
	case CardCreate, CardUpdate, CardComment, BoardShare:
		return true
	}
	return false
}

var (
	// ErrMalformed marks an event that cannot be decoded or is missing required fields.
	ErrMalformed = errors.New("malformed event")
	// ErrEmpty is returned by Decode for a blank body.
	ErrEmpty = fmt.Errorf("%w: empty body", ErrMalformed)
)

// Event is one state change. ID is optional on the wire; when present it is
// the dedup key for the applier.
type Event struct {
	ID        string          `json:"id,omitempty"`
	Type      Type            `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Source    string          `json:"source,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// Decode parses a single serialized event.
func Decode(raw []byte) (Event, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return Event{}, ErrEmpty
	}

	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if ev.Type == "" {
		return Event{}, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	if ev.Timestamp.IsZero() {
		return Event{}, fmt.Errorf("%w: missing timestamp", ErrMalformed)
	}
	return ev, nil
}

// Encode serializes ev for forwarding.
func (e Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

func (e Event) decodeData(v any) error {
	if len(e.Data) == 0 || bytes.Equal(e.Data, []byte("null")) {
		return fmt.Errorf("%w: %s has no data", ErrMalformed, e.Type)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("%w: %s data: %v", ErrMalformed, e.Type, err)
	}
	return nil
}
