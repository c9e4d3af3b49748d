// Package feed turns the store's row-level change stream into typed events
// and delivers them to cancellable, scope-filtered subscriptions.
package feed

import (
	"bytes"
	"encoding/json"
	"fmt"
)

type EventType string

const (
	Insert EventType = "INSERT"
	Update EventType = "UPDATE"
	Delete EventType = "DELETE"
)

// EventMask selects which event types a subscription receives.
type EventMask uint8

const (
	MaskInsert EventMask = 1 << iota
	MaskUpdate
	MaskDelete

	MaskAll = MaskInsert | MaskUpdate | MaskDelete
)

func (t EventType) Mask() EventMask {
	switch t {
	case Insert:
		return MaskInsert
	case Update:
		return MaskUpdate
	case Delete:
		return MaskDelete
	default:
		return 0
	}
}

// Event is one row change. Old is empty for inserts, New is empty for deletes.
type Event struct {
	Table string          `json:"table"`
	Type  EventType       `json:"type"`
	Old   json.RawMessage `json:"old,omitempty"`
	New   json.RawMessage `json:"new,omitempty"`
}

var jsonNull = []byte("null")

func present(raw json.RawMessage) bool {
	return len(raw) > 0 && !bytes.Equal(bytes.TrimSpace(raw), jsonNull)
}

// Row returns the row the event is about: the new row, or the old one for deletes.
func (e Event) Row() json.RawMessage {
	if e.Type == Delete || !present(e.New) {
		return e.Old
	}
	return e.New
}

// Changed reports whether column differs between the old and new row of an
// update. Inserts and deletes always count as changed.
func (e Event) Changed(column string) bool {
	if e.Type != Update || !present(e.Old) || !present(e.New) {
		return true
	}
	before, err1 := field(e.Old, column)
	after, err2 := field(e.New, column)
	if err1 != nil || err2 != nil {
		return true
	}
	return !bytes.Equal(before, after)
}

func field(row json.RawMessage, column string) (json.RawMessage, error) {
	var cols map[string]json.RawMessage
	if err := json.Unmarshal(row, &cols); err != nil {
		return nil, err
	}
	return bytes.TrimSpace(cols[column]), nil
}

// ParseEvent decodes a change payload as produced by the notify_chat_change trigger.
func ParseEvent(payload []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return ev, fmt.Errorf("parse event: %w", err)
	}
	if ev.Table == "" {
		return ev, fmt.Errorf("parse event: missing table")
	}
	if ev.Type.Mask() == 0 {
		return ev, fmt.Errorf("parse event: unknown type %q", ev.Type)
	}
	if !present(ev.Row()) {
		return ev, fmt.Errorf("parse event: %s %s without row", ev.Table, ev.Type)
	}
	return ev, nil
}
