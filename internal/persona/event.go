package persona

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType classifies an entry in the event log.
type EventType string

const (
	EventInvocation EventType = "invocation"
	EventEvolution  EventType = "evolution"
	EventCrisis     EventType = "crisis"
	EventEmergence  EventType = "emergence"
)

// Valid reports whether t is one of the known event types.
func (t EventType) Valid() bool {
	switch t {
	case EventInvocation, EventEvolution, EventCrisis, EventEmergence:
		return true
	}
	return false
}

// Event is an immutable record of something that happened to a persona.
// PersonaName is a lookup key, not a reference: history stays intact even
// if the persona disappears from the store.
type Event struct {
	ID              string    `json:"id,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
	PersonaName     string    `json:"persona_name"`
	Type            EventType `json:"event_type"`
	Context         string    `json:"context"`
	EmotionalWeight int       `json:"emotional_weight"`
	Tags            []string  `json:"tags"`
}

// legacyTimestampLayouts are accepted for documents written without a zone
// offset; such timestamps are read as UTC.
var legacyTimestampLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
}

// UnmarshalJSON accepts RFC 3339 timestamps as well as zone-less ISO 8601
// ones.
func (e *Event) UnmarshalJSON(data []byte) error {
	type plain Event
	var raw struct {
		plain
		Timestamp string `json:"timestamp"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*e = Event(raw.plain)
	if raw.Timestamp == "" {
		e.Timestamp = time.Time{}
		return nil
	}
	ts, err := parseTimestamp(raw.Timestamp)
	if err != nil {
		return err
	}
	e.Timestamp = ts
	return nil
}

func parseTimestamp(value string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts, nil
	}
	for _, layout := range legacyTimestampLayouts {
		if ts, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("persona: invalid event timestamp %q", value)
}

// EventLog is an append-only, chronologically ordered list of events.
type EventLog struct {
	events []Event
}

// NewEventLog seeds a log with previously persisted events.
func NewEventLog(events []Event) *EventLog {
	log := &EventLog{events: make([]Event, 0, len(events))}
	for _, e := range events {
		log.Append(e)
	}
	return log
}

// Append records an event at the end of the log.
func (l *EventLog) Append(e Event) {
	if e.Tags == nil {
		e.Tags = []string{}
	} else {
		e.Tags = cloneStrings(e.Tags)
	}
	l.events = append(l.events, e)
}

// Len returns the number of recorded events.
func (l *EventLog) Len() int {
	return len(l.events)
}

// All returns a copy of every event in append order.
func (l *EventLog) All() []Event {
	out := make([]Event, len(l.events))
	for i, e := range l.events {
		e.Tags = cloneStrings(e.Tags)
		out[i] = e
	}
	return out
}

// ForPersona returns the events recorded for one persona, in order.
func (l *EventLog) ForPersona(name string) []Event {
	var out []Event
	for _, e := range l.events {
		if e.PersonaName == name {
			e.Tags = cloneStrings(e.Tags)
			out = append(out, e)
		}
	}
	return out
}

// CountByType counts events of the given type.
func (l *EventLog) CountByType(t EventType) int {
	n := 0
	for _, e := range l.events {
		if e.Type == t {
			n++
		}
	}
	return n
}
