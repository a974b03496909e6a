package dispatch

import (
	"fmt"
	"time"
)

// EventType identifies one daily broadcast event. The set is closed:
// unknown types are rejected at the trigger, never defaulted.
type EventType string

const (
	PeriodStart EventType = "PERIOD_START"
	PeriodEnd   EventType = "PERIOD_END"
)

func ParseEventType(s string) (EventType, error) {
	t := EventType(s)
	if _, ok := templates[t]; !ok {
		return "", fmt.Errorf("unknown event type %q", s)
	}
	return t, nil
}

// Payload is the notification content pushed to clients. Built per
// trigger, serialized once per dispatch, never persisted.
type Payload struct {
	Title string `json:"title"`
	Body  string `json:"body"`
	URL   string `json:"url"`
	Badge int    `json:"badge,omitempty"`
}

var templates = map[EventType]Payload{
	PeriodStart: {
		Title: "Seiryo Hall",
		Body:  "Evening study starts at 19:30. Please be at your desk.",
		URL:   "/",
	},
	PeriodEnd: {
		Title: "Seiryo Hall",
		Body:  "Evening study is over. Free time until roll call.",
		URL:   "/",
	},
}

// TemplateFor returns the fixed payload for a broadcast event type.
func TemplateFor(t EventType) (Payload, bool) {
	p, ok := templates[t]
	return p, ok
}

type FailureKind string

const (
	// FailureExpired means the push service reported the endpoint
	// permanently invalid (HTTP 404/410); the subscription must be pruned.
	FailureExpired FailureKind = "expired"
	// FailureTransient covers every other failure. No pruning, no retry.
	FailureTransient FailureKind = "transient"
)

// Outcome is the result of one delivery attempt to one subscription.
type Outcome struct {
	SubscriptionID string
	OK             bool
	Kind           FailureKind
	StatusCode     int
}

// Result is what a fan-out dispatch reports back: how many deliveries
// succeeded out of how many were attempted.
type Result struct {
	Sent  int `json:"sent"`
	Total int `json:"total"`
}

// LogEntry is the append-only record of one completed broadcast
// dispatch, keyed by (EventDate, EventType). At most one entry per key
// ever exists; that uniqueness is the whole dedup mechanism.
type LogEntry struct {
	EventDate  time.Time `json:"event_date"`
	EventType  EventType `json:"event_type"`
	SentCount  int       `json:"sent_count"`
	RecordedAt time.Time `json:"recorded_at"`
}
