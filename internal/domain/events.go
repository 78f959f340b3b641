package domain

import "time"

// EventType classifies events emitted by the lifecycle, reconciliation and
// auto-close engines for the notification fan-out.
type EventType string

const (
	EventTradeOpened   EventType = "trade_opened"
	EventTradeClosed   EventType = "trade_closed"
	EventLegUpdated    EventType = "leg_updated"
	EventCriticalAlert EventType = "critical_alert"
)

// EventSeverity orders events by operator urgency.
type EventSeverity string

const (
	SeverityInfo     EventSeverity = "info"
	SeverityWarning  EventSeverity = "warning"
	SeverityCritical EventSeverity = "critical"
)

// Event is a fire-and-forget notification payload. Delivery failure must
// never roll back the state transition that produced the event.
type Event struct {
	Type     EventType
	Severity EventSeverity
	Title    string
	Message  string
	Payload  map[string]any
	At       time.Time
}
