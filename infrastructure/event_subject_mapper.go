package infrastructure

import (
	"fmt"

	"coinflip/events"
)

const (
	SubjectWagerPhaseChanged      = "coinflip.wager.phase_changed"
	SubjectWagerSettled           = "coinflip.wager.settled"
	SubjectWagerTransactionFailed = "coinflip.wager.transaction_failed"
)

// EventSubjectMapper handles mapping between domain events and NATS subjects
type EventSubjectMapper struct{}

// NewEventSubjectMapper creates a new event subject mapper
func NewEventSubjectMapper() *EventSubjectMapper {
	return &EventSubjectMapper{}
}

// MapEventToSubject converts a domain event to its corresponding NATS subject
func (m *EventSubjectMapper) MapEventToSubject(event events.Event) string {
	return m.MapEventTypeToSubject(event.Type())
}

// MapEventTypeToSubject converts an event type to its NATS subject
func (m *EventSubjectMapper) MapEventTypeToSubject(eventType events.EventType) string {
	switch eventType {
	case events.EventTypeWagerPhaseChanged:
		return SubjectWagerPhaseChanged
	case events.EventTypeWagerSettled:
		return SubjectWagerSettled
	case events.EventTypeTransactionFailed:
		return SubjectWagerTransactionFailed
	default:
		// Fallback for unknown event types
		return fmt.Sprintf("coinflip.unknown.%s", eventType)
	}
}

// MapSubjectToEventType converts a NATS subject back to an event type
func (m *EventSubjectMapper) MapSubjectToEventType(subject string) events.EventType {
	switch subject {
	case SubjectWagerPhaseChanged:
		return events.EventTypeWagerPhaseChanged
	case SubjectWagerSettled:
		return events.EventTypeWagerSettled
	case SubjectWagerTransactionFailed:
		return events.EventTypeTransactionFailed
	default:
		return events.EventType(subject)
	}
}

// GetAllSubjects returns all subjects that this service publishes to
func (m *EventSubjectMapper) GetAllSubjects() []string {
	return []string{
		SubjectWagerPhaseChanged,
		SubjectWagerSettled,
		SubjectWagerTransactionFailed,
	}
}
