package domain

import "time"

// EventType identifies a scheduling lifecycle event. The values double as
// ticket-history action names.
type EventType string

const (
	EventAppointmentScheduled   EventType = "appointment_scheduled"
	EventAppointmentRescheduled EventType = "appointment_rescheduled"
	EventAppointmentCancelled   EventType = "appointment_cancelled"
	EventAppointmentStarted     EventType = "appointment_started"
	EventTechnicalCompleted     EventType = "technical_completed"
	EventMemberFeedback         EventType = "member_feedback"
	EventAppointmentNoShow      EventType = "appointment_no_show"
)

// Actor is the caller-supplied identity performing an operation. The engine
// does not authenticate or authorize it.
type Actor struct {
	ID   string
	Name string
	Role string
}

// Event is emitted by the scheduling service after a successful mutation and
// consumed by dispatchers (ticket history, notifications). Dispatch is
// best-effort: dispatcher failures never roll back the mutation.
type Event struct {
	Type        EventType
	Appointment Appointment
	Actor       Actor
	OccurredAt  time.Time
	Metadata    map[string]any
}
