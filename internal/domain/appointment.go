package domain

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type AppointmentStatus string

const (
	StatusScheduled        AppointmentStatus = "scheduled"
	StatusInProgress       AppointmentStatus = "in_progress"
	StatusAwaitingFeedback AppointmentStatus = "awaiting_feedback"
	StatusCompleted        AppointmentStatus = "completed"
	StatusCancelled        AppointmentStatus = "cancelled"
	StatusNoShow           AppointmentStatus = "no_show"
)

// BlockingStatuses are the statuses that occupy the technician's calendar for
// conflict and availability purposes. An in-progress visit blocks the
// technician just like a scheduled one.
var BlockingStatuses = []AppointmentStatus{StatusScheduled, StatusInProgress}

const (
	MinEstimatedDurationMinutes = 30
	MaxEstimatedDurationMinutes = 480
)

type Appointment struct {
	bun.BaseModel `bun:"table:appointments"`

	ID           uuid.UUID `bun:"id,pk,type:uuid"`
	TicketID     uuid.UUID `bun:"ticket_id,notnull,type:uuid"`
	TechnicianID string    `bun:"technician_id,notnull"`
	ScheduledBy  string    `bun:"scheduled_by,notnull"`

	Title              string            `bun:"title,notnull"`
	Description        string            `bun:"description"`
	Address            string            `bun:"address"`
	ScheduledFor       time.Time         `bun:"scheduled_for,notnull"`
	EstimatedDuration  int               `bun:"estimated_duration_minutes,notnull"`
	Status             AppointmentStatus `bun:"status,notnull"`
	Notes              string            `bun:"notes"`
	MemberInstructions string            `bun:"member_instructions"`

	StartedAt   *time.Time `bun:"started_at"`
	CompletedAt *time.Time `bun:"completed_at"`

	CompletionNotes string `bun:"completion_notes"`
	MemberFeedback  string `bun:"member_feedback"`
	ServiceRating   *int   `bun:"service_rating"`

	CancelReason string     `bun:"cancel_reason"`
	CancelledAt  *time.Time `bun:"cancelled_at"`

	NoShowReason      string     `bun:"no_show_reason"`
	NoShowDescription string     `bun:"no_show_description"`
	MarkedNoShowAt    *time.Time `bun:"marked_no_show_at"`
	MarkedNoShowBy    string     `bun:"marked_no_show_by"`

	CreatedAt time.Time `bun:"created_at,notnull"`
	UpdatedAt time.Time `bun:"updated_at,notnull"`
}

func (a *Appointment) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if a.ID == uuid.Nil {
			id, err := uuid.NewV7()
			if err != nil {
				return err
			}
			a.ID = id
		}
		if a.CreatedAt.IsZero() {
			a.CreatedAt = now
		}
		if a.UpdatedAt.IsZero() {
			a.UpdatedAt = now
		}
	case *bun.UpdateQuery:
		a.UpdatedAt = now
	}
	return nil
}

// Window is the span the appointment occupies on the technician's calendar:
// [scheduled_for, scheduled_for + estimated_duration).
func (a *Appointment) Window() Window {
	return Window{
		Start:    a.ScheduledFor,
		Duration: time.Duration(a.EstimatedDuration) * time.Minute,
	}
}

// Blocking reports whether the appointment occupies the technician for
// conflict purposes. Cancelled, completed, and no-show appointments do not.
func (a *Appointment) Blocking() bool {
	for _, st := range BlockingStatuses {
		if a.Status == st {
			return true
		}
	}
	return false
}

// transitions is the single source of truth for legal status moves.
// Rescheduling is an action on a scheduled appointment, not a status.
var transitions = map[AppointmentStatus][]AppointmentStatus{
	StatusScheduled:        {StatusInProgress, StatusCancelled, StatusNoShow},
	StatusInProgress:       {StatusAwaitingFeedback, StatusNoShow},
	StatusAwaitingFeedback: {StatusCompleted},
}

func (a *Appointment) CanTransition(to AppointmentStatus) bool {
	for _, allowed := range transitions[a.Status] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Transition moves the appointment to the target status or returns a
// *TransitionError. Every status change must go through here.
func (a *Appointment) Transition(to AppointmentStatus) error {
	if !a.CanTransition(to) {
		return &TransitionError{From: a.Status, To: to}
	}
	a.Status = to
	return nil
}

// CanReschedule reports whether the appointment may be moved to a new time.
// Only appointments that have not been started, cancelled, or closed out move.
func (a *Appointment) CanReschedule() bool {
	return a.Status == StatusScheduled
}

type TransitionError struct {
	From AppointmentStatus
	To   AppointmentStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("appointment in status %q cannot move to %q", e.From, e.To)
}
