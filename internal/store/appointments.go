package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"homedesk/backend/internal/domain"
)

type AppointmentRepository interface {
	Get(ctx context.Context, id uuid.UUID) (domain.Appointment, error)
	ListForTechnician(ctx context.Context, technicianID string, windowStart, windowEnd time.Time) ([]domain.Appointment, error)

	// InTechnicianTx runs fn inside a transaction holding the technician's
	// calendar lock, serializing concurrent conflict-check-then-write
	// sequences for the same technician.
	InTechnicianTx(ctx context.Context, technicianID string, fn func(ctx context.Context, tx SchedulingTx) error) error
}

// SchedulingTx is the per-transaction surface used while the technician's
// calendar lock is held.
type SchedulingTx interface {
	Insert(ctx context.Context, appt domain.Appointment) (domain.Appointment, error)
	Update(ctx context.Context, appt domain.Appointment) (domain.Appointment, error)
	Get(ctx context.Context, id uuid.UUID) (domain.Appointment, error)

	// ListBlocking returns the technician's appointments in a blocking
	// status whose windows intersect [windowStart, windowEnd), ordered by
	// start time. exclude skips one appointment (the one being rescheduled);
	// pass uuid.Nil to skip none.
	ListBlocking(ctx context.Context, technicianID string, windowStart, windowEnd time.Time, exclude uuid.UUID) ([]domain.Appointment, error)
}
