package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type TicketStatus string

const (
	TicketStatusOpen       TicketStatus = "open"
	TicketStatusInProgress TicketStatus = "in_progress"
	TicketStatusResolved   TicketStatus = "resolved"
	TicketStatusClosed     TicketStatus = "closed"
)

// Ticket is the scheduling engine's read-only view of a support ticket. The
// ticket lifecycle itself is owned elsewhere.
type Ticket struct {
	bun.BaseModel `bun:"table:tickets"`

	ID             uuid.UUID    `bun:"id,pk,type:uuid"`
	Subject        string       `bun:"subject,notnull"`
	Status         TicketStatus `bun:"status,notnull"`
	RequesterEmail string       `bun:"requester_email"`
	ServiceAddress string       `bun:"service_address"`
	CreatedAt      time.Time    `bun:"created_at,notnull"`
	UpdatedAt      time.Time    `bun:"updated_at,notnull"`
}

// EligibleForAppointment reports whether an on-site visit may still be booked
// against the ticket. Resolved and closed tickets are not eligible.
func (t *Ticket) EligibleForAppointment() bool {
	return t.Status == TicketStatusOpen || t.Status == TicketStatusInProgress
}

// TicketHistoryEntry is an immutable timeline record appended to a ticket
// whenever a scheduling event touches it.
type TicketHistoryEntry struct {
	bun.BaseModel `bun:"table:ticket_history"`

	ID          uuid.UUID      `bun:"id,pk,type:uuid"`
	TicketID    uuid.UUID      `bun:"ticket_id,notnull,type:uuid"`
	Action      string         `bun:"action,notnull"`
	Description string         `bun:"description"`
	Metadata    map[string]any `bun:"metadata,type:jsonb"`
	ActorID     string         `bun:"actor_id"`
	CreatedAt   time.Time      `bun:"created_at,notnull"`
}

func (e *TicketHistoryEntry) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	if _, ok := query.(*bun.InsertQuery); ok {
		if e.ID == uuid.Nil {
			id, err := uuid.NewV7()
			if err != nil {
				return err
			}
			e.ID = id
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = time.Now().UTC()
		}
	}
	return nil
}
