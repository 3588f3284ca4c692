package store

import (
	"context"

	"github.com/google/uuid"

	"homedesk/backend/internal/domain"
)

// TicketGateway is the scheduling engine's boundary to the ticket subsystem.
type TicketGateway interface {
	Get(ctx context.Context, id uuid.UUID) (domain.Ticket, error)
	AppendHistory(ctx context.Context, entry domain.TicketHistoryEntry) error
}
