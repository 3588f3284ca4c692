package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"homedesk/backend/internal/domain"
	"homedesk/backend/internal/store"
)

// TicketGateway is the scheduling service's Postgres-backed view of the
// ticket subsystem. Ticket CRUD is owned elsewhere; this only reads tickets
// and appends history rows.
type TicketGateway struct {
	db *bun.DB
}

func NewTicketGateway(db *bun.DB) *TicketGateway {
	return &TicketGateway{db: db}
}

func (g *TicketGateway) Get(ctx context.Context, id uuid.UUID) (domain.Ticket, error) {
	var t domain.Ticket
	err := g.db.NewSelect().
		Model(&t).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Ticket{}, store.ErrNotFound
		}
		return domain.Ticket{}, err
	}
	return t, nil
}

func (g *TicketGateway) AppendHistory(ctx context.Context, entry domain.TicketHistoryEntry) error {
	_, err := g.db.NewInsert().Model(&entry).Exec(ctx)
	return err
}
