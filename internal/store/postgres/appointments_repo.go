package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/uptrace/bun"

	"homedesk/backend/internal/domain"
	"homedesk/backend/internal/store"
)

// overlapConstraint is the exclusion constraint guarding against two blocking
// appointments for the same technician with intersecting time ranges. It is
// the storage-level backstop behind the advisory-lock transaction: even if
// the application-level scan is bypassed, the database refuses the write.
const overlapConstraint = "appointments_technician_no_overlap"

type AppointmentRepo struct {
	db *bun.DB
}

func NewAppointmentRepo(db *bun.DB) *AppointmentRepo {
	return &AppointmentRepo{db: db}
}

func (r *AppointmentRepo) Get(ctx context.Context, id uuid.UUID) (domain.Appointment, error) {
	var appt domain.Appointment
	err := r.db.NewSelect().
		Model(&appt).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Appointment{}, store.ErrNotFound
		}
		return domain.Appointment{}, err
	}
	return appt, nil
}

func (r *AppointmentRepo) ListForTechnician(ctx context.Context, technicianID string, windowStart, windowEnd time.Time) ([]domain.Appointment, error) {
	var rows []domain.Appointment
	err := r.db.NewSelect().
		Model(&rows).
		Where("technician_id = ?", technicianID).
		Where("scheduled_for < ?", windowEnd).
		Where("scheduled_for + make_interval(mins => estimated_duration_minutes) > ?", windowStart).
		OrderExpr("scheduled_for ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *AppointmentRepo) InTechnicianTx(ctx context.Context, technicianID string, fn func(ctx context.Context, tx store.SchedulingTx) error) error {
	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := lockTechnicianCalendar(ctx, tx, technicianID); err != nil {
			return err
		}
		return fn(ctx, schedulingTx{tx: tx})
	})
}

func lockTechnicianCalendar(ctx context.Context, tx bun.Tx, technicianID string) error {
	_, err := tx.NewRaw("SELECT pg_advisory_xact_lock(hashtext(?))", technicianID).Exec(ctx)
	return err
}

type schedulingTx struct {
	tx bun.Tx
}

func (t schedulingTx) Insert(ctx context.Context, appt domain.Appointment) (domain.Appointment, error) {
	m := appt
	_, err := t.tx.NewInsert().Model(&m).Exec(ctx)
	if err != nil {
		return domain.Appointment{}, mapOverlapError(err, appt.TechnicianID)
	}
	return m, nil
}

func (t schedulingTx) Update(ctx context.Context, appt domain.Appointment) (domain.Appointment, error) {
	m := appt
	res, err := t.tx.NewUpdate().
		Model(&m).
		WherePK().
		Exec(ctx)
	if err != nil {
		return domain.Appointment{}, mapOverlapError(err, appt.TechnicianID)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return domain.Appointment{}, err
	}
	if affected == 0 {
		return domain.Appointment{}, store.ErrNotFound
	}
	return m, nil
}

func (t schedulingTx) Get(ctx context.Context, id uuid.UUID) (domain.Appointment, error) {
	var appt domain.Appointment
	err := t.tx.NewSelect().
		Model(&appt).
		Where("id = ?", id).
		For("UPDATE").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Appointment{}, store.ErrNotFound
		}
		return domain.Appointment{}, err
	}
	return appt, nil
}

func (t schedulingTx) ListBlocking(ctx context.Context, technicianID string, windowStart, windowEnd time.Time, exclude uuid.UUID) ([]domain.Appointment, error) {
	var rows []domain.Appointment
	q := t.tx.NewSelect().
		Model(&rows).
		Where("technician_id = ?", technicianID).
		Where("status IN (?)", bun.In(domain.BlockingStatuses)).
		Where("scheduled_for < ?", windowEnd).
		Where("scheduled_for + make_interval(mins => estimated_duration_minutes) > ?", windowStart).
		OrderExpr("scheduled_for ASC")
	if exclude != uuid.Nil {
		q = q.Where("id != ?", exclude)
	}

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return rows, nil
}

// mapOverlapError translates an exclusion-constraint violation into the
// store's conflict error. The constraint reports no window detail, so the
// ConflictError carries only the technician.
func mapOverlapError(err error, technicianID string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23P01" && pgErr.ConstraintName == overlapConstraint {
		return &store.ConflictError{TechnicianID: technicianID}
	}
	return err
}
