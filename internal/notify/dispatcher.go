package notify

import (
	"context"
	"errors"
	"log/slog"

	"homedesk/backend/internal/domain"
)

// Dispatcher consumes scheduling events. Implementations must not assume the
// appointment mutation can be rolled back: dispatch is best-effort and the
// caller logs and swallows failures.
type Dispatcher interface {
	Dispatch(ctx context.Context, evt domain.Event) error
}

// Fanout forwards each event to every dispatcher, joining any errors. One
// failing sink does not stop the others.
type Fanout []Dispatcher

func (f Fanout) Dispatch(ctx context.Context, evt domain.Event) error {
	var errs []error
	for _, d := range f {
		if err := d.Dispatch(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogDispatcher records events to the structured log. Useful on its own in
// development and as a tail sink in production.
type LogDispatcher struct {
	log *slog.Logger
}

func NewLogDispatcher(log *slog.Logger) *LogDispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &LogDispatcher{log: log.With(slog.String("component", "notify.log"))}
}

func (d *LogDispatcher) Dispatch(ctx context.Context, evt domain.Event) error {
	d.log.Info(
		"scheduling event",
		slog.String("event", string(evt.Type)),
		slog.String("appointment_id", evt.Appointment.ID.String()),
		slog.String("ticket_id", evt.Appointment.TicketID.String()),
		slog.String("technician_id", evt.Appointment.TechnicianID),
		slog.String("actor_id", evt.Actor.ID),
		slog.Time("occurred_at", evt.OccurredAt),
	)
	return nil
}
