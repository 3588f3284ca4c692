package scheduling

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"homedesk/backend/internal/domain"
	"homedesk/backend/internal/notify"
	"homedesk/backend/internal/store"
)

type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string {
	return e.msg
}

func validationError(msg string) error {
	return &ValidationError{msg: msg}
}

// ErrIneligibleTicket is returned when the ticket's state refuses a new
// on-site visit (already resolved or closed).
var ErrIneligibleTicket = errors.New("ticket is not eligible for appointment scheduling")

type Option func(*Service)

// WithClock replaces the service's time source. Tests use this to pin "now".
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithWorkingHours sets the bookable window, as local hours of day.
func WithWorkingHours(startHour, endHour int) Option {
	return func(s *Service) {
		s.workdayStartHour = startHour
		s.workdayEndHour = endHour
	}
}

// WithSlotSize sets the availability slot granularity.
func WithSlotSize(d time.Duration) Option {
	return func(s *Service) { s.slotSize = d }
}

type Service struct {
	repo       store.AppointmentRepository
	tickets    store.TicketGateway
	dispatcher notify.Dispatcher
	log        *slog.Logger

	now              func() time.Time
	workdayStartHour int
	workdayEndHour   int
	slotSize         time.Duration
}

func NewService(repo store.AppointmentRepository, tickets store.TicketGateway, dispatcher notify.Dispatcher, log *slog.Logger, opts ...Option) *Service {
	if log == nil {
		log = slog.Default()
	}
	s := &Service{
		repo:             repo,
		tickets:          tickets,
		dispatcher:       dispatcher,
		log:              log.With(slog.String("component", "service.scheduling")),
		now:              time.Now,
		workdayStartHour: 8,
		workdayEndHour:   18,
		slotSize:         time.Hour,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type CreateInput struct {
	TicketID           uuid.UUID
	TechnicianID       string
	ScheduledBy        string
	Title              string
	Description        string
	Address            string
	ScheduledFor       time.Time
	EstimatedDuration  int
	MemberInstructions string
	Notes              string
}

func (s *Service) Create(ctx context.Context, in CreateInput) (domain.Appointment, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return domain.Appointment{}, validationError("title is required")
	}
	if in.TicketID == uuid.Nil {
		return domain.Appointment{}, validationError("ticket_id is required")
	}
	if in.TechnicianID == "" {
		return domain.Appointment{}, validationError("technician_id is required")
	}
	if in.ScheduledBy == "" {
		return domain.Appointment{}, validationError("scheduled_by is required")
	}
	if in.ScheduledFor.IsZero() {
		return domain.Appointment{}, validationError("scheduled_for is required")
	}
	if in.EstimatedDuration < domain.MinEstimatedDurationMinutes || in.EstimatedDuration > domain.MaxEstimatedDurationMinutes {
		return domain.Appointment{}, validationError("estimated_duration must be between 30 and 480 minutes")
	}

	ticket, err := s.tickets.Get(ctx, in.TicketID)
	if err != nil {
		return domain.Appointment{}, err
	}
	if !ticket.EligibleForAppointment() {
		return domain.Appointment{}, ErrIneligibleTicket
	}

	address := strings.TrimSpace(in.Address)
	if address == "" {
		address = ticket.ServiceAddress
	}

	appt := domain.Appointment{
		TicketID:           in.TicketID,
		TechnicianID:       in.TechnicianID,
		ScheduledBy:        in.ScheduledBy,
		Title:              title,
		Description:        in.Description,
		Address:            address,
		ScheduledFor:       in.ScheduledFor.UTC(),
		EstimatedDuration:  in.EstimatedDuration,
		Status:             domain.StatusScheduled,
		Notes:              in.Notes,
		MemberInstructions: in.MemberInstructions,
	}

	var out domain.Appointment
	err = s.repo.InTechnicianTx(ctx, in.TechnicianID, func(ctx context.Context, tx store.SchedulingTx) error {
		if err := ensureNoConflict(ctx, tx, appt.TechnicianID, appt.Window(), uuid.Nil); err != nil {
			return err
		}
		created, err := tx.Insert(ctx, appt)
		if err != nil {
			return err
		}
		out = created
		return nil
	})
	if err != nil {
		return domain.Appointment{}, err
	}

	s.dispatch(ctx, domain.Event{
		Type:        domain.EventAppointmentScheduled,
		Appointment: out,
		Actor:       domain.Actor{ID: in.ScheduledBy},
		OccurredAt:  s.now().UTC(),
		Metadata: map[string]any{
			"requester_email": ticket.RequesterEmail,
			"scheduled_for":   out.ScheduledFor.UTC().Format(time.RFC3339),
		},
	})
	return out, nil
}

func (s *Service) Reschedule(ctx context.Context, appointmentID uuid.UUID, newScheduledFor time.Time, reason string, actor domain.Actor) (domain.Appointment, error) {
	if appointmentID == uuid.Nil {
		return domain.Appointment{}, validationError("appointment_id is required")
	}
	if newScheduledFor.IsZero() {
		return domain.Appointment{}, validationError("scheduled_for is required")
	}

	// The technician is looked up first so the conflict check runs under
	// that technician's calendar lock.
	current, err := s.repo.Get(ctx, appointmentID)
	if err != nil {
		return domain.Appointment{}, err
	}

	previousFor := current.ScheduledFor
	var out domain.Appointment
	err = s.repo.InTechnicianTx(ctx, current.TechnicianID, func(ctx context.Context, tx store.SchedulingTx) error {
		appt, err := tx.Get(ctx, appointmentID)
		if err != nil {
			return err
		}
		if !appt.CanReschedule() {
			return &domain.TransitionError{From: appt.Status, To: domain.StatusScheduled}
		}

		previousFor = appt.ScheduledFor
		appt.ScheduledFor = newScheduledFor.UTC()
		if err := ensureNoConflict(ctx, tx, appt.TechnicianID, appt.Window(), appt.ID); err != nil {
			return err
		}

		updated, err := tx.Update(ctx, appt)
		if err != nil {
			return err
		}
		out = updated
		return nil
	})
	if err != nil {
		return domain.Appointment{}, err
	}

	s.dispatch(ctx, domain.Event{
		Type:        domain.EventAppointmentRescheduled,
		Appointment: out,
		Actor:       actor,
		OccurredAt:  s.now().UTC(),
		Metadata: s.withRequesterEmail(ctx, out, map[string]any{
			"reason":        reason,
			"previous_for":  previousFor.UTC().Format(time.RFC3339),
			"scheduled_for": out.ScheduledFor.UTC().Format(time.RFC3339),
		}),
	})
	return out, nil
}

func (s *Service) Cancel(ctx context.Context, appointmentID uuid.UUID, reason string, actor domain.Actor) (domain.Appointment, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return domain.Appointment{}, validationError("reason is required")
	}

	now := s.now().UTC()
	out, err := s.transition(ctx, appointmentID, domain.StatusCancelled, func(appt *domain.Appointment) {
		appt.CancelReason = reason
		appt.CancelledAt = &now
	})
	if err != nil {
		return domain.Appointment{}, err
	}

	s.dispatch(ctx, domain.Event{
		Type:        domain.EventAppointmentCancelled,
		Appointment: out,
		Actor:       actor,
		OccurredAt:  now,
		Metadata:    s.withRequesterEmail(ctx, out, map[string]any{"reason": reason}),
	})
	return out, nil
}

func (s *Service) Start(ctx context.Context, appointmentID uuid.UUID) (domain.Appointment, error) {
	now := s.now().UTC()
	out, err := s.transition(ctx, appointmentID, domain.StatusInProgress, func(appt *domain.Appointment) {
		appt.StartedAt = &now
	})
	if err != nil {
		return domain.Appointment{}, err
	}

	s.dispatch(ctx, domain.Event{
		Type:        domain.EventAppointmentStarted,
		Appointment: out,
		Actor:       domain.Actor{ID: out.TechnicianID, Role: "technician"},
		OccurredAt:  now,
	})
	return out, nil
}

func (s *Service) CompleteByTechnician(ctx context.Context, appointmentID uuid.UUID, completionNotes string, actor domain.Actor) (domain.Appointment, error) {
	completionNotes = strings.TrimSpace(completionNotes)
	if completionNotes == "" {
		return domain.Appointment{}, validationError("completion_notes is required")
	}

	now := s.now().UTC()
	out, err := s.transition(ctx, appointmentID, domain.StatusAwaitingFeedback, func(appt *domain.Appointment) {
		appt.CompletionNotes = completionNotes
		appt.CompletedAt = &now
	})
	if err != nil {
		return domain.Appointment{}, err
	}

	s.dispatch(ctx, domain.Event{
		Type:        domain.EventTechnicalCompleted,
		Appointment: out,
		Actor:       actor,
		OccurredAt:  now,
		Metadata:    s.withRequesterEmail(ctx, out, nil),
	})
	return out, nil
}

func (s *Service) SubmitMemberFeedback(ctx context.Context, appointmentID uuid.UUID, feedback string, rating int, actor domain.Actor) (domain.Appointment, error) {
	if rating < 1 || rating > 5 {
		return domain.Appointment{}, validationError("service_rating must be between 1 and 5")
	}

	now := s.now().UTC()
	out, err := s.transition(ctx, appointmentID, domain.StatusCompleted, func(appt *domain.Appointment) {
		appt.MemberFeedback = strings.TrimSpace(feedback)
		appt.ServiceRating = &rating
	})
	if err != nil {
		return domain.Appointment{}, err
	}

	s.dispatch(ctx, domain.Event{
		Type:        domain.EventMemberFeedback,
		Appointment: out,
		Actor:       actor,
		OccurredAt:  now,
		Metadata:    map[string]any{"service_rating": rating},
	})
	return out, nil
}

func (s *Service) MarkNoShow(ctx context.Context, appointmentID uuid.UUID, reason, description string, actor domain.Actor) (domain.Appointment, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return domain.Appointment{}, validationError("reason is required")
	}
	if actor.ID == "" {
		return domain.Appointment{}, validationError("actor is required")
	}

	now := s.now().UTC()
	out, err := s.transition(ctx, appointmentID, domain.StatusNoShow, func(appt *domain.Appointment) {
		appt.NoShowReason = reason
		appt.NoShowDescription = strings.TrimSpace(description)
		appt.MarkedNoShowAt = &now
		appt.MarkedNoShowBy = actor.ID
	})
	if err != nil {
		return domain.Appointment{}, err
	}

	s.dispatch(ctx, domain.Event{
		Type:        domain.EventAppointmentNoShow,
		Appointment: out,
		Actor:       actor,
		OccurredAt:  now,
		Metadata: s.withRequesterEmail(ctx, out, map[string]any{
			"reason":      reason,
			"description": out.NoShowDescription,
		}),
	})
	return out, nil
}

func (s *Service) Get(ctx context.Context, appointmentID uuid.UUID) (domain.Appointment, error) {
	if appointmentID == uuid.Nil {
		return domain.Appointment{}, validationError("appointment_id is required")
	}
	return s.repo.Get(ctx, appointmentID)
}

func (s *Service) ListForTechnician(ctx context.Context, technicianID string, windowStart, windowEnd time.Time) ([]domain.Appointment, error) {
	if technicianID == "" {
		return nil, validationError("technician_id is required")
	}
	start := windowStart.UTC()
	end := windowEnd.UTC()
	if end.Equal(start) || end.Before(start) {
		return nil, validationError("window_end must be after window_start")
	}
	return s.repo.ListForTechnician(ctx, technicianID, start, end)
}

// transition loads the appointment under its technician's calendar lock,
// applies the status change through the state machine, lets mutate fill the
// transition's fields, and persists. All guarded lifecycle operations funnel
// through here so there is exactly one enforcement point.
func (s *Service) transition(ctx context.Context, appointmentID uuid.UUID, to domain.AppointmentStatus, mutate func(*domain.Appointment)) (domain.Appointment, error) {
	if appointmentID == uuid.Nil {
		return domain.Appointment{}, validationError("appointment_id is required")
	}

	current, err := s.repo.Get(ctx, appointmentID)
	if err != nil {
		return domain.Appointment{}, err
	}

	var out domain.Appointment
	err = s.repo.InTechnicianTx(ctx, current.TechnicianID, func(ctx context.Context, tx store.SchedulingTx) error {
		appt, err := tx.Get(ctx, appointmentID)
		if err != nil {
			return err
		}
		if err := appt.Transition(to); err != nil {
			return err
		}
		mutate(&appt)

		updated, err := tx.Update(ctx, appt)
		if err != nil {
			return err
		}
		out = updated
		return nil
	})
	if err != nil {
		return domain.Appointment{}, err
	}
	return out, nil
}

// ensureNoConflict scans the technician's blocking appointments against the
// candidate window. The caller must hold the technician's calendar lock; the
// exclusion constraint in the appointments table backstops the scan.
func ensureNoConflict(ctx context.Context, tx store.SchedulingTx, technicianID string, candidate domain.Window, exclude uuid.UUID) error {
	blocking, err := tx.ListBlocking(ctx, technicianID, candidate.Start, candidate.End(), exclude)
	if err != nil {
		return err
	}
	for _, b := range blocking {
		if w := b.Window(); w.Overlaps(candidate) {
			return &store.ConflictError{
				TechnicianID:  technicianID,
				ConflictStart: w.Start,
				ConflictEnd:   w.End(),
			}
		}
	}
	return nil
}

// withRequesterEmail resolves the ticket requester's address so dispatchers
// can route member-facing mail. Lookup failures only cost the address; the
// mutation has already committed, so the event still goes out.
func (s *Service) withRequesterEmail(ctx context.Context, appt domain.Appointment, md map[string]any) map[string]any {
	if md == nil {
		md = map[string]any{}
	}
	ticket, err := s.tickets.Get(ctx, appt.TicketID)
	if err != nil {
		s.log.Warn(
			"requester lookup failed",
			slog.String("ticket_id", appt.TicketID.String()),
			slog.Any("err", err),
		)
		return md
	}
	if ticket.RequesterEmail != "" {
		md["requester_email"] = ticket.RequesterEmail
	}
	return md
}

func (s *Service) dispatch(ctx context.Context, evt domain.Event) {
	if s.dispatcher == nil {
		return
	}
	if err := s.dispatcher.Dispatch(ctx, evt); err != nil {
		s.log.Warn(
			"event dispatch failed",
			slog.String("event", string(evt.Type)),
			slog.String("appointment_id", evt.Appointment.ID.String()),
			slog.Any("err", err),
		)
	}
}
