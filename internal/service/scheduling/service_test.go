package scheduling

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"

	"homedesk/backend/internal/domain"
	"homedesk/backend/internal/notify"
	"homedesk/backend/internal/store"
)

// memRepo is an in-memory AppointmentRepository. InTechnicianTx runs the
// callback directly; single-goroutine tests need no locking.
type memRepo struct {
	appts map[uuid.UUID]domain.Appointment
}

func newMemRepo() *memRepo {
	return &memRepo{appts: make(map[uuid.UUID]domain.Appointment)}
}

func (r *memRepo) Get(ctx context.Context, id uuid.UUID) (domain.Appointment, error) {
	appt, ok := r.appts[id]
	if !ok {
		return domain.Appointment{}, store.ErrNotFound
	}
	return appt, nil
}

func (r *memRepo) ListForTechnician(ctx context.Context, technicianID string, windowStart, windowEnd time.Time) ([]domain.Appointment, error) {
	win := domain.Window{Start: windowStart, Duration: windowEnd.Sub(windowStart)}
	var out []domain.Appointment
	for _, a := range r.appts {
		if a.TechnicianID == technicianID && a.Window().Overlaps(win) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledFor.Before(out[j].ScheduledFor) })
	return out, nil
}

func (r *memRepo) InTechnicianTx(ctx context.Context, technicianID string, fn func(ctx context.Context, tx store.SchedulingTx) error) error {
	return fn(ctx, memTx{repo: r})
}

type memTx struct {
	repo *memRepo
}

func (t memTx) Insert(ctx context.Context, appt domain.Appointment) (domain.Appointment, error) {
	if appt.ID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			return domain.Appointment{}, err
		}
		appt.ID = id
	}
	t.repo.appts[appt.ID] = appt
	return appt, nil
}

func (t memTx) Update(ctx context.Context, appt domain.Appointment) (domain.Appointment, error) {
	if _, ok := t.repo.appts[appt.ID]; !ok {
		return domain.Appointment{}, store.ErrNotFound
	}
	t.repo.appts[appt.ID] = appt
	return appt, nil
}

func (t memTx) Get(ctx context.Context, id uuid.UUID) (domain.Appointment, error) {
	return t.repo.Get(ctx, id)
}

func (t memTx) ListBlocking(ctx context.Context, technicianID string, windowStart, windowEnd time.Time, exclude uuid.UUID) ([]domain.Appointment, error) {
	win := domain.Window{Start: windowStart, Duration: windowEnd.Sub(windowStart)}
	var out []domain.Appointment
	for _, a := range t.repo.appts {
		if a.TechnicianID != technicianID || !a.Blocking() || a.ID == exclude {
			continue
		}
		if a.Window().Overlaps(win) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledFor.Before(out[j].ScheduledFor) })
	return out, nil
}

type fakeTickets struct {
	getFn     func(ctx context.Context, id uuid.UUID) (domain.Ticket, error)
	appendFn  func(ctx context.Context, entry domain.TicketHistoryEntry) error
	histories []domain.TicketHistoryEntry
}

func (f *fakeTickets) Get(ctx context.Context, id uuid.UUID) (domain.Ticket, error) {
	if f.getFn == nil {
		panic("Get not configured")
	}
	return f.getFn(ctx, id)
}

func (f *fakeTickets) AppendHistory(ctx context.Context, entry domain.TicketHistoryEntry) error {
	f.histories = append(f.histories, entry)
	if f.appendFn == nil {
		return nil
	}
	return f.appendFn(ctx, entry)
}

type captureDispatcher struct {
	events []domain.Event
	err    error
}

func (d *captureDispatcher) Dispatch(ctx context.Context, evt domain.Event) error {
	d.events = append(d.events, evt)
	return d.err
}

func openTicket(id uuid.UUID) *fakeTickets {
	return &fakeTickets{
		getFn: func(ctx context.Context, gotID uuid.UUID) (domain.Ticket, error) {
			return domain.Ticket{
				ID:             gotID,
				Subject:        "router down",
				Status:         domain.TicketStatusOpen,
				RequesterEmail: "member@example.com",
				ServiceAddress: "12 Elm St, Apt 4B",
			}, nil
		},
	}
}

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func newTestService(repo store.AppointmentRepository, tickets store.TicketGateway, d *captureDispatcher, now time.Time) *Service {
	return NewService(repo, tickets, d, slog.Default(), WithClock(fixedClock(now)))
}

func validCreateInput(ticketID uuid.UUID, at time.Time) CreateInput {
	return CreateInput{
		TicketID:          ticketID,
		TechnicianID:      "tech-1",
		ScheduledBy:       "operator-9",
		Title:             "Replace faulty router",
		ScheduledFor:      at,
		EstimatedDuration: 60,
	}
}

func TestCreate_Validation(t *testing.T) {
	ticketID := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	now := time.Date(2025, 1, 9, 12, 0, 0, 0, time.UTC)
	at := time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC)

	cases := []struct {
		name   string
		mutate func(*CreateInput)
		want   string
	}{
		{"missing title", func(in *CreateInput) { in.Title = "  " }, "title is required"},
		{"missing ticket", func(in *CreateInput) { in.TicketID = uuid.Nil }, "ticket_id is required"},
		{"missing technician", func(in *CreateInput) { in.TechnicianID = "" }, "technician_id is required"},
		{"missing scheduled_by", func(in *CreateInput) { in.ScheduledBy = "" }, "scheduled_by is required"},
		{"missing scheduled_for", func(in *CreateInput) { in.ScheduledFor = time.Time{} }, "scheduled_for is required"},
		{"duration too short", func(in *CreateInput) { in.EstimatedDuration = 29 }, "estimated_duration must be between 30 and 480 minutes"},
		{"duration too long", func(in *CreateInput) { in.EstimatedDuration = 481 }, "estimated_duration must be between 30 and 480 minutes"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			repo := newMemRepo()
			svc := newTestService(repo, openTicket(ticketID), &captureDispatcher{}, now)

			in := validCreateInput(ticketID, at)
			tc.mutate(&in)

			_, err := svc.Create(context.Background(), in)
			var vErr *ValidationError
			if !errors.As(err, &vErr) {
				t.Fatalf("error = %v (%T), want *ValidationError", err, err)
			}
			if vErr.Error() != tc.want {
				t.Fatalf("error = %q, want %q", vErr.Error(), tc.want)
			}
			if len(repo.appts) != 0 {
				t.Fatalf("validation failure must not persist anything")
			}
		})
	}
}

func TestCreate_IneligibleTicket(t *testing.T) {
	ticketID := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	now := time.Date(2025, 1, 9, 12, 0, 0, 0, time.UTC)
	tickets := &fakeTickets{
		getFn: func(ctx context.Context, id uuid.UUID) (domain.Ticket, error) {
			return domain.Ticket{ID: id, Status: domain.TicketStatusClosed}, nil
		},
	}

	svc := newTestService(newMemRepo(), tickets, &captureDispatcher{}, now)
	_, err := svc.Create(context.Background(), validCreateInput(ticketID, now.Add(24*time.Hour)))
	if !errors.Is(err, ErrIneligibleTicket) {
		t.Fatalf("error = %v, want ErrIneligibleTicket", err)
	}
}

func TestCreate_TicketNotFound(t *testing.T) {
	ticketID := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	now := time.Date(2025, 1, 9, 12, 0, 0, 0, time.UTC)
	tickets := &fakeTickets{
		getFn: func(ctx context.Context, id uuid.UUID) (domain.Ticket, error) {
			return domain.Ticket{}, store.ErrNotFound
		},
	}

	svc := newTestService(newMemRepo(), tickets, &captureDispatcher{}, now)
	_, err := svc.Create(context.Background(), validCreateInput(ticketID, now.Add(24*time.Hour)))
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestCreate_AddressFallsBackToTicket(t *testing.T) {
	ticketID := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	now := time.Date(2025, 1, 9, 12, 0, 0, 0, time.UTC)
	repo := newMemRepo()
	svc := newTestService(repo, openTicket(ticketID), &captureDispatcher{}, now)

	in := validCreateInput(ticketID, now.Add(24*time.Hour))
	in.Address = ""
	appt, err := svc.Create(context.Background(), in)
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if appt.Address != "12 Elm St, Apt 4B" {
		t.Fatalf("address = %q, want ticket service address", appt.Address)
	}

	in2 := validCreateInput(ticketID, now.Add(48*time.Hour))
	in2.Address = "99 Oak Ave"
	appt2, err := svc.Create(context.Background(), in2)
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if appt2.Address != "99 Oak Ave" {
		t.Fatalf("address = %q, want explicit address to win", appt2.Address)
	}
}

// Technician booked 09:00 for 60 minutes. A 09:30/30min
// request conflicts, reporting the [09:00, 10:00) window; a 10:00/30min
// request lands on the boundary and succeeds.
func TestCreate_ConflictScenario(t *testing.T) {
	ticketID := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	now := time.Date(2025, 1, 9, 12, 0, 0, 0, time.UTC)
	repo := newMemRepo()
	svc := newTestService(repo, openTicket(ticketID), &captureDispatcher{}, now)

	nineAM := time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC)
	if _, err := svc.Create(context.Background(), validCreateInput(ticketID, nineAM)); err != nil {
		t.Fatalf("seed Create error: %v", err)
	}

	in := validCreateInput(ticketID, nineAM.Add(30*time.Minute))
	in.EstimatedDuration = 30
	_, err := svc.Create(context.Background(), in)
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("error = %v, want conflict", err)
	}
	var cErr *store.ConflictError
	if !errors.As(err, &cErr) {
		t.Fatalf("error type = %T, want *store.ConflictError", err)
	}
	if !cErr.ConflictStart.Equal(nineAM) || !cErr.ConflictEnd.Equal(nineAM.Add(time.Hour)) {
		t.Fatalf("conflict window = [%v, %v), want [09:00, 10:00)", cErr.ConflictStart, cErr.ConflictEnd)
	}

	in = validCreateInput(ticketID, nineAM.Add(time.Hour))
	in.EstimatedDuration = 30
	appt, err := svc.Create(context.Background(), in)
	if err != nil {
		t.Fatalf("boundary Create error: %v", err)
	}
	if appt.Status != domain.StatusScheduled {
		t.Fatalf("status = %s, want scheduled", appt.Status)
	}
}

func TestCreate_InProgressVisitBlocks(t *testing.T) {
	ticketID := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	now := time.Date(2025, 1, 10, 9, 15, 0, 0, time.UTC)
	repo := newMemRepo()
	svc := newTestService(repo, openTicket(ticketID), &captureDispatcher{}, now)

	nineAM := time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC)
	seed, err := svc.Create(context.Background(), validCreateInput(ticketID, nineAM))
	if err != nil {
		t.Fatalf("seed Create error: %v", err)
	}
	if _, err := svc.Start(context.Background(), seed.ID); err != nil {
		t.Fatalf("Start error: %v", err)
	}

	in := validCreateInput(ticketID, nineAM.Add(30*time.Minute))
	_, err = svc.Create(context.Background(), in)
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("error = %v, want conflict with in-progress visit", err)
	}
}

func TestCreate_DifferentTechnicianNoConflict(t *testing.T) {
	ticketID := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	now := time.Date(2025, 1, 9, 12, 0, 0, 0, time.UTC)
	repo := newMemRepo()
	svc := newTestService(repo, openTicket(ticketID), &captureDispatcher{}, now)

	nineAM := time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC)
	if _, err := svc.Create(context.Background(), validCreateInput(ticketID, nineAM)); err != nil {
		t.Fatalf("seed Create error: %v", err)
	}

	in := validCreateInput(ticketID, nineAM)
	in.TechnicianID = "tech-2"
	if _, err := svc.Create(context.Background(), in); err != nil {
		t.Fatalf("Create for other technician error: %v", err)
	}
}

func TestCreate_EmitsScheduledEvent(t *testing.T) {
	ticketID := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	now := time.Date(2025, 1, 9, 12, 0, 0, 0, time.UTC)
	d := &captureDispatcher{}
	svc := newTestService(newMemRepo(), openTicket(ticketID), d, now)

	appt, err := svc.Create(context.Background(), validCreateInput(ticketID, now.Add(24*time.Hour)))
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}

	if len(d.events) != 1 {
		t.Fatalf("events = %d, want 1", len(d.events))
	}
	evt := d.events[0]
	if evt.Type != domain.EventAppointmentScheduled {
		t.Fatalf("event type = %s", evt.Type)
	}
	if evt.Appointment.ID != appt.ID {
		t.Fatalf("event appointment id mismatch")
	}
	if evt.Actor.ID != "operator-9" {
		t.Fatalf("actor = %q, want scheduled_by", evt.Actor.ID)
	}
	if !evt.OccurredAt.Equal(now) {
		t.Fatalf("occurred_at = %v, want injected clock %v", evt.OccurredAt, now)
	}
	if got := evt.Metadata["requester_email"]; got != "member@example.com" {
		t.Fatalf("requester_email metadata = %v", got)
	}
}

func TestCreate_DispatcherFailureIsSwallowed(t *testing.T) {
	ticketID := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	now := time.Date(2025, 1, 9, 12, 0, 0, 0, time.UTC)
	d := &captureDispatcher{err: errors.New("smtp down")}
	repo := newMemRepo()
	svc := newTestService(repo, openTicket(ticketID), d, now)

	appt, err := svc.Create(context.Background(), validCreateInput(ticketID, now.Add(24*time.Hour)))
	if err != nil {
		t.Fatalf("Create must succeed despite dispatcher failure, got %v", err)
	}
	if _, ok := repo.appts[appt.ID]; !ok {
		t.Fatalf("appointment not persisted")
	}
}

// Full lifecycle: scheduled -> start -> technician completion -> member
// feedback, with the two-step completion never jumping straight to completed.
func TestLifecycle_TwoStepCompletion(t *testing.T) {
	ticketID := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	now := time.Date(2025, 1, 10, 8, 55, 0, 0, time.UTC)
	d := &captureDispatcher{}
	repo := newMemRepo()
	svc := newTestService(repo, openTicket(ticketID), d, now)

	appt, err := svc.Create(context.Background(), validCreateInput(ticketID, now.Add(5*time.Minute)))
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}

	started, err := svc.Start(context.Background(), appt.ID)
	if err != nil {
		t.Fatalf("Start error: %v", err)
	}
	if started.Status != domain.StatusInProgress {
		t.Fatalf("status = %s, want in_progress", started.Status)
	}
	if started.StartedAt == nil || !started.StartedAt.Equal(now) {
		t.Fatalf("started_at = %v, want %v", started.StartedAt, now)
	}

	completed, err := svc.CompleteByTechnician(context.Background(), appt.ID, "fixed the router", domain.Actor{ID: "tech-1", Name: "Ade", Role: "technician"})
	if err != nil {
		t.Fatalf("CompleteByTechnician error: %v", err)
	}
	if completed.Status != domain.StatusAwaitingFeedback {
		t.Fatalf("status = %s, want awaiting_feedback (never straight to completed)", completed.Status)
	}
	if completed.CompletionNotes != "fixed the router" {
		t.Fatalf("completion_notes = %q", completed.CompletionNotes)
	}
	if completed.CompletedAt == nil || !completed.CompletedAt.Equal(now) {
		t.Fatalf("completed_at = %v, want %v", completed.CompletedAt, now)
	}

	final, err := svc.SubmitMemberFeedback(context.Background(), appt.ID, "great service", 5, domain.Actor{ID: "member-3", Role: "member"})
	if err != nil {
		t.Fatalf("SubmitMemberFeedback error: %v", err)
	}
	if final.Status != domain.StatusCompleted {
		t.Fatalf("status = %s, want completed", final.Status)
	}
	if final.ServiceRating == nil || *final.ServiceRating != 5 {
		t.Fatalf("service_rating = %v, want 5", final.ServiceRating)
	}
	if final.MemberFeedback != "great service" {
		t.Fatalf("member_feedback = %q", final.MemberFeedback)
	}

	wantEvents := []domain.EventType{
		domain.EventAppointmentScheduled,
		domain.EventAppointmentStarted,
		domain.EventTechnicalCompleted,
		domain.EventMemberFeedback,
	}
	if len(d.events) != len(wantEvents) {
		t.Fatalf("events = %d, want %d", len(d.events), len(wantEvents))
	}
	for i, want := range wantEvents {
		if d.events[i].Type != want {
			t.Fatalf("event[%d] = %s, want %s", i, d.events[i].Type, want)
		}
	}
}

func TestStateGuards(t *testing.T) {
	ticketID := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	now := time.Date(2025, 1, 10, 8, 0, 0, 0, time.UTC)
	actor := domain.Actor{ID: "operator-9"}

	cases := []struct {
		name    string
		prepare func(t *testing.T, svc *Service, id uuid.UUID)
		attempt func(svc *Service, id uuid.UUID) error
	}{
		{
			"start twice",
			func(t *testing.T, svc *Service, id uuid.UUID) {
				if _, err := svc.Start(context.Background(), id); err != nil {
					t.Fatalf("prepare: %v", err)
				}
			},
			func(svc *Service, id uuid.UUID) error {
				_, err := svc.Start(context.Background(), id)
				return err
			},
		},
		{
			"complete before start",
			func(t *testing.T, svc *Service, id uuid.UUID) {},
			func(svc *Service, id uuid.UUID) error {
				_, err := svc.CompleteByTechnician(context.Background(), id, "done", actor)
				return err
			},
		},
		{
			"feedback before completion",
			func(t *testing.T, svc *Service, id uuid.UUID) {},
			func(svc *Service, id uuid.UUID) error {
				_, err := svc.SubmitMemberFeedback(context.Background(), id, "", 4, actor)
				return err
			},
		},
		{
			"cancel after start",
			func(t *testing.T, svc *Service, id uuid.UUID) {
				if _, err := svc.Start(context.Background(), id); err != nil {
					t.Fatalf("prepare: %v", err)
				}
			},
			func(svc *Service, id uuid.UUID) error {
				_, err := svc.Cancel(context.Background(), id, "member asked", actor)
				return err
			},
		},
		{
			"no-show after cancel",
			func(t *testing.T, svc *Service, id uuid.UUID) {
				if _, err := svc.Cancel(context.Background(), id, "member asked", actor); err != nil {
					t.Fatalf("prepare: %v", err)
				}
			},
			func(svc *Service, id uuid.UUID) error {
				_, err := svc.MarkNoShow(context.Background(), id, "member_not_home", "", actor)
				return err
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := newTestService(newMemRepo(), openTicket(ticketID), &captureDispatcher{}, now)
			appt, err := svc.Create(context.Background(), validCreateInput(ticketID, now.Add(time.Hour)))
			if err != nil {
				t.Fatalf("Create error: %v", err)
			}
			tc.prepare(t, svc, appt.ID)

			err = tc.attempt(svc, appt.ID)
			var tErr *domain.TransitionError
			if !errors.As(err, &tErr) {
				t.Fatalf("error = %v (%T), want *domain.TransitionError", err, err)
			}
		})
	}
}

func TestReschedule_SelfOverlapAllowed(t *testing.T) {
	ticketID := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	now := time.Date(2025, 1, 9, 12, 0, 0, 0, time.UTC)
	svc := newTestService(newMemRepo(), openTicket(ticketID), &captureDispatcher{}, now)

	nineAM := time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC)
	appt, err := svc.Create(context.Background(), validCreateInput(ticketID, nineAM))
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}

	// 09:30 overlaps only the appointment's own previous window.
	moved, err := svc.Reschedule(context.Background(), appt.ID, nineAM.Add(30*time.Minute), "member delayed", domain.Actor{ID: "operator-9"})
	if err != nil {
		t.Fatalf("Reschedule error: %v", err)
	}
	if moved.Status != domain.StatusScheduled {
		t.Fatalf("status = %s, want scheduled after reschedule", moved.Status)
	}
	if !moved.ScheduledFor.Equal(nineAM.Add(30 * time.Minute)) {
		t.Fatalf("scheduled_for = %v", moved.ScheduledFor)
	}
}

func TestReschedule_ConflictWithOtherAppointment(t *testing.T) {
	ticketID := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	now := time.Date(2025, 1, 9, 12, 0, 0, 0, time.UTC)
	svc := newTestService(newMemRepo(), openTicket(ticketID), &captureDispatcher{}, now)

	nineAM := time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC)
	first, err := svc.Create(context.Background(), validCreateInput(ticketID, nineAM))
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if _, err := svc.Create(context.Background(), validCreateInput(ticketID, nineAM.Add(2*time.Hour))); err != nil {
		t.Fatalf("Create error: %v", err)
	}

	_, err = svc.Reschedule(context.Background(), first.ID, nineAM.Add(2*time.Hour+30*time.Minute), "", domain.Actor{ID: "operator-9"})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("error = %v, want conflict", err)
	}
}

func TestReschedule_EmitsEventWithReasonAndPreviousTime(t *testing.T) {
	ticketID := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	now := time.Date(2025, 1, 9, 12, 0, 0, 0, time.UTC)
	d := &captureDispatcher{}
	svc := newTestService(newMemRepo(), openTicket(ticketID), d, now)

	nineAM := time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC)
	appt, err := svc.Create(context.Background(), validCreateInput(ticketID, nineAM))
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}

	if _, err := svc.Reschedule(context.Background(), appt.ID, nineAM.Add(24*time.Hour), "tenant travelling", domain.Actor{ID: "operator-9"}); err != nil {
		t.Fatalf("Reschedule error: %v", err)
	}

	evt := d.events[len(d.events)-1]
	if evt.Type != domain.EventAppointmentRescheduled {
		t.Fatalf("event type = %s", evt.Type)
	}
	if evt.Metadata["reason"] != "tenant travelling" {
		t.Fatalf("reason metadata = %v", evt.Metadata["reason"])
	}
	if evt.Metadata["previous_for"] != nineAM.Format(time.RFC3339) {
		t.Fatalf("previous_for metadata = %v", evt.Metadata["previous_for"])
	}
}

type captureSender struct {
	recipients []string
	subjects   []string
}

func (c *captureSender) Send(to, subject, body string) error {
	c.recipients = append(c.recipients, to)
	c.subjects = append(c.subjects, subject)
	return nil
}

// Member-facing mail must reach the ticket requester on every lifecycle
// event, not just the initial booking.
func TestLifecycleMail_ReachesRequester(t *testing.T) {
	ticketID := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	now := time.Date(2025, 1, 9, 12, 0, 0, 0, time.UTC)
	sender := &captureSender{}
	svc := NewService(
		newMemRepo(),
		openTicket(ticketID),
		notify.NewEmailDispatcher(sender, "ops@example.com"),
		slog.Default(),
		WithClock(fixedClock(now)),
	)

	nineAM := time.Date(2025, 1, 10, 9, 0, 0, 0, time.UTC)
	appt, err := svc.Create(context.Background(), validCreateInput(ticketID, nineAM))
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if _, err := svc.Reschedule(context.Background(), appt.ID, nineAM.Add(24*time.Hour), "member delayed", domain.Actor{ID: "operator-9"}); err != nil {
		t.Fatalf("Reschedule error: %v", err)
	}
	if _, err := svc.Cancel(context.Background(), appt.ID, "member moved out", domain.Actor{ID: "operator-9"}); err != nil {
		t.Fatalf("Cancel error: %v", err)
	}

	if len(sender.recipients) != 3 {
		t.Fatalf("mails sent = %d (%v), want 3", len(sender.recipients), sender.subjects)
	}
	for i, to := range sender.recipients {
		if to != "member@example.com" {
			t.Fatalf("mail[%d] (%q) went to %q, want the requester", i, sender.subjects[i], to)
		}
	}
}

func TestMarkNoShow_MailsRequester(t *testing.T) {
	ticketID := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	now := time.Date(2025, 1, 10, 9, 20, 0, 0, time.UTC)
	sender := &captureSender{}
	svc := NewService(
		newMemRepo(),
		openTicket(ticketID),
		notify.NewEmailDispatcher(sender, "ops@example.com"),
		slog.Default(),
		WithClock(fixedClock(now)),
	)

	appt, err := svc.Create(context.Background(), validCreateInput(ticketID, now.Add(-20*time.Minute)))
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if _, err := svc.MarkNoShow(context.Background(), appt.ID, "member_not_home", "", domain.Actor{ID: "tech-1"}); err != nil {
		t.Fatalf("MarkNoShow error: %v", err)
	}

	want := []string{"member@example.com", "member@example.com"}
	if len(sender.recipients) != len(want) {
		t.Fatalf("mails sent = %d, want %d", len(sender.recipients), len(want))
	}
	for i, to := range sender.recipients {
		if to != want[i] {
			t.Fatalf("mail[%d] went to %q, want %q", i, to, want[i])
		}
	}
}

func TestMarkNoShow(t *testing.T) {
	ticketID := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	now := time.Date(2025, 1, 10, 9, 20, 0, 0, time.UTC)
	actor := domain.Actor{ID: "tech-1", Name: "Ade", Role: "technician"}

	for _, fromInProgress := range []bool{false, true} {
		name := "from scheduled"
		if fromInProgress {
			name = "from in_progress"
		}
		t.Run(name, func(t *testing.T) {
			d := &captureDispatcher{}
			svc := newTestService(newMemRepo(), openTicket(ticketID), d, now)

			appt, err := svc.Create(context.Background(), validCreateInput(ticketID, now.Add(-20*time.Minute)))
			if err != nil {
				t.Fatalf("Create error: %v", err)
			}
			if fromInProgress {
				if _, err := svc.Start(context.Background(), appt.ID); err != nil {
					t.Fatalf("Start error: %v", err)
				}
			}

			marked, err := svc.MarkNoShow(context.Background(), appt.ID, "member_not_home", "no answer after three attempts", actor)
			if err != nil {
				t.Fatalf("MarkNoShow error: %v", err)
			}
			if marked.Status != domain.StatusNoShow {
				t.Fatalf("status = %s, want no_show", marked.Status)
			}
			if marked.NoShowReason != "member_not_home" {
				t.Fatalf("no_show_reason = %q", marked.NoShowReason)
			}
			if marked.NoShowDescription != "no answer after three attempts" {
				t.Fatalf("no_show_description = %q", marked.NoShowDescription)
			}
			if marked.MarkedNoShowAt == nil || !marked.MarkedNoShowAt.Equal(now) {
				t.Fatalf("marked_no_show_at = %v", marked.MarkedNoShowAt)
			}
			if marked.MarkedNoShowBy != "tech-1" {
				t.Fatalf("marked_no_show_by = %q", marked.MarkedNoShowBy)
			}

			var noShowEvents []domain.Event
			for _, e := range d.events {
				if e.Type == domain.EventAppointmentNoShow {
					noShowEvents = append(noShowEvents, e)
				}
			}
			if len(noShowEvents) != 1 {
				t.Fatalf("no-show events = %d, want exactly 1", len(noShowEvents))
			}
			evt := noShowEvents[0]
			if evt.Actor != actor {
				t.Fatalf("event actor = %+v, want %+v", evt.Actor, actor)
			}
			if evt.Metadata["reason"] != "member_not_home" {
				t.Fatalf("reason metadata = %v", evt.Metadata["reason"])
			}
		})
	}
}

func TestCancel_RequiresReason(t *testing.T) {
	ticketID := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	now := time.Date(2025, 1, 9, 12, 0, 0, 0, time.UTC)
	svc := newTestService(newMemRepo(), openTicket(ticketID), &captureDispatcher{}, now)

	_, err := svc.Cancel(context.Background(), uuid.MustParse("00000000-0000-0000-0000-000000000009"), "  ", domain.Actor{ID: "operator-9"})
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("error = %v, want *ValidationError", err)
	}
}

func TestCancel_RecordsReason(t *testing.T) {
	ticketID := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	now := time.Date(2025, 1, 9, 12, 0, 0, 0, time.UTC)
	svc := newTestService(newMemRepo(), openTicket(ticketID), &captureDispatcher{}, now)

	appt, err := svc.Create(context.Background(), validCreateInput(ticketID, now.Add(24*time.Hour)))
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}

	cancelled, err := svc.Cancel(context.Background(), appt.ID, "member moved out", domain.Actor{ID: "operator-9"})
	if err != nil {
		t.Fatalf("Cancel error: %v", err)
	}
	if cancelled.Status != domain.StatusCancelled {
		t.Fatalf("status = %s", cancelled.Status)
	}
	if cancelled.CancelReason != "member moved out" {
		t.Fatalf("cancel_reason = %q", cancelled.CancelReason)
	}
	if cancelled.CancelledAt == nil || !cancelled.CancelledAt.Equal(now) {
		t.Fatalf("cancelled_at = %v", cancelled.CancelledAt)
	}
}

func TestSubmitMemberFeedback_RatingBounds(t *testing.T) {
	ticketID := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	now := time.Date(2025, 1, 9, 12, 0, 0, 0, time.UTC)
	svc := newTestService(newMemRepo(), openTicket(ticketID), &captureDispatcher{}, now)

	for _, rating := range []int{0, 6, -1} {
		_, err := svc.SubmitMemberFeedback(context.Background(), uuid.MustParse("00000000-0000-0000-0000-000000000009"), "", rating, domain.Actor{ID: "member-3"})
		var vErr *ValidationError
		if !errors.As(err, &vErr) {
			t.Fatalf("rating %d: error = %v, want *ValidationError", rating, err)
		}
	}
}

func TestGet_NotFound(t *testing.T) {
	ticketID := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	now := time.Date(2025, 1, 9, 12, 0, 0, 0, time.UTC)
	svc := newTestService(newMemRepo(), openTicket(ticketID), &captureDispatcher{}, now)

	_, err := svc.Get(context.Background(), uuid.MustParse("00000000-0000-0000-0000-000000000042"))
	if !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestListForTechnician_WindowValidation(t *testing.T) {
	ticketID := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	now := time.Date(2025, 1, 9, 12, 0, 0, 0, time.UTC)
	svc := newTestService(newMemRepo(), openTicket(ticketID), &captureDispatcher{}, now)

	_, err := svc.ListForTechnician(context.Background(), "tech-1", now, now)
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("error = %v, want *ValidationError", err)
	}
}
