package scheduling

import (
	"context"
	"sort"
	"time"

	"homedesk/backend/internal/domain"
)

// Slot is a free, bookable interval on a technician's calendar.
type Slot struct {
	Start time.Time
	End   time.Time
}

// TechnicianAvailability returns the free slots for a technician on the given
// date, computed by subtracting blocking appointments from the working-hours
// window. The slot walk jumps past an appointment's full span, so a visit
// overhanging the working window still blocks the portion it covers.
func (s *Service) TechnicianAvailability(ctx context.Context, technicianID string, date time.Time) ([]Slot, error) {
	if technicianID == "" {
		return nil, validationError("technician_id is required")
	}
	if date.IsZero() {
		return nil, validationError("date is required")
	}

	loc := date.Location()
	dayStart := time.Date(date.Year(), date.Month(), date.Day(), s.workdayStartHour, 0, 0, 0, loc)
	dayEnd := time.Date(date.Year(), date.Month(), date.Day(), s.workdayEndHour, 0, 0, 0, loc)

	appts, err := s.repo.ListForTechnician(ctx, technicianID, dayStart, dayEnd)
	if err != nil {
		return nil, err
	}

	busy := make([]domain.Window, 0, len(appts))
	for i := range appts {
		if appts[i].Blocking() {
			busy = append(busy, appts[i].Window())
		}
	}

	return freeSlots(dayStart, dayEnd, s.slotSize, busy), nil
}

// freeSlots walks [dayStart, dayEnd) in candidate slots of size slot. A
// candidate overlapping a busy window is discarded and the walk resumes at
// that window's end; a slot is emitted only when it fits entirely before the
// next appointment and the day end.
func freeSlots(dayStart, dayEnd time.Time, slot time.Duration, busy []domain.Window) []Slot {
	if slot <= 0 || !dayEnd.After(dayStart) {
		return nil
	}

	sort.Slice(busy, func(i, j int) bool {
		return busy[i].Start.Before(busy[j].Start)
	})

	var out []Slot
	t := dayStart
	for !t.Add(slot).After(dayEnd) {
		candidate := domain.Window{Start: t, Duration: slot}

		blocked := false
		for _, b := range busy {
			if b.Overlaps(candidate) {
				t = b.End()
				blocked = true
				break
			}
		}
		if blocked {
			continue
		}

		out = append(out, Slot{Start: t, End: t.Add(slot)})
		t = t.Add(slot)
	}
	return out
}
