package notify

import (
	"context"
	"fmt"
	"time"

	"homedesk/backend/internal/domain"
	"homedesk/backend/internal/store"
)

// HistoryRecorder appends a ticket-timeline entry for each scheduling event,
// so the ticket shows the full visit history alongside its other activity.
type HistoryRecorder struct {
	tickets store.TicketGateway
}

func NewHistoryRecorder(tickets store.TicketGateway) *HistoryRecorder {
	return &HistoryRecorder{tickets: tickets}
}

func (r *HistoryRecorder) Dispatch(ctx context.Context, evt domain.Event) error {
	return r.tickets.AppendHistory(ctx, domain.TicketHistoryEntry{
		TicketID:    evt.Appointment.TicketID,
		Action:      string(evt.Type),
		Description: describe(evt),
		Metadata:    historyMetadata(evt),
		ActorID:     evt.Actor.ID,
		CreatedAt:   evt.OccurredAt,
	})
}

func describe(evt domain.Event) string {
	appt := evt.Appointment
	when := appt.ScheduledFor.Format("2006-01-02 15:04")

	switch evt.Type {
	case domain.EventAppointmentScheduled:
		return fmt.Sprintf("On-site visit scheduled for %s (%d min) with technician %s", when, appt.EstimatedDuration, appt.TechnicianID)
	case domain.EventAppointmentRescheduled:
		return fmt.Sprintf("On-site visit moved to %s", when)
	case domain.EventAppointmentCancelled:
		return fmt.Sprintf("On-site visit cancelled: %s", appt.CancelReason)
	case domain.EventAppointmentStarted:
		return "Technician started the on-site visit"
	case domain.EventTechnicalCompleted:
		return "Technician completed the on-site visit; awaiting member feedback"
	case domain.EventMemberFeedback:
		return "Member submitted feedback for the on-site visit"
	case domain.EventAppointmentNoShow:
		return fmt.Sprintf("Visit marked as no-show: %s", appt.NoShowReason)
	default:
		return string(evt.Type)
	}
}

// routingKeys are event metadata used to deliver notifications, not facts
// about the appointment. They stay out of the persisted timeline.
var routingKeys = map[string]bool{
	"requester_email": true,
}

// historyMetadata builds the structured payload stored with the entry. Every
// entry carries actor attribution and the event timestamp; event-specific
// keys come from the service via evt.Metadata.
func historyMetadata(evt domain.Event) map[string]any {
	md := map[string]any{
		"appointment_id": evt.Appointment.ID.String(),
		"actor_id":       evt.Actor.ID,
		"actor_name":     evt.Actor.Name,
		"timestamp":      evt.OccurredAt.UTC().Format(time.RFC3339),
	}
	for k, v := range evt.Metadata {
		if routingKeys[k] {
			continue
		}
		md[k] = v
	}
	return md
}
