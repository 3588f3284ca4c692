package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"time"

	"homedesk/backend/internal/domain"
)

type EmailSender interface {
	Send(to string, subject string, body string) error
}

// SMTPSender sends mail via unauthenticated SMTP (Mailpit-compatible).
type SMTPSender struct {
	addr string
	from string
}

func NewSMTPSender(host, port, from string) *SMTPSender {
	from = strings.TrimSpace(from)
	if from == "" {
		from = "no-reply@homedesk.local"
	}
	return &SMTPSender{
		addr: fmt.Sprintf("%s:%s", strings.TrimSpace(host), strings.TrimSpace(port)),
		from: from,
	}
}

func (s *SMTPSender) Send(to, subject, body string) error {
	msg := buildMessage(s.from, to, subject, body)
	return smtp.SendMail(s.addr, nil, s.from, []string{to}, []byte(msg))
}

func buildMessage(from, to, subject, body string) string {
	// Minimal RFC 5322 message; enough for Mailpit and most SMTP relays.
	return fmt.Sprintf(
		"From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n%s\r\n",
		from,
		to,
		subject,
		body,
	)
}

// EmailDispatcher mails a summary of each member-facing scheduling event to
// the ticket requester when their address is known, falling back to the
// configured operations mailbox.
type EmailDispatcher struct {
	sender  EmailSender
	opsAddr string
}

func NewEmailDispatcher(sender EmailSender, opsAddr string) *EmailDispatcher {
	return &EmailDispatcher{sender: sender, opsAddr: strings.TrimSpace(opsAddr)}
}

func (d *EmailDispatcher) Dispatch(ctx context.Context, evt domain.Event) error {
	subject, body, ok := composeEmail(evt)
	if !ok {
		return nil
	}

	to := d.opsAddr
	if addr, found := evt.Metadata["requester_email"].(string); found && addr != "" {
		to = addr
	}
	if to == "" {
		return nil
	}
	return d.sender.Send(to, subject, body)
}

func composeEmail(evt domain.Event) (subject, body string, ok bool) {
	appt := evt.Appointment
	when := appt.ScheduledFor.Format("Monday, 2 Jan 2006 at 15:04")

	switch evt.Type {
	case domain.EventAppointmentScheduled:
		subject = "Technician visit scheduled"
		body = fmt.Sprintf(
			"A technician visit for %q has been scheduled for %s (estimated %d minutes).",
			appt.Title, when, appt.EstimatedDuration,
		)
		if appt.MemberInstructions != "" {
			body += "\n\nInstructions: " + appt.MemberInstructions
		}
	case domain.EventAppointmentRescheduled:
		subject = "Technician visit rescheduled"
		body = fmt.Sprintf("Your technician visit for %q has been moved to %s.", appt.Title, when)
	case domain.EventAppointmentCancelled:
		subject = "Technician visit cancelled"
		body = fmt.Sprintf("Your technician visit for %q was cancelled. Reason: %s", appt.Title, appt.CancelReason)
	case domain.EventTechnicalCompleted:
		subject = "Technician visit completed"
		body = fmt.Sprintf(
			"The technician finished the visit for %q on %s. Please rate the service when you have a moment.",
			appt.Title, evt.OccurredAt.Format(time.RFC1123),
		)
	case domain.EventAppointmentNoShow:
		subject = "Missed technician visit"
		body = fmt.Sprintf(
			"We could not complete the visit for %q scheduled for %s. Reason: %s. Please contact support to rebook.",
			appt.Title, when, appt.NoShowReason,
		)
	default:
		// Start and member-feedback events are internal; no mail goes out.
		return "", "", false
	}
	return subject, body, true
}
