package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"homedesk/backend/internal/domain"
	"homedesk/backend/internal/service/scheduling"
	"homedesk/backend/internal/store"
)

type schedulingService interface {
	Create(ctx context.Context, in scheduling.CreateInput) (domain.Appointment, error)
	Reschedule(ctx context.Context, appointmentID uuid.UUID, newScheduledFor time.Time, reason string, actor domain.Actor) (domain.Appointment, error)
	Cancel(ctx context.Context, appointmentID uuid.UUID, reason string, actor domain.Actor) (domain.Appointment, error)
	Start(ctx context.Context, appointmentID uuid.UUID) (domain.Appointment, error)
	CompleteByTechnician(ctx context.Context, appointmentID uuid.UUID, completionNotes string, actor domain.Actor) (domain.Appointment, error)
	SubmitMemberFeedback(ctx context.Context, appointmentID uuid.UUID, feedback string, rating int, actor domain.Actor) (domain.Appointment, error)
	MarkNoShow(ctx context.Context, appointmentID uuid.UUID, reason, description string, actor domain.Actor) (domain.Appointment, error)
	Get(ctx context.Context, appointmentID uuid.UUID) (domain.Appointment, error)
	ListForTechnician(ctx context.Context, technicianID string, windowStart, windowEnd time.Time) ([]domain.Appointment, error)
	TechnicianAvailability(ctx context.Context, technicianID string, date time.Time) ([]scheduling.Slot, error)
}

type Handler struct {
	svc      schedulingService
	validate *validator.Validate
	log      *slog.Logger
}

func NewHandler(svc schedulingService, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		svc:      svc,
		validate: validator.New(),
		log:      log.With(slog.String("component", "http.appointments")),
	}
}

type actorPayload struct {
	ID   string `json:"id" validate:"required"`
	Name string `json:"name"`
	Role string `json:"role"`
}

func (p actorPayload) actor() domain.Actor {
	return domain.Actor{ID: p.ID, Name: p.Name, Role: p.Role}
}

type createRequest struct {
	TicketID           uuid.UUID `json:"ticket_id" validate:"required"`
	TechnicianID       string    `json:"technician_id" validate:"required"`
	ScheduledBy        string    `json:"scheduled_by" validate:"required"`
	Title              string    `json:"title" validate:"required"`
	Description        string    `json:"description"`
	Address            string    `json:"address"`
	ScheduledFor       time.Time `json:"scheduled_for" validate:"required"`
	EstimatedDuration  int       `json:"estimated_duration" validate:"required,min=30,max=480"`
	MemberInstructions string    `json:"member_instructions"`
	Notes              string    `json:"notes"`
}

func (h *Handler) CreateAppointment(c *gin.Context) {
	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "malformed request body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request", err.Error())
		return
	}

	appt, err := h.svc.Create(c.Request.Context(), scheduling.CreateInput{
		TicketID:           req.TicketID,
		TechnicianID:       req.TechnicianID,
		ScheduledBy:        req.ScheduledBy,
		Title:              req.Title,
		Description:        req.Description,
		Address:            req.Address,
		ScheduledFor:       req.ScheduledFor,
		EstimatedDuration:  req.EstimatedDuration,
		MemberInstructions: req.MemberInstructions,
		Notes:              req.Notes,
	})
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusCreated, toAppointmentResponse(appt))
}

type rescheduleRequest struct {
	ScheduledFor time.Time    `json:"scheduled_for" validate:"required"`
	Reason       string       `json:"reason"`
	Actor        actorPayload `json:"actor" validate:"required"`
}

func (h *Handler) RescheduleAppointment(c *gin.Context) {
	id, ok := appointmentID(c)
	if !ok {
		return
	}
	var req rescheduleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "malformed request body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request", err.Error())
		return
	}

	appt, err := h.svc.Reschedule(c.Request.Context(), id, req.ScheduledFor, req.Reason, req.Actor.actor())
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, toAppointmentResponse(appt))
}

type cancelRequest struct {
	Reason string       `json:"reason" validate:"required"`
	Actor  actorPayload `json:"actor" validate:"required"`
}

func (h *Handler) CancelAppointment(c *gin.Context) {
	id, ok := appointmentID(c)
	if !ok {
		return
	}
	var req cancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "malformed request body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request", err.Error())
		return
	}

	appt, err := h.svc.Cancel(c.Request.Context(), id, req.Reason, req.Actor.actor())
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, toAppointmentResponse(appt))
}

func (h *Handler) StartAppointment(c *gin.Context) {
	id, ok := appointmentID(c)
	if !ok {
		return
	}
	appt, err := h.svc.Start(c.Request.Context(), id)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, toAppointmentResponse(appt))
}

type completeRequest struct {
	CompletionNotes string       `json:"completion_notes" validate:"required"`
	Actor           actorPayload `json:"actor" validate:"required"`
}

func (h *Handler) CompleteAppointment(c *gin.Context) {
	id, ok := appointmentID(c)
	if !ok {
		return
	}
	var req completeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "malformed request body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request", err.Error())
		return
	}

	appt, err := h.svc.CompleteByTechnician(c.Request.Context(), id, req.CompletionNotes, req.Actor.actor())
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, toAppointmentResponse(appt))
}

type feedbackRequest struct {
	Feedback string       `json:"feedback"`
	Rating   int          `json:"rating" validate:"required,min=1,max=5"`
	Actor    actorPayload `json:"actor" validate:"required"`
}

func (h *Handler) SubmitFeedback(c *gin.Context) {
	id, ok := appointmentID(c)
	if !ok {
		return
	}
	var req feedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "malformed request body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request", err.Error())
		return
	}

	appt, err := h.svc.SubmitMemberFeedback(c.Request.Context(), id, req.Feedback, req.Rating, req.Actor.actor())
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, toAppointmentResponse(appt))
}

type noShowRequest struct {
	Reason      string       `json:"reason" validate:"required"`
	Description string       `json:"description"`
	Actor       actorPayload `json:"actor" validate:"required"`
}

func (h *Handler) MarkNoShow(c *gin.Context) {
	id, ok := appointmentID(c)
	if !ok {
		return
	}
	var req noShowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "malformed request body", err.Error())
		return
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request", err.Error())
		return
	}

	appt, err := h.svc.MarkNoShow(c.Request.Context(), id, req.Reason, req.Description, req.Actor.actor())
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, toAppointmentResponse(appt))
}

func (h *Handler) GetAppointment(c *gin.Context) {
	id, ok := appointmentID(c)
	if !ok {
		return
	}
	appt, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, toAppointmentResponse(appt))
}

func (h *Handler) ListAppointments(c *gin.Context) {
	technicianID := c.Query("technician_id")
	from, err := time.Parse(time.RFC3339, c.Query("from"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "from must be RFC3339", err.Error())
		return
	}
	to, err := time.Parse(time.RFC3339, c.Query("to"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "to must be RFC3339", err.Error())
		return
	}

	appts, err := h.svc.ListForTechnician(c.Request.Context(), technicianID, from, to)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}

	out := make([]appointmentResponse, 0, len(appts))
	for _, a := range appts {
		out = append(out, toAppointmentResponse(a))
	}
	c.JSON(http.StatusOK, gin.H{"appointments": out})
}

func (h *Handler) TechnicianAvailability(c *gin.Context) {
	technicianID := c.Param("id")
	date, err := time.Parse("2006-01-02", c.Query("date"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "date must be YYYY-MM-DD", err.Error())
		return
	}

	slots, err := h.svc.TechnicianAvailability(c.Request.Context(), technicianID, date)
	if err != nil {
		h.writeServiceError(c, err)
		return
	}

	out := make([]gin.H, 0, len(slots))
	for _, s := range slots {
		out = append(out, gin.H{
			"start": s.Start.Format(time.RFC3339),
			"end":   s.End.Format(time.RFC3339),
		})
	}
	c.JSON(http.StatusOK, gin.H{"technician_id": technicianID, "date": c.Query("date"), "slots": out})
}

func appointmentID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid appointment id", err.Error())
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) writeServiceError(c *gin.Context, err error) {
	var vErr *scheduling.ValidationError
	var cErr *store.ConflictError
	var tErr *domain.TransitionError

	switch {
	case errors.As(err, &vErr):
		writeError(c, http.StatusBadRequest, "INVALID_REQUEST", vErr.Error(), nil)
	case errors.Is(err, scheduling.ErrIneligibleTicket):
		writeError(c, http.StatusUnprocessableEntity, "INELIGIBLE_TICKET", "ticket is not eligible for appointment scheduling", nil)
	case errors.As(err, &cErr):
		// The exclusion-constraint path reports no window; omit the detail
		// rather than rendering zero times.
		var details any
		if !cErr.ConflictStart.IsZero() {
			details = gin.H{
				"conflict_start": cErr.ConflictStart.Format(time.RFC3339),
				"conflict_end":   cErr.ConflictEnd.Format(time.RFC3339),
			}
		}
		writeError(c, http.StatusConflict, "SCHEDULING_CONFLICT", "technician already has an appointment at this time", details)
	case errors.Is(err, store.ErrConflict):
		writeError(c, http.StatusConflict, "SCHEDULING_CONFLICT", "technician already has an appointment at this time", nil)
	case errors.As(err, &tErr):
		writeError(c, http.StatusConflict, "STATE_VIOLATION", tErr.Error(), nil)
	case errors.Is(err, store.ErrNotFound):
		writeError(c, http.StatusNotFound, "NOT_FOUND", "appointment or ticket not found", nil)
	default:
		h.log.Error("operation failed", slog.Any("err", err))
		writeError(c, http.StatusInternalServerError, "INTERNAL", "operation failed", nil)
	}
}

func writeError(c *gin.Context, status int, code, message string, details any) {
	c.AbortWithStatusJSON(status, gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
			"details": details,
		},
	})
}

type appointmentResponse struct {
	ID                 string     `json:"id"`
	TicketID           string     `json:"ticket_id"`
	TechnicianID       string     `json:"technician_id"`
	ScheduledBy        string     `json:"scheduled_by"`
	Title              string     `json:"title"`
	Description        string     `json:"description,omitempty"`
	Address            string     `json:"address,omitempty"`
	ScheduledFor       time.Time  `json:"scheduled_for"`
	EstimatedDuration  int        `json:"estimated_duration"`
	Status             string     `json:"status"`
	Notes              string     `json:"notes,omitempty"`
	MemberInstructions string     `json:"member_instructions,omitempty"`
	StartedAt          *time.Time `json:"started_at,omitempty"`
	CompletedAt        *time.Time `json:"completed_at,omitempty"`
	CompletionNotes    string     `json:"completion_notes,omitempty"`
	MemberFeedback     string     `json:"member_feedback,omitempty"`
	ServiceRating      *int       `json:"service_rating,omitempty"`
	CancelReason       string     `json:"cancel_reason,omitempty"`
	NoShowReason       string     `json:"no_show_reason,omitempty"`
	NoShowDescription  string     `json:"no_show_description,omitempty"`
	MarkedNoShowAt     *time.Time `json:"marked_no_show_at,omitempty"`
	MarkedNoShowBy     string     `json:"marked_no_show_by,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

func toAppointmentResponse(a domain.Appointment) appointmentResponse {
	return appointmentResponse{
		ID:                 a.ID.String(),
		TicketID:           a.TicketID.String(),
		TechnicianID:       a.TechnicianID,
		ScheduledBy:        a.ScheduledBy,
		Title:              a.Title,
		Description:        a.Description,
		Address:            a.Address,
		ScheduledFor:       a.ScheduledFor,
		EstimatedDuration:  a.EstimatedDuration,
		Status:             string(a.Status),
		Notes:              a.Notes,
		MemberInstructions: a.MemberInstructions,
		StartedAt:          a.StartedAt,
		CompletedAt:        a.CompletedAt,
		CompletionNotes:    a.CompletionNotes,
		MemberFeedback:     a.MemberFeedback,
		ServiceRating:      a.ServiceRating,
		CancelReason:       a.CancelReason,
		NoShowReason:       a.NoShowReason,
		NoShowDescription:  a.NoShowDescription,
		MarkedNoShowAt:     a.MarkedNoShowAt,
		MarkedNoShowBy:     a.MarkedNoShowBy,
		CreatedAt:          a.CreatedAt,
		UpdatedAt:          a.UpdatedAt,
	}
}
