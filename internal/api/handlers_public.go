package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"slotkeeper/internal/domain"
	"slotkeeper/internal/models"
	"slotkeeper/internal/service"
	"slotkeeper/internal/timezone"

	"github.com/julienschmidt/httprouter"
)

// publicEventType leaves out owner and bookkeeping fields.
type publicEventType struct {
	Slug            string                      `json:"slug"`
	Name            string                      `json:"name"`
	Description     string                      `json:"description"`
	Location        string                      `json:"location"`
	DurationMinutes int                         `json:"durationMinutes"`
	TimeZone        string                      `json:"timeZone"`
	Availability    []models.AvailabilityWindow `json:"availability"`
	AllowRecurring  bool                        `json:"allowRecurring"`
	RecurringCount  int                         `json:"recurringCount"`
}

type reserveRequest struct {
	EventTypeSlug string `json:"eventTypeSlug" validate:"required"`
	StartTime     string `json:"startTime" validate:"required"`
	FirstName     string `json:"firstName" validate:"required"`
	LastName      string `json:"lastName" validate:"required"`
	Email         string `json:"email" validate:"required,email"`
	Phone         string `json:"phone" validate:"required,max=40"`
	Notes         string `json:"notes" validate:"max=2000"`
}

type reserveResponse struct {
	Success          bool             `json:"success"`
	Count            int              `json:"count"`
	RecurringGroupID string           `json:"recurringGroupId,omitempty"`
	NotificationSent bool             `json:"notificationSent"`
	Bookings         []bookingSummary `json:"bookings"`
}

type bookingSummary struct {
	ID        int64  `json:"id"`
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime"`
}

func (s *HTTPServer) handlePublicEventType(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	et, err := s.deps.EventTypes.PublicEventType(r.Context(), ps.ByName("slug"))
	if err != nil {
		writeServiceError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, publicEventType{
		Slug:            et.Slug,
		Name:            et.Name,
		Description:     et.Description,
		Location:        et.Location,
		DurationMinutes: et.DurationMinutes,
		TimeZone:        et.TimeZone,
		Availability:    et.Availability,
		AllowRecurring:  et.AllowRecurring,
		RecurringCount:  et.SessionCount(),
	})
}

func (s *HTTPServer) handleSlots(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	dateStr := strings.TrimSpace(r.URL.Query().Get("date"))
	if dateStr == "" {
		writeServiceError(w, s.logger, domain.NewValidationError(domain.ReasonMissingField, "date", "date is required"))
		return
	}
	date, err := timezone.ParseDate(dateStr)
	if err != nil {
		writeServiceError(w, s.logger, domain.NewValidationError(domain.ReasonInvalidDate, "date", "invalid date format; expected YYYY-MM-DD"))
		return
	}

	slots, err := s.deps.Slots.AvailableSlots(r.Context(), ps.ByName("slug"), date)
	if err != nil {
		writeServiceError(w, s.logger, err)
		return
	}

	out := make([]string, 0, len(slots))
	for _, t := range slots {
		out = append(out, formatInstant(t))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *HTTPServer) handleReserve(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var body reserveRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.validate.Struct(body); err != nil {
		writeServiceError(w, s.logger, err)
		return
	}
	start, err := time.Parse(time.RFC3339, strings.TrimSpace(body.StartTime))
	if err != nil {
		writeServiceError(w, s.logger, domain.NewValidationError(domain.ReasonInvalidDate, "startTime", "startTime must be RFC3339"))
		return
	}

	res, err := s.deps.Reservations.Reserve(r.Context(), service.ReservationRequest{
		EventTypeSlug: body.EventTypeSlug,
		Start:         start,
		Guest: models.Guest{
			FirstName: body.FirstName,
			LastName:  body.LastName,
			Email:     body.Email,
			Phone:     body.Phone,
			Notes:     body.Notes,
		},
	})
	if err != nil {
		writeServiceError(w, s.logger, err)
		return
	}

	resp := reserveResponse{
		Success:          true,
		Count:            len(res.Bookings),
		RecurringGroupID: res.RecurringGroupID,
		NotificationSent: res.NotificationSent,
		Bookings:         make([]bookingSummary, 0, len(res.Bookings)),
	}
	for _, b := range res.Bookings {
		resp.Bookings = append(resp.Bookings, bookingSummary{ID: b.ID, StartTime: formatInstant(b.StartAt), EndTime: formatInstant(b.EndAt)})
	}
	writeJSON(w, http.StatusCreated, resp)
}
