package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"slotkeeper/internal/domain"
	"slotkeeper/internal/models"
	"slotkeeper/internal/service"

	"github.com/julienschmidt/httprouter"
)

type windowRequest struct {
	Day   int    `json:"day" validate:"min=0,max=6"`
	Start string `json:"start" validate:"required"`
	End   string `json:"end" validate:"required"`
}

type createEventTypeRequest struct {
	Slug            string          `json:"slug" validate:"required"`
	Name            string          `json:"name" validate:"required"`
	Description     string          `json:"description"`
	Location        string          `json:"location"`
	DurationMinutes int             `json:"durationMinutes" validate:"omitempty,min=1,max=1440"`
	TimeZone        string          `json:"timeZone" validate:"required"`
	Availability    []windowRequest `json:"availability" validate:"dive"`
	AllowRecurring  bool            `json:"allowRecurring"`
	RecurringCount  int             `json:"recurringCount"`
}

type updateBookingRequest struct {
	StartTime       *string `json:"startTime"`
	DurationMinutes *int    `json:"durationMinutes" validate:"omitempty,min=1,max=1440"`
	FirstName       *string `json:"firstName"`
	LastName        *string `json:"lastName"`
	Email           *string `json:"email" validate:"omitempty,email"`
	Phone           *string `json:"phone"`
	Notes           *string `json:"notes"`
}

func toWindows(in []windowRequest) []models.AvailabilityWindow {
	out := make([]models.AvailabilityWindow, 0, len(in))
	for _, w := range in {
		out = append(out, models.AvailabilityWindow{Day: models.Weekday(w.Day), Start: w.Start, End: w.End})
	}
	return out
}

func pathID(ps httprouter.Params) (int64, error) {
	id, err := strconv.ParseInt(ps.ByName("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, domain.NewValidationError(domain.ReasonMissingField, "id", "id must be a positive integer")
	}
	return id, nil
}

func owner(r *http.Request) string {
	id, _ := OwnerFromContext(r.Context())
	return id
}

func (s *HTTPServer) handleListEventTypes(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	list, err := s.deps.EventTypes.ListEventTypes(r.Context(), owner(r))
	if err != nil {
		writeServiceError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *HTTPServer) handleCreateEventType(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var body createEventTypeRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.validate.Struct(body); err != nil {
		writeServiceError(w, s.logger, err)
		return
	}

	et, err := s.deps.EventTypes.CreateEventType(r.Context(), owner(r), &models.EventType{
		Slug:            body.Slug,
		Name:            body.Name,
		Description:     body.Description,
		Location:        body.Location,
		DurationMinutes: body.DurationMinutes,
		TimeZone:        body.TimeZone,
		Availability:    toWindows(body.Availability),
		AllowRecurring:  body.AllowRecurring,
		RecurringCount:  body.RecurringCount,
	})
	if err != nil {
		writeServiceError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, et)
}

func (s *HTTPServer) handleGetEventType(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id, err := pathID(ps)
	if err != nil {
		writeServiceError(w, s.logger, err)
		return
	}
	et, err := s.deps.EventTypes.GetEventType(r.Context(), owner(r), id)
	if err != nil {
		writeServiceError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, et)
}

func (s *HTTPServer) handleUpdateEventType(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id, err := pathID(ps)
	if err != nil {
		writeServiceError(w, s.logger, err)
		return
	}
	var changes service.EventTypeChanges
	if err := json.NewDecoder(r.Body).Decode(&changes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	et, err := s.deps.EventTypes.UpdateEventType(r.Context(), owner(r), id, changes)
	if err != nil {
		writeServiceError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, et)
}

func (s *HTTPServer) handleListBookings(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	views, err := s.deps.Bookings.ListBookings(r.Context(), owner(r))
	if err != nil {
		writeServiceError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *HTTPServer) handleGetBooking(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id, err := pathID(ps)
	if err != nil {
		writeServiceError(w, s.logger, err)
		return
	}
	view, err := s.deps.Bookings.GetBooking(r.Context(), owner(r), id)
	if err != nil {
		writeServiceError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *HTTPServer) handleUpdateBooking(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id, err := pathID(ps)
	if err != nil {
		writeServiceError(w, s.logger, err)
		return
	}
	var body updateBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := s.validate.Struct(body); err != nil {
		writeServiceError(w, s.logger, err)
		return
	}

	changes := models.BookingChanges{
		DurationMinutes: body.DurationMinutes,
		FirstName:       body.FirstName,
		LastName:        body.LastName,
		Email:           body.Email,
		Phone:           body.Phone,
		Notes:           body.Notes,
	}
	if body.StartTime != nil {
		start, err := time.Parse(time.RFC3339, strings.TrimSpace(*body.StartTime))
		if err != nil {
			writeServiceError(w, s.logger, domain.NewValidationError(domain.ReasonInvalidDate, "startTime", "startTime must be RFC3339"))
			return
		}
		changes.StartAt = &start
	}

	updated, err := s.deps.Bookings.UpdateBooking(r.Context(), owner(r), id, changes)
	if err != nil {
		writeServiceError(w, s.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *HTTPServer) handleDeleteBooking(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id, err := pathID(ps)
	if err != nil {
		writeServiceError(w, s.logger, err)
		return
	}
	if err := s.deps.Bookings.DeleteBooking(r.Context(), owner(r), id); err != nil {
		writeServiceError(w, s.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
