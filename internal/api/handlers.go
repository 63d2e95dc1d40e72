package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hackgods/appointment-booking-engine/internal/appointment"
	"github.com/hackgods/appointment-booking-engine/internal/availability"
	"github.com/hackgods/appointment-booking-engine/internal/directory"
	"github.com/hackgods/appointment-booking-engine/internal/logging"
	"github.com/hackgods/appointment-booking-engine/internal/rules"
	"github.com/hackgods/appointment-booking-engine/internal/schedule"
	"github.com/hackgods/appointment-booking-engine/internal/tenancy"
)

const availabilityReasonHeader = "X-Availability-Reason"

type AvailabilityService interface {
	Check(ctx context.Context, businessID, staffID, serviceID uuid.UUID, date string) (availability.Result, error)
}

type AppointmentService interface {
	Book(ctx context.Context, req appointment.BookRequest) (*appointment.Appointment, error)
	GetAppointment(ctx context.Context, businessID, id uuid.UUID) (*appointment.Appointment, error)
	ListAppointments(ctx context.Context, businessID uuid.UUID, f appointment.ListFilter) ([]appointment.Appointment, error)
	UpdateAppointment(ctx context.Context, req appointment.UpdateRequest) (*appointment.Appointment, error)
}

func getAvailabilityHandler(svc AvailabilityService, logger *logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		businessID, _ := tenancy.BusinessIDFromContext(r.Context())
		q := r.URL.Query()

		staffID, err := uuid.Parse(q.Get("staff_id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_staff_id", "staff_id must be a valid UUID")
			return
		}
		serviceID, err := uuid.Parse(q.Get("service_id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_service_id", "service_id must be a valid UUID")
			return
		}
		date := q.Get("date")
		if date == "" {
			writeError(w, http.StatusBadRequest, "invalid_date", "date is required (YYYY-MM-DD)")
			return
		}

		res, err := svc.Check(r.Context(), businessID, staffID, serviceID, date)
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}

		if res.Reason != availability.ReasonNone {
			w.Header().Set(availabilityReasonHeader, string(res.Reason))
		}
		writeJSON(w, http.StatusOK, res.Strings())
	}
}

func createAppointmentHandler(svc AppointmentService, logger *logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		businessID, _ := tenancy.BusinessIDFromContext(r.Context())

		var req CreateAppointmentRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		staffID, err := uuid.Parse(req.StaffID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_staff_id", "staff_id must be a valid UUID")
			return
		}
		serviceID, err := uuid.Parse(req.ServiceID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_service_id", "service_id must be a valid UUID")
			return
		}

		appt, err := svc.Book(r.Context(), appointment.BookRequest{
			BusinessID: businessID,
			StaffID:    staffID,
			ServiceID:  serviceID,
			StartTime:  req.StartTime,
			EndTime:    req.EndTime,
			Client: appointment.ClientInfo{
				Name:  strings.TrimSpace(req.ClientName),
				Email: strings.TrimSpace(req.ClientEmail),
				Phone: strings.TrimSpace(req.ClientPhone),
			},
		})
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
	}
}

func getAppointmentHandler(svc AppointmentService, logger *logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		businessID, _ := tenancy.BusinessIDFromContext(r.Context())

		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		appt, err := svc.GetAppointment(r.Context(), businessID, id)
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func listAppointmentsHandler(svc AppointmentService, logger *logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		businessID, _ := tenancy.BusinessIDFromContext(r.Context())

		f, code, msg := parseListFilter(r)
		if code != "" {
			writeError(w, http.StatusBadRequest, code, msg)
			return
		}

		appts, err := svc.ListAppointments(r.Context(), businessID, f)
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}

		resp := ListAppointmentsResponse{Items: make([]AppointmentResponse, 0, len(appts)), Count: len(appts)}
		for i := range appts {
			resp.Items = append(resp.Items, toAppointmentResponse(&appts[i]))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func updateAppointmentHandler(svc AppointmentService, logger *logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		businessID, _ := tenancy.BusinessIDFromContext(r.Context())

		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
			return
		}

		var req UpdateAppointmentRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		upd := appointment.UpdateRequest{
			BusinessID:   businessID,
			ID:           id,
			StartTime:    req.StartTime,
			EndTime:      req.EndTime,
			CancelReason: req.CancelReason,
		}
		if req.Status != nil {
			status := appointment.AppointmentStatus(strings.ToLower(*req.Status))
			upd.Status = &status
		}
		if req.StaffID != nil {
			staffID, err := uuid.Parse(*req.StaffID)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_staff_id", "staff_id must be a valid UUID")
				return
			}
			upd.StaffID = &staffID
		}

		appt, err := svc.UpdateAppointment(r.Context(), upd)
		if err != nil {
			writeServiceError(w, r, logger, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

// parseListFilter returns a non-empty error code when a query parameter is malformed.
func parseListFilter(r *http.Request) (appointment.ListFilter, string, string) {
	q := r.URL.Query()
	var f appointment.ListFilter

	if v := q.Get("staff_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return f, "invalid_staff_id", "staff_id must be a valid UUID"
		}
		f.StaffID = &id
	}
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, "invalid_from", "from must be RFC3339"
		}
		f.From = &t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, "invalid_to", "to must be RFC3339"
		}
		f.To = &t
	}
	if v := q.Get("status"); v != "" {
		status := appointment.AppointmentStatus(strings.ToLower(v))
		f.Status = &status
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return f, "invalid_limit", "limit must be an integer"
		}
		f.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return f, "invalid_offset", "offset must be an integer"
		}
		f.Offset = n
	}
	return f, "", ""
}

// writeServiceError maps domain errors onto HTTP responses. Anything unrecognised
// is logged and reported without detail.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *logging.Logger, err error) {
	var invalidSchedule *schedule.InvalidScheduleError

	switch {
	case errors.Is(err, appointment.ErrSlotTaken):
		writeError(w, http.StatusConflict, "slot_taken", "the requested time is no longer available, refresh availability and pick another slot")
	case errors.Is(err, appointment.ErrInvalidStatusTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())

	case errors.Is(err, rules.ErrQuotaExceeded):
		writeError(w, http.StatusPaymentRequired, "quota_exceeded", err.Error())
	case errors.Is(err, rules.ErrTooSoon):
		writeError(w, http.StatusUnprocessableEntity, "too_soon", err.Error())
	case errors.Is(err, rules.ErrTooFarAhead):
		writeError(w, http.StatusUnprocessableEntity, "too_far_ahead", err.Error())
	case errors.Is(err, rules.ErrSameDayDisallowed):
		writeError(w, http.StatusUnprocessableEntity, "same_day_disallowed", err.Error())
	case errors.Is(err, appointment.ErrOutsideWorkingHours):
		writeError(w, http.StatusUnprocessableEntity, "outside_working_hours", err.Error())
	case errors.Is(err, appointment.ErrStaffInactive):
		writeError(w, http.StatusUnprocessableEntity, "staff_inactive", err.Error())

	case errors.Is(err, directory.ErrBusinessNotFound):
		writeError(w, http.StatusNotFound, "business_not_found", err.Error())
	case errors.Is(err, directory.ErrStaffNotFound):
		writeError(w, http.StatusNotFound, "staff_not_found", err.Error())
	case errors.Is(err, directory.ErrServiceNotFound):
		writeError(w, http.StatusNotFound, "service_not_found", err.Error())
	case errors.Is(err, appointment.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())

	case errors.Is(err, schedule.ErrInvalidDate):
		writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
	case errors.Is(err, rules.ErrDateInPast):
		writeError(w, http.StatusBadRequest, "date_in_past", err.Error())
	case errors.Is(err, appointment.ErrInvalidTimeRange):
		writeError(w, http.StatusBadRequest, "invalid_time_range", err.Error())
	case errors.Is(err, appointment.ErrDurationMismatch):
		writeError(w, http.StatusBadRequest, "duration_mismatch", err.Error())
	case errors.Is(err, appointment.ErrStartInPast):
		writeError(w, http.StatusBadRequest, "start_in_past", err.Error())
	case errors.Is(err, appointment.ErrClientNameRequired):
		writeError(w, http.StatusBadRequest, "client_name_required", err.Error())
	case errors.Is(err, appointment.ErrInvalidStatus):
		writeError(w, http.StatusBadRequest, "invalid_status", err.Error())
	case errors.Is(err, appointment.ErrEmptyUpdate):
		writeError(w, http.StatusBadRequest, "empty_update", err.Error())

	case errors.As(err, &invalidSchedule):
		logger.Error("stored schedule is invalid",
			"request_id", GetRequestID(r.Context()),
			"staff_id", invalidSchedule.StaffID,
			"error", err,
		)
		writeError(w, http.StatusInternalServerError, "internal_error", "")
	default:
		logger.Error("request failed",
			"request_id", GetRequestID(r.Context()),
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
		writeError(w, http.StatusInternalServerError, "internal_error", "")
	}
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}
