package appointment

import (
	"context"
	"time"

	"github.com/hackgods/appointment-booking-engine/internal/outbox"
)

const (
	EventAppointmentBooked        = "appointment.booked.v1"
	EventAppointmentStatusChanged = "appointment.status_changed.v1"
	EventAppointmentRescheduled   = "appointment.rescheduled.v1"

	aggregateAppointment = "appointment"
)

type bookedPayload struct {
	AppointmentID string     `json:"appointment_id"`
	BusinessID    string     `json:"business_id"`
	StaffID       string     `json:"staff_id"`
	ServiceID     string     `json:"service_id"`
	StartTime     time.Time  `json:"start_time"`
	EndTime       time.Time  `json:"end_time"`
	Status        string     `json:"status"`
	PaymentStatus string     `json:"payment_status"`
	ClientName    string     `json:"client_name"`
	ClientEmail   string     `json:"client_email,omitempty"`
	ClientPhone   string     `json:"client_phone,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
}

type statusChangedPayload struct {
	AppointmentID string  `json:"appointment_id"`
	From          string  `json:"from"`
	To            string  `json:"to"`
	Reason        *string `json:"reason,omitempty"`
}

type rescheduledPayload struct {
	AppointmentID string    `json:"appointment_id"`
	FromStaffID   string    `json:"from_staff_id"`
	ToStaffID     string    `json:"to_staff_id"`
	FromStart     time.Time `json:"from_start"`
	FromEnd       time.Time `json:"from_end"`
	ToStart       time.Time `json:"to_start"`
	ToEnd         time.Time `json:"to_end"`
}

func bookedEvent(ctx context.Context, a *Appointment) (outbox.Event, error) {
	return outbox.NewEvent(ctx, a.BusinessID, aggregateAppointment, a.ID, EventAppointmentBooked, bookedPayload{
		AppointmentID: a.ID.String(),
		BusinessID:    a.BusinessID.String(),
		StaffID:       a.StaffID.String(),
		ServiceID:     a.ServiceID.String(),
		StartTime:     a.StartTime,
		EndTime:       a.EndTime,
		Status:        string(a.Status),
		PaymentStatus: string(a.PaymentStatus),
		ClientName:    a.Client.Name,
		ClientEmail:   a.Client.Email,
		ClientPhone:   a.Client.Phone,
		ExpiresAt:     a.ExpiresAt,
	})
}

func statusChangedEvent(ctx context.Context, a *Appointment, from AppointmentStatus) (outbox.Event, error) {
	return outbox.NewEvent(ctx, a.BusinessID, aggregateAppointment, a.ID, EventAppointmentStatusChanged, statusChangedPayload{
		AppointmentID: a.ID.String(),
		From:          string(from),
		To:            string(a.Status),
		Reason:        a.CancelReason,
	})
}

func rescheduledEvent(ctx context.Context, before, after *Appointment) (outbox.Event, error) {
	return outbox.NewEvent(ctx, after.BusinessID, aggregateAppointment, after.ID, EventAppointmentRescheduled, rescheduledPayload{
		AppointmentID: after.ID.String(),
		FromStaffID:   before.StaffID.String(),
		ToStaffID:     after.StaffID.String(),
		FromStart:     before.StartTime,
		FromEnd:       before.EndTime,
		ToStart:       after.StartTime,
		ToEnd:         after.EndTime,
	})
}
