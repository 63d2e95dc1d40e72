package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/appointment-booking-engine/internal/appointment"
)

type CreateAppointmentRequest struct {
	StaffID     string    `json:"staff_id"`
	ServiceID   string    `json:"service_id"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time"`
	ClientName  string    `json:"client_name"`
	ClientEmail string    `json:"client_email"`
	ClientPhone string    `json:"client_phone"`
}

// UpdateAppointmentRequest carries a status transition, a reschedule, or both.
// Absent fields are left unchanged.
type UpdateAppointmentRequest struct {
	Status       *string    `json:"status,omitempty"`
	StaffID      *string    `json:"staff_id,omitempty"`
	StartTime    *time.Time `json:"start_time,omitempty"`
	EndTime      *time.Time `json:"end_time,omitempty"`
	CancelReason *string    `json:"cancel_reason,omitempty"`
}

type AppointmentResponse struct {
	ID            uuid.UUID  `json:"id"`
	BusinessID    uuid.UUID  `json:"business_id"`
	StaffID       uuid.UUID  `json:"staff_id"`
	ServiceID     uuid.UUID  `json:"service_id"`
	StartTime     time.Time  `json:"start_time"`
	EndTime       time.Time  `json:"end_time"`
	Status        string     `json:"status"`
	PaymentStatus string     `json:"payment_status"`
	ClientName    string     `json:"client_name"`
	ClientEmail   string     `json:"client_email,omitempty"`
	ClientPhone   string     `json:"client_phone,omitempty"`
	CancelReason  *string    `json:"cancel_reason,omitempty"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

type ListAppointmentsResponse struct {
	Items []AppointmentResponse `json:"items"`
	Count int                   `json:"count"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:            a.ID,
		BusinessID:    a.BusinessID,
		StaffID:       a.StaffID,
		ServiceID:     a.ServiceID,
		StartTime:     a.StartTime,
		EndTime:       a.EndTime,
		Status:        string(a.Status),
		PaymentStatus: string(a.PaymentStatus),
		ClientName:    a.Client.Name,
		ClientEmail:   a.Client.Email,
		ClientPhone:   a.Client.Phone,
		CancelReason:  a.CancelReason,
		ExpiresAt:     a.ExpiresAt,
		CreatedAt:     a.CreatedAt,
		UpdatedAt:     a.UpdatedAt,
	}
}
