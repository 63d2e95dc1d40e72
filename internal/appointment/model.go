package appointment

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/appointment-booking-engine/internal/availability"
)

type AppointmentStatus string

const (
	StatusPending   AppointmentStatus = "pending"
	StatusConfirmed AppointmentStatus = "confirmed"
	StatusCancelled AppointmentStatus = "cancelled"
	StatusCompleted AppointmentStatus = "completed"
)

// cancelled and completed are terminal
var transitions = map[AppointmentStatus][]AppointmentStatus{
	StatusPending:   {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusCompleted, StatusCancelled},
}

func (s AppointmentStatus) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusCancelled, StatusCompleted:
		return true
	}
	return false
}

func (s AppointmentStatus) CanTransitionTo(to AppointmentStatus) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Reschedulable reports whether start, end or staff may still change.
func (s AppointmentStatus) Reschedulable() bool {
	return s == StatusPending || s == StatusConfirmed
}

type PaymentStatus string

const (
	PaymentNotRequired    PaymentStatus = "not_required"
	PaymentAwaitingProof  PaymentStatus = "awaiting_proof"
	PaymentProofSubmitted PaymentStatus = "proof_submitted"
	PaymentVerified       PaymentStatus = "verified"
	PaymentRejected       PaymentStatus = "rejected"
)

type ClientInfo struct {
	Name  string
	Email string
	Phone string
}

type Appointment struct {
	ID            uuid.UUID
	BusinessID    uuid.UUID
	StaffID       uuid.UUID
	ServiceID     uuid.UUID
	StartTime     time.Time
	EndTime       time.Time
	Status        AppointmentStatus
	PaymentStatus PaymentStatus
	Client        ClientInfo
	CancelReason  *string
	// ExpiresAt is set while a pending appointment waits for payment proof.
	ExpiresAt *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (a Appointment) Interval() availability.Interval {
	return availability.Interval{Start: a.StartTime, End: a.EndTime}
}

type ListFilter struct {
	StaffID *uuid.UUID
	From    *time.Time
	To      *time.Time
	Status  *AppointmentStatus
	Limit   int
	Offset  int
}
