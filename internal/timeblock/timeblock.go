// Package timeblock is the read model of staff unavailability windows such as
// vacations, breaks and ad-hoc exceptions.
package timeblock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/appointment-booking-engine/internal/db"
)

var ErrInvalidRange = errors.New("time block end must be after start")

type TimeBlock struct {
	ID         uuid.UUID
	BusinessID uuid.UUID
	StaffID    uuid.UUID
	StartTime  time.Time
	EndTime    time.Time
	Reason     string
	CreatedAt  time.Time
}

type PgStore struct {
	db db.Querier
}

func NewPgStore(q db.Querier) *PgStore {
	return &PgStore{db: q}
}

// ListBlocks returns blocks for a staff member that overlap [from, to),
// ordered by start time.
func (s *PgStore) ListBlocks(ctx context.Context, businessID, staffID uuid.UUID, from, to time.Time) ([]TimeBlock, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, business_id, staff_id, start_time, end_time, reason, created_at
		FROM time_blocks
		WHERE business_id = $1
			AND staff_id = $2
			AND start_time < $4
			AND end_time > $3
		ORDER BY start_time ASC
	`, businessID, staffID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list time blocks: %w", err)
	}
	defer rows.Close()

	var blocks []TimeBlock
	for rows.Next() {
		var b TimeBlock
		if err := rows.Scan(&b.ID, &b.BusinessID, &b.StaffID, &b.StartTime, &b.EndTime, &b.Reason, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan time block: %w", err)
		}
		blocks = append(blocks, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list time blocks: %w", err)
	}
	return blocks, nil
}

// Create inserts a block. Staff management and the seed command use it; the
// booking engine only reads blocks.
func (s *PgStore) Create(ctx context.Context, b *TimeBlock) error {
	if !b.EndTime.After(b.StartTime) {
		return ErrInvalidRange
	}
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	err := s.db.QueryRow(ctx, `
		INSERT INTO time_blocks (id, business_id, staff_id, start_time, end_time, reason)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at
	`, b.ID, b.BusinessID, b.StaffID, b.StartTime, b.EndTime, b.Reason).Scan(&b.CreatedAt)
	if err != nil {
		if db.IsCheckViolation(err) {
			return ErrInvalidRange
		}
		return fmt.Errorf("insert time block: %w", err)
	}
	return nil
}
