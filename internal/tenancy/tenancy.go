package tenancy

import (
	"context"

	"github.com/google/uuid"
)

type ctxKey string

const businessKey ctxKey = "booking.business_id"

// WithBusinessID stores the tenant id in context.
func WithBusinessID(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, businessKey, id)
}

// BusinessIDFromContext extracts the tenant id if present.
func BusinessIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(businessKey).(uuid.UUID)
	return id, ok && id != uuid.Nil
}
