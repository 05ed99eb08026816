package visit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, v *Visit) error
	Get(ctx context.Context, id uuid.UUID) (*Visit, error)
	// ListByDay lists the visits whose date falls on day, newest first.
	ListByDay(ctx context.Context, day time.Time) ([]TodayRow, error)
	// Delete removes the visit and, through the foreign key, its studies.
	Delete(ctx context.Context, id uuid.UUID) error
}
