package study

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository persists studies and their audit trail. Get and GetRow return
// an apperr not-found error for a missing id.
type Repository interface {
	Create(ctx context.Context, s *Study) error
	Get(ctx context.Context, id uuid.UUID) (*Study, error)
	GetRow(ctx context.Context, id uuid.UUID) (*Row, error)
	// UpdateLifecycle writes the state, the timestamps, the result and the
	// override flag of s.
	UpdateLifecycle(ctx context.Context, s *Study) error
	SetCenter(ctx context.Context, id uuid.UUID, centerID *uuid.UUID, at time.Time) error
	List(ctx context.Context, f Filter) ([]Row, error)
	ListByVisit(ctx context.Context, visitID uuid.UUID) ([]Study, error)
	// Overdue lists studies sent before cutoff, not received, in sent or
	// paid, oldest first.
	Overdue(ctx context.Context, cutoff time.Time, limit int) ([]Row, error)
	CountByState(ctx context.Context) (map[State]int, error)
	All(ctx context.Context) ([]Study, error)

	AddEvent(ctx context.Context, e *Event) error
	Events(ctx context.Context, studyID uuid.UUID) ([]Event, error)
}

// CenterRepository persists histology centers. Names are unique.
type CenterRepository interface {
	Create(ctx context.Context, c *Center) error
	Get(ctx context.Context, id uuid.UUID) (*Center, error)
	GetByName(ctx context.Context, name string) (*Center, error)
	List(ctx context.Context) ([]Center, error)
	// Delete removes the center; referencing studies keep a NULL center.
	Delete(ctx context.Context, id uuid.UUID) error
}
