package patient

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	Create(ctx context.Context, p *Patient) error
	Update(ctx context.Context, p *Patient) error
	Get(ctx context.Context, id uuid.UUID) (*Patient, error)
	// Search matches q against the national id and both names. An empty q
	// lists everyone. Results are ordered by last then first name.
	Search(ctx context.Context, q string, limit int) ([]Summary, error)
	Delete(ctx context.Context, id uuid.UUID) error
	CountVisits(ctx context.Context, id uuid.UUID) (int, error)
}
