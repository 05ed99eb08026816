package patient

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/gynlab/gynlab/internal/platform/apperr"
	"github.com/gynlab/gynlab/internal/platform/db"
	"github.com/gynlab/gynlab/internal/platform/events"
)

// Service provides business logic for patients.
type Service struct {
	patients Repository
	tx       db.Transactor
	now      func() time.Time
	logger   zerolog.Logger
}

// NewService creates a new patient service.
func NewService(patients Repository, tx db.Transactor, logger zerolog.Logger) *Service {
	return &Service{patients: patients, tx: tx, now: time.Now, logger: logger}
}

// SetClock overrides time.Now.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

func patientsChanged() events.ChangeSet {
	return events.NewChangeSet(events.TopicPatients)
}

func (s *Service) Create(ctx context.Context, p *Patient) (events.ChangeSet, error) {
	p.normalize()
	if err := p.validate(); err != nil {
		return events.ChangeSet{}, err
	}
	now := s.now().Truncate(time.Second)
	p.ID = uuid.New()
	p.CreatedAt, p.UpdatedAt = now, now
	if err := s.patients.Create(ctx, p); err != nil {
		return events.ChangeSet{}, err
	}
	s.logger.Info().Str("patient_id", p.ID.String()).Msg("patient created")
	return patientsChanged(), nil
}

// Update replaces every editable field of an existing patient.
func (s *Service) Update(ctx context.Context, p *Patient) (events.ChangeSet, error) {
	if p.ID == uuid.Nil {
		return events.ChangeSet{}, apperr.InvalidField("id", "required to update a patient")
	}
	p.normalize()
	if err := p.validate(); err != nil {
		return events.ChangeSet{}, err
	}
	p.UpdatedAt = s.now().Truncate(time.Second)
	if err := s.patients.Update(ctx, p); err != nil {
		return events.ChangeSet{}, err
	}
	s.logger.Info().Str("patient_id", p.ID.String()).Msg("patient updated")
	return patientsChanged(), nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return s.patients.Get(ctx, id)
}

func (s *Service) Search(ctx context.Context, q string) ([]Summary, error) {
	return s.patients.Search(ctx, q, SearchLimit)
}

// Delete removes a patient that has no visits.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) (events.ChangeSet, error) {
	err := s.tx.WithTx(ctx, func(ctx context.Context) error {
		n, err := s.patients.CountVisits(ctx, id)
		if err != nil {
			return err
		}
		if n > 0 {
			return apperr.Validation("the patient has %d registered visit(s) and cannot be deleted", n)
		}
		return s.patients.Delete(ctx, id)
	})
	if err != nil {
		return events.ChangeSet{}, err
	}
	s.logger.Info().Str("patient_id", id.String()).Msg("patient deleted")
	return patientsChanged(), nil
}
