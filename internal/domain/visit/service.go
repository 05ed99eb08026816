package visit

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/gynlab/gynlab/internal/domain/patient"
	"github.com/gynlab/gynlab/internal/domain/study"
	"github.com/gynlab/gynlab/internal/platform/apperr"
	"github.com/gynlab/gynlab/internal/platform/db"
	"github.com/gynlab/gynlab/internal/platform/events"
)

// Config holds the clinic catalogs a visit is validated against.
type Config struct {
	PaymentMethods []string
	Cytologies     []string
	Biopsies       []string
	MaxCytologies  int
	MaxBiopsies    int
}

// PatientLookup resolves the patient a visit belongs to.
type PatientLookup interface {
	Get(ctx context.Context, id uuid.UUID) (*patient.Patient, error)
}

// StudyCreator inserts the studies ordered during a visit.
type StudyCreator interface {
	CreateForVisit(ctx context.Context, visitID, patientID uuid.UUID, reqs []study.Request) ([]study.Study, error)
}

// Service provides business logic for visits.
type Service struct {
	visits   Repository
	patients PatientLookup
	studies  StudyCreator
	tx       db.Transactor
	now      func() time.Time
	logger   zerolog.Logger

	cfg Config
}

// NewService creates a new visit service.
func NewService(visits Repository, patients PatientLookup, studies StudyCreator, tx db.Transactor, cfg Config, logger zerolog.Logger) *Service {
	return &Service{
		visits:   visits,
		patients: patients,
		studies:  studies,
		tx:       tx,
		now:      time.Now,
		logger:   logger,
		cfg:      cfg,
	}
}

// SetClock overrides time.Now. Call it before the service is shared.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// Reload replaces the catalogs used by later calls.
func (s *Service) Reload(cfg Config) {
	s.cfg = cfg
}

func (s *Service) config() Config {
	return s.cfg
}

// canonical returns the catalog spelling of name, matched without regard to
// case. An empty catalog accepts any name.
func canonical(catalog []string, name string) (string, bool) {
	if len(catalog) == 0 {
		return name, true
	}
	for _, c := range catalog {
		if strings.EqualFold(strings.TrimSpace(c), name) {
			return strings.TrimSpace(c), true
		}
	}
	return "", false
}

// selection validates the requested subtypes of one kind: non-empty,
// distinct, known and at most limit of them.
func selection(kind study.Kind, field string, catalog, names []string, limit int) ([]study.Request, error) {
	seen := make(map[string]bool)
	var reqs []study.Request
	for _, raw := range names {
		name := strings.TrimSpace(raw)
		if name == "" {
			return nil, apperr.InvalidField(field, "empty study name")
		}
		c, ok := canonical(catalog, name)
		if !ok {
			return nil, apperr.InvalidField(field, "unknown %s %q", kind, name)
		}
		if seen[strings.ToLower(c)] {
			return nil, apperr.InvalidField(field, "%q selected twice", c)
		}
		seen[strings.ToLower(c)] = true
		reqs = append(reqs, study.Request{Kind: kind, Subtype: c})
	}
	if len(reqs) > limit {
		return nil, apperr.InvalidField(field, "at most %d per visit", limit)
	}
	return reqs, nil
}

func (s *Service) validate(nv *NewVisit, cfg Config) ([]study.Request, error) {
	if nv.PatientID == uuid.Nil {
		return nil, apperr.InvalidField("patient_id", "required")
	}
	method, ok := canonical(cfg.PaymentMethods, nv.PaymentMethod)
	if nv.PaymentMethod == "" || !ok {
		return nil, apperr.InvalidField("payment_method", "invalid payment method %q", nv.PaymentMethod)
	}
	nv.PaymentMethod = method
	for _, n := range nv.Gesta.counts() {
		if n < 0 {
			return nil, apperr.InvalidField("gesta", "counts must not be negative")
		}
	}

	cyto, err := selection(study.KindCytology, "cytologies", cfg.Cytologies, nv.Cytologies, cfg.MaxCytologies)
	if err != nil {
		return nil, err
	}
	bio, err := selection(study.KindBiopsy, "biopsies", cfg.Biopsies, nv.Biopsies, cfg.MaxBiopsies)
	if err != nil {
		return nil, err
	}
	return append(cyto, bio...), nil
}

// Create inserts the visit and its ordered studies in one transaction.
func (s *Service) Create(ctx context.Context, nv NewVisit) (*Created, error) {
	nv.normalize()
	reqs, err := s.validate(&nv, s.config())
	if err != nil {
		return nil, err
	}

	v := nv.Visit
	var studies []study.Study
	err = s.tx.WithTx(ctx, func(ctx context.Context) error {
		if _, err := s.patients.Get(ctx, v.PatientID); err != nil {
			return err
		}
		now := s.now().Truncate(time.Second)
		v.ID = uuid.New()
		if v.VisitDate.IsZero() {
			v.VisitDate = now
		}
		v.CreatedAt, v.UpdatedAt = now, now
		if err := s.visits.Create(ctx, &v); err != nil {
			return err
		}
		if len(reqs) == 0 {
			return nil
		}
		var err error
		studies, err = s.studies.CreateForVisit(ctx, v.ID, v.PatientID, reqs)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("visit_id", v.ID.String()).
		Str("patient_id", v.PatientID.String()).
		Int("studies", len(studies)).
		Msg("visit created")
	return &Created{
		Visit:   &v,
		Studies: studies,
		Changes: events.NewChangeSet(events.TopicVisits, events.TopicStudies),
	}, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Visit, error) {
	return s.visits.Get(ctx, id)
}

// ListToday lists the visits of the current local day.
func (s *Service) ListToday(ctx context.Context) ([]TodayRow, error) {
	return s.visits.ListByDay(ctx, s.now())
}

// Delete removes a visit together with its studies.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) (events.ChangeSet, error) {
	if err := s.visits.Delete(ctx, id); err != nil {
		return events.ChangeSet{}, err
	}
	s.logger.Info().Str("visit_id", id.String()).Msg("visit deleted")
	return events.NewChangeSet(events.TopicVisits, events.TopicStudies), nil
}
