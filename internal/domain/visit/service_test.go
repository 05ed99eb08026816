package visit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/gynlab/gynlab/internal/domain/patient"
	"github.com/gynlab/gynlab/internal/domain/study"
	"github.com/gynlab/gynlab/internal/platform/apperr"
	"github.com/gynlab/gynlab/internal/platform/events"
)

// -- Mocks --

type mockVisitRepo struct {
	visits map[uuid.UUID]Visit
}

func (m *mockVisitRepo) Create(_ context.Context, v *Visit) error {
	m.visits[v.ID] = *v
	return nil
}

func (m *mockVisitRepo) Get(_ context.Context, id uuid.UUID) (*Visit, error) {
	v, ok := m.visits[id]
	if !ok {
		return nil, apperr.NotFound("visit", id)
	}
	return &v, nil
}

func (m *mockVisitRepo) ListByDay(_ context.Context, day time.Time) ([]TodayRow, error) {
	var out []TodayRow
	for _, v := range m.visits {
		if v.VisitDate.Format("2006-01-02") == day.Format("2006-01-02") {
			out = append(out, TodayRow{ID: v.ID, VisitDate: v.VisitDate, PaymentMethod: v.PaymentMethod})
		}
	}
	return out, nil
}

func (m *mockVisitRepo) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := m.visits[id]; !ok {
		return apperr.NotFound("visit", id)
	}
	delete(m.visits, id)
	return nil
}

type mockPatients map[uuid.UUID]bool

func (m mockPatients) Get(_ context.Context, id uuid.UUID) (*patient.Patient, error) {
	if !m[id] {
		return nil, apperr.NotFound("patient", id)
	}
	return &patient.Patient{ID: id}, nil
}

type mockStudies struct {
	calls [][]study.Request
	fail  error
}

func (m *mockStudies) CreateForVisit(_ context.Context, visitID, patientID uuid.UUID, reqs []study.Request) ([]study.Study, error) {
	if m.fail != nil {
		return nil, m.fail
	}
	m.calls = append(m.calls, reqs)
	out := make([]study.Study, len(reqs))
	for i, r := range reqs {
		out[i] = study.Study{ID: uuid.New(), VisitID: visitID, PatientID: patientID, Kind: r.Kind, Subtype: r.Subtype, State: study.StateOrdered}
	}
	return out, nil
}

type passTx struct{}

func (passTx) WithTx(ctx context.Context, fn func(ctx context.Context) error) error { return fn(ctx) }

var testConfig = Config{
	PaymentMethods: []string{"efectivo", "transferencia"},
	Cytologies:     []string{"PAP", "MD", "MI"},
	Biopsies:       []string{"Endometrio", "Vulvar"},
	MaxCytologies:  3,
	MaxBiopsies:    1,
}

type fixture struct {
	svc       *Service
	visits    *mockVisitRepo
	studies   *mockStudies
	patientID uuid.UUID
}

func newFixture() *fixture {
	f := &fixture{
		visits:    &mockVisitRepo{visits: make(map[uuid.UUID]Visit)},
		studies:   &mockStudies{},
		patientID: uuid.New(),
	}
	f.svc = NewService(f.visits, mockPatients{f.patientID: true}, f.studies, passTx{}, testConfig, zerolog.Nop())
	return f
}

func (f *fixture) newVisit() NewVisit {
	return NewVisit{Visit: Visit{PatientID: f.patientID, PaymentMethod: "efectivo"}}
}

// -- Tests --

func TestCreate_WithStudies(t *testing.T) {
	f := newFixture()
	nv := f.newVisit()
	nv.Cytologies = []string{"pap", "MD"}
	nv.Biopsies = []string{"Endometrio"}

	created, err := f.svc.Create(context.Background(), nv)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(created.Studies) != 3 {
		t.Fatalf("expected 3 studies, got %d", len(created.Studies))
	}
	if created.Studies[0].Subtype != "PAP" {
		t.Errorf("subtype not canonicalized: %q", created.Studies[0].Subtype)
	}
	if created.Studies[2].Kind != study.KindBiopsy {
		t.Errorf("last study kind = %s", created.Studies[2].Kind)
	}
	if !created.Changes.Has(events.TopicVisits) || !created.Changes.Has(events.TopicStudies) {
		t.Errorf("changes = %v", created.Changes)
	}
	if created.Visit.VisitDate.IsZero() || created.Visit.ID == uuid.Nil {
		t.Error("visit id and date must be set")
	}
	if _, ok := f.visits.visits[created.Visit.ID]; !ok {
		t.Error("visit not stored")
	}
}

func TestCreate_NoStudies(t *testing.T) {
	f := newFixture()
	created, err := f.svc.Create(context.Background(), f.newVisit())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if len(created.Studies) != 0 || len(f.studies.calls) != 0 {
		t.Error("no studies expected")
	}
}

func TestCreate_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(nv *NewVisit)
	}{
		{"unknown payment method", func(nv *NewVisit) { nv.PaymentMethod = "cheque" }},
		{"empty payment method", func(nv *NewVisit) { nv.PaymentMethod = " " }},
		{"negative gesta", func(nv *NewVisit) { nv.Gesta.Abortions = -1 }},
		{"duplicate cytology", func(nv *NewVisit) { nv.Cytologies = []string{"PAP", "pap"} }},
		{"unknown cytology", func(nv *NewVisit) { nv.Cytologies = []string{"HPV"} }},
		{"blank cytology", func(nv *NewVisit) { nv.Cytologies = []string{""} }},
		{"two biopsies", func(nv *NewVisit) { nv.Biopsies = []string{"Endometrio", "Vulvar"} }},
		{"missing patient id", func(nv *NewVisit) { nv.PatientID = uuid.Nil }},
		{"unknown patient", func(nv *NewVisit) { nv.PatientID = uuid.New() }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			nv := f.newVisit()
			tt.mutate(&nv)
			_, err := f.svc.Create(context.Background(), nv)
			if !apperr.IsValidation(err) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if len(f.visits.visits) != 0 {
				t.Error("nothing must be stored")
			}
		})
	}
}

func TestCreate_MaxCytologies(t *testing.T) {
	f := newFixture()
	f.svc.Reload(Config{PaymentMethods: []string{"efectivo"}, MaxCytologies: 2, MaxBiopsies: 1})
	nv := f.newVisit()
	nv.Cytologies = []string{"PAP", "MD", "MI"}
	if _, err := f.svc.Create(context.Background(), nv); !apperr.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestCreate_StudyFailureSurfaces(t *testing.T) {
	f := newFixture()
	f.studies.fail = errors.New("disk I/O error")
	nv := f.newVisit()
	nv.Cytologies = []string{"PAP"}
	if _, err := f.svc.Create(context.Background(), nv); err == nil {
		t.Fatal("expected error")
	}
}

func TestListTodayAndDelete(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	created, err := f.svc.Create(ctx, f.newVisit())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	old := f.newVisit()
	old.VisitDate = time.Now().AddDate(0, 0, -3)
	if _, err := f.svc.Create(ctx, old); err != nil {
		t.Fatalf("Create: %v", err)
	}

	rows, err := f.svc.ListToday(ctx)
	if err != nil {
		t.Fatalf("ListToday: %v", err)
	}
	if len(rows) != 1 || rows[0].ID != created.Visit.ID {
		t.Errorf("expected only today's visit, got %+v", rows)
	}

	changes, err := f.svc.Delete(ctx, created.Visit.ID)
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if !changes.Has(events.TopicStudies) {
		t.Errorf("changes = %v", changes)
	}
	if _, err := f.svc.Delete(ctx, created.Visit.ID); !apperr.IsNotFound(err) {
		t.Errorf("second delete: %v", err)
	}
}
