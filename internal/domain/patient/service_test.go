package patient

import (
	"context"
	"errors"
	"sort"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/gynlab/gynlab/internal/platform/apperr"
	"github.com/gynlab/gynlab/internal/platform/events"
)

// -- Mock Repository --

type mockRepo struct {
	patients map[uuid.UUID]Patient
	visits   map[uuid.UUID]int
}

func newMockRepo() *mockRepo {
	return &mockRepo{patients: make(map[uuid.UUID]Patient), visits: make(map[uuid.UUID]int)}
}

func (m *mockRepo) duplicate(p *Patient) bool {
	for id, existing := range m.patients {
		if id != p.ID && existing.NationalID == p.NationalID {
			return true
		}
	}
	return false
}

func (m *mockRepo) Create(_ context.Context, p *Patient) error {
	if m.duplicate(p) {
		return apperr.Conflict(duplicateMsg, errors.New("UNIQUE constraint failed: patients.national_id"))
	}
	m.patients[p.ID] = *p
	return nil
}

func (m *mockRepo) Update(_ context.Context, p *Patient) error {
	if _, ok := m.patients[p.ID]; !ok {
		return apperr.NotFound("patient", p.ID)
	}
	if m.duplicate(p) {
		return apperr.Conflict(duplicateMsg, errors.New("UNIQUE constraint failed: patients.national_id"))
	}
	m.patients[p.ID] = *p
	return nil
}

func (m *mockRepo) Get(_ context.Context, id uuid.UUID) (*Patient, error) {
	p, ok := m.patients[id]
	if !ok {
		return nil, apperr.NotFound("patient", id)
	}
	return &p, nil
}

func (m *mockRepo) Search(_ context.Context, q string, limit int) ([]Summary, error) {
	var out []Summary
	for _, p := range m.patients {
		if q == "" || strings.Contains(p.NationalID, q) || strings.Contains(p.LastName, q) || strings.Contains(p.FirstName, q) {
			out = append(out, Summary{ID: p.ID, NationalID: p.NationalID, LastName: p.LastName, FirstName: p.FirstName})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastName < out[j].LastName })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *mockRepo) Delete(_ context.Context, id uuid.UUID) error {
	if _, ok := m.patients[id]; !ok {
		return apperr.NotFound("patient", id)
	}
	delete(m.patients, id)
	return nil
}

func (m *mockRepo) CountVisits(_ context.Context, id uuid.UUID) (int, error) {
	return m.visits[id], nil
}

type passTx struct{}

func (passTx) WithTx(ctx context.Context, fn func(ctx context.Context) error) error { return fn(ctx) }

func newTestService() (*Service, *mockRepo) {
	repo := newMockRepo()
	return NewService(repo, passTx{}, zerolog.Nop()), repo
}

func strPtr(s string) *string { return &s }

// -- Tests --

func TestCreate_Validation(t *testing.T) {
	tests := []struct {
		name string
		p    Patient
	}{
		{"short national id", Patient{NationalID: "1234", FirstName: "Ana", LastName: "Pérez"}},
		{"long national id", Patient{NationalID: "1234567890123", FirstName: "Ana", LastName: "Pérez"}},
		{"letters in national id", Patient{NationalID: "V1234567", FirstName: "Ana", LastName: "Pérez"}},
		{"missing first name", Patient{NationalID: "12345678", FirstName: "  ", LastName: "Pérez"}},
		{"missing last name", Patient{NationalID: "12345678", FirstName: "Ana"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, repo := newTestService()
			p := tt.p
			_, err := svc.Create(context.Background(), &p)
			if !apperr.IsValidation(err) {
				t.Fatalf("expected validation error, got %v", err)
			}
			if len(repo.patients) != 0 {
				t.Error("nothing must be stored")
			}
		})
	}
}

func TestCreate_NormalizesAndStores(t *testing.T) {
	svc, repo := newTestService()
	p := &Patient{NationalID: " 12345678 ", FirstName: " Ana ", LastName: "Pérez", Phone: strPtr("  "), Comment: strPtr(" alérgica ")}
	changes, err := svc.Create(context.Background(), p)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !changes.Has(events.TopicPatients) {
		t.Errorf("changes = %v", changes)
	}
	stored := repo.patients[p.ID]
	if stored.NationalID != "12345678" || stored.FirstName != "Ana" {
		t.Errorf("fields not trimmed: %+v", stored)
	}
	if stored.Phone != nil {
		t.Error("blank phone must be stored as NULL")
	}
	if stored.Comment == nil || *stored.Comment != "alérgica" {
		t.Errorf("comment = %v", stored.Comment)
	}
	if stored.CreatedAt.IsZero() || !stored.CreatedAt.Equal(stored.UpdatedAt) {
		t.Error("timestamps not set")
	}
}

func TestCreate_DuplicateIsConflict(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()
	if _, err := svc.Create(ctx, &Patient{NationalID: "12345678", FirstName: "Ana", LastName: "Pérez"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	_, err := svc.Create(ctx, &Patient{NationalID: "12345678", FirstName: "Eva", LastName: "Gómez"})
	if apperr.Classify(err) != apperr.KindConflict {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestUpdate(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()
	p := &Patient{NationalID: "12345678", FirstName: "Ana", LastName: "Pérez"}
	if _, err := svc.Create(ctx, p); err != nil {
		t.Fatalf("Create: %v", err)
	}

	p.LastName = "Pérez de León"
	if _, err := svc.Update(ctx, p); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if repo.patients[p.ID].LastName != "Pérez de León" {
		t.Error("update not stored")
	}

	if _, err := svc.Update(ctx, &Patient{NationalID: "12345678", FirstName: "A", LastName: "B"}); !apperr.IsValidation(err) {
		t.Errorf("missing id: %v", err)
	}
	if _, err := svc.Update(ctx, &Patient{ID: uuid.New(), NationalID: "12345678", FirstName: "A", LastName: "B"}); !apperr.IsNotFound(err) {
		t.Errorf("unknown id: %v", err)
	}
}

func TestDelete_BlockedByVisits(t *testing.T) {
	svc, repo := newTestService()
	ctx := context.Background()
	p := &Patient{NationalID: "12345678", FirstName: "Ana", LastName: "Pérez"}
	if _, err := svc.Create(ctx, p); err != nil {
		t.Fatalf("Create: %v", err)
	}
	repo.visits[p.ID] = 2

	if _, err := svc.Delete(ctx, p.ID); !apperr.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, ok := repo.patients[p.ID]; !ok {
		t.Fatal("patient must survive")
	}

	repo.visits[p.ID] = 0
	changes, err := svc.Delete(ctx, p.ID)
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if !changes.Has(events.TopicPatients) {
		t.Errorf("changes = %v", changes)
	}
}

func TestSearch_UsesLimit(t *testing.T) {
	svc, repo := newTestService()
	for i := 0; i < SearchLimit+5; i++ {
		id := uuid.New()
		repo.patients[id] = Patient{ID: id, NationalID: "1000" + uuid.NewString()[:4], FirstName: "N", LastName: "L"}
	}
	got, err := svc.Search(context.Background(), "")
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(got) != SearchLimit {
		t.Errorf("got %d rows, want %d", len(got), SearchLimit)
	}
}
