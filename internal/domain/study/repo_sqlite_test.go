package study

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gynlab/gynlab/internal/platform/apperr"
	"github.com/gynlab/gynlab/internal/platform/db"
)

type sqliteStore struct {
	conn    *sql.DB
	repo    Repository
	centers CenterRepository
	patient uuid.UUID
	visit   uuid.UUID
}

func openStore(t *testing.T) *sqliteStore {
	t.Helper()
	ctx := context.Background()
	conn, err := db.OpenSQLite(ctx, db.SQLiteOptions{Path: filepath.Join(t.TempDir(), "clinic.db")})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	_, err = db.NewSQLiteMigrator(conn).Up(ctx)
	require.NoError(t, err)

	s := &sqliteStore{
		conn:    conn,
		repo:    NewRepoSQLite(conn),
		centers: NewCenterRepoSQLite(conn),
		patient: uuid.New(),
		visit:   uuid.New(),
	}
	now := db.FormatTime(time.Now())
	_, err = conn.Exec(`INSERT INTO patients (id, national_id, first_name, last_name, created_at, updated_at)
		VALUES (?, '12345678', 'Ana', 'Pérez', ?, ?)`, s.patient, now, now)
	require.NoError(t, err)
	_, err = conn.Exec(`INSERT INTO visits (id, patient_id, visit_date, payment_method, created_at, updated_at)
		VALUES (?, ?, ?, 'cash', ?, ?)`, s.visit, s.patient, now, now, now)
	require.NoError(t, err)
	return s
}

func (s *sqliteStore) insert(t *testing.T, subtype string, ordered time.Time, mutate func(*Study)) *Study {
	t.Helper()
	st := &Study{
		VisitID:   s.visit,
		PatientID: s.patient,
		Kind:      KindCytology,
		Subtype:   subtype,
		State:     StateOrdered,
		OrderedAt: ordered,
		CreatedAt: ordered,
		UpdatedAt: ordered,
	}
	if mutate != nil {
		mutate(st)
	}
	require.NoError(t, s.repo.Create(context.Background(), st))
	return st
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 9, 30, 0, 0, time.Local)
}

func ptr(t time.Time) *time.Time { return &t }

func TestStudyRepoSQLite_RoundTrip(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	center := &Center{Name: "Lab Central"}
	require.NoError(t, s.centers.Create(ctx, center))

	st := s.insert(t, "PAP", day(2024, 3, 1), func(st *Study) {
		st.CenterID = &center.ID
		st.State = StateReceived
		st.SentAt = ptr(day(2024, 3, 2))
		st.PaidAt = ptr(day(2024, 3, 3))
		st.ReceivedAt = ptr(day(2024, 3, 9))
		res := "Negative for malignancy"
		st.Result = &res
		st.ResultEditedAt = ptr(day(2024, 3, 9))
	})

	got, err := s.repo.Get(ctx, st.ID)
	require.NoError(t, err)
	assert.Equal(t, StateReceived, got.State)
	assert.True(t, got.OrderedAt.Equal(st.OrderedAt))
	require.NotNil(t, got.ReceivedAt)
	assert.True(t, got.ReceivedAt.Equal(*st.ReceivedAt))
	assert.Nil(t, got.DeliveredAt)
	require.NotNil(t, got.CenterID)
	assert.Equal(t, center.ID, *got.CenterID)
	require.NotNil(t, got.Result)
	assert.Equal(t, "Negative for malignancy", *got.Result)
	assert.False(t, got.Overridden)

	row, err := s.repo.GetRow(ctx, st.ID)
	require.NoError(t, err)
	assert.Equal(t, "Pérez, Ana", row.PatientName)
	assert.Equal(t, "12345678", row.NationalID)
	assert.Equal(t, "Lab Central", row.CenterName)

	got.State = StateDelivered
	got.DeliveredAt = ptr(day(2024, 3, 10))
	got.Overridden = true
	require.NoError(t, s.repo.UpdateLifecycle(ctx, got))

	again, err := s.repo.Get(ctx, st.ID)
	require.NoError(t, err)
	assert.Equal(t, StateDelivered, again.State)
	assert.True(t, again.Overridden)
	require.NotNil(t, again.DeliveredAt)
}

func TestStudyRepoSQLite_NotFound(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	_, err := s.repo.Get(ctx, uuid.New())
	assert.True(t, apperr.IsNotFound(err))

	err = s.repo.UpdateLifecycle(ctx, &Study{ID: uuid.New(), State: StateOrdered, OrderedAt: time.Now()})
	assert.True(t, apperr.IsNotFound(err))

	err = s.repo.SetCenter(ctx, uuid.New(), nil, time.Now())
	assert.True(t, apperr.IsNotFound(err))
}

func TestStudyRepoSQLite_ListFilters(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	s.insert(t, "PAP", day(2024, 1, 10), nil)
	sent := s.insert(t, "Cervix", day(2024, 2, 15), func(st *Study) {
		st.Kind = KindBiopsy
		st.State = StateSent
		st.SentAt = ptr(day(2024, 2, 16))
	})
	s.insert(t, "PAP", day(2024, 3, 20), func(st *Study) {
		st.State = StateDelivered
		st.SentAt = ptr(day(2024, 3, 21))
		st.PaidAt = ptr(day(2024, 3, 21))
		st.ReceivedAt = ptr(day(2024, 3, 25))
		st.DeliveredAt = ptr(day(2024, 3, 26))
	})

	rows, err := s.repo.List(ctx, Filter{Limit: 10})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "PAP", rows[0].Subtype, "newest first")
	assert.Equal(t, StateDelivered, rows[0].State)

	rows, err = s.repo.List(ctx, Filter{State: StateSent, Limit: 10})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, sent.ID, rows[0].ID)

	// A range that leaves out the only sent study yields nothing.
	rows, err = s.repo.List(ctx, Filter{State: StateSent, From: ptr(day(2024, 3, 1)), To: ptr(day(2024, 3, 31)), Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, rows)

	rows, err = s.repo.List(ctx, Filter{From: ptr(day(2024, 2, 15)), To: ptr(day(2024, 2, 15)), Limit: 10})
	require.NoError(t, err)
	require.Len(t, rows, 1, "both bounds are inclusive")

	rows, err = s.repo.List(ctx, Filter{Kind: KindBiopsy, Limit: 10})
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	rows, err = s.repo.List(ctx, Filter{Query: "pérez ana", Limit: 10})
	require.NoError(t, err)
	assert.Len(t, rows, 3)

	rows, err = s.repo.List(ctx, Filter{Query: "1234", OpenOnly: true, Limit: 10})
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	rows, err = s.repo.List(ctx, Filter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, rows, 2)

	all, err := s.repo.List(ctx, Filter{Limit: 10})
	require.NoError(t, err)
	rows, err = s.repo.List(ctx, Filter{Limit: 2, Offset: 2})
	require.NoError(t, err)
	require.Len(t, rows, 1, "the second page holds the remaining study")
	assert.Equal(t, all[2].ID, rows[0].ID)
}

func TestStudyRepoSQLite_StatePriorityOrder(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	s.insert(t, "a-received", day(2024, 5, 3), func(st *Study) {
		st.State = StateReceived
		st.SentAt, st.PaidAt, st.ReceivedAt = ptr(day(2024, 5, 3)), ptr(day(2024, 5, 3)), ptr(day(2024, 5, 4))
	})
	s.insert(t, "b-ordered-old", day(2024, 5, 1), nil)
	s.insert(t, "c-ordered-new", day(2024, 5, 2), nil)
	s.insert(t, "d-sent", day(2024, 4, 1), func(st *Study) {
		st.State = StateSent
		st.SentAt = ptr(day(2024, 4, 2))
	})

	rows, err := s.repo.List(ctx, Filter{Order: OrderStatePriority, Limit: 10})
	require.NoError(t, err)
	var got []string
	for _, r := range rows {
		got = append(got, r.Subtype)
	}
	assert.Equal(t, []string{"c-ordered-new", "b-ordered-old", "d-sent", "a-received"}, got)
}

func TestStudyRepoSQLite_OverdueAndCounts(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	cutoff := day(2024, 6, 1)

	old := s.insert(t, "old", day(2024, 4, 1), func(st *Study) {
		st.State = StatePaid
		st.SentAt, st.PaidAt = ptr(day(2024, 4, 2)), ptr(day(2024, 4, 3))
	})
	older := s.insert(t, "older", day(2024, 3, 1), func(st *Study) {
		st.State = StateSent
		st.SentAt = ptr(day(2024, 3, 2))
	})
	s.insert(t, "recent", day(2024, 5, 30), func(st *Study) {
		st.State = StateSent
		st.SentAt = ptr(day(2024, 6, 2))
	})
	s.insert(t, "back", day(2024, 3, 1), func(st *Study) {
		st.State = StateReceived
		st.SentAt, st.PaidAt, st.ReceivedAt = ptr(day(2024, 3, 2)), ptr(day(2024, 3, 2)), ptr(day(2024, 3, 20))
	})

	rows, err := s.repo.Overdue(ctx, cutoff, 10)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, older.ID, rows[0].ID, "oldest first")
	assert.Equal(t, old.ID, rows[1].ID)

	rows, err = s.repo.Overdue(ctx, cutoff, 1)
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	counts, err := s.repo.CountByState(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[State]int{StateSent: 2, StatePaid: 1, StateReceived: 1}, counts)
}

func TestStudyRepoSQLite_Events(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	st := s.insert(t, "PAP", day(2024, 1, 1), nil)

	at := day(2024, 1, 2)
	require.NoError(t, s.repo.AddEvent(ctx, &Event{StudyID: st.ID, Path: PathTransition, ToState: StateOrdered, Detail: "created with visit", CreatedAt: at}))
	require.NoError(t, s.repo.AddEvent(ctx, &Event{StudyID: st.ID, Path: PathOverride, FromState: StateOrdered, ToState: StateReceived, CreatedAt: at}))

	evs, err := s.repo.Events(ctx, st.ID)
	require.NoError(t, err)
	require.Len(t, evs, 2)
	assert.Equal(t, PathTransition, evs[0].Path, "same timestamp keeps insertion order")
	assert.Equal(t, State(""), evs[0].FromState)
	assert.Equal(t, PathOverride, evs[1].Path)
	assert.Equal(t, StateOrdered, evs[1].FromState)
	assert.Empty(t, evs[1].Detail)
}

func TestCenterRepoSQLite(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	c := &Center{Name: "Lab Norte"}
	require.NoError(t, s.centers.Create(ctx, c))

	err := s.centers.Create(ctx, &Center{Name: "Lab Norte"})
	assert.True(t, apperr.IsConflict(err), "duplicate name must be a conflict, got %v", err)

	byName, err := s.centers.GetByName(ctx, " Lab Norte ")
	require.NoError(t, err)
	assert.Equal(t, c.ID, byName.ID)

	_, err = s.centers.GetByName(ctx, "Lab Sur")
	assert.True(t, apperr.IsNotFound(err))

	st := s.insert(t, "PAP", day(2024, 1, 1), nil)
	require.NoError(t, s.repo.SetCenter(ctx, st.ID, &c.ID, day(2024, 1, 2)))

	require.NoError(t, s.centers.Delete(ctx, c.ID))
	got, err := s.repo.Get(ctx, st.ID)
	require.NoError(t, err)
	assert.Nil(t, got.CenterID, "deleting a center clears the reference")

	assert.True(t, apperr.IsNotFound(s.centers.Delete(ctx, c.ID)))

	list, err := s.centers.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestService_WithSQLite(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	svc := NewService(s.repo, s.centers, db.SQLTransactor{DB: s.conn}, Config{OverdueDays: 30, DefaultLimit: 50, MaxLimit: 100})

	created, err := svc.CreateForVisit(ctx, s.visit, s.patient, []Request{{Kind: KindCytology, Subtype: "PAP"}})
	require.NoError(t, err)
	id := created[0].ID

	_, err = svc.AssignCenter(ctx, []uuid.UUID{id}, "Lab Central")
	require.NoError(t, err)
	for _, st := range []State{StateSent, StatePaid, StateReceived} {
		_, err := svc.Advance(ctx, id, st)
		require.NoError(t, err, "advance to %s", st)
	}
	_, err = svc.SetResult(ctx, id, "Negative")
	require.NoError(t, err)

	out, err := svc.Toggle(ctx, id, StateSent)
	require.NoError(t, err)
	assert.Equal(t, StateOrdered, out.State)
	assert.Len(t, out.Affected, 4)

	got, err := s.repo.Get(ctx, id)
	require.NoError(t, err)
	assert.Nil(t, got.SentAt)
	assert.Nil(t, got.Result)
	assert.NotNil(t, got.CenterID)

	history, err := svc.History(ctx, id)
	require.NoError(t, err)
	require.Len(t, history, 7)
	assert.Equal(t, PathRetraction, history[6].Path)

	violations, err := svc.CheckConsistency(ctx)
	require.NoError(t, err)
	assert.Empty(t, violations)
}
