package study

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gynlab/gynlab/internal/platform/apperr"
	"github.com/gynlab/gynlab/internal/platform/db"
)

// =========== Study Repository ===========

type studyRepoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &studyRepoPG{pool: pool}
}

func (r *studyRepoPG) conn(ctx context.Context) db.PGQuerier {
	return db.PGQuerierFrom(ctx, r.pool)
}

func studyTargets(s *Study) []any {
	return []any{&s.ID, &s.VisitID, &s.PatientID, &s.CenterID, &s.Kind, &s.Subtype,
		&s.State, &s.OrderedAt, &s.SentAt, &s.PaidAt, &s.ReceivedAt, &s.DeliveredAt,
		&s.Result, &s.ResultEditedAt, &s.Overridden, &s.CreatedAt, &s.UpdatedAt}
}

func scanStudyPG(row pgx.Row) (*Study, error) {
	var s Study
	if err := row.Scan(studyTargets(&s)...); err != nil {
		return nil, err
	}
	return &s, nil
}

func scanRowPG(row pgx.Row) (*Row, error) {
	var out Row
	dest := append(studyTargets(&out.Study), &out.PatientName, &out.NationalID, &out.CenterName)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *studyRepoPG) Create(ctx context.Context, s *Study) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `INSERT INTO studies (`+studyCols+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
		s.ID, s.VisitID, s.PatientID, s.CenterID, string(s.Kind), s.Subtype,
		string(s.State), s.OrderedAt, s.SentAt, s.PaidAt, s.ReceivedAt, s.DeliveredAt,
		s.Result, s.ResultEditedAt, s.Overridden, s.CreatedAt, s.UpdatedAt)
	if err != nil {
		return db.TranslateError(fmt.Errorf("insert study: %w", err), "study references a missing visit, patient or center")
	}
	return nil
}

func (r *studyRepoPG) Get(ctx context.Context, id uuid.UUID) (*Study, error) {
	s, err := scanStudyPG(r.conn(ctx).QueryRow(ctx, `SELECT `+studyCols+` FROM studies WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("study", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get study %s: %w", id, err)
	}
	return s, nil
}

func (r *studyRepoPG) GetRow(ctx context.Context, id uuid.UUID) (*Row, error) {
	row, err := scanRowPG(r.conn(ctx).QueryRow(ctx, rowSelect+"\nWHERE s.id = $1", id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("study", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get study %s: %w", id, err)
	}
	return row, nil
}

func (r *studyRepoPG) UpdateLifecycle(ctx context.Context, s *Study) error {
	tag, err := r.conn(ctx).Exec(ctx, `UPDATE studies SET
		current_state = $2, ordered_at = $3, sent_at = $4, paid_at = $5, received_at = $6, delivered_at = $7,
		result = $8, result_edited_at = $9, overridden = $10, updated_at = $11
		WHERE id = $1`,
		s.ID, string(s.State), s.OrderedAt, s.SentAt, s.PaidAt, s.ReceivedAt, s.DeliveredAt,
		s.Result, s.ResultEditedAt, s.Overridden, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update study %s: %w", s.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("study", s.ID)
	}
	return nil
}

func (r *studyRepoPG) SetCenter(ctx context.Context, id uuid.UUID, centerID *uuid.UUID, at time.Time) error {
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE studies SET center_id = $2, updated_at = $3 WHERE id = $1`, id, centerID, at)
	if err != nil {
		return db.TranslateError(fmt.Errorf("set center of study %s: %w", id, err), "histology center does not exist")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("study", id)
	}
	return nil
}

func (r *studyRepoPG) queryRows(ctx context.Context, query string, args ...any) ([]Row, error) {
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query studies: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		row, err := scanRowPG(rows)
		if err != nil {
			return nil, fmt.Errorf("scan study: %w", err)
		}
		out = append(out, *row)
	}
	return out, rows.Err()
}

func (r *studyRepoPG) queryStudies(ctx context.Context, query string, args ...any) ([]Study, error) {
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query studies: %w", err)
	}
	defer rows.Close()

	var out []Study
	for rows.Next() {
		s, err := scanStudyPG(rows)
		if err != nil {
			return nil, fmt.Errorf("scan study: %w", err)
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

func (r *studyRepoPG) List(ctx context.Context, f Filter) ([]Row, error) {
	query, args := pgDialect.listQuery(f, f.page())
	return r.queryRows(ctx, query, args...)
}

func (r *studyRepoPG) ListByVisit(ctx context.Context, visitID uuid.UUID) ([]Study, error) {
	return r.queryStudies(ctx,
		`SELECT `+studyCols+` FROM studies WHERE visit_id = $1 ORDER BY kind DESC, subtype ASC`, visitID)
}

func (r *studyRepoPG) Overdue(ctx context.Context, cutoff time.Time, limit int) ([]Row, error) {
	return r.queryRows(ctx, pgDialect.overdueQuery(), cutoff, limit)
}

func (r *studyRepoPG) CountByState(ctx context.Context) (map[State]int, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT current_state, COUNT(*) FROM studies GROUP BY current_state`)
	if err != nil {
		return nil, fmt.Errorf("count studies: %w", err)
	}
	defer rows.Close()

	counts := make(map[State]int)
	for rows.Next() {
		var st string
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[State(st)] = n
	}
	return counts, rows.Err()
}

func (r *studyRepoPG) All(ctx context.Context) ([]Study, error) {
	return r.queryStudies(ctx, `SELECT `+studyCols+` FROM studies ORDER BY ordered_at ASC, id ASC`)
}

func (r *studyRepoPG) AddEvent(ctx context.Context, e *Event) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `INSERT INTO study_events
		(id, study_id, path, from_state, to_state, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID, e.StudyID, string(e.Path), db.NullString(string(e.FromState)), string(e.ToState),
		db.NullString(e.Detail), e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert study event: %w", err)
	}
	return nil
}

func (r *studyRepoPG) Events(ctx context.Context, studyID uuid.UUID) ([]Event, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT id, study_id, path, COALESCE(from_state, ''), to_state, COALESCE(detail, ''), created_at
		FROM study_events WHERE study_id = $1 ORDER BY created_at ASC`, studyID)
	if err != nil {
		return nil, fmt.Errorf("list study events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var path, from, to string
		if err := rows.Scan(&e.ID, &e.StudyID, &path, &from, &to, &e.Detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan study event: %w", err)
		}
		e.Path, e.FromState, e.ToState = EventPath(path), State(from), State(to)
		out = append(out, e)
	}
	return out, rows.Err()
}

// =========== Center Repository ===========

type centerRepoPG struct{ pool *pgxpool.Pool }

func NewCenterRepoPG(pool *pgxpool.Pool) CenterRepository {
	return &centerRepoPG{pool: pool}
}

func (r *centerRepoPG) conn(ctx context.Context) db.PGQuerier {
	return db.PGQuerierFrom(ctx, r.pool)
}

func scanCenterPG(row pgx.Row) (*Center, error) {
	var c Center
	if err := row.Scan(&c.ID, &c.Name, &c.Contact); err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *centerRepoPG) Create(ctx context.Context, c *Center) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx,
		`INSERT INTO histology_centers (id, name, contact) VALUES ($1, $2, $3)`, c.ID, c.Name, c.Contact)
	if err != nil {
		return db.TranslateError(fmt.Errorf("insert center: %w", err), fmt.Sprintf("histology center %q already exists", c.Name))
	}
	return nil
}

func (r *centerRepoPG) Get(ctx context.Context, id uuid.UUID) (*Center, error) {
	c, err := scanCenterPG(r.conn(ctx).QueryRow(ctx,
		`SELECT id, name, contact FROM histology_centers WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("histology center", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get center %s: %w", id, err)
	}
	return c, nil
}

func (r *centerRepoPG) GetByName(ctx context.Context, name string) (*Center, error) {
	c, err := scanCenterPG(r.conn(ctx).QueryRow(ctx,
		`SELECT id, name, contact FROM histology_centers WHERE name = $1`, strings.TrimSpace(name)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("histology center", name)
	}
	if err != nil {
		return nil, fmt.Errorf("get center %q: %w", name, err)
	}
	return c, nil
}

func (r *centerRepoPG) List(ctx context.Context) ([]Center, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT id, name, contact FROM histology_centers ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("list centers: %w", err)
	}
	defer rows.Close()

	var out []Center
	for rows.Next() {
		c, err := scanCenterPG(rows)
		if err != nil {
			return nil, fmt.Errorf("scan center: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (r *centerRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM histology_centers WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete center %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("histology center", id)
	}
	return nil
}
