package study

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gynlab/gynlab/internal/platform/apperr"
	"github.com/gynlab/gynlab/internal/platform/db"
)

type rowScanner interface {
	Scan(dest ...any) error
}

// =========== Study Repository ===========

type studyRepoSQLite struct{ conn *sql.DB }

func NewRepoSQLite(conn *sql.DB) Repository {
	return &studyRepoSQLite{conn: conn}
}

func (r *studyRepoSQLite) q(ctx context.Context) db.Querier {
	return db.QuerierFrom(ctx, r.conn)
}

const studyCols = `id, visit_id, patient_id, center_id, kind, subtype,
	current_state, ordered_at, sent_at, paid_at, received_at, delivered_at,
	result, result_edited_at, overridden, created_at, updated_at`

// sqliteStudy holds the raw column values of a studies row.
type sqliteStudy struct {
	center                                 uuid.NullUUID
	ordered, created, updated              string
	sent, paid, received, delivered, rEdit sql.NullString
	result                                 sql.NullString
}

func (v *sqliteStudy) targets(s *Study) []any {
	return []any{&s.ID, &s.VisitID, &s.PatientID, &v.center, &s.Kind, &s.Subtype,
		&s.State, &v.ordered, &v.sent, &v.paid, &v.received, &v.delivered,
		&v.result, &v.rEdit, &s.Overridden, &v.created, &v.updated}
}

func (v *sqliteStudy) decode(s *Study) error {
	if v.center.Valid {
		id := v.center.UUID
		s.CenterID = &id
	}
	var err error
	if s.OrderedAt, err = db.ParseTime(v.ordered); err != nil {
		return err
	}
	if s.CreatedAt, err = db.ParseTime(v.created); err != nil {
		return err
	}
	if s.UpdatedAt, err = db.ParseTime(v.updated); err != nil {
		return err
	}
	for _, f := range []struct {
		src sql.NullString
		dst **time.Time
	}{
		{v.sent, &s.SentAt},
		{v.paid, &s.PaidAt},
		{v.received, &s.ReceivedAt},
		{v.delivered, &s.DeliveredAt},
		{v.rEdit, &s.ResultEditedAt},
	} {
		if *f.dst, err = db.ParseNullTime(f.src); err != nil {
			return err
		}
	}
	if v.result.Valid {
		res := v.result.String
		s.Result = &res
	}
	return nil
}

func scanStudySQLite(row rowScanner) (*Study, error) {
	var s Study
	var raw sqliteStudy
	if err := row.Scan(raw.targets(&s)...); err != nil {
		return nil, err
	}
	if err := raw.decode(&s); err != nil {
		return nil, err
	}
	return &s, nil
}

func scanRowSQLite(row rowScanner) (*Row, error) {
	var out Row
	var raw sqliteStudy
	dest := append(raw.targets(&out.Study), &out.PatientName, &out.NationalID, &out.CenterName)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	if err := raw.decode(&out.Study); err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *studyRepoSQLite) Create(ctx context.Context, s *Study) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	_, err := r.q(ctx).ExecContext(ctx, `INSERT INTO studies (`+studyCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.VisitID, s.PatientID, s.CenterID, string(s.Kind), s.Subtype,
		string(s.State), db.FormatTime(s.OrderedAt), db.NullTime(s.SentAt), db.NullTime(s.PaidAt),
		db.NullTime(s.ReceivedAt), db.NullTime(s.DeliveredAt),
		s.Result, db.NullTime(s.ResultEditedAt), s.Overridden,
		db.FormatTime(s.CreatedAt), db.FormatTime(s.UpdatedAt))
	if err != nil {
		return db.TranslateError(fmt.Errorf("insert study: %w", err), "study references a missing visit, patient or center")
	}
	return nil
}

func (r *studyRepoSQLite) Get(ctx context.Context, id uuid.UUID) (*Study, error) {
	s, err := scanStudySQLite(r.q(ctx).QueryRowContext(ctx, `SELECT `+studyCols+` FROM studies WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("study", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get study %s: %w", id, err)
	}
	return s, nil
}

func (r *studyRepoSQLite) GetRow(ctx context.Context, id uuid.UUID) (*Row, error) {
	row, err := scanRowSQLite(r.q(ctx).QueryRowContext(ctx, rowSelect+"\nWHERE s.id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("study", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get study %s: %w", id, err)
	}
	return row, nil
}

func (r *studyRepoSQLite) UpdateLifecycle(ctx context.Context, s *Study) error {
	res, err := r.q(ctx).ExecContext(ctx, `UPDATE studies SET
		current_state = ?, ordered_at = ?, sent_at = ?, paid_at = ?, received_at = ?, delivered_at = ?,
		result = ?, result_edited_at = ?, overridden = ?, updated_at = ?
		WHERE id = ?`,
		string(s.State), db.FormatTime(s.OrderedAt), db.NullTime(s.SentAt), db.NullTime(s.PaidAt),
		db.NullTime(s.ReceivedAt), db.NullTime(s.DeliveredAt),
		s.Result, db.NullTime(s.ResultEditedAt), s.Overridden, db.FormatTime(s.UpdatedAt),
		s.ID)
	if err != nil {
		return fmt.Errorf("update study %s: %w", s.ID, err)
	}
	return requireOne(res, s.ID)
}

func (r *studyRepoSQLite) SetCenter(ctx context.Context, id uuid.UUID, centerID *uuid.UUID, at time.Time) error {
	res, err := r.q(ctx).ExecContext(ctx,
		`UPDATE studies SET center_id = ?, updated_at = ? WHERE id = ?`,
		centerID, db.FormatTime(at), id)
	if err != nil {
		return db.TranslateError(fmt.Errorf("set center of study %s: %w", id, err), "histology center does not exist")
	}
	return requireOne(res, id)
}

func requireOne(res sql.Result, id uuid.UUID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return apperr.NotFound("study", id)
	}
	return nil
}

func (r *studyRepoSQLite) queryRows(ctx context.Context, query string, args ...any) ([]Row, error) {
	rows, err := r.q(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query studies: %w", err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		row, err := scanRowSQLite(rows)
		if err != nil {
			return nil, fmt.Errorf("scan study: %w", err)
		}
		out = append(out, *row)
	}
	return out, rows.Err()
}

func (r *studyRepoSQLite) List(ctx context.Context, f Filter) ([]Row, error) {
	query, args := sqliteDialect.listQuery(f, f.page())
	return r.queryRows(ctx, query, args...)
}

func (r *studyRepoSQLite) ListByVisit(ctx context.Context, visitID uuid.UUID) ([]Study, error) {
	rows, err := r.q(ctx).QueryContext(ctx,
		`SELECT `+studyCols+` FROM studies WHERE visit_id = ? ORDER BY kind DESC, subtype ASC`, visitID)
	if err != nil {
		return nil, fmt.Errorf("list studies of visit %s: %w", visitID, err)
	}
	defer rows.Close()

	var out []Study
	for rows.Next() {
		s, err := scanStudySQLite(rows)
		if err != nil {
			return nil, fmt.Errorf("scan study: %w", err)
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

func (r *studyRepoSQLite) Overdue(ctx context.Context, cutoff time.Time, limit int) ([]Row, error) {
	return r.queryRows(ctx, sqliteDialect.overdueQuery(), db.FormatTime(cutoff), limit)
}

func (r *studyRepoSQLite) CountByState(ctx context.Context) (map[State]int, error) {
	rows, err := r.q(ctx).QueryContext(ctx,
		`SELECT current_state, COUNT(*) FROM studies GROUP BY current_state`)
	if err != nil {
		return nil, fmt.Errorf("count studies: %w", err)
	}
	defer rows.Close()

	counts := make(map[State]int)
	for rows.Next() {
		var st State
		var n int
		if err := rows.Scan(&st, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[st] = n
	}
	return counts, rows.Err()
}

func (r *studyRepoSQLite) All(ctx context.Context) ([]Study, error) {
	rows, err := r.q(ctx).QueryContext(ctx, `SELECT `+studyCols+` FROM studies ORDER BY ordered_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("list studies: %w", err)
	}
	defer rows.Close()

	var out []Study
	for rows.Next() {
		s, err := scanStudySQLite(rows)
		if err != nil {
			return nil, fmt.Errorf("scan study: %w", err)
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

func (r *studyRepoSQLite) AddEvent(ctx context.Context, e *Event) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	_, err := r.q(ctx).ExecContext(ctx, `INSERT INTO study_events
		(id, study_id, path, from_state, to_state, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.StudyID, string(e.Path), db.NullString(string(e.FromState)), string(e.ToState),
		db.NullString(e.Detail), db.FormatTime(e.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert study event: %w", err)
	}
	return nil
}

func (r *studyRepoSQLite) Events(ctx context.Context, studyID uuid.UUID) ([]Event, error) {
	rows, err := r.q(ctx).QueryContext(ctx, `SELECT id, study_id, path, from_state, to_state, detail, created_at
		FROM study_events WHERE study_id = ? ORDER BY created_at ASC, rowid ASC`, studyID)
	if err != nil {
		return nil, fmt.Errorf("list study events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var from, detail sql.NullString
		var created string
		if err := rows.Scan(&e.ID, &e.StudyID, &e.Path, &from, &e.ToState, &detail, &created); err != nil {
			return nil, fmt.Errorf("scan study event: %w", err)
		}
		e.FromState = State(from.String)
		e.Detail = detail.String
		if e.CreatedAt, err = db.ParseTime(created); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// =========== Center Repository ===========

type centerRepoSQLite struct{ conn *sql.DB }

func NewCenterRepoSQLite(conn *sql.DB) CenterRepository {
	return &centerRepoSQLite{conn: conn}
}

func (r *centerRepoSQLite) q(ctx context.Context) db.Querier {
	return db.QuerierFrom(ctx, r.conn)
}

func scanCenterSQLite(row rowScanner) (*Center, error) {
	var c Center
	var contact sql.NullString
	if err := row.Scan(&c.ID, &c.Name, &contact); err != nil {
		return nil, err
	}
	if contact.Valid {
		c.Contact = &contact.String
	}
	return &c, nil
}

func (r *centerRepoSQLite) Create(ctx context.Context, c *Center) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	_, err := r.q(ctx).ExecContext(ctx,
		`INSERT INTO histology_centers (id, name, contact) VALUES (?, ?, ?)`,
		c.ID, c.Name, c.Contact)
	if err != nil {
		return db.TranslateError(fmt.Errorf("insert center: %w", err), fmt.Sprintf("histology center %q already exists", c.Name))
	}
	return nil
}

func (r *centerRepoSQLite) Get(ctx context.Context, id uuid.UUID) (*Center, error) {
	c, err := scanCenterSQLite(r.q(ctx).QueryRowContext(ctx,
		`SELECT id, name, contact FROM histology_centers WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("histology center", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get center %s: %w", id, err)
	}
	return c, nil
}

func (r *centerRepoSQLite) GetByName(ctx context.Context, name string) (*Center, error) {
	c, err := scanCenterSQLite(r.q(ctx).QueryRowContext(ctx,
		`SELECT id, name, contact FROM histology_centers WHERE name = ?`, strings.TrimSpace(name)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("histology center", name)
	}
	if err != nil {
		return nil, fmt.Errorf("get center %q: %w", name, err)
	}
	return c, nil
}

func (r *centerRepoSQLite) List(ctx context.Context) ([]Center, error) {
	rows, err := r.q(ctx).QueryContext(ctx, `SELECT id, name, contact FROM histology_centers ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("list centers: %w", err)
	}
	defer rows.Close()

	var out []Center
	for rows.Next() {
		c, err := scanCenterSQLite(rows)
		if err != nil {
			return nil, fmt.Errorf("scan center: %w", err)
		}
		out = append(out, *c)
	}
	return out, rows.Err()
}

func (r *centerRepoSQLite) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.q(ctx).ExecContext(ctx, `DELETE FROM histology_centers WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete center %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return apperr.NotFound("histology center", id)
	}
	return nil
}
