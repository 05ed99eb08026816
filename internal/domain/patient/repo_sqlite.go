package patient

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/gynlab/gynlab/internal/platform/apperr"
	"github.com/gynlab/gynlab/internal/platform/db"
)

type repoSQLite struct{ conn *sql.DB }

func NewRepoSQLite(conn *sql.DB) Repository {
	return &repoSQLite{conn: conn}
}

func (r *repoSQLite) q(ctx context.Context) db.Querier {
	return db.QuerierFrom(ctx, r.conn)
}

const patientCols = `id, national_id, first_name, last_name, phone, birth_date, address,
	personal_history, family_history, comment, created_at, updated_at`

const duplicateMsg = "a patient with this national id already exists"

func birthDate(p *Patient) any {
	if p.BirthDate == nil {
		return nil
	}
	return p.BirthDate.Format(db.DateLayout)
}

func (r *repoSQLite) Create(ctx context.Context, p *Patient) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	_, err := r.q(ctx).ExecContext(ctx, `INSERT INTO patients (`+patientCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.NationalID, p.FirstName, p.LastName, p.Phone, birthDate(p), p.Address,
		p.PersonalHistory, p.FamilyHistory, p.Comment,
		db.FormatTime(p.CreatedAt), db.FormatTime(p.UpdatedAt))
	if err != nil {
		return db.TranslateError(fmt.Errorf("insert patient: %w", err), duplicateMsg)
	}
	return nil
}

func (r *repoSQLite) Update(ctx context.Context, p *Patient) error {
	res, err := r.q(ctx).ExecContext(ctx, `UPDATE patients SET
		national_id = ?, first_name = ?, last_name = ?, phone = ?, birth_date = ?, address = ?,
		personal_history = ?, family_history = ?, comment = ?, updated_at = ?
		WHERE id = ?`,
		p.NationalID, p.FirstName, p.LastName, p.Phone, birthDate(p), p.Address,
		p.PersonalHistory, p.FamilyHistory, p.Comment, db.FormatTime(p.UpdatedAt), p.ID)
	if err != nil {
		return db.TranslateError(fmt.Errorf("update patient %s: %w", p.ID, err), duplicateMsg)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return apperr.NotFound("patient", p.ID)
	}
	return nil
}

func (r *repoSQLite) Get(ctx context.Context, id uuid.UUID) (*Patient, error) {
	var p Patient
	var birth sql.NullString
	var created, updated string
	err := r.q(ctx).QueryRowContext(ctx, `SELECT `+patientCols+` FROM patients WHERE id = ?`, id).Scan(
		&p.ID, &p.NationalID, &p.FirstName, &p.LastName, &p.Phone, &birth, &p.Address,
		&p.PersonalHistory, &p.FamilyHistory, &p.Comment, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("patient", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get patient %s: %w", id, err)
	}
	if p.BirthDate, err = db.ParseNullTime(birth); err != nil {
		return nil, err
	}
	if p.CreatedAt, err = db.ParseTime(created); err != nil {
		return nil, err
	}
	if p.UpdatedAt, err = db.ParseTime(updated); err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *repoSQLite) Search(ctx context.Context, q string, limit int) ([]Summary, error) {
	query := `SELECT id, national_id, last_name, first_name, phone FROM patients`
	var args []any
	if q = strings.TrimSpace(q); q != "" {
		like := "%" + q + "%"
		query += ` WHERE national_id LIKE ? OR last_name LIKE ? OR first_name LIKE ?`
		args = append(args, like, like, like)
	}
	query += ` ORDER BY last_name ASC, first_name ASC LIMIT ?`
	args = append(args, limit)

	rows, err := r.q(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("search patients: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var s Summary
		if err := rows.Scan(&s.ID, &s.NationalID, &s.LastName, &s.FirstName, &s.Phone); err != nil {
			return nil, fmt.Errorf("scan patient: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *repoSQLite) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.q(ctx).ExecContext(ctx, `DELETE FROM patients WHERE id = ?`, id)
	if err != nil {
		return db.TranslateError(fmt.Errorf("delete patient %s: %w", id, err), "the patient still has visits or studies")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return apperr.NotFound("patient", id)
	}
	return nil
}

func (r *repoSQLite) CountVisits(ctx context.Context, id uuid.UUID) (int, error) {
	var n int
	if err := r.q(ctx).QueryRowContext(ctx, `SELECT COUNT(*) FROM visits WHERE patient_id = ?`, id).Scan(&n); err != nil {
		return 0, fmt.Errorf("count visits of patient %s: %w", id, err)
	}
	return n, nil
}
