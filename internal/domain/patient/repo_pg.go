package patient

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gynlab/gynlab/internal/platform/apperr"
	"github.com/gynlab/gynlab/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) db.PGQuerier {
	return db.PGQuerierFrom(ctx, r.pool)
}

func (r *repoPG) Create(ctx context.Context, p *Patient) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `INSERT INTO patients (`+patientCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		p.ID, p.NationalID, p.FirstName, p.LastName, p.Phone, p.BirthDate, p.Address,
		p.PersonalHistory, p.FamilyHistory, p.Comment, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return db.TranslateError(fmt.Errorf("insert patient: %w", err), duplicateMsg)
	}
	return nil
}

func (r *repoPG) Update(ctx context.Context, p *Patient) error {
	tag, err := r.conn(ctx).Exec(ctx, `UPDATE patients SET
		national_id = $1, first_name = $2, last_name = $3, phone = $4, birth_date = $5, address = $6,
		personal_history = $7, family_history = $8, comment = $9, updated_at = $10
		WHERE id = $11`,
		p.NationalID, p.FirstName, p.LastName, p.Phone, p.BirthDate, p.Address,
		p.PersonalHistory, p.FamilyHistory, p.Comment, p.UpdatedAt, p.ID)
	if err != nil {
		return db.TranslateError(fmt.Errorf("update patient %s: %w", p.ID, err), duplicateMsg)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("patient", p.ID)
	}
	return nil
}

func (r *repoPG) Get(ctx context.Context, id uuid.UUID) (*Patient, error) {
	var p Patient
	err := r.conn(ctx).QueryRow(ctx, `SELECT `+patientCols+` FROM patients WHERE id = $1`, id).Scan(
		&p.ID, &p.NationalID, &p.FirstName, &p.LastName, &p.Phone, &p.BirthDate, &p.Address,
		&p.PersonalHistory, &p.FamilyHistory, &p.Comment, &p.CreatedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("patient", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get patient %s: %w", id, err)
	}
	return &p, nil
}

func (r *repoPG) Search(ctx context.Context, q string, limit int) ([]Summary, error) {
	query := `SELECT id, national_id, last_name, first_name, phone FROM patients`
	var args []any
	if q = strings.TrimSpace(q); q != "" {
		query += ` WHERE national_id ILIKE $1 OR last_name ILIKE $1 OR first_name ILIKE $1`
		args = append(args, "%"+q+"%")
	}
	args = append(args, limit)
	query += fmt.Sprintf(` ORDER BY last_name ASC, first_name ASC LIMIT $%d`, len(args))

	rows, err := r.conn(ctx).Query(ctx, query, args...)
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

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM patients WHERE id = $1`, id)
	if err != nil {
		return db.TranslateError(fmt.Errorf("delete patient %s: %w", id, err), "the patient still has visits or studies")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("patient", id)
	}
	return nil
}

func (r *repoPG) CountVisits(ctx context.Context, id uuid.UUID) (int, error) {
	var n int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM visits WHERE patient_id = $1`, id).Scan(&n); err != nil {
		return 0, fmt.Errorf("count visits of patient %s: %w", id, err)
	}
	return n, nil
}
