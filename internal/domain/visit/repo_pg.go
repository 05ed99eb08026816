package visit

import (
	"context"
	"errors"
	"fmt"
	"time"

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

func (r *repoPG) Create(ctx context.Context, v *Visit) error {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `INSERT INTO visits (`+visitCols+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`,
		v.ID, v.PatientID, v.VisitDate, v.LastMenstrual,
		v.Gesta.Births, v.Gesta.Cesareans, v.Gesta.Abortions, v.Gesta.Ectopic, v.Gesta.Other,
		v.Contraception, v.Reason, v.PhysicalExam, v.Colposcopy, v.VaginalUltrasound, v.BreastUltrasound,
		v.OtherTests, v.Diagnosis, v.Plan, v.PaymentMethod, v.CreatedAt, v.UpdatedAt)
	if err != nil {
		return db.TranslateError(fmt.Errorf("insert visit: %w", err), "visit references a missing patient")
	}
	return nil
}

func (r *repoPG) Get(ctx context.Context, id uuid.UUID) (*Visit, error) {
	var v Visit
	err := r.conn(ctx).QueryRow(ctx, `SELECT `+visitCols+` FROM visits WHERE id = $1`, id).Scan(
		&v.ID, &v.PatientID, &v.VisitDate, &v.LastMenstrual,
		&v.Gesta.Births, &v.Gesta.Cesareans, &v.Gesta.Abortions, &v.Gesta.Ectopic, &v.Gesta.Other,
		&v.Contraception, &v.Reason, &v.PhysicalExam, &v.Colposcopy, &v.VaginalUltrasound, &v.BreastUltrasound,
		&v.OtherTests, &v.Diagnosis, &v.Plan, &v.PaymentMethod, &v.CreatedAt, &v.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("visit", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get visit %s: %w", id, err)
	}
	return &v, nil
}

func (r *repoPG) ListByDay(ctx context.Context, day time.Time) ([]TodayRow, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT v.id, v.visit_date, p.national_id,
			p.last_name || ', ' || p.first_name, v.reason, v.payment_method
		FROM visits v
		JOIN patients p ON p.id = v.patient_id
		WHERE v.visit_date::date = $1::date
		ORDER BY v.visit_date DESC, v.id DESC`, day.In(time.Local).Format(db.DateLayout))
	if err != nil {
		return nil, fmt.Errorf("list visits: %w", err)
	}
	defer rows.Close()

	var out []TodayRow
	for rows.Next() {
		var t TodayRow
		if err := rows.Scan(&t.ID, &t.VisitDate, &t.NationalID, &t.PatientName, &t.Reason, &t.PaymentMethod); err != nil {
			return nil, fmt.Errorf("scan visit: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM visits WHERE id = $1`, id)
	if err != nil {
		return db.TranslateError(fmt.Errorf("delete visit %s: %w", id, err), "the visit is still referenced")
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("visit", id)
	}
	return nil
}
