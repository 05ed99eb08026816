package visit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

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

const visitCols = `id, patient_id, visit_date, last_menstrual,
	gesta_births, gesta_cesareans, gesta_abortions, gesta_ectopic, gesta_other,
	contraception, reason, physical_exam, colposcopy, vaginal_ultrasound, breast_ultrasound,
	other_tests, diagnosis, plan, payment_method, created_at, updated_at`

func lastMenstrual(v *Visit) any {
	if v.LastMenstrual == nil {
		return nil
	}
	return v.LastMenstrual.Format(db.DateLayout)
}

func (r *repoSQLite) Create(ctx context.Context, v *Visit) error {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	_, err := r.q(ctx).ExecContext(ctx, `INSERT INTO visits (`+visitCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.PatientID, db.FormatTime(v.VisitDate), lastMenstrual(v),
		v.Gesta.Births, v.Gesta.Cesareans, v.Gesta.Abortions, v.Gesta.Ectopic, v.Gesta.Other,
		v.Contraception, v.Reason, v.PhysicalExam, v.Colposcopy, v.VaginalUltrasound, v.BreastUltrasound,
		v.OtherTests, v.Diagnosis, v.Plan, v.PaymentMethod,
		db.FormatTime(v.CreatedAt), db.FormatTime(v.UpdatedAt))
	if err != nil {
		return db.TranslateError(fmt.Errorf("insert visit: %w", err), "visit references a missing patient")
	}
	return nil
}

func (r *repoSQLite) Get(ctx context.Context, id uuid.UUID) (*Visit, error) {
	var v Visit
	var visitDate, created, updated string
	var lmp sql.NullString
	err := r.q(ctx).QueryRowContext(ctx, `SELECT `+visitCols+` FROM visits WHERE id = ?`, id).Scan(
		&v.ID, &v.PatientID, &visitDate, &lmp,
		&v.Gesta.Births, &v.Gesta.Cesareans, &v.Gesta.Abortions, &v.Gesta.Ectopic, &v.Gesta.Other,
		&v.Contraception, &v.Reason, &v.PhysicalExam, &v.Colposcopy, &v.VaginalUltrasound, &v.BreastUltrasound,
		&v.OtherTests, &v.Diagnosis, &v.Plan, &v.PaymentMethod, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("visit", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get visit %s: %w", id, err)
	}
	if v.VisitDate, err = db.ParseTime(visitDate); err != nil {
		return nil, err
	}
	if v.LastMenstrual, err = db.ParseNullTime(lmp); err != nil {
		return nil, err
	}
	if v.CreatedAt, err = db.ParseTime(created); err != nil {
		return nil, err
	}
	if v.UpdatedAt, err = db.ParseTime(updated); err != nil {
		return nil, err
	}
	return &v, nil
}

func (r *repoSQLite) ListByDay(ctx context.Context, day time.Time) ([]TodayRow, error) {
	rows, err := r.q(ctx).QueryContext(ctx, `SELECT v.id, v.visit_date, p.national_id,
			p.last_name || ', ' || p.first_name, v.reason, v.payment_method
		FROM visits v
		JOIN patients p ON p.id = v.patient_id
		WHERE substr(v.visit_date, 1, 10) = ?
		ORDER BY v.visit_date DESC, v.id DESC`, day.In(time.Local).Format(db.DateLayout))
	if err != nil {
		return nil, fmt.Errorf("list visits: %w", err)
	}
	defer rows.Close()

	var out []TodayRow
	for rows.Next() {
		var t TodayRow
		var visitDate string
		if err := rows.Scan(&t.ID, &visitDate, &t.NationalID, &t.PatientName, &t.Reason, &t.PaymentMethod); err != nil {
			return nil, fmt.Errorf("scan visit: %w", err)
		}
		if t.VisitDate, err = db.ParseTime(visitDate); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *repoSQLite) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.q(ctx).ExecContext(ctx, `DELETE FROM visits WHERE id = ?`, id)
	if err != nil {
		return db.TranslateError(fmt.Errorf("delete visit %s: %w", id, err), "the visit is still referenced")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return apperr.NotFound("visit", id)
	}
	return nil
}
