package visit

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gynlab/gynlab/internal/domain/study"
	"github.com/gynlab/gynlab/internal/platform/events"
)

// Gesta is the obstetric history recorded at each visit.
type Gesta struct {
	Births    int `db:"gesta_births" json:"births"`
	Cesareans int `db:"gesta_cesareans" json:"cesareans"`
	Abortions int `db:"gesta_abortions" json:"abortions"`
	Ectopic   int `db:"gesta_ectopic" json:"ectopic"`
	Other     int `db:"gesta_other" json:"other"`
}

func (g Gesta) counts() []int {
	return []int{g.Births, g.Cesareans, g.Abortions, g.Ectopic, g.Other}
}

// Visit maps to the visits table.
type Visit struct {
	ID                uuid.UUID  `db:"id" json:"id"`
	PatientID         uuid.UUID  `db:"patient_id" json:"patient_id"`
	VisitDate         time.Time  `db:"visit_date" json:"visit_date"`
	LastMenstrual     *time.Time `db:"last_menstrual" json:"last_menstrual,omitempty"`
	Gesta             Gesta      `json:"gesta"`
	Contraception     *string    `db:"contraception" json:"contraception,omitempty"`
	Reason            *string    `db:"reason" json:"reason,omitempty"`
	PhysicalExam      *string    `db:"physical_exam" json:"physical_exam,omitempty"`
	Colposcopy        *string    `db:"colposcopy" json:"colposcopy,omitempty"`
	VaginalUltrasound *string    `db:"vaginal_ultrasound" json:"vaginal_ultrasound,omitempty"`
	BreastUltrasound  *string    `db:"breast_ultrasound" json:"breast_ultrasound,omitempty"`
	OtherTests        *string    `db:"other_tests" json:"other_tests,omitempty"`
	Diagnosis         *string    `db:"diagnosis" json:"diagnosis,omitempty"`
	Plan              *string    `db:"plan" json:"plan,omitempty"`
	PaymentMethod     string     `db:"payment_method" json:"payment_method"`
	CreatedAt         time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt         time.Time  `db:"updated_at" json:"updated_at"`
}

func (v *Visit) textFields() []**string {
	return []**string{&v.Contraception, &v.Reason, &v.PhysicalExam, &v.Colposcopy,
		&v.VaginalUltrasound, &v.BreastUltrasound, &v.OtherTests, &v.Diagnosis, &v.Plan}
}

func (v *Visit) normalize() {
	v.PaymentMethod = strings.TrimSpace(v.PaymentMethod)
	for _, f := range v.textFields() {
		if *f == nil {
			continue
		}
		s := strings.TrimSpace(**f)
		if s == "" {
			*f = nil
		} else {
			*f = &s
		}
	}
}

// NewVisit is a visit plus the studies ordered during it.
type NewVisit struct {
	Visit
	Cytologies []string
	Biopsies   []string
}

// Created is what Create reports back.
type Created struct {
	Visit   *Visit
	Studies []study.Study
	Changes events.ChangeSet
}

// TodayRow is a visit joined with its patient, as listed on the day view.
type TodayRow struct {
	ID            uuid.UUID `json:"id"`
	VisitDate     time.Time `json:"visit_date"`
	NationalID    string    `json:"national_id"`
	PatientName   string    `json:"patient_name"`
	Reason        *string   `json:"reason,omitempty"`
	PaymentMethod string    `json:"payment_method"`
}
