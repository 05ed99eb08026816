package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gynlab/gynlab/internal/domain/visit"
	"github.com/gynlab/gynlab/internal/platform/apperr"
	"github.com/gynlab/gynlab/internal/platform/db"
)

func (c *cli) visitCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "visit", Short: "Record visits"}

	var (
		patientID, payment, lmp                            string
		contraception, reason, exam, colposcopy, vaginalUS string
		breastUS, otherTests, diagnosis, plan              string
		cytologies, biopsies                               []string
		gesta                                              visit.Gesta
	)
	add := &cobra.Command{
		Use:   "add",
		Short: "Record a visit and order its studies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pid, err := apperr.ParseID("patient", patientID)
			if err != nil {
				return err
			}
			lastMenstrual, err := parseDate("last_menstrual", lmp)
			if err != nil {
				return err
			}
			created, err := c.app.Visits.Create(cmd.Context(), visit.NewVisit{
				Visit: visit.Visit{
					PatientID:         pid,
					PaymentMethod:     payment,
					LastMenstrual:     lastMenstrual,
					Gesta:             gesta,
					Contraception:     optional(contraception),
					Reason:            optional(reason),
					PhysicalExam:      optional(exam),
					Colposcopy:        optional(colposcopy),
					VaginalUltrasound: optional(vaginalUS),
					BreastUltrasound:  optional(breastUS),
					OtherTests:        optional(otherTests),
					Diagnosis:         optional(diagnosis),
					Plan:              optional(plan),
				},
				Cytologies: cytologies,
				Biopsies:   biopsies,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(c.out, created.Visit.ID)
			if len(created.Studies) > 0 {
				tw := newTable(c.out, "STUDY", "KIND", "SUBTYPE", "STATE")
				for _, st := range created.Studies {
					row(tw, st.ID.String(), string(st.Kind), st.Subtype, string(st.State))
				}
				return tw.Flush()
			}
			return nil
		},
	}
	fl := add.Flags()
	fl.StringVar(&patientID, "patient", "", "patient id")
	fl.StringVar(&payment, "payment", "", "payment method (see clinic.payment_methods)")
	fl.StringVar(&lmp, "lmp", "", "last menstrual period (YYYY-MM-DD)")
	fl.IntVar(&gesta.Births, "births", 0, "number of births")
	fl.IntVar(&gesta.Cesareans, "cesareans", 0, "number of cesareans")
	fl.IntVar(&gesta.Abortions, "abortions", 0, "number of abortions")
	fl.IntVar(&gesta.Ectopic, "ectopic", 0, "number of ectopic pregnancies")
	fl.IntVar(&gesta.Other, "gesta-other", 0, "other pregnancies")
	fl.StringVar(&contraception, "contraception", "", "contraception")
	fl.StringVar(&reason, "reason", "", "reason for the visit")
	fl.StringVar(&exam, "physical-exam", "", "physical exam")
	fl.StringVar(&colposcopy, "colposcopy", "", "colposcopy")
	fl.StringVar(&vaginalUS, "vaginal-ultrasound", "", "vaginal ultrasound")
	fl.StringVar(&breastUS, "breast-ultrasound", "", "breast ultrasound")
	fl.StringVar(&otherTests, "other-tests", "", "other tests")
	fl.StringVar(&diagnosis, "diagnosis", "", "diagnosis")
	fl.StringVar(&plan, "plan", "", "plan")
	fl.StringArrayVar(&cytologies, "cytology", nil, "cytology to order (repeatable)")
	fl.StringArrayVar(&biopsies, "biopsy", nil, "biopsy to order (repeatable)")

	today := &cobra.Command{
		Use:   "today",
		Short: "List today's visits",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rows, err := c.app.Visits.ListToday(cmd.Context())
			if err != nil {
				return err
			}
			tw := newTable(c.out, "ID", "TIME", "NATIONAL ID", "PATIENT", "REASON", "PAYMENT")
			for _, r := range rows {
				row(tw, r.ID.String(), r.VisitDate.Format("15:04"), r.NationalID, r.PatientName,
					orDash(str(r.Reason)), r.PaymentMethod)
			}
			return tw.Flush()
		},
	}

	del := &cobra.Command{
		Use:   "delete <visit-id>",
		Short: "Delete a visit and its studies",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := apperr.ParseID("visit", args[0])
			if err != nil {
				return err
			}
			if _, err := c.app.Visits.Delete(cmd.Context(), id); err != nil {
				return err
			}
			c.notifier.Info("Visit deleted.")
			return nil
		},
	}

	show := &cobra.Command{
		Use:   "show <visit-id>",
		Short: "Show a visit and its studies",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := apperr.ParseID("visit", args[0])
			if err != nil {
				return err
			}
			v, err := c.app.Visits.Get(cmd.Context(), id)
			if err != nil {
				return err
			}
			studies, err := c.app.Studies.ListByVisit(cmd.Context(), id)
			if err != nil {
				return err
			}
			tw := newTable(c.out, "FIELD", "VALUE")
			row(tw, "id", v.ID.String())
			row(tw, "patient_id", v.PatientID.String())
			row(tw, "date", v.VisitDate.Format(db.TimeLayout))
			row(tw, "last_menstrual", fmtDate(v.LastMenstrual))
			row(tw, "gesta", fmt.Sprintf("P%d C%d A%d E%d O%d", v.Gesta.Births, v.Gesta.Cesareans, v.Gesta.Abortions, v.Gesta.Ectopic, v.Gesta.Other))
			row(tw, "reason", orDash(str(v.Reason)))
			row(tw, "diagnosis", orDash(str(v.Diagnosis)))
			row(tw, "plan", orDash(str(v.Plan)))
			row(tw, "payment", v.PaymentMethod)
			for _, st := range studies {
				row(tw, "study", fmt.Sprintf("%s %s %s (%s)", st.ID, st.Kind, st.Subtype, st.State))
			}
			return tw.Flush()
		},
	}

	cmd.AddCommand(add, show, today, del)
	return cmd
}
