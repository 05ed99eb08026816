package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/gynlab/gynlab/internal/domain/patient"
	"github.com/gynlab/gynlab/internal/platform/apperr"
	"github.com/gynlab/gynlab/internal/platform/db"
)

// patientFlags binds the editable patient fields to flags.
type patientFlags struct {
	nationalID, first, last, phone, birth, address, personal, family, comment string
}

func (f *patientFlags) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringVar(&f.nationalID, "national-id", "", "national id, 5 to 12 digits")
	fl.StringVar(&f.first, "first", "", "first name(s)")
	fl.StringVar(&f.last, "last", "", "last name(s)")
	fl.StringVar(&f.phone, "phone", "", "phone number")
	fl.StringVar(&f.birth, "birth-date", "", "birth date (YYYY-MM-DD)")
	fl.StringVar(&f.address, "address", "", "address")
	fl.StringVar(&f.personal, "personal-history", "", "personal medical history")
	fl.StringVar(&f.family, "family-history", "", "family medical history")
	fl.StringVar(&f.comment, "comment", "", "free comment")
}

func parseDate(field, raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	t, err := time.ParseInLocation(db.DateLayout, raw, time.Local)
	if err != nil {
		return nil, apperr.InvalidField(field, "expected a date as YYYY-MM-DD, got %q", raw)
	}
	return &t, nil
}

// apply copies the flags the operator set onto p.
func (f *patientFlags) apply(cmd *cobra.Command, p *patient.Patient) error {
	changed := cmd.Flags().Changed
	if changed("national-id") {
		p.NationalID = f.nationalID
	}
	if changed("first") {
		p.FirstName = f.first
	}
	if changed("last") {
		p.LastName = f.last
	}
	if changed("birth-date") {
		birth, err := parseDate("birth_date", f.birth)
		if err != nil {
			return err
		}
		p.BirthDate = birth
	}
	for _, o := range []struct {
		flag  string
		value string
		dst   **string
	}{
		{"phone", f.phone, &p.Phone},
		{"address", f.address, &p.Address},
		{"personal-history", f.personal, &p.PersonalHistory},
		{"family-history", f.family, &p.FamilyHistory},
		{"comment", f.comment, &p.Comment},
	} {
		if changed(o.flag) {
			*o.dst = optional(o.value)
		}
	}
	return nil
}

func (c *cli) patientCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "patient", Short: "Manage patients"}

	var addFlags patientFlags
	add := &cobra.Command{
		Use:   "add",
		Short: "Register a patient",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			p := &patient.Patient{}
			if err := addFlags.apply(cmd, p); err != nil {
				return err
			}
			if _, err := c.app.Patients.Create(cmd.Context(), p); err != nil {
				return err
			}
			fmt.Fprintln(c.out, p.ID)
			return nil
		},
	}
	addFlags.register(add)

	var updateFlags patientFlags
	update := &cobra.Command{
		Use:   "update <patient-id>",
		Short: "Change the fields given as flags",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := apperr.ParseID("patient", args[0])
			if err != nil {
				return err
			}
			p, err := c.app.Patients.Get(cmd.Context(), id)
			if err != nil {
				return err
			}
			if err := updateFlags.apply(cmd, p); err != nil {
				return err
			}
			if _, err := c.app.Patients.Update(cmd.Context(), p); err != nil {
				return err
			}
			c.notifier.Info("Patient " + p.DisplayName() + " updated.")
			return nil
		},
	}
	updateFlags.register(update)

	get := &cobra.Command{
		Use:   "get <patient-id>",
		Short: "Show a patient",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := apperr.ParseID("patient", args[0])
			if err != nil {
				return err
			}
			p, err := c.app.Patients.Get(cmd.Context(), id)
			if err != nil {
				return err
			}
			tw := newTable(c.out, "FIELD", "VALUE")
			row(tw, "id", p.ID.String())
			row(tw, "national_id", p.NationalID)
			row(tw, "name", p.DisplayName())
			row(tw, "phone", orDash(str(p.Phone)))
			row(tw, "birth_date", fmtDate(p.BirthDate))
			row(tw, "address", orDash(str(p.Address)))
			row(tw, "personal_history", orDash(str(p.PersonalHistory)))
			row(tw, "family_history", orDash(str(p.FamilyHistory)))
			row(tw, "comment", orDash(str(p.Comment)))
			return tw.Flush()
		},
	}

	search := &cobra.Command{
		Use:   "search [text]",
		Short: "Find patients by national id or name",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q := ""
			if len(args) == 1 {
				q = args[0]
			}
			found, err := c.app.Patients.Search(cmd.Context(), q)
			if err != nil {
				return err
			}
			tw := newTable(c.out, "ID", "NATIONAL ID", "LAST NAME", "FIRST NAME", "PHONE")
			for _, s := range found {
				row(tw, s.ID.String(), s.NationalID, s.LastName, s.FirstName, orDash(str(s.Phone)))
			}
			return tw.Flush()
		},
	}

	del := &cobra.Command{
		Use:   "delete <patient-id>",
		Short: "Delete a patient without visits",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := apperr.ParseID("patient", args[0])
			if err != nil {
				return err
			}
			if _, err := c.app.Patients.Delete(cmd.Context(), id); err != nil {
				return err
			}
			c.notifier.Info("Patient deleted.")
			return nil
		},
	}

	cmd.AddCommand(add, update, get, search, del)
	return cmd
}
