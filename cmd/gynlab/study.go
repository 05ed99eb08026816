package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/gynlab/gynlab/internal/domain/study"
	"github.com/gynlab/gynlab/internal/platform/apperr"
	"github.com/gynlab/gynlab/internal/platform/db"
)

func parseIDs(field string, raw []string) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(raw))
	for _, r := range raw {
		id, err := apperr.ParseID(field, r)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func joinStates(states []study.State) string {
	parts := make([]string, len(states))
	for i, st := range states {
		parts[i] = string(st)
	}
	return strings.Join(parts, ", ")
}

func printStudies(c *cli, rows []study.Row) error {
	tw := newTable(c.out, "ID", "ORDERED", "NATIONAL ID", "PATIENT", "KIND", "SUBTYPE", "STATE", "CENTER", "RESULT")
	for _, r := range rows {
		state := string(r.State)
		if r.Overridden {
			state += "*"
		}
		row(tw, r.ID.String(), r.OrderedAt.Format(db.DateLayout), r.NationalID, r.PatientName,
			string(r.Kind), r.Subtype, state, orDash(r.CenterName), orDash(str(r.Result)))
	}
	return tw.Flush()
}

func (c *cli) studyCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "study", Short: "Track laboratory studies"}

	var (
		q, state, kind, center, from, to string
		open, priority                    bool
		limit, offset                     int
	)
	list := &cobra.Command{
		Use:   "list",
		Short: "List studies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := study.Filter{Query: q, OpenOnly: open, Limit: limit, Offset: offset}
			if priority {
				f.Order = study.OrderStatePriority
			}
			var err error
			if state != "" {
				if f.State, err = study.ParseState(state); err != nil {
					return err
				}
			}
			if kind != "" {
				if f.Kind, err = study.ParseKind(kind); err != nil {
					return err
				}
			}
			if center != "" {
				id, err := apperr.ParseID("center", center)
				if err != nil {
					return err
				}
				f.CenterID = &id
			}
			if f.From, err = parseDate("from", from); err != nil {
				return err
			}
			if f.To, err = parseDate("to", to); err != nil {
				return err
			}
			rows, err := c.app.Studies.List(cmd.Context(), f)
			if err != nil {
				return err
			}
			if err := printStudies(c, rows); err != nil {
				return err
			}
			if page := c.app.Studies.Page(f); page.Full(len(rows)) {
				c.notifier.Info(fmt.Sprintf("More studies may follow; rerun with --offset %d.", page.NextOffset()))
			}
			return nil
		},
	}
	fl := list.Flags()
	fl.StringVarP(&q, "query", "q", "", "match national id, patient name or subtype")
	fl.StringVar(&state, "state", "", "only studies in this state")
	fl.StringVar(&kind, "kind", "", "cytology or biopsy")
	fl.StringVar(&center, "center", "", "only studies sent to this center id")
	fl.StringVar(&from, "from", "", "ordered on or after (YYYY-MM-DD)")
	fl.StringVar(&to, "to", "", "ordered on or before (YYYY-MM-DD)")
	fl.BoolVar(&open, "open", false, "hide delivered studies")
	fl.BoolVar(&priority, "priority", false, "sort open states first")
	fl.IntVar(&limit, "limit", 0, "maximum rows (default query.default_limit)")
	fl.IntVar(&offset, "offset", 0, "skip this many rows")

	show := &cobra.Command{
		Use:   "show <study-id>",
		Short: "Show a study",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := apperr.ParseID("study", args[0])
			if err != nil {
				return err
			}
			r, err := c.app.Studies.Get(cmd.Context(), id)
			if err != nil {
				return err
			}
			tw := newTable(c.out, "FIELD", "VALUE")
			row(tw, "id", r.ID.String())
			row(tw, "patient", r.PatientName+" ("+r.NationalID+")")
			row(tw, "visit_id", r.VisitID.String())
			row(tw, "kind", string(r.Kind))
			row(tw, "subtype", r.Subtype)
			row(tw, "state", string(r.State))
			row(tw, "center", orDash(r.CenterName))
			for _, st := range study.States {
				row(tw, string(st)+"_at", fmtTime(r.Timestamp(st)))
			}
			row(tw, "result", orDash(str(r.Result)))
			row(tw, "result_edited_at", fmtTime(r.ResultEditedAt))
			row(tw, "overridden", strconv.FormatBool(r.Overridden))
			return tw.Flush()
		},
	}

	advance := &cobra.Command{
		Use:   "advance <study-id> <state>",
		Short: "Move a study to the next state",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := apperr.ParseID("study", args[0])
			if err != nil {
				return err
			}
			target, err := study.ParseState(args[1])
			if err != nil {
				return err
			}
			out, err := c.app.Studies.Advance(cmd.Context(), id, target)
			if err != nil {
				return err
			}
			c.notifier.Info(fmt.Sprintf("Study is now %s.", out.State))
			return nil
		},
	}

	toggle := &cobra.Command{
		Use:   "toggle <state> <study-id>...",
		Short: "Mark a state, or clear it and every later one",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			state, err := study.ParseState(args[0])
			if err != nil {
				return err
			}
			ids, err := parseIDs("study", args[1:])
			if err != nil {
				return err
			}
			res, err := c.app.Studies.ToggleMany(cmd.Context(), ids, state)
			if res != nil {
				for _, id := range ids {
					out, ok := res.Outcomes[id]
					if !ok {
						continue
					}
					if len(out.Affected) > 0 && out.Study.State.Before(state) {
						if serr := c.send("state-retracted", map[string]string{
							"states": joinStates(out.Affected),
							"state":  string(out.Study.State),
						}); serr != nil {
							return serr
						}
					}
					fmt.Fprintf(c.out, "%s\t%s\n", id, out.Study.State)
				}
			}
			return err
		},
	}

	override := &cobra.Command{
		Use:   "override <study-id> <state>",
		Short: "Force a study into any state",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := apperr.ParseID("study", args[0])
			if err != nil {
				return err
			}
			target, err := study.ParseState(args[1])
			if err != nil {
				return err
			}
			out, err := c.app.Studies.Override(cmd.Context(), id, target)
			if err != nil {
				return err
			}
			return c.send("state-overridden", map[string]string{
				"id":    id.String(),
				"state": string(out.State),
			})
		},
	}

	var clearResult bool
	result := &cobra.Command{
		Use:   "result <study-id> [text]",
		Short: "Record or clear the result of a received study",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := apperr.ParseID("study", args[0])
			if err != nil {
				return err
			}
			text := ""
			if len(args) == 2 {
				text = args[1]
			}
			if text == "" && !clearResult {
				return apperr.InvalidField("result", "give the result text or --clear")
			}
			if _, err := c.app.Studies.SetResult(cmd.Context(), id, text); err != nil {
				return err
			}
			if text == "" {
				c.notifier.Info("Result cleared.")
			} else {
				c.notifier.Info("Result saved.")
			}
			return nil
		},
	}
	result.Flags().BoolVar(&clearResult, "clear", false, "clear the stored result")

	var centerName string
	assign := &cobra.Command{
		Use:   "assign-center <study-id>...",
		Short: "Send studies to a histology center, creating it when new",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs("study", args)
			if err != nil {
				return err
			}
			res, err := c.app.Studies.AssignCenter(cmd.Context(), ids, centerName)
			if res == nil {
				return err
			}
			if res.CenterCreated {
				if serr := c.send("center-created", map[string]string{"center": res.Center.Name}); serr != nil {
					return serr
				}
			}
			if len(res.Overwritten) > 0 {
				parts := make([]string, len(res.Overwritten))
				for i, id := range res.Overwritten {
					parts[i] = id.String()
				}
				if serr := c.send("center-overwritten", map[string]string{
					"count":  strconv.Itoa(len(res.Overwritten)),
					"center": res.Center.Name,
					"ids":    strings.Join(parts, ", "),
				}); serr != nil {
					return serr
				}
			}
			c.notifier.Info(fmt.Sprintf("%d study(ies) assigned to %s.", len(res.Updated), res.Center.Name))
			return err
		},
	}
	assign.Flags().StringVar(&centerName, "center", "", "histology center name")

	history := &cobra.Command{
		Use:   "history <study-id>",
		Short: "Show the audit trail of a study",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := apperr.ParseID("study", args[0])
			if err != nil {
				return err
			}
			evs, err := c.app.Studies.History(cmd.Context(), id)
			if err != nil {
				return err
			}
			tw := newTable(c.out, "AT", "PATH", "FROM", "TO", "DETAIL")
			for _, e := range evs {
				row(tw, e.CreatedAt.Format(db.TimeLayout), string(e.Path), orDash(string(e.FromState)), string(e.ToState), orDash(e.Detail))
			}
			return tw.Flush()
		},
	}

	check := &cobra.Command{
		Use:   "check",
		Short: "List studies whose timestamps break the lifecycle rules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			found, err := c.app.Studies.CheckConsistency(cmd.Context())
			if err != nil {
				return err
			}
			if len(found) == 0 {
				c.notifier.Info("All studies are consistent.")
				return nil
			}
			tw := newTable(c.out, "STUDY", "PROBLEMS")
			for _, v := range found {
				row(tw, v.StudyID.String(), strings.Join(v.Reasons, "; "))
			}
			return tw.Flush()
		},
	}

	cmd.AddCommand(list, show, advance, toggle, override, result, assign, history, check)
	return cmd
}
