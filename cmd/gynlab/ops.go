package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/gynlab/gynlab/internal/domain/study"
)

func (c *cli) dashboardCmd() *cobra.Command {
	var metricsFile string
	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Pending studies per state and overdue studies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := c.app.Dashboard(cmd.Context())
			if err != nil {
				return err
			}
			tw := newTable(c.out, "STATE", "PENDING")
			for _, st := range study.States {
				if st == study.StateDelivered {
					continue
				}
				row(tw, string(st), strconv.Itoa(d.Pending[st]))
			}
			if err := tw.Flush(); err != nil {
				return err
			}

			if len(d.Overdue) > 0 {
				fmt.Fprintln(c.out)
				tw = newTable(c.out, "OVERDUE", "SENT", "PATIENT", "KIND", "SUBTYPE", "CENTER")
				for _, r := range d.Overdue {
					row(tw, r.ID.String(), fmtDate(r.SentAt), r.PatientName, string(r.Kind), r.Subtype, orDash(r.CenterName))
				}
				if err := tw.Flush(); err != nil {
					return err
				}
				if err := c.send("studies-overdue", map[string]string{
					"count": strconv.Itoa(len(d.Overdue)),
					"days":  strconv.Itoa(d.OverdueDays),
				}); err != nil {
					return err
				}
			}

			if metricsFile != "" {
				return c.app.Metrics.WriteTextfile(metricsFile)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&metricsFile, "metrics-file", "", "also write Prometheus metrics to this textfile")
	return cmd
}

func (c *cli) backupCmd() *cobra.Command {
	var to string
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Snapshot the database and optionally copy it to a directory or S3",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			target := to
			if !cmd.Flags().Changed("to") {
				target = c.app.S3Target()
			}
			res, err := c.app.Backup(cmd.Context(), target)
			if err != nil {
				return err
			}
			fmt.Fprintln(c.out, res.LocalPath)
			if res.Remote != "" {
				fmt.Fprintln(c.out, res.Remote)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&to, "to", "", `copy target, "s3://bucket/prefix" or a directory (default backup.s3)`)
	return cmd
}

func (c *cli) configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:         "config",
		Short:       "Inspect the configuration",
		Annotations: map[string]string{annotationNoApp: "true"},
	}
	show := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as YAML",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := c.cfg.YAML()
			if err != nil {
				return err
			}
			_, err = c.out.Write(out)
			return err
		},
	}
	cmd.AddCommand(show)
	return cmd
}
