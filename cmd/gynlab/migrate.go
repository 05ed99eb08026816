package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gynlab/gynlab/internal/platform/db"
)

func (c *cli) migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:         "migrate",
		Short:       "Manage the database schema",
		Annotations: map[string]string{annotationNoMigrate: "true"},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			count, err := c.app.Migrate(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(c.out, "Applied %d migration(s).\n", count)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			statuses, err := c.app.MigrationStatus(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}
			tw := newTable(c.out, "VERSION", "NAME", "STATUS", "APPLIED AT")
			for _, s := range statuses {
				status, appliedAt := "pending", "-"
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format(db.TimeLayout)
					}
				}
				row(tw, fmt.Sprint(s.Version), s.Name, status, appliedAt)
			}
			return tw.Flush()
		},
	})
	return cmd
}
