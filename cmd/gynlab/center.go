package main

import (
	"github.com/spf13/cobra"

	"github.com/gynlab/gynlab/internal/platform/apperr"
)

func (c *cli) centerCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "center", Short: "Manage histology centers"}

	var suggestions bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List stored centers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if suggestions {
				names, err := c.app.Studies.CenterNames(cmd.Context())
				if err != nil {
					return err
				}
				tw := newTable(c.out, "NAME")
				for _, n := range names {
					row(tw, n)
				}
				return tw.Flush()
			}
			centers, err := c.app.Studies.ListCenters(cmd.Context())
			if err != nil {
				return err
			}
			tw := newTable(c.out, "ID", "NAME", "CONTACT")
			for _, ce := range centers {
				row(tw, ce.ID.String(), ce.Name, orDash(str(ce.Contact)))
			}
			return tw.Flush()
		},
	}
	list.Flags().BoolVar(&suggestions, "names", false, "include the configured suggestions, names only")

	del := &cobra.Command{
		Use:   "delete <center-id>",
		Short: "Delete a center; its studies keep no center",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := apperr.ParseID("center", args[0])
			if err != nil {
				return err
			}
			if _, err := c.app.Studies.DeleteCenter(cmd.Context(), id); err != nil {
				return err
			}
			c.notifier.Info("Center deleted.")
			return nil
		},
	}

	cmd.AddCommand(list, del)
	return cmd
}
