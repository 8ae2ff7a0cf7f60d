package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/teemow/noted/internal/hierarchy"
)

func newCategoriesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "categories",
		Short: "Print the category catalog notes are filed under",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "PAGE TITLE\tDESCRIPTION")
			for _, c := range hierarchy.Categories() {
				fmt.Fprintf(tw, "%s\t%s\n", c.DisplayTitle(), c.Description)
			}
			return tw.Flush()
		},
	}
}
