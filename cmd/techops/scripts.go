package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/RajasekharPalleti/cropin-automation-techops/internal/service"

	"github.com/spf13/cobra"
)

var scriptsCmd = &cobra.Command{
	Use:   "scripts",
	Short: "scripts command lists the available routines",
	RunE: func(cmd *cobra.Command, args []string) error {
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		_, _ = fmt.Fprintln(tw, "NAME\tINPUT\tLOG\tDEFAULT URL\tDESCRIPTION")
		for _, r := range service.Catalog(config.API).List() {
			_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
				r.Name, yesNo(r.RequiresInput), yesNo(r.Streams), r.DefaultURL, r.Description)
		}
		return tw.Flush()
	},
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
