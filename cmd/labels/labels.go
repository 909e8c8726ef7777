package labels

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ikancheck/ikancheck/internal/app"
	"github.com/ikancheck/ikancheck/internal/conf"
	"github.com/ikancheck/ikancheck/internal/labels"
)

// Command creates the labels command, which prints the label table.
func Command(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "labels",
		Short: "List the labels the classifier can report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			table, err := app.LoadLabels(&settings.Model)
			if err != nil {
				return err
			}
			content, err := labels.LoadContent()
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "INDEX\tLABEL\tKIND\tREFERENCE")
			for i, name := range table.Names() {
				ref := ""
				if _, ok := content.Education(name); ok {
					ref = "yes"
				}
				fmt.Fprintf(tw, "%d\t%s\t%s\t%s\n", i, name, kind(table, name), ref)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "\nAcceptance threshold: %.0f%%\n", settings.Decision.Threshold*100)
			return nil
		},
	}
}

func kind(table *labels.Table, name string) string {
	switch {
	case table.IsNotSubject(name):
		return "not a fish"
	case name == table.Healthy():
		return "healthy"
	default:
		return "disease"
	}
}
