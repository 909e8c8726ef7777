package advice

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ikancheck/ikancheck/internal/app"
	"github.com/ikancheck/ikancheck/internal/conf"
	"github.com/ikancheck/ikancheck/internal/labels"
)

// Command creates the advice command, which prints treatment advice and the
// reference page for a label.
func Command(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "advice [label]",
		Short: "Show treatment advice for a label",
		Long:  "Show treatment advice and, where available, cause, symptoms and prevention for a label.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			// Labels contain spaces; accept them unquoted.
			name := strings.Join(args, " ")

			table, err := app.LoadLabels(&settings.Model)
			if err != nil {
				return err
			}
			if !table.Contains(name) {
				return fmt.Errorf("unknown label %q, run 'ikancheck labels' to list them", name)
			}
			content, err := labels.LoadContent()
			if err != nil {
				return err
			}

			Print(cmd.OutOrStdout(), name, content)
			return nil
		},
	}
}

// Print writes the advice and education text for name.
func Print(w io.Writer, name string, content *labels.Content) {
	fmt.Fprintf(w, "%s\n\n%s\n", name, content.Advice(name))

	edu, ok := content.Education(name)
	if !ok {
		return
	}
	sections := []struct{ title, text string }{
		{"Other names", edu.OtherNames},
		{"Cause", edu.Cause},
		{"Symptoms", edu.Symptoms},
		{"Treatment", edu.Treatment},
		{"Prevention", edu.Prevention},
	}
	for _, s := range sections {
		if s.text == "" {
			continue
		}
		fmt.Fprintf(w, "\n%s:\n%s\n", s.title, s.text)
	}
}
