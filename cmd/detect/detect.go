package detect

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ikancheck/ikancheck/internal/app"
	"github.com/ikancheck/ikancheck/internal/conf"
	"github.com/ikancheck/ikancheck/internal/pipeline"
)

var imageExtensions = []string{".jpg", ".jpeg", ".png"}

// Command creates the detect command for classifying a single image.
func Command(settings *conf.Settings, opts *app.Options) *cobra.Command {
	var showAll bool

	cmd := &cobra.Command{
		Use:   "detect [image]",
		Short: "Classify a fish photo",
		Long:  "Classify a JPG or PNG photo of a fish and record accepted detections in the history.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			if ext := strings.ToLower(filepath.Ext(path)); !slices.Contains(imageExtensions, ext) {
				return fmt.Errorf("unsupported file type %q, use a JPG or PNG image", ext)
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("error reading image: %w", err)
			}

			a, err := app.New(settings, *opts)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			res, err := a.Pipeline.ClassifyAndRecord(cmd.Context(), data)
			if err != nil {
				return fmt.Errorf("detection failed: %w", err)
			}
			return PrintResult(cmd.OutOrStdout(), res, showAll)
		},
	}

	cmd.Flags().BoolVarP(&showAll, "all", "a", false, "Show the confidence of every label")

	return cmd
}

// PrintResult writes the decision, its advice and the confidence table.
// Without all only the three most likely labels are listed.
func PrintResult(w io.Writer, res pipeline.Result, all bool) error {
	d := res.Decision
	fmt.Fprintln(w, d.Message())
	if res.Stored() {
		fmt.Fprintf(w, "Saved as %s\n", res.RecordID)
	}
	if warning := res.Warning(); warning != "" {
		fmt.Fprintf(w, "Warning: %s\n", warning)
	}
	if res.Advice != "" {
		fmt.Fprintf(w, "\nAdvice:\n%s\n", res.Advice)
	}

	scores := d.Scores
	if !all && len(scores) > 3 {
		scores = scores[:3]
	}
	if len(scores) == 0 {
		return nil
	}

	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "LABEL\tCONFIDENCE")
	for _, s := range scores {
		fmt.Fprintf(tw, "%s\t%6.2f%%\n", s.Label, s.Confidence*100)
	}
	return tw.Flush()
}
