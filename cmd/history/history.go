package history

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ikancheck/ikancheck/internal/app"
	"github.com/ikancheck/ikancheck/internal/conf"
	"github.com/ikancheck/ikancheck/internal/errors"
	"github.com/ikancheck/ikancheck/internal/history"
)

// Command creates the history command and its subcommands.
func Command(settings *conf.Settings) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Manage the detection history",
	}

	cmd.AddCommand(
		listCommand(settings),
		showCommand(settings),
		deleteCommand(settings),
	)
	return cmd
}

// openStore opens only the history store; history commands never need the
// model.
func openStore(settings *conf.Settings) (*history.Store, error) {
	b, err := app.OpenBackend(&settings.History)
	if err != nil {
		return nil, err
	}
	return history.New(b), nil
}

func listCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored detections, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(settings)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			entries, err := store.List(cmd.Context())
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No detections recorded yet.")
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TIME\tLABEL\tID")
			for _, e := range entries {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", e.DisplayTime(), e.Label, e.ID)
			}
			return tw.Flush()
		},
	}
}

func showCommand(settings *conf.Settings) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "show [id]",
		Short: "Show a stored detection and optionally export its image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(settings)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			rec, err := store.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "ID:    %s\n", rec.ID)
			fmt.Fprintf(w, "Label: %s\n", rec.Label)
			fmt.Fprintf(w, "Time:  %s\n", rec.DisplayTime())
			fmt.Fprintf(w, "Image: %s, %d bytes\n", rec.ContentType, len(rec.Image))

			if output == "" {
				return nil
			}
			if err := os.WriteFile(output, rec.Image, 0o600); err != nil {
				return fmt.Errorf("error writing image: %w", err)
			}
			fmt.Fprintf(w, "Image written to %s\n", output)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "Write the stored image to this file")
	return cmd
}

func deleteCommand(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "delete [id]",
		Short: "Delete a stored detection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore(settings)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			err = store.Delete(cmd.Context(), args[0])
			switch {
			case errors.IsNotFound(err):
				fmt.Fprintf(cmd.OutOrStdout(), "Record %s was already deleted.\n", args[0])
				return nil
			case err != nil:
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
			return nil
		},
	}
}
