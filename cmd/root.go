package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ikancheck/ikancheck/cmd/advice"
	"github.com/ikancheck/ikancheck/cmd/detect"
	"github.com/ikancheck/ikancheck/cmd/history"
	"github.com/ikancheck/ikancheck/cmd/labels"
	"github.com/ikancheck/ikancheck/cmd/serve"
	"github.com/ikancheck/ikancheck/internal/app"
	"github.com/ikancheck/ikancheck/internal/buildinfo"
	"github.com/ikancheck/ikancheck/internal/conf"
	"github.com/ikancheck/ikancheck/internal/errors"
	"github.com/ikancheck/ikancheck/internal/logger"
)

// telemetryFlushTimeout bounds how long exit waits for queued error reports.
const telemetryFlushTimeout = 2 * time.Second

// RootCommand creates and returns the root command. settings is filled from
// the config file, the environment and the global flags before any
// subcommand runs.
func RootCommand(settings *conf.Settings, info buildinfo.Info) *cobra.Command {
	var (
		configFile string
		opts       app.Options
		closeLog   func()
	)

	rootCmd := &cobra.Command{
		Use:           "ikancheck",
		Short:         "IkanCheck fish disease detection",
		Long:          "Classify fish photos for common diseases and keep a history of the results.",
		Version:       info.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	if err := setupFlags(rootCmd, &configFile, &opts); err != nil {
		// Flag wiring is static; this only fails on a programming error.
		panic(err)
	}

	rootCmd.AddCommand(
		detect.Command(settings, &opts),
		history.Command(settings),
		labels.Command(settings),
		advice.Command(settings),
		serve.Command(settings, &opts),
	)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		loaded, err := conf.Load(configFile)
		if err != nil {
			return err
		}
		*settings = *loaded

		closeLog, err = initialize(settings, info)
		return err
	}
	rootCmd.PersistentPostRun = func(cmd *cobra.Command, args []string) {
		if closeLog != nil {
			closeLog()
		}
	}

	return rootCmd
}

// initialize sets up logging and telemetry once settings are known. The
// returned func flushes both.
func initialize(settings *conf.Settings, info buildinfo.Info) (func(), error) {
	central, err := logger.NewCentralLogger(settings.LoggingConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger.SetGlobal(central)

	if settings.Telemetry.Enabled {
		if err := errors.InitSentry(errors.SentryOptions{
			DSN:     settings.Telemetry.DSN,
			Release: info.Release(),
		}); err != nil {
			// Telemetry is optional; keep running without it.
			central.Module("main").Warn("error reporting disabled", logger.Error(err))
		}
	}

	return func() {
		if settings.Telemetry.Enabled {
			errors.FlushTelemetry(telemetryFlushTimeout)
		}
		_ = central.Close()
	}, nil
}

// setupFlags defines the global flags and binds them to their config keys.
func setupFlags(rootCmd *cobra.Command, configFile *string, opts *app.Options) error {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(configFile, "config", "c", "", "Path to config file (default: search ./ and ~/.config/ikancheck)")
	flags.BoolP("debug", "d", false, "Enable debug output")
	flags.Float64P("threshold", "t", conf.DefaultThreshold, "Minimum confidence for an accepted detection, 0.0 to 1.0")
	flags.String("history-dir", conf.DefaultHistoryPath, "Directory of the filesystem history store")
	flags.StringP("model", "m", "", "Path to the TFLite model file")
	flags.BoolVar(&opts.StaticModel, "static-model", false, "Report every image as the healthy label at 90% instead of loading the model. Accepted results are still recorded")

	bindings := map[string]string{
		"debug":              "debug",
		"decision.threshold": "threshold",
		"history.path":       "history-dir",
		"model.path":         "model",
	}
	for key, flag := range bindings {
		if err := viper.BindPFlag(key, flags.Lookup(flag)); err != nil {
			return fmt.Errorf("error binding flag %s: %w", flag, err)
		}
	}
	return nil
}
