package serve

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/ikancheck/ikancheck/internal/api"
	"github.com/ikancheck/ikancheck/internal/app"
	"github.com/ikancheck/ikancheck/internal/conf"
	"github.com/ikancheck/ikancheck/internal/logger"
)

// loader is implemented by predictors that load their model lazily.
type loader interface {
	Load() error
}

// Command creates the serve command, which runs the HTTP API until the
// process is interrupted.
func Command(settings *conf.Settings, opts *app.Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logger.Global().Module("serve")

			a, err := app.New(settings, *opts)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			server, err := api.New(a, api.ConfigFromSettings(settings))
			if err != nil {
				return err
			}

			g, ctx := errgroup.WithContext(cmd.Context())
			g.Go(func() error {
				return server.Start(ctx)
			})
			if l, ok := a.Predictor.(loader); ok {
				// Load the model in the background so the first upload is not
				// slowed down; failures surface per request as well.
				g.Go(func() error {
					if err := l.Load(); err != nil {
						log.Warn("model preload failed", logger.Error(err))
					}
					return nil
				})
			}
			return g.Wait()
		},
	}

	cmd.Flags().String("listen", conf.DefaultListen, "Listen address of the HTTP API")
	cmd.Flags().Float64("ratelimit", conf.DefaultRateLimit, "Detection uploads per second per client, 0 = unlimited")
	_ = viper.BindPFlag("webserver.listen", cmd.Flags().Lookup("listen"))
	_ = viper.BindPFlag("webserver.ratelimit", cmd.Flags().Lookup("ratelimit"))

	return cmd
}
