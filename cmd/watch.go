package cmd

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/conneroisu/pig/internal/notify"
	"github.com/conneroisu/pig/internal/pipeline"
)

var watchOrigins []string

var watchCmd = &cobra.Command{
	Use:     "watch",
	Aliases: []string{"w"},
	Short:   "Regenerate whenever a schema, template or pig.yaml changes",
	Long: `Run a full generation, then keep watching:

- every schema file an entry's document was resolved from
- every entry's template directory
- pig.yaml itself, which restarts everything from scratch

Any error stops the watch. When settings.notify_addr is set, a websocket endpoint
on /events announces each regeneration.

Examples:
  pig watch
  pig --watch --log-level debug
  PIG_SETTINGS_NOTIFY_ADDR=127.0.0.1:7331 pig watch`,
	Args: cobra.NoArgs,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().StringSliceVar(&watchOrigins, "origin", nil, "extra origin patterns allowed to connect to the notify endpoint")
}

func runWatch(cmd *cobra.Command, _ []string) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var opts []pipeline.Option
	g, ctx := errgroup.WithContext(ctx)
	if addr := cfg.Settings.NotifyAddr; addr != "" {
		hub := notify.NewHub(logger, watchOrigins...)
		defer hub.Close()
		opts = append(opts, pipeline.WithNotifier(hub))
		g.Go(func() error {
			return hub.Serve(ctx, addr)
		})
	}

	g.Go(func() error {
		if err := newPipeline(logger, opts...).Watch(ctx); err != nil {
			return err
		}
		// Stops the notify server once the watch ends.
		return context.Canceled
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
