// Package cmd provides the pig command-line interface.
//
// Configuration sources, highest priority first:
//
//  1. Command-line flags (--config, --log-level, --log-format)
//  2. PIG_CONFIG_FILE and PIG_<SECTION>_<OPTION> environment variables
//  3. The nearest pig.yaml (or pig.yml) found walking up from the working directory
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/conneroisu/pig/internal/config"
	pigerrors "github.com/conneroisu/pig/internal/errors"
	"github.com/conneroisu/pig/internal/logging"
	"github.com/conneroisu/pig/internal/pipeline"
)

var (
	cfgFile string
	watch   bool

	settings = config.NewViper()
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "pig",
	Short: "Inline multi-file OpenAPI documents and render templates against them",
	Long: `pig resolves every $ref of an OpenAPI document spread across many files into
one self-contained tree, then renders a directory of templates against it.

Each entry of pig.yaml names a schema root (api), a template directory (in) and
an output directory (out). Generated files whose template no longer exists are
moved to .pig.trash next to pig.yaml.

Quick Start:
  pig                     Resolve and render every entry once
  pig --watch             Re-render whenever a schema, template or pig.yaml changes
  pig resolve api.yaml    Print the resolved document
  pig clean               Move stale output to the trash`,
	SilenceUsage: true,
	Args:         cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if watch {
			return runWatch(cmd, args)
		}
		return runGenerate(cmd, args)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	err := rootCmd.Execute()
	if suggestions := pigerrors.Suggest(err); len(suggestions) > 0 {
		fmt.Fprint(rootCmd.ErrOrStderr(), "\n"+pigerrors.FormatSuggestions(suggestions))
	}
	return err
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is the nearest pig.yaml, can also use PIG_CONFIG_FILE env var)")
	flags.StringP("log-level", "l", "info", "log level (debug, info, warn, error)")
	flags.String("log-format", "text", "log format (text, json)")
	bindFlags(flags, map[string]string{
		"log-level":  "log.level",
		"log-format": "log.format",
	})

	rootCmd.Flags().BoolVarP(&watch, "watch", "w", false, "keep running and regenerate on change")
}

// bindFlags binds each named flag of fs to a settings key so the
// PIG_LOG_LEVEL style environment variables apply when the flag is unset.
func bindFlags(fs *pflag.FlagSet, keys map[string]string) {
	for name, key := range keys {
		if err := settings.BindPFlag(key, fs.Lookup(name)); err != nil {
			panic(err)
		}
	}
}

// initConfig applies PIG_CONFIG_FILE when no --config flag was given.
func initConfig() {
	if cfgFile == "" {
		cfgFile = os.Getenv(config.EnvPrefix + "_CONFIG_FILE")
	}
}

// loadConfig finds and loads the project configuration. It is called again
// on every reload in watch mode.
func loadConfig() (*config.Config, error) {
	start, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	path, err := config.Find(cfgFile, start)
	if err != nil {
		return nil, err
	}
	return config.Load(settings, path)
}

func newLogger() (logging.Logger, error) {
	level, err := logging.ParseLevel(settings.GetString("log.level"))
	if err != nil {
		return nil, err
	}
	format := settings.GetString("log.format")
	if format != "text" && format != "json" {
		return nil, fmt.Errorf("unsupported log format: %s (supported: text, json)", format)
	}
	return logging.NewLogger(&logging.LoggerConfig{
		Level:  level,
		Format: format,
		Output: os.Stderr,
	}), nil
}

func newPipeline(logger logging.Logger, opts ...pipeline.Option) *pipeline.Pipeline {
	return pipeline.New(loadConfig, append([]pipeline.Option{pipeline.WithLogger(logger)}, opts...)...)
}

func runGenerate(cmd *cobra.Command, _ []string) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}
	return newPipeline(logger).Run(commandContext(cmd))
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
