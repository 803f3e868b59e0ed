package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Move generated files without a template to the trash",
	Long: `Compare every output directory with the templates of its entry and move each
file that no template produces to .pig.trash/<timestamp>/ next to pig.yaml.
Nothing is resolved or rendered. Context snapshots are always kept.

Examples:
  pig clean
  pig clean --config services/pig.yaml`,
	Args: cobra.NoArgs,
	RunE: runClean,
}

func init() {
	rootCmd.AddCommand(cleanCmd)
}

func runClean(cmd *cobra.Command, _ []string) error {
	logger, err := newLogger()
	if err != nil {
		return err
	}
	report, err := newPipeline(logger).Clean(commandContext(cmd))
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(report.Moved) == 0 {
		fmt.Fprintln(out, "Nothing to clean")
		return nil
	}
	for _, m := range report.Moved {
		fmt.Fprintf(out, "%s -> %s\n", m.From, m.To)
	}
	fmt.Fprintf(out, "Moved %d file(s) to %s\n", len(report.Moved), report.Trash)
	return nil
}
