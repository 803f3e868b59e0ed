package cmd

import (
	"github.com/spf13/cobra"
)

// generateCmd represents the generate command.
var generateCmd = &cobra.Command{
	Use:     "generate",
	Aliases: []string{"gen", "g"},
	Short:   "Resolve every entry and render its templates once",
	Long: `Resolve the schema of every entry in pig.yaml, write the context snapshots,
move stale output to the trash and render all templates.

Examples:
  pig generate                     # Same as running pig without a command
  pig generate --config ci/pig.yaml
  pig generate --log-level debug   # Show every resolved reference`,
	Args: cobra.NoArgs,
	RunE: runGenerate,
}

func init() {
	rootCmd.AddCommand(generateCmd)
}
