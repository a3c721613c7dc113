// Package launchercli implements the launcher-plugin binary's command
// surface (C18): the root command the launcher invokes directly with
// spec.md §6's flat flag set, plus two small operational subcommands.
// Grounded on the teacher's internal/rnx/cli root command (a cobra
// rootCmd with subcommands, Execute() as the sole entrypoint main calls).
package launchercli

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "launcher-plugin",
	Short: "RStudio Launcher plugin for local job execution through a sandbox helper",
	Long: `launcher-plugin implements the RStudio Launcher Plugin SDK's stdio
protocol for a local backend: jobs are launched through a configured
sandbox helper, tracked on disk, and streamed back to the launcher over
stdin/stdout.

The launcher invokes this binary directly with flags (see --help on no
subcommand); it does not invoke a subcommand. "version" and
"validate-config" are provided for operators, not the launcher itself.`,
	// The full flag set (--scratch-path, --log-level, ...) is defined and
	// parsed by pkg/config.Load, not cobra's own flag machinery, so the
	// launcher's exact invocation (flags with no subcommand) keeps working
	// unchanged.
	DisableFlagParsing: true,
	SilenceUsage:       true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(args)
	},
}

// Execute parses the command and runs it. It is the sole entrypoint
// cmd/launcher-plugin/main.go calls.
func Execute() error {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.AddCommand(versionCmd, validateConfigCmd)
	return rootCmd.Execute()
}
