package launchercli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jsturma/launcher-plugin/pkg/config"
)

var validateConfigCmd = &cobra.Command{
	Use:   "validate-config [flags]",
	Short: "Parse configuration and report whether it is valid, without starting the plugin",
	// Accepts the same flags as the launcher's real invocation so an
	// operator can copy the launcher's command line verbatim and swap
	// in this subcommand to sanity-check it.
	DisableFlagParsing: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(args)
		if err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "configuration valid: plugin=%s scratch-path=%s rsandbox-path=%s\n",
			cfg.PluginName, cfg.ScratchPath, cfg.RsandboxPath)
		return nil
	},
}
