package launchercli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the plugin protocol version and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprintf(cmd.OutOrStdout(), "launcher-plugin %d.%d.%d\n",
			pluginVersion.Major, pluginVersion.Minor, pluginVersion.Patch)
		return nil
	},
}
