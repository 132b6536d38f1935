package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot(os.Stdout)
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// GlobalFlags holds persistent flags shared by every subcommand.
type GlobalFlags struct {
	ConfigPath string
}

func buildRoot(out io.Writer) *cobra.Command {
	globalFlags := &GlobalFlags{}
	apiFlags := &APIFlags{Global: globalFlags}
	cmd := command{out: out}

	root := createRootCommand(globalFlags)
	root.AddCommand(
		createServeCommand(globalFlags),
		createListCommand(cmd, apiFlags),
		createShowCommand(cmd, apiFlags),
		createAddCommand(cmd, apiFlags),
		createUpdateCommand(cmd, apiFlags),
		createDeleteCommand(cmd, apiFlags),
		createToggleCommand(cmd, apiFlags),
		createEnableCommand(cmd, apiFlags, true),
		createEnableCommand(cmd, apiFlags, false),
		createConnectCommand(cmd, apiFlags),
		createDisconnectCommand(cmd, apiFlags),
		createStatsCommand(cmd, apiFlags),
		createStatusCommand(cmd, apiFlags),
	)
	return root
}

func createRootCommand(flags *GlobalFlags) *cobra.Command {
	root := &cobra.Command{
		Use:   "tunnelctl",
		Short: "SSH tunnel supervisor",
		Long: `tunnelctl keeps SSH port-forwarding tunnels alive. The daemon spawns one
ssh process per enabled profile, confirms it, and reconnects with backoff
when the connection drops.

Examples:
  tunnelctl serve --config=tunnelctl.toml
  tunnelctl add --name=db --command="ssh -N -L 5432:localhost:5432 bastion"
  tunnelctl enable <id>
  tunnelctl status --watch`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file (optional)")
	return root
}
