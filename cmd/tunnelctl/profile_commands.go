package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/tunnelctl/internal/profile"
	"github.com/loykin/tunnelctl/pkg/client"
)

func addAPIFlags(cmd *cobra.Command, f *APIFlags) {
	cmd.Flags().StringVar(&f.APIUrl, "api-url", "", "daemon API URL (e.g. http://host:7070/api)")
	cmd.Flags().DurationVar(&f.APITimeout, "api-timeout", 10*time.Second, "request timeout")
}

// run resolves the client, checks the daemon is up, and calls fn.
func run(cmd *cobra.Command, f *APIFlags, fn func(ctx context.Context, cl *client.Client) error) error {
	cl, err := apiClient(f)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	if err := connected(ctx, cl); err != nil {
		return err
	}
	return fn(ctx, cl)
}

func createListCommand(c command, f *APIFlags) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List tunnel profiles",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, f, func(ctx context.Context, cl *client.Client) error {
				return c.List(ctx, cl, asJSON)
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	addAPIFlags(cmd, f)
	return cmd
}

func createShowCommand(c command, f *APIFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, f, func(ctx context.Context, cl *client.Client) error {
				return c.Show(ctx, cl, args[0])
			})
		},
	}
	addAPIFlags(cmd, f)
	return cmd
}

func createAddCommand(c command, f *APIFlags) *cobra.Command {
	af := &AddFlags{}
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a tunnel profile",
		Long: `Add a tunnel profile. New profiles start disabled; enable one to connect it.

Examples:
  tunnelctl add --name=db --command="ssh -N -L 5432:localhost:5432 bastion"
  tunnelctl add --command="ssh -N -D 1080 proxy" --max-reconnect-attempts=10`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, f, func(ctx context.Context, cl *client.Client) error {
				return c.Add(ctx, cl, *af)
			})
		},
	}
	cmd.Flags().StringVar(&af.Name, "name", "", "display name")
	cmd.Flags().StringVar(&af.Command, "command", "", "ssh command line (required)")
	cmd.Flags().BoolVar(&af.KeepAlive, "keep-alive", true, "inject ServerAlive options")
	cmd.Flags().IntVar(&af.KeepAliveInterval, "keep-alive-interval", profile.DefaultKeepAliveInterval, "keepalive probe interval in seconds")
	cmd.Flags().BoolVar(&af.AutoReconnect, "auto-reconnect", true, "reconnect after unexpected exits")
	cmd.Flags().IntVar(&af.MaxReconnectAttempts, "max-reconnect-attempts", profile.DefaultMaxReconnectAttempts, "reconnect attempts before giving up")
	if err := cmd.MarkFlagRequired("command"); err != nil {
		panic(err)
	}
	addAPIFlags(cmd, f)
	return cmd
}

func createUpdateCommand(c command, f *APIFlags) *cobra.Command {
	var (
		name, cmdLine                  string
		keepAlive, autoReconnect       bool
		keepAliveInterval, maxAttempts int
	)
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Change fields of a profile",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			uf := UpdateFlags{}
			fl := cmd.Flags()
			if fl.Changed("name") {
				uf.Name = &name
			}
			if fl.Changed("command") {
				uf.Command = &cmdLine
			}
			if fl.Changed("keep-alive") {
				uf.KeepAlive = &keepAlive
			}
			if fl.Changed("keep-alive-interval") {
				uf.KeepAliveInterval = &keepAliveInterval
			}
			if fl.Changed("auto-reconnect") {
				uf.AutoReconnect = &autoReconnect
			}
			if fl.Changed("max-reconnect-attempts") {
				uf.MaxReconnectAttempts = &maxAttempts
			}
			return run(cmd, f, func(ctx context.Context, cl *client.Client) error {
				return c.Update(ctx, cl, args[0], uf)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&cmdLine, "command", "", "ssh command line")
	cmd.Flags().BoolVar(&keepAlive, "keep-alive", true, "inject ServerAlive options")
	cmd.Flags().IntVar(&keepAliveInterval, "keep-alive-interval", 0, "keepalive probe interval in seconds")
	cmd.Flags().BoolVar(&autoReconnect, "auto-reconnect", true, "reconnect after unexpected exits")
	cmd.Flags().IntVar(&maxAttempts, "max-reconnect-attempts", 0, "reconnect attempts before giving up")
	addAPIFlags(cmd, f)
	return cmd
}

func createDeleteCommand(c command, f *APIFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "delete <id>",
		Aliases: []string{"rm"},
		Short:   "Delete a profile, disconnecting it first",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, f, func(ctx context.Context, cl *client.Client) error {
				return c.Do(ctx, args[0], "deleted", cl.DeleteProfile)
			})
		},
	}
	addAPIFlags(cmd, f)
	return cmd
}

func createToggleCommand(c command, f *APIFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "toggle <id>",
		Short: "Flip a profile between enabled and disabled",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, f, func(ctx context.Context, cl *client.Client) error {
				return c.Do(ctx, args[0], "toggled", cl.ToggleProfile)
			})
		},
	}
	addAPIFlags(cmd, f)
	return cmd
}

func createEnableCommand(c command, f *APIFlags, enable bool) *cobra.Command {
	use, short := "enable <id>", "Enable a profile and connect it"
	if !enable {
		use, short = "disable <id>", "Disable a profile and disconnect it"
	}
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, f, func(ctx context.Context, cl *client.Client) error {
				return c.SetEnabled(ctx, cl, args[0], enable)
			})
		},
	}
	addAPIFlags(cmd, f)
	return cmd
}

func createConnectCommand(c command, f *APIFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "connect <id>",
		Short: "Spawn the tunnel now without changing its enabled flag",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, f, func(ctx context.Context, cl *client.Client) error {
				return c.Do(ctx, args[0], "connecting", cl.Connect)
			})
		},
	}
	addAPIFlags(cmd, f)
	return cmd
}

func createDisconnectCommand(c command, f *APIFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "disconnect <id>",
		Short: "Stop the tunnel and cancel any pending reconnect",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, f, func(ctx context.Context, cl *client.Client) error {
				return c.Do(ctx, args[0], "disconnected", cl.Disconnect)
			})
		},
	}
	addAPIFlags(cmd, f)
	return cmd
}

func createStatsCommand(c command, f *APIFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats <id>",
		Short: "Show resource usage of a profile's ssh process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, f, func(ctx context.Context, cl *client.Client) error {
				return c.Stats(ctx, cl, args[0])
			})
		},
	}
	addAPIFlags(cmd, f)
	return cmd
}

func createStatusCommand(c command, f *APIFlags) *cobra.Command {
	sf := &StatusFlags{}
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show how many enabled tunnels are connected",
		Long: `Show the aggregate connection status. With --watch, print every change
until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			parent := cmd.Context()
			if parent == nil {
				parent = context.Background()
			}
			ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
			defer stop()
			cmd.SetContext(ctx)
			return run(cmd, f, func(ctx context.Context, cl *client.Client) error {
				return c.Status(ctx, cl, *sf)
			})
		},
	}
	cmd.Flags().BoolVarP(&sf.Watch, "watch", "w", false, "stream status changes")
	addAPIFlags(cmd, f)
	return cmd
}
