// Package cmd implements the autoecho command line.
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/thegodfatherofaiautomation/autoecho-app/internal/server"
)

const defaultConfigPath = "autoecho.json"

var (
	version   = "dev"
	buildOpts []server.Option
)

// NewRootCmd creates the root cobra command. opts override server
// components and are meant for tests.
func NewRootCmd(v string, opts ...server.Option) *cobra.Command {
	version = v
	buildOpts = opts

	root := &cobra.Command{
		Use:   "autoecho",
		Short: "AutoEcho - tier-gated audio transcription",
		Long: "AutoEcho accepts meeting recordings, checks them against the caller's subscription tier, " +
			"transcribes them and returns a branded transcript document.",
		// Bare invocation behaves as "run".
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRun(cmd, args)
		},
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newRunCmd())
	root.AddCommand(newTranscribeCmd())
	root.AddCommand(newEntitlementsCmd())
	root.AddCommand(newAuditCmd())
	root.AddCommand(newInitCmd())
	root.AddCommand(newVersionCmd())

	root.PersistentFlags().StringP("config", "c", "", "path to config file")

	return root
}

// resolveConfigPath returns the config file path from (in priority order):
// 1. Positional argument
// 2. --config / -c flag
// 3. Default value
func resolveConfigPath(cmd *cobra.Command, args []string, defaultPath string) string {
	if len(args) > 0 {
		return args[0]
	}
	if f := cmd.Flag("config"); f != nil && f.Changed {
		return f.Value.String()
	}
	if f := cmd.Root().PersistentFlags().Lookup("config"); f != nil && f.Changed {
		return f.Value.String()
	}
	return defaultPath
}
