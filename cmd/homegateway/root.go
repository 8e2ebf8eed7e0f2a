package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// defaultConfigPath is used when neither --config nor HOMEGW_CONFIG is set.
const defaultConfigPath = "configs/config.yaml"

// options holds the persistent flags shared by every command.
type options struct {
	configPath string
}

// newRootCmd builds the command tree. Running the binary without a
// subcommand starts the gateway.
func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:   "homegateway",
		Short: "Home automation event gateway",
		Long: `homegateway ingests zigbee2mqtt device events and webhooks, keeps
per-device state in supervised actors and runs automation workflows.

Run without a command to start the gateway in the foreground.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), opts.configPath)
		},
	}

	root.PersistentFlags().StringVar(&opts.configPath, "config", configPathFromEnv(),
		"path to the configuration file (env HOMEGW_CONFIG)")

	root.AddCommand(
		newServeCmd(opts),
		newMigrateCmd(opts),
		newHashSecretCmd(),
		newTokenCmd(opts),
		newVersionCmd(),
	)
	return root
}

// configPathFromEnv returns HOMEGW_CONFIG if set, otherwise the default.
func configPathFromEnv() string {
	if path := os.Getenv("HOMEGW_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

func newServeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway in the foreground",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), opts.configPath)
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "homegateway %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}
