// Package cli wires the keeper command tree: the serve daemon plus the
// operator commands that talk to its control API.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dbmigration/keeper/internal/client"
	"github.com/dbmigration/keeper/internal/config"
	"github.com/dbmigration/keeper/internal/version"
)

// NewRootCommand builds the keeper command tree.
func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "keeper",
		Short:         "Supervisor for the database migration analyzer",
		Long:          "keeper resolves deployment configuration, launches the migration analyzer, keeps it healthy, and exposes a control API for operators.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newStartCommand())
	rootCmd.AddCommand(newStopCommand())
	rootCmd.AddCommand(newRestartCommand())
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newLogsCommand())
	rootCmd.AddCommand(newConfigCommand())
	rootCmd.AddCommand(newVersionCommand())

	return rootCmd
}

// Execute runs the CLI and exits non-zero on error.
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newVersionCommand() *cobra.Command {
	var full bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print the keeper version",
		Run: func(cmd *cobra.Command, args []string) {
			if full {
				fmt.Fprintln(cmd.OutOrStdout(), version.GetFullVersion())
				return
			}
			fmt.Fprintln(cmd.OutOrStdout(), version.GetShortVersion())
		},
	}
	cmd.Flags().BoolVar(&full, "full", false, "include commit and build time")
	return cmd
}

// clientFlags are shared by the commands that talk to a running keeper.
type clientFlags struct {
	addr string
}

func (f *clientFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.addr, "addr", "",
		"control API address (default $KEEPER_CONTROL_ADDR or 127.0.0.1:8565)")
}

// newClient builds an API client from flags and the ambient environment.
func (f *clientFlags) newClient() (*client.Client, error) {
	addr := f.addr
	if addr == "" {
		addr = os.Getenv(config.KeyControlAddr)
	}
	if addr == "" {
		addr = "127.0.0.1:8565"
	}
	return client.New(client.Config{
		BaseURL:       "http://" + addr,
		AdminEmail:    os.Getenv(config.KeyAdminEmail),
		AdminPassword: os.Getenv(config.KeyAdminPassword),
		AdminKey:      os.Getenv(config.KeyAdminKey),
	})
}
