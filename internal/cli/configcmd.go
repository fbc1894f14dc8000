package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dbmigration/keeper/internal/config"
	kerrors "github.com/dbmigration/keeper/internal/errors"
)

func newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the deployment configuration",
	}
	cmd.AddCommand(newConfigCheckCommand())
	cmd.AddCommand(newConfigShowCommand())
	return cmd
}

func loaderOptions(envFile, firebaseFile string) []config.LoaderOption {
	var opts []config.LoaderOption
	if envFile != "" {
		opts = append(opts, config.WithEnvFile(envFile))
	}
	if firebaseFile != "" {
		opts = append(opts, config.WithFirebaseFile(firebaseFile))
	}
	return opts
}

func newConfigCheckCommand() *cobra.Command {
	var envFile, firebaseFile string

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Verify the environment is complete",
		Long:  "Resolves configuration from the environment and prints what is configured. Exits non-zero when required keys are missing.",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			opts := loaderOptions(envFile, firebaseFile)

			status := config.Check(opts...)
			report := func(ok bool, label string) {
				mark := "MISSING"
				if ok {
					mark = "ok"
				}
				fmt.Fprintf(out, "  %-22s %s\n", label, mark)
			}
			fmt.Fprintln(out, "Configuration status:")
			report(status.AnthropicAPI, "Anthropic API")
			report(status.Admin, "Admin credentials")
			report(status.Firebase, "Firebase (optional)")
			report(status.AWSRegion, "AWS region")

			resolved, err := config.Load(opts...)
			if err != nil {
				if keys := kerrors.MissingKeys(err); keys != nil {
					fmt.Fprintln(out, "\nMissing required keys:")
					for _, key := range keys {
						fmt.Fprintf(out, "  %s\n", key)
					}
				}
				return err
			}

			if envPath := resolved.EnvFile(); envPath != "" {
				fmt.Fprintf(out, "\nLoaded from %s\n", envPath)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&envFile, "env-file", "", "explicit .env file")
	cmd.Flags().StringVar(&firebaseFile, "firebase-config", "", "explicit firebase-config.json file")
	return cmd
}

func newConfigShowCommand() *cobra.Command {
	var (
		envFile      string
		firebaseFile string
		asJSON       bool
	)

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			resolved, err := config.Load(loaderOptions(envFile, firebaseFile)...)
			if err != nil {
				return err
			}

			if asJSON {
				return printJSON(cmd, map[string]any{
					"env_file": resolved.EnvFile(),
					"values":   resolved.RedactedValues(),
				})
			}

			out := cmd.OutOrStdout()
			if envPath := resolved.EnvFile(); envPath != "" {
				fmt.Fprintf(out, "# loaded from %s\n", envPath)
			}
			redacted := resolved.RedactedValues()
			for _, key := range resolved.Keys() {
				fmt.Fprintf(out, "%s=%s\n", key, redacted[key])
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&envFile, "env-file", "", "explicit .env file")
	cmd.Flags().StringVar(&firebaseFile, "firebase-config", "", "explicit firebase-config.json file")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}
