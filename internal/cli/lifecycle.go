package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dbmigration/keeper/internal/supervisor"
)

const commandTimeout = 60 * time.Second

func newStartCommand() *cobra.Command {
	var flags clientFlags
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the supervised service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return lifecycleCommand(cmd, &flags, func(ctx context.Context, c lifecycleClient) (*supervisor.Snapshot, error) {
				return c.Start(ctx)
			})
		},
	}
	flags.register(cmd)
	return cmd
}

func newStopCommand() *cobra.Command {
	var flags clientFlags
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the supervised service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return lifecycleCommand(cmd, &flags, func(ctx context.Context, c lifecycleClient) (*supervisor.Snapshot, error) {
				return c.Stop(ctx)
			})
		},
	}
	flags.register(cmd)
	return cmd
}

func newRestartCommand() *cobra.Command {
	var flags clientFlags
	cmd := &cobra.Command{
		Use:   "restart",
		Short: "Restart the supervised service",
		RunE: func(cmd *cobra.Command, args []string) error {
			return lifecycleCommand(cmd, &flags, func(ctx context.Context, c lifecycleClient) (*supervisor.Snapshot, error) {
				return c.Restart(ctx)
			})
		},
	}
	flags.register(cmd)
	return cmd
}

func newStatusCommand() *cobra.Command {
	var (
		flags  clientFlags
		tail   int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the supervised service status",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flags.newClient()
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
			defer cancel()

			snap, err := c.Status(ctx, tail)
			if err != nil {
				return err
			}
			if asJSON {
				return printJSON(cmd, snap)
			}
			printSnapshot(cmd, snap)
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().IntVar(&tail, "tail", 10, "log lines to include")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw snapshot as JSON")
	return cmd
}

// lifecycleClient is the slice of the API client the commands use.
type lifecycleClient interface {
	Start(ctx context.Context) (*supervisor.Snapshot, error)
	Stop(ctx context.Context) (*supervisor.Snapshot, error)
	Restart(ctx context.Context) (*supervisor.Snapshot, error)
}

func lifecycleCommand(cmd *cobra.Command, flags *clientFlags,
	op func(context.Context, lifecycleClient) (*supervisor.Snapshot, error)) error {
	c, err := flags.newClient()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
	defer cancel()

	snap, err := op(ctx, c)
	if err != nil {
		return err
	}
	printSnapshot(cmd, snap)
	return nil
}

func printSnapshot(cmd *cobra.Command, snap *supervisor.Snapshot) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "State:    %s\n", snap.State)
	if snap.Reason != "" {
		fmt.Fprintf(out, "Reason:   %s\n", snap.Reason)
	}
	if snap.PID != 0 {
		fmt.Fprintf(out, "PID:      %d\n", snap.PID)
		fmt.Fprintf(out, "Uptime:   %s\n", time.Since(snap.StartedAt).Round(time.Second))
	}
	fmt.Fprintf(out, "Restarts: %d\n", snap.RestartCount)
	if len(snap.LogTail) > 0 {
		fmt.Fprintln(out, "\nRecent logs:")
		for _, line := range snap.LogTail {
			printLogLine(cmd, line.Time, line.Stream, line.Text)
		}
	}
}

func printLogLine(cmd *cobra.Command, t time.Time, stream, text string) {
	fmt.Fprintf(cmd.OutOrStdout(), "%s [%s] %s\n",
		t.Local().Format("15:04:05"), stream, text)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
