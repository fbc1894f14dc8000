package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dbmigration/keeper/internal/logbuf"
)

func newLogsCommand() *cobra.Command {
	var (
		flags  clientFlags
		tail   int
		follow bool
		from   string
		to     string
	)

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Show captured service output",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flags.newClient()
			if err != nil {
				return err
			}

			if follow {
				ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
				defer cancel()
				return c.FollowLogs(ctx, func(line logbuf.Line) {
					printLogLine(cmd, line.Time, line.Stream, line.Text)
				})
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), commandTimeout)
			defer cancel()

			var lines []logbuf.Line
			if from != "" {
				fromTime, err := time.Parse(time.RFC3339, from)
				if err != nil {
					return fmt.Errorf("--from must be RFC 3339: %w", err)
				}
				toTime := time.Time{}
				if to != "" {
					if toTime, err = time.Parse(time.RFC3339, to); err != nil {
						return fmt.Errorf("--to must be RFC 3339: %w", err)
					}
				}
				lines, err = c.LogsRange(ctx, fromTime, toTime)
				if err != nil {
					return err
				}
			} else {
				if lines, err = c.Logs(ctx, tail); err != nil {
					return err
				}
			}

			for _, line := range lines {
				printLogLine(cmd, line.Time, line.Stream, line.Text)
			}
			return nil
		},
	}

	flags.register(cmd)
	cmd.Flags().IntVar(&tail, "tail", 100, "number of recent lines")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "stream new lines until interrupted")
	cmd.Flags().StringVar(&from, "from", "", "range start (RFC 3339)")
	cmd.Flags().StringVar(&to, "to", "", "range end (RFC 3339, defaults to now)")
	return cmd
}
