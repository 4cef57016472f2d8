package main

import (
	"fmt"
	"strings"

	"github.com/brojonat/tokensync/service/app"
	"github.com/brojonat/tokensync/service/temporal"
	"github.com/urfave/cli/v2"
)

var temporalFlags = []cli.Flag{
	&cli.StringFlag{
		Name:    "temporal-host",
		Usage:   "Temporal server address",
		EnvVars: []string{"TEMPORAL_HOST"},
		Value:   "localhost:7233",
	},
	&cli.StringFlag{
		Name:    "temporal-namespace",
		Usage:   "Temporal namespace",
		EnvVars: []string{"TEMPORAL_NAMESPACE"},
		Value:   "default",
	},
	&cli.StringFlag{
		Name:    "task-queue",
		Usage:   "Temporal task queue the refresh worker listens on",
		EnvVars: []string{"TEMPORAL_TASK_QUEUE"},
		Value:   "tokensync-refresh",
	},
}

func refreshCommands() *cli.Command {
	return &cli.Command{
		Name:  "refresh",
		Usage: "Background cache refresh commands (Temporal)",
		Subcommands: []*cli.Command{
			refreshRunCommand(),
			refreshScheduleCommand(),
			refreshUnscheduleCommand(),
		},
	}
}

func getTemporalClient(c *cli.Context) (*temporal.Client, error) {
	return temporal.NewClient(
		c.String("temporal-host"),
		c.String("temporal-namespace"),
		c.String("task-queue"),
		app.SetupLogger(c.String("log-level")),
	)
}

func refreshRunCommand() *cli.Command {
	return &cli.Command{
		Name:      "run",
		Usage:     "Run a refresh now and wait for it to finish",
		ArgsUsage: "[TOKEN_ADDRESS...]",
		Flags:     append([]cli.Flag{forceFlag}, temporalFlags...),
		Action: func(c *cli.Context) error {
			tc, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer tc.Close()

			var addresses []string
			for _, a := range c.Args().Slice() {
				addresses = append(addresses, strings.ToLower(a))
			}

			result, err := tc.RunRefresh(c.Context, temporal.RefreshInput{
				Addresses: addresses,
				Force:     c.Bool("force"),
			})
			if err != nil {
				return err
			}

			if c.Bool("json") {
				return outputJSON(c.App.Writer, result)
			}
			fmt.Fprintf(c.App.Writer, "✓ Refreshed %d tokens\n", result.TokenCount)
			fmt.Fprintf(c.App.Writer, "  Balances refreshed: %d\n", result.BalancesRefreshed)
			fmt.Fprintf(c.App.Writer, "  Balances failed:    %d\n", result.BalancesFailed)
			return nil
		},
	}
}

func refreshScheduleCommand() *cli.Command {
	return &cli.Command{
		Name:  "schedule",
		Usage: "Create or update the refresh schedule",
		Flags: append([]cli.Flag{
			&cli.DurationFlag{
				Name:     "interval",
				Usage:    "Time between refreshes",
				EnvVars:  []string{"REFRESH_INTERVAL"},
				Required: true,
			},
		}, temporalFlags...),
		Action: func(c *cli.Context) error {
			tc, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer tc.Close()

			return upsertSchedule(c, tc)
		},
	}
}

func upsertSchedule(c *cli.Context, s temporal.Scheduler) error {
	interval := c.Duration("interval")
	if err := s.UpsertRefreshSchedule(c.Context, interval); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "✓ Refresh scheduled every %s\n", interval)
	return nil
}

func refreshUnscheduleCommand() *cli.Command {
	return &cli.Command{
		Name:  "unschedule",
		Usage: "Delete the refresh schedule",
		Flags: temporalFlags,
		Action: func(c *cli.Context) error {
			tc, err := getTemporalClient(c)
			if err != nil {
				return err
			}
			defer tc.Close()

			if err := tc.DeleteRefreshSchedule(c.Context); err != nil {
				return err
			}
			fmt.Fprintln(c.App.Writer, "✓ Refresh schedule deleted")
			return nil
		},
	}
}
