package main

import (
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli/v2"
)

var (
	// Version information (set via ldflags during build)
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "tokensync",
		Usage: "ERC-20 top token and wallet balance sync CLI",
		Description: `A command-line tool for the tokensync service.

Local commands talk to Ethplorer, Etherscan and the cache directly using the
same environment configuration as the server. Remote commands go through a
running server.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		Commands: []*cli.Command{
			tokensCommand(),
			balanceCommand(),
			searchCommand(),
			{
				Name:  "cache",
				Usage: "Cache management commands",
				Subcommands: []*cli.Command{
					cacheClearCommand(),
					cacheStatusCommand(),
				},
			},
			{
				Name:  "db",
				Usage: "Database commands",
				Subcommands: []*cli.Command{
					migrateCommand(),
				},
			},
			remoteCommands(),
			refreshCommands(),
			versionCommand(),
		},
		// Global flags available to all commands
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "server-url",
				Usage:   "Server URL for remote commands",
				EnvVars: []string{"TOKENSYNC_SERVER_URL"},
				Value:   "http://localhost:8080",
			},
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "Output in JSON format",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level for diagnostics on stderr",
				EnvVars: []string{"LOG_LEVEL"},
				Value:   "error",
			},
		},
	}
}

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Show version information",
		Action: func(c *cli.Context) error {
			fmt.Fprintf(c.App.Writer, "tokensync CLI\n")
			fmt.Fprintf(c.App.Writer, "  Version: %s\n", version)
			fmt.Fprintf(c.App.Writer, "  Commit:  %s\n", commit)
			fmt.Fprintf(c.App.Writer, "  Built:   %s\n", date)
			return nil
		},
	}
}
