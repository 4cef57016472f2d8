package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/brojonat/tokensync/client"
	"github.com/brojonat/tokensync/service/tokens"
	"github.com/urfave/cli/v2"
)

func remoteCommands() *cli.Command {
	return &cli.Command{
		Name:  "remote",
		Usage: "Commands that go through a running tokensync server",
		Subcommands: []*cli.Command{
			remoteTokensCommand(),
			remoteBalanceCommand(),
			remoteClearCommand(),
			remoteStatusCommand(),
			remoteEventsCommand(),
			healthCommand(),
		},
	}
}

func newRemoteClient(c *cli.Context) *client.Client {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError, // Only errors to stderr
	}))
	return client.NewClient(c.String("server-url"), nil, logger)
}

// printEvent writes one stream event. JSON output prints the raw event data,
// one per line.
func printEvent(c *cli.Context, e client.Event, render func(json.RawMessage) error) error {
	if c.Bool("json") {
		fmt.Fprintf(c.App.Writer, "{\"event\":%q,\"payload\":%s}\n", e.Type, e.Data)
		return nil
	}

	switch e.Type {
	case client.EventLoading:
		fmt.Fprintln(c.App.ErrWriter, "Loading...")
	case client.EventSuccess:
		p, err := e.Payload()
		if err != nil {
			return err
		}
		return render(p.Data)
	case client.EventError:
		p, err := e.Payload()
		if err != nil {
			return err
		}
		fmt.Fprintf(c.App.ErrWriter, "Error: %s\n", p.Message)
	}
	return nil
}

func remoteTokensCommand() *cli.Command {
	return &cli.Command{
		Name:  "tokens",
		Usage: "Stream the top token list from the server",
		Flags: []cli.Flag{forceFlag},
		Action: func(c *cli.Context) error {
			cl := newRemoteClient(c)
			ctx, cancel := signalContext(c.Context)
			defer cancel()

			var streamErr error
			err := cl.StreamTopTokens(ctx, c.Bool("force"), func(e client.Event) error {
				if e.Type == client.EventError {
					p, _ := e.Payload()
					streamErr = &client.StreamError{Message: p.Message, Code: p.Code}
				}
				return printEvent(c, e, func(data json.RawMessage) error {
					var list []tokens.Token
					if err := json.Unmarshal(data, &list); err != nil {
						return fmt.Errorf("failed to decode tokens: %w", err)
					}
					printTokens(c.App.Writer, list)
					return nil
				})
			})
			if err != nil {
				return err
			}
			return streamErr
		},
	}
}

func remoteBalanceCommand() *cli.Command {
	return &cli.Command{
		Name:      "balance",
		Usage:     "Stream the configured wallet's balance of one token from the server",
		ArgsUsage: "TOKEN_ADDRESS",
		Flags:     []cli.Flag{forceFlag},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("token address is required")
			}

			cl := newRemoteClient(c)
			ctx, cancel := signalContext(c.Context)
			defer cancel()

			var streamErr error
			err := cl.StreamBalance(ctx, c.Args().Get(0), c.Bool("force"), func(e client.Event) error {
				if e.Type == client.EventError {
					p, _ := e.Payload()
					streamErr = &client.StreamError{Message: p.Message, Code: p.Code}
				}
				return printEvent(c, e, func(data json.RawMessage) error {
					var raw string
					if err := json.Unmarshal(data, &raw); err != nil {
						return fmt.Errorf("failed to decode balance: %w", err)
					}
					fmt.Fprintln(c.App.Writer, raw)
					return nil
				})
			})
			if err != nil {
				return err
			}
			return streamErr
		},
	}
}

func remoteClearCommand() *cli.Command {
	return &cli.Command{
		Name:  "clear",
		Usage: "Clear the server's cache",
		Action: func(c *cli.Context) error {
			if err := newRemoteClient(c).ClearCache(c.Context); err != nil {
				return fmt.Errorf("failed to clear cache: %w", err)
			}
			fmt.Fprintln(c.App.Writer, "✓ Cache cleared")
			return nil
		},
	}
}

func remoteStatusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show what the server has cached",
		Action: func(c *cli.Context) error {
			status, err := newRemoteClient(c).CacheStatus(c.Context)
			if err != nil {
				return fmt.Errorf("failed to get cache status: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(c.App.Writer, status)
			}
			fmt.Fprintf(c.App.Writer, "Tokens cached: %d\n", status.TokenCount)
			if status.TokensCachedAt != nil {
				fmt.Fprintf(c.App.Writer, "Cached at:     %s\n", status.TokensCachedAt.Format(time.RFC3339))
			}
			return nil
		},
	}
}

func remoteEventsCommand() *cli.Command {
	return &cli.Command{
		Name:      "events",
		Usage:     "Follow refresh events published by the server (requires NATS)",
		ArgsUsage: "[TOKEN_ADDRESS]",
		Action: func(c *cli.Context) error {
			ctx, cancel := signalContext(c.Context)
			defer cancel()

			return newRemoteClient(c).StreamEvents(ctx, c.Args().Get(0), func(e client.Event) error {
				if c.Bool("json") {
					fmt.Fprintf(c.App.Writer, "%s\n", e.Data)
					return nil
				}
				fmt.Fprintf(c.App.Writer, "[%s] %s\n", e.Type, e.Data)
				return nil
			})
		},
	}
}

func healthCommand() *cli.Command {
	return &cli.Command{
		Name:  "health",
		Usage: "Check server health",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Request timeout",
				Value: 5 * time.Second,
			},
		},
		Action: func(c *cli.Context) error {
			serverURL := c.String("server-url")
			if serverURL == "" {
				return fmt.Errorf("server-url is required (set TOKENSYNC_SERVER_URL env var or use --server-url)")
			}

			httpClient := &http.Client{
				Timeout: c.Duration("timeout"),
			}

			resp, err := httpClient.Get(serverURL + "/health")
			if err != nil {
				return fmt.Errorf("health check failed: %w", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode == http.StatusOK {
				fmt.Fprintf(c.App.Writer, "✓ Server is healthy (status: %d)\n", resp.StatusCode)
				fmt.Fprintf(c.App.Writer, "  URL: %s\n", serverURL)
				return nil
			}

			return fmt.Errorf("server returned unhealthy status: %d", resp.StatusCode)
		},
	}
}
