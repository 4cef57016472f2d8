package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/brojonat/tokensync/service/app"
	"github.com/brojonat/tokensync/service/config"
	"github.com/brojonat/tokensync/service/ethaddr"
	"github.com/brojonat/tokensync/service/orchestrator"
	"github.com/brojonat/tokensync/service/outcome"
	"github.com/brojonat/tokensync/service/tokens"
	"github.com/urfave/cli/v2"
)

var forceFlag = &cli.BoolFlag{
	Name:    "force",
	Aliases: []string{"f"},
	Usage:   "Skip the cache and always report upstream failures",
}

// local holds what a local command needs.
type local struct {
	cfg    *config.Config
	deps   *app.Deps
	logger *slog.Logger
}

func newLocal(c *cli.Context) (*local, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	logger := app.SetupLogger(c.String("log-level"))
	deps, err := app.Build(c.Context, cfg, nil, logger, false)
	if err != nil {
		return nil, err
	}
	return &local{cfg: cfg, deps: deps, logger: logger}, nil
}

func (l *local) Close() {
	l.deps.Close()
}

// signalContext cancels on interrupt.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// drain collects a stream, reporting progress on stderr. It returns the last
// success seen and the terminal error, if any.
func drain[T any](ch <-chan outcome.Outcome[T], progress func(outcome.Outcome[T])) (T, bool, error) {
	var value T
	var have bool
	var err error
	for o := range ch {
		if progress != nil {
			progress(o)
		}
		o.OnSuccess(func(v T) {
			value, have, err = v, true, nil
		}).OnError(func(info *outcome.ErrorInfo) {
			err = info
		})
	}
	return value, have, err
}

func tokensCommand() *cli.Command {
	return &cli.Command{
		Name:  "tokens",
		Usage: "Fetch the top token list",
		Flags: []cli.Flag{
			forceFlag,
			&cli.StringSliceFlag{
				Name:  "jq",
				Usage: "Only show tokens for which this jq expression is truthy (repeatable)",
			},
		},
		Action: func(c *cli.Context) error {
			codes, err := compileFilters(c.StringSlice("jq"))
			if err != nil {
				return err
			}

			l, err := newLocal(c)
			if err != nil {
				return err
			}
			defer l.Close()

			ctx, cancel := signalContext(c.Context)
			defer cancel()

			progress := func(o outcome.Outcome[[]tokens.Token]) {
				if c.Bool("json") {
					return
				}
				o.OnLoading(func() {
					fmt.Fprintln(c.App.ErrWriter, "Fetching top tokens...")
				}).OnSuccess(func(list []tokens.Token) {
					fmt.Fprintf(c.App.ErrWriter, "Received %d tokens\n", len(list))
				})
			}

			list, have, fetchErr := drain(l.deps.Service.GetTopTokens(ctx, c.Bool("force")), progress)
			if !have {
				if fetchErr != nil {
					return fmt.Errorf("failed to fetch tokens: %w", fetchErr)
				}
				return ctx.Err()
			}
			if fetchErr != nil {
				fmt.Fprintf(c.App.ErrWriter, "Refresh failed, showing cached list: %v\n", fetchErr)
			}

			list, err = filterTokens(list, codes)
			if err != nil {
				return err
			}

			if c.Bool("json") {
				if err := outputJSON(c.App.Writer, list); err != nil {
					return err
				}
				return fetchErr
			}
			printTokens(c.App.Writer, list)
			return fetchErr
		},
	}
}

func balanceCommand() *cli.Command {
	return &cli.Command{
		Name:      "balance",
		Usage:     "Fetch the configured wallet's balance of one token",
		ArgsUsage: "TOKEN_ADDRESS",
		Flags: []cli.Flag{
			forceFlag,
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 {
				return fmt.Errorf("token address is required")
			}
			address := c.Args().Get(0)
			if !ethaddr.IsHexAddress(address) {
				return fmt.Errorf("invalid token address %q", address)
			}
			address = strings.ToLower(address)

			l, err := newLocal(c)
			if err != nil {
				return err
			}
			defer l.Close()

			ctx, cancel := signalContext(c.Context)
			defer cancel()

			raw, have, fetchErr := drain(l.deps.Service.GetTokenBalance(ctx, address, c.Bool("force")), nil)
			if !have {
				if fetchErr != nil {
					return fmt.Errorf("failed to fetch balance: %w", fetchErr)
				}
				return ctx.Err()
			}

			// Decimals come from the cached list when the token is in it
			formatted := raw
			if list, err := l.deps.Cache.ListTokens(ctx); err == nil {
				for _, t := range list {
					if t.Address == address {
						formatted = tokens.FormatBalance(raw, t.Decimals)
						break
					}
				}
			}

			if c.Bool("json") {
				if err := outputJSON(c.App.Writer, map[string]string{
					"token_address": address,
					"wallet":        l.cfg.WalletAddress,
					"raw":           raw,
					"balance":       formatted,
				}); err != nil {
					return err
				}
				return fetchErr
			}
			fmt.Fprintf(c.App.Writer, "%s\n", formatted)
			return fetchErr
		},
	}
}

func searchCommand() *cli.Command {
	return &cli.Command{
		Name:      "search",
		Usage:     "Search the token list by name or symbol and fetch the matching balances",
		ArgsUsage: "QUERY",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "How long to wait for the list and balances",
				Value: time.Minute,
			},
		},
		Action: func(c *cli.Context) error {
			query := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
			if query == "" {
				return fmt.Errorf("search query is required")
			}

			l, err := newLocal(c)
			if err != nil {
				return err
			}
			defer l.Close()

			ctx, cancel := signalContext(c.Context)
			defer cancel()
			ctx, cancelTimeout := context.WithTimeout(ctx, c.Duration("timeout"))
			defer cancelTimeout()

			o := orchestrator.New(l.deps.Service,
				orchestrator.WithDebounce(l.cfg.SearchDebounce),
				orchestrator.WithLogger(l.logger),
			)
			defer o.Close()

			views, err := runSearch(ctx, o, query)
			if err != nil {
				return err
			}

			if c.Bool("json") {
				return outputJSON(c.App.Writer, toViewJSON(views))
			}
			if len(views) == 0 {
				fmt.Fprintf(c.App.ErrWriter, "No tokens match %q\n", query)
				return nil
			}
			printViews(c.App.Writer, views)
			return nil
		},
	}
}

// runSearch loads the list, settles query and waits until every matching
// balance has resolved.
func runSearch(ctx context.Context, o *orchestrator.Orchestrator, query string) ([]orchestrator.TokenView, error) {
	states, unsubscribe := o.Subscribe()
	defer unsubscribe()

	o.Start(ctx)

	searched := false
	for {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("search did not finish: %w", ctx.Err())
		case s, ok := <-states:
			if !ok {
				return nil, errors.New("search stopped")
			}

			switch s.Status {
			case orchestrator.NotLoaded, orchestrator.Loading:
				continue
			case orchestrator.LoadedWithError:
				if s.ErrorDisplay() == orchestrator.ErrorFullScreen {
					return nil, fmt.Errorf("failed to load tokens: %s", s.Error)
				}
			}

			if !searched {
				o.SetSearchText(query)
				searched = true
				continue
			}
			if s.SettledQuery != query {
				continue
			}

			displayed := s.DisplayedTokens()
			if allResolved(displayed) {
				return displayed, nil
			}
		}
	}
}

func allResolved(views []orchestrator.TokenView) bool {
	for _, v := range views {
		if v.Balance.IsLoading() {
			return false
		}
	}
	return true
}

func cacheClearCommand() *cli.Command {
	return &cli.Command{
		Name:  "clear",
		Usage: "Remove every cached token and balance",
		Action: func(c *cli.Context) error {
			l, err := newLocal(c)
			if err != nil {
				return err
			}
			defer l.Close()

			if err := l.deps.Service.ClearCache(c.Context); err != nil {
				return fmt.Errorf("failed to clear cache: %w", err)
			}
			fmt.Fprintln(c.App.Writer, "✓ Cache cleared")
			return nil
		},
	}
}

func cacheStatusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show what is cached",
		Action: func(c *cli.Context) error {
			l, err := newLocal(c)
			if err != nil {
				return err
			}
			defer l.Close()

			list, err := l.deps.Cache.ListTokens(c.Context)
			if err != nil {
				return fmt.Errorf("failed to list cached tokens: %w", err)
			}
			cachedAt, err := l.deps.Cache.TokensCachedAt(c.Context)
			if err != nil {
				return fmt.Errorf("failed to read cache timestamp: %w", err)
			}

			if c.Bool("json") {
				status := map[string]interface{}{"token_count": len(list)}
				if !cachedAt.IsZero() {
					status["tokens_cached_at"] = cachedAt
				}
				return outputJSON(c.App.Writer, status)
			}

			fmt.Fprintf(c.App.Writer, "Tokens cached: %d\n", len(list))
			if !cachedAt.IsZero() {
				fmt.Fprintf(c.App.Writer, "Cached at:     %s\n", cachedAt.Format(time.RFC3339))
			}
			return nil
		},
	}
}

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Create the cache tables",
		Action: func(c *cli.Context) error {
			l, err := newLocal(c)
			if err != nil {
				return err
			}
			defer l.Close()

			if l.deps.Store == nil {
				return fmt.Errorf("database-url is required (set DATABASE_URL env var)")
			}
			if err := l.deps.Store.Migrate(c.Context); err != nil {
				return fmt.Errorf("failed to migrate database: %w", err)
			}
			fmt.Fprintln(c.App.Writer, "✓ Database migrated")
			return nil
		},
	}
}
