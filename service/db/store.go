package db

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/brojonat/tokensync/service/tokens"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store is the PostgreSQL implementation of tokens.Cache.
type Store struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewStore creates a new Store with the given database connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{
		pool: pool,
		now:  time.Now,
	}
}

// Connect opens a pool for databaseURL and verifies it with a ping.
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create database pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return pool, nil
}

// Migrate applies the embedded SQL files in lexical order. Every file is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	entries, err := fs.ReadDir(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to read embedded migrations: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)

	for _, file := range files {
		data, err := fs.ReadFile(migrationsFS, "migrations/"+file)
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", file, err)
		}
		if _, err := s.pool.Exec(ctx, string(data)); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", file, err)
		}
	}
	return nil
}

const listTokensSQL = `
SELECT address, name, symbol, decimals, image,
       price_rate, price_currency, price_diff, price_market_cap, price_volume_24h,
       holders_count, total_supply
FROM tokens
ORDER BY position ASC`

// ListTokens returns the cached list ordered by position.
func (s *Store) ListTokens(ctx context.Context) ([]tokens.Token, error) {
	rows, err := s.pool.Query(ctx, listTokensSQL)
	if err != nil {
		return nil, fmt.Errorf("failed to list tokens: %w", err)
	}
	defer rows.Close()

	var out []tokens.Token
	for rows.Next() {
		var (
			t                        tokens.Token
			rate, diff, mcap, volume *float64
			currency                 *string
		)
		if err := rows.Scan(
			&t.Address, &t.Name, &t.Symbol, &t.Decimals, &t.Image,
			&rate, &currency, &diff, &mcap, &volume,
			&t.HoldersCount, &t.TotalSupply,
		); err != nil {
			return nil, fmt.Errorf("failed to scan token: %w", err)
		}
		// A stored price is only meaningful with both rate and currency.
		if rate != nil && currency != nil {
			t.Price = &tokens.Price{
				Rate:         *rate,
				Currency:     *currency,
				Diff:         diff,
				MarketCapUSD: mcap,
				Volume24h:    volume,
			}
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate tokens: %w", err)
	}
	return out, nil
}

var tokenColumns = []string{
	"address", "name", "symbol", "decimals", "image",
	"price_rate", "price_currency", "price_diff", "price_market_cap", "price_volume_24h",
	"holders_count", "total_supply", "position", "cached_at",
}

// ReplaceTokens swaps the cached list for list inside one transaction.
func (s *Store) ReplaceTokens(ctx context.Context, list []tokens.Token) error {
	now := s.now().UTC()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "DELETE FROM tokens"); err != nil {
		return fmt.Errorf("failed to delete tokens: %w", err)
	}

	_, err = tx.CopyFrom(ctx, pgx.Identifier{"tokens"}, tokenColumns,
		pgx.CopyFromSlice(len(list), func(i int) ([]any, error) {
			t := list[i]
			var (
				rate, diff, mcap, volume *float64
				currency                 *string
			)
			if p := t.Price; p != nil {
				rate, currency = &p.Rate, &p.Currency
				diff, mcap, volume = p.Diff, p.MarketCapUSD, p.Volume24h
			}
			return []any{
				t.Address, t.Name, t.Symbol, int32(t.Decimals), t.Image,
				rate, currency, diff, mcap, volume,
				t.HoldersCount, t.TotalSupply, int32(i), now,
			}, nil
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to insert tokens: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit tokens: %w", err)
	}
	return nil
}

// TokensCachedAt returns the newest cached_at of the token list, or the zero time.
func (s *Store) TokensCachedAt(ctx context.Context) (time.Time, error) {
	var ts *time.Time
	if err := s.pool.QueryRow(ctx, "SELECT MAX(cached_at) FROM tokens").Scan(&ts); err != nil {
		return time.Time{}, fmt.Errorf("failed to read tokens timestamp: %w", err)
	}
	if ts == nil {
		return time.Time{}, nil
	}
	return *ts, nil
}

// GetBalance returns the cached balance for tokenAddress, or tokens.ErrNotFound.
func (s *Store) GetBalance(ctx context.Context, tokenAddress string) (*tokens.Balance, error) {
	b := tokens.Balance{TokenAddress: tokenAddress}
	err := s.pool.QueryRow(ctx,
		"SELECT balance, cached_at FROM token_balances WHERE token_address = $1",
		tokenAddress,
	).Scan(&b.Raw, &b.CachedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, tokens.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get balance: %w", err)
	}
	return &b, nil
}

// UpsertBalance stores b, replacing any balance for the same token.
func (s *Store) UpsertBalance(ctx context.Context, b tokens.Balance) error {
	if b.CachedAt.IsZero() {
		b.CachedAt = s.now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO token_balances (token_address, balance, cached_at)
VALUES ($1, $2, $3)
ON CONFLICT (token_address) DO UPDATE
SET balance = EXCLUDED.balance, cached_at = EXCLUDED.cached_at`,
		b.TokenAddress, b.Raw, b.CachedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert balance: %w", err)
	}
	return nil
}

// Clear removes every cached token and balance in one transaction.
func (s *Store) Clear(ctx context.Context) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "DELETE FROM tokens"); err != nil {
		return fmt.Errorf("failed to clear tokens: %w", err)
	}
	if _, err := tx.Exec(ctx, "DELETE FROM token_balances"); err != nil {
		return fmt.Errorf("failed to clear balances: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit clear: %w", err)
	}
	return nil
}

var _ tokens.Cache = (*Store)(nil)
