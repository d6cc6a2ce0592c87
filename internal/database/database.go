package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"

	"pricepath/pkg/types"
)

// Config holds database configuration.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// DB wraps the database connection pool.
type DB struct {
	pool *pgxpool.Pool
}

// New creates a new database connection pool.
func New(cfg Config) (*DB, error) {
	connStr := fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.DBName, cfg.SSLMode,
	)

	config, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}

	config.MaxConns = 25
	config.MinConns = 5
	config.MaxConnLifetime = 5 * time.Minute

	pool, err := pgxpool.ConnectConfig(context.Background(), config)
	if err != nil {
		return nil, fmt.Errorf("error connecting to the database: %w", err)
	}

	return &DB{pool: pool}, nil
}

// Close closes the database connection pool.
func (db *DB) Close() {
	if db.pool != nil {
		db.pool.Close()
	}
}

// UpsertToken stores a token's static metadata.
func (db *DB) UpsertToken(ctx context.Context, meta types.TokenMetadata) error {
	query := `
		INSERT INTO tokens (id, name, symbol, decimals)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET name = $2, symbol = $3, decimals = $4, updated_at = NOW()
	`

	_, err := db.pool.Exec(ctx, query, string(meta.ID), meta.Name, meta.Symbol, int(meta.Decimals))
	if err != nil {
		return fmt.Errorf("error upserting token: %w", err)
	}

	return nil
}

// UpsertPrice stores the latest USD quote for a token.
func (db *DB) UpsertPrice(ctx context.Context, quote types.Quote) error {
	path := make([]string, len(quote.Path))
	for i, token := range quote.Path {
		path[i] = string(token)
	}

	query := `
		INSERT INTO token_prices (token_id, price_usd, path)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_id) DO UPDATE
		SET price_usd = $2, path = $3, updated_at = NOW()
	`

	_, err := db.pool.Exec(ctx, query, string(quote.Token), quote.Price.String(), path)
	if err != nil {
		return fmt.Errorf("error upserting price: %w", err)
	}

	return nil
}

// TokenRow is one row of the token listing, joined with the latest
// stored price when one exists.
type TokenRow struct {
	ID        string
	Name      string
	Symbol    string
	Decimals  int
	PriceUSD  sql.NullString
	UpdatedAt time.Time
}

// ListTokens returns every known token with its latest stored price.
func (db *DB) ListTokens(ctx context.Context) ([]TokenRow, error) {
	query := `
		SELECT t.id, t.name, t.symbol, t.decimals, p.price_usd, t.updated_at
		FROM tokens t
		LEFT JOIN token_prices p ON p.token_id = t.id
		ORDER BY t.symbol
	`

	rows, err := db.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("error listing tokens: %w", err)
	}
	defer rows.Close()

	var tokens []TokenRow
	for rows.Next() {
		var row TokenRow
		if err := rows.Scan(&row.ID, &row.Name, &row.Symbol, &row.Decimals, &row.PriceUSD, &row.UpdatedAt); err != nil {
			return nil, fmt.Errorf("error scanning token row: %w", err)
		}
		tokens = append(tokens, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating token rows: %w", err)
	}

	return tokens, nil
}
