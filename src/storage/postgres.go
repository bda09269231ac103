package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"market-platform/src/logger"

	_ "github.com/lib/pq"
)

// Postgres allows 65535 bind parameters per statement.
const postgresMaxVars = 60000

// -----------------------------------------------------------------------------

// PostgresSink stores a feed's records in "<schema>".records. The reader
// session opens every transaction read-only.
type PostgresSink struct {
	sqlSink
	DSN    string
	Schema string
}

// -----------------------------------------------------------------------------

// NewPostgresSink places the feed in a schema named after it; an empty feed
// name falls back to the executable name.
func NewPostgresSink(dsn, feed string) *PostgresSink {
	schema := feed
	if schema == "" {
		if exe, err := os.Executable(); err == nil {
			schema = strings.TrimSuffix(filepath.Base(exe), filepath.Ext(exe))
		}
	}
	schema = strings.ToLower(unsafeName.ReplaceAllString(schema, "_"))

	return &PostgresSink{
		sqlSink: sqlSink{
			dialect: dialect{
				name:    "postgres",
				bind:    func(n int) string { return "$" + strconv.Itoa(n) },
				noLimit: "LIMIT ALL",
				maxVars: postgresMaxVars,
			},
			table:  fmt.Sprintf(`"%s"."records"`, schema),
			logger: logger.NewLogger(nil, "PostgresSink"),
		},
		DSN:    dsn,
		Schema: schema,
	}
}

// -----------------------------------------------------------------------------

func (d *PostgresSink) Initialize(ctx context.Context) error {
	writer, err := d.open(ctx, d.DSN)
	if err != nil {
		return err
	}
	d.writer = writer

	if err := d.createTable(ctx); err != nil {
		d.Close()
		return err
	}

	reader, err := d.open(ctx, withRuntimeParam(d.DSN, "default_transaction_read_only", "on"))
	if err != nil {
		d.Close()
		return err
	}
	d.reader = reader

	d.logger.Info("PostgresSink initialized successfully (Schema: %s)", d.Schema)
	return nil
}

// -----------------------------------------------------------------------------

func (d *PostgresSink) open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres sink: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("postgres sink: ping: %w", err)
	}
	return db, nil
}

// -----------------------------------------------------------------------------

func (d *PostgresSink) createTable(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS "%s"`, d.Schema),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id BIGSERIAL PRIMARY KEY,
			message JSONB NOT NULL,
			symbol TEXT GENERATED ALWAYS AS (upper(message->>'symbol')) STORED,
			date TEXT GENERATED ALWAYS AS (message->>'date') STORED
		)`, d.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS records_symbol_idx ON %s (symbol)`, d.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS records_date_idx ON %s (date)`, d.table),
	}
	for _, q := range stmts {
		if _, err := d.writer.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("postgres sink: create records: %w", err)
		}
	}
	return nil
}

// -----------------------------------------------------------------------------

// withRuntimeParam adds a server runtime parameter to a URL or key=value DSN.
func withRuntimeParam(dsn, key, value string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		return dsn + sep + key + "=" + value
	}
	return strings.TrimSpace(dsn + " " + key + "=" + value)
}
