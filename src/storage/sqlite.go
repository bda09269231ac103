package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	"market-platform/src/logger"

	_ "modernc.org/sqlite"
)

// SQLite batch constants
const (
	sqliteMaxVars = 32000
	busyTimeoutMs = 5000
)

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// -----------------------------------------------------------------------------

// SQLiteSink stores a feed's records in one SQLite file. The writer session
// runs WAL with synchronous=OFF on a single connection; the reader session
// is query-only.
type SQLiteSink struct {
	sqlSink
	Path string
}

// -----------------------------------------------------------------------------

// SQLitePath returns the database file of feed under dir. A dir ending in
// ".db" is used as-is.
func SQLitePath(dir, feed string) string {
	if filepath.Ext(dir) == ".db" {
		return dir
	}
	if dir == "" {
		dir = "data"
	}
	return filepath.Join(dir, unsafeName.ReplaceAllString(feed, "_")+".db")
}

// -----------------------------------------------------------------------------

func NewSQLiteSink(path string) *SQLiteSink {
	return &SQLiteSink{
		sqlSink: sqlSink{
			dialect: dialect{
				name:    "sqlite",
				bind:    func(int) string { return "?" },
				noLimit: "LIMIT -1",
				maxVars: sqliteMaxVars,
			},
			table:  "records",
			logger: logger.NewLogger(nil, "SQLiteSink"),
		},
		Path: path,
	}
}

// -----------------------------------------------------------------------------

// Initialize opens both sessions and creates the records table. Existing
// rows are kept so a restarted worker appends to the same stream.
func (d *SQLiteSink) Initialize(ctx context.Context) error {
	if dir := filepath.Dir(d.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("sqlite sink: %w", err)
		}
	}

	writer, err := d.open(ctx, "journal_mode(WAL)", "synchronous(OFF)")
	if err != nil {
		return err
	}
	writer.SetMaxOpenConns(1)
	d.writer = writer

	if err := d.createTable(ctx); err != nil {
		d.Close()
		return err
	}

	reader, err := d.open(ctx, "query_only(1)")
	if err != nil {
		d.Close()
		return err
	}
	d.reader = reader

	d.logger.Info("SQLite sink ready at %s", d.Path)
	return nil
}

// -----------------------------------------------------------------------------

func (d *SQLiteSink) open(ctx context.Context, pragmas ...string) (*sql.DB, error) {
	dsn := d.Path + "?_pragma=busy_timeout(" + strconv.Itoa(busyTimeoutMs) + ")"
	for _, p := range pragmas {
		dsn += "&_pragma=" + p
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite sink: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite sink: ping: %w", err)
	}
	return db, nil
}

// -----------------------------------------------------------------------------

func (d *SQLiteSink) createTable(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS records (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			message TEXT NOT NULL,
			symbol TEXT GENERATED ALWAYS AS (upper(json_extract(message, '$.symbol'))) VIRTUAL,
			date TEXT GENERATED ALWAYS AS (json_extract(message, '$.date')) VIRTUAL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_records_symbol ON records (symbol)`,
		`CREATE INDEX IF NOT EXISTS idx_records_date ON records (date)`,
	}
	for _, q := range stmts {
		if _, err := d.writer.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("sqlite sink: create records: %w", err)
		}
	}
	return nil
}
