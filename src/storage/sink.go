package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"market-platform/src/interfaces"
	"market-platform/src/logger"
	"market-platform/src/models"
)

// dialect is the SQL that differs between the sink backends.
type dialect struct {
	name string
	// bind returns the placeholder of the n-th (1-based) argument.
	bind func(n int) string
	// noLimit is the LIMIT clause meaning "all rows".
	noLimit string
	// maxVars bounds the placeholders of one multi-row insert.
	maxVars int
}

// sqlSink is the backend-neutral part of a records table: one writer
// session, one read-only session.
type sqlSink struct {
	dialect dialect
	table   string
	writer  *sql.DB
	reader  *sql.DB
	logger  *logger.Logger
}

// -----------------------------------------------------------------------------

// NewSink returns the sink configured by cfg for the named feed.
func NewSink(cfg models.MWebsocketConfig, feed string) (interfaces.ISink, error) {
	switch strings.ToLower(cfg.DBType) {
	case "", "sqlite":
		return NewSQLiteSink(SQLitePath(cfg.DBPath, feed)), nil
	case "postgres", "postgresql":
		if cfg.DBConnectionString == "" {
			return nil, fmt.Errorf("postgres sink for %q: db_connection_string is required", feed)
		}
		return NewPostgresSink(cfg.DBConnectionString, feed), nil
	default:
		return nil, fmt.Errorf("unknown sink type %q", cfg.DBType)
	}
}

// -----------------------------------------------------------------------------

// WriteBatch appends messages in order inside one transaction. The
// transaction is detached from ctx cancellation once started.
func (s *sqlSink) WriteBatch(ctx context.Context, messages [][]byte) (int, error) {
	if len(messages) == 0 {
		return 0, nil
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	txCtx := context.WithoutCancel(ctx)

	tx, err := s.writer.BeginTx(txCtx, nil)
	if err != nil {
		return 0, fmt.Errorf("%s sink: begin: %w", s.dialect.name, err)
	}
	defer tx.Rollback()

	for start := 0; start < len(messages); start += s.dialect.maxVars {
		end := min(start+s.dialect.maxVars, len(messages))
		chunk := messages[start:end]

		var b strings.Builder
		fmt.Fprintf(&b, "INSERT INTO %s (message) VALUES ", s.table)
		args := make([]any, len(chunk))
		for i, m := range chunk {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString("(" + s.dialect.bind(i+1) + ")")
			args[i] = string(m)
		}
		if _, err := tx.ExecContext(txCtx, b.String(), args...); err != nil {
			return 0, fmt.Errorf("%s sink: insert: %w", s.dialect.name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%s sink: commit: %w", s.dialect.name, err)
	}
	return len(messages), nil
}

// -----------------------------------------------------------------------------

// Prune deletes the oldest rows so that at most rowCap remain.
func (s *sqlSink) Prune(ctx context.Context, rowCap int) (int64, error) {
	if rowCap <= 0 {
		return 0, nil
	}
	query := fmt.Sprintf(
		`DELETE FROM %[1]s WHERE id <= (SELECT id FROM %[1]s ORDER BY id DESC LIMIT 1 OFFSET %[2]s)`,
		s.table, s.dialect.bind(1))
	res, err := s.writer.ExecContext(context.WithoutCancel(ctx), query, rowCap)
	if err != nil {
		return 0, fmt.Errorf("%s sink: prune: %w", s.dialect.name, err)
	}
	return res.RowsAffected()
}

// -----------------------------------------------------------------------------

// Query reads rows ascending by id.
func (s *sqlSink) Query(ctx context.Context, filter models.MRecordFilter) ([]models.MRecord, error) {
	var (
		where []string
		args  []any
	)
	if filter.AfterID > 0 {
		args = append(args, filter.AfterID)
		where = append(where, "id > "+s.dialect.bind(len(args)))
	}
	if filter.Symbol != "" {
		args = append(args, strings.ToUpper(filter.Symbol))
		where = append(where, "symbol = "+s.dialect.bind(len(args)))
	}

	query := fmt.Sprintf("SELECT id, message, symbol, date FROM %s", s.table)
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += " LIMIT " + s.dialect.bind(len(args))
	}
	return s.scan(ctx, query, args...)
}

// -----------------------------------------------------------------------------

// Recent returns the newest limit rows, ascending by id.
func (s *sqlSink) Recent(ctx context.Context, limit int) ([]models.MRecord, error) {
	lim := s.dialect.noLimit
	var args []any
	if limit > 0 {
		lim = "LIMIT " + s.dialect.bind(1)
		args = append(args, limit)
	}
	query := fmt.Sprintf(
		`SELECT id, message, symbol, date FROM (SELECT id, message, symbol, date FROM %s ORDER BY id DESC %s) AS recent ORDER BY id`,
		s.table, lim)
	return s.scan(ctx, query, args...)
}

// -----------------------------------------------------------------------------

// Count returns the number of stored rows.
func (s *sqlSink) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.reader.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", s.table)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("%s sink: count: %w", s.dialect.name, err)
	}
	return n, nil
}

// -----------------------------------------------------------------------------

// Symbols returns the distinct symbols present, sorted.
func (s *sqlSink) Symbols(ctx context.Context) ([]string, error) {
	rows, err := s.reader.QueryContext(ctx, fmt.Sprintf(
		"SELECT DISTINCT symbol FROM %s WHERE symbol IS NOT NULL ORDER BY symbol", s.table))
	if err != nil {
		return nil, fmt.Errorf("%s sink: symbols: %w", s.dialect.name, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var sym string
		if err := rows.Scan(&sym); err != nil {
			return nil, err
		}
		out = append(out, sym)
	}
	return out, rows.Err()
}

// -----------------------------------------------------------------------------

// Close the sessions
func (s *sqlSink) Close() error {
	var firstErr error
	for _, db := range []*sql.DB{s.reader, s.writer} {
		if db == nil {
			continue
		}
		if err := db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	s.reader, s.writer = nil, nil
	return firstErr
}

// -----------------------------------------------------------------------------

func (s *sqlSink) scan(ctx context.Context, query string, args ...any) ([]models.MRecord, error) {
	rows, err := s.reader.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s sink: query: %w", s.dialect.name, err)
	}
	defer rows.Close()

	var out []models.MRecord
	for rows.Next() {
		var (
			r       models.MRecord
			message string
			symbol  sql.NullString
			date    sql.NullString
		)
		if err := rows.Scan(&r.ID, &message, &symbol, &date); err != nil {
			return nil, err
		}
		r.Message = []byte(message)
		r.Symbol = symbol.String
		r.Date = date.String
		out = append(out, r)
	}
	return out, rows.Err()
}
