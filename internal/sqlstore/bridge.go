// Package sqlstore backs the core.sql script binding with an embedded SQLite
// database.
package sqlstore

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	// Pure-Go SQLite driver for database/sql.
	_ "github.com/glebarez/sqlite"
)

// Memory opens a private in-memory database.
const Memory = ":memory:"

// Result is what a statement produced. Queries fill Columns and Rows;
// everything else fills Changes and LastRowID.
type Result struct {
	Columns   []string `json:"columns"`
	Rows      [][]any  `json:"rows"`
	Changes   int64    `json:"changes"`
	LastRowID int64    `json:"lastRowId"`
}

// Bridge runs statements on behalf of scripts. Scripts only ever reach it
// from the engine goroutine, but the pool is pinned to one connection so an
// in-memory database stays a single database.
type Bridge struct {
	db     *sql.DB
	path   string
	logger zerolog.Logger
}

// Open opens (or creates) the SQLite database at path. Use Memory for a
// throwaway database.
func Open(path string, logger zerolog.Logger) (*Bridge, error) {
	if path != Memory {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database %q: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	if path != Memory {
		// WAL lets external readers look at the file while we write.
		_, _ = db.Exec("PRAGMA journal_mode=WAL")
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("opening database %q: %w", path, err)
	}
	return &Bridge{
		db:     db,
		path:   path,
		logger: logger.With().Str("component", "sqlstore").Logger(),
	}, nil
}

// Close closes the underlying database.
func (b *Bridge) Close() error {
	return b.db.Close()
}

var allowedPragmas = []string{
	"PRAGMA TABLE_INFO", "PRAGMA TABLE_LIST", "PRAGMA INDEX_LIST",
	"PRAGMA INDEX_INFO", "PRAGMA FOREIGN_KEY_LIST", "PRAGMA JOURNAL_MODE",
}

// checkStatement blocks statements that would reach outside this database.
func checkStatement(upper string) error {
	for _, blocked := range []string{"ATTACH", "DETACH"} {
		if strings.HasPrefix(upper, blocked) {
			return fmt.Errorf("sql: %s statements are not allowed", blocked)
		}
	}
	if strings.HasPrefix(upper, "PRAGMA") {
		for _, a := range allowedPragmas {
			if strings.HasPrefix(upper, a) {
				return nil
			}
		}
		return fmt.Errorf("sql: this PRAGMA is not allowed")
	}
	return nil
}

// Exec runs one statement with positional parameters.
func (b *Bridge) Exec(query string, params []any) (*Result, error) {
	upper := strings.ToUpper(strings.TrimSpace(query))
	if err := checkStatement(upper); err != nil {
		return nil, err
	}

	isQuery := strings.HasPrefix(upper, "SELECT") ||
		strings.HasPrefix(upper, "PRAGMA") ||
		strings.HasPrefix(upper, "WITH") ||
		strings.Contains(upper, " RETURNING ")

	if isQuery {
		return b.query(query, params)
	}

	res, err := b.db.Exec(query, params...)
	if err != nil {
		return nil, fmt.Errorf("sql: exec error: %w", err)
	}
	changes, _ := res.RowsAffected()
	lastID, _ := res.LastInsertId()
	return &Result{
		Columns:   []string{},
		Rows:      [][]any{},
		Changes:   changes,
		LastRowID: lastID,
	}, nil
}

func (b *Bridge) query(query string, params []any) (*Result, error) {
	rows, err := b.db.Query(query, params...)
	if err != nil {
		return nil, fmt.Errorf("sql: query error: %w", err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("sql: columns error: %w", err)
	}

	out := &Result{Columns: columns, Rows: [][]any{}}
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("sql: scan error: %w", err)
		}
		for i, v := range values {
			if raw, ok := v.([]byte); ok {
				values[i] = string(raw)
			}
		}
		out.Rows = append(out.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sql: rows iteration error: %w", err)
	}
	return out, nil
}

// ExecJSON is the string-in, string-out form used by the script binding:
// paramsJSON is a JSON array (or empty) and the result is a JSON Result.
func (b *Bridge) ExecJSON(query, paramsJSON string) (string, error) {
	params, err := decodeParams(paramsJSON)
	if err != nil {
		return "", err
	}
	res, err := b.Exec(query, params)
	if err != nil {
		b.logger.Debug().Err(err).Str("query", query).Msg("statement failed")
		return "", err
	}
	data, err := json.Marshal(res)
	if err != nil {
		return "", fmt.Errorf("sql: encoding result: %w", err)
	}
	return string(data), nil
}

// decodeParams keeps integral JSON numbers as int64 so SQLite stores them
// as INTEGER rather than REAL.
func decodeParams(paramsJSON string) ([]any, error) {
	if strings.TrimSpace(paramsJSON) == "" {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(paramsJSON)))
	dec.UseNumber()
	var raw []any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("sql: parameters must be a JSON array: %w", err)
	}
	params := make([]any, len(raw))
	for i, v := range raw {
		switch x := v.(type) {
		case json.Number:
			if n, err := x.Int64(); err == nil {
				params[i] = n
			} else if f, err := x.Float64(); err == nil {
				params[i] = f
			} else {
				params[i] = x.String()
			}
		case map[string]any, []any:
			data, _ := json.Marshal(x)
			params[i] = string(data)
		default:
			params[i] = x
		}
	}
	return params, nil
}
