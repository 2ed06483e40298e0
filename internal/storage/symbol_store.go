package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// SymbolRow is one extracted symbol of an indexed file.
type SymbolRow struct {
	Path      string `json:"path"`
	Name      string `json:"name"`
	Kind      string `json:"kind"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
}

const symbolSchema = `
CREATE TABLE IF NOT EXISTS symbols (
	path       TEXT NOT NULL,
	name       TEXT NOT NULL,
	kind       TEXT NOT NULL,
	start_line INTEGER NOT NULL,
	end_line   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_symbols_path ON symbols(path);
CREATE INDEX IF NOT EXISTS idx_symbols_name ON symbols(name);
`

// SymbolStore is the sqlite symbol database of one generation.
type SymbolStore struct {
	db *sql.DB
	tx *sql.Tx
}

// OpenSymbolStore opens (creating when needed) the database at path.
func OpenSymbolStore(path string, readOnly bool) (*SymbolStore, error) {
	dsn := path
	if readOnly {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("failed to open symbol store: %w", err)
		}
		dsn = "file:" + path + "?mode=ro"
	} else if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create symbol directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open symbol store: %w", err)
	}
	db.SetMaxOpenConns(1)

	if !readOnly {
		if _, err := db.Exec(symbolSchema); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create symbol schema: %w", err)
		}
	}
	return &SymbolStore{db: db}, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *SymbolStore) conn() execer {
	if s.tx != nil {
		return s.tx
	}
	return s.db
}

// Begin groups subsequent writes into one transaction until Commit.
func (s *SymbolStore) Begin(ctx context.Context) error {
	if s.tx != nil {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	s.tx = tx
	return nil
}

// Commit commits the open transaction, if any.
func (s *SymbolStore) Commit() error {
	if s.tx == nil {
		return nil
	}
	tx := s.tx
	s.tx = nil
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit symbols: %w", err)
	}
	return nil
}

// Rollback discards the open transaction, if any.
func (s *SymbolStore) Rollback() {
	if s.tx != nil {
		_ = s.tx.Rollback()
		s.tx = nil
	}
}

// ReplaceFile swaps every symbol of path for rows.
func (s *SymbolStore) ReplaceFile(ctx context.Context, path string, rows []SymbolRow) error {
	if s.tx == nil {
		if err := s.Begin(ctx); err != nil {
			return err
		}
		if err := s.replace(ctx, path, rows); err != nil {
			s.Rollback()
			return err
		}
		return s.Commit()
	}
	return s.replace(ctx, path, rows)
}

func (s *SymbolStore) replace(ctx context.Context, path string, rows []SymbolRow) error {
	c := s.conn()
	if _, err := c.ExecContext(ctx, "DELETE FROM symbols WHERE path = ?", path); err != nil {
		return fmt.Errorf("failed to clear symbols for %s: %w", path, err)
	}
	for _, r := range rows {
		if _, err := c.ExecContext(ctx,
			"INSERT INTO symbols (path, name, kind, start_line, end_line) VALUES (?, ?, ?, ?, ?)",
			path, r.Name, r.Kind, r.StartLine, r.EndLine,
		); err != nil {
			return fmt.Errorf("failed to insert symbol %s: %w", r.Name, err)
		}
	}
	return nil
}

// DeleteFile removes every symbol of path.
func (s *SymbolStore) DeleteFile(ctx context.Context, path string) error {
	if _, err := s.conn().ExecContext(ctx, "DELETE FROM symbols WHERE path = ?", path); err != nil {
		return fmt.Errorf("failed to delete symbols for %s: %w", path, err)
	}
	return nil
}

// Find returns symbols with exactly the given name.
func (s *SymbolStore) Find(ctx context.Context, name string) ([]SymbolRow, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT path, name, kind, start_line, end_line FROM symbols WHERE name = ? ORDER BY path, start_line", name)
	if err != nil {
		return nil, fmt.Errorf("failed to query symbols: %w", err)
	}
	defer rows.Close()

	var out []SymbolRow
	for rows.Next() {
		var r SymbolRow
		if err := rows.Scan(&r.Path, &r.Name, &r.Kind, &r.StartLine, &r.EndLine); err != nil {
			return nil, fmt.Errorf("failed to scan symbol: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close rolls back any open transaction and closes the database.
func (s *SymbolStore) Close() error {
	s.Rollback()
	return s.db.Close()
}
