package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	// Pure-Go SQLite driver for database/sql.
	_ "github.com/glebarez/sqlite"

	"github.com/cryguy/spawn/internal/codegen"
	"github.com/cryguy/spawn/internal/core"
)

const schema = `
CREATE TABLE IF NOT EXISTS programs (
	hash        TEXT PRIMARY KEY,
	source      TEXT NOT NULL,
	origin      TEXT NOT NULL,
	resolve_dir TEXT NOT NULL,
	protocol    TEXT NOT NULL,
	captures    TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS scripts (
	hash   TEXT PRIMARY KEY,
	script TEXT NOT NULL
);`

// SQLite is an ArtifactStore persisted in a SQLite database, so a
// restarted dev server can still serve programs generated earlier.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the artifact database at path.
func OpenSQLite(path string) (*SQLite, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating cache directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening artifact cache %q: %w", path, err)
	}
	// Enable WAL mode for better concurrent access.
	_, _ = db.Exec("PRAGMA journal_mode=WAL")
	return initSQLite(db)
}

// NewSQLiteMemory returns a store backed by an in-memory database.
func NewSQLiteMemory() (*SQLite, error) {
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("opening in-memory artifact cache: %w", err)
	}
	// Every connection would get its own empty database.
	db.SetMaxOpenConns(1)
	return initSQLite(db)
}

func initSQLite(db *sql.DB) (*SQLite, error) {
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating artifact schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) PutProgram(ctx context.Context, prog *codegen.Program) error {
	captures, err := json.Marshal(prog.Captures)
	if err != nil {
		return fmt.Errorf("encoding captures: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO programs (hash, source, origin, resolve_dir, protocol, captures) VALUES (?, ?, ?, ?, ?, ?)`,
		prog.Hash, prog.Source, prog.Origin, prog.ResolveDir, string(prog.Protocol), string(captures))
	if err != nil {
		return fmt.Errorf("storing program %s: %w", prog.Hash, err)
	}
	return nil
}

func (s *SQLite) Program(ctx context.Context, hash string) (*codegen.Program, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT hash, source, origin, resolve_dir, protocol, captures FROM programs WHERE hash = ?`, hash)
	p, err := scanProgram(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading program %s: %w", hash, err)
	}
	return p, nil
}

func (s *SQLite) Programs(ctx context.Context) ([]*codegen.Program, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT hash, source, origin, resolve_dir, protocol, captures FROM programs ORDER BY hash`)
	if err != nil {
		return nil, fmt.Errorf("listing programs: %w", err)
	}
	defer rows.Close()

	var out []*codegen.Program
	for rows.Next() {
		p, err := scanProgram(rows)
		if err != nil {
			return nil, fmt.Errorf("listing programs: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProgram(row scanner) (*codegen.Program, error) {
	var (
		p        codegen.Program
		protocol string
		captures string
	)
	if err := row.Scan(&p.Hash, &p.Source, &p.Origin, &p.ResolveDir, &protocol, &captures); err != nil {
		return nil, err
	}
	p.Protocol = core.Protocol(protocol)
	if err := json.Unmarshal([]byte(captures), &p.Captures); err != nil {
		return nil, fmt.Errorf("decoding captures: %w", err)
	}
	return &p, nil
}

func (s *SQLite) PutScript(ctx context.Context, hash, script string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scripts (hash, script) VALUES (?, ?) ON CONFLICT(hash) DO UPDATE SET script = excluded.script`,
		hash, script)
	if err != nil {
		return fmt.Errorf("storing script %s: %w", hash, err)
	}
	return nil
}

func (s *SQLite) Script(ctx context.Context, hash string) (string, error) {
	var script string
	err := s.db.QueryRowContext(ctx, `SELECT script FROM scripts WHERE hash = ?`, hash).Scan(&script)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("loading script %s: %w", hash, err)
	}
	return script, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
