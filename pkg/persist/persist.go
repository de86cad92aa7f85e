// Package persist keeps saved store documents in sqlite.
package persist

import (
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

const (
	// DriverCGO is the mattn/go-sqlite3 driver used by the relay.
	DriverCGO = "sqlite3"
	// DriverPure is the modernc.org/sqlite driver used for the client's local copy.
	DriverPure = "sqlite"
)

var ErrNotFound = errors.New("store not found")

type Persister interface {
	Load(ctx context.Context, id string) ([]byte, error)
	Save(ctx context.Context, id string, raw []byte) error
	IDs(ctx context.Context) ([]string, error)
}

type SQLPersister struct {
	db *sql.DB
}

var _ Persister = (*SQLPersister)(nil)

// Open opens (creating if needed) the database at path with the given driver and
// ensures the schema exists.
func Open(ctx context.Context, driver, path string) (*SQLPersister, error) {
	if path != ":memory:" {
		if dir := filepath.Dir(path); dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create directory: %w", err)
			}
		}
	}
	db, err := sql.Open(driver, path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// sqlite wants a single writer; this also keeps :memory: databases alive
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	p := &SQLPersister{db: db}
	if err := p.init(ctx, path); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			slog.Error("error closing db", "err", closeErr)
		}
		return nil, err
	}
	return p, nil
}

func (p *SQLPersister) init(ctx context.Context, path string) error {
	if path != ":memory:" {
		if _, err := p.db.ExecContext(ctx, "PRAGMA journal_mode = WAL"); err != nil {
			return fmt.Errorf("failed to enable wal: %w", err)
		}
	}
	if _, err := p.db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
		return fmt.Errorf("failed to set busy timeout: %w", err)
	}
	if _, err := p.db.ExecContext(ctx,
		`CREATE TABLE IF NOT EXISTS stores (
		id text not null primary key,
		content text not null,
		updated_at integer not null
		)`,
	); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}
	return nil
}

func (p *SQLPersister) Close() error {
	return p.db.Close()
}

func (p *SQLPersister) Load(ctx context.Context, id string) ([]byte, error) {
	var content string
	if err := p.db.QueryRowContext(ctx, `SELECT content FROM stores WHERE id = ?`, id).Scan(&content); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	raw, err := base64.StdEncoding.DecodeString(content)
	if err != nil {
		return nil, fmt.Errorf("failed to decode: %w", err)
	}
	return raw, nil
}

func (p *SQLPersister) Save(ctx context.Context, id string, raw []byte) error {
	if _, err := p.db.ExecContext(ctx,
		`INSERT INTO stores (id, content, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET content = excluded.content, updated_at = excluded.updated_at`,
		id, base64.StdEncoding.EncodeToString(raw), time.Now().UnixMilli(),
	); err != nil {
		return fmt.Errorf("failed to save %s: %w", id, err)
	}
	return nil
}

func (p *SQLPersister) IDs(ctx context.Context) ([]string, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT id FROM stores ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			slog.Error("failed to close rows", "err", err)
		}
	}(rows)
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
