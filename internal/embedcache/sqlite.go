package embedcache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite" // register pure-Go SQLite driver
)

const sqliteSchema = `CREATE TABLE IF NOT EXISTS embeddings (
	key TEXT PRIMARY KEY,
	vec BLOB NOT NULL
)`

// SQLite stores vectors as BLOBs in a single table.
type SQLite struct {
	db *sql.DB
}

func OpenSQLite(ctx context.Context, dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite cache: %w", err)
	}
	// A single connection keeps ":memory:" databases coherent.
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Get(ctx context.Context, key string) ([]float32, bool, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx, `SELECT vec FROM embeddings WHERE key = ?`, key).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	vec, err := decode(blob)
	if err != nil {
		return nil, false, err
	}
	return vec, true, nil
}

func (s *SQLite) Put(ctx context.Context, key string, vec []float32) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO embeddings(key, vec) VALUES(?, ?)
		 ON CONFLICT(key) DO UPDATE SET vec = excluded.vec`, key, encode(vec))
	return err
}

func (s *SQLite) Close() error {
	return s.db.Close()
}
