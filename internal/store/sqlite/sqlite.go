package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"kassa/backend/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS snapshots (
	key        TEXT PRIMARY KEY,
	doc        BLOB NOT NULL,
	updated_at TEXT NOT NULL
)`

type snapshotRow struct {
	Key       string `db:"key"`
	Doc       []byte `db:"doc"`
	UpdatedAt string `db:"updated_at"`
}

// Persister stores namespace snapshots in a single-file SQLite database.
type Persister struct {
	db *sqlx.DB
}

func Open(dsn string) (*Persister, error) {
	db, err := sqlx.Connect("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate snapshots: %w", err)
	}
	return &Persister{db: db}, nil
}

func (p *Persister) Close() error {
	return p.db.Close()
}

func (p *Persister) Put(ctx context.Context, key string, doc []byte) error {
	row := snapshotRow{Key: key, Doc: doc, UpdatedAt: time.Now().UTC().Format(time.RFC3339Nano)}
	_, err := p.db.NamedExecContext(ctx, `
		INSERT INTO snapshots (key, doc, updated_at)
		VALUES (:key, :doc, :updated_at)
		ON CONFLICT (key) DO UPDATE SET doc = excluded.doc, updated_at = excluded.updated_at
	`, row)
	return err
}

func (p *Persister) Get(ctx context.Context, key string) ([]byte, error) {
	var row snapshotRow
	err := p.db.GetContext(ctx, &row, `SELECT key, doc, updated_at FROM snapshots WHERE key = ?`, key)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrSnapshotMissing
		}
		return nil, err
	}
	return row.Doc, nil
}

// Keys lists stored snapshot keys in order.
func (p *Persister) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	if err := p.db.SelectContext(ctx, &keys, `SELECT key FROM snapshots ORDER BY key`); err != nil {
		return nil, err
	}
	return keys, nil
}
