package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"

	"kassa/backend/internal/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS snapshots (
	key        TEXT PRIMARY KEY,
	doc        JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// Persister stores namespace snapshots as JSONB rows keyed by namespace.
type Persister struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Persister, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(4)
	db.SetMaxOpenConns(12)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	p := &Persister{db: db}
	if err := p.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return p, nil
}

func (p *Persister) Migrate(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrate snapshots: %w", err)
	}
	return nil
}

func (p *Persister) Close() error {
	return p.db.Close()
}

func (p *Persister) Put(ctx context.Context, key string, doc []byte) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO snapshots (key, doc, updated_at)
		VALUES ($1, $2::jsonb, now())
		ON CONFLICT (key)
		DO UPDATE SET doc = EXCLUDED.doc, updated_at = now()
	`, key, string(doc))
	if err != nil {
		return classify(err)
	}
	return nil
}

func (p *Persister) Get(ctx context.Context, key string) ([]byte, error) {
	var doc string
	err := p.db.QueryRowContext(ctx, `SELECT doc::text FROM snapshots WHERE key = $1`, key).Scan(&doc)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrSnapshotMissing
		}
		return nil, classify(err)
	}
	return []byte(doc), nil
}

func classify(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "42P01":
			return fmt.Errorf("snapshots table missing, run Migrate: %w", err)
		case "22P02", "22032":
			return fmt.Errorf("snapshot is not valid json: %w", err)
		}
	}
	return err
}
