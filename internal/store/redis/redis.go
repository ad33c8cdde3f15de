package redis

import (
	"context"
	"errors"

	goredis "github.com/redis/go-redis/v9"

	"kassa/backend/internal/store"
)

const keyPrefix = "kassa:snapshot:"

// Persister keeps each namespace snapshot under kassa:snapshot:<namespace>.
type Persister struct {
	client *goredis.Client
}

func New(addr string, password string, db int) *Persister {
	client := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &Persister{client: client}
}

func NewFromClient(client *goredis.Client) *Persister {
	return &Persister{client: client}
}

// Client exposes the connection so other components can share it.
func (p *Persister) Client() *goredis.Client {
	return p.client
}

func (p *Persister) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

func (p *Persister) Close() error {
	return p.client.Close()
}

func Key(namespace string) string {
	return keyPrefix + namespace
}

func (p *Persister) Put(ctx context.Context, key string, doc []byte) error {
	return p.client.Set(ctx, Key(key), doc, 0).Err()
}

func (p *Persister) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := p.client.Get(ctx, Key(key)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, store.ErrSnapshotMissing
	}
	if err != nil {
		return nil, err
	}
	return val, nil
}
