package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/require"

	"kassa/backend/internal/store"
)

func newPersister(t *testing.T) (*Persister, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	p := New(mr.Addr(), "", 0)
	t.Cleanup(func() { _ = p.Close() })
	require.NoError(t, p.Ping(context.Background()))
	return p, mr
}

func TestPutUsesNamespacedKeys(t *testing.T) {
	p, mr := newPersister(t)
	ctx := context.Background()

	_, err := p.Get(ctx, "sales")
	require.ErrorIs(t, err, store.ErrSnapshotMissing)

	require.NoError(t, p.Put(ctx, "sales", []byte(`{}`)))
	raw, err := mr.Get("kassa:snapshot:sales")
	require.NoError(t, err)
	require.Equal(t, `{}`, raw)

	doc, err := p.Get(ctx, "sales")
	require.NoError(t, err)
	require.Equal(t, `{}`, string(doc))
}

func TestWriteBehindRunFlushesToRedis(t *testing.T) {
	p, mr := newPersister(t)
	s := store.NewSeeded()
	wb := store.NewWriteBehind(s, p, nil, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- wb.Run(ctx) }()

	require.NoError(t, s.Update(func(tx *store.Tx) error {
		p, err := tx.Product("prod-coffee")
		if err != nil {
			return err
		}
		p.Stock = 3
		tx.PutProduct(p)
		return nil
	}))

	require.Eventually(t, func() bool {
		return mr.Exists(Key(string(store.NamespaceProducts)))
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	restored := store.New()
	loaded, err := store.Restore(context.Background(), restored, p)
	require.NoError(t, err)
	require.True(t, loaded)
	require.NoError(t, restored.View(func(tx *store.Tx) error {
		prod, err := tx.Product("prod-coffee")
		require.NoError(t, err)
		require.Equal(t, 3, prod.Stock)
		return nil
	}))
}
