package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"kassa/backend/internal/domain"
	"kassa/backend/internal/store"
	"kassa/backend/internal/store/memory"
)

func TestUpdateStagesUntilCommit(t *testing.T) {
	s := store.NewSeeded()

	err := s.Update(func(tx *store.Tx) error {
		p, err := tx.Product("prod-coffee")
		require.NoError(t, err)
		p.Stock = 7
		tx.PutProduct(p)

		staged, err := tx.Product("prod-coffee")
		require.NoError(t, err)
		require.Equal(t, 7, staged.Stock)
		return nil
	})
	require.NoError(t, err)

	require.NoError(t, s.View(func(tx *store.Tx) error {
		p, err := tx.Product("prod-coffee")
		require.NoError(t, err)
		require.Equal(t, 7, p.Stock)
		return nil
	}))
}

func TestUpdateErrorDiscardsIntent(t *testing.T) {
	s := store.NewSeeded()
	before, err := s.Snapshot()
	require.NoError(t, err)

	boom := errors.New("boom")
	err = s.Update(func(tx *store.Tx) error {
		p, _ := tx.Product("prod-coffee")
		p.Stock = 0
		tx.PutProduct(p)
		tx.AppendLedger(domain.LedgerEntry{ID: "l1", Amount: decimal.NewFromInt(5)})
		tx.SetBusiness(domain.Business{Name: "changed", TicketSequence: 9})
		return boom
	})
	require.ErrorIs(t, err, boom)

	after, err := s.Snapshot()
	require.NoError(t, err)
	require.Equal(t, string(before), string(after))
}

func TestUpdatePanicBecomesSystemError(t *testing.T) {
	s := store.NewSeeded()
	before, _ := s.Snapshot()

	err := s.Update(func(tx *store.Tx) error {
		tx.AppendLedger(domain.LedgerEntry{ID: "l1"})
		var m map[string]int
		m["x"] = 1
		return nil
	})
	require.ErrorIs(t, err, domain.ErrSystem)

	after, _ := s.Snapshot()
	require.Equal(t, string(before), string(after))

	// The lock must have been released.
	require.NoError(t, s.Update(func(tx *store.Tx) error { return nil }))
}

func TestViewRejectsWrites(t *testing.T) {
	s := store.NewSeeded()
	err := s.View(func(tx *store.Tx) error {
		tx.PutClient(domain.Client{ID: "x"})
		return nil
	})
	require.ErrorIs(t, err, domain.ErrSystem)
}

func TestReadsReturnCopies(t *testing.T) {
	s := store.NewSeeded()
	require.NoError(t, s.View(func(tx *store.Tx) error {
		p, err := tx.Product("prod-shirt")
		require.NoError(t, err)
		p.Variants[0].Stock = 999
		return nil
	}))
	require.NoError(t, s.View(func(tx *store.Tx) error {
		p, err := tx.Product("prod-shirt")
		require.NoError(t, err)
		require.Equal(t, 20, p.Variants[0].Stock)
		return nil
	}))
}

func TestNotFoundWrapsSentinel(t *testing.T) {
	s := store.NewSeeded()
	require.NoError(t, s.View(func(tx *store.Tx) error {
		_, err := tx.Sale("missing")
		require.ErrorIs(t, err, domain.ErrNotFound)
		_, err = tx.CouponByCode("nope")
		require.ErrorIs(t, err, domain.ErrNotFound)
		c, err := tx.CouponByCode("welcome10")
		require.NoError(t, err)
		require.Equal(t, "coupon-welcome", c.ID)
		return nil
	}))
}

func TestCommitHookReceivesDirtyNamespaces(t *testing.T) {
	s := store.NewSeeded()
	var got []store.Namespace
	s.OnCommit(func(ns []store.Namespace) { got = ns })

	require.NoError(t, s.Update(func(tx *store.Tx) error {
		tx.AppendLedger(domain.LedgerEntry{ID: "l1"})
		c, _ := tx.Client("client-ana")
		tx.PutClient(c)
		return nil
	}))
	require.Equal(t, []store.Namespace{store.NamespaceClients, store.NamespaceLedger}, got)
}

func TestRestoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	src := store.NewSeeded()
	p := memory.New()

	w := store.NewWriteBehind(src, p, nil, time.Millisecond)
	w.MarkAll()
	require.NoError(t, w.Flush(ctx))
	require.Equal(t, 0, w.Pending())
	require.Len(t, p.Keys(), len(store.Namespaces))

	dst := store.New()
	loaded, err := store.Restore(ctx, dst, p)
	require.NoError(t, err)
	require.True(t, loaded)

	want, _ := src.Snapshot()
	got, _ := dst.Snapshot()
	require.JSONEq(t, string(want), string(got))
}

func TestWriteBehindFlushesAfterCommit(t *testing.T) {
	s := store.NewSeeded()
	p := memory.New()
	w := store.NewWriteBehind(s, p, nil, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.NoError(t, s.Update(func(tx *store.Tx) error {
		tx.AppendLedger(domain.LedgerEntry{ID: "l1", Amount: decimal.NewFromInt(3)})
		return nil
	}))

	require.Eventually(t, func() bool {
		_, err := p.Get(context.Background(), string(store.NamespaceLedger))
		return err == nil
	}, time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestRestoreSkipsMissingNamespaces(t *testing.T) {
	dst := store.NewSeeded()
	loaded, err := store.Restore(context.Background(), dst, memory.New())
	require.NoError(t, err)
	require.False(t, loaded)

	require.NoError(t, dst.View(func(tx *store.Tx) error {
		require.Len(t, tx.Currencies(), 3)
		return nil
	}))
}
