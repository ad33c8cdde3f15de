package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// ErrSnapshotMissing is returned by a Persister when no document is stored
// under a key.
var ErrSnapshotMissing = errors.New("snapshot missing")

// Persister is a flat key to document store. Keys are namespace names.
type Persister interface {
	Put(ctx context.Context, key string, doc []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// Restore loads every namespace present in p. Missing namespaces keep their
// current content. It reports whether anything was loaded.
func Restore(ctx context.Context, s *Store, p Persister) (bool, error) {
	loaded := false
	for _, ns := range Namespaces {
		doc, err := p.Get(ctx, string(ns))
		if errors.Is(err, ErrSnapshotMissing) {
			continue
		}
		if err != nil {
			return loaded, fmt.Errorf("restore %s: %w", ns, err)
		}
		if err := s.Import(ns, doc); err != nil {
			return loaded, err
		}
		loaded = true
	}
	return loaded, nil
}

// WriteBehind flushes dirty namespaces to a Persister after commits. Flushes
// are asynchronous: a crash between a commit and its flush loses that commit.
type WriteBehind struct {
	store     *Store
	persister Persister
	logger    *slog.Logger
	interval  time.Duration

	mu     sync.Mutex
	dirty  map[Namespace]struct{}
	signal chan struct{}
}

func NewWriteBehind(s *Store, p Persister, logger *slog.Logger, interval time.Duration) *WriteBehind {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 250 * time.Millisecond
	}
	w := &WriteBehind{
		store:     s,
		persister: p,
		logger:    logger,
		interval:  interval,
		dirty:     make(map[Namespace]struct{}),
		signal:    make(chan struct{}, 1),
	}
	s.OnCommit(w.mark)
	return w
}

func (w *WriteBehind) mark(namespaces []Namespace) {
	w.mu.Lock()
	for _, ns := range namespaces {
		w.dirty[ns] = struct{}{}
	}
	w.mu.Unlock()
	select {
	case w.signal <- struct{}{}:
	default:
	}
}

// MarkAll schedules every namespace for the next flush.
func (w *WriteBehind) MarkAll() {
	w.mark(Namespaces)
}

func (w *WriteBehind) Pending() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.dirty)
}

// Run flushes on every signal, batching commits that land within the
// interval, until ctx is done. A final flush runs on shutdown.
func (w *WriteBehind) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := w.Flush(flushCtx)
			cancel()
			return err
		case <-w.signal:
			timer := time.NewTimer(w.interval)
			select {
			case <-ctx.Done():
				timer.Stop()
			case <-timer.C:
			}
			if err := w.Flush(ctx); err != nil {
				w.logger.Error("snapshot flush failed", slog.Any("error", err))
			}
		}
	}
}

// Flush writes every dirty namespace. Namespaces that fail stay dirty.
func (w *WriteBehind) Flush(ctx context.Context) error {
	w.mu.Lock()
	batch := sortedNamespaces(w.dirty)
	w.dirty = make(map[Namespace]struct{})
	w.mu.Unlock()
	if len(batch) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, ns := range batch {
		ns := ns
		g.Go(func() error {
			doc, err := w.store.Export(ns)
			if err != nil {
				return err
			}
			if err := w.persister.Put(gctx, string(ns), doc); err != nil {
				w.mark([]Namespace{ns})
				return fmt.Errorf("put %s: %w", ns, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	w.logger.Debug("snapshot flushed", slog.Int("namespaces", len(batch)))
	return nil
}
