package memory

import (
	"context"
	"slices"
	"sync"

	"kassa/backend/internal/store"
)

// Persister keeps snapshot documents in process memory.
type Persister struct {
	mu   sync.RWMutex
	docs map[string][]byte
	puts int
}

func New() *Persister {
	return &Persister{docs: make(map[string][]byte)}
}

func (p *Persister) Put(_ context.Context, key string, doc []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.docs[key] = slices.Clone(doc)
	p.puts++
	return nil
}

func (p *Persister) Get(_ context.Context, key string) ([]byte, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	doc, ok := p.docs[key]
	if !ok {
		return nil, store.ErrSnapshotMissing
	}
	return slices.Clone(doc), nil
}

// Keys lists stored keys in sorted order.
func (p *Persister) Keys() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	keys := make([]string, 0, len(p.docs))
	for k := range p.docs {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func (p *Persister) Puts() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.puts
}

func (p *Persister) Close() error {
	return nil
}
