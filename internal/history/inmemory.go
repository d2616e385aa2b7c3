package history

import (
	"context"
	"sync"
	"time"
)

// InMemoryBackend keeps histories in process memory for local/dev use.
type InMemoryBackend struct {
	mu      sync.RWMutex
	records map[string]memoryRecord
	now     func() time.Time
}

type memoryRecord struct {
	turns     History
	expiresAt time.Time
}

func NewInMemoryBackend() *InMemoryBackend {
	return &InMemoryBackend{
		records: make(map[string]memoryRecord),
		now:     time.Now,
	}
}

func (b *InMemoryBackend) Load(_ context.Context, key string) (History, error) {
	b.mu.RLock()
	rec, ok := b.records[key]
	b.mu.RUnlock()
	if !ok {
		return History{}, nil
	}
	if !rec.expiresAt.IsZero() && !b.now().Before(rec.expiresAt) {
		b.mu.Lock()
		if cur, ok := b.records[key]; ok && cur.expiresAt.Equal(rec.expiresAt) {
			delete(b.records, key)
		}
		b.mu.Unlock()
		return History{}, nil
	}
	return History{}.Append(rec.turns...), nil
}

func (b *InMemoryBackend) Save(_ context.Context, key string, h History, ttl time.Duration) error {
	rec := memoryRecord{turns: History{}.Append(h...)}
	if ttl > 0 {
		rec.expiresAt = b.now().Add(ttl)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.records[key] = rec
	return nil
}

func (b *InMemoryBackend) Delete(_ context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.records, key)
	return nil
}

func (b *InMemoryBackend) Close() error { return nil }
