package checkpoint

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps checkpoints in process memory. Progress is lost on restart.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]Checkpoint
	// history holds every accepted commit in order, for inspection.
	history []Checkpoint
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]Checkpoint)}
}

func (s *MemoryStore) Load(ctx context.Context, location, topic string, partition int) (Checkpoint, bool, error) {
	if err := ctx.Err(); err != nil {
		return Checkpoint{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp, ok := s.items[Checkpoint{Location: location, Topic: topic, Partition: partition}.Key()]
	return cp, ok, nil
}

func (s *MemoryStore) Commit(ctx context.Context, cp Checkpoint) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := cp.Key()
	if prev, ok := s.items[key]; ok && cp.NextOffset < prev.NextOffset {
		return ErrRegression
	}
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = time.Now().UTC()
	}
	s.items[key] = cp
	s.history = append(s.history, cp)
	return nil
}

// History returns all accepted commits in commit order.
func (s *MemoryStore) History() []Checkpoint {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Checkpoint(nil), s.history...)
}
