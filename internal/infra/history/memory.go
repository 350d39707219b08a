package history

import (
	"context"
	"time"

	"github.com/boddenberg/fiscal-sentinel-bfa-go/internal/domain"
	"github.com/boddenberg/fiscal-sentinel-bfa-go/internal/infra/cache"
)

// MemoryStore keeps history in a process-local TTL cache.
type MemoryStore struct {
	cache  *cache.InMemory[[]domain.Message]
	window int
}

// NewMemoryStore creates a store keeping the last windowSize messages of each
// conversation for ttl after its last update.
func NewMemoryStore(windowSize int, ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		cache:  cache.New[[]domain.Message](ttl),
		window: window(windowSize),
	}
}

// Load returns up to limit of the most recent messages.
func (s *MemoryStore) Load(_ context.Context, conversationID string, limit int) ([]domain.Message, error) {
	msgs, ok := s.cache.Get(conversationID)
	if !ok {
		return nil, nil
	}
	return append([]domain.Message(nil), tail(msgs, limit)...), nil
}

// Append adds msgs and trims the conversation to the window.
func (s *MemoryStore) Append(_ context.Context, conversationID string, msgs ...domain.Message) error {
	clean := Sanitize(msgs)
	if len(clean) == 0 {
		return nil
	}
	s.cache.Update(conversationID, func(current []domain.Message, _ bool) []domain.Message {
		next := make([]domain.Message, 0, len(current)+len(clean))
		next = append(next, current...)
		next = append(next, clean...)
		return tail(next, s.window)
	})
	return nil
}

// Close stops the underlying cache sweeper.
func (s *MemoryStore) Close() {
	s.cache.Close()
}
