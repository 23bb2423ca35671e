package events

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// FailedEvent is a durably captured delivery failure awaiting retry.
type FailedEvent struct {
	ID          string          `json:"id"`
	Event       string          `json:"event"`
	Payload     json.RawMessage `json:"payload"`
	Error       string          `json:"error"`
	Attempts    int             `json:"attempts"`
	CreatedAt   time.Time       `json:"created_at"`
	LastTriedAt time.Time       `json:"last_tried_at"`
}

// FailureStore persists failed event deliveries. FetchPending returns the
// oldest failures first, capped at limit, skipping entries that have
// exhausted maxAttempts.
type FailureStore interface {
	Record(ctx context.Context, failure *FailedEvent) error
	FetchPending(ctx context.Context, limit, maxAttempts int) ([]*FailedEvent, error)
	MarkResolved(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id, errMsg string) error
	CountPending(ctx context.Context, maxAttempts int) (int, error)
}

// MemoryFailureStore is an in-process FailureStore implementation.
type MemoryFailureStore struct {
	mu    sync.RWMutex
	byID  map[string]*FailedEvent
	clock func() time.Time
}

// NewMemoryFailureStore creates an empty in-memory failure store.
func NewMemoryFailureStore() *MemoryFailureStore {
	return &MemoryFailureStore{
		byID:  make(map[string]*FailedEvent),
		clock: time.Now,
	}
}

// Record stores a new failure, assigning its id and timestamps.
func (s *MemoryFailureStore) Record(_ context.Context, failure *FailedEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *failure
	if stored.ID == "" {
		stored.ID = uuid.NewString()
	}
	now := s.clock().UTC()
	stored.CreatedAt = now
	stored.LastTriedAt = now
	if stored.Attempts == 0 {
		stored.Attempts = 1
	}
	s.byID[stored.ID] = &stored
	failure.ID = stored.ID
	return nil
}

// FetchPending returns the oldest pending failures, capped at limit.
func (s *MemoryFailureStore) FetchPending(_ context.Context, limit, maxAttempts int) ([]*FailedEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []*FailedEvent{}
	for _, f := range s.byID {
		if maxAttempts > 0 && f.Attempts >= maxAttempts {
			continue
		}
		copied := *f
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MarkResolved removes a resolved failure.
func (s *MemoryFailureStore) MarkResolved(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.byID, id)
	return nil
}

// MarkFailed increments the attempt count after an unsuccessful retry.
func (s *MemoryFailureStore) MarkFailed(_ context.Context, id, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if f, ok := s.byID[id]; ok {
		f.Attempts++
		f.Error = errMsg
		f.LastTriedAt = s.clock().UTC()
	}
	return nil
}

// CountPending counts failures still eligible for retry.
func (s *MemoryFailureStore) CountPending(_ context.Context, maxAttempts int) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, f := range s.byID {
		if maxAttempts > 0 && f.Attempts >= maxAttempts {
			continue
		}
		count++
	}
	return count, nil
}
