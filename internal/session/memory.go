package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process slot store. Terminal slots are retained until
// garbage collection so that a duplicate finalize can return the prior
// committed result instead of re-charging.
type MemoryStore struct {
	mu    sync.Mutex
	slots map[string]*Slot
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{slots: make(map[string]*Slot)}
}

// Open installs a new open slot, superseding any existing open slot.
func (s *MemoryStore) Open(_ context.Context, slot Slot) (*Slot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var superseded *Slot
	if prior, ok := s.slots[slot.ChatSessionID]; ok && prior.Status == StatusOpen {
		expired := *prior
		expired.Status = StatusExpired
		superseded = &expired
	}

	installed := slot
	installed.Status = StatusOpen
	s.slots[slot.ChatSessionID] = &installed
	return superseded, nil
}

// Attach records streamed content on the open slot with a matching token.
func (s *MemoryStore) Attach(_ context.Context, chatSessionID, token, content string, totalTokens int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	slot, ok := s.slots[chatSessionID]
	if !ok || slot.Status != StatusOpen || slot.Token != token {
		return nil
	}
	slot.Content = content
	slot.TotalTokens = totalTokens
	return nil
}

// Finalize attempts the Open -> Committed transition under the store lock.
func (s *MemoryStore) Finalize(_ context.Context, chatSessionID, token string, now time.Time, timeout time.Duration) (Slot, Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	slot, ok := s.slots[chatSessionID]
	if !ok {
		return Slot{}, OutcomeNone, nil
	}

	switch slot.Status {
	case StatusOpen:
		if now.Sub(slot.CreatedAt) > timeout {
			slot.Status = StatusExpired
			return *slot, OutcomeExpired, nil
		}
		if slot.Token != token {
			slot.Status = StatusMismatched
			return *slot, OutcomeMismatch, nil
		}
		slot.Status = StatusCommitted
		return *slot, OutcomeCommitted, nil
	case StatusCommitted:
		if slot.Token == token {
			return *slot, OutcomeDuplicate, nil
		}
		return Slot{}, OutcomeNone, nil
	case StatusExpired:
		// Expired slots reject even the correct token; this caps the
		// replay window.
		if slot.Token == token {
			return *slot, OutcomeExpired, nil
		}
		return Slot{}, OutcomeNone, nil
	default:
		return Slot{}, OutcomeNone, nil
	}
}

// ExpireStale expires open slots created before cutoff and drops terminal
// slots old enough that no duplicate finalize can still reference them.
func (s *MemoryStore) ExpireStale(_ context.Context, cutoff time.Time) ([]Slot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []Slot
	for key, slot := range s.slots {
		if slot.Status == StatusOpen {
			if slot.CreatedAt.Before(cutoff) {
				slot.Status = StatusExpired
				expired = append(expired, *slot)
			}
			continue
		}
		// Terminal slots are retained for one extra window, then dropped.
		if slot.CreatedAt.Before(cutoff.Add(-time.Hour)) {
			delete(s.slots, key)
		}
	}
	return expired, nil
}
