package engine

import (
	"strings"
	"sync"
	"time"
)

// CheckpointKey identifies one deduplicable request: session id plus
// the normalized instruction, computed once up front. The key is a
// plain comparable value so it can be logged and stored as-is.
type CheckpointKey struct {
	SessionID   string
	Instruction string
}

// NewCheckpointKey normalizes the instruction (case-folded, whitespace
// collapsed) so trivially reworded repeats still hit.
func NewCheckpointKey(sessionID, instruction string) CheckpointKey {
	return CheckpointKey{
		SessionID:   sessionID,
		Instruction: strings.Join(strings.Fields(strings.ToLower(instruction)), " "),
	}
}

type checkpoint struct {
	answer    string
	committed time.Time
}

// checkpointStore keeps the last committed answer per key so identical
// repeated requests within the TTL window short-circuit re-execution.
// Writes are last-committed-wins under one lock, never half-applied.
type checkpointStore struct {
	mu  sync.Mutex
	ttl time.Duration
	byK map[CheckpointKey]checkpoint
}

func newCheckpointStore(ttl time.Duration) *checkpointStore {
	return &checkpointStore{
		ttl: ttl,
		byK: make(map[CheckpointKey]checkpoint),
	}
}

// lookup returns the answer committed for key within the TTL window.
func (s *checkpointStore) lookup(key CheckpointKey) (string, bool) {
	if s.ttl <= 0 {
		return "", false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cp, ok := s.byK[key]
	if !ok {
		return "", false
	}
	if time.Since(cp.committed) > s.ttl {
		delete(s.byK, key)
		return "", false
	}
	return cp.answer, true
}

// commit records the invocation's final answer. Expired entries are
// swept opportunistically to keep the map bounded.
func (s *checkpointStore) commit(key CheckpointKey, answer string) {
	if s.ttl <= 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	s.byK[key] = checkpoint{answer: answer, committed: now}

	for k, cp := range s.byK {
		if now.Sub(cp.committed) > s.ttl {
			delete(s.byK, k)
		}
	}
}
