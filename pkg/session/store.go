package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/majorfree/agentd/pkg/correlation"
	"github.com/majorfree/agentd/pkg/telemetry"
)

// Store composes the hot and durable tiers. The durable tier is
// authoritative; the cache may be empty, stale-evicted, or rebuilt at
// any time. All mutations for one session are serialized through a
// per-session lock so the full-refresh and append paths never interleave.
type Store struct {
	cache   Cache
	history History
	logger  *slog.Logger
	metrics *telemetry.Metrics

	mu    sync.Mutex
	locks map[string]*sessionLock
}

type sessionLock struct {
	mu   sync.Mutex
	refs int
}

// NewStore builds a Store over the given tiers. A nil cache runs the
// store on the durable tier alone; metrics may be nil.
func NewStore(cache Cache, history History, logger *slog.Logger, metrics *telemetry.Metrics) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	if cache == nil {
		cache = nopCache{}
	}
	return &Store{
		cache:   cache,
		history: history,
		logger:  logger.With("component", "session_store"),
		metrics: metrics,
		locks:   make(map[string]*sessionLock),
	}
}

// lock acquires the per-session mutex and returns its release func.
// Lock entries are reference counted and removed when idle so the map
// does not grow with the total number of sessions ever seen.
func (s *Store) lock(sessionID string) func() {
	s.mu.Lock()
	l, ok := s.locks[sessionID]
	if !ok {
		l = &sessionLock{}
		s.locks[sessionID] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()

	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, sessionID)
		}
		s.mu.Unlock()
	}
}

// History returns the session's ordered message list: cache first, then
// durable fallback with cache repopulation on a fallback hit. A cache
// failure costs one durable read, never the operation.
func (s *Store) History(ctx context.Context, sessionID string) ([]Message, error) {
	unlock := s.lock(sessionID)
	defer unlock()

	return s.historyLocked(ctx, sessionID)
}

func (s *Store) historyLocked(ctx context.Context, sessionID string) ([]Message, error) {
	messages, ok, err := s.cache.Load(ctx, sessionID)
	if err != nil {
		s.recordLookup("error")
		s.logger.Warn("hot tier read failed, falling back to durable tier",
			"session_id", sessionID, "error", err, correlation.Attr(ctx))
	} else if ok {
		s.recordLookup("hit")
		return messages, nil
	} else {
		s.recordLookup("miss")
	}

	messages, err = s.history.Messages(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if len(messages) > 0 {
		if err := s.cache.Replace(ctx, sessionID, messages); err != nil {
			s.logger.Warn("hot tier repopulation failed",
				"session_id", sessionID, "error", err, correlation.Attr(ctx))
		}
	}

	return messages, nil
}

// Append persists one message. The durable tier is written first so a
// hot-tier loss at any point cannot lose the message; cache failures are
// swallowed and only logged.
func (s *Store) Append(ctx context.Context, sessionID string, message Message) error {
	unlock := s.lock(sessionID)
	defer unlock()

	if err := s.history.Record(ctx, sessionID, message); err != nil {
		return err
	}

	if err := s.cache.Append(ctx, sessionID, message); err != nil {
		s.logger.Warn("hot tier append failed",
			"session_id", sessionID, "error", err, correlation.Attr(ctx))
	}

	return nil
}

// AppendExchange persists a user/assistant pair under one per-session
// critical section so concurrent invocations for the same session cannot
// interleave their pairs.
func (s *Store) AppendExchange(ctx context.Context, sessionID string, user, assistant Message) error {
	unlock := s.lock(sessionID)
	defer unlock()

	for _, m := range []Message{user, assistant} {
		if err := s.history.Record(ctx, sessionID, m); err != nil {
			return err
		}
		if err := s.cache.Append(ctx, sessionID, m); err != nil {
			s.logger.Warn("hot tier append failed",
				"session_id", sessionID, "error", err, correlation.Attr(ctx))
		}
	}

	return nil
}

// Invalidate drops the session from the hot tier, forcing the next read
// through the durable tier.
func (s *Store) Invalidate(ctx context.Context, sessionID string) error {
	unlock := s.lock(sessionID)
	defer unlock()

	return s.cache.Clear(ctx, sessionID)
}

// nopCache stands in when no hot tier is configured: every read is a
// miss, every write succeeds without storing anything.
type nopCache struct{}

func (nopCache) Load(context.Context, string) ([]Message, bool, error) { return nil, false, nil }
func (nopCache) Replace(context.Context, string, []Message) error     { return nil }
func (nopCache) Append(context.Context, string, Message) error        { return nil }
func (nopCache) Clear(context.Context, string) error                  { return nil }

func (s *Store) recordLookup(result string) {
	if s.metrics != nil {
		s.metrics.RecordCacheLookup(result)
	}
}
