package services

import (
	"context"
	"sync"
	"time"

	"chatflow/signaling/utils"
)

// PresenceStore holds each user's last-heartbeat timestamp. Two
// implementations exist: the in-memory store below and the Redis-backed one
// in presence_redis.go for multi-instance deployments.
type PresenceStore interface {
	// Touch records a heartbeat for userID at time ts. Last write wins;
	// lost updates are acceptable since only the most recent beat matters.
	Touch(ctx context.Context, userID string, ts time.Time) error
	// LastSeen returns the recorded timestamp, or ok=false when the user
	// has never heartbeaten.
	LastSeen(ctx context.Context, userID string) (ts time.Time, ok bool, err error)
}

// PresenceService derives online status from heartbeat freshness. A user is
// online while their last beat is younger than the window; the window must
// exceed the heartbeat interval so a single missed beat does not flap the
// status.
type PresenceService struct {
	store  PresenceStore
	window time.Duration
	logger *utils.Logger

	// now is swappable for tests
	now func() time.Time
}

func NewPresenceService(store PresenceStore, window time.Duration, logger *utils.Logger) *PresenceService {
	return &PresenceService{
		store:  store,
		window: window,
		logger: logger,
		now:    time.Now,
	}
}

// Heartbeat records that userID is alive right now. Idempotent. An unknown
// identity is not an error; the user directory is someone else's problem,
// this service only tracks timestamps.
func (ps *PresenceService) Heartbeat(ctx context.Context, userID string) error {
	if err := ps.store.Touch(ctx, userID, ps.now()); err != nil {
		return err
	}
	ps.logger.Debug("heartbeat", "user_id", userID)
	return nil
}

// IsOnline reports whether userID heartbeaten within the freshness window.
// Unknown users are offline.
func (ps *PresenceService) IsOnline(ctx context.Context, userID string) (bool, error) {
	lastSeen, ok, err := ps.store.LastSeen(ctx, userID)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	return ps.now().Sub(lastSeen) < ps.window, nil
}

// LastSeen exposes the raw timestamp for rendering "last seen at ...".
func (ps *PresenceService) LastSeen(ctx context.Context, userID string) (time.Time, bool, error) {
	return ps.store.LastSeen(ctx, userID)
}

// MemoryPresenceStore keeps liveness records in a plain map. Records are
// overwritten on each beat and never deleted.
type MemoryPresenceStore struct {
	mu       sync.RWMutex
	lastSeen map[string]time.Time
}

func NewMemoryPresenceStore() *MemoryPresenceStore {
	return &MemoryPresenceStore{
		lastSeen: make(map[string]time.Time),
	}
}

func (s *MemoryPresenceStore) Touch(_ context.Context, userID string, ts time.Time) error {
	s.mu.Lock()
	s.lastSeen[userID] = ts
	s.mu.Unlock()
	return nil
}

func (s *MemoryPresenceStore) LastSeen(_ context.Context, userID string) (time.Time, bool, error) {
	s.mu.RLock()
	ts, ok := s.lastSeen[userID]
	s.mu.RUnlock()
	return ts, ok, nil
}
