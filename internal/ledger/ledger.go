// Package ledger maintains the in-memory per-user activity history the
// detection rules evaluate against. State is process-local and sharded;
// only derived suspicious events are ever persisted.
package ledger

import (
	"hash/fnv"
	"sync"
	"time"

	"github.com/luminex/warden/internal/domain"
)

const (
	// MaxActions bounds the per-user FIFO; the oldest record is evicted
	// when a new one would exceed it.
	MaxActions = 200

	// statsWindow is the trailing window used for rate statistics.
	statsWindow = 60 * time.Second

	shardCount = 32
)

// userState is the mutable per-user ledger entry. Guarded by its shard lock.
type userState struct {
	actions          []domain.ActionRecord
	suspiciousCount  int
	lastSuspiciousAt time.Time
	firstActionAt    time.Time
	lastActionAt     time.Time
}

type shard struct {
	mu    sync.RWMutex
	users map[string]*userState
}

// Ledger is a sharded, concurrency-safe map of user activity states.
type Ledger struct {
	shards [shardCount]*shard
}

// New creates an empty ledger.
func New() *Ledger {
	l := &Ledger{}
	for i := range l.shards {
		l.shards[i] = &shard{users: make(map[string]*userState)}
	}
	return l
}

func (l *Ledger) shardFor(userID string) *shard {
	h := fnv.New32a()
	h.Write([]byte(userID))
	return l.shards[h.Sum32()%shardCount]
}

// Append records an action in the user's history, creating the ledger entry
// lazily on first sight. Never fails.
func (l *Ledger) Append(record *domain.ActionRecord) {
	userID := domain.NormalizeUserID(record.UserID)
	s := l.shardFor(userID)

	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.users[userID]
	if !ok {
		state = &userState{
			actions:       make([]domain.ActionRecord, 0, 16),
			firstActionAt: record.Timestamp,
		}
		s.users[userID] = state
	}

	if len(state.actions) >= MaxActions {
		// Evict oldest; shift in place to keep the backing array
		copy(state.actions, state.actions[1:])
		state.actions = state.actions[:len(state.actions)-1]
	}

	state.actions = append(state.actions, *record)
	state.lastActionAt = record.Timestamp
}

// Snapshot is a point-in-time copy of a user's ledger state. Safe to read
// without holding any lock.
type Snapshot struct {
	UserID           string
	Actions          []domain.ActionRecord
	SuspiciousCount  int
	LastSuspiciousAt time.Time
	FirstActionAt    time.Time
	LastActionAt     time.Time
}

// Last returns up to n most recent actions, oldest first.
func (s *Snapshot) Last(n int) []domain.ActionRecord {
	if n <= 0 || len(s.Actions) == 0 {
		return nil
	}
	if n > len(s.Actions) {
		n = len(s.Actions)
	}
	return s.Actions[len(s.Actions)-n:]
}

// CountSince returns the number of actions with timestamp after t.
func (s *Snapshot) CountSince(t time.Time) int {
	// Walk backwards; recent actions live at the tail.
	count := 0
	for i := len(s.Actions) - 1; i >= 0; i-- {
		if !s.Actions[i].Timestamp.After(t) {
			break
		}
		count++
	}
	return count
}

// Snapshot returns a copy of the user's state, or nil if no ledger exists.
func (l *Ledger) Snapshot(userID string) *Snapshot {
	userID = domain.NormalizeUserID(userID)
	s := l.shardFor(userID)

	s.mu.RLock()
	defer s.mu.RUnlock()

	state, ok := s.users[userID]
	if !ok {
		return nil
	}

	actions := make([]domain.ActionRecord, len(state.actions))
	copy(actions, state.actions)

	return &Snapshot{
		UserID:           userID,
		Actions:          actions,
		SuspiciousCount:  state.suspiciousCount,
		LastSuspiciousAt: state.lastSuspiciousAt,
		FirstActionAt:    state.firstActionAt,
		LastActionAt:     state.lastActionAt,
	}
}

// MarkSuspicious increments the user's strike counter and stamps the
// cooldown start. Returns the new counter value. A ledger entry is created
// if none exists so that score-only abusers still accumulate strikes.
func (l *Ledger) MarkSuspicious(userID string, at time.Time) int {
	userID = domain.NormalizeUserID(userID)
	s := l.shardFor(userID)

	s.mu.Lock()
	defer s.mu.Unlock()

	state, ok := s.users[userID]
	if !ok {
		state = &userState{firstActionAt: at}
		s.users[userID] = state
	}

	state.suspiciousCount++
	state.lastSuspiciousAt = at
	return state.suspiciousCount
}

// ResetSuspicious zeroes the strike counter and cooldown without touching
// the action history. Administrative "forgive" operation.
func (l *Ledger) ResetSuspicious(userID string) {
	userID = domain.NormalizeUserID(userID)
	s := l.shardFor(userID)

	s.mu.Lock()
	defer s.mu.Unlock()

	if state, ok := s.users[userID]; ok {
		state.suspiciousCount = 0
		state.lastSuspiciousAt = time.Time{}
	}
}

// Clear deletes the user's ledger entirely. Administrative remediation.
func (l *Ledger) Clear(userID string) {
	userID = domain.NormalizeUserID(userID)
	s := l.shardFor(userID)

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.users, userID)
}

// Stats summarizes the user's recent activity, or nil if no ledger exists.
func (l *Ledger) Stats(userID string, now time.Time) *domain.ActivityStats {
	snap := l.Snapshot(userID)
	if snap == nil {
		return nil
	}

	windowStart := now.Add(-statsWindow)
	recent := snap.CountSince(windowStart)

	stats := &domain.ActivityStats{
		UserID:           snap.UserID,
		TotalActions:     len(snap.Actions),
		RecentActions:    recent,
		SuspiciousCount:  snap.SuspiciousCount,
		LastSuspiciousAt: snap.LastSuspiciousAt,
		FirstActionAt:    snap.FirstActionAt,
		LastActionAt:     snap.LastActionAt,
	}

	if recent > 1 {
		window := snap.Last(recent)
		span := window[len(window)-1].Timestamp.Sub(window[0].Timestamp)
		stats.AvgIntervalMs = float64(span.Milliseconds()) / float64(recent-1)
	}
	if recent > 0 {
		stats.ActionsPerSecond = float64(recent) / statsWindow.Seconds()
	}

	return stats
}

// Users returns the number of tracked users. Used by health reporting.
func (l *Ledger) Users() int {
	total := 0
	for _, s := range l.shards {
		s.mu.RLock()
		total += len(s.users)
		s.mu.RUnlock()
	}
	return total
}
