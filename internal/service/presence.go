package service

import (
	"sort"
	"time"

	"harmonic-universe/internal/domain"
)

// PresenceConfig carries the presence timings. These were hard-coded in
// earlier iterations; they are configuration now so deployments can tune
// them without touching logic.
type PresenceConfig struct {
	// InactivityToAway is how long a user may be idle before online flips
	// to away.
	InactivityToAway time.Duration
	// OfflineGracePeriod delays the offline transition after a disconnect
	// so rapid reconnect cycles do not flicker, and bounds how long an
	// away user may stay idle before going offline.
	OfflineGracePeriod time.Duration
	// HeartbeatInterval is advertised to clients; any inbound frame counts
	// as a heartbeat.
	HeartbeatInterval time.Duration
	// SweepInterval is how often a room worker applies timeout transitions.
	SweepInterval time.Duration
	// HistoryTTL bounds how long an offline record is retained before it is
	// purged.
	HistoryTTL time.Duration
}

// WithDefaults fills unset durations.
func (c PresenceConfig) WithDefaults() PresenceConfig {
	if c.InactivityToAway <= 0 {
		c.InactivityToAway = 5 * time.Minute
	}
	if c.OfflineGracePeriod <= 0 {
		c.OfflineGracePeriod = time.Minute
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = 10 * time.Second
	}
	if c.HistoryTTL <= 0 {
		c.HistoryTTL = 24 * time.Hour
	}
	return c
}

// PresenceTransition reports one status change produced by a sweep.
type PresenceTransition struct {
	Record domain.PresenceRecord
	From   domain.PresenceStatus
	To     domain.PresenceStatus
}

type presenceEntry struct {
	rec            domain.PresenceRecord
	disconnectedAt *time.Time
	offlineAt      *time.Time
}

// PresenceTracker holds the presence records of one room. It is owned by the
// room's worker goroutine and is not safe for concurrent use; at most one
// record exists per user.
type PresenceTracker struct {
	cfg     PresenceConfig
	entries map[uint]*presenceEntry
}

func NewPresenceTracker(cfg PresenceConfig) *PresenceTracker {
	return &PresenceTracker{
		cfg:     cfg.WithDefaults(),
		entries: make(map[uint]*presenceEntry),
	}
}

// Join creates or revives the user's record as online. A revive within the
// grace period cancels the pending offline transition, so a fast reconnect
// never shows as offline.
func (t *PresenceTracker) Join(userID uint, username string, now time.Time) domain.PresenceRecord {
	e, ok := t.entries[userID]
	if !ok {
		e = &presenceEntry{rec: domain.PresenceRecord{
			UserID:   userID,
			Username: username,
		}}
		t.entries[userID] = e
	}
	e.rec.Status = domain.StatusOnline
	e.rec.Username = username
	e.disconnectedAt = nil
	e.offlineAt = nil
	t.touch(e, now)
	return e.rec.Clone()
}

// RecordActivity marks the user online from any state and bumps LastActive.
// The second return is false when the user has no record in this room.
func (t *PresenceTracker) RecordActivity(userID uint, label string, now time.Time) (domain.PresenceRecord, bool) {
	e, ok := t.entries[userID]
	if !ok {
		return domain.PresenceRecord{}, false
	}
	e.rec.Status = domain.StatusOnline
	if label != "" {
		e.rec.ActivityLabel = label
	}
	e.offlineAt = nil
	t.touch(e, now)
	return e.rec.Clone(), true
}

// RecordCursor updates the user's cursor. Moving the cursor is activity.
func (t *PresenceTracker) RecordCursor(userID uint, pos domain.Cursor, now time.Time) (domain.PresenceRecord, bool) {
	e, ok := t.entries[userID]
	if !ok {
		return domain.PresenceRecord{}, false
	}
	c := pos
	e.rec.Cursor = &c
	e.rec.Status = domain.StatusOnline
	e.offlineAt = nil
	t.touch(e, now)
	return e.rec.Clone(), true
}

// SetStatus applies an explicit status change (e.g. busy). Setting online is
// equivalent to activity.
func (t *PresenceTracker) SetStatus(userID uint, status domain.PresenceStatus, now time.Time) (domain.PresenceRecord, bool) {
	e, ok := t.entries[userID]
	if !ok {
		return domain.PresenceRecord{}, false
	}
	e.rec.Status = status
	if status == domain.StatusOffline {
		at := now
		e.offlineAt = &at
		e.rec.Cursor = nil
	} else {
		e.offlineAt = nil
	}
	t.touch(e, now)
	return e.rec.Clone(), true
}

// Detach marks the user's connection as gone and starts the offline grace
// period. The record itself survives until the grace elapses.
func (t *PresenceTracker) Detach(userID uint, now time.Time) {
	if e, ok := t.entries[userID]; ok {
		at := now
		e.disconnectedAt = &at
	}
}

// Sweep applies timeout transitions and purges expired offline records.
// Returned transitions are ordered by user id so fan-out is deterministic.
func (t *PresenceTracker) Sweep(now time.Time) []PresenceTransition {
	var out []PresenceTransition
	for userID, e := range t.entries {
		from := e.rec.Status
		switch {
		case e.offlineAt != nil:
			if now.Sub(*e.offlineAt) >= t.cfg.HistoryTTL {
				delete(t.entries, userID)
			}

		case e.disconnectedAt != nil && now.Sub(*e.disconnectedAt) >= t.cfg.OfflineGracePeriod:
			t.markOffline(e, now)
			out = append(out, PresenceTransition{Record: e.rec.Clone(), From: from, To: domain.StatusOffline})

		case e.rec.Status == domain.StatusOnline && now.Sub(e.rec.LastActive) >= t.cfg.InactivityToAway:
			e.rec.Status = domain.StatusAway
			out = append(out, PresenceTransition{Record: e.rec.Clone(), From: from, To: domain.StatusAway})

		case e.rec.Status == domain.StatusAway && now.Sub(e.rec.LastActive) >= t.cfg.InactivityToAway+t.cfg.OfflineGracePeriod:
			t.markOffline(e, now)
			out = append(out, PresenceTransition{Record: e.rec.Clone(), From: from, To: domain.StatusOffline})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Record.UserID < out[j].Record.UserID })
	return out
}

// Snapshot returns every retained record ordered by user id.
func (t *PresenceTracker) Snapshot() []domain.PresenceRecord {
	out := make([]domain.PresenceRecord, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, e.rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// Record returns the current record for one user.
func (t *PresenceTracker) Record(userID uint) (domain.PresenceRecord, bool) {
	e, ok := t.entries[userID]
	if !ok {
		return domain.PresenceRecord{}, false
	}
	return e.rec.Clone(), true
}

// Len reports how many records are retained, including offline history.
func (t *PresenceTracker) Len() int { return len(t.entries) }

func (t *PresenceTracker) markOffline(e *presenceEntry, now time.Time) {
	e.rec.Status = domain.StatusOffline
	e.rec.Cursor = nil
	e.disconnectedAt = nil
	at := now
	e.offlineAt = &at
}

// touch bumps LastActive, never backwards.
func (t *PresenceTracker) touch(e *presenceEntry, now time.Time) {
	if now.After(e.rec.LastActive) {
		e.rec.LastActive = now
	}
}
