package service

import (
	"encoding/json"
	"sort"
	"time"

	"harmonic-universe/internal/domain"
)

// SyncOutcome is the result of one parameter proposal. A conflict is data,
// not an error: the caller surfaces it to the author, who must resolve.
type SyncOutcome struct {
	Accepted bool
	// State is the accepted state (new version) on success, or the
	// untouched current state on conflict.
	State domain.ParameterState
	// Proposed echoes the author's value so a conflict can show both sides.
	Proposed json.RawMessage
}

// ParameterSynchronizer owns the accepted parameter state of one room. It is
// owned by the room's worker goroutine and is not safe for concurrent use.
//
// A proposal is accepted only when its base version equals the field's
// current version; versions strictly increase per field and two concurrent
// edits are never merged silently.
type ParameterSynchronizer struct {
	roomID uint
	states map[string]domain.ParameterState
}

// NewParameterSynchronizer seeds the synchronizer from the warm-start
// snapshot (Redis mirror, falling back to the database checkpoints). Later
// seed entries win on version so mixed sources are safe.
func NewParameterSynchronizer(roomID uint, seed []domain.ParameterState) *ParameterSynchronizer {
	s := &ParameterSynchronizer{
		roomID: roomID,
		states: make(map[string]domain.ParameterState, len(seed)),
	}
	for _, state := range seed {
		if cur, ok := s.states[state.FieldPath]; !ok || state.Version > cur.Version {
			state.RoomID = roomID
			s.states[state.FieldPath] = state
		}
	}
	return s
}

// Propose applies one field-level write with an optimistic version check.
// A missing field has current version 0, so the first write must carry base
// version 0.
func (s *ParameterSynchronizer) Propose(fieldPath []string, value json.RawMessage, baseVersion uint64, author uint, now time.Time) SyncOutcome {
	key := domain.JoinFieldPath(fieldPath)
	cur := s.states[key]

	if baseVersion != cur.Version {
		return SyncOutcome{
			Accepted: false,
			State:    cur.CloneFor(s.roomID, key),
			Proposed: cloneRaw(value),
		}
	}

	next := domain.ParameterState{
		RoomID:     s.roomID,
		FieldPath:  key,
		Value:      cloneRaw(value),
		Version:    cur.Version + 1,
		LastWriter: author,
		UpdatedAt:  now,
	}
	s.states[key] = next
	return SyncOutcome{Accepted: true, State: next, Proposed: cloneRaw(value)}
}

// BatchProposal pairs one propose input with its position in the batch.
type BatchProposal struct {
	FieldPath   []string
	Value       json.RawMessage
	BaseVersion uint64
}

// ProposeBatch checks every field independently. Accepted fields stand even
// when other fields of the same batch conflict; nothing is rolled back.
func (s *ParameterSynchronizer) ProposeBatch(proposals []BatchProposal, author uint, now time.Time) (accepted []SyncOutcome, conflicts []SyncOutcome) {
	for _, p := range proposals {
		outcome := s.Propose(p.FieldPath, p.Value, p.BaseVersion, author, now)
		if outcome.Accepted {
			accepted = append(accepted, outcome)
		} else {
			conflicts = append(conflicts, outcome)
		}
	}
	return accepted, conflicts
}

// Current returns the accepted state of one field; ok is false when the
// field was never written.
func (s *ParameterSynchronizer) Current(fieldPath []string) (domain.ParameterState, bool) {
	state, ok := s.states[domain.JoinFieldPath(fieldPath)]
	return state, ok
}

// Snapshot returns every tracked field ordered by path, for replay to
// joining sessions. With no interleaved writes, two snapshots are identical.
func (s *ParameterSynchronizer) Snapshot() []domain.ParameterState {
	out := make([]domain.ParameterState, 0, len(s.states))
	for _, state := range s.states {
		out = append(out, state)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FieldPath < out[j].FieldPath })
	return out
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	out := make(json.RawMessage, len(raw))
	copy(out, raw)
	return out
}
