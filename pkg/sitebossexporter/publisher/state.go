package publisher

import (
	"sync"
	"time"

	"github.com/vpbank/siteboss_exporter/models"
)

// PollState is a copy of the poll bookkeeping at one instant.
type PollState struct {
	// Snapshot and Summary are the last successfully published values; they
	// are retained across failed cycles. HasSnapshot is false until the first
	// success.
	Snapshot    models.TelemetrySnapshot
	Summary     models.Summary
	HasSnapshot bool

	LastSuccess         time.Time
	LastFailure         time.Time
	LastError           string
	LastFailedStage     string
	ConsecutiveFailures int
	Cycles              uint64

	// Enabled is false while the loop is stopped.
	Enabled bool
}

// Stale reports whether no cycle has succeeded within maxAge of now.
func (s PollState) Stale(now time.Time, maxAge time.Duration) bool {
	if !s.HasSnapshot {
		return true
	}
	return now.Sub(s.LastSuccess) > maxAge
}

// Record returns the last published snapshot as a models.Record.
func (s PollState) Record() (models.Record, bool) {
	if !s.HasSnapshot {
		return models.Record{}, false
	}
	return models.NewRecord(s.Snapshot, s.Summary), true
}

// State guards PollState for one exporter. It is written by the poll loop
// and read by HTTP handlers.
type State struct {
	mu sync.RWMutex
	s  PollState
}

// NewState returns a State with the loop marked disabled.
func NewState() *State {
	return &State{}
}

// RecordSuccess stores a freshly published snapshot.
func (st *State) RecordSuccess(snap models.TelemetrySnapshot, sum models.Summary, at time.Time) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.s.Snapshot = snap
	st.s.Summary = sum
	st.s.HasSnapshot = true
	st.s.LastSuccess = at
	st.s.ConsecutiveFailures = 0
	st.s.Cycles++
}

// RecordFailure notes a failed cycle. The last snapshot is kept.
func (st *State) RecordFailure(stage string, err error, at time.Time) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.s.LastFailure = at
	st.s.LastFailedStage = stage
	if err != nil {
		st.s.LastError = err.Error()
	}
	st.s.ConsecutiveFailures++
	st.s.Cycles++
}

// SetEnabled flips the loop-enabled flag.
func (st *State) SetEnabled(enabled bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.s.Enabled = enabled
}

// Snapshot returns a copy of the current state. The sensor slice and summary
// maps are shared with the stored value and must not be modified.
func (st *State) Snapshot() PollState {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.s
}
