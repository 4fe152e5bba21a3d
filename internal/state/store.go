// internal/state/store.go
package state

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"
)

const (
	stateFileName = "state.json"
	snapshotDir   = "snapshots"
)

// Store owns the durable AgentState. Every mutator persists synchronously
// before returning, so readers of the state file or snapshots never observe a
// partially applied change. All methods are safe for concurrent use.
type Store struct {
	mu     sync.Mutex
	path   string
	snaps  string
	logger *zap.Logger
	state  *AgentState

	// now is a test seam; defaults to time.Now.
	now func() time.Time
}

// NewStore loads the persisted state from dataDir, falling back to defaults
// when the file is absent or corrupt. Corruption is never fatal.
func NewStore(dataDir string, logger *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(dataDir, snapshotDir), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	s := &Store{
		path:   filepath.Join(dataDir, stateFileName),
		snaps:  filepath.Join(dataDir, snapshotDir),
		logger: logger.Named("state_store"),
		now:    time.Now,
	}
	s.state = s.load()
	return s, nil
}

func (s *Store) load() *AgentState {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("State file unreadable; starting from defaults.", zap.Error(err))
		}
		return New(s.now())
	}

	loaded := &AgentState{}
	if err := json.Unmarshal(raw, loaded); err != nil {
		s.logger.Warn("State file corrupt; starting from defaults.", zap.Error(err))
		return New(s.now())
	}
	loaded.Normalize(s.now())
	return loaded
}

// State returns a deep copy of the current agent state.
func (s *Store) State() AgentState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Clone()
}

// Save persists the full state, refreshing the derived time-since-last-action
// field first.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persistLocked()
}

func (s *Store) persistLocked() error {
	s.state.TimeSinceLastAction = s.state.SinceLastAction(s.now())

	raw, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal agent state: %w", err)
	}
	if err := os.WriteFile(s.path, raw, 0o644); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	return nil
}

// Snapshot writes a timestamped full-state copy into the snapshot directory.
func (s *Store) Snapshot() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.TimeSinceLastAction = s.state.SinceLastAction(s.now())
	raw, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	name := fmt.Sprintf("state-%s.json", s.now().UTC().Format("20060102T150405Z"))
	if err := os.WriteFile(filepath.Join(s.snaps, name), raw, 0o644); err != nil {
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	return nil
}

// mutate applies fn under the lock and persists before returning.
func (s *Store) mutate(fn func(*AgentState)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.state)
	return s.persistLocked()
}

// SetGoal updates the goal and mode together.
func (s *Store) SetGoal(goal string, mode Mode) error {
	return s.mutate(func(st *AgentState) {
		st.Goal = goal
		switch mode {
		case ModeGoal, ModeFreeroam:
			st.Mode = mode
		}
	})
}

// SetTask updates the current sub-task description.
func (s *Store) SetTask(task string) error {
	return s.mutate(func(st *AgentState) { st.Task = task })
}

// SetActiveWindow updates the local time-of-day activity bounds.
func (s *Store) SetActiveWindow(start, stop string) error {
	return s.mutate(func(st *AgentState) {
		st.ActiveWindowStart = start
		st.ActiveWindowStop = stop
	})
}

func (s *Store) MarkActive() error {
	return s.mutate(func(st *AgentState) { st.Status = StatusActive })
}

func (s *Store) MarkSleeping() error {
	return s.mutate(func(st *AgentState) { st.Status = StatusSleeping })
}

func (s *Store) MarkStopped() error {
	return s.mutate(func(st *AgentState) { st.Status = StatusStopped })
}

// UpdateMonologue overwrites the reflection summary.
func (s *Store) UpdateMonologue(reflection string) error {
	return s.mutate(func(st *AgentState) { st.MonologueSummary = reflection })
}

// UpdateAfterAction folds an executed action summary into the state.
func (s *Store) UpdateAfterAction(summary string) error {
	return s.mutate(func(st *AgentState) { st.UpdateAfterAction(summary, s.now()) })
}

// DecayAffect applies multiplicative decay and persists.
func (s *Store) DecayAffect(rate float64) error {
	return s.mutate(func(st *AgentState) { st.DecayAffect(rate) })
}

// StimulateAffect applies an additive stimulus and persists.
func (s *Store) StimulateAffect(delta float64) error {
	return s.mutate(func(st *AgentState) { st.StimulateAffect(delta) })
}

// InActiveWindow reports whether the agent is inside its activity window now.
func (s *Store) InActiveWindow(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.InActiveWindow(now)
}
