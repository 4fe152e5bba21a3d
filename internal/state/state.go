// internal/state/state.go
package state

import (
	"time"
)

// AffectSize is the fixed length of the affect vector.
const AffectSize = 10

// defaultAffect is the resting intensity each component starts at.
const defaultAffect = 0.2

// Mode describes what is driving the agent.
type Mode string

const (
	ModeGoal     Mode = "GOAL"
	ModeFreeroam Mode = "FREEROAM"
)

// Status is the agent's lifecycle state. STOPPED is terminal until a new
// start request arrives; ACTIVE and SLEEPING toggle with the activity window.
type Status string

const (
	StatusActive   Status = "ACTIVE"
	StatusSleeping Status = "SLEEPING"
	StatusStopped  Status = "STOPPED"
)

// AgentState is the single mutable record of the agent's situation. It is
// pure data plus derived queries; all persistence lives in Store.
type AgentState struct {
	Mode             Mode       `json:"mode"`
	Goal             string     `json:"goal"`
	Task             string     `json:"task"`
	LastAction       string     `json:"last_action"`
	LastActionTime   *time.Time `json:"last_action_time,omitempty"`
	Status           Status     `json:"status"`
	MonologueSummary string     `json:"monologue_summary"`

	// Affect simulates emotional intensity: AffectSize floats in [0,1],
	// decayed while sleeping and stimulated by activity.
	Affect []float64 `json:"affect"`

	SessionStart time.Time `json:"session_start"`

	// Local time-of-day bounds ("HH:MM"). When either is empty the agent is
	// always considered inside its active window.
	ActiveWindowStart string `json:"active_window_start,omitempty"`
	ActiveWindowStop  string `json:"active_window_stop,omitempty"`

	// Derived at save time; seconds since LastActionTime, floored at 0.
	TimeSinceLastAction *float64 `json:"time_since_last_action,omitempty"`
}

// New returns a fresh AgentState with every field at its default.
func New(now time.Time) *AgentState {
	affect := make([]float64, AffectSize)
	for i := range affect {
		affect[i] = defaultAffect
	}
	return &AgentState{
		Mode:         ModeGoal,
		Status:       StatusStopped,
		Affect:       affect,
		SessionStart: now.UTC(),
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Normalize repairs a state loaded from storage: unknown enums fall back to
// defaults and the affect vector is forced to shape and bounds.
func (s *AgentState) Normalize(now time.Time) {
	switch s.Mode {
	case ModeGoal, ModeFreeroam:
	default:
		s.Mode = ModeGoal
	}
	switch s.Status {
	case StatusActive, StatusSleeping, StatusStopped:
	default:
		s.Status = StatusStopped
	}
	if len(s.Affect) != AffectSize {
		affect := make([]float64, AffectSize)
		for i := range affect {
			affect[i] = defaultAffect
			if i < len(s.Affect) {
				affect[i] = s.Affect[i]
			}
		}
		s.Affect = affect
	}
	for i, v := range s.Affect {
		s.Affect[i] = clamp01(v)
	}
	if s.SessionStart.IsZero() {
		s.SessionStart = now.UTC()
	}
}

// DecayAffect multiplies every component by (1-rate) and re-clamps.
func (s *AgentState) DecayAffect(rate float64) {
	for i, v := range s.Affect {
		s.Affect[i] = clamp01(v * (1 - rate))
	}
}

// StimulateAffect adds delta to every component and re-clamps.
func (s *AgentState) StimulateAffect(delta float64) {
	for i, v := range s.Affect {
		s.Affect[i] = clamp01(v + delta)
	}
}

// UpdateAfterAction records an executed action summary. The monologue is only
// seeded when it was previously empty; reflection overwrites it explicitly.
func (s *AgentState) UpdateAfterAction(summary string, now time.Time) {
	ts := now.UTC()
	s.LastAction = summary
	s.LastActionTime = &ts
	s.Status = StatusActive
	if s.MonologueSummary == "" {
		s.MonologueSummary = summary
	}
}

// SinceLastAction returns the seconds elapsed since the last executed action,
// floored at zero, or nil if no action was ever executed.
func (s *AgentState) SinceLastAction(now time.Time) *float64 {
	if s.LastActionTime == nil {
		return nil
	}
	secs := now.UTC().Sub(*s.LastActionTime).Seconds()
	if secs < 0 {
		secs = 0
	}
	return &secs
}

// InActiveWindow reports whether the local wall clock falls inside the
// configured activity window. With either bound unset the window is open.
func (s *AgentState) InActiveWindow(now time.Time) bool {
	if s.ActiveWindowStart == "" || s.ActiveWindowStop == "" {
		return true
	}
	start, err := time.Parse("15:04", s.ActiveWindowStart)
	if err != nil {
		return true
	}
	stop, err := time.Parse("15:04", s.ActiveWindowStop)
	if err != nil {
		return true
	}
	cur := now.Hour()*60 + now.Minute()
	lo := start.Hour()*60 + start.Minute()
	hi := stop.Hour()*60 + stop.Minute()
	return lo <= cur && cur <= hi
}

// Clone returns a deep copy safe to hand to concurrent readers.
func (s *AgentState) Clone() AgentState {
	out := *s
	out.Affect = append([]float64(nil), s.Affect...)
	if s.LastActionTime != nil {
		t := *s.LastActionTime
		out.LastActionTime = &t
	}
	if s.TimeSinceLastAction != nil {
		v := *s.TimeSinceLastAction
		out.TimeSinceLastAction = &v
	}
	return out
}
