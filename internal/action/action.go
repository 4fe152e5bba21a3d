// internal/action/action.go
package action

import (
	"fmt"
	"strconv"
	"strings"
)

// Kind enumerates the fixed action vocabulary a plan may use. Steps with any
// other kind are dropped at parse time.
type Kind string

const (
	KindMove        Kind = "MOVE"
	KindClick       Kind = "CLICK"
	KindDoubleClick Kind = "DOUBLE_CLICK"
	KindDrag        Kind = "DRAG"
	KindScroll      Kind = "SCROLL"
	KindType        Kind = "TYPE"
	KindKeypress    Kind = "KEYPRESS"
	KindWait        Kind = "WAIT"
	KindFocusWindow Kind = "FOCUS_WINDOW"
)

// SupportedKinds lists the vocabulary in a stable order, for prompts.
var SupportedKinds = []Kind{
	KindMove, KindClick, KindDoubleClick, KindDrag, KindScroll,
	KindType, KindKeypress, KindWait, KindFocusWindow,
}

var supportedKindSet = func() map[Kind]struct{} {
	set := make(map[Kind]struct{}, len(SupportedKinds))
	for _, k := range SupportedKinds {
		set[k] = struct{}{}
	}
	return set
}()

// Bounds applied at construction. Out-of-range values clamp rather than
// reject; only an unknown kind drops a step.
const (
	MaxWaitSeconds = 30.0
	MinRepeat      = 1
	MaxRepeat      = 10
	MinHoldMillis  = 0
	MaxHoldMillis  = 2000
)

// Target is a normalized rectangle on the observed surface: x and y in [0,1],
// optional width/height.
type Target struct {
	X      float64  `json:"x"`
	Y      float64  `json:"y"`
	Width  *float64 `json:"width,omitempty"`
	Height *float64 `json:"height,omitempty"`
}

// ScrollDelta carries the optional scroll amounts of a SCROLL step.
type ScrollDelta struct {
	DX float64 `json:"dx"`
	DY float64 `json:"dy"`
}

// Step is one parsed, bounds-checked unit of a plan.
type Step struct {
	Kind            Kind         `json:"action"`
	Confidence      float64      `json:"confidence"`
	Rationale       string       `json:"rationale,omitempty"`
	ExpectedOutcome string       `json:"expected_outcome,omitempty"`
	Target          *Target      `json:"target,omitempty"`
	Text            string       `json:"text,omitempty"`
	Keys            []string     `json:"keys,omitempty"`
	Scroll          *ScrollDelta `json:"scroll,omitempty"`
	WaitSeconds     float64      `json:"wait_seconds,omitempty"`
	Repeat          int          `json:"repeat,omitempty"`
	HoldMillis      int          `json:"hold_ms,omitempty"`
}

// Plan is the ordered sequence of steps produced for one tick. May be empty.
type Plan struct {
	Steps []Step
}

// RawPlan is the loose wire shape a planner backend produces. Field values
// are left untyped so a sloppy backend (strings for numbers, nulls, missing
// keys) degrades to clamped defaults instead of a parse failure.
type RawPlan struct {
	Actions []map[string]any `json:"actions"`
}

// ParsePlan converts a raw plan into ordered Steps, clamping numeric fields
// and dropping steps whose kind is outside the vocabulary. A missing kind
// defaults to WAIT.
func ParsePlan(raw *RawPlan) *Plan {
	plan := &Plan{}
	if raw == nil {
		return plan
	}
	for _, rawStep := range raw.Actions {
		if step, ok := parseStep(rawStep); ok {
			plan.Steps = append(plan.Steps, step)
		}
	}
	return plan
}

func parseStep(raw map[string]any) (Step, bool) {
	kind := KindWait
	if v, ok := raw["action"]; ok {
		if s := asString(v); s != "" {
			kind = Kind(strings.ToUpper(strings.TrimSpace(s)))
		}
	}
	if _, ok := supportedKindSet[kind]; !ok {
		return Step{}, false
	}

	step := Step{
		Kind:            kind,
		Confidence:      clampFloat(asFloat(raw["confidence"], 0), 0, 1),
		Rationale:       asString(raw["rationale"]),
		ExpectedOutcome: asString(raw["expected_outcome"]),
		Text:            asString(raw["text"]),
		Keys:            asStringSlice(raw["keys"]),
		WaitSeconds:     clampFloat(asFloat(raw["wait_seconds"], 0), 0, MaxWaitSeconds),
		Repeat:          clampInt(asInt(raw["repeat"], MinRepeat), MinRepeat, MaxRepeat),
		HoldMillis:      clampInt(asInt(raw["hold_ms"], MinHoldMillis), MinHoldMillis, MaxHoldMillis),
	}

	if t, ok := raw["target"].(map[string]any); ok {
		target := &Target{
			X: clampFloat(asFloat(t["x"], 0), 0, 1),
			Y: clampFloat(asFloat(t["y"], 0), 0, 1),
		}
		if w, ok := t["width"]; ok {
			v := clampFloat(asFloat(w, 0), 0, 1)
			target.Width = &v
		}
		if h, ok := t["height"]; ok {
			v := clampFloat(asFloat(h, 0), 0, 1)
			target.Height = &v
		}
		step.Target = target
	}

	if sc, ok := raw["scroll"].(map[string]any); ok {
		step.Scroll = &ScrollDelta{
			DX: asFloat(sc["dx"], 0),
			DY: asFloat(sc["dy"], 0),
		}
	}

	return step, true
}

// Summary renders the short human-readable line logged for an executed step.
func (s *Step) Summary() string {
	if s.Kind == KindKeypress && len(s.Keys) > 0 {
		combo := strings.Join(s.Keys, "+")
		rep := ""
		if s.Repeat > 1 {
			rep = fmt.Sprintf(" x%d", s.Repeat)
		}
		hold := ""
		if s.HoldMillis > 0 {
			hold = fmt.Sprintf(" hold=%dms", s.HoldMillis)
		}
		return fmt.Sprintf("%s(%s%s%s) (%.2f)", s.Kind, combo, rep, hold, s.Confidence)
	}

	targetDesc := ""
	if s.Target != nil {
		targetDesc = fmt.Sprintf(" @ (%.2f,%.2f)", s.Target.X, s.Target.Y)
	}
	return fmt.Sprintf("%s%s (%.2f)", s.Kind, targetDesc, s.Confidence)
}

// FallbackPlan builds the single-WAIT plan used whenever planning fails or is
// locally suppressed; the reason travels in the rationale.
func FallbackPlan(reason string) *Plan {
	if reason == "" {
		reason = "Holding until a fresh plan is available."
	}
	return &Plan{Steps: []Step{{
		Kind:            KindWait,
		Confidence:      0.5,
		Rationale:       reason,
		ExpectedOutcome: "Agent remains idle.",
		WaitSeconds:     2.0,
		Repeat:          MinRepeat,
	}}}
}

// -- loose value coercion helpers --

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asFloat(v any, def float64) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(n), 64); err == nil {
			return f
		}
	}
	return def
}

func asInt(v any, def int) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case string:
		if i, err := strconv.Atoi(strings.TrimSpace(n)); err == nil {
			return i
		}
	}
	return def
}

func asStringSlice(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, item := range items {
		if s := asString(item); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
