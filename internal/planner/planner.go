// internal/planner/planner.go
package planner

import (
	"context"
	"fmt"
	"strings"

	"github.com/xkilldash9x/marionette/internal/action"
	"github.com/xkilldash9x/marionette/internal/state"
)

// Metadata rides alongside a planning request: the observation fingerprint
// and a human-readable dimensions string for the prompt.
type Metadata struct {
	Fingerprint    string
	ScreenshotMeta string
}

// Planner turns the current agent state plus an optional observation into a
// raw plan. Implementations own their transport, timeouts and in-call
// retries; callers own cross-call backoff.
type Planner interface {
	Plan(ctx context.Context, st state.AgentState, screenshotB64 string, meta Metadata) (*action.RawPlan, error)
}

const promptTemplate = `You are an autonomous desktop agent. You control mouse and keyboard.
Respond ONLY with a single JSON object holding an "actions" array. No markdown. No code fences.

Allowed actions: %s
Required keys per action: action, confidence, rationale. Optional: target (x,y,width,height normalized 0..1), text, keys, scroll (dx,dy), wait_seconds, repeat, hold_ms, expected_outcome.

Grounding rules:
- All coordinates MUST be normalized (0..1) relative to the latest screenshot provided in this request.
- If no screenshot is provided, do NOT guess coordinates; prefer WAIT or keyboard actions.
- When clicking UI elements, choose a safe click point near the center of the intended element.
- If you are not confident you can target the correct element (confidence < 0.55), return WAIT and explain what you need to see next.
- Keep plans short (1-3 steps), deterministic, and in execution order. Observe before changing course.

Agent mode: %s
Current goal: %s
Current task: %s
Last action: %s
Inner monologue summary: %s
Affect vector (10 floats 0..1): %v
Active window: %s -> %s
Agent status: %s
Time since last action (s): %s
Screenshot provided this request: %t
Screenshot meta (width x height): %s
`

// BuildPrompt renders the shared planning prompt from the agent state.
func BuildPrompt(st state.AgentState, hasScreenshot bool, meta Metadata) string {
	kinds := make([]string, 0, len(action.SupportedKinds))
	for _, k := range action.SupportedKinds {
		kinds = append(kinds, string(k))
	}

	return fmt.Sprintf(promptTemplate,
		strings.Join(kinds, ", "),
		st.Mode,
		orPlaceholder(st.Goal, "<none>"),
		orPlaceholder(st.Task, "<none>"),
		orPlaceholder(st.LastAction, "<none>"),
		st.MonologueSummary,
		st.Affect,
		orPlaceholder(st.ActiveWindowStart, "<unset>"),
		orPlaceholder(st.ActiveWindowStop, "<unset>"),
		st.Status,
		sinceLastActionText(st),
		hasScreenshot,
		orPlaceholder(meta.ScreenshotMeta, "<unknown>"),
	)
}

func orPlaceholder(v, placeholder string) string {
	if v == "" {
		return placeholder
	}
	return v
}

func sinceLastActionText(st state.AgentState) string {
	if st.TimeSinceLastAction == nil {
		return "<never>"
	}
	return fmt.Sprintf("%.1f", *st.TimeSinceLastAction)
}
