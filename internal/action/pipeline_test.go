package action

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/marionette/internal/platform"
)

// recordingAdapter captures every actuation call for assertion.
type recordingAdapter struct {
	mu     sync.Mutex
	calls  []string
	width  int
	height int
	fail   map[string]error
}

func newRecordingAdapter(width, height int) *recordingAdapter {
	return &recordingAdapter{width: width, height: height, fail: map[string]error{}}
}

func (a *recordingAdapter) record(format string, args ...any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, fmt.Sprintf(format, args...))
}

func (a *recordingAdapter) Calls() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.calls...)
}

func (a *recordingAdapter) Capture(ctx context.Context) (*platform.Screenshot, error) {
	return &platform.Screenshot{PNG: []byte{1}, Width: a.width, Height: a.height}, nil
}

func (a *recordingAdapter) ScreenSize(ctx context.Context) (int, int, error) {
	return a.width, a.height, nil
}

func (a *recordingAdapter) Move(ctx context.Context, x, y int) error {
	a.record("move(%d,%d)", x, y)
	return a.fail["move"]
}

func (a *recordingAdapter) Click(ctx context.Context, x, y, clicks int) error {
	a.record("click(%d,%d,%d)", x, y, clicks)
	return a.fail["click"]
}

func (a *recordingAdapter) Drag(ctx context.Context, startX, startY, endX, endY int) error {
	a.record("drag(%d,%d,%d,%d)", startX, startY, endX, endY)
	return a.fail["drag"]
}

func (a *recordingAdapter) Scroll(ctx context.Context, dx, dy int) error {
	a.record("scroll(%d,%d)", dx, dy)
	return a.fail["scroll"]
}

func (a *recordingAdapter) TypeText(ctx context.Context, text string) error {
	a.record("type(%s)", text)
	return a.fail["type"]
}

func (a *recordingAdapter) Keypress(ctx context.Context, keys []string, repeat int, holdMillis int) error {
	a.record("keypress(%v,%d,%d)", keys, repeat, holdMillis)
	return a.fail["keypress"]
}

func TestFilter_ConfidenceThreshold(t *testing.T) {
	pipeline := NewPipeline(newRecordingAdapter(1000, 800), 0.55, zap.NewNop())

	steps := []Step{
		{Kind: KindClick, Confidence: 0.54},
		{Kind: KindWait, Confidence: 0.0},
		{Kind: KindType, Confidence: 0.55, Text: "hello"},
	}

	eligible := pipeline.Filter(steps)
	require.Len(t, eligible, 2)
	assert.Equal(t, KindWait, eligible[0].Kind, "WAIT survives any confidence")
	assert.Equal(t, KindType, eligible[1].Kind, "threshold is inclusive")
}

func TestExecute_CoordinateResolution(t *testing.T) {
	adapter := newRecordingAdapter(640, 480)
	pipeline := NewPipeline(adapter, 0.55, zap.NewNop())

	obs := &platform.Screenshot{Width: 1000, Height: 800}
	steps := []Step{
		{Kind: KindClick, Confidence: 0.9, Target: &Target{X: 0.5, Y: 0.5}},
	}

	summaries := pipeline.Execute(context.Background(), steps, obs)
	require.Len(t, summaries, 1)
	assert.Equal(t, []string{"click(500,400,1)"}, adapter.Calls())
}

func TestExecute_FallsBackToScreenSize(t *testing.T) {
	adapter := newRecordingAdapter(640, 480)
	pipeline := NewPipeline(adapter, 0.55, zap.NewNop())

	steps := []Step{
		{Kind: KindMove, Confidence: 0.9, Target: &Target{X: 0.5, Y: 0.5}},
	}

	pipeline.Execute(context.Background(), steps, nil)
	assert.Equal(t, []string{"move(320,240)"}, adapter.Calls())
}

func TestExecute_DispatchTable(t *testing.T) {
	adapter := newRecordingAdapter(1000, 800)
	pipeline := NewPipeline(adapter, 0.55, zap.NewNop())
	obs := &platform.Screenshot{Width: 1000, Height: 800}

	steps := []Step{
		{Kind: KindDoubleClick, Confidence: 0.9, Target: &Target{X: 0.1, Y: 0.1}},
		{Kind: KindDrag, Confidence: 0.9, Target: &Target{X: 0.9, Y: 0.9}},
		{Kind: KindScroll, Confidence: 0.9, Scroll: &ScrollDelta{DY: -120}},
		{Kind: KindScroll, Confidence: 0.9},
		{Kind: KindType, Confidence: 0.9, Text: "hi"},
		{Kind: KindKeypress, Confidence: 0.9, Keys: []string{"ctrl", "s"}, Repeat: 2, HoldMillis: 100},
	}

	summaries := pipeline.Execute(context.Background(), steps, obs)
	assert.Len(t, summaries, 6)
	assert.Equal(t, []string{
		"click(100,80,2)",
		"drag(500,400,900,720)",
		"scroll(0,-120)",
		"scroll(0,0)",
		"type(hi)",
		"keypress([ctrl s],2,100)",
	}, adapter.Calls())
}

func TestExecute_SkipsStepsMissingRequiredFields(t *testing.T) {
	adapter := newRecordingAdapter(1000, 800)
	pipeline := NewPipeline(adapter, 0.55, zap.NewNop())

	steps := []Step{
		{Kind: KindClick, Confidence: 0.9},            // no target
		{Kind: KindType, Confidence: 0.9},             // no text
		{Kind: KindKeypress, Confidence: 0.9},         // no keys
		{Kind: KindWait, Confidence: 0.9, WaitSeconds: 0},
	}

	summaries := pipeline.Execute(context.Background(), steps, nil)
	require.Len(t, summaries, 1)
	assert.Equal(t, "WAIT (0.90)", summaries[0])
	assert.Empty(t, adapter.Calls())
}

func TestExecute_FailedStepDoesNotAbortBatch(t *testing.T) {
	adapter := newRecordingAdapter(1000, 800)
	adapter.fail["click"] = fmt.Errorf("surface gone")
	pipeline := NewPipeline(adapter, 0.55, zap.NewNop())

	steps := []Step{
		{Kind: KindClick, Confidence: 0.9, Target: &Target{X: 0.5, Y: 0.5}},
		{Kind: KindType, Confidence: 0.9, Text: "still runs"},
	}

	summaries := pipeline.Execute(context.Background(), steps, nil)
	require.Len(t, summaries, 1)
	assert.Contains(t, summaries[0], "TYPE")
}
