// internal/action/pipeline.go
package action

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/marionette/internal/platform"
)

// Pipeline filters plan steps by confidence, resolves normalized targets to
// pixel coordinates and executes steps in order against the surface adapter.
// Execution is strictly sequential; a failed step is logged and skipped, it
// never aborts the rest of the batch.
type Pipeline struct {
	adapter   platform.Adapter
	threshold float64
	logger    *zap.Logger
}

// NewPipeline builds a pipeline over the given surface. threshold is the
// minimum confidence for non-WAIT steps.
func NewPipeline(adapter platform.Adapter, threshold float64, logger *zap.Logger) *Pipeline {
	return &Pipeline{
		adapter:   adapter,
		threshold: threshold,
		logger:    logger.Named("action_pipeline"),
	}
}

// Filter returns the steps eligible for execution, preserving order. WAIT is
// always eligible regardless of confidence; everything else must meet the
// threshold.
func (p *Pipeline) Filter(steps []Step) []Step {
	eligible := make([]Step, 0, len(steps))
	for _, step := range steps {
		if step.Kind != KindWait && step.Confidence < p.threshold {
			p.logger.Debug("Dropping low-confidence step.",
				zap.String("kind", string(step.Kind)),
				zap.Float64("confidence", step.Confidence))
			continue
		}
		eligible = append(eligible, step)
	}
	return eligible
}

// Execute runs the steps in order and returns a summary line per executed
// step. Steps that fail or lack required fields contribute no summary.
func (p *Pipeline) Execute(ctx context.Context, steps []Step, obs *platform.Screenshot) []string {
	summaries := make([]string, 0, len(steps))
	for i := range steps {
		step := &steps[i]
		if err := ctx.Err(); err != nil {
			p.logger.Debug("Execution interrupted.", zap.Error(err))
			break
		}
		if err := p.execute(ctx, step, obs); err != nil {
			p.logger.Warn("Step failed; continuing with batch.",
				zap.String("kind", string(step.Kind)),
				zap.Error(err))
			continue
		}
		summaries = append(summaries, step.Summary())
	}
	return summaries
}

var errSkipped = errSentinel("step skipped")

type errSentinel string

func (e errSentinel) Error() string { return string(e) }

func (p *Pipeline) execute(ctx context.Context, step *Step, obs *platform.Screenshot) error {
	switch step.Kind {
	case KindMove:
		x, y, err := p.resolve(ctx, step.Target, obs)
		if err != nil {
			return err
		}
		return p.adapter.Move(ctx, x, y)

	case KindClick:
		x, y, err := p.resolve(ctx, step.Target, obs)
		if err != nil {
			return err
		}
		return p.adapter.Click(ctx, x, y, 1)

	case KindDoubleClick:
		x, y, err := p.resolve(ctx, step.Target, obs)
		if err != nil {
			return err
		}
		return p.adapter.Click(ctx, x, y, 2)

	case KindDrag:
		x, y, err := p.resolve(ctx, step.Target, obs)
		if err != nil {
			return err
		}
		// Drags originate from the surface center.
		w, h, err := p.surfaceSize(ctx, obs)
		if err != nil {
			return err
		}
		return p.adapter.Drag(ctx, w/2, h/2, x, y)

	case KindScroll:
		dx, dy := 0, 0
		if step.Scroll != nil {
			dx, dy = int(step.Scroll.DX), int(step.Scroll.DY)
		}
		return p.adapter.Scroll(ctx, dx, dy)

	case KindType:
		if step.Text == "" {
			return errSkipped
		}
		return p.adapter.TypeText(ctx, step.Text)

	case KindKeypress:
		if len(step.Keys) == 0 {
			return errSkipped
		}
		return p.adapter.Keypress(ctx, step.Keys, step.Repeat, step.HoldMillis)

	case KindWait:
		d := time.Duration(step.WaitSeconds * float64(time.Second))
		return sleepCtx(ctx, d)

	case KindFocusWindow:
		// The surface adapter drives a single window, so focusing is a brief
		// settle pause rather than a window-manager call.
		return sleepCtx(ctx, 200*time.Millisecond)
	}
	return errSkipped
}

// resolve maps a normalized target onto pixel coordinates using the size of
// the observation the plan was made against, falling back to the live surface
// size. A missing target skips the step.
func (p *Pipeline) resolve(ctx context.Context, target *Target, obs *platform.Screenshot) (int, int, error) {
	if target == nil {
		return 0, 0, errSkipped
	}
	w, h, err := p.surfaceSize(ctx, obs)
	if err != nil {
		return 0, 0, err
	}
	return int(target.X * float64(w)), int(target.Y * float64(h)), nil
}

func (p *Pipeline) surfaceSize(ctx context.Context, obs *platform.Screenshot) (int, int, error) {
	if obs != nil && obs.Width > 0 && obs.Height > 0 {
		return obs.Width, obs.Height, nil
	}
	return p.adapter.ScreenSize(ctx)
}

// sleepCtx blocks for d or until the context is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
