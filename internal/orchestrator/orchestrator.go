// File: internal/orchestrator/orchestrator.go
package orchestrator

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/marionette/internal/action"
	"github.com/xkilldash9x/marionette/internal/config"
	"github.com/xkilldash9x/marionette/internal/plancache"
	"github.com/xkilldash9x/marionette/internal/planner"
	"github.com/xkilldash9x/marionette/internal/platform"
	"github.com/xkilldash9x/marionette/internal/state"
)

// Orchestrator runs the agent control loop: observe, plan, act, persist. One
// background worker per instance; Start and Stop are safe to call from other
// goroutines (an HTTP handler) concurrently with the worker.
//
// The mutex guards only the run flag and worker handle. It is never held
// across planning, capture or actuation.
type Orchestrator struct {
	store    *state.Store
	journal  *state.Journal
	cache    *plancache.Cache
	pipeline *action.Pipeline
	adapter  platform.Adapter
	cfg      config.AgentConfig
	logger   *zap.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}

	// Worker-local; only the loop goroutine touches these.
	lastShot      *platform.Screenshot
	lastCapture   time.Time
	captureMarker int64
	pending       []action.Step
	pendingFP     string
	lastLogged    string

	// now is a test seam; defaults to time.Now.
	now func() time.Time
}

// New wires the orchestrator. The plan cache owns backend failures; the
// pipeline owns execution.
func New(
	store *state.Store,
	journal *state.Journal,
	cache *plancache.Cache,
	pipeline *action.Pipeline,
	adapter platform.Adapter,
	cfg config.AgentConfig,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		store:    store,
		journal:  journal,
		cache:    cache,
		pipeline: pipeline,
		adapter:  adapter,
		cfg:      cfg,
		logger:   logger.Named("orchestrator"),
		now:      time.Now,
	}
}

// Running reports whether the worker loop is active.
func (o *Orchestrator) Running() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

// Start records the goal and activity window, marks the agent active and
// launches the worker. Starting an already-running orchestrator is a no-op.
func (o *Orchestrator) Start(goal string, mode state.Mode, activeStart, activeStop string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.running {
		return nil
	}

	if err := o.store.SetGoal(goal, mode); err != nil {
		return err
	}
	if err := o.store.SetActiveWindow(activeStart, activeStop); err != nil {
		return err
	}
	if err := o.store.MarkActive(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	o.cancel = cancel
	o.done = make(chan struct{})
	o.running = true

	go o.runLoop(ctx, o.done)

	o.logger.Info("Agent loop started.",
		zap.String("mode", string(mode)),
		zap.String("goal", goal))
	return nil
}

// Stop clears the run flag, marks the agent stopped and joins the worker
// with a bounded wait. An in-flight external call is not interrupted; the
// loop finishes its current tick first.
func (o *Orchestrator) Stop() error {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return nil
	}
	o.running = false
	cancel := o.cancel
	done := o.done
	o.mu.Unlock()

	timeout := o.cfg.StopTimeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}

	select {
	case <-done:
	case <-time.After(timeout):
		// Worker is stuck in an external call; cut its context and wait
		// once more.
		cancel()
		select {
		case <-done:
		case <-time.After(timeout):
			o.logger.Warn("Worker did not exit within the stop timeout.")
		}
	}
	cancel()

	// Recorded after the worker joined so a tick in flight cannot overwrite
	// the terminal status.
	if err := o.store.MarkStopped(); err != nil {
		o.logger.Warn("Failed to persist stopped status.", zap.Error(err))
	}

	o.logger.Info("Agent loop stopped.")
	return nil
}

func (o *Orchestrator) runLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		o.mu.Lock()
		running := o.running
		o.mu.Unlock()
		if !running || ctx.Err() != nil {
			return
		}

		sleepFor := o.tick(ctx)

		if err := sleepCtx(ctx, sleepFor); err != nil {
			return
		}
	}
}

// tick runs one observe-plan-act cycle and returns how long to sleep before
// the next one. No failure inside a tick terminates the loop.
func (o *Orchestrator) tick(ctx context.Context) time.Duration {
	now := o.now()

	if !o.store.InActiveWindow(now) {
		o.reflect()
		return o.cfg.SleepInterval
	}

	if err := o.store.MarkActive(); err != nil {
		o.logger.Warn("Failed to persist active status.", zap.Error(err))
	}

	shot := o.maybeCapture(ctx)

	noPlan := false
	if len(o.pending) == 0 {
		noPlan = !o.consultPlanner(ctx, shot)
	}

	waitOnly := o.drainPending(ctx)

	if err := o.store.StimulateAffect(o.cfg.AffectStimulus); err != nil {
		o.logger.Warn("Failed to persist affect stimulus.", zap.Error(err))
	}
	if err := o.store.Save(); err != nil {
		o.logger.Warn("Failed to persist state.", zap.Error(err))
	}
	if err := o.store.Snapshot(); err != nil {
		o.logger.Warn("Failed to write snapshot.", zap.Error(err))
	}

	switch {
	case noPlan:
		return o.cfg.NoPlanInterval
	case waitOnly:
		return o.cfg.WaitTickInterval
	default:
		return o.cfg.TickInterval
	}
}

// reflect runs the out-of-window branch: mark sleeping, decay affect, refresh
// the monologue and snapshot.
func (o *Orchestrator) reflect() {
	if err := o.store.MarkSleeping(); err != nil {
		o.logger.Warn("Failed to persist sleeping status.", zap.Error(err))
	}
	if err := o.store.DecayAffect(o.cfg.AffectDecayRate); err != nil {
		o.logger.Warn("Failed to persist affect decay.", zap.Error(err))
	}
	if err := o.store.UpdateMonologue("Sleeping and reflecting on recent actions."); err != nil {
		o.logger.Warn("Failed to persist monologue.", zap.Error(err))
	}
	if err := o.store.Snapshot(); err != nil {
		o.logger.Warn("Failed to write snapshot.", zap.Error(err))
	}
}

// maybeCapture refreshes the observation when the capture cadence has
// elapsed. Capture failures degrade to planning without an observation.
func (o *Orchestrator) maybeCapture(ctx context.Context) *platform.Screenshot {
	now := o.now()
	minInterval := o.cfg.CaptureMinInterval
	if minInterval <= 0 {
		minInterval = 5 * time.Second
	}
	if !o.lastCapture.IsZero() && now.Sub(o.lastCapture) < minInterval {
		return nil
	}

	shot, err := o.adapter.Capture(ctx)
	if err != nil {
		o.logger.Warn("Observation capture failed; planning blind.", zap.Error(err))
		return nil
	}
	o.lastShot = shot
	o.lastCapture = now
	o.captureMarker = now.UnixNano()
	return shot
}

// consultPlanner computes the context fingerprint, consults the cache and
// appends any returned plan to the pending queue. Reports whether a plan was
// produced.
func (o *Orchestrator) consultPlanner(ctx context.Context, fresh *platform.Screenshot) bool {
	st := o.store.State()

	obsHash := ""
	dims := ""
	screenshotB64 := ""
	if o.lastShot != nil {
		obsHash = plancache.HashObservation(o.lastShot.PNG)
		dims = o.lastShot.Meta()
	}
	if fresh != nil {
		screenshotB64 = fresh.Base64()
	}

	fp := plancache.Fingerprint(plancache.FingerprintInput{
		ObservationHash: obsHash,
		Dimensions:      dims,
		CaptureMarker:   o.captureMarker,
		Goal:            st.Goal,
		Task:            st.Task,
		Mode:            st.Mode,
	})

	decision := o.cache.Get(ctx, st, screenshotB64, planner.Metadata{
		Fingerprint:    fp,
		ScreenshotMeta: dims,
	})

	if decision.Outcome == plancache.OutcomeNoPlan || decision.Plan == nil {
		return false
	}

	steps := o.pipeline.Filter(decision.Plan.Steps)
	if len(steps) == 0 {
		o.cache.MarkConsumed(fp)
		return false
	}
	o.pending = append(o.pending, steps...)
	o.pendingFP = fp
	return true
}

// drainPending executes the whole pending batch, logs each summary and marks
// the cached plan consumed. Reports whether every executed step was a WAIT.
func (o *Orchestrator) drainPending(ctx context.Context) bool {
	if len(o.pending) == 0 {
		return false
	}

	batch := o.pending
	o.pending = nil
	fp := o.pendingFP

	waitOnly := true
	for _, step := range batch {
		if step.Kind != action.KindWait {
			waitOnly = false
			break
		}
	}

	summaries := o.pipeline.Execute(ctx, batch, o.lastShot)

	for _, summary := range summaries {
		if err := o.store.UpdateAfterAction(summary); err != nil {
			o.logger.Warn("Failed to persist action result.", zap.Error(err))
		}

		// Consecutive identical summary+fingerprint pairs collapse to one
		// log entry.
		key := summary + "|" + fp
		if key == o.lastLogged {
			continue
		}
		o.lastLogged = key

		if err := o.journal.Append(summary, map[string]any{"fingerprint": fp}); err != nil {
			o.logger.Warn("Failed to append action log entry.", zap.Error(err))
		}
	}

	o.cache.MarkConsumed(fp)

	// Force a fresh observation on the next tick.
	o.lastCapture = time.Time{}

	return waitOnly
}

// sleepCtx blocks for d or until the context is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		d = time.Second
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
