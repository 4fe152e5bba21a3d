// internal/plancache/cache.go
package plancache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/marionette/internal/action"
	"github.com/xkilldash9x/marionette/internal/config"
	"github.com/xkilldash9x/marionette/internal/planner"
	"github.com/xkilldash9x/marionette/internal/state"
)

// Outcome labels what the cache decided for a tick.
type Outcome string

const (
	// OutcomeCached means the previously cached, not-yet-consumed plan for
	// the same fingerprint was returned unmodified.
	OutcomeCached Outcome = "cached"
	// OutcomeCalled means the planner backend was invoked (result may still
	// be a fallback if the call failed).
	OutcomeCalled Outcome = "called"
	// OutcomeNoPlan means the fingerprint is unchanged and the cached plan
	// was already consumed; the caller should sleep briefly and re-observe.
	OutcomeNoPlan Outcome = "no_plan"
)

// Decision is the result of one cache consultation.
type Decision struct {
	Outcome     Outcome
	Plan        *action.Plan
	Fingerprint string
}

// FingerprintInput collects the context pieces the cache key is derived from.
type FingerprintInput struct {
	ObservationHash string
	Dimensions      string
	CaptureMarker   int64
	Goal            string
	Task            string
	Mode            state.Mode
}

// Fingerprint builds the composite cache key. Two ticks with identical
// observation, capture marker and goal context produce the same key.
func Fingerprint(in FingerprintInput) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%d|%s|%s|%s",
		in.ObservationHash, in.Dimensions, in.CaptureMarker, in.Goal, in.Task, in.Mode)
	return hex.EncodeToString(h.Sum(nil))[:32]
}

// HashObservation fingerprints raw observation bytes.
func HashObservation(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])[:32]
}

// Cache suppresses redundant planner calls: identical fingerprints reuse the
// cached plan, consumed plans yield no-plan, and failures arm an exponential
// backoff window during which planning is rejected locally. A token bucket
// additionally enforces a minimum spacing between backend calls.
type Cache struct {
	mu sync.Mutex

	backend planner.Planner
	logger  *zap.Logger
	cfg     config.PlannerConfig
	limiter *rate.Limiter

	lastFingerprint string
	lastPlan        *action.Plan
	consumed        bool

	failures    int
	notBefore   time.Time
	parseFilter func(*action.RawPlan) *action.Plan

	// now is a test seam; defaults to time.Now.
	now func() time.Time
}

// New builds a cache around the given planner backend.
func New(backend planner.Planner, cfg config.PlannerConfig, parseFilter func(*action.RawPlan) *action.Plan, logger *zap.Logger) *Cache {
	minInterval := cfg.MinCallInterval
	if minInterval <= 0 {
		minInterval = time.Second
	}
	return &Cache{
		backend:     backend,
		logger:      logger.Named("plan_cache"),
		cfg:         cfg,
		limiter:     rate.NewLimiter(rate.Every(minInterval), 1),
		parseFilter: parseFilter,
		now:         time.Now,
	}
}

// Get decides the outcome for the given fingerprint. The backend is only
// contacted when the fingerprint changed and no backoff window is armed.
// Failures never propagate; they degrade to a WAIT fallback plan.
func (c *Cache) Get(ctx context.Context, st state.AgentState, screenshotB64 string, meta planner.Metadata) Decision {
	fp := meta.Fingerprint

	c.mu.Lock()
	if fp == c.lastFingerprint && c.lastPlan != nil {
		if !c.consumed {
			plan := c.lastPlan
			c.mu.Unlock()
			c.logger.Debug("Returning cached plan.", zap.String("fingerprint", fp))
			return Decision{Outcome: OutcomeCached, Plan: plan, Fingerprint: fp}
		}
		c.mu.Unlock()
		return Decision{Outcome: OutcomeNoPlan, Fingerprint: fp}
	}

	if remaining := c.notBefore.Sub(c.now()); remaining > 0 {
		c.mu.Unlock()
		reason := fmt.Sprintf("Rate limited; retry after %.1fs.", remaining.Seconds())
		c.logger.Debug("Planning suppressed by backoff window.",
			zap.Duration("remaining", remaining))
		return Decision{Outcome: OutcomeCalled, Plan: action.FallbackPlan(reason), Fingerprint: fp}
	}
	c.mu.Unlock()

	if !c.limiter.Allow() {
		return Decision{
			Outcome:     OutcomeCalled,
			Plan:        action.FallbackPlan("Planner busy; waiting for previous request to finish."),
			Fingerprint: fp,
		}
	}

	raw, err := c.backend.Plan(ctx, st, screenshotB64, meta)
	if err != nil {
		backoffFor := c.recordFailure(err)
		c.logger.Warn("Planning failed; arming backoff.",
			zap.Error(err),
			zap.Duration("backoff", backoffFor))
		return Decision{
			Outcome:     OutcomeCalled,
			Plan:        action.FallbackPlan(fmt.Sprintf("Planning failed: %v", err)),
			Fingerprint: fp,
		}
	}

	plan := c.parseFilter(raw)

	c.mu.Lock()
	c.failures = 0
	c.notBefore = time.Time{}
	c.lastFingerprint = fp
	c.lastPlan = plan
	c.consumed = false
	c.mu.Unlock()

	return Decision{Outcome: OutcomeCalled, Plan: plan, Fingerprint: fp}
}

// MarkConsumed records that the cached plan for fp was executed; the same
// fingerprint now yields no-plan until a fresh observation changes it.
func (c *Cache) MarkConsumed(fp string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if fp == c.lastFingerprint {
		c.consumed = true
	}
}

// recordFailure bumps the consecutive-failure count and arms the backoff
// window. Returns the armed duration.
func (c *Cache) recordFailure(err error) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.failures++
	d := c.backoffDuration(err)
	c.notBefore = c.now().Add(d)
	return d
}

// backoffDuration computes base * 2^min(failures, 4) clamped to the
// configured maximum; rate-limit failures use the larger base.
func (c *Cache) backoffDuration(err error) time.Duration {
	base := c.cfg.BackoffBase
	if base <= 0 {
		base = 3 * time.Second
	}
	if isRateLimited(err) {
		base = c.cfg.RateLimitBackoffBase
		if base <= 0 {
			base = 5 * time.Second
		}
	}

	scale := math.Pow(2, float64(min(c.failures, 4)))
	d := time.Duration(float64(base) * scale)

	maxBackoff := c.cfg.BackoffMax
	if maxBackoff <= 0 {
		maxBackoff = time.Minute
	}
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}

// isRateLimited decides, from status codes embedded in the message or
// rate-limit phrasing, whether a failure deserves the longer backoff base.
func isRateLimited(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"429", "status 500", "status 502", "status 503", "rate", "limit", "exhausted"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
