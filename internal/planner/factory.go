// internal/planner/factory.go
package planner

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xkilldash9x/marionette/internal/action"
	"github.com/xkilldash9x/marionette/internal/config"
	"github.com/xkilldash9x/marionette/internal/state"
)

// New builds a planner for the configured provider.
func New(cfg config.PlannerConfig, logger *zap.Logger) (Planner, error) {
	switch strings.ToLower(cfg.Provider) {
	case config.ProviderGemini:
		return NewGeminiPlanner(cfg, logger)
	case config.ProviderVLM:
		return NewVLMPlanner(cfg, logger)
	case config.ProviderNone, "":
		return NewStaticPlanner(logger), nil
	default:
		return nil, fmt.Errorf("unsupported planner provider: '%s'", cfg.Provider)
	}
}

// StaticPlanner always returns a single observational WAIT. It keeps the
// control loop alive when no model backend is configured.
type StaticPlanner struct {
	logger *zap.Logger
}

var _ Planner = (*StaticPlanner)(nil)

func NewStaticPlanner(logger *zap.Logger) *StaticPlanner {
	return &StaticPlanner{logger: logger.Named("planner.static")}
}

func (p *StaticPlanner) Plan(ctx context.Context, st state.AgentState, screenshotB64 string, meta Metadata) (*action.RawPlan, error) {
	p.logger.Debug("No planner backend configured; emitting idle wait.")
	return &action.RawPlan{Actions: []map[string]any{{
		"action":       "WAIT",
		"confidence":   0.6,
		"rationale":    "No planner backend configured; observing only.",
		"wait_seconds": 2.0,
	}}}, nil
}
