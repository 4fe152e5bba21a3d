// -- cmd/run.go --
package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xkilldash9x/marionette/internal/action"
	"github.com/xkilldash9x/marionette/internal/config"
	"github.com/xkilldash9x/marionette/internal/observability"
	"github.com/xkilldash9x/marionette/internal/orchestrator"
	"github.com/xkilldash9x/marionette/internal/plancache"
	"github.com/xkilldash9x/marionette/internal/planner"
	"github.com/xkilldash9x/marionette/internal/platform"
	"github.com/xkilldash9x/marionette/internal/server"
	"github.com/xkilldash9x/marionette/internal/state"
)

var (
	runGoal       string
	runMode       string
	runAutoStart  bool
	runListenAddr string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the agent loop and its HTTP control API.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAgent(cmd.Context())
	},
}

func init() {
	runCmd.Flags().StringVar(&runGoal, "goal", "", "goal to pursue (overrides config)")
	runCmd.Flags().StringVar(&runMode, "mode", "", "agent mode: GOAL or FREEROAM (overrides config)")
	runCmd.Flags().BoolVar(&runAutoStart, "start", false, "start the loop immediately instead of waiting for POST /api/start")
	runCmd.Flags().StringVar(&runListenAddr, "listen", "", "HTTP listen address (overrides config)")
	rootCmd.AddCommand(runCmd)
}

func runAgent(parent context.Context) error {
	logger := observability.GetLogger()

	if runGoal != "" {
		cfg.Agent.Goal = runGoal
	}
	if runMode != "" {
		cfg.Agent.Mode = runMode
	}
	if runListenAddr != "" {
		cfg.Server.ListenAddr = runListenAddr
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := state.NewStore(cfg.Storage.DataDir, logger)
	if err != nil {
		return fmt.Errorf("failed to open state store: %w", err)
	}
	journal, err := state.NewJournal(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("failed to open action journal: %w", err)
	}

	adapter, closeAdapter, err := buildSurface(ctx, cfg.Surface, logger)
	if err != nil {
		return err
	}
	defer closeAdapter()

	backend, err := planner.New(cfg.Planner, logger)
	if err != nil {
		return fmt.Errorf("failed to build planner: %w", err)
	}

	cache := plancache.New(backend, cfg.Planner, action.ParsePlan, logger)
	pipeline := action.NewPipeline(adapter, cfg.Agent.ConfidenceThreshold, logger)
	orch := orchestrator.New(store, journal, cache, pipeline, adapter, cfg.Agent, logger)

	srv := server.New(cfg.Server, store, journal, orch, logger)

	if runAutoStart {
		mode := state.Mode(cfg.Agent.Mode)
		if mode != state.ModeFreeroam {
			mode = state.ModeGoal
		}
		if err := orch.Start(cfg.Agent.Goal, mode, cfg.Agent.ActiveWindowStart, cfg.Agent.ActiveWindowStop); err != nil {
			return fmt.Errorf("failed to start agent loop: %w", err)
		}
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return srv.ListenAndServe()
	})

	g.Go(func() error {
		<-gCtx.Done()

		logger.Info("Shutting down.")
		if err := orch.Stop(); err != nil {
			logger.Warn("Agent loop stop failed.", zap.Error(err))
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		return err
	}
	return nil
}

func buildSurface(ctx context.Context, cfg config.SurfaceConfig, logger *zap.Logger) (platform.Adapter, func(), error) {
	switch cfg.Driver {
	case config.SurfaceCDP:
		adapter, err := platform.NewCDPAdapter(ctx, cfg, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to start browser surface: %w", err)
		}
		return adapter, adapter.Close, nil
	default:
		return platform.NewNullAdapter(cfg.Width, cfg.Height), func() {}, nil
	}
}
