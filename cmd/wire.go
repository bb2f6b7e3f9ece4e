package cmd

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/ralph-labs/orchestrator/internal/agent"
	"github.com/ralph-labs/orchestrator/internal/breakdown"
	"github.com/ralph-labs/orchestrator/internal/config"
	"github.com/ralph-labs/orchestrator/internal/cooldown"
	"github.com/ralph-labs/orchestrator/internal/executor"
	"github.com/ralph-labs/orchestrator/internal/git"
	"github.com/ralph-labs/orchestrator/internal/learning"
	"github.com/ralph-labs/orchestrator/internal/manager"
	"github.com/ralph-labs/orchestrator/internal/provider"
	"github.com/ralph-labs/orchestrator/internal/qualitygate"
	"github.com/ralph-labs/orchestrator/internal/scheduler"
	"github.com/ralph-labs/orchestrator/internal/store"
	"github.com/ralph-labs/orchestrator/internal/telemetry"
	"github.com/ralph-labs/orchestrator/internal/verify"
)

// buildLogger builds the CLI's zap logger. Kept separate from buildManager
// so tests and future entrypoints (e.g. a long-running serve command) can
// substitute their own.
func buildLogger() *zap.Logger {
	log, err := zap.NewProduction()
	if err != nil {
		return zap.NewNop()
	}
	return log
}

// buildManager wires every subsystem described in spec.md §2 into one
// manager.Manager, the way a production deployment would at process start.
// Grounded on the teacher's runRun (cmd/run.go), generalized from a
// single-repo task-store wiring to the Postgres-backed PRD/Story/Task core.
func buildManager(ctx context.Context, cfg *config.Config, projectPath string, log *zap.Logger) (*manager.Manager, func() error, error) {
	st, err := store.Open(ctx, cfg.Database.DSN)
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}

	providerName, err := provider.Resolve("", cfg.Provider)
	if err != nil {
		return nil, nil, fmt.Errorf("resolve provider: %w", err)
	}

	agentCommand := providerName
	switch providerName {
	case provider.OpenCode:
		if len(cfg.OpenCode.Command) > 0 {
			agentCommand = cfg.OpenCode.Command[0]
		}
	default:
		if len(cfg.Claude.Command) > 0 {
			agentCommand = cfg.Claude.Command[0]
		}
	}

	cd := cooldown.New(log,
		cooldown.WithCooldownMinutes(int(cfg.Cooldown.Duration.Minutes())),
		cooldown.WithConsecutiveThreshold(cfg.Cooldown.FailureThreshold),
		cooldown.WithFailureWindow(cfg.Cooldown.Window),
	)

	logsDir := projectPath + "/.ralph/logs"
	runner := agent.NewSubprocessRunner(agentCommand, logsDir, cd, log)

	reg := prometheus.NewRegistry()
	metrics := telemetry.New(reg)
	cd.OnActivate(func() { metrics.CooldownActive.Set(1) })
	cd.OnDeactivate(func() { metrics.CooldownActive.Set(0) })

	gitMgr := git.NewShellManager(projectPath, "ralph/")
	var gitMu sync.Mutex

	gates := qualitygate.New(projectPath)
	verifier := verify.New(runner)
	learner := learning.New()

	execCfg := executor.Config{
		ProjectPath:         projectPath,
		QualityGatesEnabled: true,
		TypecheckEnabled:    true,
		LintEnabled:         true,
		VerificationEnabled: true,
	}
	pipeline := executor.New(st, gitMgr, &gitMu, runner, gates, verifier, learner, metrics, log, execCfg)

	mgr := manager.New(st, nil, pipeline, cd, log)

	schedCfg := scheduler.Config{
		MaxParallel:  cfg.Scheduler.MaxParallel,
		PollInterval: cfg.Scheduler.PollInterval,
		GracePeriod:  cfg.Scheduler.GracePeriod,
		Resources: scheduler.ResourceThresholds{
			MaxMemoryPercent: cfg.Scheduler.MaxMemoryPercent,
			MinAvailableMiB:  uint64(cfg.Scheduler.MinAvailableMiB),
		},
	}
	sched := scheduler.New(st, pipeline, metrics, log, schedCfg, func() bool { return mgr.IsPaused() })

	mgr.Wire(sched)
	bd := breakdown.New(st, runner, mgr, log)
	mgr.SetBreakdown(bd)

	mgr.SetNotifier(func(userID, message string) {
		log.Info("notify", zap.String("user_id", userID), zap.String("message", message))
	})

	closeFn := func() error { return st.Close() }
	return mgr, closeFn, nil
}
