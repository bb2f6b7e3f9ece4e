package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ralph-labs/orchestrator/internal/config"
)

func newAutonomousCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "autonomous [start|stop|pause|resume|status]",
		Short: "Control the scheduling loop",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			action := "status"
			if len(args) == 1 {
				action = args[0]
			}
			return runAutonomous(cmd, action)
		},
	}
	return cmd
}

func runAutonomous(cmd *cobra.Command, action string) error {
	workDir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getwd: %w", err)
	}
	cfg, err := config.LoadConfigWithFile(workDir, GetConfigFile())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx := context.Background()
	mgr, closeFn, err := buildManager(ctx, cfg, workDir, buildLogger())
	if err != nil {
		return err
	}
	defer closeFn()

	switch action {
	case "start":
		// The loop only lives as long as this process; a production
		// deployment runs this as a long-lived service instead of a
		// one-shot CLI invocation.
		sigCtx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
		defer cancel()
		if err := mgr.StartLoop(sigCtx); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Scheduling loop started, press Ctrl-C to stop...")
		<-sigCtx.Done()
		return mgr.StopLoop()

	case "stop":
		return mgr.StopLoop()

	case "pause":
		mgr.Pause()
		fmt.Fprintln(cmd.OutOrStdout(), "Loop paused")
		return nil

	case "resume":
		mgr.Resume()
		fmt.Fprintln(cmd.OutOrStdout(), "Loop resumed")
		return nil

	case "status":
		status := mgr.Status()
		fmt.Fprintf(cmd.OutOrStdout(), "running=%t paused=%t\n", status.Running, status.Paused)
		return nil

	default:
		return fmt.Errorf("autonomous: unknown action %q", action)
	}
}
