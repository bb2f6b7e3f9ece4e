package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ralph-labs/orchestrator/internal/config"
)

func newComplexCmd() *cobra.Command {
	var userID, project string

	cmd := &cobra.Command{
		Use:   "complex <task description>",
		Short: "Break a free-text request into a PRD, queue it, and start the loop",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runComplex(cmd, userID, project, strings.Join(args, " "))
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id")
	cmd.Flags().StringVar(&project, "project", "", "project name")
	return cmd
}

func runComplex(cmd *cobra.Command, userID, project, text string) error {
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

	result, err := mgr.Complex(ctx, userID, project, text)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Created PRD #%d %q with %d stories, %d tasks. Scheduling loop started.\n",
		result.PRD.ID, result.PRD.Title, len(result.Stories), result.TaskCount)

	// complex starts the loop as a side effect (breakdown.LoopStarter); keep
	// this process alive so that goroutine keeps running until interrupted,
	// mirroring the teacher's run command blocking for the loop's duration.
	sigCtx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl-C to stop the loop...")
	<-sigCtx.Done()
	return mgr.StopLoop()
}
