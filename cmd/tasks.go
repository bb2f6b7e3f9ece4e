package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ralph-labs/orchestrator/internal/config"
	"github.com/ralph-labs/orchestrator/internal/store"
)

func newTasksCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tasks [status]",
		Short: "List tasks grouped by status",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			status := store.TaskStatus("")
			if len(args) == 1 {
				status = store.TaskStatus(args[0])
			}
			return runTasks(cmd, status)
		},
	}
	return cmd
}

func runTasks(cmd *cobra.Command, status store.TaskStatus) error {
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

	tasks, err := mgr.ListTasks(ctx, status)
	if err != nil {
		return err
	}
	for _, t := range tasks {
		fmt.Fprintf(cmd.OutOrStdout(), "#%d [%s] %s\n", t.ID, t.Status, t.Title)
	}
	return nil
}
