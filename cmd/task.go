package cmd

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ralph-labs/orchestrator/internal/config"
)

func newTaskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task <id>|<story_id> <title> | <desc>",
		Short: "Create or inspect a task",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTask(cmd, args)
		},
	}
	return cmd
}

func runTask(cmd *cobra.Command, args []string) error {
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

	if len(args) == 1 {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid task id %q: %w", args[0], err)
		}
		t, err := mgr.GetTask(ctx, id)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "#%d [%s] %s (retries %d/%d)\n%s\n",
			t.ID, t.Status, t.Title, t.RetryCount, t.MaxRetries, t.Description)
		return nil
	}

	storyID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid story id %q: %w", args[0], err)
	}
	title, description := splitPipe(strings.Join(args[1:], " "))
	t, err := mgr.CreateTask(ctx, storyID, title, description)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created task #%d: %s\n", t.ID, t.Title)
	return nil
}
