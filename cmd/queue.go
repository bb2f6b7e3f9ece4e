package cmd

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/ralph-labs/orchestrator/internal/config"
)

func newQueueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue story|prd <id>",
		Short: "Bulk-enqueue a story's or PRD's pending tasks",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQueue(cmd, args[0], args[1])
		},
	}
	return cmd
}

func runQueue(cmd *cobra.Command, kind, idArg string) error {
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

	id, err := strconv.ParseInt(idArg, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid id %q: %w", idArg, err)
	}

	var n int
	switch kind {
	case "story":
		n, err = mgr.QueueStory(ctx, id)
	case "prd":
		n, err = mgr.QueuePRD(ctx, id)
	default:
		return fmt.Errorf("queue: unknown target %q, expected story or prd", kind)
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Queued %d task(s)\n", n)
	return nil
}
