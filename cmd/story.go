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

func newStoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "story [list [prd_id]|<id>|<prd_id> <title> | <desc>]",
		Short: "Create, list, or inspect stories",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStory(cmd, args)
		},
	}
	return cmd
}

func runStory(cmd *cobra.Command, args []string) error {
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

	if args[0] == "list" {
		if len(args) < 2 {
			return fmt.Errorf("story list requires a prd id")
		}
		prdID, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid prd id %q: %w", args[1], err)
		}
		stories, err := mgr.ListStories(ctx, prdID)
		if err != nil {
			return err
		}
		for _, s := range stories {
			fmt.Fprintf(cmd.OutOrStdout(), "#%d [%s] %s\n", s.ID, s.Status, s.Title)
		}
		return nil
	}

	if len(args) == 1 {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid story id %q: %w", args[0], err)
		}
		s, err := mgr.GetStory(ctx, id)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "#%d [%s] %s\n%s\n", s.ID, s.Status, s.Title, s.Description)
		return nil
	}

	prdID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid prd id %q: %w", args[0], err)
	}
	title, description := splitPipe(strings.Join(args[1:], " "))
	s, err := mgr.CreateStory(ctx, prdID, title, description)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created story #%d: %s\n", s.ID, s.Title)
	return nil
}

// splitPipe splits "<title> | <description>" per spec.md §6.1's
// pipe-separated argument shape. A missing separator leaves description empty.
func splitPipe(s string) (title, description string) {
	parts := strings.SplitN(s, "|", 2)
	title = strings.TrimSpace(parts[0])
	if len(parts) == 2 {
		description = strings.TrimSpace(parts[1])
	}
	return title, description
}
