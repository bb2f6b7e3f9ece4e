package cmd

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/ralph-labs/orchestrator/internal/config"
)

func newPRDCmd() *cobra.Command {
	var userID, project string

	cmd := &cobra.Command{
		Use:   "prd [id|list|activate <id>|archive <id>|<title>]",
		Short: "Create, inspect, or transition a PRD",
		Long:  "prd <title> creates a PRD in DRAFT; prd list lists PRDs; prd <id> shows one with its stories; prd activate/archive <id> transitions status.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPRD(cmd, userID, project, args)
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id that owns the PRD")
	cmd.Flags().StringVar(&project, "project", "", "project name")
	return cmd
}

func runPRD(cmd *cobra.Command, userID, project string, args []string) error {
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

	switch args[0] {
	case "list":
		prds, err := mgr.ListPRDs(ctx, userID, project)
		if err != nil {
			return err
		}
		for _, p := range prds {
			fmt.Fprintf(cmd.OutOrStdout(), "#%d [%s] %s\n", p.ID, p.Status, p.Title)
		}
		return nil

	case "activate":
		if len(args) < 2 {
			return fmt.Errorf("prd activate requires an id")
		}
		id, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid prd id %q: %w", args[1], err)
		}
		if err := mgr.ActivatePRD(ctx, id); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "PRD %d activated\n", id)
		return nil

	case "archive":
		if len(args) < 2 {
			return fmt.Errorf("prd archive requires an id")
		}
		id, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid prd id %q: %w", args[1], err)
		}
		if err := mgr.ArchivePRD(ctx, id); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "PRD %d archived\n", id)
		return nil
	}

	if id, err := strconv.ParseInt(args[0], 10, 64); err == nil {
		p, err := mgr.GetPRD(ctx, id)
		if err != nil {
			return err
		}
		stories, err := mgr.ListStories(ctx, id)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "#%d [%s] %s\n%s\n\nStories:\n", p.ID, p.Status, p.Title, p.Description)
		for _, s := range stories {
			fmt.Fprintf(cmd.OutOrStdout(), "  #%d [%s] %s\n", s.ID, s.Status, s.Title)
		}
		return nil
	}

	title := args[0]
	p, err := mgr.CreatePRD(ctx, userID, project, title)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created PRD #%d: %s\n", p.ID, p.Title)
	return nil
}
