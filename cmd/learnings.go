package cmd

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ralph-labs/orchestrator/internal/config"
	"github.com/ralph-labs/orchestrator/internal/store"
)

func newLearningsCmd() *cobra.Command {
	var userID, project string

	cmd := &cobra.Command{
		Use:   "learnings [search <q>|add <cat>|<title>|<content>]",
		Short: "List, search, or add learnings",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLearnings(cmd, userID, project, args)
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id")
	cmd.Flags().StringVar(&project, "project", "", "project name")
	return cmd
}

func runLearnings(cmd *cobra.Command, userID, project string, args []string) error {
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

	if len(args) == 0 {
		learnings, err := mgr.ListLearnings(ctx, userID, project)
		if err != nil {
			return err
		}
		for _, l := range learnings {
			fmt.Fprintf(cmd.OutOrStdout(), "#%d [%s] %s\n", l.ID, l.Category, l.Title)
		}
		return nil
	}

	switch args[0] {
	case "search":
		if len(args) < 2 {
			return fmt.Errorf("learnings search requires a query")
		}
		query := strings.Join(args[1:], " ")
		learnings, err := mgr.SearchLearnings(ctx, userID, query, 10)
		if err != nil {
			return err
		}
		for _, l := range learnings {
			fmt.Fprintf(cmd.OutOrStdout(), "#%d [%s] %s\n", l.ID, l.Category, l.Title)
		}
		return nil

	case "add":
		if len(args) < 2 {
			return fmt.Errorf("learnings add requires <cat>|<title>|<content>")
		}
		rest := strings.SplitN(strings.Join(args[1:], " "), "|", 3)
		if len(rest) != 3 {
			return fmt.Errorf("learnings add requires <cat>|<title>|<content>")
		}
		category := store.LearningCategory(strings.TrimSpace(rest[0]))
		title := strings.TrimSpace(rest[1])
		content := strings.TrimSpace(rest[2])

		l, err := mgr.AddLearning(ctx, userID, project, category, title, content)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Added learning #%d\n", l.ID)
		return nil

	default:
		return fmt.Errorf("learnings: unknown subcommand %q", args[0])
	}
}
