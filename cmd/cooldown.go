package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ralph-labs/orchestrator/internal/config"
)

func newCooldownCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cooldown [status|clear|test]",
		Short: "Inspect or override the rate-limit cooldown gate",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			action := "status"
			if len(args) == 1 {
				action = args[0]
			}
			return runCooldown(cmd, action)
		},
	}
	return cmd
}

func runCooldown(cmd *cobra.Command, action string) error {
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
	case "clear":
		mgr.CooldownClear()
		fmt.Fprintln(cmd.OutOrStdout(), "Cooldown cleared")
		return nil

	case "test":
		mgr.CooldownTest(1)
		fmt.Fprintln(cmd.OutOrStdout(), "Cooldown activated for 1 minute (test)")
		return nil

	case "status":
		state := mgr.CooldownStatus()
		if !state.Active {
			fmt.Fprintln(cmd.OutOrStdout(), "Cooldown inactive")
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Cooldown active: %s (%d minutes remaining)\n", state.UserMessage, state.RemainingMinutes)
		return nil

	default:
		return fmt.Errorf("cooldown: unknown action %q", action)
	}
}
