package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

// NewRootCmd creates the root command for the ralphctl CLI, the operator
// front-end over the command surface a messaging integration would drive
// (spec.md §6.1).
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "ralphctl",
		Short: "Operator CLI for the autonomous task orchestration core",
		Long: `ralphctl drives the same command surface a chat-operated messaging
front-end would: create and inspect PRDs/stories/tasks, queue work, and
control the autonomous scheduling loop.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "ralph.yaml",
		"config file (default is ralph.yaml)")

	rootCmd.AddCommand(newPRDCmd())
	rootCmd.AddCommand(newStoryCmd())
	rootCmd.AddCommand(newTaskCmd())
	rootCmd.AddCommand(newTasksCmd())
	rootCmd.AddCommand(newQueueCmd())
	rootCmd.AddCommand(newAutonomousCmd())
	rootCmd.AddCommand(newLearningsCmd())
	rootCmd.AddCommand(newCooldownCmd())
	rootCmd.AddCommand(newComplexCmd())

	return rootCmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// GetConfigFile returns the --config flag value for subcommands that need
// to load configuration explicitly.
func GetConfigFile() string { return cfgFile }
