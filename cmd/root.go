// Package cmd implements the warden command tree.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "warden",
	Short: "Warden - a trust-and-execution agent core",
	Long: `Warden runs a conversational automation agent: it selects skills for a
prompt, drives a model tool loop inside a sandboxed per-chat workspace, and
pauses on side-effecting tool calls until you confirm them.

Provider credentials are read from the environment (GEMINI_API_KEY or
OPENROUTER_API_KEY); everything else lives in ~/.warden/config.yaml.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newACLCmd())
	rootCmd.AddCommand(newSkillsCmd())
	rootCmd.AddCommand(newSessionsCmd())
	rootCmd.AddCommand(newVersionCmd())
}
