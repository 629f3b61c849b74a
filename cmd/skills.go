package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wardenhq/warden/internal/config"
	"github.com/wardenhq/warden/internal/log"
	"github.com/wardenhq/warden/internal/skills"
)

func newSkillsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "skills",
		Short: "Inspect skill documents",
	}
	cmd.AddCommand(newSkillsListCmd())
	return cmd
}

func newSkillsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List discovered skills",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			loaded, err := skills.Load(cfg.Skills.Dir, log.New(log.Config{}))
			if err != nil {
				return err
			}
			loaded = append([]skills.Skill{skills.CoreWorkspace()}, loaded...)

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Skill directory: %s\n\n", cfg.Skills.Dir)
			fmt.Fprintln(w, skills.Catalog(loaded))
			return nil
		},
	}
}
