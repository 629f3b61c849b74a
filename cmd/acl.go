package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wardenhq/warden/internal/acl"
	"github.com/wardenhq/warden/internal/config"
	"github.com/wardenhq/warden/internal/log"
)

func newACLCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "acl",
		Short: "Inspect and reload the permission file",
	}
	cmd.AddCommand(newACLStatusCmd())
	cmd.AddCommand(newACLReloadCmd())
	return cmd
}

func newACLStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show authorization state",
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := loadACLManager()
			if err != nil {
				return err
			}
			meta := manager.Meta()

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Enabled:           %t\n", meta.Enabled)
			fmt.Fprintf(w, "Permission file:   %s\n", meta.Path)
			fmt.Fprintf(w, "Loaded:            %t\n", meta.Loaded)
			if meta.Loaded {
				fmt.Fprintf(w, "Version:           %d\n", meta.Version)
				fmt.Fprintf(w, "Owners:            %d\n", meta.Owners)
				fmt.Fprintf(w, "Full-access chats: %d\n", meta.FullAccessChats)
				fmt.Fprintf(w, "Scoped chats:      %d\n", meta.Chats)
			}
			return nil
		},
	}
}

func newACLReloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Reload the permission file now",
		RunE: func(cmd *cobra.Command, args []string) error {
			manager, err := loadACLManager()
			if err != nil {
				return err
			}
			if err := manager.ReloadNow(); err != nil {
				return fmt.Errorf("reloading permissions: %w", err)
			}
			meta := manager.Meta()
			fmt.Fprintf(cmd.OutOrStdout(), "Reloaded %s (version %d)\n", meta.Path, meta.Version)
			return nil
		},
	}
}

func loadACLManager() (*acl.Manager, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return acl.NewManager(cfg.ACL, log.New(log.Config{})), nil
}
