package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/wardenhq/warden/internal/app"
	"github.com/wardenhq/warden/internal/config"
)

// Version information (injected at build time via ldflags).
var (
	AppVersion = "development"
	BuildTime  = "unknown"
	GitCommit  = "unknown"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version and configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Warden %s\n", AppVersion)
			fmt.Fprintf(w, "Build time: %s\n", BuildTime)
			fmt.Fprintf(w, "Git commit: %s\n\n", GitCommit)

			fmt.Fprintln(w, "Configuration:")
			fmt.Fprintf(w, "  Provider:  %s\n", cfg.Provider)
			fmt.Fprintf(w, "  Model:     %s\n", cfg.ModelName)
			fmt.Fprintf(w, "  Database:  %s@%s:%d/%s\n",
				cfg.PostgresUser, cfg.PostgresHost, cfg.PostgresPort, cfg.PostgresDBName)
			fmt.Fprintf(w, "  Workspace: %s\n", cfg.Agent.WorkspaceDir)

			printKeyStatus(w, app.EnvGeminiAPIKey)
			printKeyStatus(w, app.EnvOpenRouterAPIKey)
			return nil
		},
	}
}

func printKeyStatus(w io.Writer, envVar string) {
	if os.Getenv(envVar) != "" {
		fmt.Fprintf(w, "  %s: configured\n", envVar)
	} else {
		fmt.Fprintf(w, "  %s: not set\n", envVar)
	}
}
