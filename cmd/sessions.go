package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wardenhq/warden/internal/app"
	"github.com/wardenhq/warden/internal/config"
	"github.com/wardenhq/warden/internal/log"
)

func newSessionsCmd() *cobra.Command {
	var chatID, userID int64
	var limit int

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List recent agent sessions for a chat",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger := log.New(log.Config{})

			a, err := app.Setup(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer func() {
				if err := a.Close(); err != nil {
					logger.Warn("shutdown", "error", err)
				}
			}()

			sessions, err := a.Store.ListRecentSessions(cmd.Context(), chatID, userID, limit)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if len(sessions) == 0 {
				fmt.Fprintln(w, "No sessions found.")
				return nil
			}
			for _, s := range sessions {
				fmt.Fprintf(w, "#%d  %s  %s  [%s]\n", s.ID,
					s.UpdatedAt.Format("2006-01-02 15:04"), s.Status, strings.Join(s.SelectedSkills, ", "))
				fmt.Fprintf(w, "    prompt: %s\n", firstLine(s.Prompt))
				if s.FinalResponse != "" {
					fmt.Fprintf(w, "    result: %s\n", firstLine(s.FinalResponse))
				}
			}
			return nil
		},
	}
	cmd.Flags().Int64Var(&chatID, "chat", 1, "chat identifier")
	cmd.Flags().Int64Var(&userID, "user", 1, "user identifier")
	cmd.Flags().IntVar(&limit, "limit", 10, "maximum sessions to list")
	return cmd
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	const max = 120
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
