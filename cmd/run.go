package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/wardenhq/warden/internal/agent"
	"github.com/wardenhq/warden/internal/app"
	"github.com/wardenhq/warden/internal/config"
	"github.com/wardenhq/warden/internal/log"
	"github.com/wardenhq/warden/internal/store"
)

func newRunCmd() *cobra.Command {
	var chatID, userID int64

	cmd := &cobra.Command{
		Use:   "run [prompt]",
		Short: "Run the agent on a prompt",
		Long: `Run starts one agent run and drives it to completion. When the model
requests a side-effecting tool (write_file, edit_file, exec) the run pauses
and asks for confirmation before executing it.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAgent(cmd, chatID, userID, strings.Join(args, " "))
		},
	}
	cmd.Flags().Int64Var(&chatID, "chat", 1, "chat identifier (workspace and memory scope)")
	cmd.Flags().Int64Var(&userID, "user", 1, "user identifier (authorization subject)")
	return cmd
}

func runAgent(cmd *cobra.Command, chatID, userID int64, prompt string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := log.New(log.Config{})

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("shutdown", "error", err)
		}
	}()
	a.Runtime.StartHygiene(ctx)

	out, err := a.Runtime.Run(ctx, chatID, userID, prompt)
	if err != nil {
		return err
	}

	reader := bufio.NewReader(cmd.InOrStdin())
	for out.Status == store.SessionAwaitingConfirmation {
		out, err = confirmPending(ctx, cmd, reader, a.Runtime, out, userID)
		if err != nil {
			return err
		}
	}

	w := cmd.OutOrStdout()
	if len(out.SelectedSkills) > 0 {
		fmt.Fprintf(w, "[skills: %s]\n", strings.Join(out.SelectedSkills, ", "))
	}
	fmt.Fprintln(w, out.Text)
	if out.Status != store.SessionCompleted {
		fmt.Fprintf(w, "[session %d ended: %s]\n", out.SessionID, out.Status)
	}
	return nil
}

// confirmPending shows the suspended tool call and resolves it from a y/N
// answer. Anything but an explicit yes cancels.
func confirmPending(ctx context.Context, cmd *cobra.Command, reader *bufio.Reader, rt *agent.Runtime, out *agent.Outcome, userID int64) (*agent.Outcome, error) {
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "\nThe agent wants to run %s with:\n", out.PendingTool)
	if args, err := json.MarshalIndent(out.PendingArgs, "  ", "  "); err == nil {
		fmt.Fprintf(w, "  %s\n", args)
	}
	fmt.Fprint(w, "Allow it? [y/N]: ")

	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		// EOF counts as a refusal.
		line = "n"
	}

	answer := strings.ToLower(strings.TrimSpace(line))
	if answer == "y" || answer == "yes" {
		return rt.Resume(ctx, out.ConfirmationID, userID)
	}
	return rt.Cancel(ctx, out.ConfirmationID, userID)
}
