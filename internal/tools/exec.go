package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/wardenhq/warden/internal/config"
	"github.com/wardenhq/warden/internal/log"
	"github.com/wardenhq/warden/internal/security"
)

// ExecTool runs shell commands under the workspace sandbox: command guard,
// resolved working directory, hard wall-clock timeout, bounded output.
type ExecTool struct {
	resolver *security.Resolver
	guard    *security.CommandGuard
	cfg      config.ExecConfig
	logger   log.Logger
}

// NewExecTool creates the exec tool.
func NewExecTool(resolver *security.Resolver, guard *security.CommandGuard, cfg config.ExecConfig, logger log.Logger) (*ExecTool, error) {
	if resolver == nil || guard == nil {
		return nil, fmt.Errorf("resolver and guard are required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &ExecTool{
		resolver: resolver,
		guard:    guard,
		cfg:      cfg,
		logger:   logger.With("component", "tools.exec"),
	}, nil
}

// Register adds exec to the registry.
func (e *ExecTool) Register(r *Registry) {
	r.Register(Spec{
		Name:          NameExec,
		Description:   "Execute a shell command inside the workspace and return its output.",
		InputSchema:   mustSchema[ExecInput](),
		SideEffecting: true,
	}, func(ctx context.Context, args map[string]any) (string, error) {
		input, err := decodeArgs[ExecInput](args)
		if err != nil {
			return "", err
		}
		return e.Execute(ctx, input)
	})
}

// Execute runs one command. The timeout is enforced here with a process
// kill; there is no cooperative cancellation of shell tools.
func (e *ExecTool) Execute(ctx context.Context, input ExecInput) (string, error) {
	command := strings.TrimSpace(input.Command)
	if command == "" {
		return "", security.ErrEmptyCommand
	}
	if err := e.guard.Check(command); err != nil {
		return "", err
	}

	workDir, err := e.workingDir(input.WorkingDir)
	if err != nil {
		return "", err
	}

	runCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout())
	defer cancel()

	cmd := exec.CommandContext(runCtx, "bash", "-lc", command)
	cmd.Dir = workDir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		e.logger.Warn("command timed out", "timeout", e.cfg.Timeout())
		return "", fmt.Errorf("command timed out after %s", e.cfg.Timeout())
	}

	exitCode := 0
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		} else {
			return "", fmt.Errorf("running command: %w", runErr)
		}
	}

	return e.formatOutput(stdout.String(), stderr.String(), exitCode), nil
}

// workingDir resolves the requested working directory. When the sandbox is
// restricted the directory must resolve inside the workspace; otherwise any
// existing directory is accepted.
func (e *ExecTool) workingDir(requested string) (string, error) {
	if strings.TrimSpace(requested) == "" {
		return e.resolver.Root(), nil
	}
	if e.cfg.RestrictToWorkspace {
		return e.resolver.Resolve(requested)
	}
	return requested, nil
}

// formatOutput combines stdout and stderr with a STDERR marker, appends a
// non-zero exit code, and truncates to the configured budget counting runes.
func (e *ExecTool) formatOutput(stdout, stderr string, exitCode int) string {
	out := stdout
	if strings.TrimSpace(stderr) != "" {
		if out != "" && !strings.HasSuffix(out, "\n") {
			out += "\n"
		}
		out += "STDERR:\n" + stderr
	}
	if strings.TrimSpace(out) == "" {
		out = "(no output)"
	}
	if exitCode != 0 {
		if !strings.HasSuffix(out, "\n") {
			out += "\n"
		}
		out += fmt.Sprintf("Exit code: %d", exitCode)
	}

	runes := []rune(out)
	if budget := e.cfg.MaxOutputChars; budget > 0 && len(runes) > budget {
		elided := len(runes) - budget
		out = string(runes[:budget]) + fmt.Sprintf("\n... (truncated, %d more chars)", elided)
	}
	return out
}
