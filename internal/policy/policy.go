// Package policy implements the tool policy evaluator: skill-scoped
// allowlists, static allow/deny lists, and a regex allowlist gating shell
// commands. Evaluation runs before initial execution and again before a
// confirmed pending action resumes, so confirmation never bypasses policy.
package policy

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/wardenhq/warden/internal/config"
	"github.com/wardenhq/warden/internal/log"
)

// ErrDenied is wrapped by every policy denial. Denials are expected
// outcomes; callers check errors.Is(err, ErrDenied) to distinguish them
// from misconfiguration.
var ErrDenied = errors.New("denied by tool policy")

// execToolName is the shell-execution tool subject to the command regex
// allowlist.
const execToolName = "exec"

// Evaluator decides whether a named tool call is permitted.
type Evaluator struct {
	enabled      bool
	denyTools    map[string]struct{}
	allowTools   map[string]struct{}
	execPatterns []*regexp.Regexp
	logger       log.Logger
}

// NewEvaluator compiles the static lists from cfg. A malformed exec allow
// pattern is a configuration error here rather than a silent pass later.
func NewEvaluator(cfg config.PolicyConfig, logger log.Logger) (*Evaluator, error) {
	patterns := make([]*regexp.Regexp, 0, len(cfg.ExecAllowPatterns))
	for _, p := range cfg.ExecAllowPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("policy misconfiguration: exec allow pattern %q: %w", p, err)
		}
		patterns = append(patterns, re)
	}

	return &Evaluator{
		enabled:      cfg.Enabled,
		denyTools:    toSet(cfg.DenyTools),
		allowTools:   toSet(cfg.AllowTools),
		execPatterns: patterns,
		logger:       logger.With("component", "policy"),
	}, nil
}

func toSet(names []string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		if norm := normalize(n); norm != "" {
			set[norm] = struct{}{}
		}
	}
	return set
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Evaluate checks a tool call against the active skills' allowed-tool union
// and the static lists, short-circuiting on the first failure. A nil return
// means the call may proceed to execution.
func (e *Evaluator) Evaluate(toolName string, args map[string]any, skillAllowedTools []string) error {
	if !e.enabled {
		return nil
	}

	name := normalize(toolName)

	inSkills := false
	for _, t := range skillAllowedTools {
		if normalize(t) == name {
			inSkills = true
			break
		}
	}
	if !inSkills {
		e.logger.Debug("tool not allowed by active skills", "tool", toolName)
		return fmt.Errorf("%w: tool %q is not allowed by the active skills", ErrDenied, toolName)
	}

	if _, denied := e.denyTools[name]; denied {
		return fmt.Errorf("%w: tool %q is on the denylist", ErrDenied, toolName)
	}
	if len(e.allowTools) > 0 {
		if _, ok := e.allowTools[name]; !ok {
			return fmt.Errorf("%w: tool %q is not on the allowlist", ErrDenied, toolName)
		}
	}

	if name == execToolName && len(e.execPatterns) > 0 {
		return e.evaluateExecCommand(args)
	}

	return nil
}

// evaluateExecCommand applies the command regex allowlist to the exec tool's
// command argument.
func (e *Evaluator) evaluateExecCommand(args map[string]any) error {
	raw, ok := args["command"].(string)
	command := strings.TrimSpace(raw)
	if !ok || command == "" {
		return fmt.Errorf("%w: exec requires a non-empty command argument", ErrDenied)
	}

	for _, re := range e.execPatterns {
		if re.MatchString(command) {
			return nil
		}
	}
	e.logger.Debug("exec command matched no allow pattern", "command", command)
	return fmt.Errorf("%w: command does not match any allowed pattern", ErrDenied)
}
