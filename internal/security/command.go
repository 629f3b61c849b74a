package security

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/wardenhq/warden/internal/log"
)

// ErrEmptyCommand indicates an empty or whitespace-only command.
var ErrEmptyCommand = errors.New("command cannot be empty")

// ErrDangerousCommand indicates the command matched a deny pattern.
var ErrDangerousCommand = errors.New("dangerous command blocked")

// dangerousPatterns are destructive command shapes rejected unconditionally:
// recursive/forced delete, disk formatting, raw device writes,
// shutdown/reboot, and the classic fork bomb.
var dangerousPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\brm\s+-[rf]{1,2}\b`),
	regexp.MustCompile(`(?i)\bdel\s+/[fq]\b`),
	regexp.MustCompile(`(?i)\brmdir\s+/s\b`),
	regexp.MustCompile(`(?i)\b(format|mkfs|diskpart)\b`),
	regexp.MustCompile(`(?i)\bdd\s+if=`),
	regexp.MustCompile(`>\s*/dev/sd`),
	regexp.MustCompile(`(?i)\b(shutdown|reboot|poweroff)\b`),
	regexp.MustCompile(`:\(\)\s*\{.*\};\s*:`),
}

// windowsAbsPath matches drive-letter absolute paths referenced in a command.
var windowsAbsPath = regexp.MustCompile(`[A-Za-z]:\\[^\\"'\s]+`)

// posixAbsPath captures POSIX absolute paths at a word boundary. Leading
// context (whitespace, pipe, redirect) keeps flag values like --foo=/x out
// only when glued to the flag; standalone /x is still caught.
var posixAbsPath = regexp.MustCompile(`(?:^|[\s|>])(/[^\s"'>]+)`)

// GuardConfig configures a CommandGuard.
type GuardConfig struct {
	// RestrictToWorkspace rejects commands referencing parent-directory
	// segments or absolute paths outside the workspace root.
	RestrictToWorkspace bool

	// DenyPatterns are additional regexes rejected on top of the built-in
	// set. A pattern that fails to compile is a configuration error.
	DenyPatterns []string
}

// CommandGuard validates shell command strings before they reach a shell
// (CWE-78). It has no knowledge of policy or confirmation; its only job is
// refusing obviously destructive commands and workspace escapes.
type CommandGuard struct {
	resolver *Resolver
	restrict bool
	deny     []*regexp.Regexp
	logger   log.Logger
}

// NewCommandGuard compiles cfg.DenyPatterns and returns a guard bound to the
// resolver's workspace root.
func NewCommandGuard(resolver *Resolver, cfg GuardConfig, logger log.Logger) (*CommandGuard, error) {
	if resolver == nil {
		return nil, fmt.Errorf("resolver is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}

	deny := make([]*regexp.Regexp, 0, len(cfg.DenyPatterns))
	for _, pattern := range cfg.DenyPatterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("compiling deny pattern %q: %w", pattern, err)
		}
		deny = append(deny, re)
	}

	return &CommandGuard{
		resolver: resolver,
		restrict: cfg.RestrictToWorkspace,
		deny:     deny,
		logger:   logger.With("component", "security.guard"),
	}, nil
}

// Check validates a command string. A nil error means the command may be
// handed to the shell.
func (g *CommandGuard) Check(command string) error {
	trimmed := strings.TrimSpace(command)
	if trimmed == "" {
		return ErrEmptyCommand
	}

	for _, re := range dangerousPatterns {
		if re.MatchString(trimmed) {
			g.logger.Warn("dangerous command blocked",
				"pattern", re.String(),
				"security_event", "dangerous_command")
			return fmt.Errorf("%w: matches %s", ErrDangerousCommand, re.String())
		}
	}
	for _, re := range g.deny {
		if re.MatchString(trimmed) {
			g.logger.Warn("command blocked by custom deny pattern",
				"pattern", re.String(),
				"security_event", "custom_deny_pattern")
			return fmt.Errorf("%w: matches deny pattern %s", ErrDangerousCommand, re.String())
		}
	}

	if g.restrict {
		if err := g.checkWorkspaceReferences(trimmed); err != nil {
			return err
		}
	}

	return nil
}

// checkWorkspaceReferences rejects parent-directory segments and absolute
// paths that do not resolve under the workspace root. This is a textual
// scan; the actual working directory and file arguments still go through
// Resolver at execution time.
func (g *CommandGuard) checkWorkspaceReferences(command string) error {
	if hasParentSegment(command) {
		g.logger.Warn("command references parent directory",
			"security_event", "workspace_escape_blocked")
		return fmt.Errorf("%w: parent directory segments are not allowed", ErrDangerousCommand)
	}

	if windowsAbsPath.MatchString(command) {
		// No drive letters inside a POSIX workspace
		g.logger.Warn("command references windows absolute path",
			"security_event", "workspace_escape_blocked")
		return fmt.Errorf("%w: absolute paths outside the workspace are not allowed", ErrDangerousCommand)
	}

	for _, m := range posixAbsPath.FindAllStringSubmatch(command, -1) {
		ref := m[1]
		canonical, err := canonicalize(ref)
		if err != nil || !g.resolver.Contains(canonical) {
			g.logger.Warn("command references path outside workspace",
				"path", ref,
				"security_event", "workspace_escape_blocked")
			return fmt.Errorf("%w: %s is outside the workspace", ErrDangerousCommand, ref)
		}
	}

	return nil
}

// hasParentSegment reports whether the command contains a standalone ".."
// path segment.
func hasParentSegment(command string) bool {
	for _, field := range strings.Fields(command) {
		for _, seg := range strings.FieldsFunc(field, func(r rune) bool {
			return r == '/' || r == '\\'
		}) {
			if seg == ".." {
				return true
			}
		}
	}
	return false
}
