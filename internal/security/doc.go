// Package security provides the sandbox validators confining tool execution
// to a chat workspace.
//
// # Overview
//
// Two validators cover the containment surface:
//   - Path traversal (CWE-22): Resolver canonicalizes paths against a
//     workspace root and rejects anything that escapes it, including
//     escapes through symlinks.
//   - Dangerous shell commands (CWE-78): CommandGuard rejects destructive
//     command patterns and, in restricted mode, commands referencing paths
//     outside the workspace.
//
// # Usage
//
//	resolver, err := security.NewResolver(workspaceRoot, logger)
//	abs, err := resolver.Resolve(userPath)
//
//	guard, err := security.NewCommandGuard(resolver, security.GuardConfig{
//	    RestrictToWorkspace: true,
//	}, logger)
//	if err := guard.Check(command); err != nil {
//	    return fmt.Errorf("dangerous command: %w", err)
//	}
//
// # Error Handling
//
// Validators intentionally both log and return errors. Security events need
// an audit trail AND must propagate so callers deny the operation; removing
// either side would create a gap.
package security
