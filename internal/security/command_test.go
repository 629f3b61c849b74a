package security

import (
	"errors"
	"fmt"
	"testing"

	"github.com/wardenhq/warden/internal/log"
)

func newTestGuard(t *testing.T, cfg GuardConfig) *CommandGuard {
	t.Helper()
	g, err := NewCommandGuard(newTestResolver(t), cfg, log.NewNop())
	if err != nil {
		t.Fatalf("NewCommandGuard(): %v", err)
	}
	return g
}

func TestCheckDangerousCommands(t *testing.T) {
	g := newTestGuard(t, GuardConfig{})

	tests := []string{
		"rm -rf /",
		"rm -r build",
		"sudo rm -rf /var",
		"del /f C:\\Windows\\system32",
		"rmdir /s folder",
		"mkfs.ext4 /dev/sda1",
		"format c:",
		"diskpart",
		"dd if=/dev/zero of=/dev/sda",
		"cat img > /dev/sda",
		"shutdown -h now",
		"reboot",
		"poweroff",
		":(){ :|:& };:",
	}

	for _, cmd := range tests {
		t.Run(cmd, func(t *testing.T) {
			if err := g.Check(cmd); !errors.Is(err, ErrDangerousCommand) {
				t.Errorf("Check(%q) = %v, want ErrDangerousCommand", cmd, err)
			}
		})
	}
}

func TestCheckSafeCommands(t *testing.T) {
	g := newTestGuard(t, GuardConfig{})

	tests := []string{
		"ls -la",
		"git status",
		"go test ./...",
		"echo hello",
		"grep -rn pattern .",
		"python3 script.py",
	}

	for _, cmd := range tests {
		t.Run(cmd, func(t *testing.T) {
			if err := g.Check(cmd); err != nil {
				t.Errorf("Check(%q) = %v, want nil", cmd, err)
			}
		})
	}
}

func TestCheckEmptyCommand(t *testing.T) {
	g := newTestGuard(t, GuardConfig{})

	for _, cmd := range []string{"", "   ", "\t\n"} {
		if err := g.Check(cmd); !errors.Is(err, ErrEmptyCommand) {
			t.Errorf("Check(%q) = %v, want ErrEmptyCommand", cmd, err)
		}
	}
}

func TestCheckCustomDenyPatterns(t *testing.T) {
	g := newTestGuard(t, GuardConfig{DenyPatterns: []string{`\bcurl\b`}})

	if err := g.Check("curl https://example.com"); !errors.Is(err, ErrDangerousCommand) {
		t.Errorf("Check() with custom deny = %v, want ErrDangerousCommand", err)
	}
	if err := g.Check("wget https://example.com"); err != nil {
		t.Errorf("Check() unmatched command = %v, want nil", err)
	}
}

func TestNewCommandGuardRequiresLogger(t *testing.T) {
	if _, err := NewCommandGuard(newTestResolver(t), GuardConfig{}, nil); err == nil {
		t.Fatal("NewCommandGuard() with nil logger succeeded, want error")
	}
}

func TestNewCommandGuardMalformedPattern(t *testing.T) {
	_, err := NewCommandGuard(newTestResolver(t), GuardConfig{DenyPatterns: []string{"("}}, log.NewNop())
	if err == nil {
		t.Fatal("NewCommandGuard() with malformed pattern succeeded, want error")
	}
}

func TestCheckWorkspaceRestriction(t *testing.T) {
	g := newTestGuard(t, GuardConfig{RestrictToWorkspace: true})

	denied := []string{
		"cat ../secret.txt",
		"ls ..",
		"cat /etc/passwd",
		"type C:\\Windows\\win.ini",
		"grep foo /var/log/syslog",
	}
	for _, cmd := range denied {
		t.Run("deny/"+cmd, func(t *testing.T) {
			if err := g.Check(cmd); !errors.Is(err, ErrDangerousCommand) {
				t.Errorf("Check(%q) = %v, want ErrDangerousCommand", cmd, err)
			}
		})
	}

	allowed := []string{
		"ls -la",
		"cat notes.txt",
		fmt.Sprintf("cat %s/notes.txt", g.resolver.Root()),
	}
	for _, cmd := range allowed {
		t.Run("allow/"+cmd, func(t *testing.T) {
			if err := g.Check(cmd); err != nil {
				t.Errorf("Check(%q) = %v, want nil", cmd, err)
			}
		})
	}
}

func TestCheckUnrestrictedAllowsAbsolutePaths(t *testing.T) {
	g := newTestGuard(t, GuardConfig{RestrictToWorkspace: false})

	if err := g.Check("cat /etc/hostname"); err != nil {
		t.Errorf("Check() unrestricted absolute path = %v, want nil", err)
	}
}
