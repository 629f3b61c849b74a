package acl

import (
	"fmt"
	"os"
	"slices"
	"sync"
	"time"

	"github.com/wardenhq/warden/internal/config"
	"github.com/wardenhq/warden/internal/log"
)

// Manager holds the current Snapshot and reload bookkeeping. Reload is an
// exclusive, short critical section (stat + optional reparse + swap);
// decisions acquire the snapshot reference under the lock and evaluate it
// outside, so a slow reparse never blocks readers of the previous snapshot.
type Manager struct {
	path    string
	ttl     time.Duration
	enabled bool
	logger  log.Logger

	mu        sync.Mutex
	snapshot  *Snapshot
	loaded    bool
	lastMtime time.Time
	lastCheck time.Time
	lastErr   error

	// now is swappable for tests
	now func() time.Time
}

// NewManager creates a manager for the permission file named in cfg.
// The file is not read until the first decision or an explicit ReloadNow.
func NewManager(cfg config.ACLConfig, logger log.Logger) *Manager {
	return &Manager{
		path:     cfg.Path,
		ttl:      cfg.ReloadTTL(),
		enabled:  cfg.Enabled,
		logger:   logger.With("component", "acl"),
		snapshot: emptySnapshot(),
		now:      time.Now,
	}
}

// Enabled reports whether enforcement is on.
func (m *Manager) Enabled() bool {
	return m.enabled
}

// Authorize decides whether (chatID, userID) may invoke name.
func (m *Manager) Authorize(chatID, userID int64, name string, kind Kind) Decision {
	if !m.enabled {
		return allow(ReasonACLDisabled)
	}
	return m.current().Authorize(chatID, userID, name, kind)
}

// IsOwner reports whether userID is in the owner set.
func (m *Manager) IsOwner(userID int64) bool {
	if !m.enabled {
		return false
	}
	_, ok := m.current().Owners[userID]
	return ok
}

// FilterAllowedTools returns the normalized, deduplicated, sorted subset of
// candidates that (chatID, userID) may invoke. With enforcement disabled all
// normalized candidates pass.
func (m *Manager) FilterAllowedTools(chatID, userID int64, candidates []string) []string {
	var snap *Snapshot
	if m.enabled {
		snap = m.current()
	}

	seen := make(map[string]struct{}, len(candidates))
	allowed := make([]string, 0, len(candidates))
	for _, c := range candidates {
		norm := NormalizeName(c)
		if norm == "" {
			continue
		}
		if _, dup := seen[norm]; dup {
			continue
		}
		seen[norm] = struct{}{}
		if snap == nil || snap.Authorize(chatID, userID, norm, KindTool).Allowed {
			allowed = append(allowed, norm)
		}
	}
	slices.Sort(allowed)
	return allowed
}

// current returns the freshest snapshot, reloading at most once per TTL.
func (m *Manager) current() *Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.maybeReloadLocked(false)
	return m.snapshot
}

// ReloadNow forces a reparse regardless of TTL and mtime, returning the
// reload error if any. The previous snapshot stays in force on failure.
func (m *Manager) ReloadNow() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.maybeReloadLocked(true)
	return m.lastErr
}

// maybeReloadLocked re-stats the permission file at most once per TTL and
// reparses when the mtime changed or no successful load has ever happened.
// Read/parse failures keep the previous snapshot (stale-but-available over
// fail-closed-to-empty). Caller holds m.mu.
func (m *Manager) maybeReloadLocked(force bool) {
	now := m.now()
	if !force && m.loaded && now.Sub(m.lastCheck) < m.ttl {
		return
	}
	m.lastCheck = now

	mtime, err := statFile(m.path)
	if err != nil {
		m.lastErr = err
		m.logger.Warn("permission file stat failed, keeping previous snapshot",
			"path", m.path, "error", err)
		return
	}
	if !force && m.loaded && mtime.Equal(m.lastMtime) {
		return
	}

	snap, err := LoadSnapshot(m.path, m.logger)
	if err != nil {
		m.lastErr = err
		m.logger.Warn("permission file reload failed, keeping previous snapshot",
			"path", m.path, "error", err)
		return
	}

	m.snapshot = snap
	m.loaded = true
	m.lastMtime = mtime
	m.lastErr = nil
	m.logger.Info("permission snapshot loaded",
		"version", snap.Version,
		"owners", len(snap.Owners),
		"chats", len(snap.Chats),
		"skipped_chat_keys", snap.SkippedChatKeys)
}

// statFile returns the permission file's modification time.
func statFile(path string) (time.Time, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return time.Time{}, fmt.Errorf("stat permission file: %w", err)
	}
	return fi.ModTime(), nil
}

// Meta describes the manager state for introspection (CLI `acl status`).
type Meta struct {
	Enabled         bool
	Path            string
	Loaded          bool
	Version         int
	Owners          int
	FullAccessChats int
	Chats           int
	GlobalCommands  int
	GlobalTools     int
	SkippedChatKeys int
	LastModified    time.Time
	LastError       string
}

// Meta returns a point-in-time view of the manager state.
func (m *Manager) Meta() Meta {
	m.mu.Lock()
	defer m.mu.Unlock()

	meta := Meta{
		Enabled:         m.enabled,
		Path:            m.path,
		Loaded:          m.loaded,
		Version:         m.snapshot.Version,
		Owners:          len(m.snapshot.Owners),
		FullAccessChats: len(m.snapshot.FullAccessChats),
		Chats:           len(m.snapshot.Chats),
		GlobalCommands:  len(m.snapshot.GlobalCommands),
		GlobalTools:     len(m.snapshot.GlobalTools),
		SkippedChatKeys: m.snapshot.SkippedChatKeys,
		LastModified:    m.lastMtime,
	}
	if m.lastErr != nil {
		meta.LastError = m.lastErr.Error()
	}
	return meta
}
