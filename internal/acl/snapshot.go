// Package acl implements the authorization engine gating command and tool
// invocation per chat and user.
//
// Rules are compiled from a JSON permission file into an immutable Snapshot.
// A Manager holds the current snapshot and swaps it atomically on reload, so
// every decision sees a fully-formed, self-consistent rule set.
package acl

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/wardenhq/warden/internal/log"
)

// Kind distinguishes the two authorizable name spaces.
type Kind string

const (
	KindCommand Kind = "command"
	KindTool    Kind = "tool"
)

// Decision reasons, machine-readable and stable.
const (
	ReasonACLDisabled    = "acl_disabled"
	ReasonEmptyCommand   = "empty_command"
	ReasonEmptyTool      = "empty_tool"
	ReasonOwnerBypass    = "owner_bypass"
	ReasonFullAccessChat = "full_access_chat"
	ReasonChatFullAccess = "chat_full_access"
	ReasonChatDeny       = "chat_deny"
	ReasonChatAllow      = "chat_allow"
	ReasonGlobalAllow    = "global_allow"
	ReasonNotAllowed     = "not_allowed"
)

// Decision is the outcome of an authorization check. Denials are first-class
// values, not errors.
type Decision struct {
	Allowed bool
	Reason  string
}

func allow(reason string) Decision { return Decision{Allowed: true, Reason: reason} }
func deny(reason string) Decision  { return Decision{Allowed: false, Reason: reason} }

type nameSet map[string]struct{}

func (s nameSet) has(name string) bool {
	_, ok := s[name]
	return ok
}

// ChatRule is the compiled per-chat rule set.
type ChatRule struct {
	FullAccess    bool
	AllowCommands nameSet
	DenyCommands  nameSet
	AllowTools    nameSet
	DenyTools     nameSet
}

// Snapshot is an immutable, fully-resolved view of authorization rules.
// All contained names are case-normalized and never empty.
type Snapshot struct {
	Version         int
	Owners          map[int64]struct{}
	FullAccessChats map[int64]struct{}
	GlobalCommands  nameSet
	GlobalTools     nameSet
	Chats           map[int64]ChatRule
	SkippedChatKeys int
}

// permission file wire shape
type permissionFile struct {
	Version           int                     `json:"version"`
	OwnerUserIDs      []int64                 `json:"owner_user_ids"`
	FullAccessChatIDs []int64                 `json:"full_access_chat_ids"`
	Global            globalRules             `json:"global"`
	Chats             map[string]chatRuleFile `json:"chats"`
}

type globalRules struct {
	AllowCommands []string `json:"allow_commands"`
	AllowTools    []string `json:"allow_tools"`
}

type chatRuleFile struct {
	FullAccess    bool     `json:"full_access"`
	AllowCommands []string `json:"allow_commands"`
	DenyCommands  []string `json:"deny_commands"`
	AllowTools    []string `json:"allow_tools"`
	DenyTools     []string `json:"deny_tools"`
}

// NormalizeName canonicalizes a command or tool name: trim whitespace, strip
// one leading "/", lowercase. Empty results mean the name is unusable.
func NormalizeName(name string) string {
	name = strings.TrimSpace(name)
	name = strings.TrimPrefix(name, "/")
	return strings.ToLower(name)
}

func compileSet(names []string) nameSet {
	set := make(nameSet, len(names))
	for _, n := range names {
		if norm := NormalizeName(n); norm != "" {
			set[norm] = struct{}{}
		}
	}
	return set
}

// LoadSnapshot reads and compiles the permission file at path. Chat keys
// that are not decimal integers are skipped with a warning rather than
// failing the whole file.
func LoadSnapshot(path string, logger log.Logger) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading permission file: %w", err)
	}

	var raw permissionFile
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parsing permission file: %w", err)
	}

	snap := &Snapshot{
		Version:         raw.Version,
		Owners:          make(map[int64]struct{}, len(raw.OwnerUserIDs)),
		FullAccessChats: make(map[int64]struct{}, len(raw.FullAccessChatIDs)),
		GlobalCommands:  compileSet(raw.Global.AllowCommands),
		GlobalTools:     compileSet(raw.Global.AllowTools),
		Chats:           make(map[int64]ChatRule, len(raw.Chats)),
	}
	for _, id := range raw.OwnerUserIDs {
		snap.Owners[id] = struct{}{}
	}
	for _, id := range raw.FullAccessChatIDs {
		snap.FullAccessChats[id] = struct{}{}
	}

	for key, rule := range raw.Chats {
		chatID, err := strconv.ParseInt(strings.TrimSpace(key), 10, 64)
		if err != nil {
			snap.SkippedChatKeys++
			logger.Warn("skipping malformed chat id key in permission file",
				"key", key, "path", path)
			continue
		}
		snap.Chats[chatID] = ChatRule{
			FullAccess:    rule.FullAccess,
			AllowCommands: compileSet(rule.AllowCommands),
			DenyCommands:  compileSet(rule.DenyCommands),
			AllowTools:    compileSet(rule.AllowTools),
			DenyTools:     compileSet(rule.DenyTools),
		}
	}

	return snap, nil
}

// emptySnapshot is used before the first successful load. It synthesizes no
// allow decisions; everything falls through to not_allowed.
func emptySnapshot() *Snapshot {
	return &Snapshot{
		Owners:          map[int64]struct{}{},
		FullAccessChats: map[int64]struct{}{},
		GlobalCommands:  nameSet{},
		GlobalTools:     nameSet{},
		Chats:           map[int64]ChatRule{},
	}
}

// Authorize applies the decision rules against this snapshot, first match
// wins.
func (s *Snapshot) Authorize(chatID, userID int64, name string, kind Kind) Decision {
	norm := NormalizeName(name)
	if norm == "" {
		if kind == KindTool {
			return deny(ReasonEmptyTool)
		}
		return deny(ReasonEmptyCommand)
	}

	if _, ok := s.Owners[userID]; ok {
		return allow(ReasonOwnerBypass)
	}
	if _, ok := s.FullAccessChats[chatID]; ok {
		return allow(ReasonFullAccessChat)
	}

	if rule, ok := s.Chats[chatID]; ok {
		if rule.FullAccess {
			return allow(ReasonChatFullAccess)
		}
		denySet, allowSet := rule.DenyCommands, rule.AllowCommands
		if kind == KindTool {
			denySet, allowSet = rule.DenyTools, rule.AllowTools
		}
		if denySet.has(norm) {
			return deny(ReasonChatDeny)
		}
		if allowSet.has(norm) {
			return allow(ReasonChatAllow)
		}
	}

	global := s.GlobalCommands
	if kind == KindTool {
		global = s.GlobalTools
	}
	if global.has(norm) {
		return allow(ReasonGlobalAllow)
	}

	return deny(ReasonNotAllowed)
}
