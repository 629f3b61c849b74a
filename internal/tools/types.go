// Package tools implements the built-in tool catalog and its sandboxed
// executors.
//
// Each tool has a typed input struct validated once at the dispatch
// boundary; executors never read loosely-typed JSON. File and shell tools
// run confined to a workspace through internal/security. This layer knows
// nothing about policy or confirmation; callers authorize first.
package tools

// Built-in tool names. The set is closed; skills extend capability through
// allow-lists over these names, not through new code paths.
const (
	NameReadFile  = "read_file"
	NameWriteFile = "write_file"
	NameEditFile  = "edit_file"
	NameExec      = "exec"

	NameMemorySave   = "memory_save"
	NameMemorySearch = "memory_search"
	NameMemoryForget = "memory_forget"
)

// ReadFileInput defines input for the read_file tool.
type ReadFileInput struct {
	Path string `json:"path" jsonschema_description:"The file path to read, relative to the workspace"`
}

// WriteFileInput defines input for the write_file tool.
type WriteFileInput struct {
	Path    string `json:"path" jsonschema_description:"The file path to write, relative to the workspace"`
	Content string `json:"content" jsonschema_description:"The full content to write"`
}

// EditFileInput defines input for the edit_file tool.
type EditFileInput struct {
	Path    string `json:"path" jsonschema_description:"The file path to edit, relative to the workspace"`
	OldText string `json:"old_text" jsonschema_description:"Exact text to replace; must occur exactly once in the file"`
	NewText string `json:"new_text" jsonschema_description:"Replacement text"`
}

// ExecInput defines input for the exec tool.
type ExecInput struct {
	Command    string `json:"command" jsonschema_description:"Shell command to execute"`
	WorkingDir string `json:"working_dir,omitempty" jsonschema_description:"Working directory relative to the workspace (default: workspace root)"`
}

// MemorySaveInput defines input for the memory_save tool.
type MemorySaveInput struct {
	Content    string  `json:"content" jsonschema_description:"The fact or note to remember"`
	Category   string  `json:"category,omitempty" jsonschema_description:"Optional category label"`
	Importance float64 `json:"importance,omitempty" jsonschema_description:"Importance from 0.0 to 1.0 (default 0.5)"`
}

// MemorySearchInput defines input for the memory_search tool.
type MemorySearchInput struct {
	Query string `json:"query" jsonschema_description:"Free-text search query"`
	Limit int    `json:"limit,omitempty" jsonschema_description:"Maximum results (default 5)"`
}

// MemoryForgetInput defines input for the memory_forget tool.
type MemoryForgetInput struct {
	IDs []string `json:"ids" jsonschema_description:"Memory entry ids to delete"`
}
