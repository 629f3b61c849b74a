package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/wardenhq/warden/internal/log"
	"github.com/wardenhq/warden/internal/security"
)

// MaxReadFileSize bounds read_file to keep large files from exhausting
// memory (10 MB).
const MaxReadFileSize = 10 * 1024 * 1024

// FileTools implements the workspace-confined file tools.
type FileTools struct {
	resolver *security.Resolver
	logger   log.Logger
}

// NewFileTools creates the file toolset bound to a workspace resolver.
func NewFileTools(resolver *security.Resolver, logger log.Logger) (*FileTools, error) {
	if resolver == nil {
		return nil, fmt.Errorf("resolver is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &FileTools{resolver: resolver, logger: logger.With("component", "tools.file")}, nil
}

// Register adds read_file, write_file and edit_file to the registry.
func (f *FileTools) Register(r *Registry) {
	r.Register(Spec{
		Name:        NameReadFile,
		Description: "Read the complete content of a text file in the workspace.",
		InputSchema: mustSchema[ReadFileInput](),
	}, func(ctx context.Context, args map[string]any) (string, error) {
		input, err := decodeArgs[ReadFileInput](args)
		if err != nil {
			return "", err
		}
		return f.ReadFile(ctx, input)
	})

	r.Register(Spec{
		Name:          NameWriteFile,
		Description:   "Create or overwrite a text file in the workspace.",
		InputSchema:   mustSchema[WriteFileInput](),
		SideEffecting: true,
	}, func(ctx context.Context, args map[string]any) (string, error) {
		input, err := decodeArgs[WriteFileInput](args)
		if err != nil {
			return "", err
		}
		return f.WriteFile(ctx, input)
	})

	r.Register(Spec{
		Name:          NameEditFile,
		Description:   "Replace one exact text occurrence in a workspace file.",
		InputSchema:   mustSchema[EditFileInput](),
		SideEffecting: true,
	}, func(ctx context.Context, args map[string]any) (string, error) {
		input, err := decodeArgs[EditFileInput](args)
		if err != nil {
			return "", err
		}
		return f.EditFile(ctx, input)
	})
}

// ReadFile returns the full content of a regular file inside the workspace.
func (f *FileTools) ReadFile(_ context.Context, input ReadFileInput) (string, error) {
	path, err := f.resolver.Resolve(input.Path)
	if err != nil {
		return "", err
	}

	fi, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("file not found: %s", input.Path)
		}
		return "", fmt.Errorf("stat %s: %w", input.Path, err)
	}
	if !fi.Mode().IsRegular() {
		return "", fmt.Errorf("not a regular file: %s", input.Path)
	}
	if fi.Size() > MaxReadFileSize {
		return "", fmt.Errorf("file too large: %d bytes (max %d)", fi.Size(), MaxReadFileSize)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", input.Path, err)
	}
	f.logger.Debug("read file", "path", path, "bytes", len(data))
	return string(data), nil
}

// WriteFile writes content atomically: an exclusively-created temporary
// sibling is written first and renamed over the target, so the destination
// is never observed half-written and concurrent writers never share a
// temporary file.
func (f *FileTools) WriteFile(_ context.Context, input WriteFileInput) (string, error) {
	path, err := f.resolver.Resolve(input.Path)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return "", fmt.Errorf("creating parent directories: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp.*")
	if err != nil {
		return "", fmt.Errorf("creating temporary file: %w", err)
	}
	tmpName := tmp.Name()
	_, werr := tmp.WriteString(input.Content)
	if cerr := tmp.Close(); werr == nil {
		werr = cerr
	}
	if werr == nil {
		werr = os.Chmod(tmpName, 0o640)
	}
	if werr != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("writing temporary file: %w", werr)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("replacing %s: %w", input.Path, err)
	}

	f.logger.Info("wrote file", "path", path, "bytes", len(input.Content))
	return fmt.Sprintf("Wrote %d bytes to %s", len(input.Content), input.Path), nil
}

// EditFile replaces old_text with new_text. The old text must occur exactly
// once; zero occurrences is "not found", more than one is "ambiguous". The
// exactness requirement is a safety property, not a convenience default.
func (f *FileTools) EditFile(ctx context.Context, input EditFileInput) (string, error) {
	if input.OldText == "" {
		return "", fmt.Errorf("old_text cannot be empty")
	}

	current, err := f.ReadFile(ctx, ReadFileInput{Path: input.Path})
	if err != nil {
		return "", err
	}

	switch n := strings.Count(current, input.OldText); {
	case n == 0:
		return "", fmt.Errorf("old_text not found in %s", input.Path)
	case n > 1:
		return "", fmt.Errorf("old_text occurs %d times in %s, ambiguous, need more context", n, input.Path)
	}

	updated := strings.Replace(current, input.OldText, input.NewText, 1)
	return f.WriteFile(ctx, WriteFileInput{Path: input.Path, Content: updated})
}
