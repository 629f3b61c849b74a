package skills

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/wardenhq/warden/internal/log"
)

// frontmatterDelimiter separates the YAML header from the instruction body.
const frontmatterDelimiter = "---"

type frontmatter struct {
	Name         string   `yaml:"name"`
	Description  string   `yaml:"description"`
	Tags         []string `yaml:"tags"`
	Triggers     []string `yaml:"triggers"`
	AllowedTools []string `yaml:"allowed_tools"`
	RiskLevel    string   `yaml:"risk_level"`
	Version      string   `yaml:"version"`
	Enabled      *bool    `yaml:"enabled"`
}

// Load discovers skill documents under dir: top-level *.md files plus
// <dir>/<name>/SKILL.md one level down. Disabled and malformed documents are
// skipped (malformed with a warning); a missing directory yields no skills.
// Results are sorted by name.
func Load(dir string, logger log.Logger) ([]Skill, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading skills directory: %w", err)
	}

	var loaded []Skill
	addFile := func(path, fallbackName string) {
		skill, err := parseFile(path, fallbackName)
		if err != nil {
			logger.Warn("skipping malformed skill document", "path", path, "error", err)
			return
		}
		if !skill.Enabled {
			logger.Debug("skipping disabled skill", "name", skill.Name, "path", path)
			return
		}
		loaded = append(loaded, skill)
	}

	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			nested := filepath.Join(dir, name, "SKILL.md")
			if _, err := os.Stat(nested); err == nil {
				addFile(nested, name)
			}
			continue
		}
		if strings.HasSuffix(name, ".md") {
			addFile(filepath.Join(dir, name), strings.TrimSuffix(name, ".md"))
		}
	}

	sort.Slice(loaded, func(i, j int) bool { return loaded[i].Name < loaded[j].Name })
	return loaded, nil
}

// parseFile parses one skill document. The frontmatter sits between two
// "---" lines at the top of the file; everything after the closing line is
// the instruction body.
func parseFile(path, fallbackName string) (Skill, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Skill{}, fmt.Errorf("reading skill file: %w", err)
	}

	header, body, err := splitFrontmatter(string(data))
	if err != nil {
		return Skill{}, err
	}

	var fm frontmatter
	if err := yaml.Unmarshal([]byte(header), &fm); err != nil {
		return Skill{}, fmt.Errorf("parsing frontmatter: %w", err)
	}

	name := strings.TrimSpace(fm.Name)
	if name == "" {
		name = fallbackName
	}

	enabled := true
	if fm.Enabled != nil {
		enabled = *fm.Enabled
	}

	return Skill{
		Name:         name,
		Description:  strings.TrimSpace(fm.Description),
		Tags:         fm.Tags,
		Triggers:     fm.Triggers,
		AllowedTools: fm.AllowedTools,
		RiskLevel:    fm.RiskLevel,
		Version:      fm.Version,
		Enabled:      enabled,
		Instructions: strings.TrimSpace(body),
		Path:         path,
	}, nil
}

// splitFrontmatter returns the YAML header and the body of a document.
func splitFrontmatter(content string) (header, body string, err error) {
	trimmed := strings.TrimLeft(content, "\uFEFF\n\r ")
	if !strings.HasPrefix(trimmed, frontmatterDelimiter) {
		return "", "", fmt.Errorf("missing frontmatter header")
	}

	rest := trimmed[len(frontmatterDelimiter):]
	rest = strings.TrimPrefix(rest, "\r\n")
	rest = strings.TrimPrefix(rest, "\n")

	for _, marker := range []string{"\n---\n", "\n---\r\n"} {
		if idx := strings.Index(rest, marker); idx >= 0 {
			return rest[:idx], rest[idx+len(marker):], nil
		}
	}
	// closing delimiter at end of file without trailing newline
	if strings.HasSuffix(rest, "\n"+frontmatterDelimiter) {
		return strings.TrimSuffix(rest, "\n"+frontmatterDelimiter), "", nil
	}
	return "", "", fmt.Errorf("unterminated frontmatter")
}
