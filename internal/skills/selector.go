package skills

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/wardenhq/warden/internal/config"
	"github.com/wardenhq/warden/internal/log"
)

// Heuristic score weights.
const (
	scoreTrigger     = 5
	scoreNameToken   = 3
	scoreTag         = 2
	scoreDescription = 1
)

// Completer produces a plain-text completion, used for the optional
// model-assisted re-ranking stage. Nil disables re-ranking.
type Completer interface {
	Complete(ctx context.Context, system, user string) (string, error)
}

// Selection is the outcome of skill selection for one run.
type Selection struct {
	// Skills are the active skills, always-active ones first.
	Skills []Skill
	// Names are the active skill names in the same order.
	Names []string
	// AllowedTools is the sorted, deduplicated union of the active skills'
	// allowed-tool lists.
	AllowedTools []string
}

// Selector ranks loaded skills against a prompt.
type Selector struct {
	cfg       config.SkillsConfig
	completer Completer
	logger    log.Logger
}

// NewSelector creates a selector. completer may be nil to run heuristics
// only.
func NewSelector(cfg config.SkillsConfig, completer Completer, logger log.Logger) *Selector {
	return &Selector{
		cfg:       cfg,
		completer: completer,
		logger:    logger.With("component", "skills"),
	}
}

// Select picks the active skill set for prompt. Always-active skills are
// included unconditionally and do not count against the max-active budget;
// re-ranking failures fall back silently to the heuristic order.
func (s *Selector) Select(ctx context.Context, prompt string, loaded []Skill) Selection {
	var alwaysActive, optional []Skill
	for _, sk := range loaded {
		if !sk.Enabled {
			continue
		}
		if sk.AlwaysActive {
			alwaysActive = append(alwaysActive, sk)
		} else {
			optional = append(optional, sk)
		}
	}

	candidates := s.rankHeuristic(prompt, optional)
	if s.cfg.RerankEnabled && s.completer != nil && len(candidates) > 1 {
		candidates = s.rerank(ctx, prompt, candidates)
	}

	maxActive := s.cfg.MaxActive
	if maxActive > len(candidates) {
		maxActive = len(candidates)
	}

	selected := make([]Skill, 0, len(alwaysActive)+maxActive)
	selected = append(selected, alwaysActive...)
	selected = append(selected, candidates[:maxActive]...)

	names := make([]string, len(selected))
	for i, sk := range selected {
		names[i] = sk.Name
	}

	return Selection{
		Skills:       selected,
		Names:        names,
		AllowedTools: ToolUnion(selected),
	}
}

// rankHeuristic scores every skill against the prompt and returns the top
// candidates, descending by score with ties broken by name. When every
// score is zero the first N skills in their stable input order are kept.
func (s *Selector) rankHeuristic(prompt string, optional []Skill) []Skill {
	promptLower := strings.ToLower(prompt)
	promptTokens := tokenize(promptLower)

	type scored struct {
		skill Skill
		score int
	}
	ranked := make([]scored, 0, len(optional))
	anyHit := false
	for _, sk := range optional {
		score := scoreSkill(sk, promptLower, promptTokens)
		if score > 0 {
			anyHit = true
		}
		ranked = append(ranked, scored{skill: sk, score: score})
	}

	limit := s.cfg.CandidateLimit
	if limit <= 0 || limit > len(ranked) {
		limit = len(ranked)
	}

	if !anyHit {
		out := make([]Skill, 0, limit)
		for _, r := range ranked[:limit] {
			out = append(out, r.skill)
		}
		return out
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].skill.Name < ranked[j].skill.Name
	})

	out := make([]Skill, 0, limit)
	for _, r := range ranked[:limit] {
		out = append(out, r.skill)
	}
	return out
}

func scoreSkill(sk Skill, promptLower string, promptTokens map[string]struct{}) int {
	score := 0
	for _, trigger := range sk.Triggers {
		t := strings.ToLower(strings.TrimSpace(trigger))
		if t != "" && strings.Contains(promptLower, t) {
			score += scoreTrigger
		}
	}
	for token := range tokenize(strings.ToLower(sk.Name)) {
		if _, ok := promptTokens[token]; ok {
			score += scoreNameToken
		}
	}
	for _, tag := range sk.Tags {
		if _, ok := promptTokens[strings.ToLower(strings.TrimSpace(tag))]; ok {
			score += scoreTag
		}
	}
	for token := range tokenize(strings.ToLower(sk.Description)) {
		if _, ok := promptTokens[token]; ok {
			score += scoreDescription
		}
	}
	return score
}

// tokenize splits lowered text on non-alphanumeric runes, dropping short
// stop tokens.
func tokenize(lower string) map[string]struct{} {
	tokens := make(map[string]struct{})
	for _, tok := range strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if len(tok) > 2 {
			tokens[tok] = struct{}{}
		}
	}
	return tokens
}

const rerankSystem = "You rank capability bundles (skills) by relevance to a user request. " +
	"Respond with a JSON array of skill names, most relevant first. Respond with the array only."

// rerank asks the completer to reorder candidates. Any failure (call error,
// unparseable output, unknown names only) keeps the heuristic order.
func (s *Selector) rerank(ctx context.Context, prompt string, candidates []Skill) []Skill {
	names := make([]string, len(candidates))
	byName := make(map[string]Skill, len(candidates))
	for i, sk := range candidates {
		names[i] = sk.Name
		byName[strings.ToLower(sk.Name)] = sk
	}

	user := fmt.Sprintf("Skills: %s\n\nUser request: %s", strings.Join(names, ", "), prompt)
	raw, err := s.completer.Complete(ctx, rerankSystem, user)
	if err != nil {
		s.logger.Debug("skill re-rank failed, keeping heuristic order", "error", err)
		return candidates
	}

	ordered, err := parseNameArray(raw)
	if err != nil {
		s.logger.Debug("skill re-rank output unparseable, keeping heuristic order", "error", err)
		return candidates
	}

	var out []Skill
	used := make(map[string]struct{}, len(ordered))
	for _, name := range ordered {
		key := strings.ToLower(strings.TrimSpace(name))
		sk, ok := byName[key]
		if !ok {
			continue
		}
		if _, dup := used[key]; dup {
			continue
		}
		used[key] = struct{}{}
		out = append(out, sk)
	}
	if len(out) == 0 {
		return candidates
	}
	// unranked candidates keep their heuristic position after the ranked ones
	for _, sk := range candidates {
		if _, ok := used[strings.ToLower(sk.Name)]; !ok {
			out = append(out, sk)
		}
	}
	return out
}

// parseNameArray extracts a JSON string array from model output, accepting a
// bare array or an array embedded in surrounding text.
func parseNameArray(raw string) ([]string, error) {
	start := strings.Index(raw, "[")
	end := strings.LastIndex(raw, "]")
	if start < 0 || end <= start {
		return nil, fmt.Errorf("no JSON array found")
	}
	var names []string
	if err := json.Unmarshal([]byte(raw[start:end+1]), &names); err != nil {
		return nil, fmt.Errorf("parsing name array: %w", err)
	}
	return names, nil
}
