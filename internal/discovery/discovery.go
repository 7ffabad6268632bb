// Package discovery matches registry entries against structured queries and
// scores them against free-text task descriptions. The scorer is a
// deterministic heuristic, not a learned model: tie order falls back to
// registry discovery order, which is stable but carries no relevance.
package discovery

import (
	"regexp"
	"sort"
	"strings"

	"github.com/basket/agenthub/internal/registry"
)

// FindQuery holds the optional criteria for Find. Criteria are conjunctive
// across categories and disjunctive within a category's declared values.
type FindQuery struct {
	Keywords []string
	Domain   string
	FilePath string
}

// Recommendation pairs an agent with its heuristic score.
type Recommendation struct {
	Agent      registry.Metadata `json:"agent"`
	Score      int               `json:"score"`
	Confidence float64           `json:"confidence"`
}

const (
	keywordWeight    = 10
	capabilityWeight = 5
	// confidenceDenom normalizes the raw score into [0, 1].
	confidenceDenom = 20.0
	defaultTopN     = 5
)

// Engine answers discovery queries over a registry snapshot.
type Engine struct {
	reg *registry.Registry
}

func NewEngine(reg *registry.Registry) *Engine {
	return &Engine{reg: reg}
}

// Find returns the entries matching every supplied criterion, in registry
// discovery order.
func (e *Engine) Find(q FindQuery) ([]registry.Metadata, error) {
	entries, err := e.reg.Entries()
	if err != nil {
		return nil, err
	}

	var pathRe *regexp.Regexp
	var out []registry.Metadata
	for _, entry := range entries {
		meta := entry.Metadata
		if len(q.Keywords) > 0 && !matchKeywords(meta.Triggers.Keywords, q.Keywords) {
			continue
		}
		if q.Domain != "" && !matchSubstring(meta.Triggers.Domains, q.Domain) {
			continue
		}
		if q.FilePath != "" {
			matched := false
			for _, pattern := range meta.Triggers.FilePatterns {
				pathRe = globToRegexp(pattern)
				if pathRe.MatchString(q.FilePath) {
					matched = true
					break
				}
			}
			if !matched {
				continue
			}
		}
		out = append(out, meta)
	}
	return out, nil
}

// Recommend scores every agent against the task description and returns the
// top entries by descending score. Ties keep registry discovery order.
// Confidence is min(score/20, 1).
func (e *Engine) Recommend(task string, limit int) ([]Recommendation, error) {
	entries, err := e.reg.Entries()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultTopN
	}

	lowTask := strings.ToLower(task)
	recs := make([]Recommendation, 0, len(entries))
	for _, entry := range entries {
		meta := entry.Metadata
		score := 0
		for _, kw := range meta.Triggers.Keywords {
			if kw != "" && strings.Contains(lowTask, strings.ToLower(kw)) {
				score += keywordWeight
			}
		}
		for _, cap := range meta.Capabilities {
			tag := strings.ToLower(spaceSeparators(cap))
			if tag != "" && strings.Contains(lowTask, tag) {
				score += capabilityWeight
			}
		}
		confidence := float64(score) / confidenceDenom
		if confidence > 1 {
			confidence = 1
		}
		recs = append(recs, Recommendation{Agent: meta, Score: score, Confidence: confidence})
	}

	sort.SliceStable(recs, func(i, j int) bool { return recs[i].Score > recs[j].Score })
	if len(recs) > limit {
		recs = recs[:limit]
	}
	return recs, nil
}

// matchKeywords reports whether any supplied keyword matches any declared
// keyword as a case-insensitive substring.
func matchKeywords(declared, supplied []string) bool {
	for _, want := range supplied {
		w := strings.ToLower(strings.TrimSpace(want))
		if w == "" {
			continue
		}
		for _, have := range declared {
			if strings.Contains(strings.ToLower(have), w) {
				return true
			}
		}
	}
	return false
}

func matchSubstring(declared []string, want string) bool {
	w := strings.ToLower(strings.TrimSpace(want))
	for _, have := range declared {
		if strings.Contains(strings.ToLower(have), w) {
			return true
		}
	}
	return false
}

// globToRegexp converts a trigger file pattern to an unanchored regexp:
// every run of * (including **) becomes .*, ? becomes a single character,
// everything else is literal.
func globToRegexp(pattern string) *regexp.Regexp {
	quoted := regexp.QuoteMeta(pattern)
	quoted = strings.ReplaceAll(quoted, `\*`, `.*`)
	quoted = strings.ReplaceAll(quoted, `\?`, `.`)
	re, err := regexp.Compile("(?i)" + quoted)
	if err != nil {
		// QuoteMeta output always compiles; match nothing if it somehow
		// does not.
		return regexp.MustCompile(`\A\z`)
	}
	return re
}

// spaceSeparators turns a capability tag like static_analysis into the
// phrase "static analysis" so it can be found in prose.
func spaceSeparators(tag string) string {
	tag = strings.ReplaceAll(tag, "_", " ")
	tag = strings.ReplaceAll(tag, "-", " ")
	return strings.TrimSpace(tag)
}
