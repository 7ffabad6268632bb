package discovery

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/basket/agenthub/internal/registry"
)

func newEngine(t *testing.T, agents map[string]string) *Engine {
	t.Helper()
	root := t.TempDir()
	for file, body := range agents {
		if err := os.WriteFile(filepath.Join(root, file), []byte(body), 0o644); err != nil {
			t.Fatalf("write %s: %v", file, err)
		}
	}
	reg := registry.New(root, slog.New(slog.NewTextHandler(io.Discard, nil)))
	return NewEngine(reg)
}

const auditorDoc = `---
name: security-auditor
description: Finds vulnerabilities
triggers:
  keywords: [security, vulnerability]
  file_patterns: ["**/*auth*"]
  domains: [security]
capabilities:
  - dependency_scan
---
body
`

const frontendDoc = `---
name: frontend-helper
description: Component styling
triggers:
  keywords: [css, layout]
  file_patterns: ["**/*frontend*"]
  domains: [frontend]
capabilities:
  - component_styling
---
body
`

func TestFind_FilePathGlob(t *testing.T) {
	e := newEngine(t, map[string]string{
		"security-auditor.md": auditorDoc,
		"frontend-helper.md":  frontendDoc,
	})

	got, err := e.Find(FindQuery{FilePath: "src/auth/login.ts"})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(got) != 1 || got[0].Name != "security-auditor" {
		t.Fatalf("expected only security-auditor for auth path, got %#v", got)
	}
}

func TestFind_ConjunctiveAcrossCategories(t *testing.T) {
	e := newEngine(t, map[string]string{
		"security-auditor.md": auditorDoc,
		"frontend-helper.md":  frontendDoc,
	})

	// Keyword matches auditor, domain matches nothing it declares.
	got, err := e.Find(FindQuery{Keywords: []string{"security"}, Domain: "frontend"})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("criteria must be conjunctive, got %#v", got)
	}

	got, err = e.Find(FindQuery{Keywords: []string{"security"}, Domain: "sec"})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("substring domain match failed, got %#v", got)
	}
}

func TestFind_DisjunctiveWithinCategory(t *testing.T) {
	e := newEngine(t, map[string]string{
		"security-auditor.md": auditorDoc,
		"frontend-helper.md":  frontendDoc,
	})

	got, err := e.Find(FindQuery{Keywords: []string{"nonsense", "LAYOUT"}})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(got) != 1 || got[0].Name != "frontend-helper" {
		t.Fatalf("any supplied keyword should be enough, got %#v", got)
	}
}

func TestFind_NoCriteriaReturnsAll(t *testing.T) {
	e := newEngine(t, map[string]string{
		"security-auditor.md": auditorDoc,
		"frontend-helper.md":  frontendDoc,
	})
	got, err := e.Find(FindQuery{})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("empty query should return everything, got %d", len(got))
	}
}

func TestRecommend_RanksKeywordMatchesFirst(t *testing.T) {
	e := newEngine(t, map[string]string{
		"security-auditor.md": auditorDoc,
		"frontend-helper.md":  frontendDoc,
	})

	recs, err := e.Recommend("fix authentication vulnerability in login", 5)
	if err != nil {
		t.Fatalf("recommend: %v", err)
	}
	if len(recs) == 0 {
		t.Fatal("expected recommendations")
	}
	if recs[0].Agent.Name != "security-auditor" {
		t.Fatalf("security-auditor should rank first, got %q", recs[0].Agent.Name)
	}
	// One keyword hit ("vulnerability") = 10 points, confidence 0.5.
	if recs[0].Score != 10 {
		t.Fatalf("unexpected score: %d", recs[0].Score)
	}
	if recs[0].Confidence != 0.5 {
		t.Fatalf("unexpected confidence: %v", recs[0].Confidence)
	}
	for _, r := range recs[1:] {
		if r.Score > recs[0].Score {
			t.Fatalf("descending order broken: %#v", recs)
		}
	}
}

func TestRecommend_CapabilityTagsAndCap(t *testing.T) {
	e := newEngine(t, map[string]string{
		"security-auditor.md": auditorDoc,
	})

	// Two keywords (20) plus the spaced capability tag (5): confidence
	// saturates at 1.
	recs, err := e.Recommend("security vulnerability dependency scan", 5)
	if err != nil {
		t.Fatalf("recommend: %v", err)
	}
	if recs[0].Score != 25 {
		t.Fatalf("expected 25 points, got %d", recs[0].Score)
	}
	if recs[0].Confidence != 1 {
		t.Fatalf("confidence must cap at 1, got %v", recs[0].Confidence)
	}
}

func TestRecommend_TopFiveOnly(t *testing.T) {
	agents := map[string]string{
		"security-auditor.md": auditorDoc,
		"frontend-helper.md":  frontendDoc,
	}
	for _, n := range []string{"a", "b", "c", "d", "e", "f"} {
		agents[n+".md"] = "---\nname: agent-" + n + "\ndescription: filler\n---\nbody\n"
	}
	e := newEngine(t, agents)

	recs, err := e.Recommend("anything at all", 0)
	if err != nil {
		t.Fatalf("recommend: %v", err)
	}
	if len(recs) != 5 {
		t.Fatalf("default limit is 5, got %d", len(recs))
	}
}

func TestGlobToRegexp(t *testing.T) {
	cases := []struct {
		pattern string
		path    string
		want    bool
	}{
		{"**/*auth*", "src/auth/login.ts", true},
		{"**/*frontend*", "src/auth/login.ts", false},
		{"*.go", "internal/registry/parse.go", true},
		{"docs/?.md", "docs/a.md", true},
		{"docs/?.md", "docs/ab.md", false}, // ? matches exactly one character
	}
	for _, c := range cases {
		got := globToRegexp(c.pattern).MatchString(c.path)
		if got != c.want {
			t.Fatalf("globToRegexp(%q).Match(%q) = %v, want %v", c.pattern, c.path, got, c.want)
		}
	}
}
