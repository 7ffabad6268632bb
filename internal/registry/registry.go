// Package registry loads and indexes agent capability packages from a
// directory tree. Two on-disk layouts are supported: a flat markdown document
// with a YAML frontmatter header, and a package directory holding an
// agent.yaml descriptor beside an AGENT.md definition and optional scripts.
//
// Metadata is cheap and cached; full definitions are read only on explicit
// request. Malformed entries are skipped fail-open and surfaced through
// Diagnostics rather than aborting the load.
package registry

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Layout is the closed set of on-disk shapes an entry can have.
type Layout int

const (
	// LayoutFlat is a single markdown document whose frontmatter carries
	// the metadata and whose body is the definition.
	LayoutFlat Layout = iota
	// LayoutPackage is a directory with an agent.yaml descriptor, an
	// AGENT.md definition, and an optional scripts directory.
	LayoutPackage
)

func (l Layout) String() string {
	switch l {
	case LayoutFlat:
		return "flat"
	case LayoutPackage:
		return "package"
	default:
		return "unknown"
	}
}

// Triggers declares what an agent responds to.
type Triggers struct {
	Keywords     []string `yaml:"keywords" json:"keywords,omitempty"`
	FilePatterns []string `yaml:"file_patterns" json:"file_patterns,omitempty"`
	Domains      []string `yaml:"domains" json:"domains,omitempty"`
}

// Metadata is the cheap, eagerly cached tier of an agent entry. Name is the
// only stable identity: discovery, scoring, and execution all key on it.
type Metadata struct {
	Name         string   `yaml:"name" json:"name"`
	Version      string   `yaml:"version" json:"version,omitempty"`
	Description  string   `yaml:"description" json:"description,omitempty"`
	Triggers     Triggers `yaml:"triggers" json:"triggers"`
	Category     string   `yaml:"category" json:"category,omitempty"`
	Priority     string   `yaml:"priority" json:"priority,omitempty"`
	Capabilities []string `yaml:"capabilities" json:"capabilities,omitempty"`
	Scripts      []string `yaml:"scripts" json:"scripts,omitempty"`
}

// Entry is one discovered agent with its resolved layout and location.
type Entry struct {
	Metadata Metadata
	Layout   Layout
	// Path is the document file for LayoutFlat and the package directory
	// for LayoutPackage.
	Path string
}

// Diagnostic records a load problem that did not abort the scan.
type Diagnostic struct {
	Kind   string `json:"kind"` // "parse_error" or "collision"
	Name   string `json:"name,omitempty"`
	Path   string `json:"path"`
	Detail string `json:"detail"`
}

// reserved child names are never treated as agent entries.
var reservedNames = map[string]bool{
	"templates": true,
	"shared":    true,
	"README.md": true,
}

// Registry is an explicit cache over the agents root. The first access
// builds it; Reload rebuilds on demand. A server owns exactly one Registry.
type Registry struct {
	root   string
	logger *slog.Logger

	mu      sync.Mutex
	loaded  bool
	entries []Entry
	byName  map[string]int
	diags   []Diagnostic
}

func New(root string, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{root: root, logger: logger}
}

// Root returns the directory this registry scans.
func (r *Registry) Root() string { return r.root }

// Entries returns the cached entries in discovery order, loading on first
// access.
func (r *Registry) Entries() ([]Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.ensureLoadedLocked(); err != nil {
		return nil, err
	}
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out, nil
}

// Lookup returns the entry for name, if present.
func (r *Registry) Lookup(name string) (Entry, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.ensureLoadedLocked(); err != nil {
		return Entry{}, false, err
	}
	i, ok := r.byName[name]
	if !ok {
		return Entry{}, false, nil
	}
	return r.entries[i], true, nil
}

// Diagnostics returns the parse failures and collisions observed by the most
// recent load.
func (r *Registry) Diagnostics() ([]Diagnostic, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.ensureLoadedLocked(); err != nil {
		return nil, err
	}
	out := make([]Diagnostic, len(r.diags))
	copy(out, r.diags)
	return out, nil
}

// Reload discards the cache and rescans the root. It returns the number of
// entries discovered.
func (r *Registry) Reload() (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loaded = false
	if err := r.ensureLoadedLocked(); err != nil {
		return 0, err
	}
	return len(r.entries), nil
}

// Definition reads the full natural-language payload for name. It is never
// cached: definitions are the expensive tier, loaded only on explicit
// request.
func (r *Registry) Definition(name string) (string, error) {
	entry, ok, err := r.Lookup(name)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("agent %q not found", name)
	}

	switch entry.Layout {
	case LayoutPackage:
		data, err := os.ReadFile(filepath.Join(entry.Path, definitionFile))
		if err != nil {
			return "", fmt.Errorf("read definition for %q: %w", name, err)
		}
		return string(data), nil
	default:
		data, err := os.ReadFile(entry.Path)
		if err != nil {
			return "", fmt.Errorf("read definition for %q: %w", name, err)
		}
		_, body, err := splitFrontmatter(data)
		if err != nil {
			return "", fmt.Errorf("parse definition for %q: %w", name, err)
		}
		return strings.TrimSpace(body), nil
	}
}

// ScriptPath resolves the fixed path convention for a bundled script. The
// second return reports whether the script exists.
func (r *Registry) ScriptPath(name, script string) (string, bool, error) {
	entry, ok, err := r.Lookup(name)
	if err != nil {
		return "", false, err
	}
	if !ok || entry.Layout != LayoutPackage {
		return "", false, nil
	}
	// Reject path escapes; script names are bare filenames.
	if script != filepath.Base(script) || strings.HasPrefix(script, ".") {
		return "", false, nil
	}
	path := filepath.Join(entry.Path, "scripts", script)
	fi, err := os.Stat(path)
	if err != nil || fi.IsDir() {
		return "", false, nil
	}
	return path, true, nil
}

func (r *Registry) ensureLoadedLocked() error {
	if r.loaded {
		return nil
	}

	entries, diags, err := scan(r.root, r.logger)
	if err != nil {
		return err
	}

	r.entries = entries
	r.diags = diags
	r.byName = make(map[string]int, len(entries))
	for i, e := range entries {
		r.byName[e.Metadata.Name] = i
	}
	r.loaded = true
	r.logger.Info("agent registry loaded",
		"root", r.root, "agents", len(entries), "diagnostics", len(diags))
	return nil
}

// scan enumerates the immediate children of root. Package directories are
// loaded first, then flat documents, each group in sorted name order, so a
// cross-layout name collision resolves deterministically: the package wins
// and the duplicate is flagged.
func scan(root string, logger *slog.Logger) ([]Entry, []Diagnostic, error) {
	children, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("read agents dir %s: %w", root, err)
	}
	sort.Slice(children, func(i, j int) bool { return children[i].Name() < children[j].Name() })

	var entries []Entry
	var diags []Diagnostic
	byName := make(map[string]int)

	add := func(meta Metadata, layout Layout, path string) {
		if prev, ok := byName[meta.Name]; ok {
			diags = append(diags, Diagnostic{
				Kind: "collision",
				Name: meta.Name,
				Path: path,
				Detail: fmt.Sprintf("duplicate of %s entry at %s; first discovery wins",
					entries[prev].Layout, entries[prev].Path),
			})
			logger.Warn("agent name collision", "name", meta.Name,
				"kept", entries[prev].Path, "skipped", path)
			return
		}
		byName[meta.Name] = len(entries)
		entries = append(entries, Entry{Metadata: meta, Layout: layout, Path: path})
	}

	skip := func(path string, err error) {
		diags = append(diags, Diagnostic{Kind: "parse_error", Path: path, Detail: err.Error()})
		logger.Warn("skipping malformed agent entry", "path", path, "error", err)
	}

	for _, child := range children {
		name := child.Name()
		if reservedNames[name] || strings.HasPrefix(name, ".") {
			continue
		}
		if !child.IsDir() {
			continue
		}
		dir := filepath.Join(root, name)
		meta, err := loadPackageDescriptor(dir)
		if err != nil {
			skip(filepath.Join(dir, descriptorFile), err)
			continue
		}
		add(meta, LayoutPackage, dir)
	}

	for _, child := range children {
		name := child.Name()
		if reservedNames[name] || strings.HasPrefix(name, ".") {
			continue
		}
		if child.IsDir() || !strings.HasSuffix(name, ".md") {
			continue
		}
		path := filepath.Join(root, name)
		meta, err := loadFlatDocument(path)
		if err != nil {
			skip(path, err)
			continue
		}
		add(meta, LayoutFlat, path)
	}

	return entries, diags, nil
}
