package registry

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"
)

const (
	descriptorFile = "agent.yaml"
	definitionFile = "AGENT.md"

	// maxDocumentSize bounds any file parsed during a scan (1 MiB).
	maxDocumentSize = 1 << 20
)

// descriptorSchema constrains agent.yaml so that a malformed descriptor
// yields one precise diagnostic instead of a partial decode.
const descriptorSchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["name"],
	"properties": {
		"name": {"type": "string", "minLength": 1},
		"version": {"type": "string"},
		"description": {"type": "string"},
		"category": {"type": "string"},
		"priority": {"type": "string"},
		"capabilities": {"type": "array", "items": {"type": "string"}},
		"scripts": {"type": "array", "items": {"type": "string"}},
		"triggers": {
			"type": "object",
			"properties": {
				"keywords": {"type": "array", "items": {"type": "string"}},
				"file_patterns": {"type": "array", "items": {"type": "string"}},
				"domains": {"type": "array", "items": {"type": "string"}}
			}
		}
	}
}`

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func loadSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(descriptorSchema))
		if err != nil {
			schemaErr = fmt.Errorf("unmarshal descriptor schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource("agent.schema.json", doc); err != nil {
			schemaErr = fmt.Errorf("add schema resource: %w", err)
			return
		}
		compiledSchema, schemaErr = c.Compile("agent.schema.json")
	})
	return compiledSchema, schemaErr
}

// loadPackageDescriptor parses and validates <dir>/agent.yaml. When the
// descriptor omits scripts, the scripts directory listing fills them in.
func loadPackageDescriptor(dir string) (Metadata, error) {
	path := filepath.Join(dir, descriptorFile)
	data, err := readBounded(path)
	if err != nil {
		return Metadata{}, err
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Metadata{}, fmt.Errorf("parse descriptor yaml: %w", err)
	}
	if err := validateDescriptor(raw); err != nil {
		return Metadata{}, err
	}

	var meta Metadata
	if err := yaml.Unmarshal(data, &meta); err != nil {
		return Metadata{}, fmt.Errorf("decode descriptor: %w", err)
	}
	meta.Name = strings.TrimSpace(meta.Name)
	if meta.Name == "" {
		return Metadata{}, fmt.Errorf("missing agent name")
	}

	if len(meta.Scripts) == 0 {
		meta.Scripts = listScripts(dir)
	}
	return meta, nil
}

func validateDescriptor(raw map[string]any) error {
	schema, err := loadSchema()
	if err != nil {
		return err
	}
	// Round-trip through JSON so the validator sees json-shaped values
	// (yaml decodes numbers and nested maps differently).
	buf, err := json.Marshal(raw)
	if err != nil {
		return fmt.Errorf("normalize descriptor: %w", err)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(buf))
	if err != nil {
		return fmt.Errorf("normalize descriptor: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("descriptor schema: %w", err)
	}
	return nil
}

// loadFlatDocument parses the leading YAML frontmatter of a single-document
// agent. The body is its definition and is not read here.
func loadFlatDocument(path string) (Metadata, error) {
	data, err := readBounded(path)
	if err != nil {
		return Metadata{}, err
	}

	header, _, err := splitFrontmatter(data)
	if err != nil {
		return Metadata{}, err
	}
	if len(header) == 0 {
		return Metadata{}, fmt.Errorf("missing frontmatter header")
	}

	var meta Metadata
	if err := yaml.Unmarshal(header, &meta); err != nil {
		return Metadata{}, fmt.Errorf("parse frontmatter yaml: %w", err)
	}
	meta.Name = strings.TrimSpace(meta.Name)
	if meta.Name == "" {
		return Metadata{}, fmt.Errorf("missing agent name")
	}
	return meta, nil
}

// splitFrontmatter detects a canonical frontmatter block: the first line is
// `---` and a later `---` line terminates it. Everything after the
// terminator is the document body. A document without an opening delimiter
// returns an empty header; an opened but unterminated block is an error.
func splitFrontmatter(data []byte) (header []byte, body string, err error) {
	s := string(data)
	if s == "" {
		return nil, "", nil
	}

	firstLineEnd := strings.IndexByte(s, '\n')
	firstLine := s
	restStart := len(s)
	if firstLineEnd >= 0 {
		firstLine = s[:firstLineEnd]
		restStart = firstLineEnd + 1
	}
	if strings.TrimSpace(strings.TrimSuffix(firstLine, "\r")) != "---" {
		return nil, s, nil
	}

	i := restStart
	for i <= len(s) {
		nextNL := strings.IndexByte(s[i:], '\n')
		line := ""
		next := len(s)
		if nextNL >= 0 {
			line = s[i : i+nextNL]
			next = i + nextNL + 1
		} else {
			line = s[i:]
		}
		if strings.TrimSpace(strings.TrimSuffix(line, "\r")) == "---" {
			return []byte(s[restStart:i]), s[next:], nil
		}
		if next == len(s) {
			break
		}
		i = next
	}

	return nil, "", fmt.Errorf("unclosed frontmatter: opening --- found but no closing ---")
}

func listScripts(dir string) []string {
	entries, err := os.ReadDir(filepath.Join(dir, "scripts"))
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		out = append(out, e.Name())
	}
	sort.Strings(out)
	return out
}

func readBounded(path string) ([]byte, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if fi.Size() > maxDocumentSize {
		return nil, fmt.Errorf("%s too large: %d bytes (max %d)", filepath.Base(path), fi.Size(), maxDocumentSize)
	}
	return os.ReadFile(path)
}
