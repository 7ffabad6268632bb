// Package mcpserver wires the in-process components into the two MCP
// front-ends. Handlers translate component results into the protocol's
// native shapes: tool failures use the tool error flag, resource reads on a
// degraded store return data with an embedded error annotation, and unknown
// resource URIs are protocol errors.
package mcpserver

import (
	"encoding/json"

	"github.com/mark3labs/mcp-go/mcp"
)

// Version is set at build time via ldflags.
var Version = "dev"

// jsonResult renders v as an indented JSON tool result.
func jsonResult(v any) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError("encode result: " + err.Error())
	}
	return mcp.NewToolResultText(string(data))
}

// jsonBody renders v for a resource read. Marshal failures surface as the
// annotation the caller is already required to inspect.
func jsonBody(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return `{"error": "encode body: ` + err.Error() + `"}`
	}
	return string(data)
}

// optionalFloat reads a number argument that must be distinguishable from an
// explicit zero.
func optionalFloat(args map[string]any, key string) *float64 {
	v, ok := args[key]
	if !ok || v == nil {
		return nil
	}
	switch n := v.(type) {
	case float64:
		return &n
	case int:
		f := float64(n)
		return &f
	}
	return nil
}

func optionalInt(args map[string]any, key string) *int {
	f := optionalFloat(args, key)
	if f == nil {
		return nil
	}
	i := int(*f)
	return &i
}

func optionalObject(args map[string]any, key string) map[string]any {
	v, ok := args[key]
	if !ok || v == nil {
		return nil
	}
	m, _ := v.(map[string]any)
	return m
}

func stringSlice(args map[string]any, key string) []string {
	v, ok := args[key]
	if !ok || v == nil {
		return nil
	}
	raw, ok := v.([]any)
	if !ok {
		if s, ok := v.(string); ok && s != "" {
			return []string{s}
		}
		return nil
	}
	var out []string
	for _, item := range raw {
		if s, ok := item.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}
