package mcpserver

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/basket/agenthub/internal/discovery"
	"github.com/basket/agenthub/internal/executor"
	"github.com/basket/agenthub/internal/registry"
)

// NewRegistryServer builds the registry front-end: discovery and execution
// tools plus URI-addressable agent documents. Composition root for
// registryd.
func NewRegistryServer(reg *registry.Registry, eng *discovery.Engine, gw *executor.Gateway) *server.MCPServer {
	s := server.NewMCPServer(
		"agenthub-registry",
		Version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithRecovery(),
	)

	fa := &findAgentsTool{eng: eng}
	s.AddTool(fa.Definition(), fa.Handle)

	ra := &recommendAgentsTool{eng: eng}
	s.AddTool(ra.Definition(), ra.Handle)

	ga := &getAgentTool{reg: reg}
	s.AddTool(ga.Definition(), ga.Handle)

	ex := &executeScriptTool{gw: gw}
	s.AddTool(ex.Definition(), ex.Handle)

	di := &diagnosticsTool{reg: reg}
	s.AddTool(di.Definition(), di.Handle)

	rl := &reloadTool{reg: reg}
	s.AddTool(rl.Definition(), rl.Handle)

	res := &registryResources{reg: reg}
	s.AddResource(res.IndexResource(), res.HandleIndex)
	s.AddResourceTemplate(res.DefinitionTemplate(), res.HandleDefinition)
	s.AddResourceTemplate(res.MetadataTemplate(), res.HandleMetadata)

	return s
}

type findAgentsTool struct {
	eng *discovery.Engine
}

func (t *findAgentsTool) Definition() mcp.Tool {
	return mcp.NewTool("find_agents",
		mcp.WithDescription("Filter agents by declared triggers. Criteria are optional and conjunctive; within one criterion any declared value may match."),
		mcp.WithArray("keywords", mcp.Description("Keywords matched case-insensitively against declared trigger keywords")),
		mcp.WithString("domain", mcp.Description("Domain matched case-insensitively against declared domains")),
		mcp.WithString("file_path", mcp.Description("File path matched against declared glob patterns")),
	)
}

func (t *findAgentsTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	q := discovery.FindQuery{
		Keywords: stringSlice(req.GetArguments(), "keywords"),
		Domain:   req.GetString("domain", ""),
		FilePath: req.GetString("file_path", ""),
	}
	agents, err := t.eng.Find(q)
	if err != nil {
		return mcp.NewToolResultErrorFromErr("find agents", err), nil
	}
	if agents == nil {
		agents = []registry.Metadata{}
	}
	return jsonResult(map[string]any{"count": len(agents), "agents": agents}), nil
}

type recommendAgentsTool struct {
	eng *discovery.Engine
}

func (t *recommendAgentsTool) Definition() mcp.Tool {
	return mcp.NewTool("recommend_agents",
		mcp.WithDescription("Score agents against a task description with a deterministic keyword heuristic. Tie order is registry discovery order and carries no relevance."),
		mcp.WithString("task_description", mcp.Required(), mcp.Description("Free-text description of the task")),
		mcp.WithObject("context", mcp.Description("Additional task context; accepted for compatibility, not used by the scorer")),
		mcp.WithNumber("limit", mcp.Description("Maximum recommendations to return, default 5")),
	)
}

func (t *recommendAgentsTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	task, err := req.RequireString("task_description")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	recs, err := t.eng.Recommend(task, req.GetInt("limit", 0))
	if err != nil {
		return mcp.NewToolResultErrorFromErr("recommend agents", err), nil
	}
	return jsonResult(map[string]any{"count": len(recs), "recommendations": recs}), nil
}

type getAgentTool struct {
	reg *registry.Registry
}

func (t *getAgentTool) Definition() mcp.Tool {
	return mcp.NewTool("get_agent",
		mcp.WithDescription("Load one agent's metadata and full definition. Definitions are read on demand; metadata comes from the cache."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Agent name")),
	)
}

func (t *getAgentTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	entry, ok, err := t.reg.Lookup(name)
	if err != nil {
		return mcp.NewToolResultErrorFromErr("load registry", err), nil
	}
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("agent %q not found", name)), nil
	}
	def, err := t.reg.Definition(name)
	if err != nil {
		return mcp.NewToolResultErrorFromErr("read definition", err), nil
	}
	return jsonResult(map[string]any{
		"metadata":   entry.Metadata,
		"layout":     entry.Layout.String(),
		"definition": def,
	}), nil
}

type executeScriptTool struct {
	gw *executor.Gateway
}

func (t *executeScriptTool) Definition() mcp.Tool {
	return mcp.NewTool("execute_agent_script",
		mcp.WithDescription("Run a script bundled with an agent package and return its captured output, error stream, and exit status. A missing script is a normal not-found result."),
		mcp.WithString("agent_name", mcp.Required(), mcp.Description("Agent whose package bundles the script")),
		mcp.WithString("script_name", mcp.Required(), mcp.Description("Script file name under the package's scripts directory")),
		mcp.WithObject("parameters", mcp.Description("Accepted for compatibility; not forwarded to the script")),
		mcp.WithNumber("timeout_seconds", mcp.Description("Execution budget override; expiry yields a timed_out result")),
	)
}

func (t *executeScriptTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	agent, err := req.RequireString("agent_name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	script, err := req.RequireString("script_name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	params := optionalObject(req.GetArguments(), "parameters")
	timeout := time.Duration(req.GetFloat("timeout_seconds", 0) * float64(time.Second))

	res := t.gw.Execute(ctx, agent, script, params, timeout)
	return jsonResult(res), nil
}

type diagnosticsTool struct {
	reg *registry.Registry
}

func (t *diagnosticsTool) Definition() mcp.Tool {
	return mcp.NewTool("registry_diagnostics",
		mcp.WithDescription("Parse failures and name collisions from the most recent registry load. Malformed agents are skipped fail-open and reported here."),
	)
}

func (t *diagnosticsTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	diags, err := t.reg.Diagnostics()
	if err != nil {
		return mcp.NewToolResultErrorFromErr("load registry", err), nil
	}
	if diags == nil {
		diags = []registry.Diagnostic{}
	}
	return jsonResult(map[string]any{"count": len(diags), "diagnostics": diags}), nil
}

type reloadTool struct {
	reg *registry.Registry
}

func (t *reloadTool) Definition() mcp.Tool {
	return mcp.NewTool("reload_registry",
		mcp.WithDescription("Discard the registry cache and rescan the agents directory."),
	)
}

func (t *reloadTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	n, err := t.reg.Reload()
	if err != nil {
		return mcp.NewToolResultErrorFromErr("reload registry", err), nil
	}
	return jsonResult(map[string]any{"agents": n}), nil
}

// registryResources serves the agent index and per-agent documents. Unknown
// URIs and unknown agent names are protocol errors here, unlike the
// executor's data-shaped not-found.
type registryResources struct {
	reg *registry.Registry
}

func (r *registryResources) IndexResource() mcp.Resource {
	return mcp.NewResource("registry://index", "Agent index",
		mcp.WithResourceDescription("Metadata for every discovered agent, in discovery order"),
		mcp.WithMIMEType("application/json"),
	)
}

func (r *registryResources) HandleIndex(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	body := map[string]any{"agents": []registry.Metadata{}}
	entries, err := r.reg.Entries()
	if err != nil {
		body["error"] = err.Error()
	} else {
		metas := make([]registry.Metadata, 0, len(entries))
		for _, e := range entries {
			metas = append(metas, e.Metadata)
		}
		body["agents"] = metas
	}
	return []mcp.ResourceContents{mcp.TextResourceContents{
		URI:      req.Params.URI,
		MIMEType: "application/json",
		Text:     jsonBody(body),
	}}, nil
}

func (r *registryResources) DefinitionTemplate() mcp.ResourceTemplate {
	return mcp.NewResourceTemplate("agent://{name}/definition", "Agent definition",
		mcp.WithTemplateDescription("Full natural-language definition of one agent"),
		mcp.WithTemplateMIMEType("text/markdown"),
	)
}

func (r *registryResources) HandleDefinition(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	name, err := agentFromURI(req.Params.URI, "/definition")
	if err != nil {
		return nil, err
	}
	def, err := r.reg.Definition(name)
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{mcp.TextResourceContents{
		URI:      req.Params.URI,
		MIMEType: "text/markdown",
		Text:     def,
	}}, nil
}

func (r *registryResources) MetadataTemplate() mcp.ResourceTemplate {
	return mcp.NewResourceTemplate("agent://{name}/metadata", "Agent metadata",
		mcp.WithTemplateDescription("Cached metadata for one agent"),
		mcp.WithTemplateMIMEType("application/json"),
	)
}

func (r *registryResources) HandleMetadata(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	name, err := agentFromURI(req.Params.URI, "/metadata")
	if err != nil {
		return nil, err
	}
	entry, ok, err := r.reg.Lookup(name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("agent %q not found", name)
	}
	return []mcp.ResourceContents{mcp.TextResourceContents{
		URI:      req.Params.URI,
		MIMEType: "application/json",
		Text:     jsonBody(entry.Metadata),
	}}, nil
}

func agentFromURI(uri, suffix string) (string, error) {
	rest, ok := strings.CutPrefix(uri, "agent://")
	if !ok {
		return "", fmt.Errorf("unknown resource uri %q", uri)
	}
	name, ok := strings.CutSuffix(rest, suffix)
	if !ok || name == "" {
		return "", fmt.Errorf("unknown resource uri %q", uri)
	}
	return name, nil
}
