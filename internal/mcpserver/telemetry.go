package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/basket/agenthub/internal/telemetry"
)

// NewTelemetryServer builds the telemetry front-end: recording and query
// tools plus read-only aggregate resources. This is the composition root for
// telemetryd; no business logic lives here.
func NewTelemetryServer(svc *telemetry.Service) *server.MCPServer {
	s := server.NewMCPServer(
		"agenthub-telemetry",
		Version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithRecovery(),
	)

	ri := &recordInvocationTool{svc: svc}
	s.AddTool(ri.Definition(), ri.Handle)

	ro := &recordOutcomeTool{svc: svc}
	s.AddTool(ro.Definition(), ro.Handle)

	rg := &recordGapTool{svc: svc}
	s.AddTool(rg.Definition(), rg.Handle)

	qi := &queryInvocationsTool{svc: svc}
	s.AddTool(qi.Definition(), qi.Handle)

	gm := &agentMetricsTool{svc: svc}
	s.AddTool(gm.Definition(), gm.Handle)

	gg := &routingGapsTool{svc: svc}
	s.AddTool(gg.Definition(), gg.Handle)

	res := &telemetryResources{svc: svc}
	s.AddResource(res.MetricsResource(), res.HandleMetrics)
	s.AddResource(res.GapsResource(), res.HandleGaps)
	s.AddResource(res.RecentResource(), res.HandleRecent)

	return s
}

type recordInvocationTool struct {
	svc *telemetry.Service
}

func (t *recordInvocationTool) Definition() mcp.Tool {
	return mcp.NewTool("record_invocation",
		mcp.WithDescription("Record that an agent was invoked for a task. Returns the generated invocation_id to report an outcome against later."),
		mcp.WithString("agent_name", mcp.Required(), mcp.Description("Name of the invoked agent")),
		mcp.WithString("task_description", mcp.Required(), mcp.Description("What the agent was asked to do")),
		mcp.WithObject("state_features", mcp.Description("Opaque key/value context captured at invocation time")),
	)
}

func (t *recordInvocationTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	agent, err := req.RequireString("agent_name")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	task, err := req.RequireString("task_description")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	features := optionalObject(req.GetArguments(), "state_features")

	id, err := t.svc.RecordInvocation(agent, task, features)
	if err != nil {
		return mcp.NewToolResultErrorFromErr("record invocation", err), nil
	}
	return jsonResult(map[string]string{"invocation_id": id}), nil
}

type recordOutcomeTool struct {
	svc *telemetry.Service
}

func (t *recordOutcomeTool) Definition() mcp.Tool {
	return mcp.NewTool("record_outcome",
		mcp.WithDescription("Record how an invocation concluded. The invocation_id is not validated; duplicate and late outcomes are allowed."),
		mcp.WithString("invocation_id", mcp.Required(), mcp.Description("Id returned by record_invocation")),
		mcp.WithNumber("duration_seconds", mcp.Description("Wall-clock duration of the work")),
		mcp.WithString("outcome", mcp.Description("One of success, failure, partial"), mcp.Enum("success", "failure", "partial")),
		mcp.WithNumber("quality_score", mcp.Description("Subjective quality, 1-5")),
	)
}

func (t *recordOutcomeTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("invocation_id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	args := req.GetArguments()

	err = t.svc.RecordOutcome(id,
		optionalFloat(args, "duration_seconds"),
		req.GetString("outcome", ""),
		optionalInt(args, "quality_score"))
	if err != nil {
		return mcp.NewToolResultErrorFromErr("record outcome", err), nil
	}
	return jsonResult(map[string]string{"status": "recorded"}), nil
}

type recordGapTool struct {
	svc *telemetry.Service
}

func (t *recordGapTool) Definition() mcp.Tool {
	return mcp.NewTool("record_routing_gap",
		mcp.WithDescription("Record a task that no agent could be routed to."),
		mcp.WithString("task_description", mcp.Required(), mcp.Description("The task that found no agent")),
		mcp.WithString("reason", mcp.Description("Why routing failed")),
	)
}

func (t *recordGapTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	task, err := req.RequireString("task_description")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if err := t.svc.RecordGap(task, req.GetString("reason", "")); err != nil {
		return mcp.NewToolResultErrorFromErr("record routing gap", err), nil
	}
	return jsonResult(map[string]string{"status": "recorded"}), nil
}

type queryInvocationsTool struct {
	svc *telemetry.Service
}

func (t *queryInvocationsTool) Definition() mcp.Tool {
	return mcp.NewTool("query_invocations",
		mcp.WithDescription("Query today's invocations in append order. All filters are optional and conjunctive; limit keeps the most recent events."),
		mcp.WithString("agent_name", mcp.Description("Exact agent name to filter by")),
		mcp.WithString("start_time", mcp.Description("RFC3339 lower bound, inclusive")),
		mcp.WithString("end_time", mcp.Description("RFC3339 upper bound, inclusive")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of events, most recent first retained")),
	)
}

func (t *queryInvocationsTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filter := telemetry.QueryFilter{
		AgentName: req.GetString("agent_name", ""),
		Limit:     req.GetInt("limit", 0),
	}
	if v := req.GetString("start_time", ""); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid start_time: %v", err)), nil
		}
		filter.Start = ts
	}
	if v := req.GetString("end_time", ""); v != "" {
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid end_time: %v", err)), nil
		}
		filter.End = ts
	}

	events, err := t.svc.Query(filter)
	if err != nil {
		return mcp.NewToolResultErrorFromErr("query invocations", err), nil
	}
	return jsonResult(map[string]any{"count": len(events), "events": events}), nil
}

type agentMetricsTool struct {
	svc *telemetry.Service
}

func (t *agentMetricsTool) Definition() mcp.Tool {
	return mcp.NewTool("get_agent_metrics",
		mcp.WithDescription("Per-agent aggregates over today's events: invocation count, mean duration, mean quality score."),
	)
}

func (t *agentMetricsTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	m, err := t.svc.Metrics()
	if err != nil {
		return mcp.NewToolResultErrorFromErr("aggregate metrics", err), nil
	}
	return jsonResult(map[string]any{"agents": m}), nil
}

type routingGapsTool struct {
	svc *telemetry.Service
}

func (t *routingGapsTool) Definition() mcp.Tool {
	return mcp.NewTool("get_routing_gaps",
		mcp.WithDescription("Raw contents of today's routing-gap stream. Empty when nothing has been recorded."),
	)
}

func (t *routingGapsTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	gaps, err := t.svc.Gaps()
	if err != nil {
		return mcp.NewToolResultErrorFromErr("read routing gaps", err), nil
	}
	if gaps == nil {
		gaps = []json.RawMessage{}
	}
	return jsonResult(map[string]any{"count": len(gaps), "gaps": gaps}), nil
}

// telemetryResources serves the read-only aggregate documents. Store
// failures degrade to an empty body with an error annotation instead of a
// protocol error; resource callers must inspect the error field.
type telemetryResources struct {
	svc *telemetry.Service
}

const recentLimit = 50

func (r *telemetryResources) MetricsResource() mcp.Resource {
	return mcp.NewResource("telemetry://metrics", "Agent metrics",
		mcp.WithResourceDescription("Per-agent invocation counts and means for today"),
		mcp.WithMIMEType("application/json"),
	)
}

func (r *telemetryResources) HandleMetrics(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	body := map[string]any{"agents": map[string]any{}}
	if m, err := r.svc.Metrics(); err != nil {
		body["error"] = err.Error()
	} else {
		body["agents"] = m
	}
	return []mcp.ResourceContents{mcp.TextResourceContents{
		URI:      req.Params.URI,
		MIMEType: "application/json",
		Text:     jsonBody(body),
	}}, nil
}

func (r *telemetryResources) GapsResource() mcp.Resource {
	return mcp.NewResource("telemetry://gaps", "Routing gaps",
		mcp.WithResourceDescription("Tasks no agent could be routed to today"),
		mcp.WithMIMEType("application/json"),
	)
}

func (r *telemetryResources) HandleGaps(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	body := map[string]any{"gaps": []json.RawMessage{}}
	if gaps, err := r.svc.Gaps(); err != nil {
		body["error"] = err.Error()
	} else if gaps != nil {
		body["gaps"] = gaps
	}
	return []mcp.ResourceContents{mcp.TextResourceContents{
		URI:      req.Params.URI,
		MIMEType: "application/json",
		Text:     jsonBody(body),
	}}, nil
}

func (r *telemetryResources) RecentResource() mcp.Resource {
	return mcp.NewResource("telemetry://invocations/recent", "Recent invocations",
		mcp.WithResourceDescription("The most recent invocations recorded today"),
		mcp.WithMIMEType("application/json"),
	)
}

func (r *telemetryResources) HandleRecent(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	body := map[string]any{"events": []telemetry.InvocationEvent{}}
	if events, err := r.svc.Query(telemetry.QueryFilter{Limit: recentLimit}); err != nil {
		body["error"] = err.Error()
	} else if events != nil {
		body["events"] = events
	}
	return []mcp.ResourceContents{mcp.TextResourceContents{
		URI:      req.Params.URI,
		MIMEType: "application/json",
		Text:     jsonBody(body),
	}}, nil
}
