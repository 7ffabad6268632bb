package mcpserver

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/basket/agenthub/internal/eventlog"
	"github.com/basket/agenthub/internal/telemetry"
)

func newTelemetrySvc(t *testing.T) *telemetry.Service {
	t.Helper()
	store := eventlog.NewStore(t.TempDir(), false)
	return telemetry.NewService(store, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func callReq(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func textOf(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if len(res.Content) == 0 {
		t.Fatal("empty tool result")
	}
	tc, ok := res.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("unexpected content type %T", res.Content[0])
	}
	return tc.Text
}

func decodeResult(t *testing.T, res *mcp.CallToolResult, v any) {
	t.Helper()
	if res.IsError {
		t.Fatalf("unexpected tool error: %s", textOf(t, res))
	}
	if err := json.Unmarshal([]byte(textOf(t, res)), v); err != nil {
		t.Fatalf("decode result: %v (%s)", err, textOf(t, res))
	}
}

func TestRecordAndQueryRoundTrip(t *testing.T) {
	svc := newTelemetrySvc(t)
	ri := &recordInvocationTool{svc: svc}
	qi := &queryInvocationsTool{svc: svc}
	ctx := context.Background()

	res, err := ri.Handle(ctx, callReq(map[string]any{
		"agent_name":       "code-reviewer",
		"task_description": "review the parser",
		"state_features":   map[string]any{"branch": "main"},
	}))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	var rec struct {
		InvocationID string `json:"invocation_id"`
	}
	decodeResult(t, res, &rec)
	if rec.InvocationID == "" {
		t.Fatal("missing invocation_id")
	}

	res, err = qi.Handle(ctx, callReq(map[string]any{"agent_name": "code-reviewer"}))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	var q struct {
		Count  int                         `json:"count"`
		Events []telemetry.InvocationEvent `json:"events"`
	}
	decodeResult(t, res, &q)
	if q.Count != 1 || q.Events[0].InvocationID != rec.InvocationID {
		t.Fatalf("round trip lost the event: %#v", q)
	}
	if q.Events[0].StateFeatures["branch"] != "main" {
		t.Fatalf("state features lost: %#v", q.Events[0])
	}
}

func TestRecordInvocation_MissingRequiredArg(t *testing.T) {
	ri := &recordInvocationTool{svc: newTelemetrySvc(t)}
	res, err := ri.Handle(context.Background(), callReq(map[string]any{
		"task_description": "no agent name",
	}))
	if err != nil {
		t.Fatalf("validation must be a tool error, not a transport error: %v", err)
	}
	if !res.IsError {
		t.Fatal("expected tool error flag")
	}
}

func TestRecordOutcome_InvalidValueIsToolError(t *testing.T) {
	ro := &recordOutcomeTool{svc: newTelemetrySvc(t)}
	res, err := ro.Handle(context.Background(), callReq(map[string]any{
		"invocation_id": "abc",
		"outcome":       "exploded",
	}))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if !res.IsError {
		t.Fatal("expected tool error flag")
	}
}

func TestMetricsTool(t *testing.T) {
	svc := newTelemetrySvc(t)
	id, err := svc.RecordInvocation("debugger", "fix crash", nil)
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	dur := 12.0
	if err := svc.RecordOutcome(id, &dur, "success", nil); err != nil {
		t.Fatalf("outcome: %v", err)
	}

	gm := &agentMetricsTool{svc: svc}
	res, err := gm.Handle(context.Background(), callReq(nil))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	var m struct {
		Agents map[string]telemetry.AgentMetrics `json:"agents"`
	}
	decodeResult(t, res, &m)
	dbg, ok := m.Agents["debugger"]
	if !ok || dbg.InvocationCount != 1 {
		t.Fatalf("unexpected metrics: %#v", m)
	}
	if dbg.MeanDuration == nil || *dbg.MeanDuration != 12 {
		t.Fatalf("unexpected duration mean: %#v", dbg)
	}
}

func TestGapsToolAndResource_EmptyStream(t *testing.T) {
	svc := newTelemetrySvc(t)

	gg := &routingGapsTool{svc: svc}
	res, err := gg.Handle(context.Background(), callReq(nil))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	var g struct {
		Count int               `json:"count"`
		Gaps  []json.RawMessage `json:"gaps"`
	}
	decodeResult(t, res, &g)
	if g.Count != 0 {
		t.Fatalf("expected empty gaps, got %#v", g)
	}

	tr := &telemetryResources{svc: svc}
	var rr mcp.ReadResourceRequest
	rr.Params.URI = "telemetry://gaps"
	contents, err := tr.HandleGaps(context.Background(), rr)
	if err != nil {
		t.Fatalf("missing stream must not be a protocol error: %v", err)
	}
	text := contents[0].(mcp.TextResourceContents).Text
	var body map[string]any
	if err := json.Unmarshal([]byte(text), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if _, hasErr := body["error"]; hasErr {
		t.Fatalf("missing stream is empty, not an error: %s", text)
	}
}

func TestMetricsResource_Shape(t *testing.T) {
	svc := newTelemetrySvc(t)
	if _, err := svc.RecordInvocation("doc-writer", "write docs", nil); err != nil {
		t.Fatalf("record: %v", err)
	}

	tr := &telemetryResources{svc: svc}
	var rr mcp.ReadResourceRequest
	rr.Params.URI = "telemetry://metrics"
	contents, err := tr.HandleMetrics(context.Background(), rr)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	trc := contents[0].(mcp.TextResourceContents)
	if trc.MIMEType != "application/json" {
		t.Fatalf("unexpected mime type: %q", trc.MIMEType)
	}
	var body struct {
		Agents map[string]telemetry.AgentMetrics `json:"agents"`
	}
	if err := json.Unmarshal([]byte(trc.Text), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Agents["doc-writer"].InvocationCount != 1 {
		t.Fatalf("unexpected body: %s", trc.Text)
	}
}

func TestNewTelemetryServer_Builds(t *testing.T) {
	if s := NewTelemetryServer(newTelemetrySvc(t)); s == nil {
		t.Fatal("nil server")
	}
}
