package aggregate

import (
	"reflect"
	"strings"
	"testing"

	contractx "github.com/tanpawarit/Chative-Customer-Support-Agent/agent/contract"
	"github.com/tanpawarit/Chative-Customer-Support-Agent/agent/tool"
)

func sampleResults() []contractx.ToolResult {
	return []contractx.ToolResult{
		{
			ToolName: tool.ToolVerification,
			Status:   contractx.ToolSuccess,
			Payload: map[string]any{
				"fraud_check": map[string]any{"risk_level": "HIGH", "recommendation": "manual review"},
			},
		},
		{
			ToolName: tool.ToolKnowledgeBase,
			Status:   contractx.ToolSuccess,
			Payload: map[string]any{"articles": []any{
				map[string]any{"title": "Returns", "content": strings.Repeat("r", 500)},
				map[string]any{"title": "Shipping", "content": "3-5 days"},
				map[string]any{"content": "no title"},
				map[string]any{"title": "Warranty", "content": "1 year"},
			}},
		},
		{
			ToolName:  tool.ToolOrderAction,
			Status:    contractx.ToolFailure,
			ErrorKind: contractx.ErrorKindDependencyFailed,
			Error:     "verification reported high risk",
		},
		{
			ToolName: tool.ToolRaiseTicket,
			Status:   contractx.ToolSuccess,
			Payload:  map[string]any{"ticket_id": "T-1"},
		},
		{
			ToolName:  tool.ToolImageAnalysis,
			Status:    contractx.ToolFailure,
			ErrorKind: contractx.ErrorKindTimeout,
			Error:     "deadline",
		},
	}
}

func TestAggregateFactsAndFailures(t *testing.T) {
	t.Parallel()

	agg := Aggregate(sampleResults(), tool.DefaultCatalog())

	ver := agg.Facts[tool.ToolVerification]
	if ver.Summary["risk_level"] != "high" || ver.Summary["escalate"] != true || len(ver.Highlights) != 1 {
		t.Fatalf("verification fact = %+v", ver)
	}

	kb := agg.Facts[tool.ToolKnowledgeBase]
	articles, _ := kb.Summary["articles"].([]map[string]any)
	if len(articles) != 3 {
		t.Fatalf("articles = %v", articles)
	}
	if got := articles[0]["content"].(string); len(got) != 300 {
		t.Fatalf("article content not truncated: %d", len(got))
	}
	if articles[2]["title"] != "Untitled" {
		t.Fatalf("untitled article = %v", articles[2])
	}

	if f := agg.Failures[tool.ToolImageAnalysis]; f.ErrorKind != contractx.ErrorKindTimeout || !strings.Contains(f.Message, "share the image again") {
		t.Fatalf("image failure = %+v", f)
	}
	if _, ok := agg.Facts[tool.ToolOrderAction]; ok {
		t.Fatal("failed tool reported as fact")
	}
}

func TestAggregateCommitmentOutcomes(t *testing.T) {
	t.Parallel()

	agg := Aggregate(sampleResults(), tool.DefaultCatalog())
	want := []contractx.CommitmentOutcome{
		{Tool: tool.ToolOrderAction, Status: contractx.CommitmentFailed, Reason: string(contractx.ErrorKindDependencyFailed)},
		{Tool: tool.ToolRaiseTicket, Status: contractx.CommitmentCompleted},
	}
	if !reflect.DeepEqual(agg.Commitments, want) {
		t.Fatalf("commitments = %+v", agg.Commitments)
	}
	if agg.Facts[tool.ToolRaiseTicket].Summary["status"] != "open" {
		t.Fatalf("ticket fact = %+v", agg.Facts[tool.ToolRaiseTicket])
	}
}

func TestAggregateQueuedTicketKeepsReference(t *testing.T) {
	t.Parallel()

	agg := Aggregate([]contractx.ToolResult{{
		ToolName: tool.ToolRaiseTicket,
		Class:    contractx.ClassCommitment,
		Status:   contractx.ToolSuccess,
		Payload:  map[string]any{"reference": "offer-7", "status": "queued", "dispatch_id": "offer-7"},
	}}, tool.DefaultCatalog())

	got := agg.Facts[tool.ToolRaiseTicket].Summary
	if got["reference"] != "offer-7" || got["status"] != "queued" {
		t.Fatalf("ticket fact = %+v", got)
	}
	if _, ok := got["ticket_id"]; ok {
		t.Fatalf("queued dispatch must not report a ticket id: %+v", got)
	}
}

func TestAggregateIsDeterministic(t *testing.T) {
	t.Parallel()

	a := Aggregate(sampleResults(), tool.DefaultCatalog())
	b := Aggregate(sampleResults(), tool.DefaultCatalog())
	if !reflect.DeepEqual(a, b) {
		t.Fatal("aggregate differs between runs")
	}
	if Render(a) != Render(b) {
		t.Fatal("render differs between runs")
	}
}

func TestAggregateImageAIWarning(t *testing.T) {
	t.Parallel()

	agg := Aggregate([]contractx.ToolResult{{
		ToolName: tool.ToolImageAnalysis,
		Status:   contractx.ToolSuccess,
		Payload: map[string]any{
			"analysis":     map[string]any{"damage_detected": true, "severity": "major"},
			"ai_detection": map[string]any{"is_ai_generated": true},
		},
	}}, tool.DefaultCatalog())

	f := agg.Facts[tool.ToolImageAnalysis]
	if f.Summary["ai_generated"] != true || f.Summary["damage_type"] != "N/A" || len(f.Highlights) != 1 {
		t.Fatalf("image fact = %+v", f)
	}
	if len(agg.Commitments) != 0 {
		t.Fatalf("informational tool produced commitment: %+v", agg.Commitments)
	}
}

func TestRender(t *testing.T) {
	t.Parallel()

	if got := Render(contractx.Aggregate{}); got != "No tools were executed." {
		t.Fatalf("empty render = %q", got)
	}
	out := Render(Aggregate(sampleResults(), tool.DefaultCatalog()))
	for _, want := range []string{"VERIFICATION (informational)", "! high risk", "ORDER_ACTION FAILED (dependency_failed)", "COMMITMENT raise_ticket: completed"} {
		if !strings.Contains(out, want) {
			t.Fatalf("render missing %q:\n%s", want, out)
		}
	}
}
