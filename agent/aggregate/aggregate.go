package aggregate

import (
	"fmt"
	"sort"
	"strings"

	contractx "github.com/tanpawarit/Chative-Customer-Support-Agent/agent/contract"
	"github.com/tanpawarit/Chative-Customer-Support-Agent/agent/tool"
)

const (
	maxArticles       = 3
	maxArticleContent = 300
)

// Aggregate folds executor results into facts, failures and commitment
// outcomes. It is pure: the same results always give an equal value.
func Aggregate(results []contractx.ToolResult, catalog *tool.Catalog) contractx.Aggregate {
	out := contractx.Aggregate{
		Facts:    make(map[string]contractx.Fact),
		Failures: make(map[string]contractx.Failure),
	}
	for _, r := range results {
		class := r.Class
		if catalog != nil {
			if c := catalog.ClassOf(r.ToolName); c != "" {
				class = c
			}
		}

		if r.OK() {
			out.Facts[r.ToolName] = normalize(r.ToolName, class, r.Payload)
		} else {
			out.Failures[r.ToolName] = contractx.Failure{
				Class:     class,
				ErrorKind: r.ErrorKind,
				Message:   failureMessage(r),
			}
		}

		if class == contractx.ClassCommitment {
			oc := contractx.CommitmentOutcome{Tool: r.ToolName, Status: contractx.CommitmentCompleted}
			if !r.OK() {
				oc.Status = contractx.CommitmentFailed
				oc.Reason = string(r.ErrorKind)
			}
			out.Commitments = append(out.Commitments, oc)
		}
	}
	return out
}

func failureMessage(r contractx.ToolResult) string {
	if r.ToolName == tool.ToolImageAnalysis {
		return "the photo could not be analyzed; ask the customer to share the image again"
	}
	if r.Error != "" {
		return r.Error
	}
	return string(r.ErrorKind)
}

func normalize(name string, class contractx.CapabilityClass, p map[string]any) contractx.Fact {
	f := contractx.Fact{Class: class, Summary: make(map[string]any)}

	switch name {
	case tool.ToolLiveInformation:
		data := asMap(p["data"])
		if len(data) == 0 {
			f.Highlights = append(f.Highlights, "no order data found for this query")
			break
		}
		f.Summary["data"] = data

	case tool.ToolKnowledgeBase:
		if retrieved := asString(p["retrieved"]); retrieved != "" {
			f.Summary["retrieved"] = retrieved
			break
		}
		var articles []map[string]any
		for _, a := range asSlice(p["articles"]) {
			if len(articles) == maxArticles {
				break
			}
			m := asMap(a)
			title := asString(m["title"])
			if title == "" {
				title = "Untitled"
			}
			articles = append(articles, map[string]any{
				"title":   title,
				"content": truncate(asString(m["content"]), maxArticleContent),
			})
		}
		if len(articles) == 0 {
			f.Highlights = append(f.Highlights, "no relevant articles found")
			break
		}
		f.Summary["articles"] = articles

	case tool.ToolVerification:
		risk := tool.RiskLevel(p)
		rec := asString(asMap(p["fraud_check"])["recommendation"])
		if rec == "" {
			rec = "proceed"
		}
		f.Summary["risk_level"] = risk
		f.Summary["recommendation"] = rec
		if risk == "high" {
			f.Summary["escalate"] = true
			f.Highlights = append(f.Highlights, "high risk: escalate to a human agent")
		}

	case tool.ToolImageAnalysis:
		if a := asMap(p["analysis"]); len(a) > 0 {
			f.Summary["damage_detected"] = orDefault(a["damage_detected"], "unknown")
			f.Summary["damage_type"] = orDefault(a["damage_type"], "N/A")
			f.Summary["severity"] = orDefault(a["severity"], "unknown")
			f.Summary["description"] = orDefault(a["description"], "N/A")
			f.Summary["recommendation"] = orDefault(a["recommendation"], "N/A")
		}
		if ai, _ := asMap(p["ai_detection"])["is_ai_generated"].(bool); ai {
			f.Summary["ai_generated"] = true
			f.Highlights = append(f.Highlights, "image may be AI-generated")
		}

	case tool.ToolAssignAgent:
		f.Summary["agent"] = orDefault(asMap(p["agent_info"])["agent_name"], "Support Specialist")
		f.Summary["eta"] = orDefault(p["eta"], "5-10 minutes")
		f.Summary["channel"] = orDefault(p["channel"], "chat")
		if id := asString(p["assignment_id"]); id != "" {
			f.Summary["reference"] = id
		}

	case tool.ToolRaiseTicket:
		if id := asString(p["ticket_id"]); id != "" {
			f.Summary["ticket_id"] = id
			f.Summary["status"] = orDefault(p["status"], "open")
		} else {
			f.Summary["reference"] = orDefault(p["reference"], "N/A")
			f.Summary["status"] = orDefault(p["status"], "queued")
		}
		f.Summary["priority"] = orDefault(p["priority"], "medium")
		if c := asString(p["category"]); c != "" {
			f.Summary["category"] = c
		}

	case tool.ToolOrderAction:
		f.Summary["action"] = orDefault(p["action"], "unknown")
		f.Summary["status"] = orDefault(p["status"], "pending")
		for _, k := range []string{"refund_amount", "replacement_order_id", "tracking_number", "label_url"} {
			if v, ok := p[k]; ok && v != nil && v != "" {
				f.Summary[k] = v
			}
		}

	default:
		for k, v := range p {
			f.Summary[k] = v
		}
	}
	return f
}

// Render formats the aggregate as plain text for the response prompt. Tools
// are listed by name so the text is stable.
func Render(agg contractx.Aggregate) string {
	if len(agg.Facts) == 0 && len(agg.Failures) == 0 && len(agg.Commitments) == 0 {
		return "No tools were executed."
	}

	var b strings.Builder
	for _, name := range sortedKeys(agg.Facts) {
		f := agg.Facts[name]
		fmt.Fprintf(&b, "%s (%s):\n", strings.ToUpper(name), f.Class)
		for _, k := range sortedKeys(f.Summary) {
			fmt.Fprintf(&b, "  - %s: %v\n", k, f.Summary[k])
		}
		for _, h := range f.Highlights {
			fmt.Fprintf(&b, "  ! %s\n", h)
		}
	}
	for _, name := range sortedKeys(agg.Failures) {
		f := agg.Failures[name]
		fmt.Fprintf(&b, "%s FAILED (%s): %s\n", strings.ToUpper(name), f.ErrorKind, f.Message)
	}
	for _, c := range agg.Commitments {
		if c.Reason != "" {
			fmt.Fprintf(&b, "COMMITMENT %s: %s (%s)\n", c.Tool, c.Status, c.Reason)
			continue
		}
		fmt.Fprintf(&b, "COMMITMENT %s: %s\n", c.Tool, c.Status)
	}
	return strings.TrimRight(b.String(), "\n")
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func asSlice(v any) []any {
	s, _ := v.([]any)
	return s
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func orDefault(v any, def string) any {
	if v == nil {
		return def
	}
	if s, ok := v.(string); ok && s == "" {
		return def
	}
	return v
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
