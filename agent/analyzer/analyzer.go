package analyzer

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/cloudwego/eino/schema"
	contractx "github.com/tanpawarit/Chative-Customer-Support-Agent/agent/contract"
	"github.com/tanpawarit/Chative-Customer-Support-Agent/agent/observe"
	"github.com/tanpawarit/Chative-Customer-Support-Agent/agent/scope"
	"github.com/tanpawarit/Chative-Customer-Support-Agent/agent/slot"
	statex "github.com/tanpawarit/Chative-Customer-Support-Agent/agent/state"
	"github.com/tanpawarit/Chative-Customer-Support-Agent/agent/tool"
	logx "github.com/tanpawarit/Chative-Customer-Support-Agent/pkg/logger"
)

const IntentOutOfScope = "out_of_scope"

type Input struct {
	ConversationID string
	Message        string
	History        []*schema.Message
	State          *statex.ConversationState
	Attachments    []contractx.Attachment
}

// Analyzer turns one customer message into an AnalysisResult. It never mutates
// the conversation state; updates are returned for the orchestrator to apply.
type Analyzer struct {
	scope   *scope.Classifier
	slots   *slot.Extractor
	oracle  contractx.AnalysisOracle
	catalog *tool.Catalog
}

func New(classifier *scope.Classifier, extractor *slot.Extractor, oracle contractx.AnalysisOracle, catalog *tool.Catalog) *Analyzer {
	if catalog == nil {
		catalog = tool.DefaultCatalog()
	}
	return &Analyzer{scope: classifier, slots: extractor, oracle: oracle, catalog: catalog}
}

func (a *Analyzer) Analyze(ctx context.Context, in Input) contractx.AnalysisResult {
	decision := a.scope.Classify(ctx, scope.Input{
		ConversationID: in.ConversationID,
		Message:        in.Message,
		History:        in.History,
		State:          in.State,
	})
	res := contractx.AnalysisResult{
		Scope:         decision.Update,
		ScopeDegraded: decision.Degraded,
		Confirmation:  contractx.Confirmation{Signal: contractx.ConfirmNone},
	}
	if !decision.InScope() {
		res.Intent = IntentOutOfScope
		res.Language = detectLanguage(in.Message)
		return res
	}

	out, err := a.consult(ctx, in)
	if err != nil {
		observe.RecordOracleFailure("analysis")
		logx.Warn().
			Err(fmt.Errorf("%w: %v", contractx.ErrAnalysisParse, err)).
			Str("conversation_id", in.ConversationID).
			Msg("analysis oracle failed, turn is unclassified")
		res.Intent = contractx.IntentUnclassified
		res.Unclassified = true
		res.Language = detectLanguage(in.Message)
		return res
	}

	res.Intent = out.Intent
	res.Language = out.Language
	res.Sentiment = out.Sentiment
	res.NeedsDeEscalation = out.NeedsDeEscalation
	res.DeEscalationApproach = out.DeEscalationApproach
	res.Confirmation = out.Confirmation
	if decision.Degraded {
		// Without a trusted scope verdict the turn neither acts nor asks.
		return res
	}

	plan := a.proposePlan(out, in.State)
	required := a.requiredSlots(plan, out, in.State)
	found := a.slots.Extract(ctx, slot.Input{
		ConversationID: in.ConversationID,
		Message:        in.Message,
		History:        in.History,
		State:          in.State,
		Required:       required,
		Attachments:    in.Attachments,
	})
	res.SlotUpdates = found.Updates
	res.MissingSlots = found.Names(slot.StatusMissing)
	res.RefusedSlots = found.Names(slot.StatusRefused)
	res.ExhaustedSlots = found.Names(slot.StatusExhausted)
	res.HelpRequested = found.HelpRequested()

	res.Plan = a.satisfy(plan, found, in.State, out.Confirmation)
	res.NeedsMoreInfo = len(res.MissingSlots) > 0 ||
		(out.NeedsMoreInfo && len(res.Plan) == 0 && len(out.MissingInfo) == 0)
	return res
}

func (a *Analyzer) consult(ctx context.Context, in Input) (contractx.OracleAnalysis, error) {
	if a.oracle == nil {
		return contractx.OracleAnalysis{}, fmt.Errorf("%w: analysis oracle not configured", contractx.ErrModelInvoke)
	}
	return a.oracle.Analyze(ctx, contractx.AnalysisRequest{
		Message:      in.Message,
		History:      in.History,
		KnownSlots:   in.State.KnownSlots(),
		RefusedSlots: in.State.RefusedSlots(),
		Pending:      pendingOf(in.State),
		Attachments:  in.Attachments,
		Tools:        a.catalog.Descriptions(),
	})
}

// proposePlan keeps catalog tools once each, re-adds a pending commitment the
// customer just agreed to, and inserts missing prerequisites ahead of their
// dependents.
func (a *Analyzer) proposePlan(out contractx.OracleAnalysis, st *statex.ConversationState) []contractx.ToolCall {
	proposed := make([]contractx.ProposedCall, 0, len(out.Plan)+1)
	proposed = append(proposed, out.Plan...)
	if p := pendingOf(st); p != nil && agreesTo(out.Confirmation, p.ToolName) {
		proposed = append(proposed, contractx.ProposedCall{Tool: p.ToolName, Query: p.Query, Reason: p.Reason})
	}

	var (
		plan []contractx.ToolCall
		seen = make(map[string]bool)
	)
	var add func(name, query, reason string)
	add = func(name, query, reason string) {
		if seen[name] {
			return
		}
		seen[name] = true
		for _, dep := range a.catalog.DependsOn(name) {
			add(dep, query, "")
		}
		plan = append(plan, contractx.ToolCall{
			ToolName:  name,
			Class:     a.catalog.ClassOf(name),
			Query:     query,
			Reason:    reason,
			DependsOn: a.catalog.DependsOn(name),
		})
	}
	for _, p := range proposed {
		if !a.catalog.Has(p.Tool) {
			logx.Debug().Str("tool", p.Tool).Msg("dropping unknown tool from plan")
			continue
		}
		add(p.Tool, p.Query, p.Reason)
	}
	return plan
}

func (a *Analyzer) requiredSlots(plan []contractx.ToolCall, out contractx.OracleAnalysis, st *statex.ConversationState) []string {
	var required []string
	for _, call := range plan {
		required = append(required, a.catalog.RequiredSlotsOf(call.ToolName)...)
	}
	required = append(required, out.IntentSlots...)
	required = append(required, out.MissingInfo...)
	if st != nil {
		for name, n := range st.AskCounts {
			if n > 0 && !st.IsRefused(name) {
				if _, known := st.Known(name); !known {
					required = append(required, name)
				}
			}
		}
	}
	return required
}

// satisfy drops calls whose required slots are not known, then anything that
// depended on a dropped call, and fills inputs for what remains.
func (a *Analyzer) satisfy(plan []contractx.ToolCall, found slot.Result, st *statex.ConversationState, conf contractx.Confirmation) []contractx.ToolCall {
	dropped := make(map[string]bool)
	kept := make([]contractx.ToolCall, 0, len(plan))
	for _, call := range plan {
		inputs := make(map[string]string)
		ok := true
		for _, name := range a.catalog.RequiredSlotsOf(call.ToolName) {
			f := found.Findings[name]
			if f.Status != slot.StatusKnown {
				ok = false
				break
			}
			inputs[name] = f.Value
		}
		blocked := false
		for _, dep := range call.DependsOn {
			if dropped[dep] {
				blocked = true
				break
			}
		}
		if !ok || blocked {
			dropped[call.ToolName] = true
			continue
		}
		if len(inputs) > 0 {
			call.Inputs = inputs
		}
		if call.Class == contractx.ClassCommitment {
			if p := pendingOf(st); p != nil && p.ToolName == call.ToolName && agreesTo(conf, call.ToolName) {
				call.Confirmed = true
			}
		}
		kept = append(kept, call)
	}
	return kept
}

func agreesTo(c contractx.Confirmation, tool string) bool {
	return c.Signal == contractx.ConfirmAffirmative && (c.Target == "" || c.Target == tool)
}

func pendingOf(st *statex.ConversationState) *statex.PendingCommitment {
	if st == nil {
		return nil
	}
	return st.Pending
}

// detectLanguage is the fallback when no analysis is available.
func detectLanguage(s string) string {
	for _, r := range s {
		if unicode.Is(unicode.Thai, r) {
			return "th"
		}
	}
	if strings.TrimSpace(s) == "" {
		return ""
	}
	return "en"
}
