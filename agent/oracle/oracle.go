package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/tanpawarit/Chative-Customer-Support-Agent/agent/aggregate"
	contractx "github.com/tanpawarit/Chative-Customer-Support-Agent/agent/contract"
	"github.com/tanpawarit/Chative-Customer-Support-Agent/agent/prompt"
	statex "github.com/tanpawarit/Chative-Customer-Support-Agent/agent/state"
)

const (
	DefaultHistoryWindow = 10
	DefaultCallTimeout   = 45 * time.Second
)

type Config struct {
	HistoryWindow int           `split_words:"true" default:"10"`
	CallTimeout   time.Duration `split_words:"true" default:"45s"`
}

// Oracle answers the scope, slot, analysis and synthesis questions of a turn
// with chat models. Analysis-side questions share one model; replies may use
// another.
type Oracle struct {
	scopeRunner    compose.Runnable[map[string]any, contractx.ScopeJudgement]
	slotsRunner    compose.Runnable[map[string]any, contractx.SlotJudgement]
	analysisRunner compose.Runnable[map[string]any, analysisWire]
	responseRunner compose.Runnable[map[string]any, *schema.Message]
	historyWindow  int
	callTimeout    time.Duration
}

var (
	_ contractx.ScopeOracle    = (*Oracle)(nil)
	_ contractx.SlotOracle     = (*Oracle)(nil)
	_ contractx.AnalysisOracle = (*Oracle)(nil)
	_ contractx.ResponseOracle = (*Oracle)(nil)
)

func New(ctx context.Context, analysisModel, responseModel einomodel.BaseChatModel, prompts prompt.PromptSet, cfg Config) (*Oracle, error) {
	if analysisModel == nil {
		return nil, fmt.Errorf("%w: analysis model is required", contractx.ErrValidation)
	}
	if responseModel == nil {
		responseModel = analysisModel
	}
	for name, p := range map[string]string{
		"scope": prompts.Scope, "slots": prompts.Slots, "analysis": prompts.Analysis, "response": prompts.Response,
	} {
		if strings.TrimSpace(p) == "" {
			return nil, fmt.Errorf("%w: %s prompt", contractx.ErrPromptMissing, name)
		}
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = DefaultHistoryWindow
	}

	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}

	o := &Oracle{historyWindow: cfg.HistoryWindow, callTimeout: cfg.CallTimeout}
	var err error
	if o.scopeRunner, err = compileStructuredLLMGraph[contractx.ScopeJudgement](ctx, analysisModel, prompts.Scope, "oracle.scope_graph"); err != nil {
		return nil, fmt.Errorf("%w: compile scope graph: %v", contractx.ErrModelInvoke, err)
	}
	if o.slotsRunner, err = compileStructuredLLMGraph[contractx.SlotJudgement](ctx, analysisModel, prompts.Slots, "oracle.slots_graph"); err != nil {
		return nil, fmt.Errorf("%w: compile slots graph: %v", contractx.ErrModelInvoke, err)
	}
	if o.analysisRunner, err = compileStructuredLLMGraph[analysisWire](ctx, analysisModel, prompts.Analysis, "oracle.analysis_graph"); err != nil {
		return nil, fmt.Errorf("%w: compile analysis graph: %v", contractx.ErrModelInvoke, err)
	}
	if o.responseRunner, err = compileTextGraph(ctx, responseModel, prompts.Response, "oracle.response_graph"); err != nil {
		return nil, fmt.Errorf("%w: compile response graph: %v", contractx.ErrModelInvoke, err)
	}
	return o, nil
}

/* --------------------------------- scope -------------------------------- */

func (o *Oracle) ClassifyScope(ctx context.Context, req contractx.ScopeRequest) (contractx.ScopeJudgement, error) {
	if strings.TrimSpace(req.Message) == "" {
		return contractx.ScopeJudgement{}, fmt.Errorf("%w: message is required", contractx.ErrValidation)
	}
	previous := string(req.PreviousVerdict)
	if previous == "" {
		previous = string(statex.ScopeInScope)
	}
	input, err := o.encode(map[string]any{
		"message":          req.Message,
		"history":          o.window(req.History),
		"previous_verdict": previous,
		"previous_topic":   req.PreviousTopic,
	})
	if err != nil {
		return contractx.ScopeJudgement{}, err
	}

	callCtx, cancel := context.WithTimeout(ctx, o.callTimeout)
	defer cancel()
	out, err := o.scopeRunner.Invoke(callCtx, map[string]any{"input": input, "output_format": scopeOutputFormat})
	if err != nil {
		return contractx.ScopeJudgement{}, fmt.Errorf("%w: scope invoke: %v", contractx.ErrModelInvoke, err)
	}
	out.Verdict = statex.ScopeVerdict(strings.ToLower(strings.TrimSpace(string(out.Verdict))))
	out.Topic = strings.TrimSpace(out.Topic)
	switch out.Verdict {
	case statex.ScopeInScope:
		out.Topic = ""
	case statex.ScopeOutOfScope:
	default:
		return contractx.ScopeJudgement{}, fmt.Errorf("%w: verdict=%q", contractx.ErrSchemaViolation, out.Verdict)
	}
	return out, nil
}

/* --------------------------------- slots -------------------------------- */

func (o *Oracle) ExtractSlots(ctx context.Context, req contractx.SlotRequest) (contractx.SlotJudgement, error) {
	if len(req.Slots) == 0 {
		return contractx.SlotJudgement{}, nil
	}
	input, err := o.encode(map[string]any{
		"message": req.Message,
		"history": o.window(req.History),
		"slots":   req.Slots,
		"known":   req.Known,
	})
	if err != nil {
		return contractx.SlotJudgement{}, err
	}

	callCtx, cancel := context.WithTimeout(ctx, o.callTimeout)
	defer cancel()
	out, err := o.slotsRunner.Invoke(callCtx, map[string]any{"input": input, "output_format": slotsOutputFormat})
	if err != nil {
		return contractx.SlotJudgement{}, fmt.Errorf("%w: slots invoke: %v", contractx.ErrModelInvoke, err)
	}
	return out, nil
}

/* -------------------------------- analysis ------------------------------ */

type toolSummary struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (o *Oracle) Analyze(ctx context.Context, req contractx.AnalysisRequest) (contractx.OracleAnalysis, error) {
	if strings.TrimSpace(req.Message) == "" && len(req.Attachments) == 0 {
		return contractx.OracleAnalysis{}, fmt.Errorf("%w: message is required", contractx.ErrValidation)
	}

	tools := make([]toolSummary, 0, len(req.Tools))
	for _, ti := range req.Tools {
		if ti != nil {
			tools = append(tools, toolSummary{Name: ti.Name, Description: ti.Desc})
		}
	}
	payload := map[string]any{
		"message":       req.Message,
		"history":       o.window(req.History),
		"known_slots":   req.KnownSlots,
		"refused_slots": req.RefusedSlots,
		"attachments":   req.Attachments,
		"tools":         tools,
	}
	if req.Pending != nil {
		payload["pending_offer"] = map[string]any{"tool": req.Pending.ToolName, "reason": req.Pending.Reason}
	}
	input, err := o.encode(payload)
	if err != nil {
		return contractx.OracleAnalysis{}, err
	}

	callCtx, cancel := context.WithTimeout(ctx, o.callTimeout)
	defer cancel()
	out, err := o.analysisRunner.Invoke(callCtx, map[string]any{"input": input, "output_format": analysisOutputFormat})
	if err != nil {
		return contractx.OracleAnalysis{}, fmt.Errorf("%w: analysis invoke: %v", contractx.ErrModelInvoke, err)
	}
	return normalizeAnalysis(out)
}

// analysisWire mirrors the model's JSON with pointers so absent fields can be
// told apart from zero values.
type analysisWire struct {
	Language             *string                  `json:"language"`
	Intent               string                   `json:"intent"`
	Sentiment            *sentimentWire           `json:"sentiment"`
	NeedsDeEscalation    bool                     `json:"needs_de_escalation"`
	DeEscalationApproach string                   `json:"de_escalation_approach,omitempty"`
	NeedsMoreInfo        *bool                    `json:"needs_more_info"`
	MissingInfo          []string                 `json:"missing_info,omitempty"`
	IntentSlots          []string                 `json:"intent_slots,omitempty"`
	Plan                 []contractx.ProposedCall `json:"tool_plan,omitempty"`
	Confirmation         *confirmationWire        `json:"confirmation"`
}

type sentimentWire struct {
	Emotion   *string `json:"emotion"`
	Intensity *string `json:"intensity"`
	Urgency   *string `json:"urgency"`
}

type confirmationWire struct {
	Signal *string `json:"signal"`
	Target string  `json:"target,omitempty"`
}

// normalizeAnalysis rejects a partial answer: every field the turn depends on
// must be present and valid.
func normalizeAnalysis(w analysisWire) (contractx.OracleAnalysis, error) {
	var a contractx.OracleAnalysis

	a.Intent = strings.TrimSpace(w.Intent)
	if a.Intent == "" {
		return a, fmt.Errorf("%w: intent is required", contractx.ErrSchemaViolation)
	}

	lang, err := required("language", w.Language)
	if err != nil {
		return a, err
	}
	a.Language = strings.ToLower(lang)

	if w.Sentiment == nil {
		return a, fmt.Errorf("%w: sentiment is required", contractx.ErrSchemaViolation)
	}
	if a.Sentiment.Emotion, err = required("sentiment.emotion", w.Sentiment.Emotion); err != nil {
		return a, err
	}
	a.Sentiment.Emotion = strings.ToLower(a.Sentiment.Emotion)
	if a.Sentiment.Intensity, err = level("sentiment.intensity", w.Sentiment.Intensity); err != nil {
		return a, err
	}
	if a.Sentiment.Urgency, err = level("sentiment.urgency", w.Sentiment.Urgency); err != nil {
		return a, err
	}

	if w.NeedsMoreInfo == nil {
		return a, fmt.Errorf("%w: needs_more_info is required", contractx.ErrSchemaViolation)
	}
	a.NeedsMoreInfo = *w.NeedsMoreInfo

	if w.Confirmation == nil {
		return a, fmt.Errorf("%w: confirmation is required", contractx.ErrSchemaViolation)
	}
	signal, err := required("confirmation.signal", w.Confirmation.Signal)
	if err != nil {
		return a, err
	}
	switch s := contractx.ConfirmationSignal(strings.ToLower(signal)); s {
	case contractx.ConfirmAffirmative, contractx.ConfirmNegative, contractx.ConfirmAmbiguous, contractx.ConfirmNone:
		a.Confirmation.Signal = s
	default:
		return a, fmt.Errorf("%w: confirmation.signal=%q", contractx.ErrSchemaViolation, s)
	}
	a.Confirmation.Target = strings.TrimSpace(w.Confirmation.Target)

	a.NeedsDeEscalation = w.NeedsDeEscalation
	a.DeEscalationApproach = strings.TrimSpace(w.DeEscalationApproach)
	a.MissingInfo = w.MissingInfo
	a.IntentSlots = w.IntentSlots
	a.Plan = w.Plan
	for i := range a.Plan {
		a.Plan[i].Tool = strings.TrimSpace(a.Plan[i].Tool)
		if a.Plan[i].Tool == "" {
			return a, fmt.Errorf("%w: tool_plan[%d].tool is required", contractx.ErrSchemaViolation, i)
		}
	}
	return a, nil
}

func required(field string, v *string) (string, error) {
	if v == nil || strings.TrimSpace(*v) == "" {
		return "", fmt.Errorf("%w: %s is required", contractx.ErrSchemaViolation, field)
	}
	return strings.TrimSpace(*v), nil
}

func level(field string, v *string) (string, error) {
	s, err := required(field, v)
	if err != nil {
		return "", err
	}
	switch s = strings.ToLower(s); s {
	case "low", "medium", "high":
		return s, nil
	default:
		return "", fmt.Errorf("%w: %s=%q", contractx.ErrSchemaViolation, field, s)
	}
}

/* ------------------------------- synthesis ------------------------------ */

func (o *Oracle) Synthesize(ctx context.Context, req contractx.SynthesisRequest) (string, error) {
	a := req.Analysis
	language := req.Language
	if language == "" {
		language = "en"
	}
	payload := map[string]any{
		"message":  req.Message,
		"history":  o.window(req.History),
		"route":    req.Route,
		"language": language,
		"customer_state": map[string]any{
			"emotion":                a.Sentiment.Emotion,
			"intensity":              a.Sentiment.Intensity,
			"urgency":                a.Sentiment.Urgency,
			"needs_de_escalation":    a.NeedsDeEscalation,
			"de_escalation_approach": a.DeEscalationApproach,
		},
		"tool_information": aggregate.Render(req.Aggregate),
		"missing_info":     a.MissingSlots,
		"refused_info":     a.RefusedSlots,
		"stop_asking":      a.ExhaustedSlots,
		"help_requested":   a.HelpRequested,
	}
	if req.Route == contractx.RouteScopeRejected && a.Scope.Topic != "" {
		payload["off_topic"] = a.Scope.Topic
	}
	if req.Offer != nil {
		payload["offer"] = req.Offer
	}
	input, err := o.encode(payload)
	if err != nil {
		return "", err
	}

	callCtx, cancel := context.WithTimeout(ctx, o.callTimeout)
	defer cancel()
	msg, err := o.responseRunner.Invoke(callCtx, map[string]any{"input": input})
	if err != nil {
		return "", fmt.Errorf("%w: response invoke: %v", contractx.ErrModelInvoke, err)
	}
	if msg == nil {
		return "", fmt.Errorf("%w: empty reply", contractx.ErrModelInvoke)
	}
	reply := cleanReply(msg.Content)
	if reply == "" {
		return "", fmt.Errorf("%w: empty reply", contractx.ErrModelInvoke)
	}
	return reply, nil
}

/* -------------------------------- helpers ------------------------------- */

type historyEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (o *Oracle) window(history []*schema.Message) []historyEntry {
	if len(history) > o.historyWindow {
		history = history[len(history)-o.historyWindow:]
	}
	out := make([]historyEntry, 0, len(history))
	for _, m := range history {
		if m == nil || strings.TrimSpace(m.Content) == "" {
			continue
		}
		out = append(out, historyEntry{Role: string(m.Role), Content: m.Content})
	}
	return out
}

func (o *Oracle) encode(payload map[string]any) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("%w: marshal oracle payload: %v", contractx.ErrValidation, err)
	}
	return string(raw), nil
}
