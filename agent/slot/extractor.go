package slot

import (
	"context"
	"sort"
	"strings"

	"github.com/cloudwego/eino/schema"
	contractx "github.com/tanpawarit/Chative-Customer-Support-Agent/agent/contract"
	"github.com/tanpawarit/Chative-Customer-Support-Agent/agent/observe"
	statex "github.com/tanpawarit/Chative-Customer-Support-Agent/agent/state"
	"github.com/tanpawarit/Chative-Customer-Support-Agent/agent/tool"
	logx "github.com/tanpawarit/Chative-Customer-Support-Agent/pkg/logger"
)

const DefaultMaxAsks = 2

type Status string

const (
	StatusKnown     Status = "known"
	StatusMissing   Status = "missing"
	StatusRefused   Status = "refused"
	StatusExhausted Status = "exhausted"
)

type Finding struct {
	Status        Status
	Value         string
	Provenance    statex.Provenance
	HelpRequested bool
}

type Input struct {
	ConversationID string
	Message        string
	History        []*schema.Message
	State          *statex.ConversationState
	Required       []string
	Attachments    []contractx.Attachment
}

type Result struct {
	Findings map[string]Finding
	// Updates are the state changes implied by the findings, in slot order.
	Updates []contractx.SlotUpdate
	// Degraded is set when the slot oracle could not be used.
	Degraded bool
}

// Names returns the slots with the given status, sorted.
func (r Result) Names(status Status) []string {
	var out []string
	for name, f := range r.Findings {
		if f.Status == status {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

func (r Result) HelpRequested() []string {
	var out []string
	for name, f := range r.Findings {
		if f.HelpRequested {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

type Extractor struct {
	oracle  contractx.SlotOracle
	catalog *tool.Catalog
	maxAsks int
}

func New(oracle contractx.SlotOracle, catalog *tool.Catalog, maxAsks int) *Extractor {
	if maxAsks <= 0 {
		maxAsks = DefaultMaxAsks
	}
	if catalog == nil {
		catalog = tool.DefaultCatalog()
	}
	return &Extractor{oracle: oracle, catalog: catalog, maxAsks: maxAsks}
}

// Extract resolves each required slot. First match wins:
// current message, state, state refusal, history, oracle refusal, missing.
func (e *Extractor) Extract(ctx context.Context, in Input) Result {
	required := dedupe(in.Required)
	res := Result{Findings: make(map[string]Finding, len(required))}
	if len(required) == 0 {
		return res
	}

	judgement, ok := e.judge(ctx, in, required)
	res.Degraded = !ok
	refused := toSet(judgement.Refused)
	help := toSet(judgement.HelpRequested)
	userHistory := userTexts(in.History)

	for _, name := range required {
		f := e.resolve(name, in, judgement, refused, help, userHistory)
		res.Findings[name] = f
		switch {
		case f.Status == StatusKnown && f.Provenance == statex.ProvidedThisTurn:
			res.Updates = append(res.Updates, contractx.SlotUpdate{Name: name, Value: f.Value, Provenance: statex.ProvidedThisTurn})
		case f.Status == StatusKnown && !isKnownInState(in.State, name):
			res.Updates = append(res.Updates, contractx.SlotUpdate{Name: name, Value: f.Value, Provenance: statex.CarriedFromHistory})
		case f.Status == StatusRefused && !in.State.IsRefused(name):
			res.Updates = append(res.Updates, contractx.SlotUpdate{Name: name, Provenance: statex.Refused})
		}
	}
	return res
}

func (e *Extractor) resolve(name string, in Input, j contractx.SlotJudgement, refused, help map[string]bool, userHistory []string) Finding {
	known := func(v string, p statex.Provenance) Finding {
		return Finding{Status: StatusKnown, Value: strings.TrimSpace(v), Provenance: p}
	}

	if v := strings.TrimSpace(j.Current[name]); v != "" {
		return known(v, statex.ProvidedThisTurn)
	}
	if v, ok := fromAttachments(name, in.Attachments); ok {
		return known(v, statex.ProvidedThisTurn)
	}
	if v, ok := e.catalog.MatchSlot(name, in.Message); ok {
		return known(v, statex.ProvidedThisTurn)
	}

	if v, ok := in.State.Known(name); ok {
		return known(v, statex.CarriedFromHistory)
	}
	if in.State.IsRefused(name) {
		return Finding{Status: StatusRefused, Provenance: statex.Refused}
	}

	if v := strings.TrimSpace(j.FromHistory[name]); v != "" {
		return known(v, statex.CarriedFromHistory)
	}
	for i := len(userHistory) - 1; i >= 0; i-- {
		if v, ok := e.catalog.MatchSlot(name, userHistory[i]); ok {
			return known(v, statex.CarriedFromHistory)
		}
	}

	if refused[name] {
		return Finding{Status: StatusRefused, Provenance: statex.Refused}
	}

	if in.State.AskCount(name) >= e.maxAsks {
		return Finding{Status: StatusExhausted, HelpRequested: help[name]}
	}
	return Finding{Status: StatusMissing, HelpRequested: help[name]}
}

// judge asks the oracle and keeps only answers about requested slots. On
// failure the judgement is empty and ok is false.
func (e *Extractor) judge(ctx context.Context, in Input, required []string) (contractx.SlotJudgement, bool) {
	if e.oracle == nil {
		return contractx.SlotJudgement{}, false
	}
	j, err := e.oracle.ExtractSlots(ctx, contractx.SlotRequest{
		Message: in.Message,
		History: in.History,
		Slots:   required,
		Known:   in.State.KnownSlots(),
	})
	if err != nil {
		observe.RecordOracleFailure("slots")
		logx.Warn().Err(err).Str("conversation_id", in.ConversationID).Msg("slot oracle failed, falling back to state and patterns")
		return contractx.SlotJudgement{}, false
	}

	wanted := toSet(required)
	out := contractx.SlotJudgement{
		Current:     make(map[string]string, len(j.Current)),
		FromHistory: make(map[string]string, len(j.FromHistory)),
	}
	for k, v := range j.Current {
		if wanted[k] {
			out.Current[k] = v
		}
	}
	for k, v := range j.FromHistory {
		if wanted[k] {
			out.FromHistory[k] = v
		}
	}
	for _, k := range j.Refused {
		if wanted[k] {
			out.Refused = append(out.Refused, k)
		}
	}
	for _, k := range j.HelpRequested {
		if wanted[k] {
			out.HelpRequested = append(out.HelpRequested, k)
		}
	}
	return out, true
}

func fromAttachments(name string, atts []contractx.Attachment) (string, bool) {
	if name != tool.SlotPhotoReference {
		return "", false
	}
	for _, a := range atts {
		if a.Kind == contractx.AttachmentImage && strings.TrimSpace(a.URL) != "" {
			return strings.TrimSpace(a.URL), true
		}
	}
	return "", false
}

func isKnownInState(st *statex.ConversationState, name string) bool {
	_, ok := st.Known(name)
	return ok
}

func userTexts(history []*schema.Message) []string {
	out := make([]string, 0, len(history))
	for _, m := range history {
		if m != nil && m.Role == schema.User && m.Content != "" {
			out = append(out, m.Content)
		}
	}
	return out
}

func toSet(names []string) map[string]bool {
	out := make(map[string]bool, len(names))
	for _, n := range names {
		out[n] = true
	}
	return out
}

func dedupe(names []string) []string {
	seen := make(map[string]bool, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" || seen[n] {
			continue
		}
		seen[n] = true
		out = append(out, n)
	}
	return out
}
