package gate

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	contractx "github.com/tanpawarit/Chative-Customer-Support-Agent/agent/contract"
	"github.com/tanpawarit/Chative-Customer-Support-Agent/agent/observe"
	statex "github.com/tanpawarit/Chative-Customer-Support-Agent/agent/state"
	"github.com/tanpawarit/Chative-Customer-Support-Agent/agent/tool"
	logx "github.com/tanpawarit/Chative-Customer-Support-Agent/pkg/logger"
)

type Config struct {
	// ImmediateTools extends the catalog's immediate allowlist.
	ImmediateTools []string `split_words:"true"`
}

type PendingAction string

const (
	PendingKeep  PendingAction = "keep"
	PendingSet   PendingAction = "set"
	PendingClear PendingAction = "clear"
)

type Input struct {
	ConversationID string
	Plan           []contractx.ToolCall
	State          *statex.ConversationState
	Message        string
	Confirmation   contractx.Confirmation
}

type Decision struct {
	Approved []contractx.ToolCall
	// Offer is the commitment the reply must ask about, if any.
	Offer         *contractx.Offer
	PendingAction PendingAction
	// Pending is the offer to store when PendingAction is PendingSet.
	Pending      *statex.PendingCommitment
	Confirmation contractx.ConfirmationSignal
	// Authorized maps approved commitment tools to their commitment id.
	Authorized map[string]string
	Dropped    []string
}

// Apply writes the pending change onto st.
func (d Decision) Apply(st *statex.ConversationState) {
	switch d.PendingAction {
	case PendingSet:
		if d.Pending != nil {
			st.OfferCommitment(*d.Pending)
		}
	case PendingClear:
		st.ClearPending()
	}
}

// Gate is the hard policy between the analyzer's plan and the executor: no
// commitment runs unless it is on the immediate allowlist or the customer just
// said yes to exactly that offer.
type Gate struct {
	catalog   *tool.Catalog
	immediate map[string]bool
	newID     func() string
	now       func() time.Time
}

func New(catalog *tool.Catalog, cfg Config) *Gate {
	if catalog == nil {
		catalog = tool.DefaultCatalog()
	}
	immediate := make(map[string]bool)
	for _, name := range catalog.Names() {
		if catalog.IsImmediate(name) {
			immediate[name] = true
		}
	}
	for _, name := range cfg.ImmediateTools {
		name = strings.TrimSpace(name)
		if catalog.ClassOf(name) == contractx.ClassCommitment {
			immediate[name] = true
		}
	}
	return &Gate{
		catalog:   catalog,
		immediate: immediate,
		newID:     uuid.NewString,
		now:       time.Now,
	}
}

func (g *Gate) Evaluate(in Input) Decision {
	var (
		pending *statex.PendingCommitment
		turn    int
	)
	if in.State != nil {
		pending, turn = in.State.Pending, in.State.TurnIndex
	}
	signal := ClassifyConfirmation(pending, turn, in.Message, in.Confirmation)

	dec := Decision{
		PendingAction: PendingKeep,
		Confirmation:  signal,
		Authorized:    make(map[string]string),
	}

	var (
		offerCall *contractx.ToolCall
		consumed  bool
		dropped   = make(map[string]bool)
		approved  = make([]contractx.ToolCall, 0, len(in.Plan))
	)
	for _, call := range in.Plan {
		if g.classOf(call) != contractx.ClassCommitment {
			approved = append(approved, call)
			continue
		}
		switch {
		case g.immediate[call.ToolName]:
			call.CommitmentID = g.newID()
			call.Confirmed = true
			dec.Authorized[call.ToolName] = call.CommitmentID
			approved = append(approved, call)
			observe.RecordCommitment(call.ToolName, "immediate")
		case signal == contractx.ConfirmAffirmative && pending != nil && pending.ToolName == call.ToolName && !consumed:
			call.CommitmentID = pending.ID
			call.Confirmed = true
			dec.Authorized[call.ToolName] = call.CommitmentID
			approved = append(approved, call)
			consumed = true
			observe.RecordCommitment(call.ToolName, "approved")
		default:
			dropped[call.ToolName] = true
			dec.Dropped = append(dec.Dropped, call.ToolName)
			if offerCall == nil {
				c := call
				offerCall = &c
				observe.RecordCommitment(call.ToolName, "offered")
			}
		}
	}
	dec.Approved = pruneDependents(approved, dropped)

	now := g.now().UTC()
	switch {
	case offerCall != nil:
		id := g.newID()
		if pending != nil && pending.ToolName == offerCall.ToolName {
			id = pending.ID
		}
		p := &statex.PendingCommitment{
			ID:          id,
			ToolName:    offerCall.ToolName,
			Reason:      g.reasonFor(*offerCall),
			Query:       offerCall.Query,
			OfferedTurn: turn,
			OfferedAt:   now,
		}
		dec.PendingAction, dec.Pending = PendingSet, p
		dec.Offer = &contractx.Offer{ToolName: p.ToolName, Reason: p.Reason, Query: p.Query}
	case consumed:
		dec.PendingAction = PendingClear
	case pending == nil:
	case signal == contractx.ConfirmNegative:
		dec.PendingAction = PendingClear
	case signal == contractx.ConfirmAmbiguous || signal == contractx.ConfirmAffirmative:
		// Not consented or not executable this turn: ask again.
		p := *pending
		p.OfferedTurn, p.OfferedAt = turn, now
		dec.PendingAction, dec.Pending = PendingSet, &p
		dec.Offer = &contractx.Offer{ToolName: p.ToolName, Reason: p.Reason, Query: p.Query}
	default:
		dec.PendingAction = PendingClear
	}
	return dec
}

// Assert re-checks the plan right before execution. Commitment calls without a
// matching authorization are dropped along with anything depending on them.
func (g *Gate) Assert(conversationID string, plan []contractx.ToolCall, dec Decision) []contractx.ToolCall {
	dropped := make(map[string]bool)
	out := make([]contractx.ToolCall, 0, len(plan))
	for _, call := range plan {
		if g.classOf(call) == contractx.ClassCommitment {
			id, ok := dec.Authorized[call.ToolName]
			if !ok || id == "" || id != call.CommitmentID {
				dropped[call.ToolName] = true
				observe.RecordCommitment(call.ToolName, "violation")
				logx.Error().
					Err(fmt.Errorf("%w: %s", contractx.ErrCommitmentViolation, call.ToolName)).
					Str("conversation_id", conversationID).
					Str("tool", call.ToolName).
					Msg("unauthorized commitment dropped before execution")
				continue
			}
		}
		out = append(out, call)
	}
	return pruneDependents(out, dropped)
}

func (g *Gate) classOf(call contractx.ToolCall) contractx.CapabilityClass {
	if c := g.catalog.ClassOf(call.ToolName); c != "" {
		return c
	}
	return call.Class
}

func (g *Gate) reasonFor(call contractx.ToolCall) string {
	if r := strings.TrimSpace(call.Reason); r != "" {
		return r
	}
	if e, ok := g.catalog.Entry(call.ToolName); ok && e.Purpose != "" {
		return e.Purpose
	}
	return call.Query
}

func pruneDependents(plan []contractx.ToolCall, dropped map[string]bool) []contractx.ToolCall {
	if len(dropped) == 0 {
		return plan
	}
	for changed := true; changed; {
		changed = false
		kept := plan[:0:0]
		for _, call := range plan {
			blocked := false
			for _, dep := range call.DependsOn {
				if dropped[dep] {
					blocked = true
					break
				}
			}
			if blocked {
				dropped[call.ToolName] = true
				changed = true
				continue
			}
			kept = append(kept, call)
		}
		plan = kept
	}
	return plan
}
