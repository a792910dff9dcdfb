package orchestratornode

import (
	"fmt"

	contractx "github.com/tanpawarit/Chative-Customer-Support-Agent/agent/contract"
	"github.com/tanpawarit/Chative-Customer-Support-Agent/agent/gate"
	statex "github.com/tanpawarit/Chative-Customer-Support-Agent/agent/state"
	logx "github.com/tanpawarit/Chative-Customer-Support-Agent/pkg/logger"
)

type CommitmentGate interface {
	Evaluate(in gate.Input) gate.Decision
	Assert(conversationID string, plan []contractx.ToolCall, dec gate.Decision) []contractx.ToolCall
}

func GateCommitments(in *GraphState, g CommitmentGate) (*GraphState, error) {
	if in == nil || in.State == nil {
		return nil, fmt.Errorf("%w: graph conversation state is nil", contractx.ErrValidation)
	}

	guard(in, "gate_commitments", func() error {
		a := in.Analysis
		if a.OutOfScope() || a.Unclassified {
			// No plan to gate; a pending offer is left for the next turn to settle.
			in.Gate = gate.Decision{PendingAction: gate.PendingKeep}
		} else {
			in.Gate = g.Evaluate(gate.Input{
				ConversationID: in.ConversationID,
				Plan:           a.Plan,
				State:          in.State,
				Message:        in.Message,
				Confirmation:   a.Confirmation,
			})
			in.Gate.Apply(in.State)
		}
		in.Route = routeFor(a, in.Gate)
		return nil
	})

	if in.Degraded {
		return in, nil
	}
	switch in.Route {
	case contractx.RouteScopeRejected:
		enterPhase(in, statex.PhaseScopeRejected)
	case contractx.RouteGatheringInfo:
		enterPhase(in, statex.PhaseGatheringInfo)
	default:
		enterPhase(in, statex.PhaseExecuting)
	}

	logx.Info().
		Str("conversation_id", in.ConversationID).
		Int("turn", in.State.TurnIndex).
		Str("route", string(in.Route)).
		Str("intent", in.Analysis.Intent).
		Int("approved", len(in.Gate.Approved)).
		Str("pending_action", string(in.Gate.PendingAction)).
		Msg("turn routed")
	return in, nil
}

func routeFor(a contractx.AnalysisResult, dec gate.Decision) contractx.Route {
	switch {
	case a.OutOfScope():
		return contractx.RouteScopeRejected
	case a.Unclassified:
		return contractx.RouteGatheringInfo
	case runsCommitment(dec):
		// An authorized commitment has already consumed its offer, so it runs now;
		// the same reply asks for anything still missing.
		return contractx.RouteExecuting
	case a.NeedsMoreInfo:
		return contractx.RouteGatheringInfo
	case len(dec.Approved) == 0 && (len(a.RefusedSlots) > 0 || len(a.ExhaustedSlots) > 0):
		return contractx.RouteGatheringInfo
	default:
		return contractx.RouteExecuting
	}
}

func runsCommitment(dec gate.Decision) bool {
	for _, c := range dec.Approved {
		if id, ok := dec.Authorized[c.ToolName]; ok && id == c.CommitmentID {
			return true
		}
	}
	return false
}
