package orchestratornode

import (
	"fmt"

	contractx "github.com/tanpawarit/Chative-Customer-Support-Agent/agent/contract"
	statex "github.com/tanpawarit/Chative-Customer-Support-Agent/agent/state"
)

// applyAnalysis merges the analyzer's slot and scope updates into the working
// state. Merge precedence lives on ConversationState.
func applyAnalysis(in *GraphState) error {
	st := in.State
	a := in.Analysis

	switch {
	case a.OutOfScope():
		st.MarkOutOfScope(a.Scope.Topic)
	default:
		st.MarkInScope()
	}

	for _, u := range a.SlotUpdates {
		switch u.Provenance {
		case statex.ProvidedThisTurn:
			st.ProvideSlot(u.Name, u.Value, in.Now)
		case statex.CarriedFromHistory:
			st.CarrySlot(u.Name, u.Value, in.Now)
		case statex.Refused:
			st.RefuseSlot(u.Name, in.Now)
		default:
			return fmt.Errorf("%w: slot %s provenance=%q", statex.ErrInvalidProvenance, u.Name, u.Provenance)
		}
	}
	return nil
}

// recordAsks counts the slots the reply is about to ask for. An executing turn
// asks too when it runs an authorized commitment with slots still missing.
func recordAsks(in *GraphState) {
	switch {
	case in.Analysis.Unclassified:
		return
	case in.Route != contractx.RouteGatheringInfo && in.Route != contractx.RouteExecuting:
		return
	}
	for _, name := range in.Analysis.MissingSlots {
		in.State.RecordAsk(name)
	}
}
