package orchestratornode

import (
	"fmt"
	"runtime/debug"

	contractx "github.com/tanpawarit/Chative-Customer-Support-Agent/agent/contract"
	statex "github.com/tanpawarit/Chative-Customer-Support-Agent/agent/state"
	logx "github.com/tanpawarit/Chative-Customer-Support-Agent/pkg/logger"
)

// guard runs a fault-prone step. A panic or error marks the turn degraded: the
// aggregate is emptied and the graph goes straight to synthesis.
func guard(in *GraphState, node string, fn func() error) {
	if in.Degraded {
		return
	}
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
				logx.Error().Str("stack", string(debug.Stack())).Str("node", node).Msg("recovered panic")
			}
		}()
		return fn()
	}()
	if err != nil {
		degrade(in, node, err)
	}
}

func degrade(in *GraphState, node string, err error) {
	in.Degraded = true
	in.Fault = fmt.Errorf("%s: %w", node, err)
	in.Aggregate = contractx.Aggregate{}
	in.Results = nil
	logx.Error().Err(in.Fault).
		Str("conversation_id", in.ConversationID).
		Str("node", node).
		Msg("turn degraded")
}

func enterPhase(in *GraphState, phase statex.Phase) {
	in.Phases = append(in.Phases, phase)
	if in.State != nil {
		in.State.Phase = phase
	}
	logx.Debug().
		Str("conversation_id", in.ConversationID).
		Str("phase", string(phase)).
		Msg("phase")
}

func inboundGone(in *GraphState) bool {
	return in.Inbound != nil && in.Inbound.Err() != nil
}
