package orchestratornode

import (
	"context"
	"fmt"

	contractx "github.com/tanpawarit/Chative-Customer-Support-Agent/agent/contract"
	logx "github.com/tanpawarit/Chative-Customer-Support-Agent/pkg/logger"
)

// ExecuteTools runs the approved plan after one last commitment check. A turn
// abandoned before this point runs nothing; once started, calls finish even if
// the customer leaves.
func ExecuteTools(
	ctx context.Context,
	in *GraphState,
	g CommitmentGate,
	executor contractx.ToolExecutor,
) (*GraphState, error) {
	if in == nil || in.State == nil {
		return nil, fmt.Errorf("%w: graph conversation state is nil", contractx.ErrValidation)
	}
	if inboundGone(in) {
		in.Abandoned = true
		in.Abort = contractx.ErrTurnAbandoned
		logx.Info().Str("conversation_id", in.ConversationID).Msg("turn abandoned before tool execution")
		return in, nil
	}

	guard(in, "execute_tools", func() error {
		plan := g.Assert(in.ConversationID, in.Gate.Approved, in.Gate)
		if len(plan) == 0 {
			return nil
		}
		in.Executed = true
		in.Results = executor.Execute(ctx, in.ConversationID, plan)
		return nil
	})

	if in.Executed && inboundGone(in) {
		in.Abandoned = true
		logx.Info().Str("conversation_id", in.ConversationID).Int("results", len(in.Results)).Msg("turn abandoned after tool execution")
	}
	return in, nil
}
