package orchestratornode

import (
	"context"
	"fmt"

	contractx "github.com/tanpawarit/Chative-Customer-Support-Agent/agent/contract"
	"github.com/tanpawarit/Chative-Customer-Support-Agent/agent/observe"
	statex "github.com/tanpawarit/Chative-Customer-Support-Agent/agent/state"
	logx "github.com/tanpawarit/Chative-Customer-Support-Agent/pkg/logger"
)

// FallbackReply is sent when the turn could not be understood or the reply
// could not be generated.
const FallbackReply = "I'm sorry, I had trouble handling that just now. Could you please say it again?"

func SynthesizeReply(
	ctx context.Context,
	in *GraphState,
	oracle contractx.ResponseOracle,
) (*GraphState, error) {
	if in == nil || in.State == nil {
		return nil, fmt.Errorf("%w: graph conversation state is nil", contractx.ErrValidation)
	}
	if inboundGone(in) {
		in.Abandoned = true
		if !in.Executed {
			in.Abort = contractx.ErrTurnAbandoned
		}
		return in, nil
	}
	enterPhase(in, statex.PhaseSynthesizing)

	if in.Degraded || in.Analysis.Unclassified || oracle == nil {
		in.Reply = FallbackReply
		return in, nil
	}

	agg := in.Aggregate
	if offer := in.Gate.Offer; offer != nil {
		agg.Commitments = append(append([]contractx.CommitmentOutcome(nil), agg.Commitments...),
			contractx.CommitmentOutcome{Tool: offer.ToolName, Status: contractx.CommitmentOffered, Reason: offer.Reason})
	}

	reply, err := oracle.Synthesize(ctx, contractx.SynthesisRequest{
		Message:   in.Message,
		History:   in.History,
		Analysis:  in.Analysis,
		Aggregate: agg,
		Pending:   in.State.Pending,
		Offer:     in.Gate.Offer,
		Language:  in.Analysis.Language,
		Route:     in.Route,
		Degraded:  in.Degraded,
	})
	if err != nil {
		observe.RecordOracleFailure("synthesis")
		logx.Warn().Err(err).Str("conversation_id", in.ConversationID).Msg("reply synthesis failed, sending fallback")
		in.Reply = FallbackReply
		return in, nil
	}
	in.Reply = reply
	return in, nil
}
