package orchestratornode

import (
	"context"
	"fmt"

	contractx "github.com/tanpawarit/Chative-Customer-Support-Agent/agent/contract"
	logx "github.com/tanpawarit/Chative-Customer-Support-Agent/pkg/logger"
)

// LoadHistory reads recent transcript messages. A transcript outage only costs
// context, so the turn continues without history.
func LoadHistory(
	ctx context.Context,
	in *GraphState,
	transcript contractx.TranscriptStore,
	limit int,
) (*GraphState, error) {
	if in == nil || in.State == nil {
		return nil, fmt.Errorf("%w: graph conversation state is nil", contractx.ErrValidation)
	}
	if transcript == nil {
		return in, nil
	}

	history, err := transcript.Recent(ctx, in.ConversationID, limit)
	if err != nil {
		logx.Warn().Err(err).Str("conversation_id", in.ConversationID).Msg("transcript unavailable, continuing without history")
		return in, nil
	}
	in.History = history
	return in, nil
}
