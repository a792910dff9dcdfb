package orchestratornode

import (
	"context"
	"fmt"

	"github.com/tanpawarit/Chative-Customer-Support-Agent/agent/analyzer"
	contractx "github.com/tanpawarit/Chative-Customer-Support-Agent/agent/contract"
)

type TurnAnalyzer interface {
	Analyze(ctx context.Context, in analyzer.Input) contractx.AnalysisResult
}

func AnalyzeTurn(
	ctx context.Context,
	in *GraphState,
	a TurnAnalyzer,
) (*GraphState, error) {
	if in == nil || in.State == nil {
		return nil, fmt.Errorf("%w: graph conversation state is nil", contractx.ErrValidation)
	}

	guard(in, "analyze_turn", func() error {
		in.Analysis = a.Analyze(ctx, analyzer.Input{
			ConversationID: in.ConversationID,
			Message:        in.Message,
			History:        in.History,
			State:          in.State,
			Attachments:    in.Attachments,
		})
		return applyAnalysis(in)
	})
	return in, nil
}
