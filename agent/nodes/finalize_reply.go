package orchestratornode

import (
	"fmt"
	"strings"

	contractx "github.com/tanpawarit/Chative-Customer-Support-Agent/agent/contract"
)

func FinalizeReply(in *GraphState) (GraphOutput, error) {
	if in == nil {
		return GraphOutput{}, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}

	out := GraphOutput{
		Route:     in.Route,
		Degraded:  in.Degraded,
		Abandoned: in.Abandoned,
	}
	switch {
	case in.Abort != nil:
		out.Err = in.Abort
		return out, nil
	case in.Abandoned:
		out.State = in.State
		out.Err = contractx.ErrTurnAbandoned
		return out, nil
	}

	out.State = in.State
	out.Reply = strings.TrimSpace(in.Reply)
	if out.Reply == "" {
		out.Reply = FallbackReply
	}
	return out, nil
}
