package scope

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"
	contractx "github.com/tanpawarit/Chative-Customer-Support-Agent/agent/contract"
	"github.com/tanpawarit/Chative-Customer-Support-Agent/agent/observe"
	statex "github.com/tanpawarit/Chative-Customer-Support-Agent/agent/state"
	logx "github.com/tanpawarit/Chative-Customer-Support-Agent/pkg/logger"
)

type Input struct {
	ConversationID string
	Message        string
	History        []*schema.Message
	State          *statex.ConversationState
}

// Decision is the scope verdict for one turn. Update is what the orchestrator
// applies to ConversationState; the classifier never mutates state itself.
type Decision struct {
	Update contractx.ScopeUpdate
	// Degraded means the oracle failed and the verdict defaulted to in_scope.
	Degraded bool
}

func (d Decision) InScope() bool {
	return d.Update.Verdict != statex.ScopeOutOfScope
}

type Classifier struct {
	oracle contractx.ScopeOracle
}

func New(oracle contractx.ScopeOracle) *Classifier {
	return &Classifier{oracle: oracle}
}

func (c *Classifier) Classify(ctx context.Context, in Input) Decision {
	prev := statex.ScopeStatus{Verdict: statex.ScopeInScope}
	if in.State != nil {
		prev = in.State.Scope
	}

	judgement, err := c.judge(ctx, in, prev)
	if err != nil {
		observe.RecordOracleFailure("scope")
		logx.Warn().Err(err).Str("conversation_id", in.ConversationID).Msg("scope oracle unavailable, defaulting to in_scope")
		return Decision{
			Update:   contractx.ScopeUpdate{Verdict: statex.ScopeInScope},
			Degraded: true,
		}
	}

	if judgement.Verdict == statex.ScopeInScope {
		return Decision{Update: contractx.ScopeUpdate{Verdict: statex.ScopeInScope}}
	}

	topic := strings.TrimSpace(judgement.Topic)
	if prev.Verdict == statex.ScopeOutOfScope && (topic == "" || statex.SameTopic(prev.Topic, topic)) {
		return Decision{Update: contractx.ScopeUpdate{
			Verdict: statex.ScopeOutOfScope,
			Topic:   prev.Topic,
			Repeat:  true,
		}}
	}
	return Decision{Update: contractx.ScopeUpdate{Verdict: statex.ScopeOutOfScope, Topic: topic}}
}

func (c *Classifier) judge(ctx context.Context, in Input, prev statex.ScopeStatus) (contractx.ScopeJudgement, error) {
	if c.oracle == nil {
		return contractx.ScopeJudgement{}, contractx.ErrScopeOracleUnavailable
	}
	j, err := c.oracle.ClassifyScope(ctx, contractx.ScopeRequest{
		Message:         in.Message,
		History:         in.History,
		PreviousVerdict: prev.Verdict,
		PreviousTopic:   prev.Topic,
	})
	if err != nil {
		return contractx.ScopeJudgement{}, fmt.Errorf("%w: %v", contractx.ErrScopeOracleUnavailable, err)
	}
	switch j.Verdict {
	case statex.ScopeInScope, statex.ScopeOutOfScope:
		return j, nil
	default:
		return contractx.ScopeJudgement{}, fmt.Errorf("%w: verdict=%q", contractx.ErrScopeOracleUnavailable, j.Verdict)
	}
}
