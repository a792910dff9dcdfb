package orchestratornode

import (
	"context"
	"errors"
	"fmt"
	"time"

	contractx "github.com/tanpawarit/Chative-Customer-Support-Agent/agent/contract"
	statex "github.com/tanpawarit/Chative-Customer-Support-Agent/agent/state"
	"github.com/tanpawarit/Chative-Customer-Support-Agent/pkg/errx"
)

func LoadOrCreateState(
	ctx context.Context,
	in *GraphState,
	store statex.Store,
	customerID string,
	channelType string,
) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}

	st, err := loadOrCreateState(ctx, store, in.ConversationID, customerID, channelType, in.Now)
	if err != nil {
		in.Abort = errx.WrapStore(err)
		return in, nil
	}
	in.Snapshot = st.Clone()
	st.BeginTurn(in.Now)
	in.State = st
	enterPhase(in, statex.PhaseAnalyzing)
	return in, nil
}

func loadOrCreateState(
	ctx context.Context,
	store statex.Store,
	conversationID string,
	customerID string,
	channelType string,
	now time.Time,
) (*statex.ConversationState, error) {
	st, err := store.Load(ctx, conversationID)
	if err == nil {
		st.EnsureMaps()
		return st, nil
	}
	if !errors.Is(err, statex.ErrStateNotFound) {
		return nil, err
	}

	return statex.NewConversationState(conversationID, customerID, channelType, now), nil
}
