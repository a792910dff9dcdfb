package orchestratornode

import (
	"context"
	"fmt"
	"net/http"

	contractx "github.com/tanpawarit/Chative-Customer-Support-Agent/agent/contract"
	statex "github.com/tanpawarit/Chative-Customer-Support-Agent/agent/state"
	"github.com/tanpawarit/Chative-Customer-Support-Agent/pkg/errx"
)

// ValidateAndSaveState persists the turn once. A degraded turn keeps only the
// advanced turn counter on top of the state it started from.
func ValidateAndSaveState(
	ctx context.Context,
	in *GraphState,
	store statex.Store,
) (*GraphState, error) {
	if in == nil || in.State == nil {
		return nil, fmt.Errorf("%w: graph conversation state is nil", contractx.ErrValidation)
	}

	if in.Degraded {
		restored := in.Snapshot.Clone()
		if restored == nil {
			restored = statex.NewConversationState(in.State.ConversationID, in.State.CustomerID, in.State.ChannelType, in.Now)
		}
		restored.BeginTurn(in.Now)
		in.State = restored
	} else {
		recordAsks(in)
	}

	enterPhase(in, statex.PhaseAwaitingInput)
	in.State.LastRoute = string(in.Route)
	in.State.Touch(in.Now)
	if err := in.State.Validate(); err != nil {
		in.Abort = errx.New(fmt.Errorf("state validation failed: %w", err), http.StatusInternalServerError, errx.SystemErrorMessage)
		return in, nil
	}
	in.State.Version++
	if err := store.Save(ctx, in.State); err != nil {
		in.Abort = errx.WrapStore(err)
		return in, nil
	}

	return in, nil
}
