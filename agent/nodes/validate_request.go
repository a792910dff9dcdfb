package orchestratornode

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"
	contractx "github.com/tanpawarit/Chative-Customer-Support-Agent/agent/contract"
	"github.com/tanpawarit/Chative-Customer-Support-Agent/agent/gate"
	statex "github.com/tanpawarit/Chative-Customer-Support-Agent/agent/state"
)

var (
	ErrInvalidMessage      = errors.New("message is empty")
	ErrInvalidConversation = errors.New("conversation id is empty")
)

type GraphInput struct {
	ConversationID string
	Message        string
	Attachments    []contractx.Attachment
	// Inbound is the caller's context. The graph itself runs detached from it
	// and only checks it to notice an abandoned turn.
	Inbound context.Context
}

type GraphOutput struct {
	Reply     string
	State     *statex.ConversationState
	Route     contractx.Route
	Degraded  bool
	Abandoned bool
	// Err is set when the turn could not be completed; no state was saved
	// unless Abandoned is also set.
	Err error
}

type GraphState struct {
	ConversationID string
	Message        string
	Attachments    []contractx.Attachment
	Now            time.Time
	Inbound        context.Context

	State    *statex.ConversationState
	Snapshot *statex.ConversationState
	History  []*schema.Message

	Analysis  contractx.AnalysisResult
	Gate      gate.Decision
	Route     contractx.Route
	Results   []contractx.ToolResult
	Aggregate contractx.Aggregate
	Reply     string
	Phases    []statex.Phase

	Degraded  bool
	Fault     error
	Abandoned bool
	Executed  bool
	Abort     error
}

func ValidateRequest(in GraphInput, nowFn func() time.Time) (*GraphState, error) {
	st := &GraphState{
		ConversationID: strings.TrimSpace(in.ConversationID),
		Message:        strings.TrimSpace(in.Message),
		Attachments:    in.Attachments,
		Now:            nowFn().UTC(),
		Inbound:        in.Inbound,
	}
	if st.Inbound == nil {
		st.Inbound = context.Background()
	}

	switch {
	case st.ConversationID == "":
		st.Abort = fmt.Errorf("%w: %w", contractx.ErrValidation, ErrInvalidConversation)
	case st.Message == "" && !hasImage(in.Attachments):
		st.Abort = fmt.Errorf("%w: %w", contractx.ErrValidation, ErrInvalidMessage)
	}
	return st, nil
}

func hasImage(atts []contractx.Attachment) bool {
	for _, a := range atts {
		if a.Kind == contractx.AttachmentImage && strings.TrimSpace(a.URL) != "" {
			return true
		}
	}
	return false
}
