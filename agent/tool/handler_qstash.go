package tool

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	contractx "github.com/tanpawarit/Chative-Customer-Support-Agent/agent/contract"
	"github.com/tanpawarit/Chative-Customer-Support-Agent/pkg/qstash"
)

// Publisher is the part of the QStash client the dispatch handler needs.
type Publisher interface {
	Publish(ctx context.Context, req qstash.PublishRequest) (qstash.PublishResponse, error)
}

// QStashHandler hands a commitment to a downstream webhook (ticket system, agent
// routing) through QStash, which retries delivery. The reply only confirms the
// dispatch was queued.
type QStashHandler struct {
	publisher   Publisher
	destination string
}

func NewQStashHandler(publisher Publisher, destination string) (*QStashHandler, error) {
	if publisher == nil {
		return nil, fmt.Errorf("%w: qstash publisher is required", contractx.ErrValidation)
	}
	destination = strings.TrimSpace(destination)
	if destination == "" {
		return nil, fmt.Errorf("%w: qstash destination is required", contractx.ErrValidation)
	}
	return &QStashHandler{publisher: publisher, destination: destination}, nil
}

type dispatchMessage struct {
	DispatchID     string            `json:"dispatch_id"`
	ConversationID string            `json:"conversation_id"`
	Tool           string            `json:"tool"`
	Query          string            `json:"query"`
	Inputs         map[string]string `json:"inputs,omitempty"`
}

func (h *QStashHandler) Execute(ctx context.Context, req contractx.ToolRequest) (map[string]any, error) {
	dispatchID := strings.TrimSpace(req.CommitmentID)
	if dispatchID == "" {
		dispatchID = uuid.NewString()
	}

	out, err := h.publisher.Publish(ctx, qstash.PublishRequest{
		Destination: h.destination,
		Body: dispatchMessage{
			DispatchID:     dispatchID,
			ConversationID: req.ConversationID,
			Tool:           req.ToolName,
			Query:          req.Query,
			Inputs:         req.Inputs,
		},
		DeduplicationID: req.ConversationID + ":" + dispatchID,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: qstash publish: %v", contractx.ErrToolExecution, err)
	}

	payload := map[string]any{
		"dispatch_id": dispatchID,
		"message_id":  out.MessageID,
		"status":      "queued",
	}
	switch req.ToolName {
	case ToolRaiseTicket:
		// The ticket number is assigned downstream; only the reference is known here.
		payload["reference"] = dispatchID
	case ToolAssignAgent:
		payload["assignment_id"] = dispatchID
		payload["channel"] = "chat"
	}
	return payload, nil
}
