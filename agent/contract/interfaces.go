package contract

import (
	"context"

	"github.com/cloudwego/eino/schema"
)

// ScopeOracle decides whether a message belongs to the supported support domain.
type ScopeOracle interface {
	ClassifyScope(ctx context.Context, req ScopeRequest) (ScopeJudgement, error)
}

// SlotOracle reads slot values, refusals and help requests out of free text.
type SlotOracle interface {
	ExtractSlots(ctx context.Context, req SlotRequest) (SlotJudgement, error)
}

type AnalysisOracle interface {
	Analyze(ctx context.Context, req AnalysisRequest) (OracleAnalysis, error)
}

type ResponseOracle interface {
	Synthesize(ctx context.Context, req SynthesisRequest) (string, error)
}

// ToolHandler performs one external tool call.
type ToolHandler interface {
	Execute(ctx context.Context, req ToolRequest) (map[string]any, error)
}

// ToolExecutor runs an approved plan and returns one result per call, in plan order.
type ToolExecutor interface {
	Execute(ctx context.Context, conversationID string, plan []ToolCall) []ToolResult
}

// TranscriptStore keeps the visible message history of a conversation.
type TranscriptStore interface {
	Recent(ctx context.Context, conversationID string, limit int) ([]*schema.Message, error)
	Append(ctx context.Context, conversationID string, msgs ...*schema.Message) error
}
