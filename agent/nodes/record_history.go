package orchestratornode

import (
	"context"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/schema"
	contractx "github.com/tanpawarit/Chative-Customer-Support-Agent/agent/contract"
	logx "github.com/tanpawarit/Chative-Customer-Support-Agent/pkg/logger"
)

// RecordHistory appends the turn to the transcript. Failures are logged; the
// conversation state is already saved.
func RecordHistory(
	ctx context.Context,
	in *GraphState,
	transcript contractx.TranscriptStore,
) (*GraphState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: graph state is nil", contractx.ErrValidation)
	}
	if transcript == nil {
		return in, nil
	}

	msgs := []*schema.Message{schema.UserMessage(userTranscript(in.Message, in.Attachments))}
	if in.Reply != "" && !in.Abandoned {
		msgs = append(msgs, schema.AssistantMessage(in.Reply, nil))
	}
	if err := transcript.Append(ctx, in.ConversationID, msgs...); err != nil {
		logx.Warn().Err(err).Str("conversation_id", in.ConversationID).Msg("append transcript failed")
	}
	return in, nil
}

func userTranscript(message string, atts []contractx.Attachment) string {
	if len(atts) == 0 {
		return message
	}
	var b strings.Builder
	b.WriteString(message)
	for _, a := range atts {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "[%s attached: %s]", a.Kind, a.URL)
	}
	return b.String()
}
