package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openaisdk "github.com/openai/openai-go"
	contractx "github.com/tanpawarit/Chative-Customer-Support-Agent/agent/contract"
	"github.com/tanpawarit/Chative-Customer-Support-Agent/pkg/jsonx"
)

const visionInstruction = `You inspect customer product photos for a support team.
Reply with a single JSON object and nothing else:
{"analysis":{"damage_detected":bool,"damage_type":string,"severity":"none|minor|moderate|severe","description":string,"recommendation":string},
 "ai_detection":{"is_ai_generated":bool,"confidence":number}}`

// VisionHandler runs image_analysis through an OpenAI-compatible vision model.
type VisionHandler struct {
	client *openaisdk.Client
	model  string
}

func NewVisionHandler(client *openaisdk.Client, model string) (*VisionHandler, error) {
	if client == nil {
		return nil, fmt.Errorf("%w: openai client is required", contractx.ErrValidation)
	}
	if strings.TrimSpace(model) == "" {
		return nil, fmt.Errorf("%w: vision model is required", contractx.ErrValidation)
	}
	return &VisionHandler{client: client, model: model}, nil
}

func (h *VisionHandler) Execute(ctx context.Context, req contractx.ToolRequest) (map[string]any, error) {
	imageURL := strings.TrimSpace(req.Inputs[SlotPhotoReference])
	if imageURL == "" {
		return nil, fmt.Errorf("%w: %s is required", contractx.ErrToolExecution, SlotPhotoReference)
	}
	query := strings.TrimSpace(req.Query)
	if query == "" {
		query = "Check this product photo for damage."
	}

	resp, err := h.client.Chat.Completions.New(ctx, openaisdk.ChatCompletionNewParams{
		Model: openaisdk.ChatModel(h.model),
		Messages: []openaisdk.ChatCompletionMessageParamUnion{
			openaisdk.SystemMessage(visionInstruction),
			openaisdk.UserMessage([]openaisdk.ChatCompletionContentPartUnionParam{
				openaisdk.TextContentPart(query),
				openaisdk.ImageContentPart(openaisdk.ChatCompletionContentPartImageImageURLParam{URL: imageURL}),
			}),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: vision request: %v", contractx.ErrToolExecution, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: vision response has no choices", contractx.ErrToolExecution)
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(jsonx.ExtractObject(resp.Choices[0].Message.Content)), &payload); err != nil {
		return nil, fmt.Errorf("%w: decode vision response: %v", contractx.ErrToolExecution, err)
	}
	if _, ok := payload["analysis"].(map[string]any); !ok {
		return nil, fmt.Errorf("%w: vision response has no analysis", contractx.ErrToolExecution)
	}
	return payload, nil
}
