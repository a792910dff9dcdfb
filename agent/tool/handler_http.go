package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	contractx "github.com/tanpawarit/Chative-Customer-Support-Agent/agent/contract"
)

const maxToolResponseBytes = 2 << 20

type HTTPConfig struct {
	// Endpoints maps tool name to URL, e.g. "live_information=https://...,knowledge_base=https://...".
	Endpoints map[string]string `split_words:"true"`
	Token     string            `split_words:"true"`
	Timeout   time.Duration     `split_words:"true" default:"10s"`
}

// HTTPHandler posts the tool request as JSON and expects a JSON object back.
type HTTPHandler struct {
	endpoint   string
	token      string
	httpClient *http.Client
}

func NewHTTPHandler(endpoint, token string, client *http.Client) (*HTTPHandler, error) {
	endpoint = strings.TrimSpace(endpoint)
	if _, err := url.ParseRequestURI(endpoint); err != nil {
		return nil, fmt.Errorf("invalid tool endpoint %q: %w", endpoint, err)
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPHandler{endpoint: endpoint, token: strings.TrimSpace(token), httpClient: client}, nil
}

func (h *HTTPHandler) Execute(ctx context.Context, req contractx.ToolRequest) (map[string]any, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal tool request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build tool request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if h.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+h.token)
	}

	resp, err := h.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", contractx.ErrToolTimeout, err)
		}
		return nil, fmt.Errorf("%w: %v", contractx.ErrToolExecution, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxToolResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read tool response: %w", err)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusServiceUnavailable:
		return nil, fmt.Errorf("%w: status=%d", contractx.ErrToolUnavailable, resp.StatusCode)
	case resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices:
		return nil, fmt.Errorf("%w: status=%d body=%s", contractx.ErrToolExecution, resp.StatusCode, string(raw))
	}

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, fmt.Errorf("%w: decode tool response: %v", contractx.ErrToolExecution, err)
	}
	if errMsg, ok := payload["error"].(string); ok && errMsg != "" {
		return nil, fmt.Errorf("%w: %s", contractx.ErrToolExecution, errMsg)
	}
	return payload, nil
}
