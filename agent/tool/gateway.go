package tool

import (
	"context"
	"fmt"
	"strings"

	contractx "github.com/tanpawarit/Chative-Customer-Support-Agent/agent/contract"
)

// HandlerFunc adapts a function to contract.ToolHandler.
type HandlerFunc func(ctx context.Context, req contractx.ToolRequest) (map[string]any, error)

func (f HandlerFunc) Execute(ctx context.Context, req contractx.ToolRequest) (map[string]any, error) {
	return f(ctx, req)
}

// Gateway maps tool names to handlers. Unregistered tools resolve to Unavailable.
type Gateway struct {
	handlers map[string]contractx.ToolHandler
}

func NewGateway() *Gateway {
	return &Gateway{handlers: make(map[string]contractx.ToolHandler)}
}

// Register binds a handler. It is not safe to call once the gateway is serving.
func (g *Gateway) Register(name string, h contractx.ToolHandler) *Gateway {
	name = strings.TrimSpace(name)
	if name != "" && h != nil {
		g.handlers[name] = h
	}
	return g
}

func (g *Gateway) Handler(name string) contractx.ToolHandler {
	if h, ok := g.handlers[name]; ok {
		return h
	}
	return Unavailable(name)
}

func (g *Gateway) Registered(name string) bool {
	_, ok := g.handlers[name]
	return ok
}

// Unavailable answers every call with contract.ErrToolUnavailable.
func Unavailable(name string) contractx.ToolHandler {
	return HandlerFunc(func(ctx context.Context, req contractx.ToolRequest) (map[string]any, error) {
		return nil, fmt.Errorf("%w: tool=%s", contractx.ErrToolUnavailable, name)
	})
}
