package transport

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tanpawarit/Chative-Customer-Support-Agent/agent/agents/orchestrator"
	contractx "github.com/tanpawarit/Chative-Customer-Support-Agent/agent/contract"
	statex "github.com/tanpawarit/Chative-Customer-Support-Agent/agent/state"
	"github.com/tanpawarit/Chative-Customer-Support-Agent/pkg/errx"
	logx "github.com/tanpawarit/Chative-Customer-Support-Agent/pkg/logger"
)

// statusClientClosed is reported for turns the caller abandoned.
const statusClientClosed = 499

type TurnHandler interface {
	HandleTurn(ctx context.Context, in orchestrator.TurnInput) (orchestrator.TurnOutput, error)
}

type turnRequest struct {
	Message     string                 `json:"message"`
	Attachments []contractx.Attachment `json:"attachments,omitempty"`
}

type turnResponse struct {
	ConversationID string                    `json:"conversation_id"`
	Reply          string                    `json:"reply"`
	Route          contractx.Route           `json:"route,omitempty"`
	Degraded       bool                      `json:"degraded,omitempty"`
	State          *statex.ConversationState `json:"state,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// NewRouter exposes the turn endpoint plus health and metrics.
func NewRouter(h TurnHandler) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/v1")
	v1.POST("/conversations/:id/turns", handleTurn(h))
	return router
}

func handleTurn(h TurnHandler) gin.HandlerFunc {
	return func(c *gin.Context) {
		conversationID := strings.TrimSpace(c.Param("id"))

		var req turnRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
			return
		}

		out, err := h.HandleTurn(c.Request.Context(), orchestrator.TurnInput{
			ConversationID: conversationID,
			Message:        req.Message,
			Attachments:    req.Attachments,
		})
		if err != nil {
			status, msg := errorStatus(err)
			if status >= http.StatusInternalServerError {
				logx.Error().Err(err).Str("conversation_id", conversationID).Msg("turn failed")
			}
			c.JSON(status, errorResponse{Error: msg})
			return
		}

		c.JSON(http.StatusOK, turnResponse{
			ConversationID: conversationID,
			Reply:          out.Reply,
			Route:          out.Route,
			Degraded:       out.Degraded,
			State:          out.State,
		})
	}
}

func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, contractx.ErrValidation):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, contractx.ErrTurnAbandoned):
		return statusClientClosed, "turn abandoned"
	default:
		return errx.StatusOf(err), errx.UserMessage(err)
	}
}
