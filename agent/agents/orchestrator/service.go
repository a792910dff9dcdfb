package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/compose"
	contractx "github.com/tanpawarit/Chative-Customer-Support-Agent/agent/contract"
	nodex "github.com/tanpawarit/Chative-Customer-Support-Agent/agent/nodes"
	"github.com/tanpawarit/Chative-Customer-Support-Agent/agent/observe"
	statex "github.com/tanpawarit/Chative-Customer-Support-Agent/agent/state"
	"github.com/tanpawarit/Chative-Customer-Support-Agent/agent/tool"
	logx "github.com/tanpawarit/Chative-Customer-Support-Agent/pkg/logger"
)

var (
	ErrInvalidMessage      = nodex.ErrInvalidMessage
	ErrInvalidConversation = nodex.ErrInvalidConversation
)

const defaultHistoryLimit = 20

type Config struct {
	CustomerID   string `envconfig:"CUSTOMER_ID" default:"default-customer"`
	ChannelType  string `envconfig:"CHANNEL_TYPE" default:"chat"`
	HistoryLimit int    `envconfig:"HISTORY_LIMIT" default:"20"`
}

type Deps struct {
	Store      statex.Store
	Locker     statex.Locker
	Transcript contractx.TranscriptStore
	Analyzer   nodex.TurnAnalyzer
	Gate       nodex.CommitmentGate
	Executor   contractx.ToolExecutor
	Responder  contractx.ResponseOracle
	Catalog    *tool.Catalog
}

type TurnInput struct {
	ConversationID string                 `json:"conversation_id"`
	Message        string                 `json:"message"`
	Attachments    []contractx.Attachment `json:"attachments,omitempty"`
}

type TurnOutput struct {
	Reply    string                    `json:"reply"`
	State    *statex.ConversationState `json:"state"`
	Route    contractx.Route           `json:"route,omitempty"`
	Degraded bool                      `json:"degraded,omitempty"`
}

type Orchestrator struct {
	store      statex.Store
	locker     statex.Locker
	transcript contractx.TranscriptStore
	analyzer   nodex.TurnAnalyzer
	gate       nodex.CommitmentGate
	executor   contractx.ToolExecutor
	responder  contractx.ResponseOracle
	catalog    *tool.Catalog

	graphRunner compose.Runnable[nodex.GraphInput, nodex.GraphOutput]

	customerID   string
	channelType  string
	historyLimit int

	now func() time.Time
}

func New(deps Deps, cfg Config) (*Orchestrator, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("state store is required")
	case deps.Analyzer == nil:
		return nil, errors.New("turn analyzer is required")
	case deps.Gate == nil:
		return nil, errors.New("commitment gate is required")
	case deps.Executor == nil:
		return nil, errors.New("tool executor is required")
	case deps.Responder == nil:
		return nil, errors.New("response oracle is required")
	}
	if deps.Locker == nil {
		deps.Locker = statex.NewLocalLocker()
	}
	if deps.Catalog == nil {
		deps.Catalog = tool.DefaultCatalog()
	}

	customerID := strings.TrimSpace(cfg.CustomerID)
	if customerID == "" {
		customerID = "default-customer"
	}
	channelType := strings.TrimSpace(cfg.ChannelType)
	if channelType == "" {
		channelType = "chat"
	}
	historyLimit := cfg.HistoryLimit
	if historyLimit <= 0 {
		historyLimit = defaultHistoryLimit
	}

	o := &Orchestrator{
		store:        deps.Store,
		locker:       deps.Locker,
		transcript:   deps.Transcript,
		analyzer:     deps.Analyzer,
		gate:         deps.Gate,
		executor:     deps.Executor,
		responder:    deps.Responder,
		catalog:      deps.Catalog,
		customerID:   customerID,
		channelType:  channelType,
		historyLimit: historyLimit,
		now:          time.Now,
	}

	graphRunner, err := o.compileHandleTurnGraph(context.Background())
	if err != nil {
		return nil, err
	}
	o.graphRunner = graphRunner

	return o, nil
}

// HandleTurn runs one customer turn to completion. Turns of the same
// conversation are serialized. Once started, the turn runs detached from ctx;
// a cancelled ctx only decides whether the outcome is kept.
func (o *Orchestrator) HandleTurn(ctx context.Context, in TurnInput) (TurnOutput, error) {
	started := time.Now()
	conversationID := strings.TrimSpace(in.ConversationID)

	if conversationID != "" {
		unlock, err := o.locker.Lock(ctx, conversationID)
		if err != nil {
			if ctx.Err() != nil {
				observe.RecordTurn("", "abandoned", time.Since(started))
				return TurnOutput{}, fmt.Errorf("%w: %v", contractx.ErrTurnAbandoned, err)
			}
			observe.RecordTurn("", "error", time.Since(started))
			return TurnOutput{}, fmt.Errorf("lock conversation %s: %w", conversationID, err)
		}
		defer unlock()
	}

	out, err := o.graphRunner.Invoke(context.WithoutCancel(ctx), nodex.GraphInput{
		ConversationID: in.ConversationID,
		Message:        in.Message,
		Attachments:    in.Attachments,
		Inbound:        ctx,
	})
	if err == nil {
		err = out.Err
	}
	if err != nil {
		outcome := "error"
		if out.Abandoned {
			outcome = "abandoned"
		}
		observe.RecordTurn(string(out.Route), outcome, time.Since(started))
		logx.Warn().Err(err).
			Str("conversation_id", conversationID).
			Bool("abandoned", out.Abandoned).
			Msg("turn not completed")
		return TurnOutput{}, err
	}

	outcome := "ok"
	if out.Degraded {
		outcome = "degraded"
	}
	observe.RecordTurn(string(out.Route), outcome, time.Since(started))

	return TurnOutput{
		Reply:    out.Reply,
		State:    out.State,
		Route:    out.Route,
		Degraded: out.Degraded,
	}, nil
}
