package orchestrator

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/compose"
	contractx "github.com/tanpawarit/Chative-Customer-Support-Agent/agent/contract"
	nodex "github.com/tanpawarit/Chative-Customer-Support-Agent/agent/nodes"
)

const (
	nodeValidateRequest   = "validate_request"
	nodeLoadOrCreateState = "load_or_create_state"
	nodeLoadHistory       = "load_history"
	nodeAnalyzeTurn       = "analyze_turn"
	nodeGateCommitments   = "gate_commitments"
	nodeExecuteTools      = "execute_tools"
	nodeAggregateResults  = "aggregate_results"
	nodeSynthesizeReply   = "synthesize_reply"
	nodeSaveState         = "validate_and_save_state"
	nodeRecordHistory     = "record_history"
	nodeFinalizeReply     = "finalize_reply"
)

func (o *Orchestrator) compileHandleTurnGraph(
	ctx context.Context,
) (compose.Runnable[nodex.GraphInput, nodex.GraphOutput], error) {
	graph := compose.NewGraph[nodex.GraphInput, nodex.GraphOutput]()

	if err := graph.AddLambdaNode(nodeValidateRequest,
		compose.InvokableLambda(func(ctx context.Context, in nodex.GraphInput) (*nodex.GraphState, error) {
			return nodex.ValidateRequest(in, o.now)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node %s: %w", nodeValidateRequest, err)
	}

	steps := []struct {
		name string
		fn   func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error)
	}{
		{nodeLoadOrCreateState, func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.LoadOrCreateState(ctx, in, o.store, o.customerID, o.channelType)
		}},
		{nodeLoadHistory, func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.LoadHistory(ctx, in, o.transcript, o.historyLimit)
		}},
		{nodeAnalyzeTurn, func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.AnalyzeTurn(ctx, in, o.analyzer)
		}},
		{nodeGateCommitments, func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.GateCommitments(in, o.gate)
		}},
		{nodeExecuteTools, func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.ExecuteTools(ctx, in, o.gate, o.executor)
		}},
		{nodeAggregateResults, func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.AggregateResults(in, o.catalog)
		}},
		{nodeSynthesizeReply, func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.SynthesizeReply(ctx, in, o.responder)
		}},
		{nodeSaveState, func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.ValidateAndSaveState(ctx, in, o.store)
		}},
		{nodeRecordHistory, func(ctx context.Context, in *nodex.GraphState) (*nodex.GraphState, error) {
			return nodex.RecordHistory(ctx, in, o.transcript)
		}},
	}
	for _, step := range steps {
		if err := graph.AddLambdaNode(step.name, compose.InvokableLambda(step.fn)); err != nil {
			return nil, fmt.Errorf("add node %s: %w", step.name, err)
		}
	}

	if err := graph.AddLambdaNode(nodeFinalizeReply,
		compose.InvokableLambda(func(ctx context.Context, in *nodex.GraphState) (nodex.GraphOutput, error) {
			return nodex.FinalizeReply(in)
		}),
	); err != nil {
		return nil, fmt.Errorf("add node %s: %w", nodeFinalizeReply, err)
	}

	edges := [][2]string{
		{compose.START, nodeValidateRequest},
		{nodeLoadHistory, nodeAnalyzeTurn},
		{nodeAnalyzeTurn, nodeGateCommitments},
		{nodeAggregateResults, nodeSynthesizeReply},
		{nodeRecordHistory, nodeFinalizeReply},
		{nodeFinalizeReply, compose.END},
	}
	for _, edge := range edges {
		if err := graph.AddEdge(edge[0], edge[1]); err != nil {
			return nil, fmt.Errorf("add edge %s->%s: %w", edge[0], edge[1], err)
		}
	}

	branches := []struct {
		from  string
		next  string
		route func(in *nodex.GraphState) string
	}{
		{nodeValidateRequest, nodeLoadOrCreateState, nil},
		{nodeLoadOrCreateState, nodeLoadHistory, nil},
		{nodeGateCommitments, nodeExecuteTools, routeAfterGate},
		{nodeExecuteTools, nodeAggregateResults, nil},
		{nodeSynthesizeReply, nodeSaveState, nil},
		{nodeSaveState, nodeRecordHistory, nil},
	}
	for _, b := range branches {
		route := b.route
		if route == nil {
			route = continueUnlessAborted(b.next)
		}
		if err := graph.AddBranch(b.from, newBranch(route, b.next)); err != nil {
			return nil, fmt.Errorf("add branch after %s: %w", b.from, err)
		}
	}

	runner, err := graph.Compile(ctx,
		compose.WithGraphName("orchestrator.handle_turn"),
		compose.WithNodeTriggerMode(compose.AnyPredecessor),
	)
	if err != nil {
		return nil, fmt.Errorf("compile orchestrator graph: %w", err)
	}
	return runner, nil
}

func newBranch(route func(in *nodex.GraphState) string, next string) *compose.GraphBranch {
	ends := map[string]bool{
		next:                true,
		nodeSynthesizeReply: true,
		nodeSaveState:       true,
		nodeFinalizeReply:   true,
	}
	return compose.NewGraphBranch(func(ctx context.Context, in *nodex.GraphState) (string, error) {
		return route(in), nil
	}, ends)
}

func continueUnlessAborted(next string) func(in *nodex.GraphState) string {
	return func(in *nodex.GraphState) string {
		switch {
		case in.Abort != nil:
			return nodeFinalizeReply
		case in.Abandoned && next == nodeAggregateResults:
			// Tools ran but nobody is waiting: keep the outcome, skip the reply.
			return nodeSaveState
		default:
			return next
		}
	}
}

// routeAfterGate only reaches execution for a healthy executing turn.
func routeAfterGate(in *nodex.GraphState) string {
	if in.Abort != nil {
		return nodeFinalizeReply
	}
	if in.Degraded || in.Route != contractx.RouteExecuting {
		return nodeSynthesizeReply
	}
	return nodeExecuteTools
}
