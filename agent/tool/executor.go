package tool

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"golang.org/x/sync/errgroup"

	contractx "github.com/tanpawarit/Chative-Customer-Support-Agent/agent/contract"
	"github.com/tanpawarit/Chative-Customer-Support-Agent/agent/observe"
	logx "github.com/tanpawarit/Chative-Customer-Support-Agent/pkg/logger"
)

type ExecutorConfig struct {
	MaxParallel int           `split_words:"true" default:"8"`
	CallTimeout time.Duration `split_words:"true" default:"15s"`
}

// Executor runs an approved plan. Independent calls start together; a call with
// DependsOn waits for those calls and sees their results.
type Executor struct {
	catalog *Catalog
	gateway *Gateway
	cfg     ExecutorConfig
}

func NewExecutor(catalog *Catalog, gateway *Gateway, cfg ExecutorConfig) *Executor {
	if cfg.MaxParallel <= 0 {
		cfg.MaxParallel = 8
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 15 * time.Second
	}
	if gateway == nil {
		gateway = NewGateway()
	}
	return &Executor{catalog: catalog, gateway: gateway, cfg: cfg}
}

type callSlot struct {
	call   contractx.ToolCall
	deps   []int
	done   chan struct{}
	result contractx.ToolResult
}

// Execute never fails as a whole: every call yields exactly one result. Calls run
// detached from ctx cancellation so a client hang-up cannot drop a side effect
// halfway; each call is bounded by CallTimeout instead.
func (e *Executor) Execute(ctx context.Context, conversationID string, plan []contractx.ToolCall) []contractx.ToolResult {
	if len(plan) == 0 {
		return nil
	}
	runCtx := context.WithoutCancel(ctx)

	slots := make([]*callSlot, len(plan))
	index := make(map[string]int, len(plan))
	for i, call := range plan {
		slots[i] = &callSlot{call: call, done: make(chan struct{})}
		if _, dup := index[call.ToolName]; dup {
			slots[i].result = failed(call, e.classOf(call), contractx.ErrorKindExecution, "duplicate call in plan")
			close(slots[i].done)
			continue
		}
		index[call.ToolName] = i
	}

	var missing []int
	for i, s := range slots {
		if isClosed(s.done) {
			continue
		}
		for _, dep := range s.call.DependsOn {
			j, ok := index[dep]
			if !ok {
				missing = append(missing, i)
				break
			}
			s.deps = append(s.deps, j)
		}
	}
	for _, i := range missing {
		s := slots[i]
		s.result = failed(s.call, e.classOf(s.call), contractx.ErrorKindDependencyFailed, "prerequisite is not part of the plan")
		close(s.done)
	}

	order, cyclic := topoOrder(slots)
	for _, i := range cyclic {
		s := slots[i]
		s.result = failed(s.call, e.classOf(s.call), contractx.ErrorKindDependencyCycle, "dependency cycle in plan")
		close(s.done)
	}

	var g errgroup.Group
	g.SetLimit(e.cfg.MaxParallel)
	for _, i := range order {
		s := slots[i]
		g.Go(func() error {
			defer close(s.done)
			s.result = e.runSlot(runCtx, conversationID, s, slots)
			return nil
		})
	}
	_ = g.Wait()

	out := make([]contractx.ToolResult, len(slots))
	for i, s := range slots {
		out[i] = s.result
		observe.RecordToolCall(s.result.ToolName, string(s.result.Status), string(s.result.ErrorKind), s.result.Duration)
	}
	return out
}

func (e *Executor) runSlot(ctx context.Context, conversationID string, s *callSlot, slots []*callSlot) contractx.ToolResult {
	call := s.call
	class := e.classOf(call)

	prereqs := make(map[string]contractx.ToolResult, len(s.deps))
	for _, j := range s.deps {
		<-slots[j].done
		dep := slots[j].result
		if !dep.OK() {
			return failed(call, class, contractx.ErrorKindDependencyFailed,
				fmt.Sprintf("prerequisite %s failed: %s", dep.ToolName, dep.ErrorKind))
		}
		prereqs[dep.ToolName] = dep
	}

	entry, known := e.catalog.Entry(call.ToolName)
	if !known {
		return failed(call, class, contractx.ErrorKindUnavailable, "tool is not in the catalog")
	}
	if entry.Guard != nil {
		if err := entry.Guard(prereqs); err != nil {
			return failed(call, class, contractx.ErrorKindDependencyFailed, err.Error())
		}
	}

	req := contractx.ToolRequest{
		ConversationID: conversationID,
		CommitmentID:   call.CommitmentID,
		ToolName:       call.ToolName,
		Query:          call.Query,
		Inputs:         call.Inputs,
		Prerequisites:  prereqs,
	}

	start := time.Now()
	payload, err := e.invoke(ctx, e.gateway.Handler(call.ToolName), req)
	took := time.Since(start)

	if err != nil {
		kind := contractx.ErrorKindExecution
		switch {
		case errors.Is(err, contractx.ErrToolTimeout):
			kind = contractx.ErrorKindTimeout
		case errors.Is(err, contractx.ErrToolUnavailable):
			kind = contractx.ErrorKindUnavailable
		}
		logx.Warn().Err(err).
			Str("conversation_id", conversationID).
			Str("tool", call.ToolName).
			Str("error_kind", string(kind)).
			Dur("took", took).
			Msg("tool call failed")
		res := failed(call, class, kind, err.Error())
		res.Duration = took
		return res
	}

	logx.Debug().Str("conversation_id", conversationID).Str("tool", call.ToolName).Dur("took", took).Msg("tool call succeeded")
	return contractx.ToolResult{
		ToolName: call.ToolName,
		Class:    class,
		Status:   contractx.ToolSuccess,
		Payload:  payload,
		Duration: took,
	}
}

type invokeOutcome struct {
	payload map[string]any
	err     error
}

// invoke enforces the per-call timeout even when a handler ignores its context.
func (e *Executor) invoke(ctx context.Context, h contractx.ToolHandler, req contractx.ToolRequest) (map[string]any, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	defer cancel()

	ch := make(chan invokeOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				logx.Error().Str("tool", req.ToolName).Interface("panic", r).Bytes("stack", debug.Stack()).Msg("tool handler panicked")
				ch <- invokeOutcome{err: fmt.Errorf("%w: handler panic: %v", contractx.ErrToolExecution, r)}
			}
		}()
		payload, err := h.Execute(callCtx, req)
		ch <- invokeOutcome{payload: payload, err: err}
	}()

	select {
	case out := <-ch:
		if out.err != nil && errors.Is(out.err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", contractx.ErrToolTimeout, out.err)
		}
		return out.payload, out.err
	case <-callCtx.Done():
		return nil, fmt.Errorf("%w: after %s", contractx.ErrToolTimeout, e.cfg.CallTimeout)
	}
}

func (e *Executor) classOf(call contractx.ToolCall) contractx.CapabilityClass {
	if c := e.catalog.ClassOf(call.ToolName); c != "" {
		return c
	}
	return call.Class
}

func failed(call contractx.ToolCall, class contractx.CapabilityClass, kind contractx.ErrorKind, msg string) contractx.ToolResult {
	return contractx.ToolResult{
		ToolName:  call.ToolName,
		Class:     class,
		Status:    contractx.ToolFailure,
		ErrorKind: kind,
		Error:     msg,
	}
}

// topoOrder returns runnable slots with prerequisites first, plus the slots
// caught in a cycle. Slots whose done channel is already closed are skipped.
func topoOrder(slots []*callSlot) (order []int, cyclic []int) {
	indegree := make([]int, len(slots))
	dependents := make([][]int, len(slots))
	pending := 0
	for i, s := range slots {
		if isClosed(s.done) {
			continue
		}
		pending++
		for _, j := range s.deps {
			if isClosed(slots[j].done) {
				continue
			}
			indegree[i]++
			dependents[j] = append(dependents[j], i)
		}
	}

	queue := make([]int, 0, len(slots))
	for i, s := range slots {
		if !isClosed(s.done) && indegree[i] == 0 {
			queue = append(queue, i)
		}
	}
	for len(queue) > 0 {
		i := queue[0]
		queue = queue[1:]
		order = append(order, i)
		for _, d := range dependents[i] {
			indegree[d]--
			if indegree[d] == 0 {
				queue = append(queue, d)
			}
		}
	}
	if len(order) == pending {
		return order, nil
	}

	placed := make(map[int]bool, len(order))
	for _, i := range order {
		placed[i] = true
	}
	for i, s := range slots {
		if !isClosed(s.done) && !placed[i] {
			cyclic = append(cyclic, i)
		}
	}
	return order, cyclic
}

func isClosed(ch chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

var _ contractx.ToolExecutor = (*Executor)(nil)
