package orchestrator

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/tanpawarit/Chative-Customer-Support-Agent/agent/analyzer"
	contractx "github.com/tanpawarit/Chative-Customer-Support-Agent/agent/contract"
	"github.com/tanpawarit/Chative-Customer-Support-Agent/agent/gate"
	"github.com/tanpawarit/Chative-Customer-Support-Agent/agent/history"
	nodex "github.com/tanpawarit/Chative-Customer-Support-Agent/agent/nodes"
	"github.com/tanpawarit/Chative-Customer-Support-Agent/agent/scope"
	"github.com/tanpawarit/Chative-Customer-Support-Agent/agent/slot"
	statex "github.com/tanpawarit/Chative-Customer-Support-Agent/agent/state"
	"github.com/tanpawarit/Chative-Customer-Support-Agent/agent/tool"
	"github.com/tanpawarit/Chative-Customer-Support-Agent/pkg/errx"
)

type fakeScopeOracle struct {
	out contractx.ScopeJudgement
}

func (f *fakeScopeOracle) ClassifyScope(ctx context.Context, req contractx.ScopeRequest) (contractx.ScopeJudgement, error) {
	if f.out.Verdict == "" {
		return contractx.ScopeJudgement{Verdict: statex.ScopeInScope}, nil
	}
	return f.out, nil
}

type fakeSlotOracle struct {
	out contractx.SlotJudgement
}

func (f *fakeSlotOracle) ExtractSlots(ctx context.Context, req contractx.SlotRequest) (contractx.SlotJudgement, error) {
	return f.out, nil
}

type fakeAnalysisOracle struct {
	mu       sync.Mutex
	turns    []contractx.OracleAnalysis
	calls    int
	requests []contractx.AnalysisRequest
}

func (f *fakeAnalysisOracle) Analyze(ctx context.Context, req contractx.AnalysisRequest) (contractx.OracleAnalysis, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.calls >= len(f.turns) {
		return contractx.OracleAnalysis{}, errors.New("no scripted analysis")
	}
	out := f.turns[f.calls]
	f.calls++
	return out, nil
}

type fakeResponder struct {
	mu       sync.Mutex
	requests []contractx.SynthesisRequest
}

func (f *fakeResponder) Synthesize(ctx context.Context, req contractx.SynthesisRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	return "reply " + string(req.Route), nil
}

type panickingAnalyzer struct{}

func (panickingAnalyzer) Analyze(ctx context.Context, in analyzer.Input) contractx.AnalysisResult {
	panic("analyzer exploded")
}

type failingStore struct {
	err error
}

func (f failingStore) Load(ctx context.Context, conversationID string) (*statex.ConversationState, error) {
	return nil, f.err
}

func (f failingStore) Save(ctx context.Context, st *statex.ConversationState) error {
	return f.err
}

func (f failingStore) Delete(ctx context.Context, conversationID string) error {
	return f.err
}

type harness struct {
	store      *statex.MemoryStore
	transcript *history.MemoryRepository
	scope      *fakeScopeOracle
	slots      *fakeSlotOracle
	analysis   *fakeAnalysisOracle
	responder  *fakeResponder

	mu    sync.Mutex
	calls map[string]int
	hook  func(name string)

	orch *Orchestrator
}

func newHarness(t *testing.T, turns ...contractx.OracleAnalysis) *harness {
	t.Helper()

	h := &harness{
		store:      statex.NewMemoryStore(),
		transcript: history.NewMemoryRepository(50),
		scope:      &fakeScopeOracle{},
		slots:      &fakeSlotOracle{},
		analysis:   &fakeAnalysisOracle{turns: turns},
		responder:  &fakeResponder{},
		calls:      map[string]int{},
	}

	catalog := tool.DefaultCatalog()
	gateway := tool.NewGateway()
	for _, name := range catalog.Names() {
		gateway.Register(name, tool.HandlerFunc(func(ctx context.Context, req contractx.ToolRequest) (map[string]any, error) {
			h.mu.Lock()
			h.calls[req.ToolName]++
			hook := h.hook
			h.mu.Unlock()
			if hook != nil {
				hook(req.ToolName)
			}
			switch req.ToolName {
			case tool.ToolVerification:
				return map[string]any{"risk_level": "low", "recommendation": "proceed"}, nil
			case tool.ToolRaiseTicket:
				return map[string]any{"ticket_id": "T-1", "status": "open"}, nil
			default:
				return map[string]any{"data": map[string]any{"order_id": req.Inputs[tool.SlotOrderID], "status": "shipped"}}, nil
			}
		}))
	}

	an := analyzer.New(scope.New(h.scope), slot.New(h.slots, catalog, slot.DefaultMaxAsks), h.analysis, catalog)
	orch, err := New(Deps{
		Store:      h.store,
		Transcript: h.transcript,
		Analyzer:   an,
		Gate:       gate.New(catalog, gate.Config{}),
		Executor:   tool.NewExecutor(catalog, gateway, tool.ExecutorConfig{}),
		Responder:  h.responder,
		Catalog:    catalog,
	}, Config{})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}
	h.orch = orch
	return h
}

func (h *harness) callCount(name string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls[name]
}

func TestHandleTurnExecutesInformationalTool(t *testing.T) {
	t.Parallel()

	h := newHarness(t, contractx.OracleAnalysis{
		Language: "en",
		Intent:   "order_status",
		Plan:     []contractx.ProposedCall{{Tool: tool.ToolLiveInformation, Query: "order status"}},
	})
	h.slots.out = contractx.SlotJudgement{Current: map[string]string{tool.SlotOrderID: "12345"}}

	out, err := h.orch.HandleTurn(context.Background(), TurnInput{ConversationID: "c1", Message: "where is order 12345?"})
	if err != nil {
		t.Fatalf("HandleTurn returned error: %v", err)
	}
	if out.Route != contractx.RouteExecuting {
		t.Fatalf("expected executing route, got %q", out.Route)
	}
	if out.Reply != "reply executing" {
		t.Fatalf("unexpected reply %q", out.Reply)
	}
	if got := h.callCount(tool.ToolLiveInformation); got != 1 {
		t.Fatalf("expected one live_information call, got %d", got)
	}
	if len(h.responder.requests) != 1 {
		t.Fatalf("expected one synthesis, got %d", len(h.responder.requests))
	}
	if _, ok := h.responder.requests[0].Aggregate.Facts[tool.ToolLiveInformation]; !ok {
		t.Fatalf("expected live_information fact, got %+v", h.responder.requests[0].Aggregate)
	}

	saved, err := h.store.Load(context.Background(), "c1")
	if err != nil {
		t.Fatalf("expected saved state, got %v", err)
	}
	if v, ok := saved.Known(tool.SlotOrderID); !ok || v != "12345" {
		t.Fatalf("expected order_id to be known, got %q ok=%v", v, ok)
	}
	if saved.TurnIndex != 1 || saved.Phase != statex.PhaseAwaitingInput {
		t.Fatalf("unexpected saved turn=%d phase=%q", saved.TurnIndex, saved.Phase)
	}

	msgs, err := h.transcript.Recent(context.Background(), "c1", 10)
	if err != nil || len(msgs) != 2 {
		t.Fatalf("expected user and assistant transcript entries, got %d err=%v", len(msgs), err)
	}
}

func TestHandleTurnOffersThenRunsCommitment(t *testing.T) {
	t.Parallel()

	h := newHarness(t,
		contractx.OracleAnalysis{
			Language: "en",
			Intent:   "report_missing_parcel",
			Plan:     []contractx.ProposedCall{{Tool: tool.ToolRaiseTicket, Query: "parcel missing", Reason: "courier check"}},
		},
		contractx.OracleAnalysis{
			Language:     "en",
			Intent:       "confirm",
			Confirmation: contractx.Confirmation{Signal: contractx.ConfirmAffirmative, Target: tool.ToolRaiseTicket},
		},
	)
	ctx := context.Background()

	first, err := h.orch.HandleTurn(ctx, TurnInput{ConversationID: "c2", Message: "my parcel never arrived"})
	if err != nil {
		t.Fatalf("first turn returned error: %v", err)
	}
	if got := h.callCount(tool.ToolRaiseTicket); got != 0 {
		t.Fatalf("commitment must not run before confirmation, ran %d times", got)
	}
	if first.State.Pending == nil || first.State.Pending.ToolName != tool.ToolRaiseTicket {
		t.Fatalf("expected pending raise_ticket offer, got %+v", first.State.Pending)
	}
	if offer := h.responder.requests[0].Offer; offer == nil || offer.ToolName != tool.ToolRaiseTicket {
		t.Fatalf("expected reply to carry the offer, got %+v", offer)
	}

	second, err := h.orch.HandleTurn(ctx, TurnInput{ConversationID: "c2", Message: "yes please"})
	if err != nil {
		t.Fatalf("second turn returned error: %v", err)
	}
	if got := h.callCount(tool.ToolRaiseTicket); got != 1 {
		t.Fatalf("expected raise_ticket to run once, ran %d times", got)
	}
	if second.State.Pending != nil {
		t.Fatalf("expected pending offer to be consumed, got %+v", second.State.Pending)
	}
	if second.State.TurnIndex != 2 {
		t.Fatalf("expected turn index 2, got %d", second.State.TurnIndex)
	}
}

func TestHandleTurnRejectsOutOfScope(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.scope.out = contractx.ScopeJudgement{Verdict: statex.ScopeOutOfScope, Topic: "weather"}

	out, err := h.orch.HandleTurn(context.Background(), TurnInput{ConversationID: "c3", Message: "will it rain tomorrow?"})
	if err != nil {
		t.Fatalf("HandleTurn returned error: %v", err)
	}
	if out.Route != contractx.RouteScopeRejected {
		t.Fatalf("expected scope_rejected, got %q", out.Route)
	}
	if h.analysis.calls != 0 {
		t.Fatalf("analysis oracle must not run for out-of-scope turns, ran %d", h.analysis.calls)
	}
	if out.State.Scope.Verdict != statex.ScopeOutOfScope || out.State.Scope.Topic != "weather" {
		t.Fatalf("unexpected scope state %+v", out.State.Scope)
	}
}

func TestHandleTurnAsksForMissingSlot(t *testing.T) {
	t.Parallel()

	h := newHarness(t, contractx.OracleAnalysis{
		Language: "en",
		Intent:   "order_status",
		Plan:     []contractx.ProposedCall{{Tool: tool.ToolLiveInformation, Query: "order status"}},
	})

	out, err := h.orch.HandleTurn(context.Background(), TurnInput{ConversationID: "c4", Message: "where is my order?"})
	if err != nil {
		t.Fatalf("HandleTurn returned error: %v", err)
	}
	if out.Route != contractx.RouteGatheringInfo {
		t.Fatalf("expected gathering_info, got %q", out.Route)
	}
	if h.callCount(tool.ToolLiveInformation) != 0 {
		t.Fatal("tool must not run without its slot")
	}
	if got := out.State.AskCount(tool.SlotOrderID); got != 1 {
		t.Fatalf("expected order_id ask count 1, got %d", got)
	}
}

func TestHandleTurnDegradesOnAnalyzerPanic(t *testing.T) {
	t.Parallel()

	store := statex.NewMemoryStore()
	catalog := tool.DefaultCatalog()
	orch, err := New(Deps{
		Store:     store,
		Analyzer:  panickingAnalyzer{},
		Gate:      gate.New(catalog, gate.Config{}),
		Executor:  tool.NewExecutor(catalog, tool.NewGateway(), tool.ExecutorConfig{}),
		Responder: &fakeResponder{},
		Catalog:   catalog,
	}, Config{})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	out, err := orch.HandleTurn(context.Background(), TurnInput{ConversationID: "c5", Message: "hello"})
	if err != nil {
		t.Fatalf("degraded turn must still reply, got %v", err)
	}
	if !out.Degraded || out.Reply != nodex.FallbackReply {
		t.Fatalf("expected degraded fallback reply, got degraded=%v reply=%q", out.Degraded, out.Reply)
	}
	saved, err := store.Load(context.Background(), "c5")
	if err != nil {
		t.Fatalf("expected degraded turn to save, got %v", err)
	}
	if saved.TurnIndex != 1 {
		t.Fatalf("expected turn index to advance, got %d", saved.TurnIndex)
	}
}

func TestHandleTurnStoreFailure(t *testing.T) {
	t.Parallel()

	cause := errors.New("connection refused")
	catalog := tool.DefaultCatalog()
	orch, err := New(Deps{
		Store:     failingStore{err: cause},
		Analyzer:  panickingAnalyzer{},
		Gate:      gate.New(catalog, gate.Config{}),
		Executor:  tool.NewExecutor(catalog, nil, tool.ExecutorConfig{}),
		Responder: &fakeResponder{},
	}, Config{})
	if err != nil {
		t.Fatalf("New returned error: %v", err)
	}

	_, err = orch.HandleTurn(context.Background(), TurnInput{ConversationID: "c6", Message: "hello"})
	if !errors.Is(err, cause) {
		t.Fatalf("expected store cause, got %v", err)
	}
	if errx.StatusOf(err) != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", errx.StatusOf(err))
	}
	if strings.Contains(errx.UserMessage(err), "refused") {
		t.Fatalf("user message leaks store detail: %q", errx.UserMessage(err))
	}
}

func TestHandleTurnRejectsEmptyMessage(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	_, err := h.orch.HandleTurn(context.Background(), TurnInput{ConversationID: "c7", Message: "   "})
	if !errors.Is(err, ErrInvalidMessage) || !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("expected invalid message, got %v", err)
	}
	if _, err := h.store.Load(context.Background(), "c7"); !errors.Is(err, statex.ErrStateNotFound) {
		t.Fatalf("expected nothing saved, got %v", err)
	}
}

func TestHandleTurnAbandonedBeforeExecution(t *testing.T) {
	t.Parallel()

	h := newHarness(t, contractx.OracleAnalysis{
		Language: "en",
		Intent:   "order_status",
		Plan:     []contractx.ProposedCall{{Tool: tool.ToolLiveInformation}},
	})
	h.slots.out = contractx.SlotJudgement{Current: map[string]string{tool.SlotOrderID: "12345"}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.orch.HandleTurn(ctx, TurnInput{ConversationID: "c8", Message: "order 12345"})
	if !errors.Is(err, contractx.ErrTurnAbandoned) {
		t.Fatalf("expected abandoned turn, got %v", err)
	}
	if h.callCount(tool.ToolLiveInformation) != 0 {
		t.Fatal("no tool may run for a turn abandoned before execution")
	}
	if _, err := h.store.Load(context.Background(), "c8"); !errors.Is(err, statex.ErrStateNotFound) {
		t.Fatalf("expected nothing saved, got %v", err)
	}
}

func TestHandleTurnAbandonedAfterExecutionKeepsOutcome(t *testing.T) {
	t.Parallel()

	h := newHarness(t, contractx.OracleAnalysis{
		Language: "en",
		Intent:   "order_status",
		Plan:     []contractx.ProposedCall{{Tool: tool.ToolLiveInformation}},
	})
	h.slots.out = contractx.SlotJudgement{Current: map[string]string{tool.SlotOrderID: "12345"}}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.hook = func(string) { cancel() }

	_, err := h.orch.HandleTurn(ctx, TurnInput{ConversationID: "c9", Message: "order 12345"})
	if !errors.Is(err, contractx.ErrTurnAbandoned) {
		t.Fatalf("expected abandoned turn, got %v", err)
	}
	if h.callCount(tool.ToolLiveInformation) != 1 {
		t.Fatal("expected the started tool call to finish")
	}
	if len(h.responder.requests) != 0 {
		t.Fatalf("no reply should be generated, got %d", len(h.responder.requests))
	}
	saved, err := h.store.Load(context.Background(), "c9")
	if err != nil {
		t.Fatalf("expected state to be saved, got %v", err)
	}
	if v, _ := saved.Known(tool.SlotOrderID); v != "12345" {
		t.Fatalf("expected order_id to persist, got %q", v)
	}
}
