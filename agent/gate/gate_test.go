package gate

import (
	"fmt"
	"testing"
	"time"

	contractx "github.com/tanpawarit/Chative-Customer-Support-Agent/agent/contract"
	statex "github.com/tanpawarit/Chative-Customer-Support-Agent/agent/state"
	"github.com/tanpawarit/Chative-Customer-Support-Agent/agent/tool"
)

func newTestGate(cfg Config) *Gate {
	g := New(tool.DefaultCatalog(), cfg)
	n := 0
	g.newID = func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
	g.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	return g
}

func stateAtTurn(turn int) *statex.ConversationState {
	st := statex.NewConversationState("c1", "", "", time.Now())
	st.TurnIndex = turn
	return st
}

func refundPlan() []contractx.ToolCall {
	return []contractx.ToolCall{
		{ToolName: tool.ToolVerification, Class: contractx.ClassInformational, Query: "check order 123456"},
		{ToolName: tool.ToolOrderAction, Class: contractx.ClassCommitment, Query: "refund order 123456", Reason: "refund the damaged item", DependsOn: []string{tool.ToolVerification}},
	}
}

func names(calls []contractx.ToolCall) []string {
	out := make([]string, 0, len(calls))
	for _, c := range calls {
		out = append(out, c.ToolName)
	}
	return out
}

func TestEvaluateOffersCommitmentWithoutPending(t *testing.T) {
	t.Parallel()

	g := newTestGate(Config{})
	dec := g.Evaluate(Input{Plan: refundPlan(), State: stateAtTurn(3), Message: "I want a refund"})

	if got := names(dec.Approved); len(got) != 1 || got[0] != tool.ToolVerification {
		t.Fatalf("approved = %v", got)
	}
	if dec.PendingAction != PendingSet || dec.Pending == nil {
		t.Fatalf("pending action = %s pending=%+v", dec.PendingAction, dec.Pending)
	}
	if dec.Pending.ToolName != tool.ToolOrderAction || dec.Pending.OfferedTurn != 3 || dec.Pending.Reason != "refund the damaged item" {
		t.Fatalf("pending = %+v", dec.Pending)
	}
	if dec.Offer == nil || dec.Offer.ToolName != tool.ToolOrderAction {
		t.Fatalf("offer = %+v", dec.Offer)
	}
}

func TestEvaluateApprovesConfirmedOffer(t *testing.T) {
	t.Parallel()

	st := stateAtTurn(4)
	st.OfferCommitment(statex.PendingCommitment{ID: "offer-1", ToolName: tool.ToolOrderAction, Reason: "refund", OfferedTurn: 3})

	g := newTestGate(Config{})
	dec := g.Evaluate(Input{
		Plan:         refundPlan(),
		State:        st,
		Message:      "yes please",
		Confirmation: contractx.Confirmation{Signal: contractx.ConfirmAffirmative, Target: tool.ToolOrderAction},
	})

	if got := names(dec.Approved); len(got) != 2 {
		t.Fatalf("approved = %v", got)
	}
	if dec.Approved[1].CommitmentID != "offer-1" || !dec.Approved[1].Confirmed {
		t.Fatalf("commitment call = %+v", dec.Approved[1])
	}
	if dec.PendingAction != PendingClear || dec.Offer != nil {
		t.Fatalf("pending action = %s offer=%+v", dec.PendingAction, dec.Offer)
	}
	if got := g.Assert("c1", dec.Approved, dec); len(got) != 2 {
		t.Fatalf("assert dropped approved calls: %v", names(got))
	}
}

func TestEvaluatePendingTransitions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		offeredTurn int
		message     string
		conf        contractx.Confirmation
		wantSignal  contractx.ConfirmationSignal
		wantAction  PendingAction
		wantOffered bool
	}{
		{"stale yes re-offers", 1, "yes", contractx.Confirmation{Signal: contractx.ConfirmAffirmative, Target: tool.ToolOrderAction}, contractx.ConfirmAmbiguous, PendingSet, true},
		{"other target re-offers", 3, "yes", contractx.Confirmation{Signal: contractx.ConfirmAffirmative, Target: tool.ToolRaiseTicket}, contractx.ConfirmAmbiguous, PendingSet, true},
		{"hedged yes re-offers", 3, "maybe later I guess", contractx.Confirmation{Signal: contractx.ConfirmAffirmative}, contractx.ConfirmAmbiguous, PendingSet, true},
		{"negative clears", 3, "no thanks", contractx.Confirmation{Signal: contractx.ConfirmNegative}, contractx.ConfirmNegative, PendingClear, false},
		{"unrelated message lapses", 3, "what is your return policy?", contractx.Confirmation{Signal: contractx.ConfirmNone}, contractx.ConfirmNone, PendingClear, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			st := stateAtTurn(4)
			st.OfferCommitment(statex.PendingCommitment{ID: "offer-1", ToolName: tool.ToolOrderAction, Reason: "refund", OfferedTurn: tt.offeredTurn})

			dec := newTestGate(Config{}).Evaluate(Input{State: st, Message: tt.message, Confirmation: tt.conf})
			if dec.Confirmation != tt.wantSignal || dec.PendingAction != tt.wantAction {
				t.Fatalf("signal=%s action=%s", dec.Confirmation, dec.PendingAction)
			}
			if (dec.Offer != nil) != tt.wantOffered {
				t.Fatalf("offer = %+v", dec.Offer)
			}
			if tt.wantOffered && (dec.Pending.ID != "offer-1" || dec.Pending.OfferedTurn != 4) {
				t.Fatalf("re-offer = %+v", dec.Pending)
			}
			if len(dec.Approved) != 0 {
				t.Fatalf("approved = %v", names(dec.Approved))
			}
		})
	}
}

func TestEvaluateImmediateAndSingleOffer(t *testing.T) {
	t.Parallel()

	plan := []contractx.ToolCall{
		{ToolName: tool.ToolRaiseTicket, Query: "investigate courier"},
		{ToolName: tool.ToolAssignAgent, Query: "human please"},
		{ToolName: tool.ToolOrderAction, Query: "refund"},
	}
	dec := newTestGate(Config{}).Evaluate(Input{Plan: plan, State: stateAtTurn(1), Message: "get me a human"})

	if got := names(dec.Approved); len(got) != 1 || got[0] != tool.ToolAssignAgent {
		t.Fatalf("approved = %v", got)
	}
	if dec.Approved[0].CommitmentID == "" || dec.Authorized[tool.ToolAssignAgent] != dec.Approved[0].CommitmentID {
		t.Fatalf("immediate call not authorized: %+v", dec.Approved[0])
	}
	if dec.Offer == nil || dec.Offer.ToolName != tool.ToolRaiseTicket {
		t.Fatalf("offer = %+v", dec.Offer)
	}
	if len(dec.Dropped) != 2 {
		t.Fatalf("dropped = %v", dec.Dropped)
	}
}

func TestConfigImmediateTools(t *testing.T) {
	t.Parallel()

	plan := []contractx.ToolCall{{ToolName: tool.ToolRaiseTicket, Query: "open a ticket"}}
	dec := newTestGate(Config{ImmediateTools: []string{tool.ToolRaiseTicket, tool.ToolKnowledgeBase}}).
		Evaluate(Input{Plan: plan, State: stateAtTurn(1)})
	if len(dec.Approved) != 1 || dec.Offer != nil {
		t.Fatalf("approved=%v offer=%+v", names(dec.Approved), dec.Offer)
	}
}

func TestAssertDropsUnauthorizedCommitments(t *testing.T) {
	t.Parallel()

	g := newTestGate(Config{})
	plan := refundPlan()
	plan[1].CommitmentID = "forged"
	dec := Decision{Authorized: map[string]string{tool.ToolOrderAction: "offer-1"}}

	got := g.Assert("c1", plan, dec)
	if n := names(got); len(n) != 1 || n[0] != tool.ToolVerification {
		t.Fatalf("asserted plan = %v", n)
	}

	chained := []contractx.ToolCall{
		{ToolName: tool.ToolRaiseTicket},
		{ToolName: "follow_up", Class: contractx.ClassInformational, DependsOn: []string{tool.ToolRaiseTicket}},
	}
	if got := g.Assert("c1", chained, Decision{}); len(got) != 0 {
		t.Fatalf("dependent of dropped commitment kept: %v", names(got))
	}
}

func TestApplyPendingAction(t *testing.T) {
	t.Parallel()

	st := stateAtTurn(2)
	Decision{PendingAction: PendingSet, Pending: &statex.PendingCommitment{ID: "x", ToolName: tool.ToolRaiseTicket}}.Apply(st)
	if st.PendingFor(tool.ToolRaiseTicket) == nil {
		t.Fatal("pending not set")
	}
	Decision{PendingAction: PendingKeep}.Apply(st)
	if st.Pending == nil {
		t.Fatal("keep cleared pending")
	}
	Decision{PendingAction: PendingClear}.Apply(st)
	if st.Pending != nil {
		t.Fatal("pending not cleared")
	}
}

func TestLexicalAffirmative(t *testing.T) {
	t.Parallel()

	tests := []struct {
		msg  string
		want bool
	}{
		{"yes", true},
		{"Yes, please do.", true},
		{"ok go ahead", true},
		{"ตกลงครับ", true},
		{"ได้เลยค่ะ", true},
		{"no", false},
		{"not yet", false},
		{"ไม่ได้", false},
		{"wait, yes?", false},
		{"what does a refund take, how many days until the money is back?", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := LexicalAffirmative(tt.msg); got != tt.want {
			t.Errorf("LexicalAffirmative(%q) = %v, want %v", tt.msg, got, tt.want)
		}
	}
}

func TestClassifyConfirmationEmptyTarget(t *testing.T) {
	t.Parallel()

	pending := &statex.PendingCommitment{ID: "p", ToolName: tool.ToolOrderAction, OfferedTurn: 5}
	aff := contractx.Confirmation{Signal: contractx.ConfirmAffirmative}

	if got := ClassifyConfirmation(pending, 6, "yes", aff); got != contractx.ConfirmAffirmative {
		t.Fatalf("plain yes = %s", got)
	}
	if got := ClassifyConfirmation(pending, 6, "I suppose that could be fine", aff); got != contractx.ConfirmAmbiguous {
		t.Fatalf("hedged = %s", got)
	}
	if got := ClassifyConfirmation(pending, 6, "yes", contractx.Confirmation{}); got != contractx.ConfirmAmbiguous {
		t.Fatalf("lexical yes without oracle signal = %s", got)
	}
	if got := ClassifyConfirmation(nil, 6, "yes", aff); got != contractx.ConfirmNone {
		t.Fatalf("no pending = %s", got)
	}
}
