package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ConversationState is the persisted source of truth for one support conversation.
// Slots carry provenance so refusals survive later turns; Pending carries the single
// commitment offer waiting for a yes/no.
type ConversationState struct {
	// Identity
	ConversationID string `json:"conversation_id"`
	CustomerID     string `json:"customer_id,omitempty"`
	ChannelType    string `json:"channel_type,omitempty"`

	Slots     map[string]*SlotValue `json:"slots,omitempty"`
	AskCounts map[string]int        `json:"ask_counts,omitempty"`
	Pending   *PendingCommitment    `json:"pending_commitment,omitempty"`
	Scope     ScopeStatus           `json:"scope_status"`

	TurnIndex int    `json:"turn_index"`
	Phase     Phase  `json:"phase,omitempty"`
	LastRoute string `json:"last_route,omitempty"`
	// Version counts saves; every persisted turn carries a higher value.
	Version int `json:"version"`

	UpdatedAt time.Time `json:"updated_at"`
}

type Provenance string

const (
	ProvidedThisTurn   Provenance = "provided_this_turn"
	CarriedFromHistory Provenance = "carried_from_history"
	Refused            Provenance = "refused"
)

type SlotValue struct {
	Value      string     `json:"value,omitempty"`
	Provenance Provenance `json:"provenance"`
	TurnIndex  int        `json:"turn_index"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

type PendingCommitment struct {
	ID          string    `json:"id"`
	ToolName    string    `json:"tool_name"`
	Reason      string    `json:"reason"`
	Query       string    `json:"query,omitempty"`
	OfferedTurn int       `json:"offered_turn"`
	OfferedAt   time.Time `json:"offered_at"`
}

type ScopeVerdict string

const (
	ScopeInScope    ScopeVerdict = "in_scope"
	ScopeOutOfScope ScopeVerdict = "out_of_scope"
)

type ScopeStatus struct {
	Verdict     ScopeVerdict `json:"verdict"`
	Topic       string       `json:"topic,omitempty"`
	RepeatCount int          `json:"repeat_count,omitempty"`
}

type Phase string

const (
	PhaseAwaitingInput Phase = "AWAITING_INPUT"
	PhaseAnalyzing     Phase = "ANALYZING"
	PhaseScopeRejected Phase = "SCOPE_REJECTED"
	PhaseGatheringInfo Phase = "GATHERING_INFO"
	PhaseExecuting     Phase = "EXECUTING"
	PhaseSynthesizing  Phase = "SYNTHESIZING"
)

var (
	ErrEmptySlotName      = errors.New("slot name is empty")
	ErrRefusedSlotValue   = errors.New("refused slot carries a value")
	ErrInvalidProvenance  = errors.New("invalid slot provenance")
	ErrPendingWithoutTool = errors.New("pending commitment has no tool")
	ErrNegativeCount      = errors.New("negative counter")
)

func NewConversationState(conversationID, customerID, channelType string, now time.Time) *ConversationState {
	return &ConversationState{
		ConversationID: conversationID,
		CustomerID:     customerID,
		ChannelType:    channelType,
		Slots:          make(map[string]*SlotValue, 4),
		AskCounts:      make(map[string]int, 4),
		Scope:          ScopeStatus{Verdict: ScopeInScope},
		Phase:          PhaseAwaitingInput,
		Version:        1,
		UpdatedAt:      now.UTC(),
	}
}

func (s *ConversationState) Touch(now time.Time) {
	s.UpdatedAt = now.UTC()
}

// EnsureMaps makes sure the slot and ask-count maps are initialized.
func (s *ConversationState) EnsureMaps() {
	if s.Slots == nil {
		s.Slots = make(map[string]*SlotValue, 4)
	}
	if s.AskCounts == nil {
		s.AskCounts = make(map[string]int, 4)
	}
	if s.Scope.Verdict == "" {
		s.Scope.Verdict = ScopeInScope
	}
}

// BeginTurn advances the turn counter. Values provided last turn become history.
func (s *ConversationState) BeginTurn(now time.Time) {
	s.EnsureMaps()
	s.TurnIndex++
	for _, v := range s.Slots {
		if v.Provenance == ProvidedThisTurn {
			v.Provenance = CarriedFromHistory
		}
	}
	s.Phase = PhaseAnalyzing
	s.Touch(now)
}

/* ------------------------------ slot rules ------------------------------ */

// ProvideSlot records a value the user stated in the current message. It always
// wins, including over a refusal.
func (s *ConversationState) ProvideSlot(name, value string, now time.Time) {
	name, value = strings.TrimSpace(name), strings.TrimSpace(value)
	if name == "" || value == "" {
		return
	}
	s.EnsureMaps()
	s.Slots[name] = &SlotValue{
		Value:      value,
		Provenance: ProvidedThisTurn,
		TurnIndex:  s.TurnIndex,
		UpdatedAt:  now.UTC(),
	}
}

// CarrySlot records a value recovered from earlier turns. Known and refused
// slots are left alone.
func (s *ConversationState) CarrySlot(name, value string, now time.Time) bool {
	name, value = strings.TrimSpace(name), strings.TrimSpace(value)
	if name == "" || value == "" {
		return false
	}
	s.EnsureMaps()
	if cur, ok := s.Slots[name]; ok && cur != nil {
		return false
	}
	s.Slots[name] = &SlotValue{
		Value:      value,
		Provenance: CarriedFromHistory,
		TurnIndex:  s.TurnIndex,
		UpdatedAt:  now.UTC(),
	}
	return true
}

// RefuseSlot marks a slot the user declined to give. A value provided in this
// same turn takes precedence.
func (s *ConversationState) RefuseSlot(name string, now time.Time) bool {
	name = strings.TrimSpace(name)
	if name == "" {
		return false
	}
	s.EnsureMaps()
	if cur, ok := s.Slots[name]; ok && cur != nil &&
		cur.Provenance == ProvidedThisTurn && cur.TurnIndex == s.TurnIndex {
		return false
	}
	s.Slots[name] = &SlotValue{
		Provenance: Refused,
		TurnIndex:  s.TurnIndex,
		UpdatedAt:  now.UTC(),
	}
	return true
}

// RecordAsk counts a request for the slot. Counts of refused slots are frozen.
func (s *ConversationState) RecordAsk(name string) {
	if name == "" || s.IsRefused(name) {
		return
	}
	s.EnsureMaps()
	s.AskCounts[name]++
}

func (s *ConversationState) AskCount(name string) int {
	if s == nil || s.AskCounts == nil {
		return 0
	}
	return s.AskCounts[name]
}

func (s *ConversationState) Slot(name string) (*SlotValue, bool) {
	if s == nil || s.Slots == nil {
		return nil, false
	}
	v, ok := s.Slots[name]
	return v, ok && v != nil
}

func (s *ConversationState) Known(name string) (string, bool) {
	v, ok := s.Slot(name)
	if !ok || v.Provenance == Refused || v.Value == "" {
		return "", false
	}
	return v.Value, true
}

func (s *ConversationState) IsRefused(name string) bool {
	v, ok := s.Slot(name)
	return ok && v.Provenance == Refused
}

func (s *ConversationState) KnownSlots() map[string]string {
	out := make(map[string]string)
	if s == nil {
		return out
	}
	for name := range s.Slots {
		if v, ok := s.Known(name); ok {
			out[name] = v
		}
	}
	return out
}

func (s *ConversationState) RefusedSlots() []string {
	if s == nil {
		return nil
	}
	var out []string
	for name, v := range s.Slots {
		if v != nil && v.Provenance == Refused {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}

/* -------------------------- pending commitment -------------------------- */

// OfferCommitment records a new offer. Only one offer is pending at a time.
func (s *ConversationState) OfferCommitment(p PendingCommitment) {
	cp := p
	s.Pending = &cp
}

func (s *ConversationState) ClearPending() {
	s.Pending = nil
}

// PendingFor returns the pending offer when it names tool.
func (s *ConversationState) PendingFor(tool string) *PendingCommitment {
	if s == nil || s.Pending == nil || s.Pending.ToolName != tool {
		return nil
	}
	return s.Pending
}

/* ------------------------------ scope rules ----------------------------- */

func (s *ConversationState) MarkInScope() {
	s.Scope = ScopeStatus{Verdict: ScopeInScope}
}

// MarkOutOfScope records an out-of-scope turn. Staying on the same topic (or an
// unnamed one) bumps the repeat counter; a new topic restarts it.
func (s *ConversationState) MarkOutOfScope(topic string) {
	topic = strings.TrimSpace(topic)
	if s.Scope.Verdict == ScopeOutOfScope && (topic == "" || SameTopic(s.Scope.Topic, topic)) {
		s.Scope.RepeatCount++
		if s.Scope.Topic == "" {
			s.Scope.Topic = topic
		}
		return
	}
	s.Scope = ScopeStatus{Verdict: ScopeOutOfScope, Topic: topic}
}

// SameTopic compares topic labels case- and whitespace-insensitively.
func SameTopic(a, b string) bool {
	return strings.EqualFold(strings.Join(strings.Fields(a), " "), strings.Join(strings.Fields(b), " "))
}

/* ------------------------------ validation ------------------------------ */

func (s *ConversationState) Validate() error {
	if s == nil {
		return ErrNilConversationState
	}
	if strings.TrimSpace(s.ConversationID) == "" {
		return ErrInvalidConversation
	}
	for name, v := range s.Slots {
		if name == "" {
			return ErrEmptySlotName
		}
		if v == nil {
			continue
		}
		switch v.Provenance {
		case ProvidedThisTurn, CarriedFromHistory:
		case Refused:
			if v.Value != "" {
				return fmt.Errorf("%w: %s", ErrRefusedSlotValue, name)
			}
		default:
			return fmt.Errorf("%w: %s=%q", ErrInvalidProvenance, name, v.Provenance)
		}
	}
	for name, n := range s.AskCounts {
		if n < 0 {
			return fmt.Errorf("%w: ask_counts[%s]=%d", ErrNegativeCount, name, n)
		}
	}
	if s.Pending != nil && strings.TrimSpace(s.Pending.ToolName) == "" {
		return ErrPendingWithoutTool
	}
	if s.TurnIndex < 0 || s.Scope.RepeatCount < 0 {
		return fmt.Errorf("%w: turn_index=%d repeat_count=%d", ErrNegativeCount, s.TurnIndex, s.Scope.RepeatCount)
	}
	return nil
}

// Clone deep-copies the state.
func (s *ConversationState) Clone() *ConversationState {
	if s == nil {
		return nil
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return nil
	}
	var out ConversationState
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	out.EnsureMaps()
	return &out
}
