package contract

import (
	"time"

	"github.com/cloudwego/eino/schema"
	statex "github.com/tanpawarit/Chative-Customer-Support-Agent/agent/state"
)

type CapabilityClass string

const (
	ClassInformational CapabilityClass = "informational"
	ClassCommitment    CapabilityClass = "commitment"
)

const (
	// IntentUnclassified marks an analysis that could not be trusted.
	IntentUnclassified = "unclassified"

	AttachmentImage = "image"
)

type Attachment struct {
	Kind     string `json:"kind"`
	URL      string `json:"url"`
	MimeType string `json:"mime_type,omitempty"`
}

type Sentiment struct {
	Emotion   string `json:"emotion"`
	Intensity string `json:"intensity"`
	Urgency   string `json:"urgency"`
}

type ConfirmationSignal string

const (
	ConfirmAffirmative ConfirmationSignal = "affirmative"
	ConfirmNegative    ConfirmationSignal = "negative"
	ConfirmAmbiguous   ConfirmationSignal = "ambiguous"
	ConfirmNone        ConfirmationSignal = "none"
)

// Confirmation is the oracle's reading of how the message answers a pending offer.
type Confirmation struct {
	Signal ConfirmationSignal `json:"signal"`
	Target string             `json:"target,omitempty"`
}

/* ------------------------------ oracle I/O ------------------------------ */

type ScopeRequest struct {
	Message         string
	History         []*schema.Message
	PreviousVerdict statex.ScopeVerdict
	PreviousTopic   string
}

type ScopeJudgement struct {
	Verdict statex.ScopeVerdict `json:"verdict"`
	Topic   string              `json:"topic,omitempty"`
}

type SlotRequest struct {
	Message string
	History []*schema.Message
	Slots   []string
	Known   map[string]string
}

type SlotJudgement struct {
	// Current holds values stated in the current message.
	Current map[string]string `json:"current,omitempty"`
	// FromHistory holds values found in earlier turns.
	FromHistory   map[string]string `json:"from_history,omitempty"`
	Refused       []string          `json:"refused,omitempty"`
	HelpRequested []string          `json:"help_requested,omitempty"`
}

type AnalysisRequest struct {
	Message      string
	History      []*schema.Message
	KnownSlots   map[string]string
	RefusedSlots []string
	Pending      *statex.PendingCommitment
	Attachments  []Attachment
	Tools        []*schema.ToolInfo
}

type ProposedCall struct {
	Tool   string `json:"tool"`
	Query  string `json:"query"`
	Reason string `json:"reason,omitempty"`
}

// OracleAnalysis is the strict shape expected back from the analysis oracle.
type OracleAnalysis struct {
	Language             string         `json:"language"`
	Intent               string         `json:"intent"`
	Sentiment            Sentiment      `json:"sentiment"`
	NeedsDeEscalation    bool           `json:"needs_de_escalation"`
	DeEscalationApproach string         `json:"de_escalation_approach,omitempty"`
	NeedsMoreInfo        bool           `json:"needs_more_info"`
	MissingInfo          []string       `json:"missing_info,omitempty"`
	IntentSlots          []string       `json:"intent_slots,omitempty"`
	Plan                 []ProposedCall `json:"tool_plan,omitempty"`
	Confirmation         Confirmation   `json:"confirmation"`
}

/* ------------------------------ analysis -------------------------------- */

type ToolCall struct {
	ToolName string            `json:"tool_name"`
	Class    CapabilityClass   `json:"capability_class"`
	Query    string            `json:"input_query"`
	Reason   string            `json:"reason,omitempty"`
	Inputs   map[string]string `json:"satisfied_inputs,omitempty"`
	// DependsOn lists tools in the same plan that must finish first.
	DependsOn []string `json:"depends_on,omitempty"`
	Confirmed bool     `json:"confirmed,omitempty"`
	// CommitmentID ties an approved commitment to its offer; used for dedup downstream.
	CommitmentID string `json:"commitment_id,omitempty"`
}

type SlotUpdate struct {
	Name       string            `json:"name"`
	Value      string            `json:"value,omitempty"`
	Provenance statex.Provenance `json:"provenance"`
}

type ScopeUpdate struct {
	Verdict statex.ScopeVerdict `json:"verdict"`
	Topic   string              `json:"topic,omitempty"`
	Repeat  bool                `json:"repeat,omitempty"`
}

type AnalysisResult struct {
	Intent               string       `json:"intent"`
	Language             string       `json:"language,omitempty"`
	Sentiment            Sentiment    `json:"sentiment"`
	NeedsDeEscalation    bool         `json:"needs_de_escalation,omitempty"`
	DeEscalationApproach string       `json:"de_escalation_approach,omitempty"`
	Scope                ScopeUpdate  `json:"scope"`
	ScopeDegraded        bool         `json:"scope_degraded,omitempty"`
	NeedsMoreInfo        bool         `json:"needs_more_info"`
	MissingSlots         []string     `json:"missing_slots,omitempty"`
	RefusedSlots         []string     `json:"refused_slots,omitempty"`
	ExhaustedSlots       []string     `json:"exhausted_slots,omitempty"`
	HelpRequested        []string     `json:"help_requested,omitempty"`
	Plan                 []ToolCall   `json:"plan,omitempty"`
	Confirmation         Confirmation `json:"confirmation"`
	Unclassified         bool         `json:"unclassified,omitempty"`
	SlotUpdates          []SlotUpdate `json:"slot_updates,omitempty"`
}

func (a AnalysisResult) OutOfScope() bool {
	return a.Scope.Verdict == statex.ScopeOutOfScope
}

/* -------------------------------- tools --------------------------------- */

type ToolStatus string

const (
	ToolSuccess ToolStatus = "success"
	ToolFailure ToolStatus = "failure"
)

type ErrorKind string

const (
	ErrorKindTimeout          ErrorKind = "timeout"
	ErrorKindDependencyFailed ErrorKind = "dependency_failed"
	ErrorKindUnavailable      ErrorKind = "unavailable"
	ErrorKindExecution        ErrorKind = "execution_error"
	ErrorKindDependencyCycle  ErrorKind = "dependency_cycle"
)

type ToolRequest struct {
	ConversationID string                `json:"conversation_id"`
	CommitmentID   string                `json:"commitment_id,omitempty"`
	ToolName       string                `json:"tool_name"`
	Query          string                `json:"query"`
	Inputs         map[string]string     `json:"inputs,omitempty"`
	Prerequisites  map[string]ToolResult `json:"prerequisites,omitempty"`
}

type ToolResult struct {
	ToolName  string          `json:"tool_name"`
	Class     CapabilityClass `json:"capability_class"`
	Status    ToolStatus      `json:"status"`
	Payload   map[string]any  `json:"payload,omitempty"`
	ErrorKind ErrorKind       `json:"error_kind,omitempty"`
	Error     string          `json:"error,omitempty"`
	Duration  time.Duration   `json:"duration,omitempty"`
}

func (r ToolResult) OK() bool {
	return r.Status == ToolSuccess
}

/* ------------------------------ aggregation ----------------------------- */

type Fact struct {
	Class      CapabilityClass `json:"capability_class"`
	Summary    map[string]any  `json:"summary,omitempty"`
	Highlights []string        `json:"highlights,omitempty"`
}

type Failure struct {
	Class     CapabilityClass `json:"capability_class"`
	ErrorKind ErrorKind       `json:"error_kind"`
	Message   string          `json:"message,omitempty"`
}

type CommitmentStatus string

const (
	CommitmentCompleted CommitmentStatus = "completed"
	CommitmentFailed    CommitmentStatus = "failed"
	CommitmentOffered   CommitmentStatus = "offered"
)

type CommitmentOutcome struct {
	Tool   string           `json:"tool"`
	Status CommitmentStatus `json:"status"`
	Reason string           `json:"reason,omitempty"`
}

type Aggregate struct {
	Facts       map[string]Fact     `json:"facts,omitempty"`
	Failures    map[string]Failure  `json:"failures,omitempty"`
	Commitments []CommitmentOutcome `json:"commitments,omitempty"`
}

/* ------------------------------ synthesis ------------------------------- */

type Route string

const (
	RouteScopeRejected Route = "scope_rejected"
	RouteGatheringInfo Route = "gathering_info"
	RouteExecuting     Route = "executing"
)

// Offer is a commitment the reply must ask the customer to confirm.
type Offer struct {
	ToolName string `json:"tool_name"`
	Reason   string `json:"reason"`
	Query    string `json:"query,omitempty"`
}

type SynthesisRequest struct {
	Message   string
	History   []*schema.Message
	Analysis  AnalysisResult
	Aggregate Aggregate
	Pending   *statex.PendingCommitment
	Offer     *Offer
	Language  string
	Route     Route
	Degraded  bool
}
